package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gosight/gosight/leadflow/internal/config"
	"github.com/gosight/gosight/leadflow/internal/workflow"
)

const tokenIssuer = "leadflow"

// Claims identify one automation request to the CRM.
type Claims struct {
	WorkflowID string `json:"workflow_id"`
	jwt.RegisteredClaims
}

// request is the body posted to the CRM.
type request struct {
	LocationID string `json:"locationId,omitempty"`
	workflow.Payload
}

// HTTPSink posts payloads to the CRM automation endpoint. Any non-2xx
// response is a delivery failure.
type HTTPSink struct {
	endpoint   string
	token      string
	signingKey []byte
	locationID string
	client     *http.Client
	now        func() time.Time
}

func NewHTTPSink(cfg config.AutomationConfig) *HTTPSink {
	s := &HTTPSink{
		endpoint:   cfg.Endpoint,
		token:      cfg.Token,
		locationID: cfg.LocationID,
		client:     &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
	if cfg.SigningKey != "" {
		s.signingKey = []byte(cfg.SigningKey)
	}
	return s
}

func (s *HTTPSink) Send(ctx context.Context, p workflow.Payload) error {
	body, err := json.Marshal(request{LocationID: s.locationID, Payload: p})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	bearer, err := s.bearer(p)
	if err != nil {
		return err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("automation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("automation request: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// bearer returns a signed per-request token when a signing key is set,
// otherwise the static token.
func (s *HTTPSink) bearer(p workflow.Payload) (string, error) {
	if len(s.signingKey) == 0 {
		return s.token, nil
	}
	now := s.now()
	claims := &Claims{
		WorkflowID: p.WorkflowID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   p.SessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
