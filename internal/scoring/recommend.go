package scoring

import "github.com/gosight/gosight/leadflow/internal/session"

// Recommendation is the follow-up advice for a classified session.
type Recommendation struct {
	Priority     string   `json:"priority"`
	Action       string   `json:"action"`
	ResponseTime string   `json:"response_time"`
	Channel      string   `json:"channel"`
	Insights     []string `json:"insights,omitempty"`
}

var recommendations = map[string]Recommendation{
	"emergency": {
		Priority:     "IMMEDIATE",
		Action:       "Contact within 15 minutes",
		ResponseTime: "< 15 minutes",
		Channel:      "phone",
	},
	"hot": {
		Priority:     "HIGH",
		Action:       "Personal follow-up call",
		ResponseTime: "< 2 hours",
		Channel:      "phone",
	},
	"warm": {
		Priority:     "MEDIUM",
		Action:       "Send targeted case studies",
		ResponseTime: "< 24 hours",
		Channel:      "email",
	},
}

var coldRecommendation = Recommendation{
	Priority:     "LOW",
	Action:       "Add to nurture sequence",
	ResponseTime: "< 7 days",
	Channel:      "email",
}

// Recommend returns the follow-up advice for the session's tier. Tiers
// without a specific entry get the nurture recommendation.
func Recommend(s *session.Session) Recommendation {
	rec, ok := recommendations[s.Tier]
	if !ok {
		rec = coldRecommendation
	}
	rec.Insights = Insights(s)
	return rec
}

// Insights lists the categories that stand out in the breakdown.
func Insights(s *session.Session) []string {
	var out []string
	if s.Breakdown[session.Content] > 30 {
		out = append(out, "Strong interest in specialized restoration services")
	}
	if s.Breakdown[session.Intent] > 40 {
		out = append(out, "High conversion intent")
	}
	if s.Breakdown[session.Urgency] > 25 {
		out = append(out, "Time-sensitive restoration need")
	}
	if s.Breakdown[session.Geography] > 15 {
		out = append(out, "Local service area visitor")
	}
	if s.HasInteraction("phone_click") {
		out = append(out, "Attempted phone contact")
	}
	return out
}
