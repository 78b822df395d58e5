package enricher

import (
	"net"
	"strings"

	"github.com/mssola/useragent"
	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"
)

// Enricher fills in visitor attributes the browser does not send: device
// class, region and page content type.
type Enricher struct {
	geoIP *geoip2.Reader
}

func NewEnricher(geoIPPath string) *Enricher {
	var geoIP *geoip2.Reader
	if geoIPPath != "" {
		var err error
		geoIP, err = geoip2.Open(geoIPPath)
		if err != nil {
			log.Warn().Err(err).Str("path", geoIPPath).Msg("GeoIP database unavailable, region lookup disabled")
		}
	}

	return &Enricher{
		geoIP: geoIP,
	}
}

// Enrich sets top-level device and visitor_region on a raw event when the
// client did not provide them, and derives the page content type from the
// path.
func (e *Enricher) Enrich(event map[string]interface{}, userAgentString, clientIP string) {
	if _, ok := event["device"].(string); !ok && userAgentString != "" {
		event["device"] = DeviceType(userAgentString)
	}

	if _, ok := event["visitor_region"].(string); !ok {
		region := e.Region(clientIP)
		if region == "" {
			region = RegionFromPhone(phoneOf(event))
		}
		if region != "" {
			event["visitor_region"] = region
		}
	}

	attrs := attributesOf(event)
	if _, ok := attrs["content_type"]; !ok {
		path, _ := attrs["path"].(string)
		if path == "" {
			if page, ok := event["page"].(map[string]interface{}); ok {
				path, _ = page["path"].(string)
			}
		}
		if ct := ContentTypeFromPath(path); ct != "" {
			attrs["content_type"] = ct
		}
	}
	if len(attrs) > 0 {
		event["attributes"] = attrs
	}
}

// attributesOf returns the event's attribute map, creating it if needed.
func attributesOf(event map[string]interface{}) map[string]interface{} {
	if m, ok := event["attributes"].(map[string]interface{}); ok {
		return m
	}
	if m, ok := event["payload"].(map[string]interface{}); ok {
		return m
	}
	return make(map[string]interface{})
}

func phoneOf(event map[string]interface{}) string {
	for _, key := range []string{"attributes", "payload"} {
		if m, ok := event[key].(map[string]interface{}); ok {
			if p, ok := m["phone"].(string); ok {
				return p
			}
		}
	}
	return ""
}

// DeviceType classifies a user agent as mobile, bot or desktop.
func DeviceType(userAgentString string) string {
	ua := useragent.New(userAgentString)
	if ua.Mobile() {
		return "mobile"
	}
	if ua.Bot() {
		return "bot"
	}
	return "desktop"
}

// Region looks up the US state or district code of clientIP. It returns
// "" without a GeoIP database, for non-US addresses or on lookup errors.
func (e *Enricher) Region(clientIP string) string {
	if e.geoIP == nil || clientIP == "" {
		return ""
	}
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return ""
	}
	record, err := e.geoIP.City(ip)
	if err != nil {
		log.Debug().Err(err).Str("ip", clientIP).Msg("GeoIP lookup failed")
		return ""
	}
	if record.Country.IsoCode != "US" || len(record.Subdivisions) == 0 {
		return ""
	}
	return record.Subdivisions[0].IsoCode
}

var areaCodes = map[string]string{
	"202": "DC",
	"703": "VA",
	"571": "VA",
	"301": "MD",
	"240": "MD",
}

// RegionFromPhone maps a DC, Virginia or Maryland area code to its region.
// A leading US country code is ignored.
func RegionFromPhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) < 3 {
		return ""
	}
	return areaCodes[d[:3]]
}

var contentPaths = []struct {
	fragment, contentType string
}{
	{"emergency", "emergencyResponse"},
	{"military-uniform", "militaryUniform"},
	{"wedding-dress", "weddingDress"},
	{"government-records", "governmentRecords"},
	{"textile-restoration", "textileRestoration"},
	{"document-restoration", "documentRestoration"},
	{"art-restoration", "artRestoration"},
	{"electronics-restoration", "electronicsRestoration"},
}

// ContentTypeFromPath derives the content type key of a page from its URL
// path.
func ContentTypeFromPath(path string) string {
	path = strings.ToLower(path)
	for _, c := range contentPaths {
		if strings.Contains(path, c.fragment) {
			return c.contentType
		}
	}
	return ""
}

func (e *Enricher) Close() {
	if e.geoIP != nil {
		e.geoIP.Close()
	}
}
