package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
	Batch      BatchConfig      `yaml:"batch"`
	Session    SessionConfig    `yaml:"session"`
	Automation AutomationConfig `yaml:"automation"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`

	Scoring   ScoringConfig    `yaml:"scoring"`
	Tiers     []TierConfig     `yaml:"tiers"`
	Funnel    FunnelConfig     `yaml:"funnel"`
	Workflows []WorkflowConfig `yaml:"workflows"`
	Alerts    AlertsConfig     `yaml:"alerts"`
}

// ScoringConfig is the static point table used by the scoring engine.
type ScoringConfig struct {
	Categories        map[string]CategoryConfig `yaml:"categories"`
	ScrollMilestones  []int                     `yaml:"scroll_milestones"`
	TimeBuckets       []TimeBucketConfig        `yaml:"time_buckets"`
	ClickTargets      map[string]string         `yaml:"click_targets"`
	EmergencyKeywords []string                  `yaml:"emergency_keywords"`
	ServiceAreas      []string                  `yaml:"service_areas"`
	ExtendedHoverMs   int64                     `yaml:"extended_hover_ms"`
	RapidNavigation   RapidNavigationConfig     `yaml:"rapid_navigation"`
	BusinessHours     BusinessHoursConfig       `yaml:"business_hours"`
	IgnoreDirect      bool                      `yaml:"ignore_direct_traffic"`
}

type CategoryConfig struct {
	Cap    int            `yaml:"cap"`
	Points map[string]int `yaml:"points"`
}

type TimeBucketConfig struct {
	AfterSeconds int    `yaml:"after_seconds"`
	Key          string `yaml:"key"`
}

type RapidNavigationConfig struct {
	MinPages      int `yaml:"min_pages"`
	MaxAvgSeconds int `yaml:"max_avg_seconds"`
}

// BusinessHoursConfig defines the open window; an hour before Start or
// after End counts as after-hours.
type BusinessHoursConfig struct {
	Start    int    `yaml:"start"`
	End      int    `yaml:"end"`
	Timezone string `yaml:"timezone"`
}

type TierConfig struct {
	Name      string `yaml:"name"`
	Threshold int    `yaml:"threshold"`
}

type FunnelConfig struct {
	Stages []StageConfig `yaml:"stages"`
}

type StageConfig struct {
	Name        string         `yaml:"name"`
	Order       int            `yaml:"order"`
	MaxExpected int            `yaml:"max_expected"`
	Events      []string       `yaml:"events"`
	Values      map[string]int `yaml:"values"`
}

type WorkflowConfig struct {
	ID           string            `yaml:"id"`
	AutomationID string            `yaml:"automation_id"`
	Priority     string            `yaml:"priority"`
	Delay        time.Duration     `yaml:"delay"`
	SLAWindow    time.Duration     `yaml:"sla_window"`
	Actions      []string          `yaml:"actions"`
	CustomFields map[string]string `yaml:"custom_fields"`
	When         ConditionConfig   `yaml:"when"`
}

// ConditionConfig is a conjunction; unset fields do not constrain.
type ConditionConfig struct {
	MinScore         int      `yaml:"min_score"`
	MaxScore         int      `yaml:"max_score"`
	Tier             string   `yaml:"tier"`
	MinTier          string   `yaml:"min_tier"`
	HasInteraction   []string `yaml:"has_interaction"`
	LacksInteraction []string `yaml:"lacks_interaction"`
	ContentTypes     []string `yaml:"content_types"`
	Regions          []string `yaml:"regions"`
	HasRegion        bool     `yaml:"has_region"`
}

type AlertsConfig struct {
	Interval   time.Duration     `yaml:"interval"`
	Window     time.Duration     `yaml:"window"`
	MinElapsed time.Duration     `yaml:"min_elapsed"`
	LogLimit   int               `yaml:"log_limit"`
	Pager      string            `yaml:"pager"` // kafka | webhook | log
	WebhookURL string            `yaml:"webhook_url"`
	Thresholds []ThresholdConfig `yaml:"thresholds"`

	// HotTier and EmergencyTier override the tiers counted by the
	// hot_sessions and emergency_sessions metrics. They default to the
	// two highest tiers.
	HotTier       string `yaml:"hot_tier"`
	EmergencyTier string `yaml:"emergency_tier"`
}

// ThresholdConfig is one alert rule. MinElapsed defaults to
// AlertsConfig.MinElapsed for below comparisons and 0 for above.
type ThresholdConfig struct {
	Name       string        `yaml:"name"`
	Metric     string        `yaml:"metric"`
	Comparison string        `yaml:"comparison"` // below | above
	Value      float64       `yaml:"value"`
	Severity   string        `yaml:"severity"`
	MinElapsed time.Duration `yaml:"min_elapsed"`
}

var validCategories = map[string]bool{
	"content": true, "behavior": true, "intent": true, "geography": true, "urgency": true,
}

var validPriorities = map[string]bool{
	"immediate": true, "high": true, "medium": true, "low": true,
}

var validSeverities = map[string]bool{
	"critical": true, "warning": true, "info": true,
}

// Load reads the YAML file at path, applies defaults and validates the
// result. The tier table has no default and must be present in the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config data after expanding environment variables.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with the built-in rule tables and
// connection settings.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Kafka.ConsumerGroup == "" {
		c.Kafka.ConsumerGroup = "leadflow-engine"
	}
	if c.Batch.Size == 0 {
		c.Batch.Size = 1000
	}
	if c.Batch.FlushInterval == 0 {
		c.Batch.FlushInterval = 5 * time.Second
	}
	if c.ClickHouse.MaxOpenConns == 0 {
		c.ClickHouse.MaxOpenConns = 10
	}
	if c.ClickHouse.MaxIdleConns == 0 {
		c.ClickHouse.MaxIdleConns = 5
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Session.Store == "" {
		c.Session.Store = "memory"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 4 * time.Hour
	}
	if c.Automation.Sink == "" {
		c.Automation.Sink = "log"
	}
	if c.Automation.Timeout == 0 {
		c.Automation.Timeout = 10 * time.Second
	}
	if c.Analytics.Sink == "" {
		c.Analytics.Sink = "none"
	}

	// Scoring defaults
	if len(c.Scoring.Categories) == 0 {
		c.Scoring.Categories = DefaultCategories()
	}
	if len(c.Scoring.ScrollMilestones) == 0 {
		c.Scoring.ScrollMilestones = []int{25, 50, 75, 100}
	}
	if len(c.Scoring.TimeBuckets) == 0 {
		c.Scoring.TimeBuckets = DefaultTimeBuckets()
	}
	if c.Scoring.ClickTargets == nil {
		c.Scoring.ClickTargets = DefaultClickTargets()
	}
	if len(c.Scoring.EmergencyKeywords) == 0 {
		c.Scoring.EmergencyKeywords = []string{"emergency", "urgent", "asap", "flood", "fire", "immediately"}
	}
	if c.Scoring.ExtendedHoverMs == 0 {
		c.Scoring.ExtendedHoverMs = 2000
	}
	if c.Scoring.RapidNavigation.MinPages == 0 {
		c.Scoring.RapidNavigation.MinPages = 3
	}
	if c.Scoring.RapidNavigation.MaxAvgSeconds == 0 {
		c.Scoring.RapidNavigation.MaxAvgSeconds = 60
	}
	if c.Scoring.BusinessHours.Start == 0 && c.Scoring.BusinessHours.End == 0 {
		c.Scoring.BusinessHours.Start = 8
		c.Scoring.BusinessHours.End = 18
	}
	if c.Scoring.BusinessHours.Timezone == "" {
		c.Scoring.BusinessHours.Timezone = "America/New_York"
	}

	if len(c.Funnel.Stages) == 0 {
		c.Funnel.Stages = DefaultStages()
	}
	if c.Workflows == nil {
		c.Workflows = DefaultWorkflows()
	}

	// Alert defaults
	if c.Alerts.Interval == 0 {
		c.Alerts.Interval = time.Minute
	}
	if c.Alerts.Window == 0 {
		c.Alerts.Window = time.Hour
	}
	if c.Alerts.MinElapsed == 0 {
		c.Alerts.MinElapsed = time.Hour
	}
	if c.Alerts.LogLimit == 0 {
		c.Alerts.LogLimit = 1000
	}
	if c.Alerts.Pager == "" {
		c.Alerts.Pager = "log"
	}
	if c.Alerts.Thresholds == nil {
		c.Alerts.Thresholds = DefaultThresholds()
	}
}

// Validate reports the first static misconfiguration found.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return errors.New("tiers: at least one tier is required")
	}
	tiers := make(map[string]bool, len(c.Tiers))
	for i, t := range c.Tiers {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("tiers[%d]: name is required", i)
		}
		if tiers[t.Name] {
			return fmt.Errorf("tiers[%d]: duplicate tier %q", i, t.Name)
		}
		if t.Threshold < 0 {
			return fmt.Errorf("tiers[%d]: threshold must be >= 0", i)
		}
		if i > 0 && t.Threshold <= c.Tiers[i-1].Threshold {
			return fmt.Errorf("tiers[%d]: thresholds must be strictly ascending", i)
		}
		tiers[t.Name] = true
	}

	for name, cat := range c.Scoring.Categories {
		if !validCategories[name] {
			return fmt.Errorf("scoring.categories: unknown category %q", name)
		}
		if cat.Cap < 0 {
			return fmt.Errorf("scoring.categories.%s: cap must be >= 0", name)
		}
	}
	for _, target := range c.Scoring.ClickTargets {
		if _, ok := c.Scoring.Categories["intent"].Points[target]; !ok {
			return fmt.Errorf("scoring.click_targets: intent key %q not defined", target)
		}
	}
	bh := c.Scoring.BusinessHours
	if bh.Start < 0 || bh.End > 23 || bh.Start > bh.End {
		return fmt.Errorf("scoring.business_hours: invalid window %d-%d", bh.Start, bh.End)
	}
	if _, err := time.LoadLocation(bh.Timezone); err != nil {
		return fmt.Errorf("scoring.business_hours.timezone: %w", err)
	}

	orders := make(map[int]bool)
	names := make(map[string]bool)
	for _, s := range c.Funnel.Stages {
		if s.Order < 1 || s.Order > len(c.Funnel.Stages) {
			return fmt.Errorf("funnel stage %q: order %d out of range", s.Name, s.Order)
		}
		if orders[s.Order] || names[s.Name] {
			return fmt.Errorf("funnel stage %q: duplicate stage", s.Name)
		}
		if s.MaxExpected <= 0 {
			return fmt.Errorf("funnel stage %q: max_expected must be > 0", s.Name)
		}
		orders[s.Order] = true
		names[s.Name] = true
	}

	ids := make(map[string]bool)
	for _, w := range c.Workflows {
		if w.ID == "" {
			return errors.New("workflows: id is required")
		}
		if ids[w.ID] {
			return fmt.Errorf("workflows: duplicate id %q", w.ID)
		}
		ids[w.ID] = true
		if !validPriorities[w.Priority] {
			return fmt.Errorf("workflow %q: invalid priority %q", w.ID, w.Priority)
		}
		if w.Delay < 0 {
			return fmt.Errorf("workflow %q: delay must be >= 0", w.ID)
		}
		if w.When.Tier != "" && !tiers[w.When.Tier] {
			return fmt.Errorf("workflow %q: unknown tier %q", w.ID, w.When.Tier)
		}
		if w.When.MinTier != "" && !tiers[w.When.MinTier] {
			return fmt.Errorf("workflow %q: unknown min_tier %q", w.ID, w.When.MinTier)
		}
	}

	for _, name := range []string{c.Alerts.HotTier, c.Alerts.EmergencyTier} {
		if name != "" && !tiers[name] {
			return fmt.Errorf("alerts: unknown tier %q", name)
		}
	}
	for _, t := range c.Alerts.Thresholds {
		if t.Metric == "" {
			return fmt.Errorf("alert threshold %q: metric is required", t.Name)
		}
		if t.Comparison != "below" && t.Comparison != "above" {
			return fmt.Errorf("alert threshold %q: comparison must be below or above", t.Name)
		}
		if !validSeverities[t.Severity] {
			return fmt.Errorf("alert threshold %q: invalid severity %q", t.Name, t.Severity)
		}
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver)
	}
	switch c.Session.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("session.store: unsupported %q", c.Session.Store)
	}
	if c.Session.Store == "redis" && c.Redis.Addr == "" {
		return errors.New("session.store redis requires redis.addr")
	}
	return nil
}
