package config

import "time"

// DefaultTiers is the standard lead temperature table. Load never applies
// it implicitly; it exists for sample configs and tests.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{Name: "cold", Threshold: 0},
		{Name: "warm", Threshold: 25},
		{Name: "hot", Threshold: 50},
		{Name: "emergency", Threshold: 100},
	}
}

// DefaultCategories returns the built-in point table.
func DefaultCategories() map[string]CategoryConfig {
	return map[string]CategoryConfig{
		"content": {
			Cap: 100,
			Points: map[string]int{
				"militaryUniform":        40,
				"weddingDress":           45,
				"governmentRecords":      35,
				"emergencyResponse":      60,
				"textileRestoration":     30,
				"documentRestoration":    35,
				"artRestoration":         25,
				"electronicsRestoration": 25,
				"multipleContentTypes":   10,
				"uniformTextileCombo":    15,
			},
		},
		"behavior": {
			Points: map[string]int{
				"pageView":          5,
				"multiplePageViews": 10,
				"returnVisitor":     15,
				"extendedHover":     5,
				"timeSpent_30s":     5,
				"timeSpent_2min":    10,
				"timeSpent_3min":    15,
				"timeSpent_5min":    25,
				"scrollDepth_25":    3,
				"scrollDepth_50":    5,
				"scrollDepth_75":    8,
				"scrollDepth_100":   12,
			},
		},
		"intent": {
			Points: map[string]int{
				"emergencyCtaClick": 50,
				"phoneCallClick":    75,
				"contactFormView":   25,
				"contactFormSubmit": 100,
				"afterHoursAccess":  30,
				"weekendAccess":     25,
				"mobileAccess":      15,
			},
		},
		"geography": {
			Points: map[string]int{
				"regionalContent":  15,
				"serviceAreaMatch": 20,
				"focusedRegion":    10,
			},
		},
		"urgency": {
			Points: map[string]int{
				"emergencyKeywords": 40,
				"rapidNavigation":   30,
				"directTraffic":     15,
			},
		},
	}
}

func DefaultTimeBuckets() []TimeBucketConfig {
	return []TimeBucketConfig{
		{AfterSeconds: 30, Key: "timeSpent_30s"},
		{AfterSeconds: 120, Key: "timeSpent_2min"},
		{AfterSeconds: 180, Key: "timeSpent_3min"},
		{AfterSeconds: 300, Key: "timeSpent_5min"},
	}
}

func DefaultClickTargets() map[string]string {
	return map[string]string{
		"emergency_cta": "emergencyCtaClick",
		"phone_link":    "phoneCallClick",
		"contact_form":  "contactFormView",
	}
}

// DefaultStages returns the five descriptive funnel stages.
func DefaultStages() []StageConfig {
	return []StageConfig{
		{
			Name: "awareness", Order: 1, MaxExpected: 6,
			Events: []string{"page_view", "scroll_25", "scroll_50", "scroll_75", "time_30s", "time_60s", "time_120s"},
		},
		{
			Name: "interest", Order: 2, MaxExpected: 10,
			Events: []string{"authority_reversal_hover", "service_card_hover", "hook_point_view", "service_card_extended_hover"},
		},
		{
			Name: "consideration", Order: 3, MaxExpected: 8,
			Events: []string{"authority_reversal_click", "hook_point_click", "funeral_director_focus", "funeral_director_text_selection"},
		},
		{
			Name: "intent", Order: 4, MaxExpected: 6,
			Events: []string{"phone_number_hover", "cta_button_hover", "contact_form_focus"},
		},
		{
			Name: "action", Order: 5, MaxExpected: 3,
			Events: []string{"phone_call", "form_submission", "emergency_cta_click"},
			Values: map[string]int{"phone_call": 50, "form_submission": 30, "emergency_cta_click": 35},
		},
	}
}

// DefaultWorkflows returns the built-in automation catalog.
func DefaultWorkflows() []WorkflowConfig {
	contact := []string{"phone_click", "form_submit", "emergency_cta_click"}
	return []WorkflowConfig{
		{
			ID:           "emergency_cta",
			AutomationID: "EMERGENCY_RESTORATION_RESPONSE",
			Priority:     "immediate",
			SLAWindow:    15 * time.Minute,
			Actions:      []string{"send_emergency_notification", "create_hot_lead_task", "trigger_immediate_callback"},
			CustomFields: map[string]string{"lead_source": "emergency_cta"},
			When:         ConditionConfig{HasInteraction: []string{"emergency_cta_click"}},
		},
		{
			ID:           "emergency_tier",
			AutomationID: "EMERGENCY_RESTORATION_RESPONSE",
			Priority:     "immediate",
			SLAWindow:    15 * time.Minute,
			Actions:      []string{"send_emergency_notification", "trigger_immediate_callback"},
			When:         ConditionConfig{Tier: "emergency"},
		},
		{
			ID:           "hot_lead",
			AutomationID: "HOT_RESTORATION_LEAD",
			Priority:     "high",
			Delay:        15 * time.Minute,
			SLAWindow:    4 * time.Hour,
			Actions:      []string{"send_personal_email", "create_follow_up_task", "schedule_callback"},
			When:         ConditionConfig{MinScore: 60, LacksInteraction: []string{"emergency_cta_click"}},
		},
		{
			ID:        "textile_restoration",
			Priority:  "medium",
			Delay:     2 * time.Hour,
			SLAWindow: 24 * time.Hour,
			Actions:   []string{"send_textile_case_studies", "add_to_textile_nurture"},
			When:      ConditionConfig{ContentTypes: []string{"textileRestoration", "weddingDress", "militaryUniform"}},
		},
		{
			ID:        "document_restoration",
			Priority:  "medium",
			Delay:     2 * time.Hour,
			SLAWindow: 24 * time.Hour,
			Actions:   []string{"send_document_guide", "add_to_document_nurture"},
			When:      ConditionConfig{ContentTypes: []string{"documentRestoration", "governmentRecords"}},
		},
		{
			ID:        "art_restoration",
			Priority:  "medium",
			Delay:     4 * time.Hour,
			SLAWindow: 24 * time.Hour,
			Actions:   []string{"send_art_portfolio", "add_to_art_nurture"},
			When:      ConditionConfig{ContentTypes: []string{"artRestoration"}},
		},
		regional("dc_regional", "DC"),
		regional("va_regional", "VA"),
		regional("md_regional", "MD"),
		{
			ID:        "warm_retargeting",
			Priority:  "low",
			Delay:     7 * 24 * time.Hour,
			SLAWindow: 7 * 24 * time.Hour,
			Actions:   []string{"add_to_retargeting_audience", "send_educational_series"},
			When:      ConditionConfig{MinScore: 30},
		},
		{
			ID:        "abandoned_high_value",
			Priority:  "high",
			Delay:     30 * time.Minute,
			SLAWindow: 2 * time.Hour,
			Actions:   []string{"send_abandonment_email", "create_follow_up_task"},
			When:      ConditionConfig{MinScore: 50, LacksInteraction: contact},
		},
	}
}

func regional(id, region string) WorkflowConfig {
	return WorkflowConfig{
		ID:           id,
		Priority:     "low",
		Delay:        24 * time.Hour,
		SLAWindow:    72 * time.Hour,
		Actions:      []string{"add_to_regional_list", "send_regional_content"},
		CustomFields: map[string]string{"service_region": region},
		When:         ConditionConfig{Regions: []string{region}, MinScore: 20},
	}
}

// DefaultThresholds returns the conversion watchdog thresholds.
func DefaultThresholds() []ThresholdConfig {
	return []ThresholdConfig{
		{Name: "phone_calls_low", Metric: "phone_calls_per_hour", Comparison: "below", Value: 1, Severity: "warning"},
		{Name: "cta_clicks_low", Metric: "cta_clicks_per_hour", Comparison: "below", Value: 5, Severity: "warning"},
		{Name: "authority_interactions_low", Metric: "authority_interactions_per_hour", Comparison: "below", Value: 10, Severity: "info"},
		{Name: "dispatch_failures_high", Metric: "dispatch_failures_per_hour", Comparison: "above", Value: 5, Severity: "critical"},
		{Name: "load_time_critical", Metric: "load_time_ms", Comparison: "above", Value: 1000, Severity: "critical"},
		{Name: "load_time_warning", Metric: "load_time_ms", Comparison: "above", Value: 542, Severity: "warning"},
		{Name: "error_rate_critical", Metric: "error_rate", Comparison: "above", Value: 5, Severity: "critical"},
		{Name: "error_rate_warning", Metric: "error_rate", Comparison: "above", Value: 2, Severity: "warning"},
	}
}

// Default returns a fully populated config including the default tier
// table.
func Default() *Config {
	cfg := &Config{Tiers: DefaultTiers()}
	cfg.ApplyDefaults()
	return cfg
}
