package router

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// Facts is everything any template may show. It is built once per
// (incident, event) and shared by every audience; only presentation varies.
type Facts struct {
	IncidentID string
	FamilyKey  string
	Severity   models.Severity
	EventType  models.EventType
	OpenedAt   time.Time
	EventCount int

	// Anomaly-sourced facts.
	Metric    string
	Observed  float64
	Baseline  float64
	Deviation float64
	Trigger   models.Trigger
	Endpoint  string
	ErrorCode string

	// Quality-sourced facts.
	CreativeID      string
	CampaignID      string
	Composite       float64
	Violations      []string
	Recommendations []string
}

// Tags read from anomaly events to enrich IT alerts.
const (
	TagEndpoint  = "endpoint"
	TagErrorCode = "error_code"
	TagCampaign  = "campaign_id"
)

// BuildFacts merges the incident with the event that triggered routing.
func BuildFacts(inc *models.Incident, ev models.Event) Facts {
	f := Facts{
		IncidentID: inc.ID,
		FamilyKey:  inc.FamilyKey,
		Severity:   inc.Severity,
		EventType:  inc.EventType,
		OpenedAt:   inc.OpenedAt,
		EventCount: len(inc.RelatedEvents),
	}
	if a := ev.Anomaly; a != nil {
		f.Metric = a.MetricName
		f.Observed = a.ObservedValue
		f.Baseline = a.Baseline
		f.Deviation = a.Deviation
		f.Trigger = a.Trigger
		f.Endpoint = a.Tags[TagEndpoint]
		f.ErrorCode = a.Tags[TagErrorCode]
		f.CampaignID = a.Tags[TagCampaign]
	}
	if r := ev.Report; r != nil {
		f.CreativeID = r.CreativeID
		f.CampaignID = r.CampaignID
		f.Composite = r.Composite
		f.Violations = r.Violations
		f.Recommendations = r.Recommendations
	}
	return f
}

var titles = map[models.EventType]string{
	models.EventPerformance:     "Pipeline Performance Degradation",
	models.EventQualityBreach:   "Quality Threshold Breach",
	models.EventAPIFailure:      "AI Service API Failure",
	models.EventBrandCompliance: "Brand Compliance Issue",
}

// plainReason is the business-friendly explanation for each event type.
var plainReason = map[models.EventType]string{
	models.EventPerformance:     "High demand is causing temporary processing delays.",
	models.EventQualityBreach:   "Content quality standards were not met and creatives need additional processing.",
	models.EventAPIFailure:      "Our AI content generation partner is experiencing a temporary service interruption.",
	models.EventBrandCompliance: "Content needs review to ensure it follows brand guidelines.",
}

var businessImpact = map[models.EventType]string{
	models.EventPerformance:     "Processing delays may shift campaign timing by 1-3 hours.",
	models.EventQualityBreach:   "Content review and regeneration may delay launch by 1-2 hours.",
	models.EventAPIFailure:      "Campaign launch may be delayed by 2-4 hours, affecting initial engagement.",
	models.EventBrandCompliance: "Content review and approval may delay launch by 1-4 hours.",
}

var remediation = map[models.EventType][]string{
	models.EventPerformance: {
		"Check system resource utilization",
		"Review queue processing efficiency",
		"Consider scaling up AI service capacity",
	},
	models.EventQualityBreach: {
		"Review recent campaign briefs for quality issues",
		"Check AI service API health",
		"Verify input asset quality",
	},
	models.EventAPIFailure: {
		"Check AI service provider status",
		"Verify API key validity and quotas",
		"Confirm client retries use exponential backoff",
	},
	models.EventBrandCompliance: {
		"Review brand compliance rules",
		"Check template quality and consistency",
		"Analyze recent campaign briefs for clarity",
	},
}

func title(t models.EventType) string {
	if s, ok := titles[t]; ok {
		return s
	}
	return "Pipeline Issue"
}

func lookup(m map[models.EventType]string, t models.EventType, fallback string) string {
	if s, ok := m[t]; ok {
		return s
	}
	return fallback
}

// Render produces the subject line and body for one audience. It is a pure
// function of audience and facts.
func Render(aud models.Audience, f Facts) (subject, body string) {
	switch aud {
	case models.AudienceExecutive:
		return renderExecutive(f)
	case models.AudienceClient:
		return renderClient(f)
	case models.AudienceIT:
		return renderIT(f)
	case models.AudienceCreative:
		return renderCreative(f)
	}
	return renderIT(f)
}

func subjectPrefix(s models.Severity) string {
	return "[" + strings.ToUpper(string(s)) + "] "
}

func renderExecutive(f Facts) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Situation: %s\n", lookup(plainReason, f.EventType, "A pipeline issue is under investigation."))
	fmt.Fprintf(&b, "Business impact: %s\n", lookup(businessImpact, f.EventType, "Processing delays may affect the campaign timeline."))
	if f.CampaignID != "" {
		fmt.Fprintf(&b, "Campaign: %s\n", f.CampaignID)
	}
	fmt.Fprintf(&b, "Open since: %s (%d related events)\n", f.OpenedAt.UTC().Format(time.RFC1123), f.EventCount)
	b.WriteString("The technical team has been notified and is working on it.")
	return subjectPrefix(f.Severity) + title(f.EventType) + ": action may be required", b.String()
}

func renderClient(f Facts) (string, string) {
	var b strings.Builder
	b.WriteString("We want to keep you informed about your campaign.\n")
	fmt.Fprintf(&b, "What happened: %s\n", lookup(plainReason, f.EventType, "We are looking into a processing issue."))
	fmt.Fprintf(&b, "Expected impact: %s\n", lookup(businessImpact, f.EventType, "Some deliverables may arrive later than planned."))
	b.WriteString("We will update you as soon as it is resolved.")

	subject := "Update on your campaign"
	if f.CampaignID != "" {
		subject += " " + f.CampaignID
	}
	return subject, b.String()
}

func renderIT(f Facts) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident: %s (%s)\n", f.IncidentID, f.FamilyKey)
	fmt.Fprintf(&b, "Severity: %s  Type: %s  Events: %d\n", f.Severity, f.EventType, f.EventCount)
	if f.Metric != "" {
		fmt.Fprintf(&b, "Metric: %s observed=%.4g baseline=%.4g deviation=%.2fσ trigger=%s\n",
			f.Metric, f.Observed, f.Baseline, f.Deviation, f.Trigger)
	}
	if f.Endpoint != "" {
		fmt.Fprintf(&b, "Endpoint: %s\n", f.Endpoint)
	}
	if f.ErrorCode != "" {
		fmt.Fprintf(&b, "Error code: %s\n", f.ErrorCode)
	}
	if f.CreativeID != "" {
		fmt.Fprintf(&b, "Creative: %s composite=%.2f\n", f.CreativeID, f.Composite)
	}
	writeList(&b, "Violations", f.Violations)
	writeList(&b, "Remediation", remediation[f.EventType])

	subject := subjectPrefix(f.Severity) + title(f.EventType)
	if f.Metric != "" {
		subject += " on " + f.Metric
	}
	return subject, strings.TrimRight(b.String(), "\n")
}

func renderCreative(f Facts) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", lookup(plainReason, f.EventType, "Creative output needs attention."))
	if f.CreativeID != "" {
		fmt.Fprintf(&b, "Creative %s scored %.2f.\n", f.CreativeID, f.Composite)
	}
	if f.Metric != "" {
		fmt.Fprintf(&b, "%s is at %.4g against a typical %.4g.\n", f.Metric, f.Observed, f.Baseline)
	}
	writeList(&b, "Issues", f.Violations)
	writeList(&b, "Suggestions", creativeSuggestions(f))
	return subjectPrefix(f.Severity) + title(f.EventType) + " in creative output", strings.TrimRight(b.String(), "\n")
}

// creativeSuggestions prefers the report's own recommendations.
func creativeSuggestions(f Facts) []string {
	if len(f.Recommendations) > 0 {
		return f.Recommendations
	}
	switch f.EventType {
	case models.EventBrandCompliance, models.EventQualityBreach:
		return remediation[f.EventType]
	}
	return nil
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "  - %s\n", it)
	}
}

// sortedAudiences orders audiences for deterministic routing.
func sortedAudiences(in []models.Audience) []models.Audience {
	out := append([]models.Audience(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
