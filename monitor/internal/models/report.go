package models

import "time"

// Criterion names one scored dimension of a QualityReport.
type Criterion string

const (
	CriterionTechnical     Criterion = "technical"
	CriterionBrand         Criterion = "brand"
	CriterionContentSafety Criterion = "content_safety"
	CriterionVisual        Criterion = "visual"
)

type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// Scores holds one value in [0,1] per criterion.
type Scores struct {
	Technical     float64 `json:"technical"`
	Brand         float64 `json:"brand"`
	ContentSafety float64 `json:"content_safety"`
	Visual        float64 `json:"visual"`
}

// Get returns the score for c, or 0 for an unknown criterion.
func (s Scores) Get(c Criterion) float64 {
	switch c {
	case CriterionTechnical:
		return s.Technical
	case CriterionBrand:
		return s.Brand
	case CriterionContentSafety:
		return s.ContentSafety
	case CriterionVisual:
		return s.Visual
	}
	return 0
}

// QualityReport is the outcome of evaluating one creative. It carries no
// timestamps so evaluating the same input twice yields an equal report.
type QualityReport struct {
	CreativeID      string   `json:"creative_id"`
	CampaignID      string   `json:"campaign_id,omitempty"`
	Scores          Scores   `json:"scores"`
	Composite       float64  `json:"composite"`
	Verdict         Verdict  `json:"verdict"`
	Violations      []string `json:"violations"`
	Recommendations []string `json:"recommendations"`
	PayloadDigest   string   `json:"payload_digest,omitempty"`
}

// Violation tags msg with the criterion it came from.
func Violation(c Criterion, msg string) string {
	return string(c) + ": " + msg
}

// ReportRecord is a persisted QualityReport.
type ReportRecord struct {
	QualityReport
	EvaluatedAt time.Time `json:"evaluated_at"`
}
