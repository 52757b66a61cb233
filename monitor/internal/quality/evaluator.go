// Package quality scores generated creatives against technical, brand,
// content-safety and visual criteria.
package quality

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"golang.org/x/crypto/blake2b"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

var errEmptyImage = errors.New("image has no pixels")

// Evaluator is stateless after construction; Evaluate may be called
// concurrently.
type Evaluator struct {
	cfg            Config
	allowedFormats map[string]bool
	terms          []term
}

// New validates cfg and returns an Evaluator.
func New(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("quality config: %w", err)
	}
	allowed := make(map[string]bool, len(cfg.AllowedFormats))
	for _, f := range cfg.AllowedFormats {
		allowed[normalizeFormat(f)] = true
	}
	return &Evaluator{
		cfg:            cfg,
		allowedFormats: allowed,
		terms:          compileTerms(cfg.ProhibitedWords, make(map[string]bool)),
	}, nil
}

// Config returns the evaluator's configuration.
func (e *Evaluator) Config() Config {
	return e.cfg
}

// Evaluate scores creative against campaign. It never mutates its inputs and
// is deterministic: equal inputs produce equal reports.
//
// A malformed creative still yields a failing report; the returned error then
// wraps ErrInvalidInput.
func (e *Evaluator) Evaluate(creative *models.Creative, campaign *models.CampaignContext) (*models.QualityReport, error) {
	if creative == nil {
		return nil, fmt.Errorf("%w: creative is nil", ErrInvalidInput)
	}

	report := &models.QualityReport{
		CreativeID:      creative.ID,
		CampaignID:      creative.CampaignID,
		Violations:      []string{},
		Recommendations: []string{},
	}
	if report.CampaignID == "" && campaign != nil {
		report.CampaignID = campaign.CampaignID
	}
	if len(creative.Payload) > 0 {
		sum := blake2b.Sum256(creative.Payload)
		report.PayloadDigest = hex.EncodeToString(sum[:])
	}

	img, err := e.inspect(creative, campaign)
	if err != nil {
		report.Verdict = models.VerdictFail
		report.Violations = append(report.Violations, models.Violation(models.CriterionTechnical, err.Error()))
		report.Recommendations = append(report.Recommendations, "Resubmit the creative with a complete payload, format and campaign context")
		return report, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	results := []struct {
		criterion models.Criterion
		res       criterionResult
	}{
		{models.CriterionTechnical, e.scoreTechnical(creative, campaign, img)},
		{models.CriterionBrand, e.scoreBrand(creative, campaign, img)},
		{models.CriterionContentSafety, e.scoreContentSafety(creative, campaign)},
		{models.CriterionVisual, e.scoreVisual(creative, img)},
	}

	report.Scores = models.Scores{
		Technical:     results[0].res.score,
		Brand:         results[1].res.score,
		ContentSafety: results[2].res.score,
		Visual:        results[3].res.score,
	}
	for _, r := range results {
		report.Violations = append(report.Violations, r.res.violations...)
		if len(r.res.violations) > 0 {
			report.Recommendations = append(report.Recommendations, e.recommendation(r.criterion, campaign))
		}
		report.Recommendations = append(report.Recommendations, r.res.notes...)
	}

	report.Composite = Composite(report.Scores, e.cfg.Weights)
	report.Verdict = Verdict(report.Scores, report.Composite, e.cfg.PassThreshold)
	return report, nil
}

// inspect rejects malformed input and decodes pixel formats.
func (e *Evaluator) inspect(cr *models.Creative, camp *models.CampaignContext) (*imageAnalysis, error) {
	switch {
	case camp == nil:
		return nil, errors.New("campaign context is missing")
	case cr.ID == "":
		return nil, errors.New("creative id is missing")
	case cr.Format == "":
		return nil, errors.New("creative format is missing")
	case len(cr.Payload) == 0:
		return nil, errors.New("creative payload is empty")
	}

	if !pixelFormats[normalizeFormat(cr.Format)] {
		if cr.Width <= 0 || cr.Height <= 0 {
			return nil, fmt.Errorf("%s creative must declare its dimensions", cr.Format)
		}
		return nil, nil
	}

	img, err := analyzeImage(cr.Payload, e.cfg.MaxPixels, e.cfg.MaxSampledPixels, e.cfg.DominantColors)
	if err != nil {
		return nil, fmt.Errorf("payload could not be decoded as %s: %v", cr.Format, err)
	}
	return img, nil
}

func (e *Evaluator) recommendation(c models.Criterion, camp *models.CampaignContext) string {
	switch c {
	case models.CriterionTechnical:
		minW, minH := e.cfg.MinWidth, e.cfg.MinHeight
		if camp.TargetWidth > 0 && camp.TargetHeight > 0 {
			minW, minH = camp.TargetWidth, camp.TargetHeight
		}
		return fmt.Sprintf("Re-render at %dx%d or larger, aspect ratio %.1f-%.1f, under %d MB",
			minW, minH, e.cfg.AspectRatio.Min, e.cfg.AspectRatio.Max, e.cfg.MaxFileSize/(1024*1024))
	case models.CriterionBrand:
		return "Ensure brand colours and the logo, product name and campaign message are present"
	case models.CriterionContentSafety:
		return fmt.Sprintf("Remove prohibited terms and keep the campaign message between %d and %d characters",
			e.cfg.MessageMinLen, e.cfg.MessageMaxLen)
	case models.CriterionVisual:
		return fmt.Sprintf("Adjust exposure toward brightness %.0f-%.0f and contrast %.0f-%.0f",
			e.cfg.Brightness.Min, e.cfg.Brightness.Max, e.cfg.Contrast.Min, e.cfg.Contrast.Max)
	}
	return ""
}

// Composite is the weighted sum of scores rounded to six decimals so equal
// inputs always compare equal against the threshold.
func Composite(s models.Scores, w Weights) float64 {
	sum := s.Technical*w.Technical + s.Brand*w.Brand + s.ContentSafety*w.ContentSafety + s.Visual*w.Visual
	return math.Round(sum*1e6) / 1e6
}

// Verdict passes only when the composite reaches threshold and no prohibited
// content was found.
func Verdict(s models.Scores, composite, threshold float64) models.Verdict {
	if s.ContentSafety == 0 || composite < threshold {
		return models.VerdictFail
	}
	return models.VerdictPass
}
