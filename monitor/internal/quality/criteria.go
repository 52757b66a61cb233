package quality

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// criterionResult is the score of one criterion plus what lowered it.
type criterionResult struct {
	score      float64
	violations []string
	notes      []string
}

func (r *criterionResult) violate(c models.Criterion, format string, args ...any) {
	r.violations = append(r.violations, models.Violation(c, fmt.Sprintf(format, args...)))
}

func (e *Evaluator) scoreTechnical(cr *models.Creative, camp *models.CampaignContext, img *imageAnalysis) criterionResult {
	const c = models.CriterionTechnical
	res := criterionResult{}
	failed := 0

	format := normalizeFormat(cr.Format)
	if !e.allowedFormats[format] {
		failed++
		res.violate(c, "format %q is not allowed", cr.Format)
	}

	width, height := cr.Width, cr.Height
	if img != nil {
		if (cr.Width != 0 && cr.Width != img.Width) || (cr.Height != 0 && cr.Height != img.Height) || img.Format != format {
			failed++
			res.violate(c, "declared %s %dx%d does not match decoded %s %dx%d",
				format, cr.Width, cr.Height, img.Format, img.Width, img.Height)
		}
		width, height = img.Width, img.Height
	}

	minW, minH := e.cfg.MinWidth, e.cfg.MinHeight
	if camp.TargetWidth > 0 && camp.TargetHeight > 0 {
		minW, minH = camp.TargetWidth, camp.TargetHeight
	}
	if width < minW || height < minH {
		failed++
		res.violate(c, "resolution %dx%d is below the %dx%d minimum", width, height, minW, minH)
	}

	if size := int64(len(cr.Payload)); e.cfg.MaxFileSize > 0 && size > e.cfg.MaxFileSize {
		failed++
		res.violate(c, "file size %d bytes exceeds %d bytes", size, e.cfg.MaxFileSize)
	}

	if height > 0 {
		ratio := float64(width) / float64(height)
		if ratio < e.cfg.AspectRatio.Min || ratio > e.cfg.AspectRatio.Max {
			failed++
			res.violate(c, "aspect ratio %.2f is outside %.2f-%.2f", ratio, e.cfg.AspectRatio.Min, e.cfg.AspectRatio.Max)
		}
	}

	res.score = math.Max(0, 1-float64(failed)*e.cfg.TechnicalPenalty)
	return res
}

func (e *Evaluator) scoreBrand(cr *models.Creative, camp *models.CampaignContext, img *imageAnalysis) criterionResult {
	const c = models.CriterionBrand
	res := criterionResult{score: 1}

	switch {
	case len(camp.BrandColors) == 0:
	case img == nil:
		res.notes = append(res.notes, "Brand colours were not verified because the format cannot be decoded; review manually")
	default:
		found := 0
		for _, want := range camp.BrandColors {
			if e.colorPresent(want, img.Dominant) {
				found++
				continue
			}
			res.violate(c, "brand colour %s not found among dominant colours", want)
		}
		res.score = float64(found) / float64(len(camp.BrandColors))
	}

	required := camp.RequiredElements
	if len(required) == 0 {
		required = e.cfg.RequiredElements
	}
	present := make(map[string]bool, len(cr.Elements))
	for _, el := range cr.Elements {
		present[strings.ToLower(strings.TrimSpace(el))] = true
	}
	missing := false
	for _, el := range required {
		if !present[strings.ToLower(el)] {
			missing = true
			res.violate(c, "required element %q is missing", el)
		}
	}
	if missing {
		res.score = math.Min(res.score, e.cfg.MissingElementCap)
	}
	return res
}

func (e *Evaluator) colorPresent(want models.Color, dominant []models.Color) bool {
	for _, got := range dominant {
		if colorDistance(want, got) <= e.cfg.ColorTolerance {
			return true
		}
	}
	return false
}

func (e *Evaluator) scoreContentSafety(cr *models.Creative, camp *models.CampaignContext) criterionResult {
	const c = models.CriterionContentSafety
	res := criterionResult{score: 1}

	texts := []string{camp.Message, cr.OverlayText}
	for _, t := range e.prohibitedTerms(camp) {
		for _, text := range texts {
			if t.re.MatchString(text) {
				res.violate(c, "prohibited term %q", t.word)
				break
			}
		}
	}
	if len(res.violations) > 0 {
		res.score = 0
		return res
	}

	msg := strings.TrimSpace(camp.Message)
	switch n := utf8.RuneCountInString(msg); {
	case n == 0:
		res.score = 0.5
		res.violate(c, "campaign message is empty")
	case n < e.cfg.MessageMinLen || (e.cfg.MessageMaxLen > 0 && n > e.cfg.MessageMaxLen):
		res.score = 0.8
		res.violate(c, "campaign message length %d is outside %d-%d characters", n, e.cfg.MessageMinLen, e.cfg.MessageMaxLen)
	}
	return res
}

// term is a prohibited word and its whole-word matcher.
type term struct {
	word string
	re   *regexp.Regexp
}

// A term matches only where it is not glued to a letter, digit or
// underscore on either side. Unlike \b this holds for non-ASCII letters and
// for terms that begin or end with a symbol.
const (
	termBefore = `(?i)(?:^|[^\p{L}\p{N}_])`
	termAfter  = `(?:$|[^\p{L}\p{N}_])`
)

func normalizeTerm(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}

func compileTerm(word string) term {
	return term{word: word, re: regexp.MustCompile(termBefore + regexp.QuoteMeta(word) + termAfter)}
}

// compileTerms normalizes words, drops blanks and duplicates, and keeps the
// first occurrence's order.
func compileTerms(words []string, seen map[string]bool) []term {
	var out []term
	for _, w := range words {
		w = normalizeTerm(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, compileTerm(w))
	}
	return out
}

// prohibitedTerms returns the configured terms, compiled once in New,
// followed by the campaign's own terms.
func (e *Evaluator) prohibitedTerms(camp *models.CampaignContext) []term {
	if len(camp.ProhibitedWords) == 0 {
		return e.terms
	}
	seen := make(map[string]bool, len(e.terms)+len(camp.ProhibitedWords))
	for _, t := range e.terms {
		seen[t.word] = true
	}
	extra := compileTerms(camp.ProhibitedWords, seen)
	if len(extra) == 0 {
		return e.terms
	}
	out := make([]term, 0, len(e.terms)+len(extra))
	out = append(out, e.terms...)
	return append(out, extra...)
}

func (e *Evaluator) scoreVisual(cr *models.Creative, img *imageAnalysis) criterionResult {
	const c = models.CriterionVisual
	res := criterionResult{score: 1}

	var brightness, contrast float64
	switch {
	case img != nil:
		brightness, contrast = img.Brightness, img.Contrast
	case cr.Stats != nil:
		brightness, contrast = cr.Stats.Brightness, cr.Stats.Contrast
	default:
		res.notes = append(res.notes, "Visual quality was not measured; supply frame statistics for video creatives")
		return res
	}

	bs := e.cfg.Brightness.Score(brightness)
	cs := e.cfg.Contrast.Score(contrast)
	if bs < 1 {
		res.violate(c, "brightness %.1f is outside %.0f-%.0f", brightness, e.cfg.Brightness.Min, e.cfg.Brightness.Max)
	}
	if cs < 1 {
		res.violate(c, "contrast %.1f is outside %.0f-%.0f", contrast, e.cfg.Contrast.Min, e.cfg.Contrast.Max)
	}
	res.score = (bs + cs) / 2
	return res
}
