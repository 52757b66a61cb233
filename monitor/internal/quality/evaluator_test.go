package quality

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

var (
	steelBlue = models.Color{R: 70, G: 130, B: 180}
	white     = models.Color{R: 255, G: 255, B: 255}
	gold      = models.Color{R: 255, G: 215, B: 0}
)

type band struct {
	share float64
	c     models.Color
}

// makePNG paints horizontal bands top to bottom.
func makePNG(t testing.TB, w, h int, bands ...band) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	y := 0
	for i, b := range bands {
		end := y + int(float64(h)*b.share)
		if i == len(bands)-1 {
			end = h
		}
		for ; y < end; y++ {
			for x := 0; x < w; x++ {
				img.Set(x, y, color.RGBA{R: b.c.R, G: b.c.G, B: b.c.B, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func brandPNG(t testing.TB, w, h int) []byte {
	return makePNG(t, w, h, band{0.6, steelBlue}, band{0.2, white}, band{0.2, gold})
}

func newEvaluator(t testing.TB) *Evaluator {
	t.Helper()
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	return e
}

func goodCampaign() *models.CampaignContext {
	return &models.CampaignContext{
		CampaignID:  "spring-launch",
		BrandColors: []models.Color{steelBlue, white, gold},
		Message:     "Discover the new spring collection today",
	}
}

func goodCreative(t testing.TB) *models.Creative {
	return &models.Creative{
		ID:       "cr-1",
		Format:   "png",
		Width:    1000,
		Height:   1000,
		Payload:  brandPNG(t, 1000, 1000),
		Elements: []string{models.ElementBrandLogo, models.ElementProductName, models.ElementCampaignMessage},
	}
}

func TestEvaluate_CompliantCreativePasses(t *testing.T) {
	e := newEvaluator(t)
	report, err := e.Evaluate(goodCreative(t), goodCampaign())
	require.NoError(t, err)

	assert.Equal(t, models.Scores{Technical: 1, Brand: 1, ContentSafety: 1, Visual: 1}, report.Scores)
	assert.Equal(t, 1.0, report.Composite)
	assert.Equal(t, models.VerdictPass, report.Verdict)
	assert.Empty(t, report.Violations)
	assert.Empty(t, report.Recommendations)
	assert.Equal(t, "spring-launch", report.CampaignID)
	assert.Len(t, report.PayloadDigest, 64)
}

func TestEvaluate_ProhibitedTermVetoes(t *testing.T) {
	e := newEvaluator(t)
	camp := goodCampaign()
	camp.Message = "Win a FREE weekend at the spring launch"

	report, err := e.Evaluate(goodCreative(t), camp)
	require.NoError(t, err)

	assert.Equal(t, 0.0, report.Scores.ContentSafety)
	assert.InDelta(t, 0.8, report.Composite, 1e-9)
	assert.Equal(t, models.VerdictFail, report.Verdict, "content-safety veto overrides composite")
	assert.Contains(t, report.Violations, `content_safety: prohibited term "free"`)
	assert.Contains(t, report.Violations, `content_safety: prohibited term "win"`)
}

func TestEvaluate_ProhibitedTermMatching(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		overlay  string
		campaign []string
		wantHit  bool
	}{
		{name: "whole word", message: "Enter the contest before Friday", wantHit: true},
		{name: "substring does not match", message: "Shop the winter collection now"},
		{name: "overlay text is checked", message: "Discover the collection", overlay: "Prize inside", wantHit: true},
		{name: "campaign specific term", message: "Cheapest jackets in town", campaign: []string{"cheapest"}, wantHit: true},
		{name: "punctuation boundary", message: "Everything is free!", wantHit: true},
		{name: "trailing non-ascii letter", message: "Meet us at the café tonight", campaign: []string{"café"}, wantHit: true},
		{name: "leading non-ascii letter", message: "ÜBER deals for everyone", campaign: []string{"Über"}, wantHit: true},
		{name: "trailing symbol", message: "Get 100% more style", campaign: []string{"100%"}, wantHit: true},
		{name: "non-ascii suffix continues the word", message: "Visit the cafés downtown", campaign: []string{"café"}},
		{name: "non-ascii prefix continues the word", message: "Tonight at the déjàfree bar", campaign: []string{"free"}},
	}

	e := newEvaluator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			camp := goodCampaign()
			camp.Message = tt.message
			camp.ProhibitedWords = tt.campaign
			cr := goodCreative(t)
			cr.OverlayText = tt.overlay

			report, err := e.Evaluate(cr, camp)
			require.NoError(t, err)
			if tt.wantHit {
				assert.Equal(t, 0.0, report.Scores.ContentSafety)
				assert.Equal(t, models.VerdictFail, report.Verdict)
			} else {
				assert.Equal(t, 1.0, report.Scores.ContentSafety)
			}
		})
	}
}

func TestNew_CompilesConfiguredTerms(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProhibitedWords = []string{" Über ", "über", "", "gratuité"}
	e, err := New(cfg)
	require.NoError(t, err)
	require.Len(t, e.terms, 2)
	assert.Equal(t, "über", e.terms[0].word)

	camp := goodCampaign()
	camp.Message = "Livraison gratuité pour tous"
	report, err := e.Evaluate(goodCreative(t), camp)
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.Scores.ContentSafety)
	assert.Contains(t, report.Violations, `content_safety: prohibited term "gratuité"`)

	camp.ProhibitedWords = []string{"ÜBER", "tous"}
	terms := e.prohibitedTerms(camp)
	require.Len(t, terms, 3, "campaign duplicates of configured terms are dropped")
	assert.Equal(t, "tous", terms[2].word)
	assert.Len(t, e.terms, 2, "per-campaign terms do not leak into the evaluator")
}

func TestEvaluate_MissingElementCapsBrand(t *testing.T) {
	e := newEvaluator(t)
	cr := goodCreative(t)
	cr.Elements = []string{models.ElementProductName, models.ElementCampaignMessage}

	report, err := e.Evaluate(cr, goodCampaign())
	require.NoError(t, err)
	assert.Equal(t, 0.5, report.Scores.Brand)
	assert.Contains(t, report.Violations, `brand: required element "brand_logo" is missing`)
	assert.InDelta(t, 0.85, report.Composite, 1e-9)
	assert.Equal(t, models.VerdictPass, report.Verdict)
	assert.NotEmpty(t, report.Recommendations)
}

func TestEvaluate_MissingBrandColour(t *testing.T) {
	e := newEvaluator(t)
	camp := goodCampaign()
	camp.BrandColors = append(camp.BrandColors, models.Color{R: 200, G: 0, B: 0})

	report, err := e.Evaluate(goodCreative(t), camp)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, report.Scores.Brand, 1e-9)
	assert.Contains(t, report.Violations, "brand: brand colour #c80000 not found among dominant colours")
}

func TestEvaluate_TechnicalPenalties(t *testing.T) {
	e := newEvaluator(t)

	t.Run("low resolution", func(t *testing.T) {
		cr := goodCreative(t)
		cr.Width, cr.Height = 400, 400
		cr.Payload = brandPNG(t, 400, 400)

		report, err := e.Evaluate(cr, goodCampaign())
		require.NoError(t, err)
		assert.Equal(t, 0.75, report.Scores.Technical)
		assert.Contains(t, report.Violations, "technical: resolution 400x400 is below the 800x800 minimum")
	})

	t.Run("campaign target overrides minimum", func(t *testing.T) {
		camp := goodCampaign()
		camp.TargetWidth, camp.TargetHeight = 1200, 1200

		report, err := e.Evaluate(goodCreative(t), camp)
		require.NoError(t, err)
		assert.Equal(t, 0.75, report.Scores.Technical)
	})

	t.Run("declared dimensions mismatch and bad aspect", func(t *testing.T) {
		cr := goodCreative(t)
		cr.Width, cr.Height = 2400, 900
		cr.Payload = brandPNG(t, 2400, 900)
		cr.Width = 2000

		report, err := e.Evaluate(cr, goodCampaign())
		require.NoError(t, err)
		assert.Equal(t, 0.5, report.Scores.Technical)
	})

	t.Run("disallowed format", func(t *testing.T) {
		cr := &models.Creative{ID: "cr-tiff", Format: "tiff", Width: 1000, Height: 1000, Payload: []byte{1, 2, 3},
			Elements: goodCreative(t).Elements}

		report, err := e.Evaluate(cr, goodCampaign())
		require.NoError(t, err)
		assert.Equal(t, 0.75, report.Scores.Technical)
		assert.Contains(t, report.Violations, `technical: format "tiff" is not allowed`)
	})
}

func TestEvaluate_VisualDegradesOutsideRange(t *testing.T) {
	e := newEvaluator(t)
	cr := goodCreative(t)
	cr.Payload = makePNG(t, 1000, 1000, band{1, models.Color{}})

	report, err := e.Evaluate(cr, goodCampaign())
	require.NoError(t, err)

	// brightness 0 is 50 below a 150-wide range, contrast 0 is 25 below an 85-wide range
	want := ((1 - 50.0/150.0) + (1 - 25.0/85.0)) / 2
	assert.InDelta(t, want, report.Scores.Visual, 1e-6)
	assert.Equal(t, 0.0, report.Scores.Brand)
	assert.Equal(t, models.VerdictFail, report.Verdict)
}

func TestEvaluate_MessageLength(t *testing.T) {
	e := newEvaluator(t)
	tests := []struct {
		message string
		want    float64
	}{
		{"", 0.5},
		{"Buy now", 0.8},
		{"A perfectly reasonable campaign message", 1},
	}
	for _, tt := range tests {
		camp := goodCampaign()
		camp.Message = tt.message
		report, err := e.Evaluate(goodCreative(t), camp)
		require.NoError(t, err)
		assert.Equal(t, tt.want, report.Scores.ContentSafety, "message %q", tt.message)
	}
}

func TestEvaluate_VideoUsesDeclaredMetadata(t *testing.T) {
	e := newEvaluator(t)
	cr := &models.Creative{
		ID:       "cr-video",
		Format:   "mp4",
		Width:    1920,
		Height:   1080,
		Payload:  []byte("not really an mp4 but never decoded"),
		Elements: goodCreative(t).Elements,
		Stats:    &models.VisualStats{Brightness: 120, Contrast: 40},
	}

	report, err := e.Evaluate(cr, goodCampaign())
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Scores.Technical)
	assert.Equal(t, 1.0, report.Scores.Brand)
	assert.Equal(t, 1.0, report.Scores.Visual)
	assert.Equal(t, models.VerdictPass, report.Verdict)
	assert.Len(t, report.Recommendations, 1, "brand colours could not be verified")
}

func TestEvaluate_MalformedInput(t *testing.T) {
	e := newEvaluator(t)
	tests := []struct {
		name     string
		creative *models.Creative
		campaign *models.CampaignContext
	}{
		{"empty payload", &models.Creative{ID: "a", Format: "png"}, goodCampaign()},
		{"undecodable image", &models.Creative{ID: "b", Format: "png", Payload: []byte("garbage")}, goodCampaign()},
		{"missing campaign", goodCreative(t), nil},
		{"missing format", &models.Creative{ID: "c", Payload: []byte{1}}, goodCampaign()},
		{"video without dimensions", &models.Creative{ID: "d", Format: "mp4", Payload: []byte{1}}, goodCampaign()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := e.Evaluate(tt.creative, tt.campaign)
			require.ErrorIs(t, err, ErrInvalidInput)
			require.NotNil(t, report)
			assert.Equal(t, models.VerdictFail, report.Verdict)
			require.Len(t, report.Violations, 1)
			assert.Contains(t, report.Violations[0], "technical: ")
		})
	}

	_, err := e.Evaluate(nil, goodCampaign())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// oversizedPNG encodes a 1x1 image and rewrites its header to declare w x h,
// fixing up the header checksum so decoders accept it.
func oversizedPNG(t testing.TB, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	b := buf.Bytes()

	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc at 29
	require.Equal(t, "IHDR", string(b[12:16]))
	binary.BigEndian.PutUint32(b[16:20], w)
	binary.BigEndian.PutUint32(b[20:24], h)
	binary.BigEndian.PutUint32(b[29:33], crc32.ChecksumIEEE(b[12:29]))
	return b
}

func TestEvaluate_RejectsOversizedDimensionsBeforeDecoding(t *testing.T) {
	e := newEvaluator(t)
	payload := oversizedPNG(t, 40000, 40000)
	require.Less(t, len(payload), 100)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, 40000, cfg.Width)

	cr := &models.Creative{ID: "huge", Format: "png", Payload: payload}
	report, err := e.Evaluate(cr, goodCampaign())
	require.ErrorIs(t, err, ErrInvalidInput)
	require.NotNil(t, report)
	assert.Equal(t, models.VerdictFail, report.Verdict)
	require.Len(t, report.Violations, 1)
	assert.Contains(t, report.Violations[0], "declared size 40000x40000 exceeds 50000000 pixels")
}

func TestEvaluate_MaxPixelsIsConfigurable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPixels = 500 * 500
	e, err := New(cfg)
	require.NoError(t, err)

	_, err = e.Evaluate(goodCreative(t), goodCampaign())
	assert.ErrorIs(t, err, ErrInvalidInput)

	cfg.MaxPixels = 0
	_, err = New(cfg)
	assert.ErrorContains(t, err, "max pixels must be positive")
}

func TestEvaluate_DeterministicAndPure(t *testing.T) {
	e := newEvaluator(t)
	cr := goodCreative(t)
	cr.Elements = []string{"product_name"}
	camp := goodCampaign()
	camp.ProhibitedWords = []string{"Cheap", "cheap"}

	crBefore := *cr
	crBefore.Elements = append([]string(nil), cr.Elements...)
	campBefore := *camp
	campBefore.ProhibitedWords = append([]string(nil), camp.ProhibitedWords...)

	first, err := e.Evaluate(cr, camp)
	require.NoError(t, err)
	second, err := e.Evaluate(cr, camp)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, crBefore, *cr)
	assert.Equal(t, campBefore, *camp)
}

func TestComposite(t *testing.T) {
	w := DefaultConfig().Weights
	scores := models.Scores{Technical: 1.0, Brand: 0.5, ContentSafety: 1.0, Visual: 0.8}
	composite := Composite(scores, w)

	assert.Equal(t, 0.81, composite)
	assert.Equal(t, models.VerdictPass, Verdict(scores, composite, 0.7))
	assert.Equal(t, models.VerdictFail, Verdict(scores, composite, 0.85))
}

func TestCompositeProperties(t *testing.T) {
	w := DefaultConfig().Weights
	unit := rapid.Float64Range(0, 1)
	rapid.Check(t, func(rt *rapid.T) {
		s := models.Scores{
			Technical:     unit.Draw(rt, "technical"),
			Brand:         unit.Draw(rt, "brand"),
			ContentSafety: unit.Draw(rt, "content_safety"),
			Visual:        unit.Draw(rt, "visual"),
		}
		threshold := unit.Draw(rt, "threshold")
		c := Composite(s, w)
		if c < 0 || c > 1 {
			rt.Fatalf("composite %v outside [0,1]", c)
		}
		v := Verdict(s, c, threshold)
		if s.ContentSafety == 0 && v != models.VerdictFail {
			rt.Fatalf("zero content safety passed")
		}
		if v == models.VerdictPass && c < threshold {
			rt.Fatalf("pass below threshold")
		}
	})
}

func TestNew_RejectsBadWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.Visual = 0.3
	_, err := New(cfg)
	assert.ErrorContains(t, err, "weights must sum to 1")
}

func TestRangeScore(t *testing.T) {
	r := Range{Min: 50, Max: 200}
	assert.Equal(t, 1.0, r.Score(50))
	assert.Equal(t, 1.0, r.Score(200))
	assert.InDelta(t, 0.5, r.Score(275), 1e-9)
	assert.Equal(t, 0.0, r.Score(-500))
	assert.Equal(t, 0.0, Range{Min: 1, Max: 1}.Score(2))
}
