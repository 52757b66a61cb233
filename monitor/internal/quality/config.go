package quality

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput marks a creative or campaign that cannot be evaluated.
var ErrInvalidInput = errors.New("malformed creative")

// Weights combine criterion scores into the composite. They must sum to 1.
type Weights struct {
	Technical     float64
	Brand         float64
	ContentSafety float64
	Visual        float64
}

func (w Weights) Sum() float64 {
	return w.Technical + w.Brand + w.ContentSafety + w.Visual
}

// Range is an inclusive acceptable interval.
type Range struct {
	Min, Max float64
}

// Score is 1 inside r and falls linearly to 0 at one range-width away.
func (r Range) Score(v float64) float64 {
	if v >= r.Min && v <= r.Max {
		return 1
	}
	width := r.Max - r.Min
	if width <= 0 {
		return 0
	}
	dist := r.Min - v
	if v > r.Max {
		dist = v - r.Max
	}
	return math.Max(0, 1-dist/width)
}

// Config holds every threshold the evaluator applies.
type Config struct {
	Weights       Weights
	PassThreshold float64

	MinWidth         int
	MinHeight        int
	AllowedFormats   []string
	MaxFileSize      int64
	AspectRatio      Range
	TechnicalPenalty float64

	ColorTolerance    float64
	DominantColors    int
	MissingElementCap float64
	RequiredElements  []string

	ProhibitedWords []string
	MessageMinLen   int
	MessageMaxLen   int

	Brightness Range
	Contrast   Range

	// MaxPixels caps declared width*height; larger images are rejected
	// before any pixel data is decoded.
	MaxPixels        int
	MaxSampledPixels int
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		Weights:           Weights{Technical: 0.3, Brand: 0.3, ContentSafety: 0.2, Visual: 0.2},
		PassThreshold:     0.7,
		MinWidth:          800,
		MinHeight:         800,
		AllowedFormats:    []string{"png", "jpeg", "jpg", "gif", "mp4", "mov", "webm"},
		MaxFileSize:       10 * 1024 * 1024,
		AspectRatio:       Range{Min: 0.5, Max: 2.0},
		TechnicalPenalty:  0.25,
		ColorTolerance:    60,
		DominantColors:    5,
		MissingElementCap: 0.5,
		RequiredElements:  []string{"brand_logo", "product_name", "campaign_message"},
		ProhibitedWords:   []string{"free", "win", "winner", "prize", "contest", "sweepstakes"},
		MessageMinLen:     10,
		MessageMaxLen:     200,
		Brightness:        Range{Min: 50, Max: 200},
		Contrast:          Range{Min: 25, Max: 110},
		MaxPixels:         50_000_000,
		MaxSampledPixels:  250000,
	}
}

// Validate rejects configurations that would make scores meaningless.
func (c Config) Validate() error {
	if sum := c.Weights.Sum(); math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("weights must sum to 1, got %g", sum)
	}
	for _, w := range []float64{c.Weights.Technical, c.Weights.Brand, c.Weights.ContentSafety, c.Weights.Visual} {
		if w < 0 {
			return errors.New("weights must not be negative")
		}
	}
	if c.PassThreshold < 0 || c.PassThreshold > 1 {
		return errors.New("pass threshold must be within [0,1]")
	}
	if c.AspectRatio.Min > c.AspectRatio.Max || c.Brightness.Min > c.Brightness.Max || c.Contrast.Min > c.Contrast.Max {
		return errors.New("range minimum exceeds maximum")
	}
	if c.MaxPixels < 1 {
		return errors.New("max pixels must be positive")
	}
	if c.DominantColors < 1 {
		return errors.New("dominant colour count must be positive")
	}
	return nil
}
