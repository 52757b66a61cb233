package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is an sRGB triple serialised as "#rrggbb".
type Color struct {
	R, G, B uint8
}

// ParseColor accepts "#rrggbb" or "rrggbb".
func ParseColor(s string) (Color, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return Color{}, fmt.Errorf("invalid colour %q: want #rrggbb", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Elements a creative may declare as present.
const (
	ElementBrandLogo       = "brand_logo"
	ElementProductName     = "product_name"
	ElementCampaignMessage = "campaign_message"
)

// VisualStats are precomputed luminance statistics, supplied by the
// pipeline for formats the evaluator cannot decode (video).
type VisualStats struct {
	Brightness float64 `json:"brightness" yaml:"brightness"`
	Contrast   float64 `json:"contrast" yaml:"contrast"`
}

// Creative is a generated asset submitted for quality evaluation.
type Creative struct {
	ID          string       `json:"id" yaml:"id"`
	CampaignID  string       `json:"campaign_id,omitempty" yaml:"campaign_id"`
	Format      string       `json:"format" yaml:"format"`
	Width       int          `json:"width" yaml:"width"`
	Height      int          `json:"height" yaml:"height"`
	Payload     []byte       `json:"payload" yaml:"-"`
	OverlayText string       `json:"overlay_text,omitempty" yaml:"overlay_text"`
	Elements    []string     `json:"elements,omitempty" yaml:"elements"`
	Stats       *VisualStats `json:"stats,omitempty" yaml:"stats"`
}

// CampaignContext carries the brand rules a creative is checked against.
type CampaignContext struct {
	CampaignID       string   `json:"campaign_id" yaml:"campaign_id"`
	BrandColors      []Color  `json:"brand_colors,omitempty" yaml:"brand_colors"`
	ProhibitedWords  []string `json:"prohibited_words,omitempty" yaml:"prohibited_words"`
	TargetWidth      int      `json:"target_width,omitempty" yaml:"target_width"`
	TargetHeight     int      `json:"target_height,omitempty" yaml:"target_height"`
	Message          string   `json:"message" yaml:"message"`
	RequiredElements []string `json:"required_elements,omitempty" yaml:"required_elements"`
}

// EvaluateRequest is the body of POST /api/v1/creatives/evaluate.
type EvaluateRequest struct {
	Creative Creative         `json:"creative"`
	Campaign *CampaignContext `json:"campaign"`
}
