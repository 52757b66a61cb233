package main

import (
	"strings"

	"github.com/adcraft-labs/creative-qa/monitor/internal/config"
	"github.com/adcraft-labs/creative-qa/monitor/internal/detector"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
	"github.com/adcraft-labs/creative-qa/monitor/internal/notification"
	"github.com/adcraft-labs/creative-qa/monitor/internal/quality"
	"github.com/adcraft-labs/creative-qa/monitor/internal/router"
)

func qualityConfig(cfg *config.Config) quality.Config {
	q := cfg.Quality
	return quality.Config{
		Weights: quality.Weights{
			Technical:     q.Weights.Technical,
			Brand:         q.Weights.Brand,
			ContentSafety: q.Weights.ContentSafety,
			Visual:        q.Weights.Visual,
		},
		PassThreshold:     q.PassThreshold,
		MinWidth:          q.MinWidth,
		MinHeight:         q.MinHeight,
		AllowedFormats:    q.AllowedFormats,
		MaxFileSize:       q.MaxFileSize,
		AspectRatio:       quality.Range{Min: q.MinAspectRatio, Max: q.MaxAspectRatio},
		TechnicalPenalty:  q.TechnicalPenalty,
		ColorTolerance:    q.ColorTolerance,
		DominantColors:    q.DominantColors,
		MissingElementCap: q.MissingElementCap,
		RequiredElements:  q.RequiredElements,
		ProhibitedWords:   q.ProhibitedWords,
		MessageMinLen:     q.MessageMinLength,
		MessageMaxLen:     q.MessageMaxLength,
		Brightness:        quality.Range{Min: q.BrightnessMin, Max: q.BrightnessMax},
		Contrast:          quality.Range{Min: q.ContrastMin, Max: q.ContrastMax},
		MaxPixels:         q.MaxPixels,
		MaxSampledPixels:  q.MaxSampledPixels,
	}
}

func detectorConfig(cfg *config.Config) detector.Config {
	d := cfg.Detector
	rules := make(map[string]detector.Rule, len(d.Rules))
	for _, r := range d.Rules {
		agg := detector.AggregateLast
		if r.Aggregate == "mean" {
			agg = detector.AggregateMean
		}
		rules[r.Metric] = detector.Rule{
			Floor:     r.Floor,
			Ceiling:   r.Ceiling,
			K:         r.K,
			Aggregate: agg,
			EventType: models.EventType(r.EventType),
		}
	}
	return detector.Config{
		Interval:            d.Interval,
		WindowSize:          d.WindowSize,
		WindowDuration:      d.WindowDuration,
		MinSamples:          d.MinSamples,
		K:                   d.K,
		DriftTicks:          d.DriftTicks,
		DriftMinChange:      d.DriftMinChange,
		RelativeStdDevFloor: d.RelativeStdDevFloor,
		Rules:               rules,
	}
}

// routerConfig starts from the built-in routes and cooldowns so a partial
// config only overrides what it names.
func routerConfig(cfg *config.Config) router.Config {
	rc := router.DefaultConfig()
	for sev, audiences := range cfg.Alerts.Routes {
		list := make([]models.Audience, 0, len(audiences))
		for _, a := range audiences {
			list = append(list, models.Audience(a))
		}
		rc.Routes[models.Severity(strings.ToLower(sev))] = list
	}
	for aud, d := range cfg.Alerts.Cooldowns {
		rc.Cooldowns[models.Audience(strings.ToLower(aud))] = d
	}
	return rc
}

func channelSpecs(cfg *config.Config) map[models.Audience]notification.ChannelSpec {
	specs := make(map[models.Audience]notification.ChannelSpec, len(cfg.Notifications.Channels))
	for aud, ch := range cfg.Notifications.Channels {
		specs[models.Audience(strings.ToLower(aud))] = notification.ChannelSpec{
			Type:    ch.Type,
			URL:     ch.URL,
			Timeout: ch.Timeout,
		}
	}
	return specs
}
