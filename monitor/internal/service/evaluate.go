package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/monitor/internal/metrics"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
	"github.com/adcraft-labs/creative-qa/monitor/internal/quality"
)

// brandComplianceFloor is the brand score under which a failing report is
// classified as a brand-compliance incident instead of a quality breach.
const brandComplianceFloor = 0.5

// EvaluateCreative scores a creative, records the verdict and, when the
// report fails the quality gate, queues a quality event for the tracker.
//
// Malformed input still yields a failing report, returned together with an
// error wrapping quality.ErrInvalidInput. Such reports are persisted but do
// not feed metrics or incidents.
func (s *Service) EvaluateCreative(ctx context.Context, req *models.EvaluateRequest) (*models.QualityReport, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", quality.ErrInvalidInput)
	}

	start := time.Now()
	report, evalErr := s.evaluator.Evaluate(&req.Creative, req.Campaign)
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	if report == nil {
		return nil, evalErr
	}
	metrics.EvaluationsTotal.WithLabelValues(string(report.Verdict)).Inc()

	rec := &models.ReportRecord{QualityReport: *report, EvaluatedAt: s.now().UTC()}
	s.saveReport(ctx, rec)

	if evalErr != nil {
		s.logger.WarnContext(ctx, "creative rejected as malformed",
			logging.CreativeID(report.CreativeID),
			logging.Error(evalErr))
		return report, evalErr
	}

	metrics.CompositeScore.Observe(report.Composite)
	s.recordVerdict(ctx, report, rec.EvaluatedAt)

	if sev, typ, gated := s.classify(report); gated {
		s.logger.InfoContext(ctx, "creative failed quality gate",
			logging.CreativeID(report.CreativeID),
			logging.CampaignID(report.CampaignID),
			logging.Severity(string(sev)),
			logging.EventType(string(typ)),
			"composite", report.Composite)
		s.Submit(ctx, models.NewQualityEvent(report, sev, typ, rec.EvaluatedAt))
	}
	return report, nil
}

func (s *Service) saveReport(ctx context.Context, rec *models.ReportRecord) {
	if err := s.repo.SaveReport(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to save report",
			logging.CreativeID(rec.CreativeID),
			logging.Error(err))
	}
	if err := s.archive.IndexReport(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "failed to archive report", logging.Error(err))
	}
	if s.publisher != nil {
		if err := s.publisher.PublishReportEvaluated(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "failed to publish report", logging.Error(err))
		}
	}
}

// recordVerdict feeds the composite score and pass flag into the metric
// store so the detector sees quality trends.
func (s *Service) recordVerdict(ctx context.Context, r *models.QualityReport, at time.Time) {
	tags := map[string]string{"creative_id": r.CreativeID}
	if r.CampaignID != "" {
		tags["campaign_id"] = r.CampaignID
	}
	pass := 0.0
	if r.Verdict == models.VerdictPass {
		pass = 1
	}
	ms := []models.Measurement{
		{MetricName: MetricQualityComposite, Value: r.Composite, Timestamp: at, Tags: tags},
		{MetricName: MetricQualityPass, Value: pass, Timestamp: at, Tags: tags},
	}
	if _, err := s.RecordMeasurements(ctx, ms, "evaluator"); err != nil {
		s.logger.WarnContext(ctx, "failed to record verdict measurements", logging.Error(err))
	}
}

// classify decides whether a report opens or feeds an incident. A failing
// report is gated when its composite is below the quality threshold or it
// failed content safety.
func (s *Service) classify(r *models.QualityReport) (models.Severity, models.EventType, bool) {
	if r.Verdict != models.VerdictFail {
		return "", "", false
	}
	unsafe := r.Scores.ContentSafety == 0
	if r.Composite >= s.cfg.QualityThreshold && !unsafe {
		return "", "", false
	}

	sev := models.SeverityWarning
	if unsafe || r.Composite < s.cfg.CriticalComposite {
		sev = models.SeverityCritical
	}
	typ := models.EventQualityBreach
	if r.Scores.Brand < brandComplianceFloor {
		typ = models.EventBrandCompliance
	}
	return sev, typ, true
}

// RecordMeasurements appends ms to the metric store. Invalid measurements are
// skipped; the count of accepted ones is returned along with an error
// wrapping ErrInvalidMeasurement if any were rejected.
func (s *Service) RecordMeasurements(ctx context.Context, ms []models.Measurement, source string) (int, error) {
	accepted := 0
	var errs []error
	for i := range ms {
		if err := s.store.Append(ms[i]); err != nil {
			metrics.MeasurementsTotal.WithLabelValues(source, "rejected").Inc()
			errs = append(errs, fmt.Errorf("measurement %d: %w", i, err))
			continue
		}
		metrics.MeasurementsTotal.WithLabelValues(source, "accepted").Inc()
		accepted++
	}
	metrics.StoredMeasurements.Set(float64(s.store.Len()))

	if len(errs) > 0 {
		s.logger.DebugContext(ctx, "measurements rejected",
			"source", source,
			"rejected", len(errs),
			"accepted", accepted)
		return accepted, fmt.Errorf("%w: %w", ErrInvalidMeasurement, errors.Join(errs...))
	}
	return accepted, nil
}
