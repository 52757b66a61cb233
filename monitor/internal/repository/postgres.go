package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// PostgresRepository implements Repository on PostgreSQL via pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository connects and pings the database.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) SaveReport(ctx context.Context, rec *models.ReportRecord) error {
	query := `
		INSERT INTO quality_reports (creative_id, campaign_id, scores, composite, verdict,
			violations, recommendations, payload_digest, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (creative_id) DO UPDATE SET
			campaign_id = EXCLUDED.campaign_id,
			scores = EXCLUDED.scores,
			composite = EXCLUDED.composite,
			verdict = EXCLUDED.verdict,
			violations = EXCLUDED.violations,
			recommendations = EXCLUDED.recommendations,
			payload_digest = EXCLUDED.payload_digest,
			evaluated_at = EXCLUDED.evaluated_at
	`
	_, err := r.pool.Exec(ctx, query,
		rec.CreativeID, rec.CampaignID, rec.Scores, rec.Composite, rec.Verdict,
		nonNil(rec.Violations), nonNil(rec.Recommendations), rec.PayloadDigest, rec.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetReport(ctx context.Context, creativeID string) (*models.ReportRecord, error) {
	query := `
		SELECT creative_id, campaign_id, scores, composite, verdict,
			violations, recommendations, payload_digest, evaluated_at
		FROM quality_reports
		WHERE creative_id = $1
	`
	rec := &models.ReportRecord{}
	err := r.pool.QueryRow(ctx, query, creativeID).Scan(
		&rec.CreativeID, &rec.CampaignID, &rec.Scores, &rec.Composite, &rec.Verdict,
		&rec.Violations, &rec.Recommendations, &rec.PayloadDigest, &rec.EvaluatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return rec, nil
}

const incidentColumns = `id, family_key, severity, event_type, state, opened_at, last_event_at,
	last_alert_at, acknowledged_at, acknowledged_by, resolved_at, resolved_by,
	resolution_reason, related_events, version`

func scanIncident(row pgx.Row) (*models.Incident, error) {
	inc := &models.Incident{}
	err := row.Scan(
		&inc.ID, &inc.FamilyKey, &inc.Severity, &inc.EventType, &inc.State,
		&inc.OpenedAt, &inc.LastEventAt, &inc.LastAlertAt,
		&inc.AcknowledgedAt, &inc.AcknowledgedBy, &inc.ResolvedAt, &inc.ResolvedBy,
		&inc.ResolutionReason, &inc.RelatedEvents, &inc.Version,
	)
	if err != nil {
		return nil, err
	}
	return inc, nil
}

func (r *PostgresRepository) CreateIncident(ctx context.Context, inc *models.Incident) error {
	query := `INSERT INTO incidents (` + incidentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.pool.Exec(ctx, query,
		inc.ID, inc.FamilyKey, inc.Severity, inc.EventType, inc.State,
		inc.OpenedAt, inc.LastEventAt, inc.LastAlertAt,
		inc.AcknowledgedAt, inc.AcknowledgedBy, inc.ResolvedAt, inc.ResolvedBy,
		inc.ResolutionReason, relatedEvents(inc), inc.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateIncident(ctx context.Context, inc *models.Incident) error {
	query := `
		UPDATE incidents SET
			severity = $2, event_type = $3, state = $4, last_event_at = $5,
			last_alert_at = $6, acknowledged_at = $7, acknowledged_by = $8,
			resolved_at = $9, resolved_by = $10, resolution_reason = $11,
			related_events = $12, version = $13
		WHERE id = $1 AND version = $14
	`
	tag, err := r.pool.Exec(ctx, query,
		inc.ID, inc.Severity, inc.EventType, inc.State, inc.LastEventAt,
		inc.LastAlertAt, inc.AcknowledgedAt, inc.AcknowledgedBy,
		inc.ResolvedAt, inc.ResolvedBy, inc.ResolutionReason,
		relatedEvents(inc), inc.Version, inc.Version-1,
	)
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM incidents WHERE id = $1)`, inc.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check incident: %w", err)
		}
		if !exists {
			return ErrIncidentNotFound
		}
		return ErrStateConflict
	}
	return nil
}

func (r *PostgresRepository) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	inc, err := scanIncident(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return inc, nil
}

func (r *PostgresRepository) ListIncidents(ctx context.Context, req *models.ListIncidentsRequest) ([]*models.Incident, int, error) {
	page, limit := normalizePage(req)

	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if req.State != "" {
		whereClause += fmt.Sprintf(" AND state = $%d", argPos)
		args = append(args, req.State)
		argPos++
	}
	if req.Severity != "" {
		whereClause += fmt.Sprintf(" AND severity = $%d", argPos)
		args = append(args, req.Severity)
		argPos++
	}
	if req.Family != "" {
		whereClause += fmt.Sprintf(" AND family_key = $%d", argPos)
		args = append(args, req.Family)
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM incidents "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count incidents: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM incidents %s ORDER BY opened_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		incidentColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, (page-1)*limit)

	incidents, err := r.queryIncidents(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return incidents, total, nil
}

func (r *PostgresRepository) ListActiveIncidents(ctx context.Context) ([]*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE state IN ('open', 'acknowledged') ORDER BY opened_at`
	return r.queryIncidents(ctx, query)
}

func (r *PostgresRepository) queryIncidents(ctx context.Context, query string, args ...interface{}) ([]*models.Incident, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	incidents := []*models.Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incidents: %w", err)
	}
	return incidents, nil
}

func (r *PostgresRepository) SaveAlert(ctx context.Context, a *models.Alert) error {
	query := `
		INSERT INTO alerts (id, incident_id, audience, severity, event_type, subject_line, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		a.ID, a.IncidentID, a.Audience, a.Severity, a.EventType, a.SubjectLine, a.Body, a.SentAt)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListAlerts(ctx context.Context, incidentID string) ([]*models.Alert, error) {
	query := `
		SELECT id, incident_id, audience, severity, event_type, subject_line, body, sent_at
		FROM alerts WHERE incident_id = $1 ORDER BY sent_at, id
	`
	rows, err := r.pool.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		a := &models.Alert{}
		if err := rows.Scan(&a.ID, &a.IncidentID, &a.Audience, &a.Severity, &a.EventType,
			&a.SubjectLine, &a.Body, &a.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// SaveMeasurements replaces the stored snapshot in one transaction.
func (r *PostgresRepository) SaveMeasurements(ctx context.Context, ms []models.Measurement) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM measurements`); err != nil {
		return fmt.Errorf("failed to clear measurements: %w", err)
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"measurements"},
		[]string{"metric_name", "value", "ts", "tags"},
		pgx.CopyFromSlice(len(ms), func(i int) ([]any, error) {
			return []any{ms[i].MetricName, ms[i].Value, ms[i].Timestamp, ms[i].Tags}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy measurements: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LoadMeasurements(ctx context.Context, since time.Time) ([]models.Measurement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT metric_name, value, ts, tags FROM measurements WHERE ts >= $1 ORDER BY metric_name, ts`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load measurements: %w", err)
	}
	defer rows.Close()

	var out []models.Measurement
	for rows.Next() {
		var m models.Measurement
		if err := rows.Scan(&m.MetricName, &m.Value, &m.Timestamp, &m.Tags); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// JSONB columns are NOT NULL; nil slices would be sent as SQL NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func relatedEvents(inc *models.Incident) []models.RelatedEvent {
	if inc.RelatedEvents == nil {
		return []models.RelatedEvent{}
	}
	return inc.RelatedEvents
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
