package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// setupTestDatabase creates a PostgreSQL testcontainer and runs migrations
func setupTestDatabase(t *testing.T) (*PostgresRepository, func()) {
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("creative_qa_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	if err := runMigrations(connStr); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	repo, err := NewPostgresRepository(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to create repository: %v", err)
	}

	cleanup := func() {
		_ = repo.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}
	return repo, cleanup
}

// runMigrations applies the init migration over database/sql
func runMigrations(connStr string) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	migrationPath := filepath.Join("..", "..", "migrations", "001_init.up.sql")
	migrationSQL, err := os.ReadFile(migrationPath)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}
	return nil
}

// Postgres keeps microsecond precision.
func pgTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func testIncident(id, family string, openedAt time.Time) *models.Incident {
	return &models.Incident{
		ID:          id,
		FamilyKey:   family,
		Severity:    models.SeverityWarning,
		EventType:   models.EventPerformance,
		State:       models.IncidentOpen,
		OpenedAt:    openedAt,
		LastEventAt: openedAt,
		RelatedEvents: []models.RelatedEvent{{
			Kind:       models.KindAnomaly,
			Ref:        "success_rate@" + openedAt.Format(time.RFC3339Nano),
			Severity:   models.SeverityWarning,
			EventType:  models.EventPerformance,
			Summary:    "success_rate deviated",
			OccurredAt: openedAt,
		}},
		Version: 1,
	}
}

func TestPostgresReports(t *testing.T) {
	repo, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	_, err := repo.GetReport(ctx, "missing")
	assert.ErrorIs(t, err, ErrReportNotFound)

	rec := &models.ReportRecord{
		QualityReport: models.QualityReport{
			CreativeID: "cr-1",
			CampaignID: "camp-1",
			Scores:     models.Scores{Technical: 1, Brand: 0.5, ContentSafety: 1, Visual: 0.8},
			Composite:  0.81,
			Verdict:    models.VerdictPass,
			Violations: []string{"brand: missing brand color #ff0000"},
		},
		EvaluatedAt: pgTime(time.Now()),
	}
	require.NoError(t, repo.SaveReport(ctx, rec))

	got, err := repo.GetReport(ctx, "cr-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Scores, got.Scores)
	assert.Equal(t, rec.Violations, got.Violations)
	assert.Empty(t, got.Recommendations)
	assert.True(t, rec.EvaluatedAt.Equal(got.EvaluatedAt))

	// Re-evaluation replaces the stored report.
	rec.Verdict = models.VerdictFail
	require.NoError(t, repo.SaveReport(ctx, rec))
	got, err = repo.GetReport(ctx, "cr-1")
	require.NoError(t, err)
	assert.Equal(t, models.VerdictFail, got.Verdict)
}

func TestPostgresIncidentLifecycle(t *testing.T) {
	repo, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	now := pgTime(time.Now())
	inc := testIncident("inc-1", "metric:success_rate", now)
	require.NoError(t, repo.CreateIncident(ctx, inc))

	got, err := repo.GetIncident(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, inc.FamilyKey, got.FamilyKey)
	require.Len(t, got.RelatedEvents, 1)
	assert.Equal(t, inc.RelatedEvents[0].Ref, got.RelatedEvents[0].Ref)
	assert.Nil(t, got.LastAlertAt)

	ack := now.Add(time.Minute)
	got.State = models.IncidentAcknowledged
	got.AcknowledgedAt = &ack
	got.AcknowledgedBy = "ops"
	got.Version = 2
	require.NoError(t, repo.UpdateIncident(ctx, got))

	// Same version again is stale.
	assert.ErrorIs(t, repo.UpdateIncident(ctx, got), ErrStateConflict)

	missing := testIncident("nope", "metric:x", now)
	missing.Version = 2
	assert.ErrorIs(t, repo.UpdateIncident(ctx, missing), ErrIncidentNotFound)

	stored, err := repo.GetIncident(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, models.IncidentAcknowledged, stored.State)
	assert.Equal(t, "ops", stored.AcknowledgedBy)
	assert.Equal(t, 2, stored.Version)

	active, err := repo.ListActiveIncidents(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = repo.GetIncident(ctx, "nope")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestPostgresListIncidents(t *testing.T) {
	repo, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	base := pgTime(time.Now())
	for i := 0; i < 3; i++ {
		inc := testIncident(fmt.Sprintf("inc-%d", i), fmt.Sprintf("metric:m%d", i), base.Add(time.Duration(i)*time.Minute))
		if i == 2 {
			inc.Severity = models.SeverityCritical
		}
		require.NoError(t, repo.CreateIncident(ctx, inc))
	}

	tests := []struct {
		name    string
		req     models.ListIncidentsRequest
		wantIDs []string
		total   int
	}{
		{"all newest first", models.ListIncidentsRequest{}, []string{"inc-2", "inc-1", "inc-0"}, 3},
		{"by severity", models.ListIncidentsRequest{Severity: models.SeverityCritical}, []string{"inc-2"}, 1},
		{"by family", models.ListIncidentsRequest{Family: "metric:m0"}, []string{"inc-0"}, 1},
		{"paged", models.ListIncidentsRequest{Page: 2, Limit: 2}, []string{"inc-0"}, 3},
		{"resolved only", models.ListIncidentsRequest{State: models.IncidentResolved}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := repo.ListIncidents(ctx, &tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.total, total)
			var ids []string
			for _, inc := range got {
				ids = append(ids, inc.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestPostgresAlertsAndMeasurements(t *testing.T) {
	repo, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	now := pgTime(time.Now())
	require.NoError(t, repo.CreateIncident(ctx, testIncident("inc-a", "metric:a", now)))
	require.NoError(t, repo.SaveAlert(ctx, &models.Alert{
		ID:          "al-1",
		IncidentID:  "inc-a",
		Audience:    models.AudienceIT,
		Severity:    models.SeverityWarning,
		EventType:   models.EventPerformance,
		SubjectLine: "[WARNING] performance",
		Body:        "body",
		SentAt:      now,
	}))
	alerts, err := repo.ListAlerts(ctx, "inc-a")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AudienceIT, alerts[0].Audience)

	ms := []models.Measurement{
		{MetricName: "success_rate", Value: 0.9, Timestamp: now.Add(-2 * time.Hour)},
		{MetricName: "success_rate", Value: 0.95, Timestamp: now, Tags: map[string]string{"endpoint": "/v1/render"}},
	}
	require.NoError(t, repo.SaveMeasurements(ctx, ms))
	require.NoError(t, repo.SaveMeasurements(ctx, ms[1:]))

	loaded, err := repo.LoadMeasurements(ctx, now.Add(-3*time.Hour))
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "/v1/render", loaded[0].Tags["endpoint"])
}
