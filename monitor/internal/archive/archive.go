// Package archive copies quality reports and sent alerts into OpenSearch for
// ad-hoc search and dashboards.
package archive

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// Archive receives finished reports and delivered alerts.
type Archive interface {
	IndexReport(ctx context.Context, rec *models.ReportRecord) error
	IndexAlert(ctx context.Context, a *models.Alert) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) IndexReport(context.Context, *models.ReportRecord) error { return nil }
func (Nop) IndexAlert(context.Context, *models.Alert) error         { return nil }

type Config struct {
	URL         string
	Username    string
	Password    string
	Insecure    bool
	IndexPrefix string
}

// OpenSearchArchive writes one document per report and alert into monthly
// indices named <prefix>-reports-YYYY.MM and <prefix>-alerts-YYYY.MM.
type OpenSearchArchive struct {
	client *opensearch.Client
	prefix string
}

func NewOpenSearchArchive(cfg Config) (*OpenSearchArchive, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Insecure,
			},
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	prefix := cfg.IndexPrefix
	if prefix == "" {
		prefix = "creative-qa"
	}
	return &OpenSearchArchive{client: client, prefix: prefix}, nil
}

// EnsureTemplate installs the index template shared by both document kinds.
func (a *OpenSearchArchive) EnsureTemplate(ctx context.Context) error {
	template := map[string]interface{}{
		"index_patterns": []string{a.prefix + "-*"},
		"template": map[string]interface{}{
			"settings": map[string]interface{}{
				"number_of_shards":   1,
				"number_of_replicas": 0,
			},
			"mappings": map[string]interface{}{
				"dynamic": true,
				"properties": map[string]interface{}{
					"creative_id":  map[string]string{"type": "keyword"},
					"campaign_id":  map[string]string{"type": "keyword"},
					"incident_id":  map[string]string{"type": "keyword"},
					"audience":     map[string]string{"type": "keyword"},
					"severity":     map[string]string{"type": "keyword"},
					"event_type":   map[string]string{"type": "keyword"},
					"verdict":      map[string]string{"type": "keyword"},
					"composite":    map[string]string{"type": "float"},
					"evaluated_at": map[string]string{"type": "date"},
					"timestamp":    map[string]string{"type": "date"},
				},
			},
		},
		"priority": 100,
	}

	body, err := json.Marshal(template)
	if err != nil {
		return err
	}
	res, err := a.client.Indices.PutIndexTemplate(
		a.prefix+"-template",
		bytes.NewReader(body),
		a.client.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create index template: %s - %s", res.Status(), string(bodyBytes))
	}
	return nil
}

func (a *OpenSearchArchive) IndexReport(ctx context.Context, rec *models.ReportRecord) error {
	return a.index(ctx, a.indexName("reports", rec.EvaluatedAt), rec.CreativeID, rec)
}

func (a *OpenSearchArchive) IndexAlert(ctx context.Context, al *models.Alert) error {
	return a.index(ctx, a.indexName("alerts", al.SentAt), al.ID, al)
}

func (a *OpenSearchArchive) indexName(kind string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s", a.prefix, kind, at.UTC().Format("2006.01"))
}

func (a *OpenSearchArchive) index(ctx context.Context, index, id string, doc interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	res, err := a.client.Index(
		index,
		bytes.NewReader(body),
		a.client.Index.WithDocumentID(id),
		a.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to index document in %s: %s - %s", index, res.Status(), string(bodyBytes))
	}
	return nil
}
