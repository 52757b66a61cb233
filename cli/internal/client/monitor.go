package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotFound is returned when the monitor answers 404.
var ErrNotFound = errors.New("not found")

type MonitorClient struct {
	baseURL  string
	token    string
	operator string
	client   *http.Client
}

type Creative struct {
	ID          string   `json:"id" yaml:"id"`
	CampaignID  string   `json:"campaign_id,omitempty" yaml:"campaign_id"`
	Format      string   `json:"format" yaml:"format"`
	Width       int      `json:"width" yaml:"width"`
	Height      int      `json:"height" yaml:"height"`
	Payload     []byte   `json:"payload" yaml:"-"`
	OverlayText string   `json:"overlay_text,omitempty" yaml:"overlay_text"`
	Elements    []string `json:"elements,omitempty" yaml:"elements"`
}

type Campaign struct {
	CampaignID       string   `json:"campaign_id" yaml:"campaign_id"`
	BrandColors      []string `json:"brand_colors,omitempty" yaml:"brand_colors"`
	ProhibitedWords  []string `json:"prohibited_words,omitempty" yaml:"prohibited_words"`
	TargetWidth      int      `json:"target_width,omitempty" yaml:"target_width"`
	TargetHeight     int      `json:"target_height,omitempty" yaml:"target_height"`
	Message          string   `json:"message" yaml:"message"`
	RequiredElements []string `json:"required_elements,omitempty" yaml:"required_elements"`
}

type EvaluateRequest struct {
	Creative Creative  `json:"creative"`
	Campaign *Campaign `json:"campaign"`
}

type Scores struct {
	Technical     float64 `json:"technical"`
	Brand         float64 `json:"brand"`
	ContentSafety float64 `json:"content_safety"`
	Visual        float64 `json:"visual"`
}

type Report struct {
	CreativeID      string     `json:"creative_id"`
	CampaignID      string     `json:"campaign_id,omitempty"`
	Scores          Scores     `json:"scores"`
	Composite       float64    `json:"composite"`
	Verdict         string     `json:"verdict"`
	Violations      []string   `json:"violations"`
	Recommendations []string   `json:"recommendations"`
	EvaluatedAt     *time.Time `json:"evaluated_at,omitempty"`
}

func (r *Report) Passed() bool { return r.Verdict == "pass" }

type Measurement struct {
	MetricName string            `json:"metric_name"`
	Value      float64           `json:"value"`
	Timestamp  time.Time         `json:"timestamp"`
	Tags       map[string]string `json:"tags,omitempty"`
}

type MeasurementsResponse struct {
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Error    string `json:"error,omitempty"`
}

type WindowStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Latest float64 `json:"latest"`
}

type WindowResponse struct {
	MetricName   string        `json:"metric_name"`
	Stats        *WindowStats  `json:"stats,omitempty"`
	Measurements []Measurement `json:"measurements"`
}

type RelatedEvent struct {
	Kind       string    `json:"kind"`
	Ref        string    `json:"ref"`
	Severity   string    `json:"severity"`
	EventType  string    `json:"event_type"`
	Summary    string    `json:"summary"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Incident struct {
	ID               string         `json:"id"`
	FamilyKey        string         `json:"family_key"`
	Severity         string         `json:"severity"`
	EventType        string         `json:"event_type"`
	State            string         `json:"state"`
	OpenedAt         time.Time      `json:"opened_at"`
	LastEventAt      time.Time      `json:"last_event_at"`
	LastAlertAt      *time.Time     `json:"last_alert_at,omitempty"`
	AcknowledgedAt   *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy   string         `json:"acknowledged_by,omitempty"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy       string         `json:"resolved_by,omitempty"`
	ResolutionReason string         `json:"resolution_reason,omitempty"`
	RelatedEvents    []RelatedEvent `json:"related_events"`
	Version          int            `json:"version"`
}

type IncidentsResponse struct {
	Incidents []Incident `json:"incidents"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	Limit     int        `json:"limit"`
}

// IncidentFilter narrows ListIncidents. Empty fields are not sent.
type IncidentFilter struct {
	State    string
	Severity string
	Family   string
	Page     int
	Limit    int
}

type Alert struct {
	ID          string    `json:"id"`
	IncidentID  string    `json:"incident_id"`
	Audience    string    `json:"audience"`
	Severity    string    `json:"severity"`
	EventType   string    `json:"event_type"`
	SubjectLine string    `json:"subject_line"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"timestamp"`
}

type Health struct {
	Status   string                 `json:"status"`
	Error    string                 `json:"error,omitempty"`
	Dispatch map[string]interface{} `json:"dispatch,omitempty"`
}

func NewMonitorClient(baseURL, token, operator string) *MonitorClient {
	return &MonitorClient{
		baseURL:  baseURL,
		token:    token,
		operator: operator,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *MonitorClient) doRequest(method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(bodyBytes)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.operator != "" {
		req.Header.Set("X-Operator", c.operator)
	}

	return c.client.Do(req)
}

// apiError turns a non-success response into an error carrying the
// server's message.
func apiError(resp *http.Response, op string) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
	}
	msg := string(bytes.TrimSpace(bodyBytes))
	if json.Unmarshal(bodyBytes, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("failed to %s: %w: %s", op, ErrNotFound, msg)
	}
	return fmt.Errorf("failed to %s (%d): %s", op, resp.StatusCode, msg)
}

func (c *MonitorClient) get(path, op string, out interface{}) error {
	resp, err := c.doRequest("GET", path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp, op)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Evaluate scores a creative. A 422 still carries the failing report, which
// is returned alongside the error.
func (c *MonitorClient) Evaluate(req *EvaluateRequest) (*Report, error) {
	resp, err := c.doRequest("POST", "/api/v1/creatives/evaluate", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnprocessableEntity:
		var report Report
		if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnprocessableEntity {
			return &report, fmt.Errorf("creative input rejected: %v", report.Violations)
		}
		return &report, nil
	default:
		return nil, apiError(resp, "evaluate creative")
	}
}

func (c *MonitorClient) GetReport(creativeID string) (*Report, error) {
	var report Report
	if err := c.get("/api/v1/reports/"+url.PathEscape(creativeID), "get report", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *MonitorClient) RecordMeasurements(ms []Measurement) (*MeasurementsResponse, error) {
	resp, err := c.doRequest("POST", "/api/v1/measurements", ms)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out MeasurementsResponse
	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusBadRequest:
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusBadRequest {
			return &out, fmt.Errorf("no measurements accepted: %s", out.Error)
		}
		return &out, nil
	default:
		return nil, apiError(resp, "record measurements")
	}
}

func (c *MonitorClient) ListMetrics() ([]string, error) {
	var out struct {
		Metrics []string `json:"metrics"`
	}
	if err := c.get("/api/v1/metrics", "list metrics", &out); err != nil {
		return nil, err
	}
	return out.Metrics, nil
}

func (c *MonitorClient) MetricWindow(name string, size int, span time.Duration) (*WindowResponse, error) {
	q := url.Values{}
	if size > 0 {
		q.Set("size", strconv.Itoa(size))
	}
	if span > 0 {
		q.Set("span", span.String())
	}
	path := "/api/v1/metrics/" + url.PathEscape(name) + "/window"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out WindowResponse
	if err := c.get(path, "get metric window", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *MonitorClient) ListIncidents(f IncidentFilter) (*IncidentsResponse, error) {
	q := url.Values{}
	for key, val := range map[string]string{"state": f.State, "severity": f.Severity, "family": f.Family} {
		if val != "" {
			q.Set(key, val)
		}
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := "/api/v1/incidents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out IncidentsResponse
	if err := c.get(path, "list incidents", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *MonitorClient) GetIncident(id string) (*Incident, error) {
	var inc Incident
	if err := c.get("/api/v1/incidents/"+url.PathEscape(id), "get incident", &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

func (c *MonitorClient) IncidentAlerts(id string) ([]Alert, error) {
	var out struct {
		Alerts []Alert `json:"alerts"`
	}
	if err := c.get("/api/v1/incidents/"+url.PathEscape(id)+"/alerts", "list incident alerts", &out); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}

func (c *MonitorClient) Acknowledge(id string) (*Incident, error) {
	return c.incidentAction(id, "acknowledge", nil)
}

func (c *MonitorClient) Resolve(id, reason string) (*Incident, error) {
	var body interface{}
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	return c.incidentAction(id, "resolve", body)
}

func (c *MonitorClient) incidentAction(id, action string, body interface{}) (*Incident, error) {
	resp, err := c.doRequest("POST", "/api/v1/incidents/"+url.PathEscape(id)+"/"+action, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp, action+" incident")
	}
	var inc Incident
	if err := json.NewDecoder(resp.Body).Decode(&inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

// Health reports the monitor's status. An unhealthy monitor returns the
// decoded body and an error.
func (c *MonitorClient) Health() (*Health, error) {
	resp, err := c.doRequest("GET", "/healthz", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode health (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &h, fmt.Errorf("monitor unhealthy: %s", h.Error)
	}
	return &h, nil
}
