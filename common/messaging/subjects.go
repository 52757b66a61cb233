package messaging

// Subjects follow {domain}.{resource}.{action}.
const (
	// Inbound measurements from pipeline stages, one Measurement or a batch.
	SubjectMetricsIngest = "qa.metrics.ingest"

	SubjectReportsEvaluated = "qa.reports.evaluated"

	SubjectIncidentsOpened   = "qa.incidents.opened"
	SubjectIncidentsUpdated  = "qa.incidents.updated"
	SubjectIncidentsResolved = "qa.incidents.resolved"

	SubjectAlertsSent = "qa.alerts.sent"

	// Dead-lettered alert deliveries, suffixed with the audience.
	SubjectAlertsDeadLetter = "qa.alerts.dlq"
)

// QueueMetricsIngest shares the ingest subject across monitor replicas.
const QueueMetricsIngest = "qa-monitor-ingest"

// AlertDeadLetterSubject returns the dead-letter subject for audience.
func AlertDeadLetterSubject(audience string) string {
	return SubjectAlertsDeadLetter + "." + audience
}
