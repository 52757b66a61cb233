package messaging

// HealthStatus reports the broker connection state on /healthz.
type HealthStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// CheckClientHealth inspects client's connection state.
func CheckClientHealth(client Client) HealthStatus {
	if client == nil {
		return HealthStatus{Error: "client is nil"}
	}
	if !client.IsConnected() {
		return HealthStatus{Error: "not connected to message broker"}
	}
	return HealthStatus{Connected: true}
}
