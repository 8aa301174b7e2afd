package observability

// WebSocket lifecycle event names.
const (
	WSConnect    = "ws_connect"
	WSDisconnect = "ws_disconnect"
	WSError      = "ws_error"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

type WSPayload struct {
	WS       WSDetails `json:"ws"`
	Identity Identity  `json:"identity"`
}

type WSDetails struct {
	Kind       string `json:"kind"`
	Event      string `json:"event"`
	ConnID     string `json:"conn_id"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason"`
}

type Identity struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	IP       string `json:"ip"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
