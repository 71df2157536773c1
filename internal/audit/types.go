package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Model lifecycle events
	EventModelTrained     EventType = "model.trained"
	EventModelTrainFailed EventType = "model.train_failed"
	EventModelRestored    EventType = "model.restored"
	EventModelStale       EventType = "model.stale"

	// Data events
	EventRecordsIngested EventType = "records.ingested"
	EventRecordsScored   EventType = "records.scored"
	EventScoringFailed   EventType = "records.scoring_failed"

	// Alert events
	EventAlertEmitted EventType = "alert.emitted"

	// Configuration events
	EventConfigLoaded EventType = "config.loaded"
	EventConfigReload EventType = "config.reload"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Event represents a single audit event
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Result    Result    `json:"result"`

	// Resource is what the event concerns: a vehicle ID, a model version,
	// or a rule type.
	Resource string `json:"resource,omitempty"`

	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Error information
	Error string `json:"error,omitempty"`

	// Duration tracking
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultSuccess,
		Metadata:  make(map[string]interface{}),
	}
}

// WithResource sets the resource being acted upon
func (e *Event) WithResource(resource string) *Event {
	e.Resource = resource
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information and marks the event failed
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
