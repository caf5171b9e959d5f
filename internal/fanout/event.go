// Package fanout delivers job lifecycle events to live listeners subscribed
// under the job owner's identity. Delivery is best effort: a listener that
// is not connected misses the event and reconciles by polling the job store.
package fanout

// Event types pushed to listeners.
const (
	TypeConnectionEstablished = "connection_established"
	TypeJobUpdate             = "job_update"
	TypeJobCompleted          = "job_completed"
	TypeJobFailed             = "job_failed"
	TypePong                  = "pong"
	TypeError                 = "error"
)

// Event is one lifecycle notification. OwnerID selects the channel and is
// never serialized to listeners.
type Event struct {
	Type    string         `json:"type"`
	OwnerID string         `json:"-"`
	Data    map[string]any `json:"data,omitempty"`
}

// ProgressEvent builds a job_update event.
func ProgressEvent(ownerID, jobID string, progress int) Event {
	return Event{
		Type:    TypeJobUpdate,
		OwnerID: ownerID,
		Data: map[string]any{
			"job_id":   jobID,
			"progress": progress,
		},
	}
}

// CompletedEvent builds a job_completed event carrying the result payload.
func CompletedEvent(ownerID, jobID string, result map[string]any) Event {
	return Event{
		Type:    TypeJobCompleted,
		OwnerID: ownerID,
		Data: map[string]any{
			"job_id": jobID,
			"result": result,
		},
	}
}

// FailedEvent builds a job_failed event carrying the error text.
func FailedEvent(ownerID, jobID, errorMessage string) Event {
	return Event{
		Type:    TypeJobFailed,
		OwnerID: ownerID,
		Data: map[string]any{
			"job_id": jobID,
			"error":  errorMessage,
		},
	}
}
