package evaluation

import (
	"time"
)

// Status is the lifecycle state of one document/backend pair.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Progress is emitted as each pair moves through the run.
type Progress struct {
	DocumentID  string        `json:"document_id"`
	BackendName string        `json:"backend_name"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	Current     int           `json:"current"` // 1-based position in canonical order
	Total       int           `json:"total"`
}

// Observer receives progress events. Implementations must be safe for
// concurrent use; they cannot influence the run.
type Observer interface {
	Observe(Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Progress)

// Observe calls f(p).
func (f ObserverFunc) Observe(p Progress) { f(p) }

// Observers fans events out to several observers in order.
type Observers []Observer

// Observe forwards p to every non-nil observer.
func (o Observers) Observe(p Progress) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(p)
		}
	}
}
