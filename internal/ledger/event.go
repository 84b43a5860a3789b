package ledger

import (
	"context"
	"time"
)

// Event is a typed record emitted by a contract.
type Event interface {
	EventName() string
}

// Log is an event together with the contract that emitted it.
type Log struct {
	Address Address   `json:"address"`
	Name    string    `json:"name"`
	Event   Event     `json:"event"`
	Time    time.Time `json:"time"`
}

// Receipt describes a committed unit of work.
type Receipt struct {
	Seq  uint64    `json:"seq"`
	From Address   `json:"from"`
	Time time.Time `json:"time"`
	Logs []Log     `json:"logs"`
}

// Find returns the first log with the given event name.
func (r *Receipt) Find(name string) (Log, bool) {
	for _, l := range r.Logs {
		if l.Name == name {
			return l, true
		}
	}
	return Log{}, false
}

// EventSink receives receipts after their unit committed.
type EventSink interface {
	Publish(ctx context.Context, r *Receipt) error
}
