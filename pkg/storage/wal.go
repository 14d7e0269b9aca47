package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/guessly/clob/pkg/app/events"
)

// EventLog appends every engine event as one JSON line. It implements
// events.Sink and serves as an audit trail next to the Pebble journal.
type EventLog struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
	err error
}

func NewEventLog(path string) (*EventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &EventLog{f: f, enc: json.NewEncoder(f)}, nil
}

func (w *EventLog) Publish(batch []events.Envelope) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range batch {
		if err := w.enc.Encode(e); err != nil && w.err == nil {
			w.err = err
		}
	}
}

// Err reports the first write failure, if any.
func (w *EventLog) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *EventLog) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

var _ events.Sink = (*EventLog)(nil)
