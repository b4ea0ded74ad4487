package notify

import (
	"context"
	"log"
	"strings"
	"sync"
)

// LogNotifier prints messages to a logger.  It stands in for the webhook on
// dev servers so the issued code can be read from the server log.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.logger.Printf("notify: %s", Summary(msg))
	return nil
}

// Summary flattens a message into one line.
func Summary(msg Message) string {
	var parts []string
	if msg.Content != "" {
		parts = append(parts, msg.Content)
	}
	for _, e := range msg.Embeds {
		if e.Title != "" {
			parts = append(parts, e.Title)
		}
		if e.Description != "" {
			parts = append(parts, e.Description)
		}
		for _, f := range e.Fields {
			parts = append(parts, f.Name+"="+f.Value)
		}
	}
	return strings.Join(parts, " | ")
}

// Recorder keeps every message it is given.  After SetErr, calls still
// record but return the configured error.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *Recorder) Notify(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *Recorder) SetErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}
