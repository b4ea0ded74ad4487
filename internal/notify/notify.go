// Package notify delivers access codes and announcements to an out-of-band
// channel.  The production channel is a Discord-compatible webhook; in dev
// the log notifier writes the same message to the server log instead.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrDelivery is wrapped by every notifier failure.
var ErrDelivery = errors.New("notify: delivery failed")

// Notifier sends one message.  Implementations make exactly one attempt and
// never retry on their own.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Message mirrors the webhook execute payload.
type Message struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

type Embed struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Footer      *Footer `json:"footer,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type Footer struct {
	Text string `json:"text"`
}

// Policy decides what a call site does when Notify fails.
type Policy string

const (
	// PolicyRequired makes the surrounding operation fail.
	PolicyRequired Policy = "required"
	// PolicyBestEffort logs the failure and lets the operation succeed.
	PolicyBestEffort Policy = "best_effort"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyRequired:
		return PolicyRequired, nil
	case PolicyBestEffort, "best-effort", "besteffort":
		return PolicyBestEffort, nil
	default:
		return "", fmt.Errorf("notify: unknown policy %q", s)
	}
}
