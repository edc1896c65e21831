// Package usage provides usage event types and aggregation functions.
// All functions are pure - no side effects.
package usage

import (
	"strings"
	"time"
)

// UnrecordedEventID is returned by the recorder when the event could not be persisted.
const UnrecordedEventID = "unrecorded"

// Placeholders substituted for missing identifiers. Metering never rejects the billed call.
const (
	AnonymousUser   = "anonymous"
	UnknownEndpoint = "unknown"
)

// Event represents a single metered API call (immutable value type).
type Event struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Endpoint     string    `json:"endpoint"`
	Timestamp    time.Time `json:"timestamp"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	TotalTokens  int64     `json:"total_tokens"`
	Cost         float64   `json:"cost"`
	DurationMs   int64     `json:"duration_ms"`
	Success      bool      `json:"success"`
	ErrorCode    string    `json:"error_code,omitempty"`
	CacheHit     bool      `json:"cache_hit"`
	RequestID    string    `json:"request_id,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
}

// Metadata is optional request context attached to an event.
type Metadata struct {
	RequestID string `json:"request_id,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// Input is what a caller supplies to record one call.
type Input struct {
	UserID       string   `json:"user_id"`
	Endpoint     string   `json:"endpoint"`
	InputTokens  int64    `json:"input_tokens"`
	OutputTokens int64    `json:"output_tokens"`
	DurationMs   int64    `json:"duration_ms"`
	Success      bool     `json:"success"`
	ErrorCode    string   `json:"error_code,omitempty"`
	CacheHit     bool     `json:"cache_hit"`
	Metadata     Metadata `json:"metadata"`
}

// Normalize fills placeholder identifiers and clamps negative counters.
func (in Input) Normalize() Input {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		in.UserID = AnonymousUser
	}
	in.Endpoint = strings.TrimSpace(in.Endpoint)
	if in.Endpoint == "" {
		in.Endpoint = UnknownEndpoint
	}
	if in.InputTokens < 0 {
		in.InputTokens = 0
	}
	if in.OutputTokens < 0 {
		in.OutputTokens = 0
	}
	if in.DurationMs < 0 {
		in.DurationMs = 0
	}
	return in
}

// NewEvent builds the immutable event for a normalized input.
func NewEvent(id string, in Input, cost float64, ts time.Time) Event {
	return Event{
		ID:           id,
		UserID:       in.UserID,
		Endpoint:     in.Endpoint,
		Timestamp:    ts,
		InputTokens:  in.InputTokens,
		OutputTokens: in.OutputTokens,
		TotalTokens:  in.InputTokens + in.OutputTokens,
		Cost:         cost,
		DurationMs:   in.DurationMs,
		Success:      in.Success,
		ErrorCode:    in.ErrorCode,
		CacheHit:     in.CacheHit,
		RequestID:    in.Metadata.RequestID,
		UserAgent:    in.Metadata.UserAgent,
		IPAddress:    in.Metadata.IPAddress,
	}
}
