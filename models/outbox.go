package models

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventResultSubmitted EventType = "result.submitted"
	EventMatchCompleted  EventType = "match.completed"
	EventMatchDisputed   EventType = "match.disputed"
	EventMatchWalkover   EventType = "match.walkover"
	EventRatingUpdated   EventType = "rating.updated"
	EventRecalcApplied   EventType = "recalculation.applied"
)

// OutboxEvent is a domain event appended in the same transaction as the core
// write that produced it. A dispatcher drains unpublished rows asynchronously
// so notification delivery never affects core correctness.
type OutboxEvent struct {
	ID          int             `json:"id"`
	Type        EventType       `json:"type"`
	Room        string          `json:"room"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}
