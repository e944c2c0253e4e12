package models

import "time"

// ActionChatQuery is the only metered action kind.
const ActionChatQuery = "chat_query"

// UsageEvent is one immutable record from the append-only usage log.
type UsageEvent struct {
	ID             int64          `json:"id"`
	OrganizationID string         `json:"organization_id"`
	ActorID        string         `json:"actor_id,omitempty"`
	Action         string         `json:"action"`
	CreatedAt      time.Time      `json:"created_at"`
	Details        map[string]any `json:"details,omitempty"`
}
