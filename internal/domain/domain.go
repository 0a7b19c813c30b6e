package domain

import (
	"context"
	"encoding/json"
	"time"
)

// --- Model types ---

// ProjectStatus is the lifecycle state of a consulting project.
type ProjectStatus string

const (
	StatusPending    ProjectStatus = "pending"
	StatusInProgress ProjectStatus = "in_progress"
	StatusInReview   ProjectStatus = "in_review"
	StatusCompleted  ProjectStatus = "completed"
	StatusFailed     ProjectStatus = "failed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s ProjectStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusInReview, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Project is the unit of work whose lifecycle is broadcast to subscribers.
// ClientID is the owning customer identity; it drives the secondary fan-out.
type Project struct {
	ID           string        `json:"id" db:"id"`
	ClientID     string        `json:"clientId" db:"client_id"`
	Title        string        `json:"title" db:"title"`
	Status       ProjectStatus `json:"status" db:"status"`
	QualityScore *float64      `json:"qualityScore,omitempty" db:"quality_score"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt    time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time     `json:"updatedAt" db:"updated_at"`
}

// ProgressEntry is one persisted progress update. Data is the opaque payload
// supplied by the business layer; the core never interprets it.
type ProgressEntry struct {
	ID        int64           `json:"id" db:"id"`
	ProjectID string          `json:"projectId" db:"project_id"`
	Data      json.RawMessage `json:"data" db:"data"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// ProjectUpdate carries the fields of a partial project update. Nil fields are
// left untouched by the store.
type ProjectUpdate struct {
	Status       *ProjectStatus
	QualityScore *float64
	CompletedAt  *time.Time
}

// --- Interfaces ---

// ProjectStore is the persistence gateway consumed by the real-time core.
// Implementations are expected to be safe for concurrent use.
type ProjectStore interface {
	GetProject(ctx context.Context, projectID string) (*Project, error)
	UpdateProject(ctx context.Context, projectID string, update ProjectUpdate) error
	GetProgressUpdates(ctx context.Context, projectID string, limit int) ([]ProgressEntry, error)
	AddProgressUpdate(ctx context.Context, projectID string, data json.RawMessage) (*ProgressEntry, error)
	SaveProjectReport(ctx context.Context, projectID string, report json.RawMessage) error
}

// ConnectionStats is the operational snapshot exposed for monitoring.
type ConnectionStats struct {
	TotalConnections   int            `json:"totalConnections"`
	ProjectSubscribers map[string]int `json:"projectSubscribers"`
	ClientSubscribers  map[string]int `json:"clientSubscribers"`
}
