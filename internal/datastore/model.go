// model.go defines the persistent data model for the application.
package datastore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AnalysisStatus tracks whether the asynchronous worker has produced a
// result for a screenshot.
type AnalysisStatus string

const (
	StatusPending AnalysisStatus = "PENDING"
	StatusDone    AnalysisStatus = "DONE"
)

// User maps an external identity to the internal numeric key everything
// else is stored under. Authentication itself happens upstream.
type User struct {
	ID         uint   `gorm:"primaryKey"`
	ExternalID string `gorm:"uniqueIndex;size:64;not null"`
	Username   string `gorm:"size:128"`
	CreatedAt  time.Time
}

// ScreenshotImage is one deduplicated capture and its analysis state.
type ScreenshotImage struct {
	ID             uint   `gorm:"primaryKey"`
	UserID         uint   `gorm:"index:idx_screenshots_user;not null"`
	ImageHash      string `gorm:"size:64;index:idx_screenshots_user_hash"`
	VisitCount     int
	CapturedAt     time.Time
	LastVisitedAt  time.Time
	AnalysisStatus AnalysisStatus `gorm:"type:varchar(16);not null;index"`
	AnalysisResult string         `gorm:"type:text"`

	// ParentImageID links a capture that arrived while its near-duplicate
	// was still being analyzed to that in-flight record.
	ParentImageID *uint `gorm:"index"`
}

// MarkRevisited bumps the visit counter and timestamp for a re-seen scene.
func (s *ScreenshotImage) MarkRevisited(now time.Time) {
	s.LastVisitedAt = now
	s.VisitCount++
}

// StringList stores a JSON-encoded list of strings in a text column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("encoding string list: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported string list type %T", value)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, l)
}

// Suggestion is one AI analysis result for a screenshot. Inserting a row
// fires the notify trigger that drives the SSE fan-out.
type Suggestion struct {
	ID                  uint `gorm:"primaryKey"`
	UserID              uint `gorm:"index;not null;column:user_id"`
	ImageID             uint `gorm:"index"`
	RepresentativeImage string
	Description         string           `gorm:"type:text"`
	PredictedActions    StringList       `gorm:"type:text"`
	CreatedAt           time.Time        `gorm:"index"`
	Items               []SuggestionItem `gorm:"foreignKey:SuggestionID;constraint:OnDelete:CASCADE"`
}

// TableName keeps the table name aligned with the notify trigger.
func (Suggestion) TableName() string { return "suggestions" }

// SuggestionItem is one predicted question belonging to a suggestion.
type SuggestionItem struct {
	ID           uint   `gorm:"primaryKey"`
	SuggestionID uint   `gorm:"index;not null"`
	Question     string `gorm:"type:text;not null"`
}

// TableName keeps the table name aligned with the payload queries.
func (SuggestionItem) TableName() string { return "suggestion_items" }
