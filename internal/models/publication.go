package models

import "time"

type PublicationStatus string

const (
	PublicationStatusSuccess PublicationStatus = "success"
	PublicationStatusFailed  PublicationStatus = "failed"
)

// Publication is the outcome of publishing one content to one platform.
// (content_id, platform) is unique; writes are upserts.
type Publication struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	ContentID    string            `gorm:"size:36;not null;uniqueIndex:idx_publications_content_platform" json:"content_id"`
	Platform     Platform          `gorm:"size:20;not null;uniqueIndex:idx_publications_content_platform" json:"platform"`
	Status       PublicationStatus `gorm:"size:20;not null;index" json:"status"`
	ExternalID   string            `gorm:"size:255" json:"external_id,omitempty"`
	URL          string            `gorm:"type:text" json:"url,omitempty"`
	ErrorMessage string            `gorm:"type:text" json:"error_message,omitempty"`
	PublishedAt  *time.Time        `json:"published_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (p *Publication) Succeeded() bool {
	return p.Status == PublicationStatusSuccess
}
