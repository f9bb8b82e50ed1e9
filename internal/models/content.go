package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type ContentStatus string

const (
	ContentStatusPending   ContentStatus = "pending"
	ContentStatusApproved  ContentStatus = "approved"
	ContentStatusPublished ContentStatus = "published"
	ContentStatusFailed    ContentStatus = "failed"
	ContentStatusCancelled ContentStatus = "cancelled"
)

func (s ContentStatus) Valid() bool {
	switch s {
	case ContentStatusPending, ContentStatusApproved, ContentStatusPublished, ContentStatusFailed, ContentStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ContentStatus) Terminal() bool {
	return s == ContentStatusPublished || s == ContentStatusFailed || s == ContentStatusCancelled
}

var contentTransitions = map[ContentStatus][]ContentStatus{
	ContentStatusPending:  {ContentStatusApproved, ContentStatusCancelled, ContentStatusFailed},
	ContentStatusApproved: {ContentStatusPublished, ContentStatusFailed},
}

// CanTransition reports whether from -> to moves the status forward.
func (s ContentStatus) CanTransition(to ContentStatus) bool {
	for _, next := range contentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancel reasons stored alongside a cancelled content.
const (
	CancelReasonRejected = "rejected"
	CancelReasonExpired  = "expired"
)

// RootSection names the piece of content.
type RootSection struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	AdditionalNotes string `json:"additional_notes,omitempty"`
}

// CommonSection holds fields shared by every platform schema.
type CommonSection struct {
	Hashtags        []string `json:"hashtags"`
	ImageSuggestion string   `json:"image_suggestion"`
}

// ContentBody is the structured generator output.
type ContentBody struct {
	Root   RootSection    `json:"root_schema"`
	Common CommonSection  `json:"common_schema"`
	Schema map[string]any `json:"schema"`
}

func (b ContentBody) field(key string) string {
	if b.Schema == nil {
		return ""
	}
	v, ok := b.Schema[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Text is the main body to post: post, caption or description, whichever is present.
func (b ContentBody) Text() string {
	for _, key := range []string{"post", "caption", "description"} {
		if s := strings.TrimSpace(b.field(key)); s != "" {
			return s
		}
	}
	return b.Root.Description
}

// Title is used by platforms that need one (YouTube).
func (b ContentBody) Title() string {
	if t := strings.TrimSpace(b.field("title")); t != "" {
		return t
	}
	return b.Root.Name
}

// CallToAction returns the schema's call_to_action when present.
func (b ContentBody) CallToAction() string {
	return strings.TrimSpace(b.field("call_to_action"))
}

func (b ContentBody) HasImageSuggestion() bool {
	return strings.TrimSpace(b.Common.ImageSuggestion) != ""
}

// Content is one generated piece flowing through approval and publication.
// Its ID equals the ID of the generate task that produced it.
type Content struct {
	ID                 string                           `gorm:"primaryKey;size:36" json:"id"`
	Platform           Platform                         `gorm:"size:20;not null;index" json:"platform"`
	Targets            datatypes.JSONType[[]Platform]   `json:"targets"`
	UserPrompt         string                           `gorm:"type:text;not null" json:"user_prompt"`
	GeneratedBody      datatypes.JSONType[ContentBody]  `json:"generated_body"`
	ImageURL           string                           `gorm:"type:text" json:"image_url,omitempty"`
	MediaURLs          datatypes.JSONType[[]string]     `json:"media_urls"`
	ScheduledAt        *time.Time                       `gorm:"index" json:"scheduled_at,omitempty"`
	Status             ContentStatus                    `gorm:"size:20;not null;index" json:"status"`
	ApprovalToken      *string                          `gorm:"size:64;uniqueIndex" json:"-"`
	ApprovalIssuedAt   *time.Time                       `json:"approval_issued_at,omitempty"`
	ApprovalExpiresAt  *time.Time                       `json:"approval_expires_at,omitempty"`
	ApprovalConsumedAt *time.Time                       `json:"approval_consumed_at,omitempty"`
	CancelReason       string                           `gorm:"size:20" json:"cancel_reason,omitempty"`
	Error              string                           `gorm:"type:text" json:"error,omitempty"`
	ApprovedAt         *time.Time                       `json:"approved_at,omitempty"`
	Version            int                              `gorm:"not null;default:1" json:"-"`
	CreatedAt          time.Time                        `gorm:"index" json:"created_at"`
	UpdatedAt          time.Time                        `json:"updated_at"`
}

// Body returns the decoded generated body.
func (c *Content) Body() ContentBody {
	return c.GeneratedBody.Data()
}

// TargetPlatforms returns the publish targets, falling back to the primary platform.
func (c *Content) TargetPlatforms() []Platform {
	targets := c.Targets.Data()
	if len(targets) == 0 {
		return []Platform{c.Platform}
	}
	return targets
}

// Transition moves the status forward or returns ErrInvalidTransition.
func (c *Content) Transition(to ContentStatus) error {
	if !c.Status.CanTransition(to) {
		return fmt.Errorf("%w: content %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	c.Status = to
	return nil
}

// Token returns the approval token or "".
func (c *Content) Token() string {
	if c.ApprovalToken == nil {
		return ""
	}
	return *c.ApprovalToken
}

// Due reports whether the content may be published at now. Contents without
// a schedule are always due.
func (c *Content) Due(now time.Time) bool {
	return c.ScheduledAt == nil || !c.ScheduledAt.After(now)
}

// Expired reports whether an issued, unconsumed token is past its deadline.
func (c *Content) Expired(now time.Time) bool {
	return c.ApprovalExpiresAt != nil && now.After(*c.ApprovalExpiresAt)
}
