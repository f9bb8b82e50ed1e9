package publisher

import (
	"context"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/pkg/util"
)

// Content is what an adapter receives for one platform.
type Content struct {
	ID        string          `json:"id"`
	Platform  models.Platform `json:"platform"`
	Title     string          `json:"title"`
	Text      string          `json:"text"`
	Hashtags  []string        `json:"hashtags"`
	Resources []Resource      `json:"resources"`
}

// Resource is a media item attached to a post.
type Resource struct {
	Type ResourceType `json:"type"`
	URL  string       `json:"url"`
}

type ResourceType string

const (
	ResourceTypeImage ResourceType = "image"
	ResourceTypeVideo ResourceType = "video"
)

// Result identifies the post a platform created.
type Result struct {
	ExternalID  string    `json:"external_id"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher is one platform adapter. Adapters own length limits and
// multi-step protocols; they never touch the store.
type Publisher interface {
	Platform() models.Platform
	Publish(ctx context.Context, content Content) (*Result, error)
}

// FromContent builds the adapter input from a stored content.
func FromContent(c *models.Content) Content {
	body := c.Body()
	out := Content{
		ID:       c.ID,
		Platform: c.Platform,
		Title:    body.Title(),
		Text:     body.Text(),
		Hashtags: util.NormalizeHashtags(body.Common.Hashtags),
	}
	if cta := body.CallToAction(); cta != "" && !strings.Contains(out.Text, cta) {
		out.Text = out.Text + "\n\n" + cta
	}
	// User supplied media goes ahead of the rendered image
	for _, u := range c.MediaURLs.Data() {
		out.Resources = append(out.Resources, Resource{Type: MediaType(u), URL: u})
	}
	if c.ImageURL != "" {
		out.Resources = append(out.Resources, Resource{Type: ResourceTypeImage, URL: c.ImageURL})
	}
	return out
}

var videoExts = map[string]bool{".mp4": true, ".mov": true, ".m4v": true, ".webm": true}

// MediaType guesses the resource type of a media URL from its extension.
// Anything that is not a known video format is treated as an image.
func MediaType(rawURL string) ResourceType {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	if videoExts[strings.ToLower(path.Ext(p))] {
		return ResourceTypeVideo
	}
	return ResourceTypeImage
}

// First returns the first resource of type t.
func (c Content) First(t ResourceType) (Resource, bool) {
	for _, r := range c.Resources {
		if r.Type == t {
			return r, true
		}
	}
	return Resource{}, false
}

// Compose returns the body with hashtags appended, cut to max runes.
func (c Content) Compose(max int) string {
	text := util.ComposePost(c.Text, c.Hashtags)
	if max > 0 {
		return util.Truncate(text, max, "...")
	}
	return text
}
