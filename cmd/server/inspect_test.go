package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/store"
)

func TestInspectReport(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	content := &models.Content{
		ID:         "c1",
		Platform:   models.PlatformTwitter,
		Targets:    datatypes.NewJSONType([]models.Platform{models.PlatformTwitter, models.PlatformLinkedIn}),
		UserPrompt: "write about gophers",
		Status:     models.ContentStatusPublished,
		GeneratedBody: datatypes.NewJSONType(models.ContentBody{
			Root: models.RootSection{Name: "Gophers"},
		}),
	}
	require.NoError(t, s.CreateContent(ctx, content))
	require.NoError(t, s.CreateTask(ctx, &models.Task{ID: "c1", ContentID: "c1", Type: models.TaskTypeGenerate, Status: models.TaskStatusCompleted, Attempts: 3}))
	now := time.Now()
	require.NoError(t, s.UpsertPublication(ctx, &models.Publication{ContentID: "c1", Platform: models.PlatformTwitter, Status: models.PublicationStatusSuccess, URL: "https://twitter.com/i/web/status/42", PublishedAt: &now}))
	require.NoError(t, s.UpsertPublication(ctx, &models.Publication{ContentID: "c1", Platform: models.PlatformLinkedIn, Status: models.PublicationStatusFailed, ErrorMessage: "token expired"}))

	r, err := buildReport(ctx, s, "c1")
	require.NoError(t, err)
	out := r.Render()

	assert.Contains(t, out, "CONTENT · c1")
	assert.Contains(t, out, "twitter, linkedin")
	assert.Contains(t, out, "Gophers")
	assert.Contains(t, out, "attempts=3")
	assert.Contains(t, out, "https://twitter.com/i/web/status/42")
	assert.Contains(t, out, "token expired")

	_, err = buildReport(ctx, s, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
