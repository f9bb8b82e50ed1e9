package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestTaskTransitions(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("complete clears error and sets result", func(t *testing.T) {
		task := &Task{Status: TaskStatusPending, Error: "previous attempt"}
		require.NoError(t, task.Start(1))
		require.NoError(t, task.Complete(datatypes.JSON(`{"ok":true}`), now))

		assert.Equal(t, TaskStatusCompleted, task.Status)
		assert.Empty(t, task.Error)
		assert.JSONEq(t, `{"ok":true}`, string(task.Result))
		assert.Equal(t, now, *task.CompletedAt)
	})

	t.Run("complete without result stores empty object", func(t *testing.T) {
		task := &Task{Status: TaskStatusProcessing}
		require.NoError(t, task.Complete(nil, now))
		assert.JSONEq(t, `{}`, string(task.Result))
	})

	t.Run("fail always has an error", func(t *testing.T) {
		task := &Task{Status: TaskStatusProcessing}
		require.NoError(t, task.Fail("", now))
		assert.Equal(t, TaskStatusFailed, task.Status)
		assert.NotEmpty(t, task.Error)
		assert.Nil(t, task.Result)
	})

	t.Run("terminal tasks do not move", func(t *testing.T) {
		task := &Task{Status: TaskStatusCompleted}
		assert.True(t, errors.Is(task.Start(2), ErrInvalidTransition))
		assert.True(t, errors.Is(task.Fail("x", now), ErrInvalidTransition))
		assert.True(t, errors.Is(task.Complete(nil, now), ErrInvalidTransition))
	})

	t.Run("attempts are monotonic", func(t *testing.T) {
		task := &Task{Status: TaskStatusPending}
		require.NoError(t, task.Start(3))
		require.NoError(t, task.Start(2))
		assert.Equal(t, 3, task.Attempts)
	})
}

func TestContentTransitions(t *testing.T) {
	tests := []struct {
		from ContentStatus
		to   ContentStatus
		ok   bool
	}{
		{ContentStatusPending, ContentStatusApproved, true},
		{ContentStatusPending, ContentStatusCancelled, true},
		{ContentStatusApproved, ContentStatusPublished, true},
		{ContentStatusApproved, ContentStatusFailed, true},
		{ContentStatusApproved, ContentStatusCancelled, false},
		{ContentStatusApproved, ContentStatusPending, false},
		{ContentStatusPublished, ContentStatusFailed, false},
		{ContentStatusCancelled, ContentStatusApproved, false},
		{ContentStatusFailed, ContentStatusPublished, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			c := &Content{Status: tt.from}
			err := c.Transition(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, c.Status)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, c.Status)
			}
		})
	}
}

func TestContentBody(t *testing.T) {
	body := ContentBody{
		Root:   RootSection{Name: "Launch", Description: "fallback"},
		Common: CommonSection{Hashtags: []string{"go"}, ImageSuggestion: "  "},
		Schema: map[string]any{"caption": "Hello", "character_limit": 280.0},
	}
	assert.Equal(t, "Hello", body.Text())
	assert.Equal(t, "Launch", body.Title())
	assert.False(t, body.HasImageSuggestion())

	body.Schema["post"] = "Post wins"
	body.Schema["title"] = "Short title"
	assert.Equal(t, "Post wins", body.Text())
	assert.Equal(t, "Short title", body.Title())

	empty := ContentBody{Root: RootSection{Description: "desc"}}
	assert.Equal(t, "desc", empty.Text())
}

func TestContentTargetsAndExpiry(t *testing.T) {
	c := &Content{Platform: PlatformTwitter}
	assert.Equal(t, []Platform{PlatformTwitter}, c.TargetPlatforms())

	c.Targets = datatypes.NewJSONType([]Platform{PlatformTwitter, PlatformLinkedIn})
	assert.Equal(t, []Platform{PlatformTwitter, PlatformLinkedIn}, c.TargetPlatforms())

	issued := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	expires := issued.Add(45 * time.Minute)
	c.ApprovalExpiresAt = &expires
	assert.False(t, c.Expired(expires))
	assert.True(t, c.Expired(expires.Add(time.Second)))
}

func TestParsePlatforms(t *testing.T) {
	ps, err := ParsePlatforms([]string{"Twitter", "x", "youtube_short", " LinkedIn "})
	require.NoError(t, err)
	assert.Equal(t, []Platform{PlatformTwitter, PlatformYouTube, PlatformLinkedIn}, ps)

	_, err = ParsePlatform("myspace")
	assert.Error(t, err)

	assert.True(t, PlatformInstagram.Limits().RequiresImage)
	assert.True(t, PlatformYouTube.Limits().RequiresVideo)
	assert.Equal(t, 280, PlatformTwitter.Limits().MaxLength)

	assert.Equal(t,
		[]Platform{PlatformThreads, PlatformTwitter},
		UniquePlatforms([]Platform{PlatformThreads, PlatformTwitter, PlatformThreads, PlatformTwitter}))
}

func TestContentDue(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := &Content{}
	assert.True(t, c.Due(now))

	at := now.Add(time.Minute)
	c.ScheduledAt = &at
	assert.False(t, c.Due(now))
	assert.True(t, c.Due(at))
}

func TestJobClaimable(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	assert.True(t, (&Job{Status: JobStatusWaiting, RunAt: now}).Claimable(now))
	assert.False(t, (&Job{Status: JobStatusWaiting, RunAt: future}).Claimable(now))
	assert.True(t, (&Job{Status: JobStatusActive, LockedUntil: &past}).Claimable(now))
	assert.False(t, (&Job{Status: JobStatusActive, LockedUntil: &future}).Claimable(now))
	assert.False(t, (&Job{Status: JobStatusDead}).Claimable(now))
}
