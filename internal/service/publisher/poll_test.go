package publisher_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/service/publisher"
)

func TestPoll(t *testing.T) {
	calls := 0
	err := publisher.Poll(context.Background(), time.Millisecond, 5, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = publisher.Poll(context.Background(), time.Millisecond, 2, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	assert.Equal(t, 2, calls)
}
