package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "uvbunny.db?_busy_timeout=5000", sqliteDSN("uvbunny.db"))
	assert.Equal(t, "file.db?cache=shared&_busy_timeout=5000", sqliteDSN("file.db?cache=shared"))
	assert.Equal(t, "x.db?_busy_timeout=100", sqliteDSN("x.db?_busy_timeout=100"))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(errors.New("database is locked")))
	assert.True(t, IsRetryableError(errors.New("ERROR: could not serialize access due to concurrent update (SQLSTATE 40001)")))
	assert.False(t, IsRetryableError(errors.New("record not found")))
}

func TestIsDuplicateKeyError(t *testing.T) {
	assert.True(t, IsDuplicateKeyError(errors.New("UNIQUE constraint failed: counter_applications.event_id")))
	assert.False(t, IsDuplicateKeyError(errors.New("other")))
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := WithRetry(ctx, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	sentinel := errors.New("bunny missing")
	calls = 0
	err = WithRetry(ctx, func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}
