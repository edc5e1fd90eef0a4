package shutdown

import (
	"errors"
	"testing"
	"time"

	"github.com/SlpAus/uvbunny-backend/pkg/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestShutdown_StopsServicesThenFinalizes(t *testing.T) {
	graceful := lifecycle.NewManager("graceful", zap.NewNop())
	forceful := lifecycle.NewManager("forceful", zap.NewNop())
	c := NewCoordinator(graceful, forceful, zap.NewNop())

	stopped := make(chan struct{})
	require.NoError(t, graceful.Go("worker", func(h *lifecycle.Handle) {
		<-h.Done()
		close(stopped)
	}))

	var steps []string
	c.AddFinalizer("first", func() error {
		steps = append(steps, "first")
		return errors.New("ignored")
	})
	c.AddFinalizer("second", func() error {
		steps = append(steps, "second")
		return nil
	})

	c.Shutdown(nil)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, []string{"first", "second"}, steps)
}
