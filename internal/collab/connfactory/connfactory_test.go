package connfactory

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ichor/internal/event"
	"ichor/internal/ichorerr"
	"ichor/internal/service"
)

type recordingPusher struct {
	pushed []any
}

func (p *recordingPusher) Push(_ event.Type, _ service.ID, _ event.Priority, payload any) event.ID {
	p.pushed = append(p.pushed, payload)
	return 0
}

func TestFactoryDialSuccess(t *testing.T) {
	f := NewFactory(func(_ context.Context) (int, error) {
		return 42, nil
	}, DefaultConfig("test"), nil, service.ID(1))

	conn, err := f.Dial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, conn)
	assert.Equal(t, "closed", f.State())
}

func TestFactoryDialFailurePushesRecoverableError(t *testing.T) {
	pusher := &recordingPusher{}
	dialErr := errors.New("connection refused")
	f := NewFactory(func(_ context.Context) (int, error) {
		return 0, dialErr
	}, DefaultConfig("test-failure"), pusher, service.ID(3))

	_, err := f.Dial(context.Background())
	require.Error(t, err)
	var recErr *ichorerr.RecoverableError
	require.ErrorAs(t, err, &recErr)
	assert.ErrorIs(t, err, dialErr)

	require.Len(t, pusher.pushed, 1)
	assert.IsType(t, &ichorerr.RecoverableError{}, pusher.pushed[0])
}

func TestFactoryCircuitOpensAfterThreshold(t *testing.T) {
	cfg := Config{
		Name:             "open-test",
		MaxRequests:      1,
		Interval:         time.Second,
		Timeout:          time.Second,
		FailureThreshold: 2,
	}
	dialErr := errors.New("fail")
	f := NewFactory(func(_ context.Context) (int, error) {
		return 0, dialErr
	}, cfg, nil, service.ID(1))

	_, _ = f.Dial(context.Background())
	_, _ = f.Dial(context.Background())

	_, err := f.Dial(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, "open", f.State())
}

func TestFactoryRetryLoopSucceedsAfterFailures(t *testing.T) {
	attempts := 0
	f := NewFactory(func(_ context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("not yet")
		}
		return 7, nil
	}, DefaultConfig("retry-test"), nil, service.ID(1))

	conn, err := f.RetryLoop(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 7, conn)
	assert.Equal(t, 3, attempts)
}

func TestFactoryRetryLoopCancelled(t *testing.T) {
	f := NewFactory(func(_ context.Context) (int, error) {
		return 0, errors.New("always fails")
	}, DefaultConfig("cancel-test"), nil, service.ID(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.RetryLoop(ctx, 10*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
