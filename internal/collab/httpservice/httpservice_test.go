package httpservice

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"
)

type mockServer struct {
	listenAndServeErr    error
	listenAndServeBlock  bool
	shutdownErr          error
	listenAndServeCount  atomic.Int32
	shutdownCount        atomic.Int32
	listenAndServeCalled chan struct{}
	stopCh               chan struct{}
}

func newMockServer() *mockServer {
	return &mockServer{
		listenAndServeCalled: make(chan struct{}, 1),
		stopCh:               make(chan struct{}),
	}
}

func (m *mockServer) ListenAndServe() error {
	m.listenAndServeCount.Add(1)
	select {
	case m.listenAndServeCalled <- struct{}{}:
	default:
	}
	if m.listenAndServeErr != nil {
		return m.listenAndServeErr
	}
	if m.listenAndServeBlock {
		<-m.stopCh
		return http.ErrServerClosed
	}
	return nil
}

func (m *mockServer) Shutdown(_ context.Context) error {
	m.shutdownCount.Add(1)
	close(m.stopCh)
	return m.shutdownErr
}

func TestServiceImplementsSutureService(t *testing.T) {
	var _ suture.Service = (*Service)(nil)
}

func TestNewServiceDefaultsTimeoutAndName(t *testing.T) {
	svc := NewService(newMockServer(), 0, "")
	assert.Equal(t, 10*time.Second, svc.shutdownTimeout)
	assert.Equal(t, "http-server", svc.name)

	svc = NewService(newMockServer(), -time.Second, "")
	assert.Equal(t, 10*time.Second, svc.shutdownTimeout)
}

func TestServiceServeShutsDownOnContextCancel(t *testing.T) {
	server := newMockServer()
	server.listenAndServeBlock = true
	svc := NewService(server, time.Second, "test-http")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-server.listenAndServeCalled:
	case <-time.After(time.Second):
		t.Fatal("server did not start")
	}

	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	assert.Equal(t, int32(1), server.shutdownCount.Load())
}

func TestServiceServeReturnsStartupError(t *testing.T) {
	expected := errors.New("bind: address already in use")
	server := newMockServer()
	server.listenAndServeErr = expected
	svc := NewService(server, time.Second, "")

	err := svc.Serve(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, expected))
}

func TestServiceString(t *testing.T) {
	svc := NewService(newMockServer(), time.Second, "my-collaborator")
	assert.Equal(t, "my-collaborator", svc.String())
}

func TestNewRouterMounts(t *testing.T) {
	r := NewRouter([]string{"*"})
	require.NotNil(t, r)
}
