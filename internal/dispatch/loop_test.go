package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ichor/internal/config"
	"ichor/internal/event"
	"ichor/internal/ichorerr"
	"ichor/internal/lifecycle"
	"ichor/internal/queue"
	"ichor/internal/resolver"
	"ichor/internal/runtime/testsupport"
	"ichor/internal/service"
)

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		SpinlockWindow: time.Millisecond,
		MaxSleep:       20 * time.Millisecond,
		QuitTimeout:    time.Second,
	}
}

func newLoop(t *testing.T) (*Loop, *queue.Queue, *resolver.Resolver) {
	t.Helper()
	q := queue.New(testQueueConfig(), zerolog.Nop())
	res := resolver.New(q, zerolog.Nop())
	l := New(q, res, 500*time.Millisecond, zerolog.Nop())
	return l, q, res
}

func runLoop(t *testing.T, l *Loop, timeout time.Duration) <-chan error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Run(ctx)
		cancel()
	}()
	return errCh
}

func TestStartServiceWithNoRequiredDepsGoesActive(t *testing.T) {
	l, q, res := newLoop(t)
	svc := testsupport.NewMockService(service.ID(1), "standalone", 0)
	mgr := lifecycle.New(svc, nil, zerolog.Nop())
	res.RegisterManager(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { l.Run(ctx) }()

	q.Push(event.TypeStartService.AsType(), service.FrameworkOrigin, event.PriorityDependency, service.ID(1))

	require.Eventually(t, func() bool {
		return mgr.State() == service.Active
	}, time.Second, time.Millisecond, "expected service to reach ACTIVE")
	assert.Equal(t, 1, svc.StartCalls())
}

func TestStartServiceFailureReturnsToInstalled(t *testing.T) {
	l, q, res := newLoop(t)
	svc := testsupport.NewMockService(service.ID(1), "failing", 0)
	svc.StartErr = assert.AnError
	mgr := lifecycle.New(svc, nil, zerolog.Nop())
	res.RegisterManager(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { l.Run(ctx) }()

	q.Push(event.TypeStartService.AsType(), service.FrameworkOrigin, event.PriorityDependency, service.ID(1))

	require.Eventually(t, func() bool {
		return mgr.State() == service.Installed && svc.StartCalls() == 1
	}, time.Second, time.Millisecond)
}

func TestHandlerChainPreventOthersShortCircuits(t *testing.T) {
	l, q, _ := newLoop(t)
	typ := event.TypeOf[string]()

	var calledSecond bool
	l.RegisterHandler(typ, func(_ context.Context, _ event.Event) bool {
		return false // prevent others
	}, nil)
	l.RegisterHandler(typ, func(_ context.Context, _ event.Event) bool {
		calledSecond = true
		return true
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { l.Run(ctx) }()

	q.Push(typ, service.FrameworkOrigin, event.PriorityEvent, "payload")
	time.Sleep(50 * time.Millisecond)
	assert.False(t, calledSecond)
}

func TestPreInterceptorVetoesDispatch(t *testing.T) {
	l, q, _ := newLoop(t)
	typ := event.TypeOf[int]()

	var handlerCalled bool
	l.RegisterHandler(typ, func(_ context.Context, _ event.Event) bool {
		handlerCalled = true
		return true
	}, nil)
	l.RegisterInterceptor(func(_ event.Event, _ bool) bool {
		return false // veto
	}, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { l.Run(ctx) }()

	q.Push(typ, service.FrameworkOrigin, event.PriorityEvent, 42)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, handlerCalled)
}

func TestPostInterceptorObservesHandledFlag(t *testing.T) {
	l, q, _ := newLoop(t)
	typ := event.TypeOf[bool]()

	var observedHandled bool
	handledCh := make(chan struct{}, 1)
	l.RegisterHandler(typ, func(_ context.Context, _ event.Event) bool { return true }, nil)
	l.RegisterInterceptor(func(_ event.Event, handled bool) bool {
		observedHandled = handled
		handledCh <- struct{}{}
		return true
	}, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { l.Run(ctx) }()

	q.Push(typ, service.FrameworkOrigin, event.PriorityEvent, true)
	select {
	case <-handledCh:
	case <-time.After(time.Second):
		t.Fatal("post-interceptor was never invoked")
	}
	assert.True(t, observedHandled)
}

func TestUnrecoverableErrorPropagatesFromRun(t *testing.T) {
	l, q, _ := newLoop(t)
	q.Push(event.TypeUnrecoverableError.AsType(), service.FrameworkOrigin, event.PriorityEvent, &ichorerr.UnrecoverableError{Reason: "boom"})

	errCh := runLoop(t, l, 2*time.Second)
	select {
	case err := <-errCh:
		require.Error(t, err)
		var unrec *ichorerr.UnrecoverableError
		assert.ErrorAs(t, err, &unrec)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after unrecoverable error")
	}
}

func TestQuitCascadeDrainsActiveServices(t *testing.T) {
	l, q, res := newLoop(t)
	svc := testsupport.NewMockService(service.ID(1), "active-svc", 0)
	mgr := lifecycle.New(svc, nil, zerolog.Nop())
	res.RegisterManager(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- l.Run(ctx) }()

	q.Push(event.TypeStartService.AsType(), service.FrameworkOrigin, event.PriorityDependency, service.ID(1))
	require.Eventually(t, func() bool { return mgr.State() == service.Active }, time.Second, time.Millisecond)

	q.Quit()

	select {
	case err := <-runErrCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not converge after Quit")
	}
	assert.Equal(t, 1, svc.StopCalls())
}
