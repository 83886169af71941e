// Package testsupport provides test doubles for exercising the
// InstanceSupervisor and individual Services without a full runtime
// wiring.
package testsupport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"ichor/internal/event"
	"ichor/internal/service"
)

// MockSutureService implements suture.Service for exercising
// internal/supervisor's restart policy directly, independent of the
// dispatch loop.
type MockSutureService struct {
	name       string
	startCount atomic.Int32
	stopCount  atomic.Int32
	failCount  atomic.Int32
	maxFails   int32
	err        error
	mu         sync.Mutex
}

// NewMockSutureService creates a named mock suture.Service.
func NewMockSutureService(name string) *MockSutureService {
	return &MockSutureService{name: name}
}

// Serve implements suture.Service.
func (m *MockSutureService) Serve(ctx context.Context) error {
	m.startCount.Add(1)
	defer m.stopCount.Add(1)

	m.mu.Lock()
	err := m.err
	maxFails := m.maxFails
	m.mu.Unlock()

	if maxFails > 0 {
		current := m.failCount.Add(1)
		if current <= maxFails {
			return errors.New("simulated failure")
		}
	}
	if err != nil {
		return err
	}

	<-ctx.Done()
	return ctx.Err()
}

// SetError configures Serve to return err immediately.
func (m *MockSutureService) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetFailCount configures Serve to fail n times before succeeding.
func (m *MockSutureService) SetFailCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxFails = int32(n)
}

// StartCount returns how many times Serve was invoked.
func (m *MockSutureService) StartCount() int32 { return m.startCount.Load() }

// StopCount returns how many times Serve returned.
func (m *MockSutureService) StopCount() int32 { return m.stopCount.Load() }

// String implements fmt.Stringer for suture's event log.
func (m *MockSutureService) String() string { return m.name }

// MockService implements service.Service for exercising the lifecycle
// manager and resolver directly. StartErr, if set, is returned once by
// Start before clearing itself, matching the S4 "retry on failing
// start" scenario.
type MockService struct {
	id       service.ID
	gid      uuid.UUID
	name     string
	priority event.Priority
	props    *event.Properties

	mu         sync.Mutex
	StartErr   error
	startCalls int
	stopCalls  int

	interfaces []service.InterfaceKey
	views      map[service.InterfaceKey]any

	onAddCalls    []service.InterfaceKey
	onRemoveCalls []service.InterfaceKey
}

// NewMockService constructs a MockService with the given identity.
func NewMockService(id service.ID, name string, priority event.Priority) *MockService {
	return &MockService{
		id:       id,
		gid:      uuid.New(),
		name:     name,
		priority: priority,
		props:    event.NewProperties(),
		views:    make(map[service.InterfaceKey]any),
	}
}

func (m *MockService) ServiceID() service.ID        { return m.id }
func (m *MockService) ServiceGID() uuid.UUID        { return m.gid }
func (m *MockService) ServiceName() string          { return m.name }
func (m *MockService) Priority() event.Priority      { return m.priority }
func (m *MockService) Properties() *event.Properties { return m.props }

func (m *MockService) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls++
	if m.StartErr != nil {
		err := m.StartErr
		m.StartErr = nil
		return err
	}
	return nil
}

func (m *MockService) Stop(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
}

// StartCalls reports how many times Start has been invoked.
func (m *MockService) StartCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCalls
}

// StopCalls reports how many times Stop has been invoked.
func (m *MockService) StopCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls
}

// AdvertiseInterface registers iface/view as something this mock
// provides, for tests exercising InterfaceProvider.
func (m *MockService) AdvertiseInterface(iface service.InterfaceKey, view any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interfaces = append(m.interfaces, iface)
	m.views[iface] = view
}

func (m *MockService) Interfaces() []service.InterfaceKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]service.InterfaceKey, len(m.interfaces))
	copy(out, m.interfaces)
	return out
}

func (m *MockService) ProvideView(iface service.InterfaceKey) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[iface]
	return v, ok
}

func (m *MockService) OnAdd(iface service.InterfaceKey, _ service.ID, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAddCalls = append(m.onAddCalls, iface)
}

func (m *MockService) OnRemove(iface service.InterfaceKey, _ service.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRemoveCalls = append(m.onRemoveCalls, iface)
}

// OnAddCount reports how many times OnAdd fired for iface.
func (m *MockService) OnAddCount(iface service.InterfaceKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, i := range m.onAddCalls {
		if i == iface {
			n++
		}
	}
	return n
}

// OnRemoveCount reports how many times OnRemove fired for iface.
func (m *MockService) OnRemoveCount(iface service.InterfaceKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, i := range m.onRemoveCalls {
		if i == iface {
			n++
		}
	}
	return n
}
