package lifecycle

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ichor/internal/runtime/testsupport"
	"ichor/internal/service"
)

const testIface service.InterfaceKey = 1

func newTestManager(t *testing.T, deps []service.DependencyDescriptor) (*Manager, *testsupport.MockService) {
	t.Helper()
	svc := testsupport.NewMockService(service.ID(1), "test-service", 0)
	return New(svc, deps, zerolog.Nop()), svc
}

func TestBeginStartRequiresAllDependenciesSatisfied(t *testing.T) {
	m, _ := newTestManager(t, []service.DependencyDescriptor{
		{Interface: testIface, Flags: service.Required},
	})

	assert.False(t, m.CanStart())
	assert.False(t, m.BeginStart())
	assert.Equal(t, service.Installed, m.State())

	behaviour := m.DependencyOnline(service.ID(2), testIface, "view")
	assert.Equal(t, BecameStartable, behaviour)
	assert.True(t, m.CanStart())
	assert.True(t, m.BeginStart())
	assert.Equal(t, service.Starting, m.State())
}

func TestBeginStartWithNoRequiredDependencies(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assert.True(t, m.CanStart())
	assert.True(t, m.BeginStart())
	assert.Equal(t, service.Starting, m.State())
}

func TestStartFailedReturnsToInstalled(t *testing.T) {
	m, _ := newTestManager(t, nil)
	require.True(t, m.BeginStart())
	m.StartFailed()
	assert.Equal(t, service.Installed, m.State())
}

func TestFullLifecycleHappyPath(t *testing.T) {
	m, svc := newTestManager(t, []service.DependencyDescriptor{
		{Interface: testIface, Flags: service.Required},
	})

	behaviour := m.DependencyOnline(service.ID(2), testIface, "view")
	assert.Equal(t, BecameStartable, behaviour)

	require.True(t, m.BeginStart())
	m.StartSucceeded()
	assert.Equal(t, service.Injecting, m.State())
	assert.Equal(t, 1, svc.OnAddCount(testIface))

	assert.True(t, m.SetInjected())
	assert.Equal(t, service.Active, m.State())
	// Idempotent once already ACTIVE (spec.md §8 property 5).
	assert.False(t, m.SetInjected())

	assert.True(t, m.SetUninjected())
	assert.Equal(t, service.Uninjecting, m.State())
	assert.False(t, m.SetUninjected())

	assert.True(t, m.BeginStop())
	assert.Equal(t, service.Stopping, m.State())

	m.StopComplete()
	assert.Equal(t, service.Installed, m.State())

	assert.True(t, m.Uninstall())
	assert.Equal(t, service.Uninstalled, m.State())
}

func TestDependencyOfflineDuringActiveBecomesUnstartable(t *testing.T) {
	m, svc := newTestManager(t, []service.DependencyDescriptor{
		{Interface: testIface, Flags: service.Required},
	})
	m.DependencyOnline(service.ID(2), testIface, "view")
	require.True(t, m.BeginStart())
	m.StartSucceeded()
	require.True(t, m.SetInjected())

	behaviour := m.DependencyOffline(service.ID(2), testIface)
	assert.Equal(t, BecameUnstartable, behaviour)
	assert.Equal(t, 1, svc.OnRemoveCount(testIface))
	// State itself is only changed by the resolver pushing StopService;
	// the manager just reports the cascade.
	assert.Equal(t, service.Active, m.State())
}

func TestDependencyOnlineIsIdempotentPerProvider(t *testing.T) {
	m, svc := newTestManager(t, []service.DependencyDescriptor{
		{Interface: testIface, Flags: service.Required, SatisfiedCount: 0},
	})
	m.DependencyOnline(service.ID(2), testIface, "view")
	behaviour := m.DependencyOnline(service.ID(2), testIface, "view")
	assert.Equal(t, NoChange, behaviour)
	assert.Equal(t, 1, svc.OnAddCount(testIface))
}

func TestReadyToInjectRequiresEveryRequiredProvider(t *testing.T) {
	other := service.InterfaceKey(2)
	m, _ := newTestManager(t, []service.DependencyDescriptor{
		{Interface: testIface, Flags: service.Required},
		{Interface: other, Flags: service.Required},
	})
	m.DependencyOnline(service.ID(2), testIface, "a")

	// Only one of the two required dependencies has delivered its onAdd
	// so far, so the service cannot leave INSTALLED and never reaches the
	// INJECTING state in which ReadyToInject is reported.
	assert.False(t, m.BeginStart())
	assert.Equal(t, service.Installed, m.State())

	behaviour := m.DependencyOnline(service.ID(3), other, "b")
	assert.Equal(t, BecameStartable, behaviour)
}

func TestReadyToInjectReportedForExtraProviderWhileInjecting(t *testing.T) {
	other := service.InterfaceKey(2)
	m, _ := newTestManager(t, []service.DependencyDescriptor{
		{Interface: testIface, Flags: service.Required},
		{Interface: other, Flags: service.Required},
	})
	m.DependencyOnline(service.ID(2), testIface, "a")
	m.DependencyOnline(service.ID(3), other, "b")
	require.True(t, m.BeginStart())
	m.StartSucceeded()

	// A third provider for an already-satisfied interface still reports
	// ReadyToInject while INJECTING; SetInjected itself is idempotent
	// (spec.md §8 property 5), so the resolver calling it twice is safe.
	behaviour := m.DependencyOnline(service.ID(4), testIface, "c")
	assert.Equal(t, ReadyToInject, behaviour)
}

func TestInsertSelfIntoUsesProviderDoubleDispatch(t *testing.T) {
	providerMgr, providerSvc := newTestManager(t, nil)
	providerSvc.AdvertiseInterface(testIface, "the-view")

	var captured any
	ok := providerMgr.InsertSelfInto(testIface, func(view any) {
		captured = view
	})
	assert.True(t, ok)
	assert.Equal(t, "the-view", captured)
}

func TestInsertSelfIntoFalseWhenNotProvided(t *testing.T) {
	providerMgr, _ := newTestManager(t, nil)
	called := false
	ok := providerMgr.InsertSelfInto(testIface, func(any) { called = true })
	assert.False(t, ok)
	assert.False(t, called)
}

func TestUninstallOnlyFromInstalled(t *testing.T) {
	m, _ := newTestManager(t, nil)
	require.True(t, m.BeginStart())
	assert.False(t, m.Uninstall())
	assert.Equal(t, service.Starting, m.State())
}
