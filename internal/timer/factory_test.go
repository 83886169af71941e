package timer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ichor/internal/config"
	"ichor/internal/service"
)

func TestFactoryFactoryManufacturesOnePerRequester(t *testing.T) {
	ff := NewFactoryFactory(nil, config.TimerConfig{MinInterval: time.Millisecond}, service.ID(1), zerolog.Nop())

	viewA, ok := ff.OnDependencyRequest(0, service.ID(2), nil)
	require.True(t, ok)
	factoryA, ok := viewA.(*TimerFactory)
	require.True(t, ok)

	viewAAgain, ok := ff.OnDependencyRequest(0, service.ID(2), nil)
	require.True(t, ok)
	assert.Same(t, factoryA, viewAAgain.(*TimerFactory))

	viewB, ok := ff.OnDependencyRequest(0, service.ID(3), nil)
	require.True(t, ok)
	assert.NotSame(t, factoryA, viewB.(*TimerFactory))
}

func TestFactoryFactoryUndoRequestTearsDownAndStopsFactory(t *testing.T) {
	ff := NewFactoryFactory(nil, config.TimerConfig{MinInterval: time.Millisecond}, service.ID(1), zerolog.Nop())

	view, ok := ff.OnDependencyRequest(0, service.ID(2), nil)
	require.True(t, ok)
	factory := view.(*TimerFactory)
	timer := factory.NewTimer(5*time.Millisecond, 0, false, Callback{Sync: func() {}})
	require.True(t, timer.Start())

	ff.OnDependencyUndoRequest(0, service.ID(2))

	_, ok = ff.FactoryFor(service.ID(2))
	assert.False(t, ok)
	require.Eventually(t, func() bool { return timer.State() == Stopped }, time.Second, time.Millisecond)
}

func TestFactoryFactoryStopStopsEveryManufacturedFactory(t *testing.T) {
	ff := NewFactoryFactory(nil, config.TimerConfig{MinInterval: time.Millisecond}, service.ID(1), zerolog.Nop())

	var timers []*Timer
	for _, id := range []service.ID{2, 3} {
		view, ok := ff.OnDependencyRequest(0, id, nil)
		require.True(t, ok)
		timer := view.(*TimerFactory).NewTimer(5*time.Millisecond, 0, false, Callback{Sync: func() {}})
		require.True(t, timer.Start())
		timers = append(timers, timer)
	}

	ff.Stop(context.Background())

	for _, tm := range timers {
		assert.Equal(t, Stopped, tm.State())
	}
}
