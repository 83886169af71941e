// Package metricssampler is a built-in Ichor service that periodically
// samples queue depth and active-service counts into the Prometheus
// gauges of internal/metrics. It depends on timer.Interface the same
// way any user-defined service would, so a running instance always
// exercises the TimerFactory injection path described in spec.md §4.7
// even when no other collaborator needs a timer.
package metricssampler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ichor/internal/event"
	"ichor/internal/metrics"
	"ichor/internal/service"
	"ichor/internal/timer"
)

// Gauges supplies the values the sampler reads on each tick. Both
// fields are required.
type Gauges struct {
	QueueDepth     func() int
	ServicesActive func() int
}

// Sampler is a zero-interface-provider service: it only consumes
// timer.Interface, declared REQUIRED by its caller, and never advertises
// anything itself.
type Sampler struct {
	id       service.ID
	gid      uuid.UUID
	instance string
	interval time.Duration
	gauges   Gauges
	tm       *timer.Timer
}

// New constructs a Sampler named for instance (the metrics "instance"
// label), sampling every interval once its timer.Interface dependency
// is injected.
func New(id service.ID, gid uuid.UUID, instance string, interval time.Duration, gauges Gauges) *Sampler {
	return &Sampler{id: id, gid: gid, instance: instance, interval: interval, gauges: gauges}
}

func (s *Sampler) ServiceID() service.ID        { return s.id }
func (s *Sampler) ServiceGID() uuid.UUID        { return s.gid }
func (s *Sampler) ServiceName() string          { return "metricssampler" }
func (s *Sampler) Priority() event.Priority      { return event.PriorityEvent }
func (s *Sampler) Properties() *event.Properties { return event.NewProperties() }

// Start is a no-op; sampling only begins once OnAdd receives the
// injected TimerFactory.
func (s *Sampler) Start(_ context.Context) error { return nil }

// Stop tears down the sampling timer, if one was ever started.
func (s *Sampler) Stop(_ context.Context) {
	if s.tm != nil {
		s.tm.Stop(nil)
	}
}

// OnAdd starts the sampling timer the first time timer.Interface is
// injected.
func (s *Sampler) OnAdd(_ service.InterfaceKey, _ service.ID, view any) {
	tf, ok := view.(timer.Interface)
	if !ok || s.tm != nil {
		return
	}
	s.tm = tf.NewTimer(s.interval, event.PriorityEvent, false, timer.Callback{
		Sync: func() {
			metrics.SetQueueDepth(s.instance, s.gauges.QueueDepth())
			metrics.SetServicesActive(s.instance, s.gauges.ServicesActive())
		},
	})
	s.tm.Start()
}

// OnRemove stops the sampling timer if the TimerFactory dependency goes
// offline (e.g. the factory's owning requester is removed).
func (s *Sampler) OnRemove(_ service.InterfaceKey, _ service.ID) {
	if s.tm != nil {
		s.tm.Stop(nil)
		s.tm = nil
	}
}
