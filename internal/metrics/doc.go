/*
Package metrics provides Prometheus metrics collection and export for
observability into a running Ichor instance.

# Overview

The package instruments the parts of spec.md §8's quantified invariants
that are worth watching in production rather than only asserting in
tests:

  - Queue depth and dispatch latency, so a growing backlog or a slow
    handler chain shows up before it becomes a stall.
  - Dependency cascade counts (online/offline), so resolver churn is
    visible.
  - Service lifecycle transitions, labelled by state, so a flapping
    service is obvious in a dashboard rather than only in logs.
  - Timer drift, the gap between a timer's requested interval and its
    observed fire interval (spec.md §8 property 7).
  - Circuit breaker state for every connfactory.Factory, and broadcast
    publish/receive counts for cross-instance fan-out.

# Metrics Endpoint

Metrics are exposed wherever the caller mounts promhttp.Handler(), by
convention on the address in config.Config.MetricsAddr:

	http.Handle("/metrics", promhttp.Handler())

# Available Metrics

Queue metrics:
  - ichor_queue_depth: current number of pending events (gauge)
    Labels: instance
  - ichor_queue_push_total: events pushed (counter)
    Labels: instance, priority_band
  - ichor_dispatch_duration_seconds: time from Pop to handler
    completion (histogram)
    Labels: instance

Resolver metrics:
  - ichor_dependency_online_total / ichor_dependency_offline_total:
    cascade counts (counter)
    Labels: instance

Lifecycle metrics:
  - ichor_service_state_transitions_total: state machine transitions
    (counter)
    Labels: instance, from, to
  - ichor_services_active: services currently ACTIVE (gauge)
    Labels: instance

Timer metrics:
  - ichor_timer_drift_seconds: observed minus requested interval
    (histogram)
    Labels: instance

Circuit breaker metrics:
  - ichor_circuit_breaker_state: 0=closed, 1=half-open, 2=open (gauge)
    Labels: name

Broadcast metrics:
  - ichor_broadcast_publish_total / ichor_broadcast_receive_total
    (counter)
    Labels: transport
*/
package metrics
