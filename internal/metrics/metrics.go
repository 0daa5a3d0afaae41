// Package metrics holds Prometheus instruments that are used across the
// shell.  All collectors are registered with the global registry, so
// mounting promhttp.Handler() in main.go is enough to expose them on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RPCAttemptsTotal counts every remote-call attempt by outcome class.
	RPCAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_attempts_total",
			Help: "Remote-call attempts, labelled by outcome class.",
		}, []string{"class"})

	RPCTerminalFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_terminal_failures_total",
			Help: "Remote calls that failed after exhausting retries.",
		}, []string{"class"})

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "User-visible notifications emitted, labelled by level.",
		}, []string{"level"})

	// TenantResolveTotal counts hostname resolutions by source
	// (allowlist, remote, fallback).
	TenantResolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_resolve_total",
			Help: "Hostname to tenant resolutions, labelled by source.",
		}, []string{"source"})

	ActiveTenants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_tenant_hosts",
			Help: "Number of hostnames currently held in the tenant cache.",
		})

	TenantEvictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_evict_total",
			Help: "Cumulative number of hostnames evicted from the tenant cache.",
		})

	SessionResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_resolutions_total",
			Help: "Session resolutions, labelled applied or stale.",
		}, []string{"result"})

	Ready = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shell_ready",
			Help: "1 when tenant and session resolution have both completed.",
		})

	ContentResolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_resolve_total",
			Help: "Content resolutions, labelled by the winning set.",
		}, []string{"set"})
)

func init() {
	prometheus.MustRegister(
		RPCAttemptsTotal,
		RPCTerminalFailuresTotal,
		NotificationsTotal,
		TenantResolveTotal,
		ActiveTenants,
		TenantEvictTotal,
		SessionResolutionsTotal,
		Ready,
		ContentResolveTotal,
	)
}
