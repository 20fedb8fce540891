package opmon

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame kinds used as the "kind" label
const (
	KindAgentIFrame  = "agent_iframe"
	KindObjectIFrame = "object_iframe"
	KindAgentPFrame  = "agent_pframe"
	KindObjectPFrame = "object_pframe"
	KindClaim        = "claim"
	KindRelease      = "release"
)

// Drop reasons used as the "reason" label
const (
	DropSendQueueFull = "send_queue_full"
	DropMalformed     = "malformed"
	DropTooLarge      = "too_large"
	DropStale         = "stale"
	DropNotOwner      = "not_owner"
)

var (
	// Registry holds every gwsync metric
	Registry = prometheus.NewRegistry()

	FramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gwsync_frames_sent_total",
		Help: "Frames and ownership messages handed to the transport.",
	}, []string{"kind"})

	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gwsync_frames_received_total",
		Help: "Frames and ownership messages decoded from the transport.",
	}, []string{"kind"})

	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gwsync_frames_dropped_total",
		Help: "Frames dropped on either side, by reason.",
	}, []string{"reason"})

	ReorderResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gwsync_reorder_results_total",
		Help: "Outcome of every P-frame offered to a reorder buffer.",
	}, []string{"result"})

	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gwsync_events_dropped_total",
		Help: "Presentation events dropped because the event channel was full.",
	})

	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gwsync_sessions",
		Help: "Number of running peer sessions.",
	})

	OwnedObjects = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gwsync_owned_objects",
		Help: "Number of objects with an owner in the ownership register.",
	})

	OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gwsync_operation_duration_seconds",
		Help:    "Duration of monitored operations.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	}, []string{"op"})

	ProcessCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gwsync_process_cpu_percent",
		Help: "CPU usage of this process as sampled by gopsutil.",
	})
)

func init() {
	Registry.MustRegister(
		FramesSent,
		FramesReceived,
		FramesDropped,
		ReorderResults,
		EventsDropped,
		Sessions,
		OwnedObjects,
		OperationDuration,
		ProcessCPUPercent,
		collectors.NewGoCollector(),
	)
}

// Handler serves Registry in the prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
