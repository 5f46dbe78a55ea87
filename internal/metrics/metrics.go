package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_messages_published_total",
			Help: "Total number of messages published to the broker",
		},
		[]string{"queue", "status"},
	)

	MessagesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_messages_consumed_total",
			Help: "Total number of messages delivered to listeners",
		},
		[]string{"queue"},
	)

	MessagesExpiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_messages_expired_total",
			Help: "Messages dropped because they exceeded their max age",
		},
		[]string{"queue"},
	)

	MessagesRequeuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_messages_requeued_total",
			Help: "Messages republished after a listener deferred them",
		},
		[]string{"queue", "reason"},
	)

	PublishBufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vodpipe_publish_buffer_depth",
			Help: "Messages waiting in the publish buffer",
		},
	)

	PendingRequeues = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vodpipe_pending_requeues",
			Help: "Delayed requeues waiting for their timer",
		},
	)

	TasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_tasks_processed_total",
			Help: "Total number of tasks processed by outcome",
		},
		[]string{"type", "outcome"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vodpipe_task_duration_seconds",
			Help:    "Duration of task stages in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"type", "stage"},
	)

	TasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vodpipe_tasks_active",
			Help: "Number of tasks currently being processed",
		},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"bucket", "operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vodpipe_storage_operation_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 120},
		},
		[]string{"bucket", "operation"},
	)

	StorageBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_storage_bytes_total",
			Help: "Total bytes transferred to or from storage",
		},
		[]string{"bucket", "operation"},
	)

	BucketStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vodpipe_bucket_status",
			Help: "Last observed bucket status (1 for the active status)",
		},
		[]string{"bucket", "status"},
	)

	SweeperAbortedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vodpipe_sweeper_aborted_total",
			Help: "Stalled upload sessions aborted by the sweeper",
		},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vodpipe_app_info",
			Help: "Application information",
		},
		[]string{"version", "environment", "service"},
	)

	WorkerListeners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vodpipe_worker_listeners",
			Help: "Number of consumer bundles opened by AddListener",
		},
	)
)

func RecordPublish(queue string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	MessagesPublishedTotal.WithLabelValues(queue, status).Inc()
}

func RecordTask(taskType, outcome string, durationSeconds float64) {
	TasksProcessedTotal.WithLabelValues(taskType, outcome).Inc()
	TaskDuration.WithLabelValues(taskType, "total").Observe(durationSeconds)
}

func RecordTaskStage(taskType, stage string, durationSeconds float64) {
	TaskDuration.WithLabelValues(taskType, stage).Observe(durationSeconds)
}

// SetBucketStatus marks status as the active one for bucket.
func SetBucketStatus(bucket, status string, known []string) {
	for _, s := range known {
		v := 0.0
		if s == status {
			v = 1
		}
		BucketStatus.WithLabelValues(bucket, s).Set(v)
	}
}

func SetAppInfo(version, environment, service string) {
	AppInfo.WithLabelValues(version, environment, service).Set(1)
}
