// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsTotal counts packets handed to consumers by the receive loop
	PacketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rxprobe_packets_total",
			Help: "Total number of packets received",
		},
	)

	// BatchesTotal counts non-empty batches returned by the channel
	BatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rxprobe_batches_total",
			Help: "Total number of receive batches processed",
		},
	)

	// RecvRetriesTotal counts receive calls retried after an interruption
	RecvRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rxprobe_recv_retries_total",
			Help: "Total number of interrupted receive calls that were retried",
		},
	)

	// SentinelMismatchTotal counts packets whose sentinel differed from the expected value
	SentinelMismatchTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rxprobe_sentinel_mismatch_total",
			Help: "Total number of packets whose sentinel did not match",
		},
	)

	// SentinelShortTotal counts packets too short to carry a sentinel
	SentinelShortTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rxprobe_sentinel_short_total",
			Help: "Total number of packets too short to hold the sentinel",
		},
	)

	// ChecksumErrorsTotal counts IPv4 headers that failed checksum verification
	ChecksumErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rxprobe_checksum_errors_total",
			Help: "Total number of IPv4 headers with a bad checksum",
		},
	)

	// TruncatedPacketsTotal counts packets whose dissection stopped at a short header
	TruncatedPacketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rxprobe_truncated_packets_total",
			Help: "Total number of packets too short for the headers they announce",
		},
	)

	// KernelDrops tracks drops reported by the kernel for all attached rings
	KernelDrops = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rxprobe_kernel_drops",
			Help: "Packets dropped by the kernel before reaching the rings",
		},
	)

	// AttachedQueues tracks the number of receive queues currently attached
	AttachedQueues = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rxprobe_attached_queues",
			Help: "Number of receive queues attached",
		},
	)
)
