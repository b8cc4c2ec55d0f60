package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sweepCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ble_scan_sweeps_total",
		Help: "Completed scan sweeps.",
	})
	readingCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ble_device_readings_total",
			Help: "Device readings taken during sweeps, by device and whether the device was seen.",
		},
		[]string{"device", "seen"},
	)
	rssiGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ble_device_rssi_dbm",
			Help: "Last RSSI value enqueued for a device (sentinel when not seen).",
		},
		[]string{"device"},
	)
	discoveryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ble_discovery_errors_total",
			Help: "Failed discovery control calls by operation.",
		},
		[]string{"op"},
	)
	publishCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_publish_total",
			Help: "Publish attempts by result.",
		},
		[]string{"result"},
	)
	connectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_connect_failures_total",
			Help: "Broker connect failures by kind.",
		},
		[]string{"kind"},
	)
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blemqtt_queue_depth",
		Help: "Events waiting between scanner and publisher.",
	})
)

func init() {
	prometheus.MustRegister(sweepCounter, readingCounter, rssiGauge, discoveryErrors, publishCounter, connectFailures, queueDepth)
}

func ObserveSweep() { sweepCounter.Inc() }

func ObserveReading(device string, seen bool, value int) {
	label := "false"
	if seen {
		label = "true"
	}
	readingCounter.WithLabelValues(device, label).Inc()
	rssiGauge.WithLabelValues(device).Set(float64(value))
}

func ObserveDiscoveryError(op string) { discoveryErrors.WithLabelValues(op).Inc() }

func ObservePublish(result string) { publishCounter.WithLabelValues(result).Inc() }

func ObserveConnectFailure(kind string) { connectFailures.WithLabelValues(kind).Inc() }

func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }
