package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	roomsOpen           prometheus.Gauge
	realtimeConnections prometheus.Gauge
	storeFiles          *prometheus.GaugeVec
	storeEvictions      *prometheus.CounterVec
	uploadBytes         prometheus.Counter
	downloadBytes       prometheus.Counter
	broadcastsTotal     prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		roomsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "togetherfin_rooms_open",
			Help: "Number of currently open rooms",
		}),

		realtimeConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "togetherfin_realtime_connections",
			Help: "Number of live realtime connections",
		}),

		storeFiles: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "togetherfin_store_files",
			Help: "Number of files resident in a room store tier",
		}, []string{"room_id", "channel"}),

		storeEvictions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "togetherfin_store_evictions_total",
			Help: "Total files evicted from store tiers",
		}, []string{"channel"}),

		uploadBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "togetherfin_upload_bytes_total",
			Help: "Total ciphertext bytes uploaded by hosts",
		}),

		downloadBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "togetherfin_download_bytes_total",
			Help: "Total ciphertext bytes served to guests",
		}),

		broadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "togetherfin_broadcasts_total",
			Help: "Total sync broadcasts fanned out",
		}),
	}
}

func (pc *PrometheusCollector) SetRoomsOpen(count int) {
	pc.roomsOpen.Set(float64(count))
}

func (pc *PrometheusCollector) SetRealtimeConnections(count int) {
	pc.realtimeConnections.Set(float64(count))
}

func (pc *PrometheusCollector) SetStoreFiles(roomID, channel string, count int) {
	pc.storeFiles.WithLabelValues(roomID, channel).Set(float64(count))
}

func (pc *PrometheusCollector) AddStoreEvictions(channel string, count int) {
	if count > 0 {
		pc.storeEvictions.WithLabelValues(channel).Add(float64(count))
	}
}

func (pc *PrometheusCollector) AddUploadBytes(n int) {
	pc.uploadBytes.Add(float64(n))
}

func (pc *PrometheusCollector) AddDownloadBytes(n int) {
	pc.downloadBytes.Add(float64(n))
}

func (pc *PrometheusCollector) IncBroadcasts() {
	pc.broadcastsTotal.Inc()
}
