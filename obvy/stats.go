package systole

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsInternal holds the Prometheus collectors for Systole itself.
// Each instance has its own registry so tests and multiple views
// never collide on registration.
type StatsInternal struct {
	Registry *prometheus.Registry

	Samples       *prometheus.CounterVec
	Beats         *prometheus.CounterVec
	Readings      prometheus.Counter
	BPM           prometheus.Gauge
	Quality       prometheus.Gauge
	SampleLatency prometheus.Histogram
	WWW           *prometheus.CounterVec
	Draw          prometheus.Histogram
}

func NewStatsInternal() *StatsInternal {
	s := &StatsInternal{
		Registry: prometheus.NewRegistry(),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "systole",
			Name:      "samples_total",
			Help:      "Samples processed, by sensor validity",
		}, []string{"valid"}),
		Beats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "systole",
			Name:      "beats_total",
			Help:      "Beats accepted, by whether the interval was plausible",
		}, []string{"plausible"}),
		Readings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "systole",
			Name:      "readings_total",
			Help:      "Finished sessions",
		}),
		BPM: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "systole",
			Name:      "last_reading_bpm",
			Help:      "Heart rate of the last finished session, zero when unavailable",
		}),
		Quality: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "systole",
			Name:      "last_reading_quality",
			Help:      "Signal quality of the last finished session",
		}),
		SampleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "systole",
			Name:      "sample_seconds",
			Help:      "Time spent processing one sample",
			Buckets:   []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3},
		}),
		WWW: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "systole",
			Name:      "http_requests_total",
			Help:      "HTTP requests, by status code and method",
		}, []string{"code", "method"}),
		Draw: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "systole",
			Name:      "draw_seconds",
			Help:      "Time spent drawing one terminal frame",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.Samples, s.Beats, s.Readings, s.BPM, s.Quality,
		s.SampleLatency, s.WWW, s.Draw,
	)
	return s
}

// Handler serves this registry on /metrics
func (s *StatsInternal) Handler() http.Handler {
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{Registry: s.Registry})
}

// RecWWW counts one HTTP response
func (s *StatsInternal) RecWWW(code, method string) {
	s.WWW.WithLabelValues(code, method).Inc()
}

// RecSample counts a sample and how long it took
func (s *StatsInternal) RecSample(latency time.Duration, valid bool) {
	s.Samples.WithLabelValues(boolLabel(valid)).Inc()
	s.SampleLatency.Observe(latency.Seconds())
}

func (s *StatsInternal) RecBeat(plausible bool) {
	s.Beats.WithLabelValues(boolLabel(plausible)).Inc()
}

func (s *StatsInternal) RecReading(bpm int, quality float64) {
	s.Readings.Inc()
	s.BPM.Set(float64(bpm))
	s.Quality.Set(quality)
}

// RecDrawTimer records one terminal redraw
func (s *StatsInternal) RecDrawTimer(d time.Duration) {
	s.Draw.Observe(d.Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
