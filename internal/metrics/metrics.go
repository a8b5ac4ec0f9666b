// Package metrics exports scheduler activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector is the Prometheus implementation of scheduler.Metrics.
type Collector struct {
	submits        *prometheus.CounterVec
	finished       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	queueDepth     prometheus.Gauge
	tilesGenerated prometheus.Counter
}

// New registers the tilesched collectors with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		submits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilesched_submissions_total",
				Help: "Submitted requests by kind and how they were handled",
			},
			[]string{"kind", "outcome"}, // outcome: queued, cached, deduplicated
		),
		finished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilesched_requests_finished_total",
				Help: "Queued requests that settled, by kind and error class",
			},
			[]string{"kind", "class"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "tilesched_request_duration_seconds",
				Help: "Time from enqueue to settlement",
				Buckets: []float64{
					0.01, // cached tile batch
					0.1,
					0.5,
					1,
					5,
					15,
					60,
					300, // whole-slide preparation
					900,
				},
			},
			[]string{"kind"},
		),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "tilesched_queue_depth",
			Help: "Requests waiting in the queue",
		}),
		tilesGenerated: f.NewCounter(prometheus.CounterOpts{
			Name: "tilesched_tiles_generated_total",
			Help: "Tiles encoded and written to the cache",
		}),
	}
}

func (c *Collector) ObserveSubmit(kind, outcome string) {
	c.submits.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) ObserveFinish(kind, class string, d time.Duration) {
	c.finished.WithLabelValues(kind, class).Inc()
	c.duration.WithLabelValues(kind).Observe(d.Seconds())
}

func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

func (c *Collector) AddTilesGenerated(n int) {
	c.tilesGenerated.Add(float64(n))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("metrics endpoint listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
