// Package metrics exposes broker events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/channeld/internal/ports"
)

const namespace = "channeld"

// Emitter implements ports.EventEmitter on a private registry.
type Emitter struct {
	registry *prometheus.Registry

	received      prometheus.Counter
	receivedBytes prometheus.Counter
	filtered      prometheus.Counter
	dropped       *prometheus.CounterVec
	queued        *prometheus.CounterVec
	evicted       *prometheus.CounterVec
	delivered     *prometheus.CounterVec
	deliveredB    *prometheus.CounterVec
	latency       prometheus.Histogram
	peerFailures  *prometheus.CounterVec
	peerUp        *prometheus.GaugeVec
	queueDepth    *prometheus.GaugeVec
	pending       prometheus.Gauge
}

var _ ports.EventEmitter = (*Emitter)(nil)

// New creates an emitter. channel is attached to every metric as a const
// label so several brokers can share one scrape target.
func New(channel string) *Emitter {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	labels := prometheus.Labels{"channel": channel}

	return &Emitter{
		registry: reg,
		received: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "received_messages_total",
			Help: "Messages picked up from the producer channel.", ConstLabels: labels,
		}),
		receivedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "received_bytes_total",
			Help: "Bytes picked up from the producer channel.", ConstLabels: labels,
		}),
		filtered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "filtered_messages_total",
			Help: "Messages rejected by the filter.", ConstLabels: labels,
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dropped_messages_total",
			Help: "Messages not queued for any peer.", ConstLabels: labels,
		}, []string{"reason"}),
		queued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "queued_messages_total",
			Help: "Messages queued per peer.", ConstLabels: labels,
		}, []string{"peer"}),
		evicted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "evicted_messages_total",
			Help: "Queued messages discarded per peer.", ConstLabels: labels,
		}, []string{"peer", "reason"}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "delivered_messages_total",
			Help: "Messages fully written per peer.", ConstLabels: labels,
		}, []string{"peer"}),
		deliveredB: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "delivered_bytes_total",
			Help: "Bytes fully written per peer.", ConstLabels: labels,
		}, []string{"peer"}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "delivery_latency_seconds",
			Help:        "Time from pickup to the last byte written.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			ConstLabels: labels,
		}),
		peerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "peer_failures_total",
			Help: "Transitions of a peer to Failed.", ConstLabels: labels,
		}, []string{"peer"}),
		peerUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "peer_up",
			Help: "1 while the peer has a live transport.", ConstLabels: labels,
		}, []string{"peer"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "peer_queue_depth",
			Help: "Messages waiting per peer.", ConstLabels: labels,
		}, []string{"peer"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_messages",
			Help: "Messages waiting across all peers.", ConstLabels: labels,
		}),
	}
}

// Registry returns the registry the metrics live in.
func (e *Emitter) Registry() *prometheus.Registry { return e.registry }

func (e *Emitter) OnReceived(bytes int) {
	e.received.Inc()
	e.receivedBytes.Add(float64(bytes))
}

func (e *Emitter) OnFiltered() { e.filtered.Inc() }

func (e *Emitter) OnDropped(reason string) { e.dropped.WithLabelValues(reason).Inc() }

func (e *Emitter) OnQueued(peer string, depth int) {
	e.queued.WithLabelValues(peer).Inc()
	e.queueDepth.WithLabelValues(peer).Set(float64(depth))
}

func (e *Emitter) OnQueueDepth(peer string, depth int) {
	e.queueDepth.WithLabelValues(peer).Set(float64(depth))
}

func (e *Emitter) OnEvicted(peer, reason string, count int) {
	e.evicted.WithLabelValues(peer, reason).Add(float64(count))
}

func (e *Emitter) OnDelivered(peer string, bytes int, latency time.Duration) {
	e.delivered.WithLabelValues(peer).Inc()
	e.deliveredB.WithLabelValues(peer).Add(float64(bytes))
	e.latency.Observe(latency.Seconds())
}

func (e *Emitter) OnPeerStatus(peer, status string) {
	up := 0.0
	switch status {
	case "Up":
		up = 1
	case "Failed":
		e.peerFailures.WithLabelValues(peer).Inc()
	}
	e.peerUp.WithLabelValues(peer).Set(up)
}

func (e *Emitter) OnPending(pending int) { e.pending.Set(float64(pending)) }

// Server serves /metrics for one Emitter.
type Server struct {
	logger ports.Logger
	srv    *http.Server
	ln     net.Listener
	wg     sync.WaitGroup
}

// Listen binds addr and starts serving in the background.
func Listen(addr string, e *Emitter, logger ports.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	s := &Server{
		logger: logger,
		ln:     ln,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", ports.Err(err))
		}
	}()
	logger.Info("metrics server listening", ports.String("addr", ln.Addr().String()))
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops the server and waits for it to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.wg.Wait()
	return err
}
