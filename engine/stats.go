package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/devindeed/aurelay/internal/netutils"
)

// stats holds engine statistics. Fields updated from the capture callback
// are either atomics or lock-free prometheus collectors.
type stats struct {
	reg *prometheus.Registry

	datagrams        prometheus.Counter
	bytesSent        prometheus.Counter
	sendErrors       prometheus.Counter
	deviceStops      prometheus.Counter
	streaming        prometheus.Gauge
	startFailures    *prometheus.CounterVec
	callbackDuration prometheus.Histogram

	datagramsAtomic  atomic.Uint64
	bytesSentAtomic  atomic.Uint64
	sendErrorsAtomic atomic.Uint64

	// lastSendErr is the first send error since the last stats report.
	lastSendErr atomic.Pointer[error]
}

func newStats() *stats {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return &stats{
		reg: reg,

		datagrams: f.NewCounter(prometheus.CounterOpts{
			Name: "aurelay_datagrams_sent",
			Help: "Total number of audio datagrams sent",
		}),
		bytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "aurelay_bytes_sent",
			Help: "Total bytes of audio sent",
		}),
		sendErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "aurelay_send_errors",
			Help: "Count of datagrams dropped due to send errors",
		}),
		deviceStops: f.NewCounter(prometheus.CounterOpts{
			Name: "aurelay_device_stops",
			Help: "Count of capture devices stopped by the audio subsystem while streaming",
		}),
		streaming: f.NewGauge(prometheus.GaugeOpts{
			Name: "aurelay_streaming",
			Help: "Whether a capture stream is active",
		}),
		startFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aurelay_start_failures",
			Help: "Count of failed attempts to start streaming by status code",
		}, []string{"status"}),
		callbackDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "aurelay_callback_duration_microseconds",
			Help: "Histogram of time spent encoding and sending each captured buffer",
			Buckets: []float64{
				1, 5, 10, 25, 50, 100, 250, 500, 1_000, 2_500, 5_000, 10_000,
			},
		}),
	}
}

// datagramSent records a successfully sent datagram.
func (st *stats) datagramSent(n int) {
	st.datagrams.Inc()
	st.bytesSent.Add(float64(n))
	st.datagramsAtomic.Add(1)
	st.bytesSentAtomic.Add(uint64(n))
}

// sendFailed records a dropped datagram. Only the first error of each report
// interval is kept, so this does not allocate on every failure.
func (st *stats) sendFailed(err error) {
	st.sendErrors.Inc()
	st.sendErrorsAtomic.Add(1)
	if st.lastSendErr.Load() == nil {
		first := err
		st.lastSendErr.CompareAndSwap(nil, &first)
	}
}

// runReportStatsLoop runs a loop to report basic stats.
func (e *Engine) runReportStatsLoop(ctx context.Context, reportInterval time.Duration) error {
	if reportInterval <= 0 {
		e.log.Infof("Logging of stats is disabled")
		return nil
	}

	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()
	var tickTime, lastTick time.Time
	tickTime = time.Now()

	e.log.Debugf("Running report stats loop with interval %s", reportInterval)

	for {
		lastTick = tickTime

		select {
		case <-ctx.Done():
			return ctx.Err()
		case tickTime = <-ticker.C:
		}

		datagrams := e.stats.datagramsAtomic.Swap(0)
		bytesSent := e.stats.bytesSentAtomic.Swap(0)
		sendErrs := e.stats.sendErrorsAtomic.Swap(0)
		lastErr := e.stats.lastSendErr.Swap(nil)

		if sendErrs > 0 && lastErr != nil {
			e.log.Warnf("%s datagrams dropped due to send errors in the "+
				"last %s (first error: %v)", hcount(sendErrs),
				tickTime.Sub(lastTick).Round(time.Millisecond), *lastErr)
		}

		if datagrams|bytesSent == 0 {
			// Skip if there are no stats.
			continue
		}

		dt := tickTime.Sub(lastTick)
		if dt == 0 {
			continue // Should not happen.
		}

		dts := float64(dt.Milliseconds()) / 1000
		wbr := float64(bytesSent) / dts
		wpr := float64(datagrams) / dts

		e.log.Infof("Stats for the last %s - OUT: %8s (%7sB/sec) %8s Pkt (%7s/sec)",
			dt.Round(time.Millisecond),
			hbytes(bytesSent), hrate(wbr), hcount(datagrams), hrate(wpr))
	}
}

// MetricsHandler returns the handler that serves the engine's Prometheus
// metrics.
func (e *Engine) MetricsHandler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		e.stats.reg, promhttp.HandlerFor(e.stats.reg, promhttp.HandlerOpts{}),
	)
}

// runPrometheusListener runs the Prometheus metrics endpoint in the given
// address.
func (e *Engine) runPrometheusListener(ctx context.Context, addr string) error {
	listeners, err := netutils.Listen(addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.MetricsHandler())
	hs := http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		l := l
		e.log.Infof("Exposing prometheus metrics on %s", l.Addr())
		g.Go(func() error {
			err := hs.Serve(l)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hs.Shutdown(ctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
