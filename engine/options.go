package engine

import (
	"net"
	"time"

	"github.com/decred/slog"
	"github.com/devindeed/aurelay/internal/audio"
	"github.com/devindeed/aurelay/internal/transport"
)

// DefaultTargetPort is the UDP port on the target host that receives the
// stream.
const DefaultTargetPort = 50051

// config determines an engine config.
type config struct {
	log          slog.Logger
	audioLog     slog.Logger
	transportLog slog.Logger

	newSubsystem audio.SubsystemFactory
	matchers     []audio.DeviceMatcher

	// targetPort is only changed in tests, so that the stream can be
	// received in an ephemeral port.
	targetPort    uint16
	resolver      *net.Resolver
	minSendBuffer int

	promAddr string

	// statsReportInterval is the interval to log stats. If zero, stats are
	// not logged.
	statsReportInterval time.Duration
}

// fillConfig fills a new config with the default config values, then applies
// all specified options.
func fillConfig(opts ...Option) config {
	cfg := config{
		log:                 slog.Disabled,
		audioLog:            slog.Disabled,
		transportLog:        slog.Disabled,
		newSubsystem:        audio.NewSubsystem,
		matchers:            audio.DefaultMatchers(),
		targetPort:          DefaultTargetPort,
		minSendBuffer:       transport.MinSendBufferSize,
		statsReportInterval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option is a functional engine config option.
type Option func(c *config)

// WithLogger sets the logger used by the engine.
func WithLogger(l slog.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

// WithAudioLogger sets the logger passed to the audio subsystem.
func WithAudioLogger(l slog.Logger) Option {
	return func(c *config) {
		c.audioLog = l
	}
}

// WithTransportLogger sets the logger used when binding sockets.
func WithTransportLogger(l slog.Logger) Option {
	return func(c *config) {
		c.transportLog = l
	}
}

// WithSubsystemFactory replaces the audio subsystem compiled into the binary.
func WithSubsystemFactory(f audio.SubsystemFactory) Option {
	return func(c *config) {
		c.newSubsystem = f
	}
}

// WithDeviceMatchers sets the ordered list of matchers used to prefer a
// capture device over the default input device.
func WithDeviceMatchers(matchers ...audio.DeviceMatcher) Option {
	return func(c *config) {
		c.matchers = matchers
	}
}

// WithTargetPort overrides the port on the target host that receives the
// stream.
func WithTargetPort(port uint16) Option {
	return func(c *config) {
		c.targetPort = port
	}
}

// WithResolver sets the resolver used to look up target hosts.
func WithResolver(r *net.Resolver) Option {
	return func(c *config) {
		c.resolver = r
	}
}

// WithMinSendBuffer sets the kernel send buffer size below which a warning is
// logged when a stream starts. Zero disables the check.
func WithMinSendBuffer(size int) Option {
	return func(c *config) {
		c.minSendBuffer = size
	}
}

// WithPrometheusListenAddr sets the address to offer Prometheus metrics
// endpoint collection.
func WithPrometheusListenAddr(addr string) Option {
	return func(c *config) {
		c.promAddr = addr
	}
}

// WithReportStatsInterval sets the interval to log stats. If set to zero,
// reporting is disabled.
func WithReportStatsInterval(interval time.Duration) Option {
	return func(c *config) {
		c.statsReportInterval = interval
	}
}
