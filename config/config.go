// Package config loads reactorlink's runtime configuration via viper,
// bound to pflag command-line flags, with fsnotify-driven hot reload of
// tunables (§4.J). Identity fields (driver kind, driver directory,
// listen addresses) require a process restart to change; only the
// channel.Options-shaped tunables are safe to reload in place.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/reactorlink/reactorlink/internal/channel"
)

// Config is the full process configuration.
type Config struct {
	DriverKind string `mapstructure:"driver_kind"` // "udp" or "ws"
	DriverDir  string `mapstructure:"driver_dir"`

	EventLoopCount int `mapstructure:"event_loop_count"`

	IntrospectHTTPAddr string `mapstructure:"introspect_http_addr"`
	IntrospectGRPCAddr string `mapstructure:"introspect_grpc_addr"`

	EventExportAMQPURI string `mapstructure:"event_export_amqp_uri"`
	EventExportTopic   string `mapstructure:"event_export_topic"`

	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// ListenInboundURI/ListenReverseURI/ListenStreamID configure the
	// ServerHandler `serve` hosts: the shared channel clients publish
	// requests to, and the channel this process replies on once a
	// session's reverse publication is up.
	ListenInboundURI string `mapstructure:"listen_inbound_uri"`
	ListenReverseURI string `mapstructure:"listen_reverse_uri"`
	ListenStreamID   int32  `mapstructure:"listen_stream_id"`

	Tunables Tunables `mapstructure:",squash"`
}

// Tunables mirrors channel.Options, the subset of configuration that can
// be hot-reloaded without restarting the process.
type Tunables struct {
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	PublicationTimeout  time.Duration `mapstructure:"publication_timeout"`
	BackpressureTimeout time.Duration `mapstructure:"backpressure_timeout"`
	ImageLivenessTimeout time.Duration `mapstructure:"image_liveness_timeout"`
	SendQueueCapacity   int           `mapstructure:"send_queue_capacity"`
	FragmentLimit       int           `mapstructure:"fragment_limit"`
	MTULength           int           `mapstructure:"mtu_length"`
	SessionRetry        int           `mapstructure:"session_retry"`
	FairnessPerTick     int           `mapstructure:"fairness_per_tick"`
	Prefetch            int           `mapstructure:"prefetch"`
}

// Options builds a channel.Options value from the current tunables.
func (t Tunables) Options() channel.Options {
	o := channel.NewOptions(
		channel.WithConnectTimeout(t.ConnectTimeout),
		channel.WithPublicationTimeout(t.PublicationTimeout),
		channel.WithBackpressureTimeout(t.BackpressureTimeout),
		channel.WithImageLivenessTimeout(t.ImageLivenessTimeout),
		channel.WithSendQueueCapacity(t.SendQueueCapacity),
		channel.WithFragmentLimit(t.FragmentLimit),
		channel.WithMTULength(t.MTULength),
		channel.WithSessionRetry(t.SessionRetry),
		channel.WithPrefetch(t.Prefetch),
	)
	o.FairnessPerTick = t.FairnessPerTick
	return o
}

func defaults(v *viper.Viper) {
	d := channel.NewOptions()
	v.SetDefault("driver_kind", "udp")
	v.SetDefault("driver_dir", "./reactorlink-run")
	v.SetDefault("event_loop_count", 1)
	v.SetDefault("introspect_http_addr", "127.0.0.1:7080")
	v.SetDefault("introspect_grpc_addr", "127.0.0.1:7090")
	v.SetDefault("event_export_topic", "reactorlink.events")
	v.SetDefault("listen_inbound_uri", "aeron:udp?endpoint=127.0.0.1:21000")
	v.SetDefault("listen_reverse_uri", "aeron:udp?endpoint=127.0.0.1:21001")
	v.SetDefault("listen_stream_id", 1)
	v.SetDefault("connect_timeout", d.ConnectTimeout)
	v.SetDefault("publication_timeout", d.PublicationTimeout)
	v.SetDefault("backpressure_timeout", d.BackpressureTimeout)
	v.SetDefault("image_liveness_timeout", d.ImageLivenessTimeout)
	v.SetDefault("send_queue_capacity", d.SendQueueCapacity)
	v.SetDefault("fragment_limit", d.FragmentLimit)
	v.SetDefault("mtu_length", d.MTULength)
	v.SetDefault("session_retry", d.SessionRetry)
	v.SetDefault("fairness_per_tick", d.FairnessPerTick)
	v.SetDefault("prefetch", d.Prefetch)
}

// Load reads configuration from flags, environment (REACTORLINK_ prefix)
// and an optional file, in viper's usual precedence order.
func Load(flags *pflag.FlagSet, file string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("reactorlink")
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: binding flags: %w", err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// WatchTunables re-reads the tunable fields whenever the underlying file
// changes, invoking onChange with the refreshed Tunables. Identity fields
// are intentionally not re-read here.
func WatchTunables(v *viper.Viper, logger *slog.Logger, onChange func(Tunables)) {
	if logger == nil {
		logger = slog.Default()
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		var t Tunables
		if err := v.Unmarshal(&struct {
			*Tunables `mapstructure:",squash"`
		}{&t}); err != nil {
			logger.Warn("config: reload failed, keeping previous tunables", slog.Any("error", err))
			return
		}
		logger.Info("config: tunables reloaded", slog.String("file", e.Name))
		onChange(t)
	})
	v.WatchConfig()
}
