package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"camgate/internal/api"
	"camgate/internal/config"
	"camgate/internal/engine/rtspd"
	"camgate/internal/events"
	"camgate/internal/logging"
	"camgate/internal/metrics"
	"camgate/internal/mount"
	"camgate/internal/registry"
	"camgate/internal/session"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	RtspPort        string `help:"RTSP server port" default:":8554" toml:"server.rtsp_port" env:"SERVER_RTSP_PORT"`
	ApiPort         string `help:"HTTP API port" default:":8090" toml:"server.api_port" env:"SERVER_API_PORT"`
	ShutdownTimeout string `help:"Graceful shutdown timeout" default:"10s" toml:"server.shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`

	// Registry settings
	RegistryBaseUrl      string `help:"Remote registry base URL (empty disables remote polling)" default:"" toml:"registry.base_url" env:"REGISTRY_BASE_URL"`
	RegistryEndpoint     string `help:"Remote registry endpoint path" default:"/matrix/its/basic/device/cctvMaster/select" toml:"registry.endpoint" env:"REGISTRY_ENDPOINT"`
	RegistryPollInterval string `help:"Remote registry poll interval" default:"30s" toml:"registry.poll_interval" env:"REGISTRY_POLL_INTERVAL"`
	RegistryTimeout      string `help:"Remote registry request timeout" default:"10s" toml:"registry.timeout" env:"REGISTRY_TIMEOUT"`
	RegistryFallbackFile string `help:"Local fallback stream list (empty disables fallback)" default:"streams.json" toml:"registry.fallback_file" env:"REGISTRY_FALLBACK_FILE"`

	// Mount settings
	ReconcileInterval string `help:"Mount reconcile interval" default:"10s" toml:"mount.reconcile_interval" env:"MOUNT_RECONCILE_INTERVAL"`

	// Stream settings
	OnDemand            bool   `help:"Start pipelines on first client instead of eagerly" default:"true" toml:"stream.on_demand" env:"STREAM_ON_DEMAND"`
	IdleTimeout         string `help:"Suspend on-demand pipelines after this long at zero clients" default:"5m" toml:"stream.idle_timeout" env:"STREAM_IDLE_TIMEOUT"`
	DisableAudio        bool   `help:"Drop audio tracks from relayed streams" default:"true" toml:"stream.disable_audio" env:"STREAM_DISABLE_AUDIO"`
	Transport           string `help:"Default source transport (tcp, udp, auto)" default:"tcp" toml:"stream.transport" env:"STREAM_TRANSPORT"`
	MaxRestartAttempts  int    `help:"Pipeline restarts allowed per rolling window" default:"5" toml:"stream.max_restart_attempts" env:"STREAM_MAX_RESTART_ATTEMPTS"`
	RestartWindow       string `help:"Rolling window for the restart budget" default:"5m" toml:"stream.restart_window" env:"STREAM_RESTART_WINDOW"`
	RestartBackoffBase  string `help:"Initial restart backoff delay" default:"1s" toml:"stream.restart_backoff_base" env:"STREAM_RESTART_BACKOFF_BASE"`
	RestartBackoffCap   string `help:"Maximum restart backoff delay" default:"30s" toml:"stream.restart_backoff_cap" env:"STREAM_RESTART_BACKOFF_CAP"`
	ClientAttachTimeout string `help:"How long a client waits for a starting pipeline" default:"10s" toml:"stream.client_attach_timeout" env:"STREAM_CLIENT_ATTACH_TIMEOUT"`
	Placeholder         bool   `help:"Keep sessions active with a silent pipeline when the source is unreachable" default:"false" toml:"stream.placeholder_enabled" env:"STREAM_PLACEHOLDER"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingRegistry string `help:"Registry logging level" default:"info" toml:"logging.registry" env:"LOGGING_REGISTRY"`
	LoggingMount    string `help:"Mount controller logging level" default:"info" toml:"logging.mount" env:"LOGGING_MOUNT"`
	LoggingSession  string `help:"Session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingRtsp     string `help:"RTSP server logging level" default:"info" toml:"logging.rtsp" env:"LOGGING_RTSP"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Error("Failed to load config", "error", loadErr)
			os.Exit(1)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"registry": opts.LoggingRegistry,
				"mount":    opts.LoggingMount,
				"session":  opts.LoggingSession,
				"rtspd":    opts.LoggingRtsp,
				"api":      opts.LoggingAPI,
			},
		})

		logger := logging.GetLogger("main")

		shutdownTimeout := mustDuration(logger, "server.shutdown_timeout", opts.ShutdownTimeout)
		pollInterval := mustDuration(logger, "registry.poll_interval", opts.RegistryPollInterval)
		registryTimeout := mustDuration(logger, "registry.timeout", opts.RegistryTimeout)
		reconcileInterval := mustDuration(logger, "mount.reconcile_interval", opts.ReconcileInterval)
		idleTimeout := mustDuration(logger, "stream.idle_timeout", opts.IdleTimeout)
		restartWindow := mustDuration(logger, "stream.restart_window", opts.RestartWindow)
		backoffBase := mustDuration(logger, "stream.restart_backoff_base", opts.RestartBackoffBase)
		backoffCap := mustDuration(logger, "stream.restart_backoff_cap", opts.RestartBackoffCap)
		attachTimeout := mustDuration(logger, "stream.client_attach_timeout", opts.ClientAttachTimeout)

		transport := registry.Transport(opts.Transport)
		if !transport.Valid() {
			logger.Error("Invalid transport in configuration", "value", opts.Transport)
			os.Exit(1)
		}
		if opts.RegistryBaseUrl == "" && opts.RegistryFallbackFile == "" {
			logger.Error("No stream source configured, set registry.base_url or registry.fallback_file")
			os.Exit(1)
		}

		defaults := registry.Defaults{
			Transport:    transport,
			DisableAudio: opts.DisableAudio,
		}

		// Create event bus for in-process event handling
		eventBus := events.New()

		recorder := metrics.NewRecorder()
		recorder.Start(eventBus)

		// Media plane: RTSP server for clients, relay factory for sources
		rtspLogger := logging.GetLogger("rtspd")
		hub := rtspd.NewHub(rtspLogger)
		rtspServer := rtspd.NewServer(hub, attachTimeout, rtspLogger)
		factory := rtspd.NewRelayFactory(hub, rtspLogger)

		// Desired state: remote registry with local fallback
		store := registry.NewStore()
		fetcher := registry.NewFetcher(opts.RegistryBaseUrl, opts.RegistryEndpoint, registryTimeout, defaults)
		poller := registry.NewPoller(fetcher, store, eventBus, pollInterval, opts.RegistryFallbackFile, defaults)

		var fallbackWatcher *config.Watcher[[]registry.StreamDescriptor]
		if opts.RegistryFallbackFile != "" {
			fallbackWatcher = config.NewFileWatcher(
				opts.RegistryFallbackFile,
				func(path string) ([]registry.StreamDescriptor, error) {
					return registry.LoadFallback(path, defaults)
				},
				logging.GetLogger("registry"),
			)
			fallbackWatcher.OnReload(poller.ReloadFallback)
		}

		sessionCfg := session.Config{
			OnDemand:    opts.OnDemand,
			IdleTimeout: idleTimeout,
			Placeholder: opts.Placeholder,
			Backoff: session.BackoffConfig{
				Base:        backoffBase,
				Cap:         backoffCap,
				MaxAttempts: opts.MaxRestartAttempts,
				Window:      restartWindow,
			},
		}

		controller := mount.NewController(store, rtspServer, factory, eventBus, sessionCfg, reconcileInterval)

		server := api.NewServer(&api.Options{
			Controller:        controller,
			Store:             store,
			Poller:            poller,
			PrometheusHandler: metrics.Handler(),
		})

		loopCtx, cancelLoops := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			// Start the RTSP server first so mounts land on a live listener
			if startErr := rtspServer.Start(opts.RtspPort); startErr != nil {
				logger.Error("Failed to start RTSP server", "error", startErr)
				os.Exit(1)
			}

			if opts.RegistryBaseUrl != "" {
				go poller.Run(loopCtx)
			} else if descriptors, loadErr := registry.LoadFallback(opts.RegistryFallbackFile, defaults); loadErr != nil {
				logger.Error("Failed to load fallback stream list", "path", opts.RegistryFallbackFile, "error", loadErr)
				os.Exit(1)
			} else {
				logger.Info("Remote registry disabled, serving fallback stream list", "path", opts.RegistryFallbackFile)
				poller.ReloadFallback(descriptors)
			}

			if fallbackWatcher != nil {
				if watchErr := fallbackWatcher.Start(); watchErr != nil {
					logger.Warn("Failed to watch fallback stream list", "error", watchErr)
				}
			}

			go controller.Run(loopCtx)

			logger.Info("Starting HTTP server", "port", opts.ApiPort)
			if startErr := server.Start(opts.ApiPort); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Stop the poller and reconcile loop before tearing down sessions
			cancelLoops()
			if fallbackWatcher != nil {
				if stopErr := fallbackWatcher.Stop(); stopErr != nil {
					logger.Error("Error stopping fallback watcher", "error", stopErr)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			controller.Shutdown(shutdownCtx)

			if stopErr := rtspServer.Stop(); stopErr != nil {
				logger.Error("Error stopping RTSP server", "error", stopErr)
			}
			recorder.Stop()
		})
	})

	// Run the CLI
	cli.Run()
}

// mustDuration parses a configured duration and exits on failure. Every
// duration has a valid default, so a parse error means operator input.
func mustDuration(logger *slog.Logger, key, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Error("Invalid duration in configuration", "key", key, "value", value, "error", err)
		os.Exit(1)
	}
	return d
}
