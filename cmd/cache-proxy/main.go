package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/always-cache/cache-filter/cachefilter"
	"github.com/always-cache/cache-filter/config"
	"github.com/always-cache/cache-filter/httpcache"
	_ "github.com/always-cache/cache-filter/httpcache/redis"
	_ "github.com/always-cache/cache-filter/httpcache/simple"
	_ "github.com/always-cache/cache-filter/httpcache/sqlite"
	"github.com/always-cache/cache-filter/pipeline"
	responsetransformer "github.com/always-cache/cache-filter/pkg/response-transformer"
)

const shutdownTimeout = 10 * time.Second

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	hostFlag           string
	backendFlag        string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin (overrides config)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&backendFlag, "backend", "", "Cache backend to use (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	cfg := config.Default()
	if configFilenameFlag != "" {
		var err error
		if cfg, err = config.Load(configFilenameFlag); err != nil {
			// logging is not set up yet
			fmt.Fprintf(os.Stderr, "Cannot read config: %v\n", err)
			os.Exit(1)
		}
	}
	applyFlags(&cfg)
	setupLogging(cfg.Log)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	cache, err := httpcache.New(cfg.Cache.Backend, cfg.CacheOptions(), log.Logger)
	if err != nil {
		log.Fatal().Err(err).Strs("available", httpcache.Backends()).Msg("Cannot create cache")
	}
	if closer, ok := cache.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Error().Err(err).Msg("Cannot close cache")
			}
		}()
	}

	origin := pipeline.NewOrigin(cfg.OriginURL(), cfg.Host)
	proxy := pipeline.NewHandler(origin, log.Logger,
		cachefilter.NewFactory(cache, cachefilter.Config{ClusterName: cfg.Cluster}),
		responsetransformer.NewFactory(cfg.Rules),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Msgf("Proxying %s to %s (with hostname '%s'), cache %s", cfg.Listen, origin, cfg.Host, cache.CacheInfo().Name)
	if err := run(ctx, cfg, proxy); err != nil {
		log.Error().Err(err).Msg("Server failed")
		return
	}
	log.Info().Msg("Server stopped")
}

func applyFlags(cfg *config.Config) {
	if originFlag != "" {
		cfg.Origin = originFlag
	}
	if hostFlag != "" {
		cfg.Host = hostFlag
	}
	if portFlag > 0 {
		cfg.Listen = fmt.Sprintf(":%d", portFlag)
	}
	if backendFlag != "" {
		cfg.Cache.Backend = backendFlag
	}
	if verbosityTraceFlag {
		cfg.Log.Level = zerolog.LevelTraceValue
	}
	if logFilenameFlag != "" {
		cfg.Log.File = logFilenameFlag
	}
}

// setupLogging sets the global logger: console output on stdout,
// plus the log file if one is configured.
func setupLogging(cfg config.LogConfig) {
	logLevel, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		logLevel = zerolog.DebugLevel
	}

	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if cfg.File != "" {
		if logFileOutput, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
}

func newRouter(proxy http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	// no Recoverer: a reset stream panics with http.ErrAbortHandler, which must reach net/http
	r.Handle("/*", proxy)
	return r
}

func newAdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return r
}

// run serves until ctx is done, then shuts the servers down gracefully.
func run(ctx context.Context, cfg config.Config, proxy http.Handler) error {
	servers := []*http.Server{{Addr: cfg.Listen, Handler: newRouter(proxy)}}
	if cfg.Admin != "" {
		servers = append(servers, &http.Server{Addr: cfg.Admin, Handler: newAdminRouter()})
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, server := range servers {
		server := server
		g.Go(func() error {
			log.Debug().Str("addr", server.Addr).Msg("Listening")
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", server.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, server := range servers {
			errs = append(errs, server.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
