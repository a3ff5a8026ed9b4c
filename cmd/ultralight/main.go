// Command ultralight runs a standalone STOMP broker serving WebSocket and TCP clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v7"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ernstnaezer/ultralight/broker"
	"github.com/ernstnaezer/ultralight/broker/events"
	"github.com/ernstnaezer/ultralight/internal/logx"
	"github.com/ernstnaezer/ultralight/store"
	"github.com/ernstnaezer/ultralight/transport/tcp"
	"github.com/ernstnaezer/ultralight/transport/websocket"
)

const (
	envPrefix    = "UL_"
	stopWaitTime = 5 * time.Second
)

type config struct {
	LogLevel      string `env:"LOG_LEVEL"      envDefault:"info"`
	LogConsole    bool   `env:"LOG_CONSOLE"    envDefault:"true"`
	HTTPAddr      string `env:"HTTP_ADDR"      envDefault:":8080"`
	WSPath        string `env:"WS_PATH"        envDefault:"/stomp"`
	TCPAddr       string `env:"TCP_ADDR"       envDefault:":61613"`
	RedisURL      string `env:"REDIS_URL"      envDefault:""`
	QueueCapacity int    `env:"QUEUE_CAPACITY" envDefault:"0"`
	Metrics       bool   `env:"METRICS"        envDefault:"true"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return config{}, fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.TCPAddr == "" && cfg.HTTPAddr == "" {
		return config{}, errors.New("loading configuration: no listener address")
	}
	return cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logx.New(os.Stderr, cfg.LogLevel, cfg.LogConsole)
	//
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("ultralight terminated")
		os.Exit(1)
	}
}

// run serves the broker until ctx is cancelled.
func run(ctx context.Context, cfg config, log zerolog.Logger) error {
	newStore, closeStore, err := stores(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()
	//
	router := chi.NewRouter()
	var listeners []broker.Listener
	if cfg.HTTPAddr != "" {
		listeners = append(listeners, &websocket.Listener{Router: router, Path: cfg.WSPath, Logger: log})
	}
	if cfg.TCPAddr != "" {
		listeners = append(listeners, &tcp.Listener{Addr: cfg.TCPAddr, Logger: log})
	}
	b, err := broker.New(listeners...)
	if err != nil {
		return err
	}
	b.Logger = log
	b.NewStore = newStore
	if cfg.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		b.Metrics = broker.NewMetrics(reg)
		router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	evs := make(chan interface{}, 16)
	b.Events = evs
	//
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logEvents(evs, log)
		return nil
	})
	if err := b.Start(); err != nil {
		close(evs)
		_ = g.Wait()
		return err
	}
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	if cfg.HTTPAddr != "" {
		g.Go(func() error {
			log.Info().Str("addr", cfg.HTTPAddr).Str("path", cfg.WSPath).Msg("http server started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), stopWaitTime)
		defer cancel()
		// Stop the broker first: hijacked websocket connections are not tracked by srv.
		err := b.Stop()
		close(evs)
		return errors.Join(err, srv.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

// stores returns the store factory selected by cfg and a func releasing it.
func stores(cfg config, log zerolog.Logger) (store.Factory, func(), error) {
	switch {
	case cfg.RedisURL != "":
		f, err := store.NewRedisFactory(cfg.RedisURL, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("using redis message store")
		return f.Factory(), func() { _ = f.Close() }, nil
	case cfg.QueueCapacity > 0:
		return store.NewBoundedFactory(cfg.QueueCapacity), func() {}, nil
	}
	return store.NewMemory, func() {}, nil
}

func logEvents(evs <-chan interface{}, log zerolog.Logger) {
	for ev := range evs {
		switch ev := ev.(type) {
		case events.ClientConnect:
			log.Debug().Str("session", ev.SessionID).Msg("client connected")
		case events.ClientDisconnect:
			log.Debug().Str("session", ev.SessionID).Msg("client disconnected")
		case events.QueueStart:
			log.Debug().Str("destination", ev.Destination).Msg("queue started")
		case events.QueueStop:
			log.Debug().Str("destination", ev.Destination).Msg("queue stopped")
		case events.ServerStop:
			log.Debug().Msg("broker stopped")
		}
	}
}
