package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rendis/actionkit/internal/engine"
	"github.com/rendis/actionkit/internal/scheduler"
	"github.com/rendis/actionkit/internal/streaming"
)

func watchCmd() *cobra.Command {
	var (
		menuPath    string
		statePath   string
		metricsAddr string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh every surface on its schedule and print changes",
		Long: `watch keeps the engine running, re-expands each surface on its refresh
schedule and prints a surface whenever its contents change. Edits to the
state file are picked up on the next refresh.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			tick, err := cfg.refreshTick()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, cfg, menuPath, statePath, logger)
			if err != nil {
				return err
			}
			defer rt.stop()

			if cfg.MetricsAddr != "" {
				shutdown := serveHTTP(rt, cfg.MetricsAddr, logger)
				defer shutdown()
			}
			go logPassEvents(ctx, rt.hub, logger)

			p := newChangePrinter(cmd.OutOrStdout(), rt, asJSON)
			r := scheduler.NewRefresher(rt.driver, p.print, scheduler.Options{Tick: tick, Logger: logger})
			for _, name := range rt.workspace.Surfaces() {
				req, err := rt.workspace.Request(name, "", false)
				if err != nil {
					return err
				}
				s, _ := rt.workspace.Menu.Surface(name)
				if err := r.Add(req, s.Refresh); err != nil {
					return err
				}
			}
			if err := r.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return r.Stop()
		},
	}

	cmd.Flags().StringVar(&menuPath, "menu", "", "menu definition (YAML)")
	cmd.Flags().StringVar(&statePath, "state", "", "IDE state document (JSON)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /events on this address")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("menu")
	return cmd
}

// serveHTTP serves Prometheus metrics on /metrics and pass events as SSE on
// /events.
func serveHTTP(rt *runtime, addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	mux.Handle("/events", streaming.SSEHandler(rt.hub, logger))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics and events", slog.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func logPassEvents(ctx context.Context, hub streaming.EventHub, logger *slog.Logger) {
	events, unsubscribe, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		logger.Warn("cannot subscribe to pass events", slog.String("error", err.Error()))
		return
	}
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			logger.Debug("pass event",
				slog.String("type", ev.EventType),
				slog.String("surface", ev.Surface),
				slog.String("pass_id", ev.PassID),
			)
		}
	}
}

// changePrinter prints a surface only when its rendering differs from the
// last one printed.
type changePrinter struct {
	w      io.Writer
	rt     *runtime
	asJSON bool

	mu   sync.Mutex
	last map[string]string
}

func newChangePrinter(w io.Writer, rt *runtime, asJSON bool) *changePrinter {
	return &changePrinter{w: w, rt: rt, asJSON: asJSON, last: make(map[string]string)}
}

func (p *changePrinter) print(res scheduler.Result) {
	if res.State != engine.PromiseSucceeded {
		return
	}
	req, err := p.rt.workspace.Request(res.Surface, "", false)
	if err != nil {
		return
	}
	rendered := p.rt.render(req, res.Nodes)
	key := fingerprint(rendered)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last[res.Surface] == key {
		return
	}
	p.last[res.Surface] = key
	_ = writeSurfaces(p.w, []renderedSurface{rendered}, p.asJSON)
}

func fingerprint(s renderedSurface) string {
	var b []byte
	for _, item := range s.Items {
		b = append(b, item.Line()...)
		b = append(b, '\n')
	}
	return string(b)
}
