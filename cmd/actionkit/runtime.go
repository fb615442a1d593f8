package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rendis/actionkit/internal/engine"
	"github.com/rendis/actionkit/internal/expressions"
	"github.com/rendis/actionkit/internal/menu"
	"github.com/rendis/actionkit/internal/presentation"
	"github.com/rendis/actionkit/internal/streaming"
	"github.com/rendis/actionkit/pkg/action"
)

// runtime is a loaded workspace plus a running engine.
type runtime struct {
	logger    *slog.Logger
	workspace *menu.Workspace
	driver    *engine.Driver
	factory   *presentation.Factory
	factories *presentation.Registry
	registry  *prometheus.Registry
	hub       *streaming.MemoryHub

	stop func()
}

func openRuntime(ctx context.Context, cfg Config, menuPath, statePath string, logger *slog.Logger) (*runtime, error) {
	ecfg, err := cfg.engineConfig()
	if err != nil {
		return nil, err
	}
	engines, err := expressions.NewEngines()
	if err != nil {
		return nil, fmt.Errorf("init expression engines: %w", err)
	}
	ws, warnings, err := menu.Open(menuPath, statePath, engines, logger)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logger.Warn("menu warning", slog.String("path", w.Path), slog.String("message", w.Message))
	}

	coord := engine.NewCoordinator(ecfg.CoordinatorConfig(), logger)
	coordCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := coord.Run(coordCtx); err != nil && coordCtx.Err() == nil {
			logger.Error("coordinator stopped", slog.String("error", err.Error()))
		}
	}()

	rt := &runtime{
		logger:    logger,
		workspace: ws,
		factory:   presentation.NewFactory("actionkit"),
		registry:  prometheus.NewRegistry(),
		hub:       streaming.NewMemoryHub(),
	}
	rt.factories = presentation.NewRegistry(rt.hub)
	unregister := rt.factories.Register(rt.factory)
	rt.driver = engine.NewDriver(ecfg, coord, rt.factory,
		engine.WithLogger(logger),
		engine.WithMetrics(engine.NewMetrics(rt.registry)),
		engine.WithHub(rt.hub),
	)
	rt.stop = func() {
		unregister()
		rt.driver.Shutdown()
		cancel()
		<-done
	}
	return rt, nil
}

type renderedSurface struct {
	Surface string              `json:"surface"`
	Place   string              `json:"place"`
	Items   []presentation.Item `json:"items"`
}

func (rt *runtime) render(req engine.Request, list []*action.Node) renderedSurface {
	return renderedSurface{Surface: req.Surface, Place: string(req.Place), Items: rt.factory.Render(list)}
}

func writeSurfaces(w io.Writer, surfaces []renderedSurface, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(surfaces)
	}
	for i, s := range surfaces {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%s)\n", s.Surface, s.Place)
		for _, item := range s.Items {
			fmt.Fprintf(w, "  %s\n", item.Line())
		}
	}
	return nil
}
