package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/common-nighthawk/go-figure"
	"github.com/fxnlabs/linalg-kernels/internal/backend"
	"github.com/fxnlabs/linalg-kernels/internal/config"
	"github.com/fxnlabs/linalg-kernels/internal/customcall"
	"github.com/fxnlabs/linalg-kernels/internal/handlepool"
	"github.com/fxnlabs/linalg-kernels/internal/kernels"
	"github.com/fxnlabs/linalg-kernels/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func serveCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Register the targets process-wide and serve metrics until interrupted",
		Action: func(c *cli.Context) error {
			fmt.Fprintln(c.App.Writer, figure.NewFigure("kernelctl", "", true).String())

			app := fx.New(serveOptions(e.cfg, e.log))
			if err := app.Start(c.Context); err != nil {
				return err
			}
			sig := <-app.Wait()
			e.log.Info("shutting down", zap.Any("signal", sig.Signal))
			return app.Stop(context.Background())
		},
	}
}

// serveOptions assembles the serve process: backend, kernels installed as
// the process-wide default, the target registry and the HTTP server.
func serveOptions(cfg *config.Config, log *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, log),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			newBackend,
			newKernels,
			newRegistry,
			newMux,
			newServer,
		),
		fx.Invoke(func(*http.Server) {}),
	)
}

func newBackend(cfg *config.Config, log *zap.Logger) (*backend.Backend, error) {
	return backend.New(cfg.Backend.Kind, log)
}

func newKernels(cfg *config.Config, b *backend.Backend, log *zap.Logger) *kernels.Kernels {
	k := kernels.New(b.Runtime, b.BLAS, b.Solver, cfg.Backend.Staging, log)
	kernels.SetDefault(k)
	return k
}

// newRegistry takes the kernels so that the default is installed before any
// registered target can run.
func newRegistry(_ *kernels.Kernels, log *zap.Logger) (*customcall.Registry, error) {
	r := customcall.NewRegistry()
	for name, target := range kernels.Registrations() {
		if err := r.Register(name, target); err != nil {
			return nil, err
		}
	}
	log.Info("registered custom call targets", zap.Strings("targets", r.Names()))
	return r, nil
}

type targetsResponse struct {
	Backend string                      `json:"backend"`
	Staging string                      `json:"staging"`
	Targets []kernels.TargetInfo        `json:"targets"`
	Handles map[string]handlepool.Stats `json:"handles"`
}

func newMux(cfg *config.Config, b *backend.Backend, k *kernels.Kernels, r *customcall.Registry, log *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Middleware(promhttp.Handler(), "/metrics"))

	targets := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		resp := targetsResponse{
			Backend: b.Runtime.Name(),
			Staging: string(cfg.Backend.Staging),
			Handles: map[string]handlepool.Stats{},
		}
		for _, info := range kernels.Describe() {
			if _, ok := r.Lookup(info.Name); ok {
				resp.Targets = append(resp.Targets, info)
			}
		}
		resp.Handles["blas"], resp.Handles["solver"] = k.HandleStats()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warn("failed to write targets response", zap.Error(err))
		}
	})
	mux.Handle("/targets", metrics.Middleware(targets, "/targets"))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// newServer binds the listener only when the app starts. srv.Addr holds the
// bound address once OnStart returns.
func newServer(lc fx.Lifecycle, cfg *config.Config, mux *http.ServeMux, log *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              cfg.Metrics.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Metrics.ReadHeaderTimeout,
	}
	log = log.Named("http")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var listen net.ListenConfig
			ln, err := listen.Listen(ctx, "tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
			srv.Addr = ln.Addr().String()
			log.Info("serving metrics", zap.String("address", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return srv
}
