// Copyright 2026 Stackmesh Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command stackd runs the stack topology controller: it consumes
// keepalive probes and port status updates from the packet pipeline over
// a unix socket, maintains the stack graph and root election, and emits
// flow rule deltas and notifications.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stackmesh/stackmesh/pkg/log"
	"github.com/stackmesh/stackmesh/pkg/private/serrors"
	"github.com/stackmesh/stackmesh/private/periodic"
	"github.com/stackmesh/stackmesh/stacking"
	"github.com/stackmesh/stackmesh/stacking/config"
	"github.com/stackmesh/stackmesh/stacking/event"
	"github.com/stackmesh/stackmesh/stacking/metrics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:          "stackd",
		Short:        "Stack topology controller",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cfgPath)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "stackd.toml",
		"service configuration file")
	cmd.AddCommand(&cobra.Command{
		Use:   "sample-config",
		Short: "Print a sample configuration",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), config.Sample())
		},
	})
	return cmd
}

func run(cfgPath string) error {
	cfg, err := config.LoadService(cfgPath)
	if err != nil {
		return err
	}
	if err := log.Setup(cfg.Logging); err != nil {
		return serrors.Wrap("setting up logging", err)
	}
	defer log.HandlePanic()

	doc, err := config.LoadTopology(cfg.General.TopologyFile)
	if err != nil {
		return err
	}

	events := event.Sink(event.NopSink{})
	if cfg.Events.Socket != "" {
		conn, err := net.Dial("unix", cfg.Events.Socket)
		if err != nil {
			return serrors.Wrap("connecting event socket", err,
				"socket", cfg.Events.Socket)
		}
		defer conn.Close()
		events = event.NewWriterSink(conn)
	}
	rules := stacking.RuleSink(&logRuleSink{logger: log.Root()})
	if cfg.Rules.Socket != "" {
		conn, err := net.Dial("unix", cfg.Rules.Socket)
		if err != nil {
			return serrors.Wrap("connecting rule socket", err,
				"socket", cfg.Rules.Socket)
		}
		defer conn.Close()
		rules = newSocketRuleSink(conn)
	}

	registry := prometheus.NewRegistry()
	coord := &stacking.Coordinator{
		Logger:              log.Root(),
		Rules:               rules,
		Events:              events,
		Metrics:             metrics.New(registry),
		LinkConfig:          cfg.LinkStateConfig(),
		HealthCheckInterval: cfg.General.HealthCheckInterval.Duration,
	}
	if err := coord.Configure(doc); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, errCtx := errgroup.WithContext(ctx)

	probeInterval := cfg.General.ProbeInterval.Duration
	prober := periodic.Start(periodic.Func{
		TaskName: "stack_prober",
		Task: func(context.Context) {
			coord.MarkProbesSent(time.Now())
		},
	}, probeInterval, probeInterval)
	defer prober.Stop()
	health := periodic.Start(periodic.Func{
		TaskName: "stack_health",
		Task: func(context.Context) {
			coord.MaintainHealth(time.Now())
		},
	}, cfg.General.HealthCheckInterval.Duration, cfg.General.HealthCheckInterval.Duration)
	defer health.Stop()

	if cfg.General.ProbeSocket != "" {
		ln, err := listenUnix(cfg.General.ProbeSocket)
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer log.HandlePanic()
			return serveInputs(errCtx, ln, coord, health)
		})
		g.Go(func() error {
			defer log.HandlePanic()
			<-errCtx.Done()
			return ln.Close()
		})
	}
	if cfg.Metrics.Addr != "" {
		r := chi.NewRouter()
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		runServer(g, errCtx, cfg.Metrics.Addr, r)
	}
	if cfg.API.Addr != "" {
		r := chi.NewRouter()
		r.Get("/status", statusHandler(coord))
		runServer(g, errCtx, cfg.API.Addr, r)
	}
	log.Info("Stackd running", "topology", cfg.General.TopologyFile)
	return g.Wait()
}

func runServer(g *errgroup.Group, ctx context.Context, addr string, h http.Handler) {
	server := &http.Server{Addr: addr, Handler: h}
	g.Go(func() error {
		defer log.HandlePanic()
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return serrors.Wrap("serving http", err, "addr", addr)
	})
	g.Go(func() error {
		defer log.HandlePanic()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

func listenUnix(path string) (net.Listener, error) {
	// Stale sockets from a previous run would refuse the bind.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, serrors.Wrap("removing stale socket", err, "socket", path)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, serrors.Wrap("listening on socket", err, "socket", path)
	}
	return ln, nil
}
