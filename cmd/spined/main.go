// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command spined is the Spine daemon entrypoint (spec.md §1): it loads
// configuration, wires the Ledger, Registry, Dispatcher, Worker Pool,
// Scheduler Service, and Event Bus together, and runs until signaled.
//
// It is intentionally thin. The HTTP/REST surface, MCP tool adapter, and
// domain-specific pipelines the teacher's conductord/controller exposed
// are out of scope here (spec.md Non-goals); an embedding application
// registers its own task/workflow handlers against the Registry this
// process builds before calling Run.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryansmccoy/spine-core-sub007/internal/config"
	"github.com/ryansmccoy/spine-core-sub007/internal/dispatcher"
	"github.com/ryansmccoy/spine-core-sub007/internal/events"
	"github.com/ryansmccoy/spine-core-sub007/internal/executor"
	"github.com/ryansmccoy/spine-core-sub007/internal/ledger"
	"github.com/ryansmccoy/spine-core-sub007/internal/lock"
	internallog "github.com/ryansmccoy/spine-core-sub007/internal/log"
	"github.com/ryansmccoy/spine-core-sub007/internal/registry"
	"github.com/ryansmccoy/spine-core-sub007/internal/scheduler"
	"github.com/ryansmccoy/spine-core-sub007/internal/tracing"
	"github.com/ryansmccoy/spine-core-sub007/internal/worker"
)

// Version information, injected via ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var tracingEnabled bool

	cmd := &cobra.Command{
		Use:     "spined",
		Short:   "Spine durable workflow orchestration daemon",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, tracingEnabled)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().BoolVar(&tracingEnabled, "tracing", false, "enable OpenTelemetry span export")

	return cmd
}

func run(ctx context.Context, configPath string, tracingEnabled bool) error {
	logger := internallog.New(internallog.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("spined: load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("spined: invalid config: %w", err)
	}

	ledg, err := ledger.OpenFromURL(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("spined: open ledger: %w", err)
	}
	defer ledg.Close()

	tp, err := tracing.New(tracing.Config{
		Enabled:        tracingEnabled,
		ServiceName:    "spined",
		ServiceVersion: version,
		Sampling:       tracing.SamplingConfig{Enabled: false},
	})
	if err != nil {
		return fmt.Errorf("spined: init tracing: %w", err)
	}
	defer tp.Shutdown(context.Background())
	tracer := tp.Tracer("spined")

	reg := registry.New()
	bus := events.NewBus(logger)

	executors := map[dispatcher.ExecutorKind]executor.Executor{
		dispatcher.ExecutorInMemory:   executor.NewInMemory(),
		dispatcher.ExecutorThreadPool: executor.NewThreadPool(int64(cfg.MaxWorkers)),
	}

	dispatch := dispatcher.New(ledg, reg, executors, bus).WithTracer(tracer)

	pool := worker.New(ledg, reg, bus, worker.Config{
		Name:         "default",
		BatchSize:    cfg.MaxWorkers,
		PollInterval: cfg.PollInterval,
		MaxWorkers:   cfg.MaxWorkers,
	}, logger)

	lockMgr := lock.New(ledg)
	sched := scheduler.New(scheduler.Config{
		Repository: ledg,
		Locks:      lockMgr,
		Registry:   reg,
		Dispatcher: dispatch,
		InstanceID: instanceID(),
		TickEvery:  cfg.SchedulerTick,
		LockTTL:    cfg.LockTTL,
		Log:        logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go pool.Run(runCtx)
	go sched.Start(runCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received signal, shutting down", internallog.String("signal", sig.String()))

	cancel()
	sched.Stop()
	pool.StartDraining()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := pool.WaitForDrain(drainCtx, 30*time.Second); err != nil {
		logger.Warn("drain did not complete cleanly", internallog.Error(err))
	}

	return nil
}

// instanceID identifies this process as a lock holder; defaults to the
// hostname, falling back to a fixed label when unavailable.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "spined"
	}
	return host
}
