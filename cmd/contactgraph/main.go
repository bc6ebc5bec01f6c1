// Command contactgraph runs contact-network pipeline operations:
//
//	contactgraph [flags] "connect->load_nodes->load_edges"
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-contactgraph/pkg/config"
	"github.com/dd0wney/cluso-contactgraph/pkg/health"
	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/metrics"
	"github.com/dd0wney/cluso-contactgraph/pkg/pipeline"
	"github.com/dd0wney/cluso-contactgraph/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type flags struct {
	configPath string
	runID      string
	listOps    bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   `contactgraph [flags] "<op>-><op>->..."`,
		Short: "Load contact networks and simulation output, then extract 1-hop subgraphs",
		Long: "Operations run in the order given:\n  " +
			strings.Join(pipeline.Operations, "\n  "),
		Args: func(cmd *cobra.Command, args []string) error {
			if f.listOps {
				return nil
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.listOps {
				for _, op := range pipeline.Operations {
					fmt.Fprintln(cmd.OutOrStdout(), op)
				}
				return nil
			}
			return run(cmd.Context(), f, args[0])
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "YAML config file (default $"+config.EnvConfigPath+")")
	cmd.Flags().StringVar(&f.runID, "run-id", "", "run id recorded in logs, progress and checkpoints (default: random)")
	cmd.Flags().BoolVar(&f.listOps, "list-ops", false, "print the operation names and exit")
	return cmd
}

func run(ctx context.Context, f flags, chain string) error {
	boot := logging.New(logging.Options{Level: logging.ParseLevel(os.Getenv(config.EnvLogLevel)), Name: "contactgraph"})

	cfg, err := config.Load(f.configPath)
	if err != nil {
		if errors.Is(err, config.ErrNoHostname) {
			boot.Error("graph store hostname missing", logging.String("env", config.EnvNeo4jHostname))
		}
		boot.Error("invalid configuration", logging.Error(err))
		boot.Sync()
		return err
	}

	logger := logging.New(cfg.LoggingOptions())
	defer logger.Sync()
	logging.SetDefaultLogger(logger)

	ops, err := pipeline.ParseOps(chain, logger)
	if err != nil {
		logger.Error("invalid operation chain", logging.Error(err))
		return err
	}
	if len(ops) == 0 {
		logger.Warn("no operations to run")
		return nil
	}

	runID := f.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := logger.With(logging.RunID(runID))

	reg := metrics.NewRegistry()
	hc := health.NewChecker(health.DefaultTimeout)
	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		srv, err := metrics.NewServer(addr, reg, log)
		if err != nil {
			log.Error("metrics endpoint", logging.String("addr", addr), logging.Error(err))
			return err
		}
		srv.WithHealth(hc)
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := srv.Serve(srvCtx); err != nil {
				log.Warn("metrics endpoint stopped", logging.Error(err))
			}
		}()
	}

	var reporter telemetry.Reporter
	if addr := cfg.Telemetry.PublishAddr; addr != "" {
		pub, err := telemetry.NewPublisher(addr, log)
		if err != nil {
			log.Error("progress publisher", logging.String("addr", addr), logging.Error(err))
			return err
		}
		defer pub.Close()
		reporter = pub
	}

	runner, err := pipeline.NewRunner(cfg, pipeline.Options{
		RunID:    runID,
		Logger:   logger,
		Metrics:  reg,
		Reporter: reporter,
	})
	if err != nil {
		log.Error("pipeline setup", logging.Error(err))
		return err
	}
	runner.RegisterHealth(hc)
	defer func() {
		if err := runner.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("closing connections", logging.Error(err))
		}
	}()

	timer := logging.StartTimer(log, "pipeline finished", logging.Count(len(ops)))
	if err := runner.Run(ctx, ops); err != nil {
		timer.EndError(err)
		return err
	}
	timer.End()
	return nil
}
