// Package cli implements the medipay command line: the HTTP service, a
// one-off projection printer and the autopay sweep.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"medipay/internal/config"
	"medipay/internal/obs"
	"medipay/internal/projection"
)

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "medipay",
		Short:        "Prescription cost tracker",
		Long:         "Track prescription costs, project the next twelve months and simulate installment payments.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file (env MEDIPAY_* overrides it)")

	root.AddCommand(newServeCommand(&configPath), newProjectCommand(), newAutoPayCommand(&configPath))
	return root
}

func loadConfig(path string) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	logger, err := obs.NewLogger(cfg.Log, nil)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("service_starting")
	a, err := openService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.attachAPI(ctx); err != nil {
		return err
	}
	a.exports.Start()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("http_listen", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			logger.Error("http_server_error", "error", err)
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown_signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_error", "error", err)
	}
	if err := a.exports.Stop(shutdownCtx); err != nil {
		logger.Warn("export_worker_stop_timeout", "error", err)
	}
	logger.Info("service_stopped")
	return nil
}

func newProjectCommand() *cobra.Command {
	var (
		cost   float64
		seed   uint64
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Print a twelve-month projection for a monthly cost",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("cost") {
				return errors.New("--cost is required")
			}
			engine := projection.New(nil)
			if cmd.Flags().Changed("seed") {
				engine = projection.NewSeeded(seed)
			}
			result, err := engine.Project(cost)
			if err != nil {
				return err
			}
			return printProjection(cmd.OutOrStdout(), result, asJSON)
		},
	}
	cmd.Flags().Float64Var(&cost, "cost", 0, "Starting monthly cost")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Seed for reproducible growth factors")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

type projectionOutput struct {
	projection.Result
	Insights projection.Insights `json:"insights"`
}

func printProjection(w io.Writer, result projection.Result, asJSON bool) error {
	insights := projection.Describe(result.AnnualCost, result.MonthlyInstallment)
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(projectionOutput{Result: result, Insights: insights})
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Month\tAmount\t")
	for _, pt := range result.MonthlyBreakdown {
		fmt.Fprintf(tw, "%s\t$%s\t\n", pt.Month, projection.FormatAmount(pt.Amount))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nAnnual cost:     $%s\n", projection.FormatAmount(result.AnnualCost))
	fmt.Fprintf(w, "Monthly EMI:     $%s\n", projection.FormatAmount(result.MonthlyInstallment))
	fmt.Fprintf(w, "Emergency fund:  $%s\n", projection.FormatAmount(insights.EmergencyFund))
	if insights.AffordabilityRisk {
		fmt.Fprintln(w, "Affordability:   at risk (installment above $300/month)")
	} else {
		fmt.Fprintln(w, "Affordability:   ok")
	}
	return nil
}

func newAutoPayCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "autopay",
		Short: "Run one autopay sweep over opted-in users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := openService(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()
			report, err := a.svc.RunAutoPay(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "charged %d, skipped %d, failed %d\n", len(report.Charged), report.Skipped, len(report.Failures))
			if len(report.Failures) > 0 {
				return fmt.Errorf("autopay: %d charges failed", len(report.Failures))
			}
			return nil
		},
	}
}
