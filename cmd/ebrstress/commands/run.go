package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/isgasho/flize/ebr"
	ebrprom "github.com/isgasho/flize/ebr/prometheus"
	"github.com/isgasho/flize/internal/logger"
	"github.com/isgasho/flize/internal/stress"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a stress test",
	Long: `Run concurrent readers and writers against a collector for the
configured duration, then drain it and report.

The command fails if any reader observed a reclaimed node or if retired
nodes were left unreclaimed after the final drain.

Examples:
  # Default run
  ebrstress run

  # Heavier run with pin tracking and metrics
  ebrstress run --readers 16 --writers 8 --duration 1m --track-pins --metrics-listen :9090

  # Environment overrides
  EBRSTRESS_STRESS_READERS=32 ebrstress run`,
	RunE: runStress,
}

func init() {
	d := stress.DefaultConfig()
	runCmd.Flags().Int("readers", d.Readers, "Number of reader goroutines")
	runCmd.Flags().Int("writers", d.Writers, "Number of writer goroutines")
	runCmd.Flags().Duration("duration", d.Duration, "How long to run")
	runCmd.Flags().Int("read-hold", d.ReadHold, "Checks per read while pinned")
	runCmd.Flags().Int("repin-every", d.RepinEvery, "Keep one pin per reader and repin every N reads (0 = pin per read)")
	runCmd.Flags().Duration("collect-interval", d.CollectInterval, "Collect ticker interval (0 = pins only)")
	runCmd.Flags().Uint64("advance-rate", d.AdvanceRate, "Pins per piggy-backed advancement attempt")
	runCmd.Flags().Bool("track-pins", d.TrackPins, "Record pin sites for laggard reports")
	runCmd.Flags().String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	runCmd.Flags().String("log-format", "text", "Log format (text, json)")
	runCmd.Flags().String("log-output", "stderr", "Log output (stdout, stderr, or file path)")
	runCmd.Flags().String("metrics-listen", "", "Serve Prometheus metrics on this address")
}

func runStress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	runner, err := stress.NewRunner(cfg.Stress, log, ebr.WithMetrics(ebrprom.New(reg)))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	rep, err := runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stress run: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, rep.String())
	for _, l := range rep.Laggards {
		fmt.Fprintln(out, l.String())
	}

	if !rep.OK() {
		return fmt.Errorf("stress run failed: %s", rep)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	return srv
}
