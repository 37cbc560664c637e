// Command kernel boots the rvos simulator and drives its single
// simulated hart until interrupted, exposing the scheduler/allocator
// Prometheus metrics on an HTTP endpoint. Grounded on biscuit's own
// cmd/biscuit entry point (parse flags, build the kernel, run it,
// shut down cleanly on signal) restructured around cobra+viper for
// flag/config handling, the way gcsfuse's cmd/gcsfuse layers viper
// config-file binding on top of a cobra command tree.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"rvos/blk"
	"rvos/ufs"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kernel",
		Short: "Run the rvos preemptive multitasking simulator",
		RunE:  runKernel,
	}
	flags := cmd.Flags()
	flags.String("disk", "", "path to a disk image built by mkfs (empty: in-memory scratch disk, formatted fresh)")
	flags.Int("frames", ufs.DefaultFrames, "physical frame count for the simulated RAM arena")
	flags.Int("disk-blocks", ufs.DefaultDiskBlocks, "block count when formatting an in-memory disk")
	flags.String("log-file", "", "path to write logs to (lumberjack-rotated); empty logs to stderr")
	flags.Int("metrics-port", 9110, "port serving /metrics (Prometheus); 0 disables it")
	flags.String("config", "", "optional config file (yaml/json/toml) overriding the flags above")

	viper.BindPFlags(flags)
	return cmd
}

func runKernel(cmd *cobra.Command, args []string) error {
	if cfg, _ := cmd.Flags().GetString("config"); cfg != "" {
		viper.SetConfigFile(cfg)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("kernel: read config %s: %w", cfg, err)
		}
	}

	log := newLogger(viper.GetString("log-file"))

	var disk blk.Disk_i
	format := true
	if path := viper.GetString("disk"); path != "" {
		fd, err := blk.OpenFileDisk(path, viper.GetInt("disk-blocks"))
		if err != nil {
			return fmt.Errorf("kernel: open disk %s: %w", path, err)
		}
		disk = fd
		format = false
	}

	k, err := ufs.Boot(ufs.Options{
		Frames:     viper.GetInt("frames"),
		Disk:       disk,
		DiskBlocks: viper.GetInt("disk-blocks"),
		Format:     format,
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("kernel: boot: %w", err)
	}

	if port := viper.GetInt("metrics-port"); port > 0 {
		serveMetrics(port, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("kernel booted", "pid", k.Init.Pid.Pid())
	runErr := k.Run(ctx)
	if shutErr := k.Shutdown(); shutErr != nil {
		log.Error("shutdown failed", "err", shutErr)
	}
	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}

// newLogger builds the handler every subsystem's slog.Logger ultimately
// writes through, rotating through lumberjack when a file path is given
// rather than growing one log file without bound across a long-running
// simulation.
func newLogger(path string) *slog.Logger {
	if path == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // MiB
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(w, nil))
}

func serveMetrics(port int, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "err", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
}
