package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/revd/internal/admission"
	"github.com/joescharf/revd/internal/daemon"
	"github.com/joescharf/revd/internal/dispatch"
	"github.com/joescharf/revd/internal/feedback"
	"github.com/joescharf/revd/internal/intake"
	"github.com/joescharf/revd/internal/pipeline"
	"github.com/joescharf/revd/internal/session"
)

var serveForeground bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the intake server and review dispatcher",
	Long: `Run the HTTP intake server and the review dispatcher.

Without a subcommand, runs in the foreground until interrupted.
Use 'serve start' to detach into the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveForegroundRun()
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show background server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveForeground, "foreground", false, "")
	_ = serveCmd.Flags().MarkHidden("foreground")

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "revd-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "revd-serve.log")
}

// serveForegroundRun wires the full pipeline and serves HTTP until a
// shutdown signal arrives.
func serveForegroundRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	machine := session.NewMachine(s)
	pipe, err := buildPipeline(s, machine)
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(pipe, machine, dispatch.Options{
		Workers:     viper.GetInt("dispatch.workers"),
		QueueDepth:  viper.GetInt("dispatch.queue_depth"),
		MaxAttempts: viper.GetInt("dispatch.max_attempts"),
		Retryable:   pipeline.Retryable,
	}, logger)

	window := time.Duration(viper.GetInt("ratelimit.window_seconds")) * time.Second
	guard := admission.NewGuard(s, window, viper.GetInt("ratelimit.max_per_window"), logger)
	recorder := feedback.NewRecorder(s, 0, logger)

	api := intake.NewServer(s, guard, dispatcher, machine, recorder)
	httpServer := &http.Server{
		Addr:              viper.GetString("intake.addr"),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("intake server listening", "addr", httpServer.Addr)
		ui.Info("Listening on %s", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, interruptSignals()...)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("intake server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	// Drain in-flight reviews before closing the store.
	if err := dispatcher.Close(); err != nil {
		logger.Warn("dispatcher close", "error", err)
	}
	if err := recorder.Close(); err != nil {
		logger.Warn("recorder close", "error", err)
	}
	return s.Close()
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	child := exec.Command(exe, "serve", "--foreground")
	child.Stdout = logFile
	child.Stderr = logFile
	detachProcess(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := pf.WritePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}

	ui.Success("Server started (pid %d), logging to %s", child.Process.Pid, serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		_ = pf.Remove()
		return fmt.Errorf("server not running")
	}

	if err := pf.Signal(stopSignal()); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}

	// Give it a grace period, then force.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, alive := pf.IsRunning(); !alive {
			_ = pf.Remove()
			ui.Success("Server stopped (pid %d)", pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	if err := pf.Signal(killSignal()); err != nil {
		return fmt.Errorf("kill server: %w", err)
	}
	_ = pf.Remove()
	ui.Warning("Server killed after timeout (pid %d)", pid)
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		ui.Info("Server running (pid %d) on %s", pid, viper.GetString("intake.addr"))
		return nil
	}
	ui.Info("Server not running")
	return nil
}
