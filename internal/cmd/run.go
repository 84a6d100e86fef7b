package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/swaplab/swapd/internal/config"
	"github.com/swaplab/swapd/internal/engine"
	"github.com/swaplab/swapd/internal/output"
)

var (
	runImageFlag      string
	runCoresFlag      int
	runBackgroundFlag bool
)

func addRunCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the paging workload",
		Long: `Run the paging workload in the foreground.

Opens the swap image, spawns one worker per core, and runs until INT/TERM.
With --background, the daemon is re-exec'd detached, its pid written to the
pidfile, and its output redirected to the daemon log.`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}

	flags := cmd.Flags()
	flags.StringVar(&runImageFlag, "image", "", "Swap image path (default: from config)")
	flags.IntVar(&runCoresFlag, "cores", 0, "Worker count (default: from config)")
	flags.BoolVar(&runBackgroundFlag, "background", false, "Daemonize")

	parent.AddCommand(cmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	config.SetConfigDir(ConfigDir)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if runImageFlag != "" {
		cfg.ImagePath = runImageFlag
	}
	if runCoresFlag > 0 {
		cfg.Cores = runCoresFlag
	}

	if runBackgroundFlag {
		return runDaemonBackground(cmd, cfg)
	}

	eng, err := engine.New(cfg, engine.Options{})
	if err != nil {
		return err
	}

	if err := config.EnsureRunDir(); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}
	pidPath := config.PidPath()
	os.WriteFile(pidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644)
	defer os.Remove(pidPath)

	// Handle signals
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return eng.Run(ctx)
}

// runDaemonBackground re-execs swapd run detached and waits for the control
// socket to come up.
func runDaemonBackground(cmd *cobra.Command, cfg *config.Config) error {
	if engine.Probe() {
		fmt.Fprintln(cmd.ErrOrStderr(), "swapd daemon is already running.")
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("getting executable path: %w", err)
	}

	runArgs := []string{"run", "--image", cfg.ImagePath, "--cores", fmt.Sprintf("%d", cfg.Cores)}
	if ConfigDir != "" {
		runArgs = append(runArgs, "--config-dir", ConfigDir)
	}
	if output.IsVerbose() {
		runArgs = append(runArgs, "-v")
	}

	if err := config.EnsureRunDir(); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}
	logPath := config.LogPath()
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	daemonCmd := exec.Command(exePath, runArgs...)
	daemonCmd.Stdout = logFile
	daemonCmd.Stderr = logFile
	daemonCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	daemonCmd.Env = os.Environ()

	if err := daemonCmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("starting daemon: %w", err)
	}
	logFile.Close()

	// Wait for socket to appear (up to 10s)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if engine.Probe() {
			fmt.Fprintf(cmd.ErrOrStderr(), "swapd daemon started (pid=%d, image=%s, cores=%d, log=%s)\n",
				daemonCmd.Process.Pid, cfg.ImagePath, cfg.Cores, logPath)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "swapd daemon started (pid=%d) but socket not ready yet. Check %s\n",
		daemonCmd.Process.Pid, logPath)
	return nil
}
