package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/swaplab/swapd/internal/config"
	"github.com/swaplab/swapd/internal/engine"
	"github.com/swaplab/swapd/internal/output"
)

func addStatusCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	parent.AddCommand(cmd)
}

func addStopCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE:  runStop,
	}
	parent.AddCommand(cmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	config.SetConfigDir(ConfigDir)

	if !engine.Probe() {
		if output.IsJSON() {
			return output.PrintJSON(cmd.OutOrStdout(), map[string]bool{"running": false})
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "swapd daemon is not running.")
		os.Exit(output.ExitNotRunning)
	}

	resp, err := engine.Command(&engine.Request{Type: "status"})
	if err != nil {
		return err
	}
	if resp.Type == "error" || resp.Status == nil {
		return fmt.Errorf("daemon error: %s", resp.Error)
	}

	st := resp.Status
	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), st)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "swapd running (pid=%d, uptime=%ds)\n", st.PID, st.UptimeSeconds)
	fmt.Fprintf(out, "  image:   %s (%d cores)\n", st.ImagePath, st.Cores)
	fmt.Fprintf(out, "  cache:   %d entries, %d hits, %d misses, %d evictions, %d writebacks\n",
		st.Cache.Entries, st.Cache.Hits, st.Cache.Misses, st.Cache.Evictions, st.Cache.Writebacks)
	fmt.Fprintf(out, "  ring:    %d pages logged, %d overflows\n", st.RingAppends, st.RingOverflows)
	fmt.Fprintf(out, "  sched:   %d migrations\n", st.Migrations)
	for _, w := range st.Workers {
		fmt.Fprintf(out, "  worker %d: %d iterations, %d errors, queue %d\n",
			w.ID, w.Iterations, w.Errors, w.QueueLen)
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	config.SetConfigDir(ConfigDir)

	if !engine.Probe() {
		fmt.Fprintln(cmd.ErrOrStderr(), "swapd daemon is not running.")
		return nil
	}

	resp, err := engine.Command(&engine.Request{Type: "stop"})
	if err != nil {
		return err
	}
	if resp.Type == "error" {
		return fmt.Errorf("daemon error: %s", resp.Error)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "swapd daemon stopping.")
	return nil
}
