package cmd

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/swaplab/swapd/internal/config"
	"github.com/swaplab/swapd/internal/engine"
	"github.com/swaplab/swapd/internal/output"
	"github.com/swaplab/swapd/internal/tui"
)

func addTopCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Live view of cache, ring, and worker activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetConfigDir(ConfigDir)
			if !engine.Probe() {
				fmt.Fprintln(cmd.ErrOrStderr(), "swapd daemon is not running.")
				os.Exit(output.ExitNotRunning)
			}
			p := tea.NewProgram(tui.NewModel(), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
	parent.AddCommand(cmd)
}
