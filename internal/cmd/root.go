package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/swaplab/swapd/internal/output"
)

var Version = "dev"

var (
	jsonFlag    bool
	verboseFlag bool
	quietFlag   bool
	ConfigDir   string
)

func NewRootCmd() *cobra.Command {
	cmd := newRootCmd()
	addRunCommand(cmd)
	addStopCommand(cmd)
	addStatusCommand(cmd)
	addTopCommand(cmd)
	addProvisionCommand(cmd)
	addConfigCommands(cmd)
	return cmd
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "swapd",
		Short:         "Block paging/caching runtime over a swap image",
		Long:          "swapd — runs a pool of pseudo-cores against a swap image through a shared page cache.",
		Version:       fmt.Sprintf("swapd v%s", Version),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verboseFlag && quietFlag {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			if jsonFlag {
				quietFlag = true
			}
			output.SetFlags(jsonFlag, quietFlag, verboseFlag)

			log.SetOutput(cmd.ErrOrStderr())
			switch {
			case verboseFlag:
				log.SetLevel(log.DebugLevel)
			case quietFlag:
				log.SetLevel(log.ErrorLevel)
			default:
				log.SetLevel(log.InfoLevel)
			}
			return nil
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.SetVersionTemplate("{{.Version}}\n")

	pflags := rootCmd.PersistentFlags()
	pflags.BoolVarP(&jsonFlag, "json", "j", false, "Output as JSON")
	pflags.BoolVarP(&verboseFlag, "verbose", "v", false, "Extra detail to stderr")
	pflags.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	pflags.StringVar(&ConfigDir, "config-dir", "", "Override config directory (default: ~/.swapd)")

	if v := os.Getenv("SWAPD_HOME"); v != "" && ConfigDir == "" {
		ConfigDir = v
	}

	return rootCmd
}

func Execute() error {
	cmd := NewRootCmd()
	return cmd.Execute()
}
