package cmd

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"

	"github.com/swaplab/swapd/internal/config"
	"github.com/swaplab/swapd/internal/pagecache"
)

var (
	provisionSizeFlag  string
	provisionFillFlag  bool
	provisionForceFlag bool
)

func addProvisionCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the swap image",
		Long: `Create the swap image sized for the configured cores and segments.

By default the image's blocks are reserved with fallocate on Linux; where that
is unavailable the file is extended by truncation and stays sparse. --fill
writes zeros through the whole region instead, and --size overrides the
computed cores*segment size.`,
		Args: cobra.NoArgs,
		RunE: runProvision,
	}

	flags := cmd.Flags()
	flags.StringVar(&provisionSizeFlag, "size", "", "Image size (e.g. 256MB; default: cores * segment_size)")
	flags.BoolVar(&provisionFillFlag, "fill", false, "Zero-fill instead of reserving or truncating to size")
	flags.BoolVar(&provisionForceFlag, "force", false, "Overwrite an existing image")

	parent.AddCommand(cmd)
}

func runProvision(cmd *cobra.Command, args []string) error {
	config.SetConfigDir(ConfigDir)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	size := cfg.ImageBytes()
	if provisionSizeFlag != "" {
		var sz datasize.ByteSize
		if err := sz.UnmarshalText([]byte(provisionSizeFlag)); err != nil {
			return fmt.Errorf("parsing --size: %w", err)
		}
		size = uint64(sz)
	}
	if size == 0 || size%pagecache.PageSize != 0 {
		return fmt.Errorf("image size %d is not a non-zero page multiple", size)
	}

	if _, err := os.Stat(cfg.ImagePath); err == nil && !provisionForceFlag {
		return fmt.Errorf("image %s already exists (use --force to overwrite)", cfg.ImagePath)
	}

	f, err := os.OpenFile(cfg.ImagePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating image: %w", err)
	}
	defer f.Close()

	if provisionFillFlag {
		buf := make([]byte, 1<<20)
		for written := uint64(0); written < size; {
			n := uint64(len(buf))
			if size-written < n {
				n = size - written
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return fmt.Errorf("zero-filling image: %w", err)
			}
			written += n
		}
	} else if err := allocate(f, int64(size)); err != nil {
		return fmt.Errorf("allocating image: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "provisioned %s (%s)\n",
		cfg.ImagePath, datasize.ByteSize(size).HumanReadable())
	return nil
}
