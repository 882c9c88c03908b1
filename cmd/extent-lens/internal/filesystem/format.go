package filesystem

import (
	"github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/config"
	common "github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal"
	"github.com/spf13/cobra"
)

// FormatCommand returns the `format` command.
func FormatCommand() *cobra.Command {
	var size string

	cmd := &cobra.Command{
		Use:   "format",
		Short: "Format a device",
		Long: `Create the device file and an empty filesystem on it. The metadata
database must not hold a filesystem yet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sz, err := config.ParseSize(size)
			if err != nil {
				return err
			}

			env, err := common.Format(cmd, sz)
			if err != nil {
				return err
			}

			cmd.Printf("Formatted filesystem %s\n", env.FS.ID())
			return env.Close()
		},
	}
	cmd.Flags().StringVar(&size, "size", "", "Device size, e.g. 64m, overrides storage.device.size")

	return cmd
}
