package filesystem

import (
	"github.com/mr-tron/base58"
	common "github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal"
	"github.com/spf13/cobra"
)

// InfoCommand returns the `info` command.
func InfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Filesystem parameters",
		Long:  `Print parameters of a formatted filesystem and its space usage.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := common.Open(cmd, true)
			if err != nil {
				return err
			}
			defer env.Close()

			info := env.FS.Info()
			alloc := env.FS.Allocator()

			cmd.Printf("ID: %s (%s)\n", info.ID, base58.Encode(info.ID[:]))
			cmd.Printf("Version: %d\n", info.Version)
			cmd.Printf("Block size: %d\n", info.BlockSize)
			cmd.Printf("Device size: %d\n", info.DeviceSize)
			cmd.Printf("Last object ID: %d\n", info.LastObjectID)
			cmd.Printf("Allocated: %d\n", alloc.AllocatedBytes())
			cmd.Printf("Free: %d\n", alloc.FreeBytes())
			cmd.Printf("Mode: %s\n", env.FS.Mode())
			return nil
		},
	}
}
