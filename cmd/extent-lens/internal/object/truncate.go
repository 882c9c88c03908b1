package object

import (
	common "github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal"
	"github.com/spf13/cobra"
)

func truncateCommand() *cobra.Command {
	var id, size uint64

	cmd := &cobra.Command{
		Use:   "truncate",
		Short: "Change object size",
		Long:  `Shrink or grow the object. Storage past the new size is released.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := common.Open(cmd, false)
			if err != nil {
				return err
			}
			defer env.Close()

			h, err := env.OpenObject(cmd, id)
			if err != nil {
				return err
			}
			return common.Errf("can't truncate object: %w", h.Truncate(cmd.Context(), size))
		},
	}
	common.AddObjectIDFlag(cmd, &id)
	cmd.Flags().Uint64Var(&size, "size", 0, "New object size")
	_ = cmd.MarkFlagRequired("size")

	return cmd
}
