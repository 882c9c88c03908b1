package object

import (
	common "github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal"
	"github.com/spf13/cobra"
)

func allocatedCommand() *cobra.Command {
	var id, offset uint64

	cmd := &cobra.Command{
		Use:   "allocated",
		Short: "Check allocation at offset",
		Long: `Report whether the object has storage at the offset and the length of
the run of bytes sharing that state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := common.Open(cmd, true)
			if err != nil {
				return err
			}
			defer env.Close()

			h, err := env.OpenObject(cmd, id)
			if err != nil {
				return err
			}
			allocated, n, err := h.IsAllocated(cmd.Context(), offset)
			if err != nil {
				return common.Errf("can't check allocation: %w", err)
			}

			cmd.Printf("allocated=%t length=%d\n", allocated, n)
			return nil
		},
	}
	common.AddObjectIDFlag(cmd, &id)
	cmd.Flags().Uint64Var(&offset, "offset", 0, "Offset to check")

	return cmd
}
