package object

import (
	"io"
	"os"

	common "github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal"
	"github.com/spf13/cobra"
)

func writeCommand() *cobra.Command {
	var (
		id     uint64
		offset uint64
		appnd  bool
		in     string
	)

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write data to an object",
		Long: `Write the contents of a file (stdin by default) at the given offset
or at the end of the object and print the new object size.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := cmd.InOrStdin()
			if in != "" && in != "-" {
				f, err := os.Open(in)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			data, err := io.ReadAll(r)
			if err != nil {
				return common.Errf("can't read input: %w", err)
			}

			env, err := common.Open(cmd, false)
			if err != nil {
				return err
			}
			defer env.Close()

			h, err := env.OpenObject(cmd, id)
			if err != nil {
				return err
			}

			var off *uint64
			if !appnd {
				off = &offset
			}
			size, err := h.WriteOrAppend(cmd.Context(), off, data)
			if err != nil {
				return common.Errf("can't write object: %w", err)
			}

			cmd.Println(size)
			return nil
		},
	}
	common.AddObjectIDFlag(cmd, &id)
	flags := cmd.Flags()
	flags.Uint64Var(&offset, "offset", 0, "Write offset")
	flags.BoolVar(&appnd, "append", false, "Append to the end of the object")
	flags.StringVar(&in, "in", "", "Input file, stdin if empty or '-'")
	cmd.MarkFlagsMutuallyExclusive("offset", "append")

	return cmd
}
