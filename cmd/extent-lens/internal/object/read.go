package object

import (
	"os"

	common "github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/round"
	"github.com/spf13/cobra"
)

func readCommand() *cobra.Command {
	var (
		id     uint64
		offset uint64
		length uint64
		out    string
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read object data",
		Long:  `Read object data to a file (stdout by default). Holes read as zeros.`,
		Args:  cobra.NoArgs,
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

			size := h.GetSize()
			if offset >= size {
				return nil
			}
			end := size
			if length != 0 && offset+length < size {
				end = offset + length
			}

			aligned := round.Down(offset, h.BlockSize())
			buf := h.AllocateBuffer(int(end - aligned))
			n, err := h.Read(cmd.Context(), aligned, buf)
			if err != nil {
				return common.Errf("can't read object: %w", err)
			}
			data := buf[offset-aligned : n]

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			_, err = w.Write(data)
			return err
		},
	}
	common.AddObjectIDFlag(cmd, &id)
	flags := cmd.Flags()
	flags.Uint64Var(&offset, "offset", 0, "Read offset")
	flags.Uint64Var(&length, "length", 0, "Number of bytes to read, up to the end if zero")
	flags.StringVar(&out, "out", "", "Output file, stdout if empty or '-'")

	return cmd
}
