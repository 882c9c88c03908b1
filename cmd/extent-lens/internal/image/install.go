package image

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/cheggaaa/pb"
	"github.com/klauspost/compress/zstd"
	common "github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/crypt"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/objectstore"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"github.com/spf13/cobra"
)

// Command returns the `image` command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Operations with object images",
	}
	cmd.AddCommand(installCommand())
	return cmd
}

func installCommand() *cobra.Command {
	var (
		in        string
		encrypted bool
		progress  bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a compressed image",
		Long: `Decompress a zstd image into a new object. Runs of zero blocks are
skipped and left as holes when they are large enough.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(in)
			if err != nil {
				return err
			}
			defer f.Close()

			dec, err := zstd.NewReader(f)
			if err != nil {
				return common.Errf("can't open zstd stream: %w", err)
			}
			defer dec.Close()

			env, err := common.Open(cmd, false)
			if err != nil {
				return err
			}
			defer env.Close()

			h, err := createObject(cmd, env, encrypted)
			if err != nil {
				return err
			}

			var (
				r   io.Reader = dec
				bar *pb.ProgressBar
			)
			if progress {
				bar = pb.New64(0).SetUnits(pb.U_BYTES)
				bar.Output = cmd.ErrOrStderr()
				r = bar.NewProxyReader(dec)
				bar.Start()
			}

			st, err := install(cmd, h, r)
			if bar != nil {
				bar.Finish()
			}
			if err != nil {
				return common.Errf("can't install image: %w", err)
			}

			cmd.Printf("Installed %d bytes into object %d, %d zero blocks skipped\n",
				st.size, h.ObjectID(), st.skipped)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&in, "in", "", "Path to zstd-compressed image")
	_ = cmd.MarkFlagFilename("in")
	_ = cmd.MarkFlagRequired("in")
	flags.BoolVar(&encrypted, "encrypted", false, "Encrypt object data")
	flags.BoolVar(&progress, "progress", false, "Show decompressed bytes progress on stderr")

	return cmd
}

func createObject(cmd *cobra.Command, env *common.Env, encrypted bool) (*objectstore.StoreObjectHandle, error) {
	ctx := cmd.Context()
	txn, err := env.FS.NewTransaction(ctx, nil, transaction.Options{})
	if err != nil {
		return nil, err
	}
	defer txn.Drop()

	var c crypt.Crypt
	if encrypted {
		c = crypt.NewInsecureCrypt()
	}
	h, err := env.FS.RootStore().CreateObject(ctx, txn, objectstore.HandleOptions{}, c)
	if err != nil {
		return nil, common.Errf("can't create object: %w", err)
	}
	return h, txn.Commit(ctx)
}

type installStats struct {
	size    uint64
	skipped int
}

func install(cmd *cobra.Command, h *objectstore.StoreObjectHandle, r io.Reader) (installStats, error) {
	var st installStats

	ctx := cmd.Context()
	w := objectstore.NewDirectWriter(h, transaction.Options{})
	defer w.Close()

	block := make([]byte, h.BlockSize())
	zero := make([]byte, h.BlockSize())
	var zeroRun uint64

	for {
		n, err := io.ReadFull(r, block)
		if n > 0 {
			if bytes.Equal(block[:n], zero[:n]) {
				zeroRun += uint64(n)
				st.skipped++
			} else {
				if zeroRun > 0 {
					if err := w.Skip(ctx, zeroRun); err != nil {
						return st, err
					}
					zeroRun = 0
				}
				if err := w.WriteBytes(ctx, block[:n]); err != nil {
					return st, err
				}
			}
			st.size += uint64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return st, err
		}
	}

	if zeroRun > 0 {
		if err := w.Skip(ctx, zeroRun); err != nil {
			return st, err
		}
	}
	if err := w.Complete(ctx); err != nil {
		return st, err
	}
	return st, w.Close()
}
