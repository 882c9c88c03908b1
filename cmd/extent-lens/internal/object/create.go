package object

import (
	common "github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/crypt"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/objectstore"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"github.com/spf13/cobra"
)

func createCommand() *cobra.Command {
	var encrypted bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty object",
		Long:  `Create an empty file object in the root store and print its ID.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := common.Open(cmd, false)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := cmd.Context()
			txn, err := env.FS.NewTransaction(ctx, nil, transaction.Options{})
			if err != nil {
				return err
			}
			defer txn.Drop()

			var c crypt.Crypt
			if encrypted {
				c = crypt.NewInsecureCrypt()
			}
			h, err := env.FS.RootStore().CreateObject(ctx, txn, objectstore.HandleOptions{}, c)
			if err != nil {
				return common.Errf("can't create object: %w", err)
			}
			if err := txn.Commit(ctx); err != nil {
				return common.Errf("can't commit object: %w", err)
			}

			cmd.Println(h.ObjectID())
			return nil
		},
	}
	cmd.Flags().BoolVar(&encrypted, "encrypted", false, "Encrypt object data")

	return cmd
}
