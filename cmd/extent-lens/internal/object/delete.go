package object

import (
	common "github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"github.com/spf13/cobra"
)

func deleteCommand() *cobra.Command {
	var id uint64

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Drop an object reference",
		Long: `Decrement the object reference counter. The object is tombstoned and its
storage released when no references are left.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := common.Open(cmd, false)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := cmd.Context()
			store := env.FS.RootStore()
			txn, err := env.FS.NewTransaction(ctx, nil, transaction.Options{})
			if err != nil {
				return err
			}
			defer txn.Drop()

			last, err := store.AdjustRefs(txn, id, -1)
			if err != nil {
				return common.Errf("can't adjust references: %w", err)
			}
			if err := txn.Commit(ctx); err != nil {
				return err
			}
			if !last {
				cmd.Println("reference dropped")
				return nil
			}

			if err := store.Tombstone(ctx, id, transaction.Options{}); err != nil {
				return common.Errf("can't tombstone object: %w", err)
			}
			cmd.Println("object deleted")
			return nil
		},
	}
	common.AddObjectIDFlag(cmd, &id)

	return cmd
}
