package extents

import (
	"strconv"

	common "github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/lsm"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// Command returns the `extents` command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extents",
		Short: "Operations with the extent index",
	}
	cmd.AddCommand(listCommand())
	return cmd
}

func listCommand() *cobra.Command {
	var (
		id          uint64
		withDeleted bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Extent listing",
		Long: `List extents of the root store in key order. With --id only extents of
the given object are listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := common.Open(cmd, true)
			if err != nil {
				return err
			}
			defer env.Close()

			tree := env.FS.RootStore().ExtentTree()
			filter := cmd.Flags().Changed("id")

			var it *lsm.Iterator[record.ExtentKey, record.ExtentValue]
			if filter {
				it, err = tree.Seek(record.NewExtentKey(id, 0, record.Range{}))
			} else {
				it, err = tree.SeekFirst()
			}
			if err != nil {
				return err
			}
			defer it.Close()

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Object", "Attribute", "Range", "Device offset", "Key", "Checksums"})
			table.SetAutoFormatHeaders(false)
			table.SetBorder(false)

			for {
				item, ok := it.Get()
				if !ok || (filter && item.Key.ObjectID != id) {
					break
				}
				if v := item.Value; !v.Deleted || withDeleted {
					table.Append(extentRow(item.Key, v))
				}
				if err := it.Advance(); err != nil {
					return err
				}
			}

			table.Render()
			return nil
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "Object ID")
	cmd.Flags().BoolVar(&withDeleted, "deleted", false, "Include deleted extents")

	return cmd
}

func extentRow(k record.ExtentKey, v record.ExtentValue) []string {
	row := []string{
		strconv.FormatUint(k.ObjectID, 10),
		strconv.FormatUint(k.AttributeID, 10),
		k.Range.String(),
	}
	if v.Deleted {
		return append(row, "deleted", "", "")
	}
	sums := "none"
	if !v.Checksums.IsNone() {
		sums = strconv.Itoa(len(v.Checksums.Fletcher))
	}
	return append(row,
		strconv.FormatUint(v.DeviceOffset, 10),
		strconv.FormatUint(v.KeyID, 10),
		sums,
	)
}
