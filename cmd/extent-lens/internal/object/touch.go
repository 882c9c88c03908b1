package object

import (
	"time"

	common "github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
	"github.com/spf13/cobra"
)

func parseTime(s string) (*record.Timestamp, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	ts := record.FromTime(t)
	return &ts, nil
}

func touchCommand() *cobra.Command {
	var (
		id            uint64
		crtime, mtime string
	)

	cmd := &cobra.Command{
		Use:   "touch",
		Short: "Update object timestamps",
		Long: `Set creation and modification times of the object in RFC3339 format.
Without flags the modification time is set to now.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := parseTime(crtime)
			if err != nil {
				return common.Errf("invalid creation time: %w", err)
			}
			m, err := parseTime(mtime)
			if err != nil {
				return common.Errf("invalid modification time: %w", err)
			}
			if c == nil && m == nil {
				now := record.Now()
				m = &now
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
			return common.Errf("can't write timestamps: %w", h.WriteTimestamps(cmd.Context(), c, m))
		},
	}
	common.AddObjectIDFlag(cmd, &id)
	flags := cmd.Flags()
	flags.StringVar(&crtime, "crtime", "", "Creation time")
	flags.StringVar(&mtime, "mtime", "", "Modification time")

	return cmd
}
