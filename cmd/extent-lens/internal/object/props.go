package object

import (
	"time"

	"github.com/mr-tron/base58"
	common "github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type wrappedKey struct {
	ID            uint64 `yaml:"id"`
	WrappingKeyID uint64 `yaml:"wrapping_key_id"`
	Key           string `yaml:"key"`
}

type properties struct {
	ID               uint64       `yaml:"id"`
	Size             uint64       `yaml:"size"`
	AllocatedSize    uint64       `yaml:"allocated_size"`
	Refs             uint64       `yaml:"refs"`
	CreationTime     string       `yaml:"creation_time"`
	ModificationTime string       `yaml:"modification_time"`
	Keys             []wrappedKey `yaml:"keys,omitempty"`
}

func formatTime(t record.Timestamp) string {
	return t.Time().UTC().Format(time.RFC3339Nano)
}

func propsCommand() *cobra.Command {
	var id uint64

	cmd := &cobra.Command{
		Use:   "props",
		Short: "Object properties",
		Long:  `Print object properties and wrapped keys as YAML.`,
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
			p, err := h.GetProperties(cmd.Context())
			if err != nil {
				return common.Errf("can't get properties: %w", err)
			}

			res := properties{
				ID:               id,
				Size:             p.DataAttributeSize,
				AllocatedSize:    p.AllocatedSize,
				Refs:             p.Refs,
				CreationTime:     formatTime(p.CreationTime),
				ModificationTime: formatTime(p.ModificationTime),
			}

			v, ok, err := env.FS.RootStore().ObjectTree().Find(record.KeysKey(id))
			if err != nil {
				return err
			}
			if ok && v.Kind == record.ValueKeys {
				for _, k := range v.Keys {
					res.Keys = append(res.Keys, wrappedKey{
						ID:            k.ID,
						WrappingKeyID: k.Key.WrappingKeyID,
						Key:           base58.Encode(k.Key.Key),
					})
				}
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(res); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	common.AddObjectIDFlag(cmd, &id)

	return cmd
}
