package main

import (
	"os"

	common "github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal"
	"github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal/extents"
	"github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal/filesystem"
	"github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal/image"
	"github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal/object"
	"github.com/nspcc-dev/neofs-extentstore/misc"
	"github.com/spf13/cobra"
)

func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extent-lens",
		Short: "Extent store lens",
		Long: `Extent store lens formats devices and inspects or modifies objects and
the extent index of an extent store.`,
		RunE:          entryPoint,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// use stdout as default output for cmd.Print()
	cmd.SetOut(os.Stdout)
	cmd.Flags().Bool("version", false, "Application version")
	common.AddGlobalFlags(cmd.PersistentFlags())
	cmd.AddCommand(
		filesystem.FormatCommand(),
		filesystem.InfoCommand(),
		object.Command(),
		extents.Command(),
		image.Command(),
	)
	return cmd
}

func entryPoint(cmd *cobra.Command, _ []string) error {
	printVersion, _ := cmd.Flags().GetBool("version")
	if printVersion {
		cmd.Print(misc.BuildInfo("Extent Lens"))

		return nil
	}

	return cmd.Usage()
}

func main() {
	err := newCommand().Execute()
	common.ExitOnErr(err)
}
