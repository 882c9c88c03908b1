package object

import (
	"github.com/spf13/cobra"
)

// Command returns the `object` command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "object",
		Short: "Operations with objects",
	}
	cmd.AddCommand(
		createCommand(),
		writeCommand(),
		readCommand(),
		truncateCommand(),
		propsCommand(),
		allocatedCommand(),
		touchCommand(),
		deleteCommand(),
	)
	return cmd
}
