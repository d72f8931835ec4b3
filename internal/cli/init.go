package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"prefork.dev/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.InitPath
			if globalConfig != "" {
				path = globalConfig
			}
			if err := config.WriteStarter(path, force); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s %s\n", color(colorGreen+colorBold, "Created"), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}
