package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/parcel"
	"github.com/meigma/parcel/download"
	"github.com/meigma/parcel/recipe"
)

func (c *CLI) newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build RECIPE_PATH [ARCHIVE_PATH]",
		Short: "Build a package archive from a recipe directory",
		Long: `Build reads package.json in RECIPE_PATH and writes the matching files
into an archive. ARCHIVE_PATH defaults to <name>-<version>.parcel in the
recipe directory.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var archivePath string
			if len(args) == 2 {
				archivePath = args[1]
			}
			opts := []recipe.Option{recipe.WithLogger(c.logger)}
			if download.IsTerminal(cmd.ErrOrStderr()) {
				opts = append(opts, recipe.WithProgress(download.ConsoleProgress(cmd.ErrOrStderr())))
			}

			a, err := parcel.Build(args[0], archivePath, opts...)
			if err != nil {
				return err
			}
			defer a.Close()
			_, err = fmt.Fprintln(cmd.OutOrStdout(), a.Path())
			return err
		},
	}
}
