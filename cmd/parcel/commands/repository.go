package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/meigma/parcel"
)

func (c *CLI) newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Refresh the cached package index from the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(client *parcel.Client) error {
				return client.Update(cmd.Context())
			})
		},
	}
}

func (c *CLI) newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload ARCHIVE_PATH",
		Short: "Publish an archive to the repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, func(client *parcel.Client) error {
				ok, err := client.Upload(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("upload %s: repository did not accept the reindex request", args[0])
				}
				c.logger.Info("uploaded", slog.String("path", args[0]))
				return nil
			})
		},
	}
}

func (c *CLI) newPurgeCmd() *cobra.Command {
	var opts parcel.PurgeOptions

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove all cached and/or installed packages",
		Long:  "Purge empties the cache and the pool. Select one with --cache or --pool.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(client *parcel.Client) error {
				return client.Purge(opts)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Cache, "cache", false, "purge cached repository packages")
	cmd.Flags().BoolVar(&opts.Pool, "pool", false, "purge installed packages")
	return cmd
}
