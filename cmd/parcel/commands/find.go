package commands

import (
	"github.com/spf13/cobra"

	"github.com/meigma/parcel"
	"github.com/meigma/parcel/archive"
)

func queryArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// listing renders entries as identifiers or, with meta, as their metadata.
func listing(entries []parcel.Entry, meta bool) any {
	if meta {
		out := make([]archive.Meta, len(entries))
		for i, e := range entries {
			out[i] = e.Meta()
		}
		return out
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Descriptor().Ident()
	}
	return out
}

func (c *CLI) newFindCmd() *cobra.Command {
	var meta, cache bool

	cmd := &cobra.Command{
		Use:   "find [QUERY]",
		Short: "List installed packages matching a query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, func(client *parcel.Client) error {
				found, err := client.Find(queryArg(args), parcel.FindOptions{Cache: cache})
				if err != nil {
					return err
				}
				return c.print(cmd.OutOrStdout(), listing(found, meta))
			})
		},
	}

	cmd.Flags().BoolVar(&meta, "meta", false, "print package metadata instead of identifiers")
	cmd.Flags().BoolVar(&cache, "cache", false, "list cached repository packages instead of installed ones")
	return cmd
}

func (c *CLI) newSearchCmd() *cobra.Command {
	var meta bool

	cmd := &cobra.Command{
		Use:   "search [QUERY]",
		Short: "Refresh the index and list repository packages matching a query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, func(client *parcel.Client) error {
				found, err := client.Search(cmd.Context(), queryArg(args))
				if err != nil {
					return err
				}
				entries := make([]parcel.Entry, len(found))
				for i, p := range found {
					entries[i] = p
				}
				return c.print(cmd.OutOrStdout(), listing(entries, meta))
			})
		},
	}

	cmd.Flags().BoolVar(&meta, "meta", false, "print package metadata instead of identifiers")
	return cmd
}

func (c *CLI) newFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files PACKAGE",
		Short: "List the files of an archive or an installed package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, func(client *parcel.Client) error {
				files, err := client.Files(args[0])
				if err != nil {
					if installed, ferr := client.Find("", parcel.FindOptions{}); ferr == nil {
						suggest(cmd.ErrOrStderr(), err, args[0], installed)
					}
					return err
				}
				return c.print(cmd.OutOrStdout(), files)
			})
		},
	}
}
