package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/parcel"
)

func (c *CLI) newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install PACKAGE",
		Short: "Install a package from an archive file or the repository",
		Long: `Install accepts the path of an archive file or a package query such as
"en_core >=1.0, <2". Queries refresh the index and install the newest
compatible version unless an installed package already satisfies them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, func(client *parcel.Client) error {
				pkg, err := client.Install(cmd.Context(), args[0])
				if err != nil {
					if cached, ferr := client.Find("", parcel.FindOptions{Cache: true}); ferr == nil {
						suggest(cmd.ErrOrStderr(), err, args[0], cached)
					}
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), pkg.Path())
				return err
			})
		},
	}
}

func (c *CLI) newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove QUERY",
		Short: "Remove every installed package matching a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, func(client *parcel.Client) error {
				removed, err := client.Remove(args[0])
				if err != nil {
					return err
				}
				out := make([]string, len(removed))
				for i, pkg := range removed {
					out[i] = pkg.Ident()
				}
				return c.print(cmd.OutOrStdout(), out)
			})
		},
	}
}
