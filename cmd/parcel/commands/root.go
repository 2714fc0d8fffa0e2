// Package commands implements the parcel command line.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/meigma/parcel"
	"github.com/meigma/parcel/download"
	"github.com/meigma/parcel/internal/config"
)

// CLI is the parcel command line.
type CLI struct {
	rootCmd    *cobra.Command
	configFile string
	settings   *config.Settings
	logger     *slog.Logger
}

// New creates the command tree.
func New() *CLI {
	rootCmd := &cobra.Command{
		Use:           "parcel",
		Short:         "Install and publish versioned data packages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	c := &CLI{rootCmd: rootCmd}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (default $XDG_CONFIG_HOME/parcel/config.yaml)")
	flags.String("name", "", "application name sent to the repository")
	flags.String("version", "", "application version sent to the repository")
	flags.String("data-path", "", "directory holding installed and cached packages")
	flags.String("repository-url", "", "package repository URL")
	flags.String("object-endpoint", "", "object store URL template used by upload")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.StringP("output", "o", "", "output format (json or yaml)")

	rootCmd.PersistentPreRunE = c.loadSettings

	rootCmd.AddCommand(c.newBuildCmd())
	rootCmd.AddCommand(c.newInstallCmd())
	rootCmd.AddCommand(c.newRemoveCmd())
	rootCmd.AddCommand(c.newFindCmd())
	rootCmd.AddCommand(c.newSearchCmd())
	rootCmd.AddCommand(c.newFilesCmd())
	rootCmd.AddCommand(c.newUpdateCmd())
	rootCmd.AddCommand(c.newUploadCmd())
	rootCmd.AddCommand(c.newPurgeCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command. Used for testing.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

func (c *CLI) loadSettings(cmd *cobra.Command, _ []string) error {
	s, err := config.Load(config.LoadOptions{
		ConfigFile: c.configFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return err
	}
	c.settings = s

	handler := log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
		Level:  s.Level(),
		Prefix: "parcel",
	})
	c.logger = slog.New(handler)
	c.logger.Debug("settings loaded",
		slog.String("data_path", s.DataPath),
		slog.String("repository_url", s.RepositoryURL),
		slog.String("config", s.ConfigFile),
	)
	return nil
}

func (c *CLI) parcelConfig(stderr io.Writer) parcel.Config {
	cfg := parcel.Config{
		AppName:        c.settings.AppName,
		AppVersion:     c.settings.AppVersion,
		DataPath:       c.settings.DataPath,
		RepositoryURL:  c.settings.RepositoryURL,
		ObjectEndpoint: c.settings.ObjectEndpoint,
		Logger:         c.logger,
	}
	if download.IsTerminal(stderr) {
		cfg.Progress = download.ConsoleProgress(stderr)
	}
	return cfg
}

// withClient opens the configured data path, creating it when missing,
// and runs fn with a client that is closed afterwards.
func (c *CLI) withClient(cmd *cobra.Command, fn func(*parcel.Client) error) (err error) {
	if err := os.MkdirAll(c.settings.DataPath, 0o755); err != nil {
		return fmt.Errorf("create data path: %w", err)
	}
	client, err := parcel.New(c.parcelConfig(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, client.Close())
	}()
	return fn(client)
}
