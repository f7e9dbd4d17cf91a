package terminal

import (
	"context"
	"io"
	"os"

	"github.com/de-tools/hubcost/pkg/runtime/terminal/commands"
	"github.com/de-tools/hubcost/pkg/runtime/terminal/export"
	"github.com/de-tools/hubcost/pkg/services/config"
	"github.com/spf13/cobra"
)

// CLI represents the command-line interface
type CLI struct {
	opts     Options
	filters  commands.Filters
	cfgPath  string
	reporter *export.Reporter
	rootCmd  *cobra.Command
}

// Options contain configuration for the CLI
type Options struct {
	// Sessions builds the report engine from the config file given by --config.
	Sessions func(ctx context.Context, cfgPath string) (*commands.Session, error)
	Registry func(path string) (config.Registry, error)
	Output   io.Writer
}

// NewCLI creates a new CLI instance
func NewCLI(opts Options) *CLI {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Registry == nil {
		opts.Registry = config.NewRegistry
	}

	cli := &CLI{
		opts:     opts,
		reporter: export.NewReporter(opts.Output),
	}

	cli.rootCmd = cli.newRootCmd()
	return cli
}

func (cli *CLI) Execute() error {
	return cli.rootCmd.Execute()
}

func (cli *CLI) ExecuteContext(ctx context.Context) error {
	return cli.rootCmd.ExecuteContext(ctx)
}

func (cli *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "hubcost",
		Short:         "Per user cost attribution for shared JupyterHub clusters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(cli.opts.Output)

	cmd.PersistentFlags().StringVarP(&cli.cfgPath, "config", "c", "", "Path to the hubcost config file")
	cli.filters.Bind(cmd)

	sessions := func(ctx context.Context) (*commands.Session, error) {
		return cli.opts.Sessions(ctx, cli.cfgPath)
	}

	cmd.AddCommand(commands.NewUsersCmd(&cli.filters, sessions, cli.reporter))
	cmd.AddCommand(commands.NewGroupsCmd(&cli.filters, sessions, cli.reporter))
	cmd.AddCommand(commands.NewComponentsCmd(&cli.filters, sessions, cli.reporter))
	cmd.AddCommand(commands.NewTotalsCmd(&cli.filters, sessions, cli.reporter))
	cmd.AddCommand(commands.NewProfilesCmd(cli.opts.Registry, cli.reporter))

	return cmd
}

// SetArgs overrides os.Args, used by tests.
func (cli *CLI) SetArgs(args []string) {
	cli.rootCmd.SetArgs(args)
}
