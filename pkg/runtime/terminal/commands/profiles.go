package commands

import (
	"fmt"

	"github.com/de-tools/hubcost/pkg/runtime/terminal/export"
	"github.com/de-tools/hubcost/pkg/services/config"
	"github.com/spf13/cobra"
)

type ProfilesCmd struct {
	path     string
	registry func(path string) (config.Registry, error)
	reporter *export.Reporter
}

func NewProfilesCmd(registry func(path string) (config.Registry, error), reporter *export.Reporter) *cobra.Command {
	pc := &ProfilesCmd{registry: registry, reporter: reporter}
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List the AWS profiles the billing client can use",
		Args:  cobra.NoArgs,
		RunE:  pc.run,
	}

	cmd.Flags().StringVar(&pc.path, "aws-config", config.DefaultAWSConfigPath(), "Path to the shared AWS config file")

	return cmd
}

func (pc *ProfilesCmd) run(cmd *cobra.Command, _ []string) error {
	registry, err := pc.registry(pc.path)
	if err != nil {
		return err
	}

	profiles, err := registry.GetProfiles(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}

	table := export.Table{
		Title:   "AWS profiles",
		Period:  pc.path,
		Columns: []string{"name", "region"},
	}
	for _, p := range profiles {
		table.Rows = append(table.Rows, []string{p.Name, p.Region})
	}
	return pc.reporter.Handle(table)
}
