package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/de-tools/hubcost/pkg/runtime/terminal/export"
	"github.com/de-tools/hubcost/pkg/services/attribution"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type Engine interface {
	CostsPerUser(ctx context.Context, req attribution.Request) ([]domain.UserCost, error)
	CostsPerGroup(ctx context.Context, req attribution.Request) ([]domain.GroupCost, error)
	CostsPerComponent(ctx context.Context, req attribution.Request) ([]domain.ComponentCost, error)
	TotalCosts(ctx context.Context, r domain.DateRange) ([]domain.CostEntry, error)
}

// Session is an engine built from the configuration selected on the command
// line.
type Session struct {
	Engine       Engine
	MaxRangeDays int
	Close        func() error
}

type SessionFactory func(ctx context.Context) (*Session, error)

// Filters are bound to the persistent flags of the root command.
type Filters struct {
	From      string
	To        string
	Hub       string
	Component string
	User      string
	Usergroup string
	Limit     int
}

func (f *Filters) Bind(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&f.From, "from", "", "First day of the report, YYYY-MM-DD (default 30 days before --to)")
	flags.StringVar(&f.To, "to", "", "Last day of the report, YYYY-MM-DD (default today)")
	flags.StringVar(&f.Hub, "hub", "", "Only report this hub")
	flags.StringVar(&f.Component, "component", "", "Only report this component")
	flags.StringVar(&f.User, "user", "", "Only report this user")
	flags.StringVar(&f.Usergroup, "usergroup", "", "Only report users of this group")
	flags.IntVar(&f.Limit, "limit", 0, "Keep the N most expensive users per day, hub and component")
}

func (f *Filters) Request(now time.Time, maxDays int) (attribution.Request, error) {
	r, err := domain.ParseDateRange(f.From, f.To, now, maxDays)
	if err != nil {
		return attribution.Request{}, err
	}
	req := attribution.Request{
		Range:     r,
		Hub:       f.Hub,
		User:      f.User,
		Usergroup: f.Usergroup,
		Limit:     f.Limit,
	}
	if f.Component != "" {
		req.Component, err = domain.ParseComponent(f.Component)
		if err != nil {
			return attribution.Request{}, err
		}
	}
	if f.Limit < 0 {
		return attribution.Request{}, fmt.Errorf("%w: --limit must not be negative", domain.ErrInvalidFilter)
	}
	return req, nil
}

type reportCmd struct {
	filters  *Filters
	sessions SessionFactory
	reporter *export.Reporter
	now      func() time.Time
}

type reportFunc func(ctx context.Context, engine Engine, req attribution.Request) (export.Table, error)

func (rc *reportCmd) command(use, short string, report reportFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			session, err := rc.sessions(ctx)
			if err != nil {
				return err
			}
			if session.Close != nil {
				defer session.Close()
			}

			req, err := rc.filters.Request(rc.now(), session.MaxRangeDays)
			if err != nil {
				return err
			}

			table, err := report(ctx, session.Engine, req)
			if err != nil {
				return fmt.Errorf("failed to build %s report: %w", use, err)
			}
			table.Period = req.Range.String()
			return rc.reporter.Handle(table)
		},
	}
}

func NewUsersCmd(filters *Filters, sessions SessionFactory, reporter *export.Reporter) *cobra.Command {
	rc := &reportCmd{filters: filters, sessions: sessions, reporter: reporter, now: time.Now}
	return rc.command("users", "Attributed cost per user", usersReport)
}

func NewGroupsCmd(filters *Filters, sessions SessionFactory, reporter *export.Reporter) *cobra.Command {
	rc := &reportCmd{filters: filters, sessions: sessions, reporter: reporter, now: time.Now}
	return rc.command("groups", "Attributed cost per usergroup", groupsReport)
}

func NewComponentsCmd(filters *Filters, sessions SessionFactory, reporter *export.Reporter) *cobra.Command {
	rc := &reportCmd{filters: filters, sessions: sessions, reporter: reporter, now: time.Now}
	return rc.command("components", "Billed cost per component", componentsReport)
}

func NewTotalsCmd(filters *Filters, sessions SessionFactory, reporter *export.Reporter) *cobra.Command {
	rc := &reportCmd{filters: filters, sessions: sessions, reporter: reporter, now: time.Now}
	return rc.command("totals", "Account and attributable totals", totalsReport)
}

func usersReport(ctx context.Context, engine Engine, req attribution.Request) (export.Table, error) {
	costs, err := engine.CostsPerUser(ctx, req)
	if err != nil {
		return export.Table{}, err
	}
	table := export.Table{
		Title:   "Costs per user",
		Columns: []string{"date", "hub", "component", "user", "usergroups", "cost"},
	}
	total := decimal.Zero
	for _, c := range costs {
		groups := fmt.Sprint(c.Usergroups)
		if len(c.Usergroups) == 0 {
			groups = domain.UngroupedLabel
		}
		table.Rows = append(table.Rows, []string{
			date(c.Date), c.Hub, c.Component.String(), c.User, groups, money(c.Cost),
		})
		total = total.Add(c.Cost)
	}
	table.Footer = "total: " + money(total)
	return table, nil
}

func groupsReport(ctx context.Context, engine Engine, req attribution.Request) (export.Table, error) {
	costs, err := engine.CostsPerGroup(ctx, req)
	if err != nil {
		return export.Table{}, err
	}
	table := export.Table{
		Title:   "Costs per usergroup",
		Columns: []string{"date", "usergroup", "cost"},
		Footer:  "users in several groups are counted once per group",
	}
	for _, c := range costs {
		table.Rows = append(table.Rows, []string{date(c.Date), c.Usergroup, money(c.Cost)})
	}
	return table, nil
}

func componentsReport(ctx context.Context, engine Engine, req attribution.Request) (export.Table, error) {
	costs, err := engine.CostsPerComponent(ctx, req)
	if err != nil {
		return export.Table{}, err
	}
	table := export.Table{
		Title:   "Costs per component",
		Columns: []string{"date", "hub", "component", "cost"},
	}
	total := decimal.Zero
	for _, c := range costs {
		table.Rows = append(table.Rows, []string{date(c.Date), c.Hub, c.Component.String(), money(c.Cost)})
		total = total.Add(c.Cost)
	}
	table.Footer = "total: " + money(total)
	return table, nil
}

func totalsReport(ctx context.Context, engine Engine, req attribution.Request) (export.Table, error) {
	entries, err := engine.TotalCosts(ctx, req.Range)
	if err != nil {
		return export.Table{}, err
	}
	table := export.Table{
		Title:   "Total costs",
		Columns: []string{"date", "name", "cost"},
	}
	for _, e := range entries {
		table.Rows = append(table.Rows, []string{date(e.Date), e.Name, money(e.Cost)})
	}
	return table, nil
}

func date(t time.Time) string {
	return t.Format(domain.DateLayout)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
