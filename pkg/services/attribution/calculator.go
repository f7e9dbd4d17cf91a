// Package attribution splits billed component costs between users in
// proportion to their measured usage.
package attribution

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/de-tools/hubcost/pkg/services/membership"
	"github.com/de-tools/hubcost/pkg/services/usage"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type BillingService interface {
	ComponentCosts(ctx context.Context, r domain.DateRange, hub string) ([]domain.ComponentCost, error)
	TotalCosts(ctx context.Context, r domain.DateRange) ([]domain.CostEntry, error)
	CostsPerHub(ctx context.Context, r domain.DateRange) ([]domain.CostEntry, error)
	HubNames(ctx context.Context, r domain.DateRange) ([]string, error)
}

type UsageAggregator interface {
	Aggregate(ctx context.Context, r domain.DateRange, component domain.Component, hub, user string) ([]domain.UsageRecord, error)
}

type MembershipResolver interface {
	MembershipsAsOf(ctx context.Context, date time.Time) (map[domain.UserKey][]string, error)
	ListMultiGroupUsers(ctx context.Context, date time.Time) ([]domain.UserGroups, error)
	ListUngroupedUsers(ctx context.Context, date time.Time, known []domain.UserKey) ([]domain.UserKey, error)
}

type Settings struct {
	// ExcludedHubs never receive attributed cost, their usage is ignored.
	ExcludedHubs []string
}

// Request selects and filters a report. Zero values mean "no filter"; a zero
// Limit means unlimited.
type Request struct {
	Range     domain.DateRange
	Component domain.Component
	Hub       string
	User      string
	Usergroup string
	Limit     int
}

func (r Request) Validate() error {
	if r.Limit < 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", domain.ErrInvalidFilter, r.Limit)
	}
	if r.Component != "" && !r.Component.Valid() {
		return fmt.Errorf("%w: unknown component %q", domain.ErrInvalidFilter, r.Component)
	}
	return nil
}

type Calculator struct {
	billing     BillingService
	usage       UsageAggregator
	memberships MembershipResolver
	excluded    map[string]bool
}

func NewCalculator(billing BillingService, usage UsageAggregator, memberships MembershipResolver, settings Settings) *Calculator {
	return &Calculator{
		billing:     billing,
		usage:       usage,
		memberships: memberships,
		excluded:    lo.SliceToMap(settings.ExcludedHubs, func(h string) (string, bool) { return h, true }),
	}
}

type costKey struct {
	date      time.Time
	hub       string
	user      string
	component domain.Component
}

type sliceKey struct {
	date      time.Time
	hub       string
	component domain.Component
}

// CostsPerUser attributes every billed component cost to the users that
// used the component that day. Filters apply after attribution so that a
// user's share never depends on which users were asked for.
func (c *Calculator) CostsPerUser(ctx context.Context, req Request) ([]domain.UserCost, error) {
	logger := zerolog.Ctx(ctx)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		costs       []domain.ComponentCost
		records     []domain.UsageRecord
		memberships map[domain.UserKey][]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		costs, err = c.billing.ComponentCosts(gctx, req.Range, "")
		return err
	})
	g.Go(func() error {
		var err error
		records, err = c.usage.Aggregate(gctx, req.Range, req.Component, "", "")
		return err
	})
	g.Go(func() error {
		var err error
		memberships, err = c.memberships.MembershipsAsOf(gctx, req.Range.To)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	attributed := c.attribute(costs, c.withoutExcluded(records))

	userCosts := make([]domain.UserCost, 0, len(attributed))
	for k, cost := range attributed {
		userCosts = append(userCosts, domain.UserCost{
			Date:       k.date,
			Hub:        k.hub,
			User:       k.user,
			Component:  k.component,
			Cost:       cost,
			Usergroups: membership.GroupsOf(memberships, domain.UserKey{Hub: k.hub, User: k.user}),
		})
	}

	userCosts = lo.Filter(userCosts, func(uc domain.UserCost, _ int) bool {
		return matches(req, uc.Hub, uc.User, uc.Component) &&
			(req.Usergroup == "" || lo.Contains(uc.Usergroups, req.Usergroup))
	})
	if req.Limit > 0 {
		userCosts = limitUsers(userCosts, req.Limit)
	}
	sortUserCosts(userCosts)

	logger.Debug().
		Str("range", req.Range.String()).
		Int("billed", len(costs)).
		Int("usage", len(records)).
		Int("costs", len(userCosts)).
		Msg("attributed costs to users")
	return userCosts, nil
}

// attribute multiplies each billed amount by the usage fractions of its
// slice. Per (date, component), amounts billed to a hub are split between
// that hub's users and amounts without a hub between all users.
func (c *Calculator) attribute(costs []domain.ComponentCost, records []domain.UsageRecord) map[costKey]decimal.Decimal {
	global := map[sliceKey][]domain.UsageFraction{}
	for _, f := range usage.Fractions(records, false) {
		k := sliceKey{date: f.Date, component: f.Component}
		global[k] = append(global[k], f)
	}
	perHub := map[sliceKey][]domain.UsageFraction{}
	for _, f := range usage.Fractions(records, true) {
		k := sliceKey{date: f.Date, hub: f.Hub, component: f.Component}
		perHub[k] = append(perHub[k], f)
	}

	attributed := map[costKey]decimal.Decimal{}
	allocate := func(amount decimal.Decimal, fractions []domain.UsageFraction) {
		for _, f := range fractions {
			k := costKey{date: f.Date, hub: f.Hub, user: f.User, component: f.Component}
			attributed[k] = attributed[k].Add(amount.Mul(decimal.NewFromFloat(f.Value)))
		}
	}

	for _, cost := range costs {
		if cost.Hub == "" {
			allocate(cost.Cost, global[sliceKey{date: cost.Date, component: cost.Component}])
			continue
		}
		allocate(cost.Cost, perHub[sliceKey{date: cost.Date, hub: cost.Hub, component: cost.Component}])
	}
	return attributed
}

// TotalUsage returns each user's share of the usage of a component per day.
func (c *Calculator) TotalUsage(ctx context.Context, req Request) ([]domain.UsageFraction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		records     []domain.UsageRecord
		memberships map[domain.UserKey][]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = c.usage.Aggregate(gctx, req.Range, req.Component, "", "")
		return err
	})
	if req.Usergroup != "" {
		g.Go(func() error {
			var err error
			memberships, err = c.memberships.MembershipsAsOf(gctx, req.Range.To)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fractions := lo.Filter(usage.Fractions(c.withoutExcluded(records), false), func(f domain.UsageFraction, _ int) bool {
		if !matches(req, f.Hub, f.User, f.Component) {
			return false
		}
		if req.Usergroup == "" {
			return true
		}
		groups := membership.GroupsOf(memberships, domain.UserKey{Hub: f.Hub, User: f.User})
		return lo.Contains(groups, req.Usergroup)
	})

	sort.SliceStable(fractions, func(i, j int) bool {
		a, b := fractions[i], fractions[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Hub != b.Hub {
			return a.Hub < b.Hub
		}
		if a.Component != b.Component {
			return a.Component < b.Component
		}
		if a.Value != b.Value {
			return a.Value > b.Value
		}
		return a.User < b.User
	})
	return fractions, nil
}

// CostsPerGroup sums user costs per usergroup and day. A user in several
// groups counts fully towards each of them, users without a group count
// towards "none". Limit is ignored: group totals are never truncated.
func (c *Calculator) CostsPerGroup(ctx context.Context, req Request) ([]domain.GroupCost, error) {
	req.Limit = 0
	userCosts, err := c.CostsPerUser(ctx, req)
	if err != nil {
		return nil, err
	}

	type key struct {
		date      time.Time
		usergroup string
	}
	totals := map[key]decimal.Decimal{}
	for _, uc := range userCosts {
		for _, group := range uc.Usergroups {
			if req.Usergroup != "" && group != req.Usergroup {
				continue
			}
			k := key{date: uc.Date, usergroup: group}
			totals[k] = totals[k].Add(uc.Cost)
		}
	}

	groupCosts := make([]domain.GroupCost, 0, len(totals))
	for k, cost := range totals {
		groupCosts = append(groupCosts, domain.GroupCost{Date: k.date, Usergroup: k.usergroup, Cost: cost})
	}
	sort.Slice(groupCosts, func(i, j int) bool {
		a, b := groupCosts[i], groupCosts[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.Cost.Equal(b.Cost) {
			return a.Cost.GreaterThan(b.Cost)
		}
		return a.Usergroup < b.Usergroup
	})
	return groupCosts, nil
}

func (c *Calculator) CostsPerComponent(ctx context.Context, req Request) ([]domain.ComponentCost, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	costs, err := c.billing.ComponentCosts(ctx, req.Range, req.Hub)
	if err != nil {
		return nil, err
	}
	if req.Component == "" {
		return costs, nil
	}
	return lo.Filter(costs, func(cc domain.ComponentCost, _ int) bool {
		return cc.Component == req.Component
	}), nil
}

func (c *Calculator) TotalCosts(ctx context.Context, r domain.DateRange) ([]domain.CostEntry, error) {
	return c.billing.TotalCosts(ctx, r)
}

func (c *Calculator) CostsPerHub(ctx context.Context, r domain.DateRange) ([]domain.CostEntry, error) {
	return c.billing.CostsPerHub(ctx, r)
}

func (c *Calculator) HubNames(ctx context.Context, r domain.DateRange) ([]string, error) {
	return c.billing.HubNames(ctx, r)
}

// MultiGroupUsers lists users whose cost is counted in more than one group.
func (c *Calculator) MultiGroupUsers(ctx context.Context, r domain.DateRange) ([]domain.UserGroups, error) {
	return c.memberships.ListMultiGroupUsers(ctx, r.To)
}

// UngroupedUsers lists users with usage in r that belong to no group.
func (c *Calculator) UngroupedUsers(ctx context.Context, r domain.DateRange) ([]domain.UserKey, error) {
	records, err := c.usage.Aggregate(ctx, r, "", "", "")
	if err != nil {
		return nil, err
	}
	known := lo.Uniq(lo.Map(c.withoutExcluded(records), func(rec domain.UsageRecord, _ int) domain.UserKey {
		return domain.UserKey{Hub: rec.Hub, User: rec.User}
	}))
	return c.memberships.ListUngroupedUsers(ctx, r.To, known)
}

func (c *Calculator) withoutExcluded(records []domain.UsageRecord) []domain.UsageRecord {
	if len(c.excluded) == 0 {
		return records
	}
	return lo.Filter(records, func(r domain.UsageRecord, _ int) bool {
		return !c.excluded[r.Hub]
	})
}

func matches(req Request, hub, user string, component domain.Component) bool {
	return (req.Hub == "" || req.Hub == hub) &&
		(req.User == "" || req.User == user) &&
		(req.Component == "" || req.Component == component)
}
