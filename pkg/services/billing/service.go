package billing

import (
	"context"
	"sort"
	"time"

	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/de-tools/hubcost/pkg/services/classifier"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Querier is satisfied by *Cache.
type Querier interface {
	GetOrFetch(ctx context.Context, q domain.BillingQuery) ([]domain.BillingRecord, error)
}

type Service struct {
	cache        Querier
	classifier   *classifier.Classifier
	hubTag       string
	hubBreakdown bool
}

func NewService(cache Querier, cls *classifier.Classifier, hubTag string, hubBreakdown bool) *Service {
	return &Service{
		cache:        cache,
		classifier:   cls,
		hubTag:       hubTag,
		hubBreakdown: hubBreakdown,
	}
}

type bucket struct {
	date      time.Time
	service   string
	component domain.Component
	hub       string
}

// ComponentCosts returns daily attributable cost per component. Tagged
// sub-costs billed under a shared service, such as home directory volumes
// under "EC2 - Other", are queried separately and moved out of the
// component the service otherwise falls into. An empty hub means every hub;
// "support" selects costs without a hub tag.
func (s *Service) ComponentCosts(ctx context.Context, r domain.DateRange, hub string) ([]domain.ComponentCost, error) {
	logger := zerolog.Ctx(ctx)
	byHub := s.hubBreakdown || hub != ""
	hubFilter := s.hubFilter(hub)

	base := domain.BillingQuery{
		Range:   r,
		Scope:   domain.ScopeAttributable,
		GroupBy: s.groupBy(true, byHub),
		Filters: hubFilter,
	}

	diversions := s.classifier.Diversions()
	diverted := make([][]domain.BillingRecord, len(diversions))
	var baseRecords []domain.BillingRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := s.cache.GetOrFetch(gctx, base)
		baseRecords = records
		return err
	})
	for i, d := range diversions {
		i := i
		q := domain.BillingQuery{
			Range:   r,
			Scope:   domain.ScopeAttributable,
			GroupBy: s.groupBy(false, byHub),
			Filters: append(diversionFilters(d), hubFilter...),
		}
		g.Go(func() error {
			records, err := s.cache.GetOrFetch(gctx, q)
			diverted[i] = records
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	totals := map[bucket]decimal.Decimal{}
	for _, rec := range baseRecords {
		if !rec.Attributable() {
			continue
		}
		k := bucket{date: rec.Date, service: classifier.NormalizeService(rec.Service), component: rec.Component, hub: rec.Hub}
		totals[k] = totals[k].Add(rec.Amount)
	}

	for i, d := range diversions {
		service := classifier.NormalizeService(d.Rule.Service)
		for _, rec := range diverted[i] {
			from := bucket{date: rec.Date, service: service, component: d.Residual, hub: rec.Hub}
			to := bucket{date: rec.Date, service: service, component: d.Rule.Component, hub: rec.Hub}

			remaining := totals[from].Sub(rec.Amount)
			if remaining.IsNegative() {
				logger.Warn().
					Str("date", rec.Date.Format(domain.DateLayout)).
					Str("service", d.Rule.Service).
					Str("component", d.Residual.String()).
					Str("diverted", rec.Amount.String()).
					Str("available", totals[from].String()).
					Msg("tagged sub-cost exceeds its service total, clamping to zero")
				remaining = decimal.Zero
			}
			totals[from] = remaining
			totals[to] = totals[to].Add(rec.Amount)
		}
	}

	byComponent := map[bucket]decimal.Decimal{}
	for k, amount := range totals {
		k.service = ""
		byComponent[k] = byComponent[k].Add(amount)
	}

	costs := make([]domain.ComponentCost, 0, len(byComponent))
	for k, amount := range byComponent {
		costs = append(costs, domain.ComponentCost{
			Date:      k.date,
			Component: k.component,
			Hub:       k.hub,
			Cost:      amount,
		})
	}
	sort.Slice(costs, func(i, j int) bool {
		a, b := costs[i], costs[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Hub != b.Hub {
			return a.Hub < b.Hub
		}
		if a.Component != b.Component {
			return a.Component < b.Component
		}
		return a.Cost.GreaterThan(b.Cost)
	})
	return costs, nil
}

// TotalCosts returns the daily account-wide cost next to the part of it that
// can be attributed to a component.
func (s *Service) TotalCosts(ctx context.Context, r domain.DateRange) ([]domain.CostEntry, error) {
	account := domain.BillingQuery{Range: r, Scope: domain.ScopeAccount}
	attributable := domain.BillingQuery{Range: r, Scope: domain.ScopeAttributable, GroupBy: s.groupBy(true, false)}

	var accountRecords, attributableRecords []domain.BillingRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := s.cache.GetOrFetch(gctx, account)
		accountRecords = records
		return err
	})
	g.Go(func() error {
		records, err := s.cache.GetOrFetch(gctx, attributable)
		attributableRecords = records
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := sumByDate(accountRecords, domain.CostNameAccount, func(domain.BillingRecord) bool { return true })
	entries = append(entries, sumByDate(attributableRecords, domain.CostNameAttributable, domain.BillingRecord.Attributable)...)
	sortEntries(entries)
	return entries, nil
}

// CostsPerHub returns daily attributable cost per hub tag value. Costs
// without the tag are reported under "support".
func (s *Service) CostsPerHub(ctx context.Context, r domain.DateRange) ([]domain.CostEntry, error) {
	q := domain.BillingQuery{Range: r, Scope: domain.ScopeAttributable, GroupBy: s.groupBy(true, true)}
	records, err := s.cache.GetOrFetch(ctx, q)
	if err != nil {
		return nil, err
	}

	type key struct {
		date time.Time
		hub  string
	}
	totals := map[key]decimal.Decimal{}
	for _, rec := range records {
		if !rec.Attributable() {
			continue
		}
		k := key{date: rec.Date, hub: hubName(rec.Hub)}
		totals[k] = totals[k].Add(rec.Amount)
	}

	entries := make([]domain.CostEntry, 0, len(totals))
	for k, amount := range totals {
		entries = append(entries, domain.CostEntry{Date: k.date, Name: k.hub, Cost: amount})
	}
	sortEntries(entries)
	return entries, nil
}

func (s *Service) HubNames(ctx context.Context, r domain.DateRange) ([]string, error) {
	entries, err := s.CostsPerHub(ctx, r)
	if err != nil {
		return nil, err
	}
	names := lo.Uniq(lo.Map(entries, func(e domain.CostEntry, _ int) string { return e.Name }))
	sort.Strings(names)
	return names, nil
}

func (s *Service) HubBreakdown() bool {
	return s.hubBreakdown
}

func (s *Service) groupBy(service, hub bool) []domain.GroupDef {
	var groups []domain.GroupDef
	if service {
		groups = append(groups, domain.GroupDef{Type: domain.GroupDimension, Key: domain.DimensionService})
	}
	if hub {
		groups = append(groups, domain.GroupDef{Type: domain.GroupTag, Key: s.hubTag})
	}
	return groups
}

func (s *Service) hubFilter(hub string) []domain.Predicate {
	switch hub {
	case "":
		return nil
	case domain.SupportHub:
		return []domain.Predicate{domain.TagAbsent(s.hubTag)}
	default:
		return []domain.Predicate{domain.TagEquals(s.hubTag, hub)}
	}
}

// diversionFilters selects the line items the rule claims: its service and
// narrowing term, minus anything a higher priority rule of the same service
// took first.
func diversionFilters(d classifier.Diversion) []domain.Predicate {
	filters := append([]domain.Predicate{domain.ServiceIs(d.Rule.Service)}, d.Rule.Predicates()...)
	for _, r := range d.Preceding {
		for _, p := range r.Predicates() {
			filters = append(filters, domain.Not(p))
		}
	}
	return filters
}

func hubName(hub string) string {
	if hub == "" {
		return domain.SupportHub
	}
	return hub
}

func sumByDate(records []domain.BillingRecord, name string, include func(domain.BillingRecord) bool) []domain.CostEntry {
	totals := map[time.Time]decimal.Decimal{}
	for _, rec := range records {
		if !include(rec) {
			continue
		}
		totals[rec.Date] = totals[rec.Date].Add(rec.Amount)
	}
	entries := make([]domain.CostEntry, 0, len(totals))
	for date, amount := range totals {
		entries = append(entries, domain.CostEntry{Date: date, Name: name, Cost: amount})
	}
	return entries
}

func sortEntries(entries []domain.CostEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].Name < entries[j].Name
	})
}
