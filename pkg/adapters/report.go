package adapters

import (
	"time"

	"github.com/de-tools/hubcost/pkg/models/api"
	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/shopspring/decimal"
)

func formatDate(t time.Time) string {
	return t.UTC().Format(domain.DateLayout)
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func MapCostEntriesDomainToApi(entries []domain.CostEntry) []api.CostEntry {
	out := make([]api.CostEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, api.CostEntry{Date: formatDate(e.Date), Name: e.Name, Cost: formatMoney(e.Cost)})
	}
	return out
}

func MapHubCostsDomainToApi(entries []domain.CostEntry) []api.HubCost {
	out := make([]api.HubCost, 0, len(entries))
	for _, e := range entries {
		out = append(out, api.HubCost{Date: formatDate(e.Date), Hub: e.Name, Cost: formatMoney(e.Cost)})
	}
	return out
}

func MapComponentCostsDomainToApi(costs []domain.ComponentCost) []api.ComponentCost {
	out := make([]api.ComponentCost, 0, len(costs))
	for _, c := range costs {
		out = append(out, api.ComponentCost{
			Date:      formatDate(c.Date),
			Hub:       c.Hub,
			Component: c.Component.String(),
			Cost:      formatMoney(c.Cost),
		})
	}
	return out
}

func MapUsageFractionsDomainToApi(fractions []domain.UsageFraction) []api.UsageShare {
	out := make([]api.UsageShare, 0, len(fractions))
	for _, f := range fractions {
		out = append(out, api.UsageShare{
			Date:      formatDate(f.Date),
			Hub:       f.Hub,
			Component: f.Component.String(),
			User:      f.User,
			Value:     f.Value,
		})
	}
	return out
}

// MapUserCostsDomainToApi expands every user cost into one row per
// usergroup, so the same cost appears once for each group of the user.
func MapUserCostsDomainToApi(costs []domain.UserCost) []api.UserCost {
	out := make([]api.UserCost, 0, len(costs))
	for _, c := range costs {
		groups := c.Usergroups
		if len(groups) == 0 {
			groups = []string{domain.UngroupedLabel}
		}
		for _, g := range groups {
			out = append(out, api.UserCost{
				Date:      formatDate(c.Date),
				Hub:       c.Hub,
				Component: c.Component.String(),
				User:      c.User,
				Usergroup: g,
				Cost:      formatMoney(c.Cost),
			})
		}
	}
	return out
}

func MapGroupCostsDomainToApi(costs []domain.GroupCost) []api.GroupCost {
	out := make([]api.GroupCost, 0, len(costs))
	for _, c := range costs {
		out = append(out, api.GroupCost{Date: formatDate(c.Date), Usergroup: c.Usergroup, Cost: formatMoney(c.Cost)})
	}
	return out
}

func MapUserKeysDomainToApi(users []domain.UserKey) []api.User {
	out := make([]api.User, 0, len(users))
	for _, u := range users {
		out = append(out, api.User{Hub: u.Hub, User: u.User})
	}
	return out
}

func MapUserGroupsDomainToApi(users []domain.UserGroups) []api.UserGroups {
	out := make([]api.UserGroups, 0, len(users))
	for _, u := range users {
		out = append(out, api.UserGroups{Hub: u.Hub, User: u.User, Usergroups: u.Usergroups})
	}
	return out
}
