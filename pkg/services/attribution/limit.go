package attribution

import (
	"sort"
	"time"

	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/shopspring/decimal"
)

type rankKey struct {
	hub       string
	user      string
	component domain.Component
}

// limitUsers keeps, in every (date, hub, component) group, the n users with
// the highest cost of that component over the whole range. Ties go to the
// lower user id.
func limitUsers(costs []domain.UserCost, n int) []domain.UserCost {
	totals := map[rankKey]decimal.Decimal{}
	for _, uc := range costs {
		k := rankKey{hub: uc.Hub, user: uc.User, component: uc.Component}
		totals[k] = totals[k].Add(uc.Cost)
	}

	ranked := make([]rankKey, 0, len(totals))
	for k := range totals {
		ranked = append(ranked, k)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := totals[ranked[i]], totals[ranked[j]]
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		if ranked[i].user != ranked[j].user {
			return ranked[i].user < ranked[j].user
		}
		if ranked[i].hub != ranked[j].hub {
			return ranked[i].hub < ranked[j].hub
		}
		return ranked[i].component < ranked[j].component
	})
	rank := make(map[rankKey]int, len(ranked))
	for i, k := range ranked {
		rank[k] = i
	}

	type group struct {
		date      time.Time
		hub       string
		component domain.Component
	}
	members := map[group][]domain.UserCost{}
	for _, uc := range costs {
		g := group{date: uc.Date, hub: uc.Hub, component: uc.Component}
		members[g] = append(members[g], uc)
	}

	kept := make([]domain.UserCost, 0, len(costs))
	for _, ucs := range members {
		sort.Slice(ucs, func(i, j int) bool {
			return rank[rankKey{hub: ucs[i].Hub, user: ucs[i].User, component: ucs[i].Component}] <
				rank[rankKey{hub: ucs[j].Hub, user: ucs[j].User, component: ucs[j].Component}]
		})
		if len(ucs) > n {
			ucs = ucs[:n]
		}
		kept = append(kept, ucs...)
	}
	return kept
}

// sortUserCosts orders by date, hub and component, then by descending cost.
func sortUserCosts(costs []domain.UserCost) {
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
		if !a.Cost.Equal(b.Cost) {
			return a.Cost.GreaterThan(b.Cost)
		}
		return a.User < b.User
	})
}
