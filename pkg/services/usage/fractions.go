package usage

import (
	"sort"
	"time"

	"github.com/de-tools/hubcost/pkg/models/domain"
)

// Fractions divides every record by the total usage of its date and
// component, or of its date, hub and component when perHub is set. Slices
// whose total is zero are left out.
func Fractions(records []domain.UsageRecord, perHub bool) []domain.UsageFraction {
	type key struct {
		date      time.Time
		hub       string
		component domain.Component
	}
	keyOf := func(r domain.UsageRecord) key {
		k := key{date: r.Date, component: r.Component}
		if perHub {
			k.hub = r.Hub
		}
		return k
	}

	totals := map[key]float64{}
	for _, r := range records {
		totals[keyOf(r)] += r.Value
	}

	fractions := make([]domain.UsageFraction, 0, len(records))
	for _, r := range records {
		total := totals[keyOf(r)]
		if total <= 0 {
			continue
		}
		fractions = append(fractions, domain.UsageFraction{
			Date:      r.Date,
			Hub:       r.Hub,
			User:      r.User,
			Component: r.Component,
			Value:     r.Value / total,
		})
	}

	sort.Slice(fractions, func(i, j int) bool {
		a, b := fractions[i], fractions[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Component != b.Component {
			return a.Component < b.Component
		}
		if a.Hub != b.Hub {
			return a.Hub < b.Hub
		}
		return a.User < b.User
	})
	return fractions
}
