package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is a raw row returned by the billing API.
type LineItem struct {
	Date    time.Time
	Service string
	Tags    map[string]string
	Amount  decimal.Decimal
}

// BillingRecord is a classified line item. An empty Component marks a
// service the classifier does not know: it counts towards account totals
// but is never attributed. Hub is empty when the billing data carries no hub
// breakdown.
type BillingRecord struct {
	Date      time.Time
	Service   string
	Component Component
	Hub       string
	Amount    decimal.Decimal
}

func (r BillingRecord) Attributable() bool {
	return r.Component != ""
}

// ComponentCost is the billed amount of one component on one day, after the
// tagged sub-costs were moved out of the residual buckets.
type ComponentCost struct {
	Date      time.Time
	Component Component
	Hub       string
	Cost      decimal.Decimal
}

// CostEntry is a named daily total (account, attributable, or a hub name).
type CostEntry struct {
	Date time.Time
	Name string
	Cost decimal.Decimal
}

const (
	CostNameAccount      = "account"
	CostNameAttributable = "attributable"
	// SupportHub names costs that carry no hub tag.
	SupportHub = "support"
)
