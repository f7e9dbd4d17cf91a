package domain

import "time"

// UsageRecord is one user's consumption of a component on one day, in the
// metric's native unit.
type UsageRecord struct {
	Date      time.Time
	Hub       string
	User      string
	Component Component
	Value     float64
}

// UsageFraction is a user's share of the total usage of a component on a day.
type UsageFraction struct {
	Date      time.Time
	Hub       string
	User      string
	Component Component
	Value     float64
}
