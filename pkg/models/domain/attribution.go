package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UngroupedLabel is the usergroup reported for users without any group.
const UngroupedLabel = "none"

type UserCost struct {
	Date       time.Time
	Hub        string
	User       string
	Component  Component
	Cost       decimal.Decimal
	Usergroups []string
}

type GroupCost struct {
	Date      time.Time
	Usergroup string
	Cost      decimal.Decimal
}
