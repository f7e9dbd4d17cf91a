package adapters

import (
	"testing"
	"time"

	"github.com/de-tools/hubcost/pkg/models/api"
	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMapUserCostsDomainToApi_OneRowPerGroup(t *testing.T) {
	date := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	costs := []domain.UserCost{
		{Date: date, Hub: "prod", User: "alice", Component: domain.ComponentCompute, Cost: decimal.RequireFromString("4.004"), Usergroups: []string{"x", "y"}},
		{Date: date, Hub: "prod", User: "bob", Component: domain.ComponentCompute, Cost: decimal.RequireFromString("95.996")},
	}

	assert.Equal(t, []api.UserCost{
		{Date: "2025-01-01", Hub: "prod", Component: "compute", User: "alice", Usergroup: "x", Cost: "4.00"},
		{Date: "2025-01-01", Hub: "prod", Component: "compute", User: "alice", Usergroup: "y", Cost: "4.00"},
		{Date: "2025-01-01", Hub: "prod", Component: "compute", User: "bob", Usergroup: "none", Cost: "96.00"},
	}, MapUserCostsDomainToApi(costs))
}

func TestMappersReturnEmptySlices(t *testing.T) {
	assert.NotNil(t, MapCostEntriesDomainToApi(nil))
	assert.NotNil(t, MapUserCostsDomainToApi(nil))
	assert.NotNil(t, MapUserKeysDomainToApi(nil))
}
