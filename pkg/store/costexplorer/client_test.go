package costexplorer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/smithy-go"
	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCostAndUsageAPI struct {
	mock.Mock
}

func (m *mockCostAndUsageAPI) GetCostAndUsage(
	ctx context.Context,
	params *costexplorer.GetCostAndUsageInput,
	_ ...func(*costexplorer.Options),
) (*costexplorer.GetCostAndUsageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*costexplorer.GetCostAndUsageOutput), args.Error(1)
}

func testRange() domain.DateRange {
	return domain.NewDateRange(
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	)
}

func cost(amount string) map[string]types.MetricValue {
	return map[string]types.MetricValue{
		metricUnblendedCost: {Amount: aws.String(amount), Unit: aws.String("USD")},
	}
}

func period(start, end string) *types.DateInterval {
	return &types.DateInterval{Start: aws.String(start), End: aws.String(end)}
}

func TestFetch_GroupedByServiceAndHub(t *testing.T) {
	api := new(mockCostAndUsageAPI)
	client := NewClient(api, Settings{ClusterName: "openscapes"})

	query := domain.BillingQuery{
		Range: testRange(),
		Scope: domain.ScopeAttributable,
		GroupBy: []domain.GroupDef{
			{Type: domain.GroupDimension, Key: domain.DimensionService},
			{Type: domain.GroupTag, Key: DefaultHubTag},
		},
	}

	api.On("GetCostAndUsage", mock.Anything, mock.MatchedBy(func(in *costexplorer.GetCostAndUsageInput) bool {
		return aws.ToString(in.TimePeriod.Start) == "2025-01-01" &&
			aws.ToString(in.TimePeriod.End) == "2025-01-03" &&
			in.Granularity == types.GranularityDaily &&
			len(in.GroupBy) == 2 &&
			len(in.Filter.And) == 2
	})).Return(&costexplorer.GetCostAndUsageOutput{
		ResultsByTime: []types.ResultByTime{
			{
				TimePeriod: period("2025-01-01", "2025-01-02"),
				Groups: []types.Group{
					{Keys: []string{"Amazon Elastic File System", DefaultHubTag + "$prod"}, Metrics: cost("12.50")},
					{Keys: []string{"Amazon Elastic Container Service for Kubernetes", DefaultHubTag + "$"}, Metrics: cost("2.40")},
				},
			},
			{
				TimePeriod: period("2025-01-02", "2025-01-03"),
				Groups: []types.Group{
					{Keys: []string{"Amazon Elastic File System", DefaultHubTag + "$staging"}, Metrics: cost("1")},
				},
			},
		},
	}, nil)

	items, err := client.Fetch(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "Amazon Elastic File System", items[0].Service)
	assert.Equal(t, "prod", items[0].Tags[DefaultHubTag])
	assert.True(t, decimal.RequireFromString("12.5").Equal(items[0].Amount))

	_, tagged := items[1].Tags[DefaultHubTag]
	assert.False(t, tagged)

	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), items[2].Date)
	api.AssertExpectations(t)
}

func TestFetch_UngroupedUsesTotalAndImpliedTags(t *testing.T) {
	api := new(mockCostAndUsageAPI)
	client := NewClient(api, Settings{ClusterName: "openscapes"})

	query := domain.BillingQuery{
		Range: testRange(),
		Scope: domain.ScopeAccount,
		Filters: []domain.Predicate{
			domain.ServiceIs("EC2 - Other"),
			domain.TagEquals("2i2c:volume-purpose", "home-nfs"),
		},
	}

	api.On("GetCostAndUsage", mock.Anything, mock.MatchedBy(func(in *costexplorer.GetCostAndUsageInput) bool {
		// usage charges plus both predicates
		return len(in.Filter.And) == 3 && len(in.GroupBy) == 0
	})).Return(&costexplorer.GetCostAndUsageOutput{
		ResultsByTime: []types.ResultByTime{
			{TimePeriod: period("2025-01-01", "2025-01-02"), Total: cost("3.25")},
		},
	}, nil)

	items, err := client.Fetch(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "EC2 - Other", items[0].Service)
	assert.Equal(t, "home-nfs", items[0].Tags["2i2c:volume-purpose"])
	assert.True(t, decimal.RequireFromString("3.25").Equal(items[0].Amount))
}

func TestFetch_SingleFilterIsNotWrapped(t *testing.T) {
	api := new(mockCostAndUsageAPI)
	client := NewClient(api, Settings{})

	api.On("GetCostAndUsage", mock.Anything, mock.MatchedBy(func(in *costexplorer.GetCostAndUsageInput) bool {
		return in.Filter.And == nil &&
			in.Filter.Dimensions != nil &&
			in.Filter.Dimensions.Key == types.DimensionRecordType
	})).Return(&costexplorer.GetCostAndUsageOutput{}, nil)

	items, err := client.Fetch(context.Background(), domain.BillingQuery{Range: testRange(), Scope: domain.ScopeAccount})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFetch_PaginatedResponse(t *testing.T) {
	api := new(mockCostAndUsageAPI)
	client := NewClient(api, Settings{})

	api.On("GetCostAndUsage", mock.Anything, mock.Anything).Return(&costexplorer.GetCostAndUsageOutput{
		NextPageToken: aws.String("next"),
	}, nil)

	_, err := client.Fetch(context.Background(), domain.BillingQuery{Range: testRange(), Scope: domain.ScopeAccount})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPaginatedResponse)
}

func TestFetch_APIErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{
			name:      "validation error",
			err:       &smithy.GenericAPIError{Code: "ValidationException", Message: "bad filter"},
			permanent: true,
		},
		{
			name:      "throttling",
			err:       &smithy.GenericAPIError{Code: "LimitExceededException", Message: "slow down"},
			permanent: false,
		},
		{
			name:      "network",
			err:       errors.New("connection reset"),
			permanent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := new(mockCostAndUsageAPI)
			client := NewClient(api, Settings{})
			api.On("GetCostAndUsage", mock.Anything, mock.Anything).Return(nil, tt.err)

			_, err := client.Fetch(context.Background(), domain.BillingQuery{Range: testRange(), Scope: domain.ScopeAccount})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.permanent, isPermanent(err))
		})
	}
}

func TestPredicateExpression_Negated(t *testing.T) {
	expr := predicateExpression(domain.Not(domain.TagEquals("2i2c:node-purpose", "core")))

	require.NotNil(t, expr.Not)
	require.NotNil(t, expr.Not.Tags)
	assert.Equal(t, "2i2c:node-purpose", aws.ToString(expr.Not.Tags.Key))
	assert.Equal(t, []string{"core"}, expr.Not.Tags.Values)
}
