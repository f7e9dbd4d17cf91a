// Package costexplorer fetches daily cost line items from AWS Cost Explorer.
package costexplorer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/smithy-go"
	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/de-tools/hubcost/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// UnblendedCost is the cost of the individual account, the default metric
	// of the AWS console.
	metricUnblendedCost = "UnblendedCost"
	DefaultHubTag       = "2i2c:hub-name"
)

// permanentErrorCodes are API errors that repeating the same request cannot fix.
var permanentErrorCodes = map[string]bool{
	"ValidationException":            true,
	"InvalidNextTokenException":      true,
	"BillExpirationException":        true,
	"RequestChangedException":        true,
	"UnresolvableUsageUnitException": true,
	"AccessDeniedException":          true,
}

// CostAndUsageAPI is the subset of the Cost Explorer client used here.
type CostAndUsageAPI interface {
	GetCostAndUsage(
		ctx context.Context,
		params *costexplorer.GetCostAndUsageInput,
		optFns ...func(*costexplorer.Options),
	) (*costexplorer.GetCostAndUsageOutput, error)
}

type Settings struct {
	ClusterName string
	HubTag      string
}

type Client struct {
	api      CostAndUsageAPI
	settings Settings
}

func NewClient(api CostAndUsageAPI, settings Settings) *Client {
	if settings.HubTag == "" {
		settings.HubTag = DefaultHubTag
	}
	return &Client{api: api, settings: settings}
}

func NewFromConfig(cfg aws.Config, settings Settings) *Client {
	return NewClient(costexplorer.NewFromConfig(cfg), settings)
}

func (c *Client) HubTag() string {
	return c.settings.HubTag
}

// Fetch issues exactly one GetCostAndUsage call for the whole range. A
// response asking for a further page is rejected rather than attributed
// partially.
func (c *Client) Fetch(ctx context.Context, q domain.BillingQuery) ([]domain.LineItem, error) {
	logger := zerolog.Ctx(ctx)
	from, to := q.Range.BillingPeriod()

	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(from),
			End:   aws.String(to),
		},
		Granularity: types.GranularityDaily,
		Metrics:     []string{metricUnblendedCost},
		Filter:      c.buildFilter(q),
		GroupBy:     groupDefinitions(q.GroupBy),
	}

	logger.Debug().
		Str("from", from).
		Str("to", to).
		Str("query", q.Key()).
		Msg("querying cost explorer")

	result, err := c.api.GetCostAndUsage(ctx, input)
	if err != nil {
		if isPermanent(err) {
			return nil, retry.Permanent(fmt.Errorf("failed to get cost and usage: %w", err))
		}
		return nil, fmt.Errorf("failed to get cost and usage: %w", err)
	}

	if aws.ToString(result.NextPageToken) != "" {
		return nil, retry.Permanent(fmt.Errorf("%w: query from %s to %s", domain.ErrPaginatedResponse, from, to))
	}

	return transformCostAndUsageResult(result, q)
}

func transformCostAndUsageResult(result *costexplorer.GetCostAndUsageOutput, q domain.BillingQuery) ([]domain.LineItem, error) {
	implied := q.ImpliedTags()
	service, _ := q.ImpliedService()
	var items []domain.LineItem

	for _, resultByTime := range result.ResultsByTime {
		if resultByTime.TimePeriod == nil {
			return nil, fmt.Errorf("result without time period")
		}
		date, err := time.Parse(domain.DateLayout, aws.ToString(resultByTime.TimePeriod.Start))
		if err != nil {
			return nil, fmt.Errorf("failed to parse start time: %w", err)
		}

		if len(q.GroupBy) == 0 {
			amount, err := parseAmount(resultByTime.Total)
			if err != nil {
				return nil, err
			}
			items = append(items, domain.LineItem{Date: date, Service: service, Tags: copyTags(implied), Amount: amount})
			continue
		}

		for _, group := range resultByTime.Groups {
			amount, err := parseAmount(group.Metrics)
			if err != nil {
				return nil, err
			}

			item := domain.LineItem{Date: date, Service: service, Tags: copyTags(implied), Amount: amount}
			for i, key := range group.Keys {
				if i >= len(q.GroupBy) {
					break
				}
				def := q.GroupBy[i]
				switch def.Type {
				case domain.GroupTag:
					// tag keys come back as "key$value", an empty value means untagged
					_, value, _ := strings.Cut(key, "$")
					if value != "" {
						item.Tags[def.Key] = value
					}
				default:
					if def.Key == domain.DimensionService {
						item.Service = key
					} else {
						item.Tags[def.Key] = key
					}
				}
			}
			items = append(items, item)
		}
	}

	return items, nil
}

func parseAmount(metrics map[string]types.MetricValue) (decimal.Decimal, error) {
	metric, ok := metrics[metricUnblendedCost]
	if !ok || metric.Amount == nil {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(*metric.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount %q: %w", *metric.Amount, err)
	}
	return amount, nil
}

func copyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		out[k] = v
	}
	return out
}

func isPermanent(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return permanentErrorCodes[apiErr.ErrorCode()]
	}
	return false
}
