package costexplorer

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/de-tools/hubcost/pkg/models/domain"
)

// usageCharges excludes credits, tax and refunds.
var usageCharges = types.Expression{
	Dimensions: &types.DimensionValues{
		Key:    types.DimensionRecordType,
		Values: []string{"Usage"},
	},
}

// attributableCharges selects resources that belong to the cluster. Older
// resources only carry the hub-name or node-purpose tags.
func attributableCharges(clusterName, hubTag string) types.Expression {
	return types.Expression{
		Or: []types.Expression{
			tagEquals("alpha.eksctl.io/cluster-name", clusterName),
			tagEquals(fmt.Sprintf("kubernetes.io/cluster/%s", clusterName), "owned"),
			tagEquals("2i2c.org/cluster-name", clusterName),
			{Not: &types.Expression{Tags: &types.TagValues{
				Key:          aws.String(hubTag),
				MatchOptions: []types.MatchOption{types.MatchOptionAbsent},
			}}},
			{Not: &types.Expression{Tags: &types.TagValues{
				Key:          aws.String("2i2c:node-purpose"),
				MatchOptions: []types.MatchOption{types.MatchOptionAbsent},
			}}},
		},
	}
}

func tagEquals(key, value string) types.Expression {
	return types.Expression{
		Tags: &types.TagValues{
			Key:          aws.String(key),
			Values:       []string{value},
			MatchOptions: []types.MatchOption{types.MatchOptionEquals},
		},
	}
}

func (c *Client) buildFilter(q domain.BillingQuery) *types.Expression {
	terms := []types.Expression{usageCharges}
	if q.Scope == domain.ScopeAttributable {
		terms = append(terms, attributableCharges(c.settings.ClusterName, c.settings.HubTag))
	}
	for _, p := range q.Filters {
		terms = append(terms, predicateExpression(p))
	}

	if len(terms) == 1 {
		return &terms[0]
	}
	return &types.Expression{And: terms}
}

func predicateExpression(p domain.Predicate) types.Expression {
	match := []types.MatchOption{types.MatchOption(p.Match)}

	var expr types.Expression
	switch p.Type {
	case domain.GroupTag:
		expr.Tags = &types.TagValues{
			Key:          aws.String(p.Key),
			Values:       p.Values,
			MatchOptions: match,
		}
	default:
		expr.Dimensions = &types.DimensionValues{
			Key:          types.Dimension(p.Key),
			Values:       p.Values,
			MatchOptions: match,
		}
	}

	if p.Negate {
		return types.Expression{Not: &expr}
	}
	return expr
}

func groupDefinitions(groups []domain.GroupDef) []types.GroupDefinition {
	out := make([]types.GroupDefinition, 0, len(groups))
	for _, g := range groups {
		out = append(out, types.GroupDefinition{
			Type: types.GroupDefinitionType(g.Type),
			Key:  aws.String(g.Key),
		})
	}
	return out
}
