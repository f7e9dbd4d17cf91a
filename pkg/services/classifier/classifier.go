// Package classifier maps billing line items onto cost components using an
// ordered rule table.
package classifier

import (
	"slices"
	"strings"

	"github.com/de-tools/hubcost/pkg/models/domain"
)

const servicePrefix = "Amazon "

// tagPrefixes are namespaces that may be left off a tag key when matching.
var tagPrefixes = []string{"2i2c:", "kubernetes.io/"}

// TagPredicate matches a line item carrying Key=Value. Keys are compared
// with their namespace prefix removed, so "volume-purpose" matches
// "2i2c:volume-purpose".
type TagPredicate struct {
	Key   string
	Value string
}

func (p TagPredicate) Match(tags map[string]string) bool {
	v, ok := LookupTag(tags, p.Key)
	return ok && v == p.Value
}

// DimensionPredicate matches a line item whose billing dimension Key holds
// one of Values. Dimensions other than SERVICE are carried in the line
// item's tags under the dimension name.
type DimensionPredicate struct {
	Key    string
	Values []string
}

func (p DimensionPredicate) Match(tags map[string]string) bool {
	v, ok := tags[p.Key]
	return ok && slices.Contains(p.Values, v)
}

// Rule maps a service onto a component. Tag and Dimension narrow the rule to
// part of the service; at most one of them is set.
type Rule struct {
	Service   string
	Tag       *TagPredicate
	Dimension *DimensionPredicate
	Component domain.Component
}

func (r Rule) Match(service string, tags map[string]string) bool {
	if NormalizeService(service) != NormalizeService(r.Service) {
		return false
	}
	if r.Tag != nil && !r.Tag.Match(tags) {
		return false
	}
	return r.Dimension == nil || r.Dimension.Match(tags)
}

// Narrowed reports whether the rule covers only part of its service.
func (r Rule) Narrowed() bool {
	return r.Tag != nil || r.Dimension != nil
}

// Predicates returns the billing filter terms that select the part of the
// service the rule covers.
func (r Rule) Predicates() []domain.Predicate {
	var out []domain.Predicate
	if r.Tag != nil {
		out = append(out, domain.TagEquals(r.Tag.Key, r.Tag.Value))
	}
	if r.Dimension != nil {
		out = append(out, domain.DimensionIn(r.Dimension.Key, r.Dimension.Values...))
	}
	return out
}

// Diversion is a narrowed rule whose sub-cost is billed under a service that
// otherwise falls into Residual.
type Diversion struct {
	Rule     Rule
	Residual domain.Component
	// Preceding holds the higher priority narrowed rules of the same
	// service; a line item matching any of them belongs elsewhere.
	Preceding []Rule
}

type Classifier struct {
	rules []Rule
}

func New(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

func NewDefault() *Classifier {
	return New(DefaultRules)
}

// Classify returns the component of the first matching rule. Unknown
// services report false and must be left out of attributable cost.
func (c *Classifier) Classify(service string, tags map[string]string) (domain.Component, bool) {
	for _, r := range c.rules {
		if r.Match(service, tags) {
			return r.Component, true
		}
	}
	return "", false
}

// Diversions lists every narrowed rule whose service also has an untagged
// fallback, in priority order.
func (c *Classifier) Diversions() []Diversion {
	var out []Diversion
	preceding := map[string][]Rule{}

	for _, r := range c.rules {
		svc := NormalizeService(r.Service)
		if !r.Narrowed() {
			continue
		}
		residual, ok := c.Classify(r.Service, nil)
		if !ok {
			preceding[svc] = append(preceding[svc], r)
			continue
		}
		if residual != r.Component {
			out = append(out, Diversion{
				Rule:      r,
				Residual:  residual,
				Preceding: append([]Rule(nil), preceding[svc]...),
			})
		}
		preceding[svc] = append(preceding[svc], r)
	}
	return out
}

func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

func NormalizeService(service string) string {
	return strings.TrimPrefix(strings.TrimSpace(service), servicePrefix)
}

// LookupTag finds key in tags, tolerating a missing or extra "2i2c:" or
// "kubernetes.io/" prefix on either side.
func LookupTag(tags map[string]string, key string) (string, bool) {
	if v, ok := tags[key]; ok {
		return v, true
	}
	bare := trimTagPrefix(key)
	for k, v := range tags {
		if trimTagPrefix(k) == bare {
			return v, true
		}
	}
	return "", false
}

func trimTagPrefix(key string) string {
	for _, prefix := range tagPrefixes {
		key = strings.TrimPrefix(key, prefix)
	}
	return key
}
