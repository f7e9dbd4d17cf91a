package domain

import (
	"fmt"
	"sort"
	"strings"
)

// BillingScope selects which base filter the billing API applies.
type BillingScope string

const (
	// ScopeAccount covers every usage charge of the account.
	ScopeAccount BillingScope = "account"
	// ScopeAttributable covers only resources tagged as part of the cluster.
	ScopeAttributable BillingScope = "attributable"
)

type GroupType string

const (
	GroupDimension GroupType = "DIMENSION"
	GroupTag       GroupType = "TAG"
)

const (
	DimensionService        = "SERVICE"
	DimensionUsageTypeGroup = "USAGE_TYPE_GROUP"
)

type GroupDef struct {
	Type GroupType
	Key  string
}

func (g GroupDef) String() string {
	return fmt.Sprintf("%s:%s", g.Type, g.Key)
}

type MatchOption string

const (
	MatchEquals MatchOption = "EQUALS"
	MatchAbsent MatchOption = "ABSENT"
)

// Predicate is one term of the billing filter. All predicates of a query are
// combined with AND.
type Predicate struct {
	Type   GroupType
	Key    string
	Values []string
	Match  MatchOption
	Negate bool
}

func (p Predicate) String() string {
	values := append([]string(nil), p.Values...)
	sort.Strings(values)
	s := fmt.Sprintf("%s:%s %s [%s]", p.Type, p.Key, p.Match, strings.Join(values, ","))
	if p.Negate {
		return "NOT " + s
	}
	return s
}

// ImpliedTag reports the tag value every returned line item must carry when
// the predicate holds.
func (p Predicate) ImpliedTag() (string, string, bool) {
	if p.Type != GroupTag || p.Negate || p.Match != MatchEquals || len(p.Values) != 1 {
		return "", "", false
	}
	return p.Key, p.Values[0], true
}

func ServiceIs(service string) Predicate {
	return Predicate{Type: GroupDimension, Key: DimensionService, Values: []string{service}, Match: MatchEquals}
}

// DimensionIn matches line items whose dimension key holds any of values.
func DimensionIn(key string, values ...string) Predicate {
	return Predicate{Type: GroupDimension, Key: key, Values: values, Match: MatchEquals}
}

func TagEquals(key, value string) Predicate {
	return Predicate{Type: GroupTag, Key: key, Values: []string{value}, Match: MatchEquals}
}

func TagAbsent(key string) Predicate {
	return Predicate{Type: GroupTag, Key: key, Match: MatchAbsent}
}

func Not(p Predicate) Predicate {
	p.Negate = !p.Negate
	return p
}

// BillingQuery is one billing API call: daily costs over Range, grouped by
// GroupBy and filtered by Filters within Scope.
type BillingQuery struct {
	Range   DateRange
	Scope   BillingScope
	GroupBy []GroupDef
	Filters []Predicate
}

// Key is a canonical representation used to identify identical queries.
// Filter order does not matter; grouping order does since it fixes the
// position of keys in the response.
func (q BillingQuery) Key() string {
	from, to := q.Range.BillingPeriod()

	groups := make([]string, 0, len(q.GroupBy))
	for _, g := range q.GroupBy {
		groups = append(groups, g.String())
	}

	filters := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		filters = append(filters, f.String())
	}
	sort.Strings(filters)

	return fmt.Sprintf("%s|%s|%s|group=%s|filter=%s",
		from, to, q.Scope, strings.Join(groups, ";"), strings.Join(filters, ";"))
}

// ImpliedTags collects the tags guaranteed by the query's filters.
func (q BillingQuery) ImpliedTags() map[string]string {
	tags := map[string]string{}
	for _, f := range q.Filters {
		if k, v, ok := f.ImpliedTag(); ok {
			tags[k] = v
		}
	}
	return tags
}

// ImpliedService returns the service every line item must belong to when the
// query filters on a single service.
func (q BillingQuery) ImpliedService() (string, bool) {
	for _, f := range q.Filters {
		if f.Type == GroupDimension && f.Key == DimensionService && !f.Negate &&
			f.Match == MatchEquals && len(f.Values) == 1 {
			return f.Values[0], true
		}
	}
	return "", false
}
