// Package membership resolves which usergroups a user belongs to from the
// latest snapshot of an external membership feed.
package membership

import (
	"context"
	"sort"
	"time"

	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/samber/lo"
)

// Source yields membership observations made at or before asOf. An
// observation with an empty Usergroup records a user seen without groups.
type Source interface {
	Observations(ctx context.Context, asOf time.Time) ([]domain.GroupMembership, error)
}

type Resolver struct {
	source Source
}

func NewResolver(source Source) *Resolver {
	return &Resolver{source: source}
}

// MembershipsAsOf maps every known user to the usergroups of their most
// recent observation day not after date. Older days are never consulted,
// so group history cannot be reconstructed.
func (r *Resolver) MembershipsAsOf(ctx context.Context, date time.Time) (map[domain.UserKey][]string, error) {
	cutoff := domain.Day(date)
	observations, err := r.source.Observations(ctx, date)
	if err != nil {
		return nil, err
	}

	latest := map[domain.UserKey]time.Time{}
	for _, o := range observations {
		day := domain.Day(o.ObservedAt)
		if day.After(cutoff) {
			continue
		}
		k := domain.UserKey{Hub: o.Hub, User: o.User}
		if prev, ok := latest[k]; !ok || day.After(prev) {
			latest[k] = day
		}
	}

	groups := make(map[domain.UserKey][]string, len(latest))
	for k := range latest {
		groups[k] = nil
	}
	for _, o := range observations {
		k := domain.UserKey{Hub: o.Hub, User: o.User}
		day, ok := latest[k]
		if !ok || !domain.Day(o.ObservedAt).Equal(day) || o.Usergroup == "" {
			continue
		}
		groups[k] = append(groups[k], o.Usergroup)
	}
	for k, g := range groups {
		if len(g) == 0 {
			continue
		}
		g = lo.Uniq(g)
		sort.Strings(g)
		groups[k] = g
	}
	return groups, nil
}

// ListMultiGroupUsers returns users mapped to more than one usergroup. Their
// cost is counted once per group.
func (r *Resolver) ListMultiGroupUsers(ctx context.Context, date time.Time) ([]domain.UserGroups, error) {
	memberships, err := r.MembershipsAsOf(ctx, date)
	if err != nil {
		return nil, err
	}

	var users []domain.UserGroups
	for k, groups := range memberships {
		if len(groups) > 1 {
			users = append(users, domain.UserGroups{Hub: k.Hub, User: k.User, Usergroups: groups})
		}
	}
	sort.Slice(users, func(i, j int) bool {
		return lessKey(domain.UserKey{Hub: users[i].Hub, User: users[i].User}, domain.UserKey{Hub: users[j].Hub, User: users[j].User})
	})
	return users, nil
}

// ListUngroupedUsers returns the users without any usergroup: those the feed
// saw without groups plus any known user the feed has no entry for.
func (r *Resolver) ListUngroupedUsers(ctx context.Context, date time.Time, known []domain.UserKey) ([]domain.UserKey, error) {
	memberships, err := r.MembershipsAsOf(ctx, date)
	if err != nil {
		return nil, err
	}

	var users []domain.UserKey
	for k, groups := range memberships {
		if len(groups) == 0 {
			users = append(users, k)
		}
	}
	for _, k := range known {
		if _, ok := memberships[k]; !ok {
			users = append(users, k)
		}
	}
	users = lo.Uniq(users)
	sort.Slice(users, func(i, j int) bool { return lessKey(users[i], users[j]) })
	return users, nil
}

// GroupsOf returns the usergroups of k, or the "none" pseudo-group.
func GroupsOf(memberships map[domain.UserKey][]string, k domain.UserKey) []string {
	if groups := memberships[k]; len(groups) > 0 {
		return groups
	}
	return []string{domain.UngroupedLabel}
}

func lessKey(a, b domain.UserKey) bool {
	if a.Hub != b.Hub {
		return a.Hub < b.Hub
	}
	return a.User < b.User
}
