package domain

import "time"

type UserKey struct {
	Hub  string
	User string
}

// GroupMembership is one observation from the membership feed.
type GroupMembership struct {
	User       string
	Hub        string
	Usergroup  string
	ObservedAt time.Time
}

type UserGroups struct {
	Hub        string
	User       string
	Usergroups []string
}
