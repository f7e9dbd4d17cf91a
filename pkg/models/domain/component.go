package domain

import (
	"fmt"
	"strings"
)

// Component is a human-meaningful cost category that billing line items
// and usage metrics are both mapped onto.
type Component string

const (
	ComponentCompute       Component = "compute"
	ComponentHomeStorage   Component = "home_storage"
	ComponentObjectStorage Component = "object_storage"
	ComponentCore          Component = "core"
	ComponentNetworking    Component = "networking"
)

var Components = []Component{
	ComponentCompute,
	ComponentHomeStorage,
	ComponentObjectStorage,
	ComponentCore,
	ComponentNetworking,
}

func (c Component) String() string {
	return string(c)
}

func (c Component) Valid() bool {
	for _, known := range Components {
		if c == known {
			return true
		}
	}
	return false
}

// ParseComponent accepts the canonical names as well as the spelling used by
// the dashboards ("home storage").
func ParseComponent(s string) (Component, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	c := Component(normalized)
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown component %q", ErrInvalidFilter, s)
	}
	return c, nil
}
