package api

// Money fields are decimal strings with two decimals, dates are YYYY-MM-DD.

type CostEntry struct {
	Date string `json:"date"`
	Name string `json:"name"`
	Cost string `json:"cost"`
}

type HubCost struct {
	Date string `json:"date"`
	Hub  string `json:"hub"`
	Cost string `json:"cost"`
}

type ComponentCost struct {
	Date      string `json:"date"`
	Hub       string `json:"hub,omitempty"`
	Component string `json:"component"`
	Cost      string `json:"cost"`
}

type UsageShare struct {
	Date      string  `json:"date"`
	Hub       string  `json:"hub"`
	Component string  `json:"component"`
	User      string  `json:"user"`
	Value     float64 `json:"value"`
}

// UserCost is emitted once per usergroup of the user.
type UserCost struct {
	Date      string `json:"date"`
	Hub       string `json:"hub"`
	Component string `json:"component"`
	User      string `json:"user"`
	Usergroup string `json:"usergroup"`
	Cost      string `json:"cost"`
}

type GroupCost struct {
	Date      string `json:"date"`
	Usergroup string `json:"usergroup"`
	Cost      string `json:"cost"`
}

type User struct {
	Hub  string `json:"hub"`
	User string `json:"user"`
}

type UserGroups struct {
	Hub        string   `json:"hub"`
	User       string   `json:"user"`
	Usergroups []string `json:"usergroups"`
}
