package usage

import (
	"fmt"
	"strings"

	"github.com/de-tools/hubcost/pkg/models/domain"
)

const (
	hubMatcher  = "$hub_matcher"
	userMatcher = "$user_matcher"

	LabelNamespace = "namespace"
	LabelUsername  = "annotation_hub_jupyter_org_username"
	LabelDirectory = "directory"
)

// Template is the metrics query measuring one component. Query may contain
// $hub_matcher and $user_matcher, each replaced by ", label=\"value\"" or
// removed when no filter is set.
//
// EscapedUser marks a UserLabel carrying the username in the escaped form
// the hub uses for directory names, e.g. "a-2eb" for "a.b".
type Template struct {
	Component   domain.Component
	Query       string
	HubLabel    string
	UserLabel   string
	EscapedUser bool
}

// memoryRequests is bytes of memory requested by user servers.
const memoryRequests = `sum(
  kube_pod_container_resource_requests{resource="memory", pod=~"jupyter-.*"$hub_matcher}
  * on (namespace, pod) group_left(annotation_hub_jupyter_org_username)
  group(
    kube_pod_annotations{pod=~"jupyter-.*"$hub_matcher$user_matcher}
  ) by (pod, namespace, annotation_hub_jupyter_org_username)
) by (annotation_hub_jupyter_org_username, namespace)`

// homeDirectorySize is bytes stored per home directory.
const homeDirectorySize = `max(
  dirsize_total_size_bytes{namespace!=""$hub_matcher$user_matcher}
) by (namespace, directory)`

func DefaultTemplates() []Template {
	return []Template{
		{
			Component: domain.ComponentCompute,
			Query:     memoryRequests,
			HubLabel:  LabelNamespace,
			UserLabel: LabelUsername,
		},
		{
			Component:   domain.ComponentHomeStorage,
			Query:       homeDirectorySize,
			HubLabel:    LabelNamespace,
			UserLabel:   LabelDirectory,
			EscapedUser: true,
		},
	}
}

func (t Template) Render(hub, user string) string {
	if t.EscapedUser {
		user = EscapeUsername(user)
	}
	return strings.NewReplacer(
		hubMatcher, matcher(t.HubLabel, hub),
		userMatcher, matcher(t.UserLabel, user),
	).Replace(t.Query)
}

// User returns the username a series belongs to.
func (t Template) User(labels map[string]string) string {
	user := labels[t.UserLabel]
	if t.EscapedUser {
		return UnescapeUsername(user)
	}
	return user
}

func matcher(label, value string) string {
	if value == "" {
		return ""
	}
	return fmt.Sprintf(", %s=%q", label, value)
}
