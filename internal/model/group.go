package model

// GroupType enumerates the selector behaviors spec.md §3 names for a Proxy
// Group.
type GroupType string

const (
	GroupSelect      GroupType = "select"
	GroupURLTest     GroupType = "url-test"
	GroupFallback    GroupType = "fallback"
	GroupLoadBalance GroupType = "load-balance"
	GroupRelay       GroupType = "relay"
	GroupSmart       GroupType = "smart"
)

// Group is a named selector over nodes. MembersExpr is the raw rule-expression
// (spec.md §4.7) prior to resolution; ResolvedMembers is filled in by the
// Proxy-Group Resolver.
type Group struct {
	Name string
	Type GroupType

	// MembersExpr holds the unresolved expression tokens (literal group
	// names, "![...]regex[...]", "!!GROUP=tag", "!!GROUPID=n",
	// "!!INSERT=url", "DIRECT", "REJECT"), evaluated left-to-right.
	MembersExpr []string

	// ResolvedMembers is populated by internal/group.Resolve.
	ResolvedMembers []string

	HealthCheckURL string
	IntervalSec    int
	ToleranceMS    int
	HasTolerance   bool
	TimeoutMS      int
	HasTimeout     bool

	DisableUDP          bool
	IntervalPersistent  bool
	EvaluateBeforeUse   bool
}
