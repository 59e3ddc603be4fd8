// Package access implements the capability check gating on_client_read and
// on_client_write (component P, §4.5): a caller presents an identity and a
// requested capability (read or write), and the gate says yes or no before
// the request is allowed anywhere near the commit pipeline.
//
// Grounded on original_source/src/replica/replica.cpp's access_controller
// check ahead of on_client_write/on_client_read. No example repo in the
// pack models ACLs directly, so the shape here follows the teacher's usual
// small-interface-plus-map-backed-implementation pattern (e.g.
// pkg/common/master_common.go's GroupStatus lookups).
package access

// Capability is the operation an identity is asking to perform.
type Capability int

const (
	CapRead Capability = iota
	CapWrite
)

// Gate decides whether an identity holds a capability against a table.
// Implementations must be safe for concurrent use.
type Gate interface {
	Allow(table string, identity string, cap Capability) bool
}

// StaticGate is the reference implementation: a fixed table of per-table
// ACL entries loaded at startup (e.g. from the process config), with no
// live reload.
type StaticGate struct {
	// entries maps table -> identity -> granted capabilities.
	entries map[string]map[string]map[Capability]bool
}

func NewStaticGate(entries map[string]map[string][]Capability) *StaticGate {
	g := &StaticGate{entries: make(map[string]map[string]map[Capability]bool)}
	for table, byIdentity := range entries {
		g.entries[table] = make(map[string]map[Capability]bool)
		for identity, caps := range byIdentity {
			set := make(map[Capability]bool, len(caps))
			for _, c := range caps {
				set[c] = true
			}
			g.entries[table][identity] = set
		}
	}
	return g
}

// Allow reports true when the table has no ACL entries at all (open by
// default, matching a freshly-created table with no ACL configured) or the
// identity's entry grants the capability.
func (g *StaticGate) Allow(table string, identity string, cap Capability) bool {
	byIdentity, ok := g.entries[table]
	if !ok || len(byIdentity) == 0 {
		return true
	}
	caps, ok := byIdentity[identity]
	if !ok {
		return false
	}
	return caps[cap]
}

// AllowAll is a no-op gate for tests and for deployments that disable ACL
// enforcement entirely.
type AllowAll struct{}

func (AllowAll) Allow(string, string, Capability) bool { return true }

var (
	_ Gate = (*StaticGate)(nil)
	_ Gate = AllowAll{}
)
