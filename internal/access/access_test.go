package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticGateOpenByDefaultForUnconfiguredTable(t *testing.T) {
	g := NewStaticGate(nil)
	assert.True(t, g.Allow("t1", "anyone", CapRead))
	assert.True(t, g.Allow("t1", "anyone", CapWrite))
}

func TestStaticGateDeniesUnlistedIdentity(t *testing.T) {
	g := NewStaticGate(map[string]map[string][]Capability{
		"t1": {"alice": {CapRead, CapWrite}},
	})
	assert.True(t, g.Allow("t1", "alice", CapRead))
	assert.True(t, g.Allow("t1", "alice", CapWrite))
	assert.False(t, g.Allow("t1", "bob", CapRead))
}

func TestStaticGateRespectsPerCapabilityGrant(t *testing.T) {
	g := NewStaticGate(map[string]map[string][]Capability{
		"t1": {"alice": {CapRead}},
	})
	assert.True(t, g.Allow("t1", "alice", CapRead))
	assert.False(t, g.Allow("t1", "alice", CapWrite))
}

func TestAllowAllGrantsEverything(t *testing.T) {
	var g AllowAll
	assert.True(t, g.Allow("any", "any", CapRead))
	assert.True(t, g.Allow("any", "any", CapWrite))
}
