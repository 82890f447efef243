package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptor(name, server string) ToolDescriptor {
	return ToolDescriptor{
		Name:          name,
		Description:   "desc of " + name,
		RelatedServer: server,
		InputSchema:   map[string]any{"type": "object"},
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(testDescriptor("get_weather", "weather"))
	r.Register(testDescriptor("play_song", "media"))

	got, ok := r.Lookup("get_weather")
	require.True(t, ok)
	assert.Equal(t, "weather", got.RelatedServer)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"get_weather"}, r.ByServer("weather"))
	assert.Len(t, r.ListAll(), 2)
}

func TestRegistrySchemas(t *testing.T) {
	r := NewRegistry()
	r.Register(testDescriptor("get_weather", "weather"))

	schemas := r.Schemas()
	require.Len(t, schemas, 1)
	assert.Equal(t, "get_weather", schemas[0].Name)
	assert.Equal(t, map[string]any{"type": "object"}, schemas[0].Parameters)
}

func TestRegistryDisableIsOneShot(t *testing.T) {
	r := NewRegistry()
	r.Register(testDescriptor("get_weather", "weather"))

	r.Disable()
	assert.True(t, r.Disabled())
	assert.Nil(t, r.ListAll())
	assert.Nil(t, r.Schemas())

	// Registrations after Disable never resurface the inventory.
	r.Register(testDescriptor("play_song", "media"))
	assert.Nil(t, r.ListAll())
	assert.True(t, r.Disabled())
}
