package nanpa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testRegistry() *StaticRegistry {
	return NewStaticRegistry(map[string]NumberInfo{
		"541223": {State: "OR", LATA: "670", OCN: "7891"},
		"503943": {State: "OR", LATA: "672", OCN: "6529"},
	})
}

func TestLookup(t *testing.T) {
	r := testRegistry()

	info, ok := r.Lookup("+15412233333")
	require.True(t, ok)
	require.Equal(t, "OR", info.State)
	require.Equal(t, "670", info.LATA)

	info, ok = r.Lookup("5039433333")
	require.True(t, ok)
	require.Equal(t, "OR", info.State)
	require.Equal(t, "672", info.LATA)
}

func TestLookupMiss(t *testing.T) {
	r := testRegistry()

	_, ok := r.Lookup("12125551234")
	require.False(t, ok)

	_, ok = r.Lookup("")
	require.False(t, ok)

	_, ok = r.Lookup("12345")
	require.False(t, ok)
}

func TestPrefixKey(t *testing.T) {
	require.Equal(t, "541223", PrefixKey("1 (541) 223-3333"))
	require.Equal(t, "541223", PrefixKey("5412233333"))
	require.Equal(t, "", PrefixKey("911"))
}
