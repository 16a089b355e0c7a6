package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendLimitPositiveCap(t *testing.T) {
	query, args := appendLimit("SELECT DISTINCT callid FROM acc", nil, 500)
	require.Equal(t, "SELECT DISTINCT callid FROM acc LIMIT ?", query)
	require.Equal(t, []interface{}{500}, args)
}

func TestAppendLimitZeroMeansUnlimited(t *testing.T) {
	// The default configuration carries limit 0; it must select everything
	// in the window, not bind LIMIT 0 and select nothing.
	query, args := appendLimit("SELECT DISTINCT callid FROM acc", nil, 0)
	require.Equal(t, "SELECT DISTINCT callid FROM acc", query)
	require.Empty(t, args)
}

func TestAppendLimitNegativeMeansUnlimited(t *testing.T) {
	query, args := appendLimit("SELECT DISTINCT callid FROM acc", []interface{}{"a22"}, -1)
	require.Equal(t, "SELECT DISTINCT callid FROM acc", query)
	require.Equal(t, []interface{}{"a22"}, args)
}
