package meta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoPoolGrantsUnboundedQuota(t *testing.T) {
	var p NoPool
	require.Equal(t, int64(-1), p.Register("db1"))
	p.Rebalance() // no-op, must not panic
}
