package hms

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerResumeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.h5")

	ledger, err := OpenLedger(path, "zstd")
	require.NoError(t, err)

	require.NoError(t, ledger.Mark(1, 2, 0))
	require.NoError(t, ledger.Mark(3, 4, 1))
	require.NoError(t, ledger.Close())

	resumed, err := OpenLedger(path, "zstd")
	require.NoError(t, err)
	defer resumed.Close()

	assert.True(t, resumed.Has(1, 2, 0))
	assert.True(t, resumed.Has(3, 4, 1))
	assert.False(t, resumed.Has(5, 6, 0))
}

func TestLedgerCompressionChoices(t *testing.T) {
	for _, compression := range []string{"zstd", "gzip", "lz4", ""} {
		path := filepath.Join(t.TempDir(), "cube.h5")

		ledger, err := OpenLedger(path, compression)
		require.NoError(t, err, compression)

		require.NoError(t, ledger.Mark(7, 8, 2))
		assert.True(t, ledger.Has(7, 8, 2))
		require.NoError(t, ledger.Close())
	}
}
