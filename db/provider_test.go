package db

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both persistent-capable backends must behave identically through the
// provider interface, so the same suite runs against each.
func testProviders(t *testing.T) map[string]IterableProvider {
	t.Helper()

	bolt, err := NewBoltProvider(filepath.Join(t.TempDir(), "bankd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	return map[string]IterableProvider{
		"memory": NewMemoryProvider(),
		"bolt":   bolt,
	}
}

func TestProviderGetPutDelete(t *testing.T) {
	for name, provider := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			missing, err := provider.Get([]byte("nope"))
			require.NoError(t, err)
			assert.Nil(t, missing, "missing keys return nil, not an error")

			require.NoError(t, provider.Put([]byte("k"), []byte("v")))
			got, err := provider.Get([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)

			has, err := provider.Has([]byte("k"))
			require.NoError(t, err)
			assert.True(t, has)

			require.NoError(t, provider.Delete([]byte("k")))
			got, err = provider.Get([]byte("k"))
			require.NoError(t, err)
			assert.Nil(t, got)

			// Deleting an absent key is not an error.
			assert.NoError(t, provider.Delete([]byte("k")))
		})
	}
}

func TestProviderIteratePrefix(t *testing.T) {
	for name, provider := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				key := fmt.Sprintf("event:%020d", i)
				require.NoError(t, provider.Put([]byte(key), []byte{byte(i)}))
			}
			require.NoError(t, provider.Put([]byte("account:1"), []byte("x")))

			var got []byte
			err := provider.IteratePrefix([]byte("event:"), func(key, value []byte) bool {
				got = append(got, value[0])
				return true
			})
			require.NoError(t, err)
			assert.Equal(t, []byte{0, 1, 2, 3, 4}, got, "iteration is ascending and prefix-scoped")

			// Returning false stops the walk early.
			count := 0
			err = provider.IteratePrefix([]byte("event:"), func(key, value []byte) bool {
				count++
				return count < 2
			})
			require.NoError(t, err)
			assert.Equal(t, 2, count)
		})
	}
}

func TestProviderBatchIsAtomicallyVisible(t *testing.T) {
	for name, provider := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, provider.Put([]byte("stale"), []byte("x")))

			batch := provider.Batch()
			batch.Put([]byte("a"), []byte("1"))
			batch.Put([]byte("b"), []byte("2"))
			batch.Delete([]byte("stale"))
			require.NoError(t, batch.Write())
			batch.Close()

			a, err := provider.Get([]byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), a)
			stale, err := provider.Get([]byte("stale"))
			require.NoError(t, err)
			assert.Nil(t, stale)
		})
	}
}

func TestFactoryRejectsUnknownBackend(t *testing.T) {
	_, err := NewProvider("cassandra", t.TempDir(), "")
	assert.Error(t, err)
}

func TestFactoryMemoryBackend(t *testing.T) {
	provider, err := NewProvider("memory", "", "")
	require.NoError(t, err)
	assert.NoError(t, provider.Put([]byte("k"), []byte("v")))
}
