package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetPutDel(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get(NamespaceCameras, "C1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(NamespaceCameras, "C1", []byte("hello")))
	v, err := s.Get(NamespaceCameras, "C1")
	require.NoError(t, err)
	require.Equal(t, "hello", string(v))

	require.NoError(t, s.Del(NamespaceCameras, "C1"))
	_, err = s.Get(NamespaceCameras, "C1")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is idempotent, not an error.
	require.NoError(t, s.Del(NamespaceCameras, "C1"))
}

func seedMovements(t *testing.T, s *Store, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, s.Put(NamespaceMovements, k, []byte(k)))
	}
}

func TestIterateForwardBounds(t *testing.T) {
	s := openTestStore(t)
	seedMovements(t, s, "000000000100", "000000000200", "000000000300", "000000000400")

	var got []string
	err := s.Iterate(NamespaceMovements, IterOpts{Gte: "000000000200", Lte: "000000000300"}, func(e Entry) error {
		got = append(got, e.Key)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"000000000200", "000000000300"}, got)
}

func TestIterateReverseWithLimit(t *testing.T) {
	s := openTestStore(t)
	seedMovements(t, s, "000000000100", "000000000200", "000000000300", "000000000400")

	var got []string
	err := s.Iterate(NamespaceMovements, IterOpts{Reverse: true, Lt: "000000000400", Limit: 2}, func(e Entry) error {
		got = append(got, e.Key)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"000000000300", "000000000200"}, got)
}

func TestBatchAtomicDelete(t *testing.T) {
	s := openTestStore(t)
	seedMovements(t, s, "A", "B", "C")

	err := s.Batch([]Op{
		{Namespace: NamespaceMovements, Key: "A", Delete: true},
		{Namespace: NamespaceMovements, Key: "C", Delete: true},
	})
	require.NoError(t, err)

	_, err = s.Get(NamespaceMovements, "A")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(NamespaceMovements, "C")
	require.ErrorIs(t, err, ErrNotFound)
	v, err := s.Get(NamespaceMovements, "B")
	require.NoError(t, err)
	require.Equal(t, "B", string(v))
}
