package page

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertListOrderedWalk(t *testing.T) {
	l := &InsertList{}
	keys := [][]byte{[]byte("banana"), []byte("apple"), []byte("cherry"), []byte("date")}
	for _, k := range keys {
		for {
			st, exact := l.Search(k)
			if exact != nil {
				break
			}
			if _, ok := l.InsertCAS(k, st); ok {
				break
			}
		}
	}

	var got []string
	l.Range(func(n *InsertNode) bool {
		got = append(got, string(n.Key))
		return true
	})

	want := []string{"apple", "banana", "cherry", "date"}
	sort.Strings(want)
	require.Equal(t, want, got)
}

func TestInsertListConcurrentInserts(t *testing.T) {
	l := &InsertList{}
	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := RecnoKey(uint64(i))
			for {
				st, exact := l.Search(key)
				if exact != nil {
					return
				}
				if _, ok := l.InsertCAS(key, st); ok {
					return
				}
			}
		}(i)
	}
	wg.Wait()

	count := 0
	var last []byte
	l.Range(func(node *InsertNode) bool {
		if last != nil {
			require.True(t, string(last) < string(node.Key))
		}
		last = node.Key
		count++
		return true
	})
	require.Equal(t, n, count)
}

func TestUpdateChainVisibility(t *testing.T) {
	var chain Chain
	chain.Push(NewUpdate(1, []byte("v1"), false))
	chain.Push(NewUpdate(2, []byte("v2"), false))
	chain.Push(NewUpdate(3, nil, true)) // tombstone

	visibleToAll := func(id uint64) bool { return true }
	u := VisibleTo(chain.Head(), visibleToAll)
	require.NotNil(t, u)
	require.True(t, u.Tombstone)

	onlyTxn1 := func(id uint64) bool { return id == 1 }
	u = VisibleTo(chain.Head(), onlyTxn1)
	require.NotNil(t, u)
	require.Equal(t, "v1", string(u.Value))
}

func TestHazardSetBlocksEviction(t *testing.T) {
	reg := NewRegistry()
	h := reg.Register()
	defer reg.Unregister(h)

	p := NewLeafPage(0)
	release, ok := h.Acquire(p)
	require.True(t, ok)
	require.True(t, reg.InUse(p))

	release()
	require.False(t, reg.InUse(p))
}

func TestPageMarkDirtyIdempotent(t *testing.T) {
	p := NewLeafPage(0)
	require.False(t, p.IsDirty())
	m1 := p.MarkDirty()
	m2 := p.MarkDirty()
	require.Same(t, m1, m2)
	require.True(t, p.IsDirty())
	p.ClearDirty()
	require.False(t, p.IsDirty())
}
