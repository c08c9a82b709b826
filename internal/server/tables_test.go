package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena-server/internal/game"
)

func TestFindPair(t *testing.T) {
	tests := []struct {
		name   string
		levels []int
		gap    int
		i, j   int
		ok     bool
	}{
		{"empty", nil, 1, 0, 0, false},
		{"single", []int{3}, 1, 0, 0, false},
		{"equal levels", []int{2, 2}, 1, 0, 1, true},
		{"gap of one", []int{2, 3}, 1, 0, 1, true},
		{"too far apart", []int{1, 3}, 1, 0, 0, false},
		{"first fit skips head", []int{1, 3, 4}, 1, 1, 2, true},
		{"head pairs with later entry", []int{5, 1, 4}, 1, 0, 2, true},
		{"zero gap", []int{1, 2, 2}, 0, 1, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := make([]WaitingEntry, len(tt.levels))
			for k, l := range tt.levels {
				entries[k] = WaitingEntry{ConnID: string(rune('a' + k)), Level: l}
			}
			i, j, ok := FindPair(entries, tt.gap)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.i, i)
				assert.Equal(t, tt.j, j)
			}
		})
	}
}

func TestWaitingQueue(t *testing.T) {
	q := NewWaitingQueue()
	assert.True(t, q.Enqueue(WaitingEntry{ConnID: "a", Level: 1}))
	assert.False(t, q.Enqueue(WaitingEntry{ConnID: "a", Level: 1}), "duplicate entries are rejected")
	assert.True(t, q.Enqueue(WaitingEntry{ConnID: "b", Level: 4}))
	assert.True(t, q.Enqueue(WaitingEntry{ConnID: "c", Level: 2}))

	a, c, ok := q.TakePair(1)
	require.True(t, ok)
	assert.Equal(t, "a", a.ConnID)
	assert.Equal(t, "c", c.ConnID)
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.Contains("b"))

	_, _, ok = q.TakePair(1)
	assert.False(t, ok)

	assert.True(t, q.Remove("b"))
	assert.False(t, q.Remove("b"))
	assert.Equal(t, 0, q.Len())
}

func TestModifierTableCap(t *testing.T) {
	mt := NewModifierTable()

	var wg sync.WaitGroup
	var mu sync.Mutex
	added := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := game.Modifier{SessionID: "s1", Position: game.Position{X: 100 + i, Y: 100}, Kind: game.SpeedUp}
			if mt.Add(m, game.MaxModifiersPerKind) {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, game.MaxModifiersPerKind, added)
	assert.Equal(t, game.MaxModifiersPerKind, mt.Counts("s1")[game.SpeedUp])
}

func TestModifierTableRemoveAndDeleteSession(t *testing.T) {
	mt := NewModifierTable()
	pos := game.Position{X: 70, Y: 80}

	require.True(t, mt.Add(game.Modifier{SessionID: "s1", Position: pos, Kind: game.CooldownUp}, 3))
	assert.False(t, mt.Add(game.Modifier{SessionID: "s1", Position: pos, Kind: game.SpeedUp}, 3), "position already taken")
	require.True(t, mt.Add(game.Modifier{SessionID: "s1", Position: game.Position{X: 1, Y: 1}, Kind: game.SpeedUp}, 3))
	require.True(t, mt.Add(game.Modifier{SessionID: "s2", Position: pos, Kind: game.SpeedUp}, 3))
	assert.Equal(t, 3, mt.Total())

	m, ok := mt.Remove("s1", pos)
	require.True(t, ok)
	assert.Equal(t, game.CooldownUp, m.Kind)
	_, ok = mt.Remove("s1", pos)
	assert.False(t, ok)

	assert.Equal(t, 1, mt.DeleteSession("s1"))
	assert.Equal(t, 0, mt.DeleteSession("s1"))
	assert.Empty(t, mt.Counts("s1"))
	assert.Equal(t, 1, mt.Counts("s2")[game.SpeedUp])
}

func TestPresenceLinking(t *testing.T) {
	p := &Presence{ConnID: "c1", Username: "u"}
	assert.True(t, p.link("s1"))
	assert.False(t, p.link("s2"), "already in a session")
	p.unlink("s2")
	assert.Equal(t, "s1", p.SessionID())
	p.unlink("s1")
	assert.Equal(t, "", p.SessionID())

	assert.True(t, p.link("s3"))
	assert.Equal(t, "s3", p.leave())
	assert.False(t, p.link("s4"), "gone presences cannot be linked")
}

func TestResolveSlot(t *testing.T) {
	sess, err := newSession(WaitingEntry{ConnID: "c1", Username: "a"}, WaitingEntry{ConnID: "c2", Username: "b"})
	require.NoError(t, err)

	assert.Equal(t, 0, sess.ResolveSlot("player1"))
	assert.Equal(t, 1, sess.ResolveSlot("player2"))
	assert.Equal(t, 0, sess.ResolveSlot("c1"))
	assert.Equal(t, 1, sess.ResolveSlot("c2"))
	assert.Equal(t, -1, sess.ResolveSlot("c3"))
}

func TestSessionIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		sess, err := newSession(WaitingEntry{ConnID: "a"}, WaitingEntry{ConnID: "b"})
		require.NoError(t, err)
		require.False(t, seen[sess.ID])
		seen[sess.ID] = true
	}
}
