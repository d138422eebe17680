package bimap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveCommit(t *testing.T) {
	ctx := context.Background()
	tbl := NewTable[string, int](4)

	s, err := tbl.Reserve(ctx, "a")
	require.NoError(t, err)

	_, ok := tbl.Load("a")
	assert.False(t, ok, "reserved slot must not be visible")
	assert.True(t, tbl.Contains("a"))
	assert.Equal(t, 0, tbl.Len())

	s.Commit(1)

	v, ok := tbl.Load("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, tbl.Len())

	_, err = tbl.Reserve(ctx, "a")
	assert.ErrorIs(t, err, ErrOccupied)
}

func TestAbandonLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	tbl := NewTable[string, int](4)

	s, err := tbl.Reserve(ctx, "a")
	require.NoError(t, err)
	s.Abandon()
	s.Commit(5)

	assert.False(t, tbl.Contains("a"))
	assert.Equal(t, 0, tbl.Len())

	s, err = tbl.Reserve(ctx, "a")
	require.NoError(t, err)
	s.Commit(2)
}

func TestReserveWaitsForInFlightWriter(t *testing.T) {
	ctx := context.Background()
	tbl := NewTable[string, int](4)

	first, err := tbl.Reserve(ctx, "a")
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		s, err := tbl.Reserve(ctx, "a")
		if err == nil {
			s.Commit(2)
		}
		got <- err
	}()

	select {
	case <-got:
		t.Fatal("second reservation must wait")
	case <-time.After(20 * time.Millisecond):
	}

	first.Abandon()
	require.NoError(t, <-got)

	v, _ := tbl.Load("a")
	assert.Equal(t, 2, v)
}

func TestReserveSeesCommitOfInFlightWriter(t *testing.T) {
	ctx := context.Background()
	tbl := NewTable[string, int](4)

	first, err := tbl.Reserve(ctx, "a")
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		_, err := tbl.Reserve(ctx, "a")
		got <- err
	}()

	time.Sleep(10 * time.Millisecond)
	first.Commit(1)

	assert.ErrorIs(t, <-got, ErrOccupied)
}

func TestReserveHonoursContext(t *testing.T) {
	tbl := NewTable[string, int](4)

	held, err := tbl.Reserve(context.Background(), "a")
	require.NoError(t, err)
	defer held.Abandon()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = tbl.Reserve(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHold(t *testing.T) {
	ctx := context.Background()
	tbl := NewTable[string, int](4)

	_, err := tbl.Hold(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	s, err := tbl.Reserve(ctx, "a")
	require.NoError(t, err)
	s.Commit(7)

	h, err := tbl.Hold(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 7, h.Value())

	v, ok := tbl.Load("a")
	assert.True(t, ok, "held entry stays readable")
	assert.Equal(t, 7, v)

	h.Abandon()
	_, ok = tbl.Load("a")
	assert.True(t, ok)

	h, err = tbl.Hold(ctx, "a")
	require.NoError(t, err)
	h.Delete()

	assert.False(t, tbl.Contains("a"))
	assert.Equal(t, 0, tbl.Len())
}

func TestRangeAndRead(t *testing.T) {
	ctx := context.Background()
	tbl := NewTable[int, int](4)

	for i := 0; i < 10; i++ {
		s, err := tbl.Reserve(ctx, i)
		require.NoError(t, err)
		s.Commit(i * i)
	}
	pending, err := tbl.Reserve(ctx, 100)
	require.NoError(t, err)
	defer pending.Abandon()

	seen := map[int]int{}
	tbl.Range(func(k, v int) bool {
		seen[k] = v
		return true
	})
	assert.Len(t, seen, 10)
	assert.Equal(t, 81, seen[9])

	var got int
	assert.True(t, tbl.Read(3, func(v int) { got = v }))
	assert.Equal(t, 9, got)
	assert.False(t, tbl.Read(100, func(int) { t.Fatal("pending read") }))
}

func TestSealedSlotHoldsReaders(t *testing.T) {
	ctx := context.Background()
	tbl := NewTable[string, int](4)

	s, err := tbl.Reserve(ctx, "a")
	require.NoError(t, err)
	s.Seal()

	got := make(chan int, 1)
	go func() {
		v, _ := tbl.Load("a")
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("read must wait for the sealed slot")
	case <-time.After(20 * time.Millisecond):
	}

	s.Commit(3)
	assert.Equal(t, 3, <-got)

	h, err := tbl.Hold(ctx, "a")
	require.NoError(t, err)
	h.Seal()

	done := make(chan bool, 1)
	go func() {
		done <- tbl.Read("a", func(int) {})
	}()

	select {
	case <-done:
		t.Fatal("read must wait for the sealed slot")
	case <-time.After(20 * time.Millisecond):
	}

	h.Delete()
	assert.False(t, <-done)
}
