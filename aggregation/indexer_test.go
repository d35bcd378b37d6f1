package aggregation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AllieRays/redis-wellness/db"
)

func newIndexerUnderTest(t *testing.T) (*Indexer, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := db.NewClient(context.Background(), db.Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewIndexer(client, Config{TTL: 24 * time.Hour}), mr
}

// weekItems builds the canonical test fixture: 7 workouts across one week,
// 3 on Monday and 4 on Friday.
func weekItems(weekStart time.Time) []Item {
	var items []Item
	add := func(day time.Duration, label, clock string, n int) {
		ts := weekStart.Add(day * 24 * time.Hour)
		items = append(items, Item{
			ID:          ItemID(ts.Format("2006-01-02"), "strength", clock),
			Timestamp:   ts.Add(time.Duration(n) * time.Hour),
			BucketLabel: label,
			Fields: map[string]string{
				"type":    "strength",
				"minutes": fmt.Sprintf("%d", 30+n),
			},
		})
	}
	add(0, "Mon", "06:00:00", 0)
	add(0, "Mon", "12:00:00", 1)
	add(0, "Mon", "18:00:00", 2)
	add(4, "Fri", "06:00:00", 0)
	add(4, "Fri", "09:00:00", 1)
	add(4, "Fri", "12:00:00", 2)
	add(4, "Fri", "15:00:00", 3)
	return items
}

// TestRebuildAndCounts covers the import scenario: 7 items distributed
// 3 Mon / 4 Fri.
func TestRebuildAndCounts(t *testing.T) {
	ix, _ := newIndexerUnderTest(t)
	ctx := context.Background()

	weekStart := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC) // a Monday
	items := weekItems(weekStart)
	require.NoError(t, ix.Rebuild(ctx, "u1", items))

	counts, err := ix.CountsByBucket(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Mon": 3, "Fri": 4}, counts)

	ids, err := ix.IDsInRange(ctx, "u1", weekStart, weekStart.Add(7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, ids, 7)

	// Ascending timestamp order.
	expected := make([]string, len(items))
	for i, it := range items {
		expected[i] = it.ID
	}
	assert.Equal(t, expected, ids)

	n, err := ix.ItemCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestRebuildIsIdempotent(t *testing.T) {
	ix, mr := newIndexerUnderTest(t)
	ctx := context.Background()

	weekStart := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	items := weekItems(weekStart)

	require.NoError(t, ix.Rebuild(ctx, "u1", items))
	first, err := ix.CountsByBucket(ctx, "u1")
	require.NoError(t, err)

	// Rebuilding from the same input must not double-count.
	require.NoError(t, ix.Rebuild(ctx, "u1", items))
	second, err := ix.CountsByBucket(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ids, err := ix.IDsInRange(ctx, "u1", weekStart, weekStart.Add(7*24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, ids, 7)

	// Every projection key carries the TTL.
	assert.Greater(t, mr.TTL("agg:u1:days"), time.Duration(0))
	assert.Greater(t, mr.TTL("agg:u1:by_date"), time.Duration(0))
	assert.Greater(t, mr.TTL("agg:u1:item:"+items[0].ID), time.Duration(0))
}

func TestItemDetails(t *testing.T) {
	ix, _ := newIndexerUnderTest(t)
	ctx := context.Background()

	weekStart := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	items := weekItems(weekStart)
	require.NoError(t, ix.Rebuild(ctx, "u1", items))

	fields, err := ix.Item(ctx, "u1", items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "strength", fields["type"])
	assert.Equal(t, "30", fields["minutes"])

	t.Run("missing item yields empty map", func(t *testing.T) {
		fields, err := ix.Item(ctx, "u1", "nope")
		require.NoError(t, err)
		assert.Empty(t, fields)
	})
}

func TestIDsInRangeWindow(t *testing.T) {
	ix, _ := newIndexerUnderTest(t)
	ctx := context.Background()

	weekStart := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	require.NoError(t, ix.Rebuild(ctx, "u1", weekItems(weekStart)))

	// Only Monday falls inside the first day.
	ids, err := ix.IDsInRange(ctx, "u1", weekStart, weekStart.Add(24*time.Hour-time.Second))
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestItemIDDisambiguatesSameDay(t *testing.T) {
	a := ItemID("2024-03-04", "run", "07:30:00")
	b := ItemID("2024-03-04", "run", "18:00:00")
	c := ItemID("2024-03-04", "yoga", "07:30:00")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "2024-03-04-run-07:30:00", a)
}

func TestClear(t *testing.T) {
	ix, mr := newIndexerUnderTest(t)
	ctx := context.Background()

	weekStart := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	require.NoError(t, ix.Rebuild(ctx, "u1", weekItems(weekStart)))
	require.NoError(t, ix.Clear(ctx, "u1"))

	counts, err := ix.CountsByBucket(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, counts)
	assert.False(t, mr.Exists("agg:u1:by_date"))
}
