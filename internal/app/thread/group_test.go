package thread

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentchat/internal/domain/chat"
)

func items(times ...time.Time) []Item {
	out := make([]Item, len(times))
	for i, at := range times {
		out[i] = Item{Message: chat.Message{ID: fmt.Sprintf("m%d", i), CreatedAt: at}, Status: chat.StatusSent}
	}
	return out
}

func TestGroupByDay(t *testing.T) {
	day1 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 2, 23, 59, 0, 0, time.UTC)
	groups := GroupByDay(items(day1, day1.Add(time.Hour), day2, day2.Add(30*time.Second)), time.UTC)

	require.Len(t, groups, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), groups[0].Date)
	assert.Len(t, groups[0].Items, 2)
	assert.Len(t, groups[1].Items, 2)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), groups[1].Date)

	// a minute later crosses midnight
	groups = GroupByDay(items(day2, day2.Add(time.Minute)), time.UTC)
	require.Len(t, groups, 2)
	assert.Equal(t, "m1", groups[1].Items[0].ID)
}

func TestGroupByDayUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	// 03:00 UTC is the previous evening at UTC-5
	early := time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC)
	noon := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)

	assert.Len(t, GroupByDay(items(early, noon), time.UTC), 1)
	groups := GroupByDay(items(early, noon), loc)
	require.Len(t, groups, 2)
	assert.Equal(t, 1, groups[0].Date.Day())
	assert.Equal(t, 2, groups[1].Date.Day())
}

func TestGroupByDayEmpty(t *testing.T) {
	assert.Empty(t, GroupByDay(nil, time.UTC))
}

func TestGroupByDayProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for round := 0; round < 50; round++ {
		n := rng.Intn(40)
		times := make([]time.Time, n)
		for i := range times {
			times[i] = start.Add(time.Duration(rng.Int63n(int64(10 * 24 * time.Hour))))
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		in := items(times...)

		groups := GroupByDay(in, time.UTC)

		total := 0
		var flat []Item
		for i, g := range groups {
			total += len(g.Items)
			flat = append(flat, g.Items...)
			if i > 0 {
				require.True(t, g.Date.After(groups[i-1].Date), "dates must strictly increase")
			}
		}
		require.Equal(t, len(in), total)
		if n > 0 {
			require.Equal(t, in, flat)
		}
		require.Equal(t, groups, GroupByDay(in, time.UTC))
	}
}
