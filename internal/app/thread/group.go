package thread

import "time"

// DayGroup is a contiguous run of items sharing a calendar date.
type DayGroup struct {
	// Date is local midnight of the run's day.
	Date  time.Time
	Items []Item
}

// GroupByDay splits items, already in ascending creation order, into runs
// of the same calendar date in loc. The result is a fresh slice; items is
// not modified.
func GroupByDay(items []Item, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}
	var groups []DayGroup
	for _, item := range items {
		day := dayOf(item.CreatedAt, loc)
		if n := len(groups); n > 0 && groups[n-1].Date.Equal(day) {
			groups[n-1].Items = append(groups[n-1].Items, item)
			continue
		}
		groups = append(groups, DayGroup{Date: day, Items: []Item{item}})
	}
	return groups
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
