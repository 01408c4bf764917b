package billing

import (
	"sort"
	"time"
)

// SubPeriod is a maximal slice [Start, End) of a dwell priced by one tariff rate.
type SubPeriod struct {
	Start  time.Time
	End    time.Time
	Tariff Tariff
	Rate   TariffRate
}

// Days returns the number of calendar days in the sub-period.
func (p SubPeriod) Days() int { return DaysBetween(p.Start, p.End) }

// SplitDwell partitions [start, end) at every tariff change-point of the book and
// at every extra cut (e.g. month starts). Each slice is resolved independently;
// neighbours resolving to the same tariff rate are merged unless an extra cut
// separates them. A zero-length dwell yields one zero-day sub-period.
func SplitDwell(book *TariffBook, start, end time.Time, size ContainerSize, status ContainerStatus, cuts ...time.Time) ([]SubPeriod, error) {
	start, end = DateOf(start), DateOf(end)
	if start.IsZero() || end.Before(start) {
		return nil, ErrInvalidDwell
	}

	forced := make(map[time.Time]struct{}, len(cuts))
	points := book.ChangePoints(start, end)
	for _, c := range cuts {
		c = DateOf(c)
		if c.After(start) && c.Before(end) {
			forced[c] = struct{}{}
			points = append(points, c)
		}
	}
	points = uniqueSorted(points)

	bounds := make([]time.Time, 0, len(points)+2)
	bounds = append(bounds, start)
	bounds = append(bounds, points...)
	bounds = append(bounds, end)

	if start.Equal(end) {
		tariff, rate, err := book.ResolveRate(start, size, status)
		if err != nil {
			return nil, err
		}
		return []SubPeriod{{Start: start, End: end, Tariff: tariff, Rate: rate}}, nil
	}

	periods := make([]SubPeriod, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		from, to := bounds[i], bounds[i+1]
		tariff, rate, err := book.ResolveRate(from, size, status)
		if err != nil {
			return nil, err
		}
		if n := len(periods); n > 0 {
			last := &periods[n-1]
			_, cut := forced[from]
			if !cut && last.Tariff.ID == tariff.ID && last.Rate.ID == rate.ID {
				last.End = to
				continue
			}
		}
		periods = append(periods, SubPeriod{Start: from, End: to, Tariff: tariff, Rate: rate})
	}
	return periods, nil
}

func uniqueSorted(points []time.Time) []time.Time {
	if len(points) < 2 {
		return points
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })
	out := points[:1]
	for _, p := range points[1:] {
		if !p.Equal(out[len(out)-1]) {
			out = append(out, p)
		}
	}
	return out
}
