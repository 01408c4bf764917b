package billing

import (
	"sort"
	"time"
)

// TariffBook holds the tariffs visible to one company: its special tariffs and
// the general ones. It resolves which tariff applies on a date.
type TariffBook struct {
	companyID string
	special   []Tariff
	general   []Tariff
}

// NewTariffBook filters tariffs down to the company's special set and the general set.
func NewTariffBook(companyID string, tariffs []Tariff) *TariffBook {
	book := &TariffBook{companyID: companyID}
	for _, t := range tariffs {
		switch {
		case t.IsGeneral():
			book.general = append(book.general, t)
		case t.CompanyID == companyID:
			book.special = append(book.special, t)
		}
	}
	return book
}

// CompanyID returns the company the book was built for.
func (b *TariffBook) CompanyID() string { return b.companyID }

// Resolve returns the tariff applicable on day. A covering special tariff beats
// the general one; among several covering tariffs of one scope the latest
// effective_from wins, then the greatest id.
func (b *TariffBook) Resolve(day time.Time) (Tariff, error) {
	day = DateOf(day)
	if best, ok := latestCovering(b.special, day); ok {
		return best, nil
	}
	if best, ok := latestCovering(b.general, day); ok {
		return best, nil
	}
	return Tariff{}, &TariffNotFoundError{CompanyID: b.companyID, Date: day}
}

// ResolveRate resolves the tariff on day and the rate for (size, status).
func (b *TariffBook) ResolveRate(day time.Time, size ContainerSize, status ContainerStatus) (Tariff, TariffRate, error) {
	tariff, err := b.Resolve(day)
	if err != nil {
		return Tariff{}, TariffRate{}, err
	}
	rate, err := tariff.RateFor(size, status)
	if err != nil {
		return Tariff{}, TariffRate{}, err
	}
	return tariff, rate, nil
}

// ChangePoints returns the sorted dates strictly inside (from, to) on which any
// tariff of the book starts or stops applying.
func (b *TariffBook) ChangePoints(from, to time.Time) []time.Time {
	from, to = DateOf(from), DateOf(to)
	set := make(map[time.Time]struct{})
	collect := func(tariffs []Tariff) {
		for _, t := range tariffs {
			for _, p := range t.boundaries() {
				if p.After(from) && p.Before(to) {
					set[p] = struct{}{}
				}
			}
		}
	}
	collect(b.special)
	collect(b.general)

	points := make([]time.Time, 0, len(set))
	for p := range set {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })
	return points
}

func latestCovering(tariffs []Tariff, day time.Time) (Tariff, bool) {
	var best Tariff
	found := false
	for _, t := range tariffs {
		if !t.Covers(day) {
			continue
		}
		if !found || newer(t, best) {
			best = t
			found = true
		}
	}
	return best, found
}

func newer(a, b Tariff) bool {
	af, bf := DateOf(a.EffectiveFrom), DateOf(b.EffectiveFrom)
	if !af.Equal(bf) {
		return af.After(bf)
	}
	return a.ID > b.ID
}
