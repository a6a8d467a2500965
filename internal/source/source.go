// Package source adapts market data vendors to model.BarSource.
package source

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"signal-engine/internal/model"
)

// Kinds accepted by New.
const (
	KindPolygon = "polygon"
	KindBinance = "binance"
)

// New builds the bar source named by kind. extendedHours only applies to
// equity vendors; crypto klines trade around the clock.
func New(kind, apiKey string, extendedHours bool) (model.BarSource, error) {
	switch strings.ToLower(kind) {
	case KindPolygon:
		p, err := NewPolygon(apiKey)
		if err != nil {
			return nil, err
		}
		p.ExtendedHours = extendedHours
		return p, nil
	case KindBinance:
		return NewBinance(), nil
	default:
		return nil, fmt.Errorf("unknown bar source %q", kind)
	}
}

// complete keeps bars whose whole minute lies in [since, until), sorted
// ascending with duplicates dropped. Vendors return the forming minute
// alongside closed ones.
func complete(bars []model.Bar, since, until time.Time) []model.Bar {
	out := bars[:0]
	for _, b := range bars {
		if b.PeriodStart.Before(since) || b.PeriodStart.Add(time.Minute).After(until) {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })

	dedup := out[:0]
	for i, b := range out {
		if i > 0 && b.PeriodStart.Equal(dedup[len(dedup)-1].PeriodStart) {
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}

func fetchErr(vendor, symbol string, kind, err error) error {
	return fmt.Errorf("%s %s: %w: %v", vendor, symbol, kind, err)
}
