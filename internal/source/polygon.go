package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	"github.com/shopspring/decimal"

	"signal-engine/internal/markethours"
	"signal-engine/internal/model"
)

const polygonPageLimit = 50000

// Polygon fetches minute aggregates from the Polygon.io REST API.
type Polygon struct {
	client *polygon.Client

	// ExtendedHours keeps pre-market and after-hours minutes. By default
	// only regular-session bars are returned.
	ExtendedHours bool
}

// NewPolygon creates a Polygon source. The API key is required.
func NewPolygon(apiKey string) (*Polygon, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("polygon: apiKey is required")
	}
	return &Polygon{client: polygon.New(apiKey)}, nil
}

// Name implements model.BarSource.
func (p *Polygon) Name() string { return KindPolygon }

// FetchBars implements model.BarSource.
func (p *Polygon) FetchBars(ctx context.Context, symbol string, since, until time.Time) ([]model.Bar, error) {
	if !since.Before(until) {
		return nil, nil
	}

	//nolint:exhaustruct // third-party struct with many optional fields
	params := models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: 1,
		Timespan:   models.Minute,
		From:       models.Millis(since),
		To:         models.Millis(until.Add(-time.Minute)),
	}.WithLimit(polygonPageLimit)

	var bars []model.Bar
	iter := p.client.ListAggs(ctx, params)
	for iter.Next() {
		b, err := aggToBar(iter.Item())
		if err != nil {
			// A malformed vendor row is skipped; the series will see a hole
			// and backfill it next cycle.
			continue
		}
		bars = append(bars, b)
	}
	if err := iter.Err(); err != nil {
		return nil, classifyPolygon(symbol, err)
	}
	bars = complete(bars, since, until)
	if !p.ExtendedHours {
		bars = regularSession(bars)
	}
	return bars, nil
}

// regularSession drops bars that start outside the NYSE regular session.
func regularSession(bars []model.Bar) []model.Bar {
	out := bars[:0]
	for _, b := range bars {
		if markethours.IsMarketOpen(b.PeriodStart) {
			out = append(out, b)
		}
	}
	return out
}

func aggToBar(a models.Agg) (model.Bar, error) {
	b := model.Bar{
		PeriodStart: time.Time(a.Timestamp).UTC().Truncate(time.Minute),
		Open:        decimal.NewFromFloat(a.Open),
		High:        decimal.NewFromFloat(a.High),
		Low:         decimal.NewFromFloat(a.Low),
		Close:       decimal.NewFromFloat(a.Close),
		Volume:      int64(math.Round(a.Volume)),
	}
	return b, b.Validate()
}

func classifyPolygon(symbol string, err error) error {
	var resp *models.ErrorResponse
	if errors.As(err, &resp) && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return fetchErr(KindPolygon, symbol, model.ErrAuthExpired, err)
	}
	return fetchErr(KindPolygon, symbol, model.ErrTransientFetch, err)
}
