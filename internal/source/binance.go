package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"signal-engine/internal/model"
)

// Binance rejects more than this many klines per request.
const binancePageLimit = 1000

// Binance error codes for rejected or missing credentials.
var binanceAuthCodes = map[int64]bool{-1002: true, -1022: true, -2014: true, -2015: true}

// KlinesService is the subset of *binance.KlinesService used here.
type KlinesService interface {
	Symbol(symbol string) KlinesService
	Interval(interval string) KlinesService
	StartTime(startTime int64) KlinesService
	EndTime(endTime int64) KlinesService
	Limit(limit int) KlinesService
	Do(ctx context.Context) ([]*binance.Kline, error)
}

// KlinesAPI creates kline requests.
type KlinesAPI interface {
	NewKlinesService() KlinesService
}

// Binance fetches 1m klines from the public Binance spot API.
type Binance struct {
	api KlinesAPI
}

// NewBinance creates a Binance source backed by the real client.
// Klines are public market data, so no credentials are needed.
func NewBinance() *Binance {
	return &Binance{api: binanceAPI{c: binance.NewClient("", "")}}
}

// NewBinanceWithAPI creates a Binance source with a custom API (tests).
func NewBinanceWithAPI(api KlinesAPI) *Binance {
	return &Binance{api: api}
}

// Name implements model.BarSource.
func (b *Binance) Name() string { return KindBinance }

// FetchBars implements model.BarSource. Pages through the range by
// advancing past the close time of the last kline received.
func (b *Binance) FetchBars(ctx context.Context, symbol string, since, until time.Time) ([]model.Bar, error) {
	var bars []model.Bar
	start := since.UnixMilli()
	end := until.UnixMilli() - 1

	for start <= end {
		klines, err := b.api.NewKlinesService().
			Symbol(symbol).
			Interval("1m").
			StartTime(start).
			EndTime(end).
			Limit(binancePageLimit).
			Do(ctx)
		if err != nil {
			return nil, classifyBinance(symbol, err)
		}

		for _, k := range klines {
			bar, err := klineToBar(k)
			if err != nil {
				return nil, fmt.Errorf("binance %s: %w", symbol, err)
			}
			bars = append(bars, bar)
		}

		if len(klines) < binancePageLimit {
			break
		}
		next := klines[len(klines)-1].CloseTime + 1
		if next <= start {
			break
		}
		start = next
	}
	return complete(bars, since, until), nil
}

func klineToBar(k *binance.Kline) (model.Bar, error) {
	var (
		b   = model.Bar{PeriodStart: time.UnixMilli(k.OpenTime).UTC()}
		err error
	)
	fields := []struct {
		dst *decimal.Decimal
		src string
	}{{&b.Open, k.Open}, {&b.High, k.High}, {&b.Low, k.Low}, {&b.Close, k.Close}}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return model.Bar{}, fmt.Errorf("%w: kline %d: %v", model.ErrInvalidBar, k.OpenTime, err)
		}
	}
	vol, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return model.Bar{}, fmt.Errorf("%w: kline %d volume: %v", model.ErrInvalidBar, k.OpenTime, err)
	}
	b.Volume = vol.Round(0).IntPart()
	return b, b.Validate()
}

func classifyBinance(symbol string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && binanceAuthCodes[apiErr.Code] {
		return fetchErr(KindBinance, symbol, model.ErrAuthExpired, err)
	}
	return fetchErr(KindBinance, symbol, model.ErrTransientFetch, err)
}

// binanceAPI adapts *binance.Client to KlinesAPI.
type binanceAPI struct {
	c *binance.Client
}

func (a binanceAPI) NewKlinesService() KlinesService {
	return &klinesService{s: a.c.NewKlinesService()}
}

type klinesService struct {
	s *binance.KlinesService
}

func (k *klinesService) Symbol(symbol string) KlinesService {
	k.s.Symbol(symbol)
	return k
}

func (k *klinesService) Interval(interval string) KlinesService {
	k.s.Interval(interval)
	return k
}

func (k *klinesService) StartTime(startTime int64) KlinesService {
	k.s.StartTime(startTime)
	return k
}

func (k *klinesService) EndTime(endTime int64) KlinesService {
	k.s.EndTime(endTime)
	return k
}

func (k *klinesService) Limit(limit int) KlinesService {
	k.s.Limit(limit)
	return k
}

func (k *klinesService) Do(ctx context.Context) ([]*binance.Kline, error) {
	return k.s.Do(ctx)
}
