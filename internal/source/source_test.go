package source

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/polygon-io/client-go/rest/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"signal-engine/internal/model"
)

var base = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

type fakeKlinesAPI struct {
	pages  [][]*binance.Kline
	errs   []error
	starts []int64
	calls  int
}

func (f *fakeKlinesAPI) NewKlinesService() KlinesService { return &fakeKlines{api: f} }

type fakeKlines struct {
	api   *fakeKlinesAPI
	start int64
}

func (k *fakeKlines) Symbol(string) KlinesService   { return k }
func (k *fakeKlines) Interval(string) KlinesService { return k }
func (k *fakeKlines) EndTime(int64) KlinesService   { return k }
func (k *fakeKlines) Limit(int) KlinesService       { return k }

func (k *fakeKlines) StartTime(s int64) KlinesService {
	k.start = s
	return k
}

func (k *fakeKlines) Do(context.Context) ([]*binance.Kline, error) {
	f := k.api
	f.starts = append(f.starts, k.start)
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if i < len(f.pages) {
		return f.pages[i], err
	}
	return nil, err
}

func kline(i int) *binance.Kline {
	open := base.Add(time.Duration(i) * time.Minute)
	return &binance.Kline{
		OpenTime:  open.UnixMilli(),
		CloseTime: open.Add(time.Minute).UnixMilli() - 1,
		Open:      "100.10",
		High:      "101.00",
		Low:       "99.50",
		Close:     fmt.Sprintf("100.%d", 20+i%10),
		Volume:    "12.6",
	}
}

type SourceTestSuite struct {
	suite.Suite
}

func TestSourceSuite(t *testing.T) {
	suite.Run(t, new(SourceTestSuite))
}

func (s *SourceTestSuite) TestNewUnknownKind() {
	_, err := New("iex", "", false)
	s.Error(err)

	_, err = New(KindPolygon, "", false)
	s.Error(err, "polygon requires an api key")

	src, err := New("BINANCE", "", false)
	s.Require().NoError(err)
	s.Equal(KindBinance, src.Name())
}

func (s *SourceTestSuite) TestCompleteDropsFormingAndOutOfRange() {
	mk := func(i int) model.Bar {
		return model.Bar{PeriodStart: base.Add(time.Duration(i) * time.Minute)}
	}
	bars := []model.Bar{mk(3), mk(-1), mk(0), mk(1), mk(1), mk(2), mk(4)}
	got := complete(bars, base, base.Add(4*time.Minute))

	s.Require().Len(got, 4)
	for i, b := range got {
		s.Equal(base.Add(time.Duration(i)*time.Minute), b.PeriodStart)
	}
}

func (s *SourceTestSuite) TestKlineToBar() {
	b, err := klineToBar(kline(3))
	s.Require().NoError(err)
	s.Equal(base.Add(3*time.Minute), b.PeriodStart)
	s.True(b.Open.Equal(decimal.RequireFromString("100.1")))
	s.Equal("100.23", b.Close.String())
	s.Equal(int64(13), b.Volume)

	bad := kline(0)
	bad.High = "abc"
	_, err = klineToBar(bad)
	s.ErrorIs(err, model.ErrInvalidBar)
}

func (s *SourceTestSuite) TestBinancePaginates() {
	first := make([]*binance.Kline, binancePageLimit)
	for i := range first {
		first[i] = kline(i)
	}
	second := []*binance.Kline{kline(binancePageLimit), kline(binancePageLimit + 1)}
	api := &fakeKlinesAPI{pages: [][]*binance.Kline{first, second}}

	src := NewBinanceWithAPI(api)
	until := base.Add(time.Duration(binancePageLimit+2) * time.Minute)
	bars, err := src.FetchBars(context.Background(), "BTCUSDT", base, until)
	s.Require().NoError(err)

	s.Len(bars, binancePageLimit+2)
	s.Equal(2, api.calls)
	s.Equal(base.Add(binancePageLimit*time.Minute).UnixMilli(), api.starts[1])
}

func (s *SourceTestSuite) TestBinanceErrorClassification() {
	api := &fakeKlinesAPI{errs: []error{&common.APIError{Code: -2015, Message: "Invalid API-key"}}}
	_, err := NewBinanceWithAPI(api).FetchBars(context.Background(), "BTCUSDT", base, base.Add(time.Hour))
	s.ErrorIs(err, model.ErrAuthExpired)
	s.ErrorIs(err, model.ErrTransientFetch)

	api = &fakeKlinesAPI{errs: []error{errors.New("connection reset")}}
	_, err = NewBinanceWithAPI(api).FetchBars(context.Background(), "BTCUSDT", base, base.Add(time.Hour))
	s.ErrorIs(err, model.ErrTransientFetch)
	s.NotErrorIs(err, model.ErrAuthExpired)
}

func (s *SourceTestSuite) TestBinanceEmptyRange() {
	api := &fakeKlinesAPI{}
	bars, err := NewBinanceWithAPI(api).FetchBars(context.Background(), "BTCUSDT", base, base)
	s.NoError(err)
	s.Empty(bars)
	s.Equal(0, api.calls)
}

func (s *SourceTestSuite) TestAggToBar() {
	b, err := aggToBar(models.Agg{
		Timestamp: models.Millis(base.Add(90 * time.Second)),
		Open:      10.5,
		High:      11.25,
		Low:       10,
		Close:     11,
		Volume:    1500.4,
	})
	s.Require().NoError(err)
	s.Equal(base.Add(time.Minute), b.PeriodStart)
	s.Equal("11.25", b.High.String())
	s.Equal(int64(1500), b.Volume)

	_, err = aggToBar(models.Agg{Timestamp: models.Millis(base), Open: 1, High: 0.5, Low: 1, Close: 1})
	s.ErrorIs(err, model.ErrInvalidBar)
}

func (s *SourceTestSuite) TestRegularSessionDropsExtendedHours() {
	var bars []model.Bar
	// 08:00 ET pre-market, 09:29 and 09:30 around the open, 16:00 after close.
	for _, ts := range []time.Time{
		base.Add(-90 * time.Minute),
		base.Add(-time.Minute),
		base,
		base.Add(390 * time.Minute),
	} {
		b, err := aggToBar(models.Agg{Timestamp: models.Millis(ts), Open: 10, High: 11, Low: 9, Close: 10, Volume: 100})
		s.Require().NoError(err)
		bars = append(bars, b)
	}

	got := regularSession(bars)
	s.Require().Len(got, 1)
	s.Equal(base, got[0].PeriodStart)

	src, err := New(KindPolygon, "key", true)
	s.Require().NoError(err)
	s.True(src.(*Polygon).ExtendedHours)
}

func (s *SourceTestSuite) TestPolygonErrorClassification() {
	err := classifyPolygon("AAPL", &models.ErrorResponse{StatusCode: 403})
	s.ErrorIs(err, model.ErrAuthExpired)

	err = classifyPolygon("AAPL", &models.ErrorResponse{StatusCode: 502})
	s.ErrorIs(err, model.ErrTransientFetch)
	s.NotErrorIs(err, model.ErrAuthExpired)
}
