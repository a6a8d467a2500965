package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"signal-engine/internal/export"
	"signal-engine/internal/model"
	"signal-engine/internal/pipeline"
	sqlitestore "signal-engine/internal/store/sqlite"
)

// offlineSource backs workers that only replay stored bars.
type offlineSource struct{}

func (offlineSource) Name() string { return "offline" }

func (offlineSource) FetchBars(context.Context, string, time.Time, time.Time) ([]model.Bar, error) {
	return nil, fmt.Errorf("offline: %w", model.ErrTransientFetch)
}

func symbolFilter(cmd *cli.Command) func(model.SeriesKey) bool {
	sym := strings.ToUpper(cmd.String("symbol"))
	return func(k model.SeriesKey) bool { return sym == "" || k.Symbol == sym }
}

// replayAction rebuilds every configured pair from stored 1m bars and
// compares the result with the persisted positions.
func replayAction(ctx context.Context, cmd *cli.Command) error {
	cfg, tfs, err := loadConfig(cmd, "signalengine-replay")
	if err != nil {
		return err
	}
	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	stored, err := reader.ReadPositions(ctx)
	if err != nil {
		return err
	}
	byKey := make(map[model.SeriesKey]model.Position, len(stored))
	for _, p := range stored {
		byKey[p.Key] = p
	}

	keep := symbolFilter(cmd)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIES\tBARS\tSTATUS\tOPEN\tTRADES\tTOTAL_PNL\tSTORED")
	for _, sym := range cfg.Symbols {
		for _, tf := range tfs {
			key := model.SeriesKey{Symbol: sym, Timeframe: tf, Direction: model.Regular}
			if !keep(key) {
				continue
			}
			w, err := pipeline.NewWorker(workerConfig(cfg, sym, tf), pipeline.Deps{Source: offlineSource{}})
			if err != nil {
				return err
			}
			bars, err := reader.ReadBars(ctx, model.SeriesKey{Symbol: sym, Timeframe: model.Base, Direction: model.Regular}, time.Time{})
			if err != nil {
				return err
			}
			res, err := w.Replay(ctx, bars)
			if err != nil {
				return fmt.Errorf("%s: %w", w.Pair(), err)
			}
			for _, p := range w.Positions() {
				match := "-"
				if s, ok := byKey[p.Key]; ok {
					match = "differs"
					if s.Equal(p) {
						match = "match"
					}
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
					p.Key, res.Emitted, p.Status, model.ValueString(p.OpenPrice), p.Trades, p.TotalPnL.StringFixed(2), match)
			}
		}
	}
	return tw.Flush()
}

func exportAction(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := loadConfig(cmd, "signalengine-export")
	if err != nil {
		return err
	}
	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	paths, err := export.ParquetExporter{}.ExportStore(ctx, reader, cmd.String("out"), symbolFilter(cmd))
	if err != nil {
		return err
	}
	log.Printf("[export] %d files written to %s", len(paths), cmd.String("out"))
	return nil
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := loadConfig(cmd, "signalengine-status")
	if err != nil {
		return err
	}
	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	positions, err := reader.ReadPositions(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIES\tSTATUS\tOPEN\tSINCE\tTRADES\tTOTAL_PNL\tUPDATED")
	for _, p := range positions {
		since := "-"
		if p.OpenTime.IsSome() {
			since = p.OpenTime.Unwrap().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", p.Key, p.Status, model.ValueString(p.OpenPrice),
			since, p.Trades, p.TotalPnL.StringFixed(2), p.UpdatedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	events, err := reader.ReadEvents(ctx, "", int(cmd.Int("events")))
	if err != nil {
		return err
	}
	fmt.Println()
	tw = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSERIES\tACTION\tPRICE\tPNL\tBOOTSTRAP")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%v\n", ev.Time.Format(time.RFC3339), ev.Key, ev.Action,
			ev.Price.String(), model.ValueString(ev.PnL), ev.Bootstrap)
	}
	return tw.Flush()
}
