package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cmd := &cli.Command{
		Name:  "signalengine",
		Usage: "Multi-timeframe EMA/VWMA/MACD/ROC signal engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file overriding environment defaults",
				Sources: cli.EnvVars("SIGNAL_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides LOG_LEVEL)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Bootstrap every pair, then run the boundary scheduler",
				Action: runAction,
			},
			{
				Name:  "replay",
				Usage: "Rebuild state from stored 1m bars and print positions",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "Only this symbol"},
				},
				Action: replayAction,
			},
			{
				Name:  "export",
				Usage: "Write stored series with their indicators to parquet files",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "data/export", Usage: "Output directory"},
					&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "Only this symbol"},
				},
				Action: exportAction,
			},
			{
				Name:  "status",
				Usage: "Print persisted positions and recent signal events",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "events", Aliases: []string{"n"}, Value: 20, Usage: "Number of events to show"},
				},
				Action: statusAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
