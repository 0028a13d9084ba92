// Command fcctrack renders the track of a recorded flight as a PNG, or
// lists the recorded flights.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/flight-control/fcc/internal/recorder"
	"github.com/flight-control/fcc/internal/track"
)

type options struct {
	dbPath   string
	flightID string
	output   string
	width    int
	height   int
	list     bool
	verbose  bool
}

func parseFlags() (*options, error) {
	o := &options{}
	flag.StringVar(&o.dbPath, "db", "", "Path to the flight recorder database")
	flag.StringVar(&o.flightID, "f", "", "Flight id (default the latest flight)")
	flag.StringVar(&o.output, "o", "", "Path to the output PNG")
	flag.IntVar(&o.width, "width", 800, "Image width in pixels")
	flag.IntVar(&o.height, "height", 600, "Image height in pixels")
	flag.BoolVar(&o.list, "list", false, "List recorded flights and exit")
	flag.BoolVar(&o.verbose, "verbose", false, "Enable more verbose output")
	flag.Parse()

	var err error
	switch {
	case o.dbPath == "":
		err = errors.New("db path is required")
	case !o.list && o.output == "":
		err = errors.New("output file is required")
	}
	if err != nil {
		flag.Usage()
		return nil, err
	}
	return o, nil
}

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel}))

	o, err := parseFlags()
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	if o.verbose {
		logLevel.Set(slog.LevelDebug)
	}

	if err := run(context.Background(), o, logger); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o *options, logger *slog.Logger) error {
	if _, err := os.Stat(o.dbPath); err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	store := recorder.NewStore(o.dbPath)
	defer store.Close()

	flights, err := store.Flights(ctx)
	if err != nil {
		return err
	}
	if o.list {
		for _, f := range flights {
			outcome := "in progress"
			if f.Outcome != nil {
				outcome = *f.Outcome
			}
			fmt.Printf("%s  %s  %-14s %-12s %s\n", f.ID, f.StartTime.Local().Format(time.DateTime),
				f.Recipe, outcome, humanize.Time(f.StartTime))
		}
		return nil
	}

	id := o.flightID
	if id == "" {
		if len(flights) == 0 {
			return errors.New("no flights recorded")
		}
		id = flights[len(flights)-1].ID
	}
	f, err := store.Flight(ctx, id)
	if err != nil {
		return err
	}

	points, err := store.Track(ctx, id)
	if err != nil {
		return err
	}
	logger.Debug("loaded track", "flight_id", id, "points", len(points))

	out, err := os.Create(o.output)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	title := fmt.Sprintf("%s  %s", f.Recipe, id)
	if f.Outcome != nil {
		title += "  " + *f.Outcome
	}
	if err := track.Encode(out, points, track.Options{Width: o.width, Height: o.height, Title: title}); err != nil {
		out.Close()
		return fmt.Errorf("rendering track: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}

	s := track.Summarize(points)
	logger.Info("track rendered",
		"flight_id", id,
		"output", o.output,
		"points", humanize.Comma(int64(s.Points)),
		"distance", humanize.SIWithDigits(s.Distance, 1, "m"))
	return nil
}
