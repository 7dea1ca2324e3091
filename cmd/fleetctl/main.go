// Command fleetctl watches a dashboard server's printers or activity log over the change feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"printfleet/dashboard-server/internal/feed/wsfeed"
	"printfleet/dashboard-server/internal/fleet"
	"printfleet/dashboard-server/internal/live"
	"printfleet/dashboard-server/internal/model"
	"printfleet/dashboard-server/internal/view"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: fleetctl [flags] printers|logs\n\n")
	flag.PrintDefaults()
}

func main() {
	feedURL := flag.String("url", "ws://localhost:8080/ws/feed", "Change feed endpoint of the dashboard server")
	apiKey := flag.String("key", os.Getenv("PRINTFLEET_API_KEY"), "API key (defaults to $PRINTFLEET_API_KEY)")
	level := flag.String("level", "", "Only show log entries of this level (info, success, warning, error)")
	search := flag.String("q", "", "Only show log entries whose message or id contains this text")
	limit := flag.Int("limit", 50, "Number of newest log entries to watch")
	once := flag.Bool("once", false, "Print the first loaded state and exit")
	retry := flag.Duration("retry", 0, "Refresh after a feed error once this long has passed (0 exits instead)")
	verbose := flag.Bool("v", false, "Log feed activity to stderr")
	flag.Usage = usage
	flag.Parse()

	lvl := slog.LevelWarn
	if *verbose {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	filter := view.LogFilter{Level: model.Level(*level), Search: *search}
	if filter.Level != "" && !filter.Level.Valid() {
		fmt.Fprintf(os.Stderr, "unknown level %q\n", *level)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := wsfeed.NewClient(*feedURL, *apiKey, logger)
	opts := watchOptions{once: *once, retry: *retry}

	var err error
	switch flag.Arg(0) {
	case "printers":
		err = watch(ctx, fleet.NewPrinterStore(client, logger), opts, func(w io.Writer, st live.State[model.Printer]) {
			renderPrinters(w, st)
		})
	case "logs":
		err = watch(ctx, fleet.NewLogStore(client, *limit, logger), opts, func(w io.Writer, st live.State[model.LogEntry]) {
			renderLogs(w, st, filter)
		})
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type watchOptions struct {
	once  bool
	retry time.Duration
	out   io.Writer
}

// watch renders every state change of s until ctx ends. A feed error ends the watch unless a retry
// delay is set, in which case the store is refreshed after the delay.
func watch[T any](ctx context.Context, s *live.Store[T], opts watchOptions, render func(io.Writer, live.State[T])) error {
	out := opts.out
	if out == nil {
		out = os.Stdout
	}

	changes, stopWatching := s.Watch()
	defer stopWatching()
	defer s.Close()

	s.Refresh()

	var retryC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retryC:
			retryC = nil
			s.Refresh()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			st := s.State()
			if st.Loading {
				continue
			}
			render(out, st)
			if st.Err != nil {
				if opts.retry <= 0 {
					return fmt.Errorf("%s: %w", s.Name(), st.Err)
				}
				if retryC == nil {
					retryC = time.After(opts.retry)
				}
				continue
			}
			if opts.once {
				return nil
			}
		}
	}
}
