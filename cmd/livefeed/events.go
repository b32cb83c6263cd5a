package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/data"
	"github.com/dgnsrekt/livefeed/internal/provider"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect events and event lists",
	}

	cmd.AddCommand(eventShowCmd())
	cmd.AddCommand(eventListCmd("live", "Print live matches for a sport"))
	cmd.AddCommand(eventListCmd("prelive", "Print upcoming matches for a sport"))

	return cmd
}

func eventShowCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "show EVENT_ID",
		Short: "Print one event with its markets",
		Long: `Subscribe to one event and print it as JSON. With --watch every
merged update is printed.

Examples:
  livefeed events show 5512345
  livefeed events show 5512345 --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.waitForSession(ctx, sessionTimeout); err != nil {
				return err
			}

			s, err := a.provider.SubscribeEventDetails(ctx, args[0])
			if err != nil {
				return fmt.Errorf("subscribing to event %s: %w", args[0], err)
			}
			defer s.Release()

			return follow(ctx, s, watch, func(e *data.Event) error {
				if e == nil {
					return content.ErrResourceUnavailableOrDeleted
				}
				return printJSON(os.Stdout, e)
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep printing on every change")

	return cmd
}

func eventListCmd(kind, short string) *cobra.Command {
	var (
		pages  int
		days   int
		byPop  bool
		watch  bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   kind + " SPORT",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sport := args[0]

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.waitForSession(ctx, sessionTimeout); err != nil {
				return err
			}

			var stream *provider.Stream[*data.EventsGroup]
			if kind == "live" {
				stream, err = a.provider.SubscribeLiveMatches(ctx, sport)
			} else {
				sort := content.SortByTime
				if byPop {
					sort = content.SortByPopularity
				}
				start := time.Now().UTC().Truncate(24 * time.Hour)
				stream, err = a.provider.SubscribePreLiveMatches(ctx, sport, start, start.AddDate(0, 0, days), sort)
			}
			if err != nil {
				return fmt.Errorf("subscribing to %s matches for %s: %w", kind, sport, err)
			}
			defer stream.Release()

			requested := 1
			return follow(ctx, stream, true, func(g *data.EventsGroup) error {
				if asJSON {
					if err := printJSON(os.Stdout, g); err != nil {
						return err
					}
				} else if err := printEvents(os.Stdout, g); err != nil {
					return err
				}

				if requested < pages {
					more, err := a.provider.RequestNextPage(ctx, stream.Identifier().Pageable())
					if err != nil {
						return fmt.Errorf("requesting page %d: %w", requested+1, err)
					}
					if more {
						requested++
						logger.Debug("next page requested", zap.Int("page", requested))
						return nil
					}
				}
				if !watch {
					return errStop
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&pages, "pages", 1, "number of pages to load")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep printing on every change")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	if kind == "prelive" {
		cmd.Flags().IntVar(&days, "days", 1, "number of days ahead to include")
		cmd.Flags().BoolVar(&byPop, "popular", false, "sort by popularity instead of start time")
	}

	return cmd
}

func printEvents(w io.Writer, g *data.EventsGroup) error {
	if g == nil {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTART\tHOME\tAWAY\tSTATUS\tSCORE\tMARKETS")
	for _, e := range g.Events {
		score := "-"
		if e.Score != nil {
			score = fmt.Sprintf("%d-%d", e.Score.Home, e.Score.Away)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			e.ID, e.StartTime.Format(time.RFC3339), e.HomeName, e.AwayName, e.Status, score, e.NumMarkets)
	}
	return tw.Flush()
}
