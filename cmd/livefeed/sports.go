package main

import (
	"context"
	"encoding/json"
	"errors"
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

const sessionTimeout = 15 * time.Second

// errStop ends follow without an error.
var errStop = errors.New("stop")

func sportsCmd() *cobra.Command {
	var (
		watch  bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "sports",
		Short: "Print the merged sports list",
		Long: `Subscribe to the sports feeds and print the merged list with event
counts. With --watch the list is printed again on every change.

Examples:
  livefeed sports
  livefeed sports --watch --json`,
		Args: cobra.NoArgs,
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

			s, err := a.provider.SubscribeSports(ctx)
			if err != nil {
				return fmt.Errorf("subscribing to sports: %w", err)
			}
			defer s.Release()

			return follow(ctx, s, watch, func(sports []data.Sport) error {
				if asJSON {
					return printJSON(os.Stdout, sports)
				}
				return printSports(os.Stdout, sports)
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep printing on every change")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	return cmd
}

func printSports(w io.Writer, sports []data.Sport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tALPHA\tNUMERIC\tEVENTS\tLIVE\tOUTRIGHT")
	for _, s := range sports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
			s.Name, s.AlphaID, s.NumericID, s.EventsCount, s.LiveEventsCount, s.OutrightEventsCount)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// follow prints content updates from s. Without watch it returns after the
// first one, and print may return errStop to end early. A disconnect is
// logged and waited out; failed is returned.
func follow[T any](ctx context.Context, s *provider.Stream[T], watch bool, print func(T) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-s.C():
			if !ok {
				return nil
			}
			switch msg.State {
			case content.StateContentUpdate:
				if err := print(msg.Content); err != nil {
					if errors.Is(err, errStop) {
						return nil
					}
					return err
				}
				if !watch {
					return nil
				}
			case content.StateDisconnected:
				logger.Warn("stream disconnected, waiting for reconnect")
			case content.StateConnected:
				logger.Debug("stream connected", zap.String("subscription", msg.Subscription.ID()))
			case content.StateFailed:
				return fmt.Errorf("stream failed: %w", msg.Err)
			}
		}
	}
}
