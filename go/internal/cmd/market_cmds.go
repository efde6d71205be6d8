package main

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcdev12/wallstreetbar/go/internal/market/signals"
	"github.com/mcdev12/wallstreetbar/go/internal/market/timersync"
)

func newPricesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prices",
		Short: "Print the current prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prices, err := a.client.GetPrices(cmd.Context())
			if err != nil {
				return err
			}
			happyHours, err := a.client.GetActiveHappyHours(cmd.Context())
			if err != nil {
				return err
			}
			onHappyHour := make(map[int]bool, len(happyHours))
			for _, hh := range happyHours {
				onHappyHour[hh.DrinkID] = true
			}

			sort.Slice(prices.Prices, func(i, j int) bool {
				return prices.Prices[i].PriceRounded < prices.Prices[j].PriceRounded
			})

			out := cmd.OutOrStdout()
			for _, p := range prices.Prices {
				marker := ""
				if onHappyHour[p.ID] {
					marker = "  happy hour"
				}
				fmt.Fprintf(out, "%4d  %-24s %7.2f%s\n", p.ID, p.Name, p.PriceRounded, marker)
			}
			return nil
		},
	}
}

func newTimerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "timer",
		Short: "Show the server countdown, corrected for clock skew",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := a.client.SyncTimer(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if status.IntervalMs <= 0 {
				fmt.Fprintln(out, "manual mode")
				return nil
			}
			state := timersync.State{
				ServerTimeAtSync:       status.ServerTime.Time,
				MarketTimerStart:       status.MarketTimerStart.Time,
				TimerRemainingMsAtSync: status.TimerRemainingMs,
				IntervalMs:             status.IntervalMs,
			}
			remaining := timersync.CeilSeconds(state.AdjustedRemainingMs(time.Now()))
			fmt.Fprintf(out, "%ds remaining of %s\n", remaining, time.Duration(status.IntervalMs)*time.Millisecond)
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print every signal written by the walls and admin panels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			for _, key := range signals.SignalKeys() {
				key := key
				a.bus.Subscribe(key, func(ctx context.Context, sig signals.Signal) {
					fmt.Fprintf(out, "%s  %-26s %-16s %s\n",
						sig.Time().Format("15:04:05.000"), key, sig.Origin, string(sig.Data))
				})
			}
			return a.bus.Run(ctx)
		},
	}
}
