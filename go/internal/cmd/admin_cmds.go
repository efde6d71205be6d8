package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mcdev12/wallstreetbar/go/internal/market/admin"
)

func newLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check admin credentials and cache them for later commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.username == "" {
				return errNoCredentials
			}
			p := admin.NewPanel(a.client, a.bus)
			status, err := p.Login(cmd.Context(), a.username, a.password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", status.Admin)
			return nil
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget cached admin credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return admin.NewPanel(a.client, a.bus).Logout(cmd.Context())
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the admin view of the market",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.panel(cmd.Context()); err != nil {
				return err
			}
			status, err := a.client.AdminStatus(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "admin:               %s\n", status.Admin)
			fmt.Fprintf(out, "market:              %s\n", status.MarketStatus)
			fmt.Fprintf(out, "drinks:              %d\n", status.TotalDrinks)
			fmt.Fprintf(out, "recent transactions: %d\n", status.RecentTransactions)
			return nil
		},
	}
}

func newIntervalCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "interval <ms>",
		Short: "Set the price cycle length; 0 switches the walls to manual mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || ms < 0 {
				return fmt.Errorf("invalid interval %q: must be a non-negative number of milliseconds", args[0])
			}
			p, err := a.panel(cmd.Context())
			if err != nil {
				return err
			}
			if err := p.SetInterval(cmd.Context(), ms); err != nil {
				return err
			}
			if ms == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "manual mode: walls refresh on purchases")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "interval set to %dms\n", ms)
			return nil
		},
	}
}

func newRestartTimerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart-timer",
		Short: "Start a fresh price cycle on the server and every wall",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.panel(cmd.Context())
			if err != nil {
				return err
			}
			return p.RestartTimer(cmd.Context())
		},
	}
}

func newMarketCmd(a *app) *cobra.Command {
	marketCmd := &cobra.Command{
		Use:   "market",
		Short: "Trigger a market event",
	}

	events := []struct {
		use   string
		short string
		run   func(*admin.Panel, context.Context) error
	}{
		{"crash", "Crash every price", (*admin.Panel).Crash},
		{"boom", "Boom every price", (*admin.Panel).Boom},
		{"reset", "Reset every price to its base", (*admin.Panel).ResetMarket},
	}

	for _, ev := range events {
		ev := ev
		marketCmd.AddCommand(&cobra.Command{
			Use:   ev.use,
			Short: ev.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				p, err := a.panel(cmd.Context())
				if err != nil {
					return err
				}
				if err := ev.run(p, cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "market %s sent\n", ev.use)
				return nil
			},
		})
	}
	return marketCmd
}

func newHappyHourCmd(a *app) *cobra.Command {
	hhCmd := &cobra.Command{
		Use:     "happy-hour",
		Aliases: []string{"hh"},
		Short:   "Manage happy hours",
	}

	var duration int
	startCmd := &cobra.Command{
		Use:   "start <drink-id>",
		Short: "Start a happy hour on a drink",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drinkID, err := parseDrinkID(args[0])
			if err != nil {
				return err
			}
			if duration <= 0 {
				return fmt.Errorf("invalid duration %d: must be positive", duration)
			}
			p, err := a.panel(cmd.Context())
			if err != nil {
				return err
			}
			return p.StartHappyHour(cmd.Context(), drinkID, duration)
		},
	}
	startCmd.Flags().IntVar(&duration, "duration", 3600, "happy hour length in seconds")

	stopCmd := &cobra.Command{
		Use:   "stop <drink-id>",
		Short: "Stop the happy hour on a drink",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drinkID, err := parseDrinkID(args[0])
			if err != nil {
				return err
			}
			p, err := a.panel(cmd.Context())
			if err != nil {
				return err
			}
			return p.StopHappyHour(cmd.Context(), drinkID)
		},
	}

	stopAllCmd := &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every happy hour",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.panel(cmd.Context())
			if err != nil {
				return err
			}
			return p.StopAllHappyHours(cmd.Context())
		},
	}

	hhCmd.AddCommand(startCmd, stopCmd, stopAllCmd)
	return hhCmd
}

func newBuyCmd(a *app) *cobra.Command {
	var quantity int
	buyCmd := &cobra.Command{
		Use:   "buy <drink-id>",
		Short: "Record a purchase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drinkID, err := parseDrinkID(args[0])
			if err != nil {
				return err
			}
			// purchases are public, no login needed
			p := admin.NewPanel(a.client, a.bus)
			return p.Buy(cmd.Context(), drinkID, quantity)
		},
	}
	buyCmd.Flags().IntVarP(&quantity, "quantity", "q", 1, "number of drinks")
	return buyCmd
}

func parseDrinkID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid drink id %q", arg)
	}
	return id, nil
}
