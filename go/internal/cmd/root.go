package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/wallstreetbar/go/clients/market_client"
	"github.com/mcdev12/wallstreetbar/go/internal/config"
	"github.com/mcdev12/wallstreetbar/go/internal/logging"
	"github.com/mcdev12/wallstreetbar/go/internal/market/admin"
	"github.com/mcdev12/wallstreetbar/go/internal/market/signals"
	"github.com/mcdev12/wallstreetbar/go/internal/sharedstore"
)

var errNoCredentials = errors.New("no admin credentials: pass --user and --password or run marketctl login")

// app holds the flag values and resources of one marketctl invocation.
type app struct {
	configPath string
	apiURL     string
	username   string
	password   string
	contextID  string

	cfg       config.Config
	logCloser io.Closer
	store     sharedstore.Store
	client    *market_client.MarketClient
	bus       *signals.Bus
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "marketctl",
		Short:         "Run the Wall Street Bar market from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.init(cmd.Context()); err != nil {
				return err
			}
			if a.cfg.Store.Driver == sharedstore.DriverMemory && needsSharedState(cmd) {
				log.Warn().Msg("memory store is local to this process")
				cmd.PrintErrln("warning: the memory store is local to marketctl; walls in other processes will not see this. Set WSB_STORE_DRIVER to nats, postgres or sqlite.")
			}
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", getEnv("WSB_CONFIG", "wallstreetbar.yaml"), "config file (yaml or toml)")
	flags.StringVar(&a.apiURL, "api-url", "", "market API base URL (overrides config)")
	flags.StringVar(&a.username, "user", "", "admin username")
	flags.StringVar(&a.password, "password", "", "admin password")
	flags.StringVar(&a.contextID, "context-id", "", "origin written with every signal (default: random)")

	rootCmd.AddCommand(sharesState(newLoginCmd(a)))
	rootCmd.AddCommand(sharesState(newLogoutCmd(a)))
	rootCmd.AddCommand(newStatusCmd(a))
	rootCmd.AddCommand(sharesState(newIntervalCmd(a)))
	rootCmd.AddCommand(sharesState(newRestartTimerCmd(a)))
	rootCmd.AddCommand(sharesState(newMarketCmd(a)))
	rootCmd.AddCommand(sharesState(newHappyHourCmd(a)))
	rootCmd.AddCommand(sharesState(newBuyCmd(a)))
	rootCmd.AddCommand(newPricesCmd(a))
	rootCmd.AddCommand(newTimerCmd(a))
	rootCmd.AddCommand(sharesState(newWatchCmd(a)))

	return rootCmd
}

const annotationSharedState = "shared-state"

// sharesState marks a command whose effect reaches walls only through the
// shared store.
func sharesState(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	cmd.Annotations[annotationSharedState] = "true"
	return cmd
}

func needsSharedState(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[annotationSharedState]; ok {
			return true
		}
	}
	return false
}

func (a *app) init(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.apiURL != "" {
		cfg.API.BaseURL = a.apiURL
	}
	a.cfg = cfg

	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	a.logCloser = closer

	if a.contextID == "" {
		a.contextID = "admin-" + uuid.New().String()[:8]
	}

	store, err := sharedstore.Open(ctx, cfg.SharedStore(), a.contextID)
	if err != nil {
		return fmt.Errorf("failed to open shared store: %w", err)
	}
	a.store = store
	a.bus = signals.NewBus(store, clockwork.NewRealClock())

	a.client = market_client.NewMarketClient(cfg.API.BaseURL)
	a.client.SetRetryConfig(cfg.Retry())

	log.Debug().
		Str("context_id", a.contextID).
		Str("api", cfg.API.BaseURL).
		Str("store", cfg.Store.Driver).
		Msg("marketctl ready")
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}

// panel returns an authenticated admin panel. Explicit flags win over the
// config file, which wins over a session cached by an earlier login.
func (a *app) panel(ctx context.Context) (*admin.Panel, error) {
	p := admin.NewPanel(a.client, a.bus)

	user, pass := a.username, a.password
	if user == "" {
		user, pass = a.cfg.Admin.Username, a.cfg.Admin.Password
	}
	if user != "" {
		if _, err := p.Login(ctx, user, pass); err != nil {
			return nil, fmt.Errorf("login failed: %w", err)
		}
		return p, nil
	}

	restored, err := p.RestoreSession(ctx)
	if err != nil {
		return nil, err
	}
	if !restored {
		return nil, errNoCredentials
	}
	return p, nil
}
