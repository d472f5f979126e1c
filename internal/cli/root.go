// Package cli is the ordersctl admin tool: schema migration, reference data
// and order maintenance from the shell.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/memstore"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
)

// Backend is what the commands operate on.
type Backend interface {
	orders.Store
	orders.Catalog
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// Opener connects to the configured backend. The returned func releases it.
type Opener func(ctx context.Context, v *viper.Viper) (Backend, func(), error)

type app struct {
	v       *viper.Viper
	open    Opener
	backend Backend
	release func()
	svc     *orders.Service
	logger  *zap.Logger
}

// NewRootCommand builds the command tree. A nil opener connects to the store
// named by --store. Call the returned func once the command has run.
func NewRootCommand(open Opener) (*cobra.Command, func()) {
	a := &app{v: viper.New(), open: open}
	if a.open == nil {
		a.open = openBackend
	}
	defaults := config.Load()

	root := &cobra.Command{
		Use:           "ordersctl",
		Short:         "Administer the order fulfillment store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.String("store", defaults.StoreDriver, "store backend: postgres|memory")
	pf.String("postgres-dsn", defaults.PostgresDSN, "postgres connection string")
	pf.String("config", "", "config file")
	pf.String("log-level", "warn", "log level")
	for _, name := range []string{"store", "postgres-dsn", "config", "log-level"} {
		_ = a.v.BindPFlag(name, pf.Lookup(name))
	}
	a.v.SetEnvPrefix("ORDERS")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		a.migrateCmd(),
		a.seedStatesCmd(),
		a.statesCmd(),
		a.userCmd(),
		a.productCmd(),
		a.ordersCmd(),
		a.orderCmd(),
	)
	return root, a.close
}

// Execute runs ordersctl against the configured store.
func Execute(ctx context.Context) error {
	root, done := NewRootCommand(nil)
	defer done()
	return root.ExecuteContext(ctx)
}

func (a *app) close() {
	if a.release != nil {
		a.release()
		a.release = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) setup(ctx context.Context) error {
	if cfg := a.v.GetString("config"); cfg != "" {
		a.v.SetConfigFile(cfg)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	logger, err := observability.NewLogger(a.v.GetString("log-level"), "stderr")
	if err != nil {
		return err
	}
	a.logger = logger

	backend, release, err := a.open(ctx, a.v)
	if err != nil {
		return err
	}
	a.backend, a.release = backend, release
	a.svc = orders.NewService(backend, orders.WithLogger(logger), orders.WithProducerName("ordersctl"))
	return nil
}

func openBackend(ctx context.Context, v *viper.Viper) (Backend, func(), error) {
	switch strings.ToLower(v.GetString("store")) {
	case "memory":
		s := memstore.New()
		if err := s.SeedStates(ctx); err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "postgres", "":
		pool, err := postgres.Connect(ctx, v.GetString("postgres-dsn"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return &postgres.Store{DB: pool}, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", v.GetString("store"))
	}
}
