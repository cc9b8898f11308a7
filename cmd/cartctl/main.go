// Command cartctl inspects and edits the persisted cart without the HTTP service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fjod/go_cart/cart-store/internal/backend"
	"github.com/fjod/go_cart/cart-store/internal/cart"
	"github.com/fjod/go_cart/cart-store/internal/config"
	"github.com/fjod/go_cart/cart-store/internal/domain"
	"github.com/fjod/go_cart/cart-store/internal/logger"
	"github.com/spf13/cobra"
)

type options struct {
	configPath     string
	backend        string
	sqlitePath     string
	migrationsPath string
	key            string
}

func main() {
	logger.Setup("warn", true)
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "cartctl",
		Short:         "Inspect and edit the persisted shopping cart",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", os.Getenv("CART_CONFIG"), "path to YAML config file")
	flags.StringVar(&opts.backend, "backend", "", "storage backend override (memory, redis, mongo, sqlite, postgres)")
	flags.StringVar(&opts.sqlitePath, "sqlite-path", "", "sqlite database file override")
	flags.StringVar(&opts.migrationsPath, "migrations-path", "", "SQL migrations directory (default: built-in migrations)")
	flags.StringVar(&opts.key, "key", "", "storage key override")

	root.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the cart",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd, opts, func(_ context.Context, s *cart.Store) ([]domain.LineItem, error) {
					return s.Products()
				})
			},
		},
		newAddCmd(opts),
		&cobra.Command{
			Use:   "inc <id>",
			Short: "Increment the quantity of a product",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, opts, func(ctx context.Context, s *cart.Store) ([]domain.LineItem, error) {
					return s.Increment(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "dec <id>",
			Short: "Decrement the quantity of a product, removing it at zero",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, opts, func(ctx context.Context, s *cart.Store) ([]domain.LineItem, error) {
					return s.Decrement(ctx, args[0])
				})
			},
		},
	)

	return root
}

func newAddCmd(opts *options) *cobra.Command {
	var p domain.Product

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a product to the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, opts, func(ctx context.Context, s *cart.Store) ([]domain.LineItem, error) {
				return s.AddToCart(ctx, p)
			})
		},
	}

	cmd.Flags().StringVar(&p.ID, "id", "", "product id")
	cmd.Flags().StringVar(&p.Title, "title", "", "product title")
	cmd.Flags().StringVar(&p.ImageURL, "image-url", "", "product image URL")
	cmd.Flags().Float64Var(&p.Price, "price", 0, "unit price")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.backend != "" {
		cfg.Storage.Backend = opts.backend
	}
	if opts.sqlitePath != "" {
		cfg.Storage.SQLitePath = opts.sqlitePath
	}
	if opts.migrationsPath != "" {
		cfg.Storage.MigrationsPath = opts.migrationsPath
	}
	if opts.key != "" {
		cfg.Storage.Key = opts.key
	}
	return cfg, cfg.Validate()
}

// withStore opens the configured storage, runs op and prints the cart it returns.
func withStore(cmd *cobra.Command, opts *options, op func(context.Context, *cart.Store) ([]domain.LineItem, error)) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	storage, closer, err := backend.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closer.Close()

	store, err := cart.New(ctx, storage, cart.WithStorageKey(cfg.Storage.Key))
	if err != nil {
		return err
	}
	defer store.Close()

	items, err := op(ctx, store)
	if err != nil {
		return err
	}

	return printCart(cmd.OutOrStdout(), items)
}

func printCart(out io.Writer, items []domain.LineItem) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Items  []domain.LineItem `json:"items"`
		Totals domain.Totals     `json:"totals"`
	}{items, domain.CalculateTotals(items)}); err != nil {
		return fmt.Errorf("failed to print cart: %w", err)
	}
	return nil
}
