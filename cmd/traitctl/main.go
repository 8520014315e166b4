package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"traitfusion-api/internal/config"
	"traitfusion-api/internal/ledger"
	"traitfusion-api/internal/model"
	"traitfusion-api/internal/repository"
	"traitfusion-api/internal/service"
)

// StoreOpener opens the trait store the commands read from (allows swapping in tests)
type StoreOpener func(storeType, location string) (repository.Store, error)

// DefaultStoreOpener opens sqlite and badger stores directly and the network
// stores through the environment configuration.
func DefaultStoreOpener(storeType, location string) (repository.Store, error) {
	switch storeType {
	case "sqlite", "":
		return repository.NewSQLiteStore(location)
	case "badger":
		return repository.NewBadgerStore(location)
	case "postgres", "postgresql":
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresStore(cfg.Store.PostgresDSN())
	case "mysql":
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		db, err := ledger.OpenMySQL(cfg.Database.DSN())
		if err != nil {
			return nil, err
		}
		return repository.NewMySQLStore(db)
	}
	return nil, fmt.Errorf("unknown store type %q", storeType)
}

type options struct {
	storeType  string
	location   string
	collection string
}

type app struct {
	open StoreOpener
	opts options
	out  io.Writer
}

func main() {
	root := newRootCmd(DefaultStoreOpener, os.Stdout)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open StoreOpener, out io.Writer) *cobra.Command {
	a := &app{open: open, out: out}

	defaults := options{storeType: "sqlite", location: "./data/traits.db", collection: service.DefaultGameConfig().Collection}
	if cfg, err := config.Load(); err == nil {
		defaults.storeType = cfg.Store.Type
		defaults.location = cfg.Store.Path
		if cfg.Store.Type == "badger" {
			defaults.location = cfg.Store.Dir
		}
		defaults.collection = cfg.Game.Collection
	}

	root := &cobra.Command{
		Use:           "traitctl",
		Short:         "traitctl - inspect item traits and snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.opts.storeType, "store", defaults.storeType, "store type: sqlite, badger, postgres or mysql")
	root.PersistentFlags().StringVar(&a.opts.location, "path", defaults.location, "sqlite file or badger directory")
	root.PersistentFlags().StringVar(&a.opts.collection, "collection", defaults.collection, "item collection")

	attrsCmd := &cobra.Command{
		Use:   "attrs",
		Short: "Read item attributes",
	}
	attrsCmd.AddCommand(a.attrsListCmd(), a.attrsGetCmd())

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect item snapshots",
	}
	snapshotCmd.AddCommand(a.snapshotShowCmd(), a.snapshotVerifyCmd())

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run maintenance jobs once",
	}
	jobsCmd.AddCommand(a.jobsRunCmd())

	root.AddCommand(attrsCmd, a.digestCmd(), snapshotCmd, jobsCmd)
	return root
}

// withStore opens the store and an attribute store over it for one command.
func (a *app) withStore(fn func(ctx context.Context, store repository.Store, attrs *service.AttributeStore) error) error {
	store, err := a.open(a.opts.storeType, a.opts.location)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	attrs := service.NewAttributeStore(service.AttributeStoreConfig{Store: store})
	attrs.RegisterSchema(model.GameSchema(a.opts.collection))
	return fn(context.Background(), store, attrs)
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseItemID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid item id %q", s)
	}
	return id, nil
}

// render decodes raw according to the schema kind of name, or as.
func render(schema model.Schema, name model.AttributeName, raw []byte, as string) (string, error) {
	kind := model.ValueKind(as)
	if as == "" {
		kind, _ = schema.Kind(name)
	}
	switch kind {
	case model.KindUint:
		v, err := service.DecodeUint(raw)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(v, 10), nil
	case model.KindText:
		return service.DecodeText(raw)
	case model.KindRaw, "":
		return fmt.Sprintf("0x%x", raw), nil
	}
	return "", fmt.Errorf("unknown kind %q, want uint, text or raw", as)
}

func (a *app) attrsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <item>",
		Short: "List every stored attribute of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(func(ctx context.Context, _ repository.Store, attrs *service.AttributeStore) error {
				list, err := attrs.ListAttributes(ctx, a.opts.collection, itemID)
				if err != nil {
					return err
				}
				schema, _ := attrs.Schema(a.opts.collection)
				if len(list) == 0 {
					fmt.Fprintf(a.out, "item %d has no attributes\n", itemID)
					return nil
				}
				for _, attr := range list {
					value, err := render(schema, attr.Name, attr.Value, "")
					if err != nil {
						value = fmt.Sprintf("0x%x (%v)", attr.Value, err)
					}
					fmt.Fprintf(a.out, "%-18s %s\n", attr.Name, value)
				}
				return nil
			})
		},
	}
}

func (a *app) attrsGetCmd() *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "get <item> <name>",
		Short: "Read one attribute",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			name := model.AttributeName(args[1])
			return a.withStore(func(ctx context.Context, _ repository.Store, attrs *service.AttributeStore) error {
				raw, err := attrs.GetRaw(ctx, a.opts.collection, itemID, name)
				if err != nil {
					return err
				}
				schema, _ := attrs.Schema(a.opts.collection)
				value, err := render(schema, name, raw, as)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, value)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "decode as uint, text or raw (default: schema kind)")
	return cmd
}

func (a *app) digestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest <item> <name>...",
		Short: "Hash attribute values in the given order",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			names := make([]model.AttributeName, 0, len(args)-1)
			for _, n := range args[1:] {
				names = append(names, model.AttributeName(strings.TrimSpace(n)))
			}
			return a.withStore(func(ctx context.Context, _ repository.Store, attrs *service.AttributeStore) error {
				digest, err := attrs.ComputeDigest(ctx, a.opts.collection, itemID, names...)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, digest.Hex())
				return nil
			})
		},
	}
}

func (a *app) loadSnapshot(ctx context.Context, store repository.Store, itemID uint64) (*model.Snapshot, error) {
	snap, err := store.GetSnapshot(ctx, a.opts.collection, itemID)
	if err != nil {
		return nil, err
	}
	if snap == nil || snap.Hash.IsZero() {
		return nil, fmt.Errorf("no snapshot for item %d", itemID)
	}
	return snap, nil
}

func (a *app) snapshotShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <item>",
		Short: "Print the latest snapshot of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(func(ctx context.Context, store repository.Store, _ *service.AttributeStore) error {
				snap, err := a.loadSnapshot(ctx, store, itemID)
				if err != nil {
					return err
				}
				return a.printJSON(snap)
			})
		},
	}
}

func (a *app) snapshotVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <item>",
		Short: "Recompute the hash of the latest snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(func(ctx context.Context, store repository.Store, _ *service.AttributeStore) error {
				snap, err := a.loadSnapshot(ctx, store, itemID)
				if err != nil {
					return err
				}
				computed := service.SnapshotHash(snap.Values, snap.CapturedAt)
				if computed != snap.Hash {
					return fmt.Errorf("snapshot of item %d is corrupt: stored %s, computed %s", itemID, snap.Hash.Hex(), computed.Hex())
				}
				fmt.Fprintf(a.out, "ok %s\n", snap.Hash.Hex())
				return nil
			})
		},
	}
}

func (a *app) jobsRunCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:       "run <daily-reset|oracle-janitor>",
		Short:     "Run a scheduled job once",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"daily-reset", "oracle-janitor"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := service.DefaultSchedulerConfig()
			if ttl > 0 {
				cfg.OracleRequestTTL = ttl
			}
			return a.withStore(func(ctx context.Context, store repository.Store, _ *service.AttributeStore) error {
				scheduler := service.NewScheduler(store, cfg, nil)
				var (
					n   int64
					err error
				)
				switch args[0] {
				case "daily-reset":
					n, err = scheduler.RunDailyReset(ctx)
				case "oracle-janitor":
					n, err = scheduler.RunJanitor(ctx)
				default:
					return fmt.Errorf("unknown job %q", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s: %d rows affected\n", args[0], n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "pending oracle request TTL for oracle-janitor (e.g. 24h)")
	return cmd
}
