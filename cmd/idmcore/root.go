package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"idmcore/internal/core"
	"idmcore/internal/server"
	"idmcore/pkg/domain"
)

type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "idmcore",
		Short:         "Administer an idmcore identity store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("IDMCORE_CONFIG"), "path to YAML configuration")

	cmd.AddCommand(newInitCommand(opts))
	cmd.AddCommand(newSearchCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newBackupCommand(opts))
	cmd.AddCommand(newRestoreCommand(opts))
	return cmd
}

// withApp opens the configured stores, runs fn and closes them.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

func newInitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or repair the builtin entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.engine.Initialise(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "initialised")
				return nil
			})
		},
	}
}

type searchFlags struct {
	name  string
	id    string
	class string
}

func (f searchFlags) filter() (domain.Filter, error) {
	var terms []domain.Filter
	if f.name != "" {
		terms = append(terms, domain.Eq(domain.AttrName, domain.PartialIname(f.name)))
	}
	if f.id != "" {
		id, err := uuid.Parse(f.id)
		if err != nil {
			return domain.Filter{}, fmt.Errorf("--uuid: %w", err)
		}
		terms = append(terms, domain.Eq(domain.AttrUUID, domain.PartialUUID(id)))
	}
	if f.class != "" {
		terms = append(terms, domain.Eq(domain.AttrClass, domain.PartialClass(f.class)))
	}
	switch len(terms) {
	case 0:
		return domain.Pres(domain.AttrUUID), nil
	case 1:
		return terms[0], nil
	default:
		return domain.And(terms...), nil
	}
}

func newSearchCommand(opts *rootOptions) *cobra.Command {
	var flags searchFlags
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Print matching entries as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := flags.filter()
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				txn, err := a.engine.Read(ctx)
				if err != nil {
					return err
				}
				entries, err := txn.InternalSearch(ctx, f)
				if err != nil {
					return err
				}
				domain.SortEntries(entries)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			})
		},
	}
	cmd.Flags().StringVar(&flags.name, "name", "", "match entries by name")
	cmd.Flags().StringVar(&flags.id, "uuid", "", "match the entry with this uuid")
	cmd.Flags().StringVar(&flags.class, "class", "", "match entries carrying this class")
	return cmd
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <entries.json>",
		Short: "Create the entries in a JSON array, one transaction per entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// #nosec G304 -- path supplied by the operator
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var entries []domain.Entry
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return importEntries(ctx, cmd, a, entries)
			})
		},
	}
}

func importEntries(ctx context.Context, cmd *cobra.Command, a *app, entries []domain.Entry) error {
	d := server.New(a.log.Named("dispatcher"), a.engine, a.cfg.Workers.Count)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(runCtx) }()

	results := make(chan error, len(entries))
	for _, e := range entries {
		go func(e domain.Entry) {
			results <- d.Submit(ctx, domain.NewInternalCreate([]domain.Entry{e})).Err
		}(e)
	}
	var failed int
	for range entries {
		if err := <-results; err != nil {
			failed++
			fmt.Fprintln(cmd.ErrOrStderr(), err)
		}
	}
	_ = d.Close()
	if err := <-done; err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d entries\n", len(entries)-failed, len(entries))
	if failed > 0 {
		return fmt.Errorf("%d entries failed to import", failed)
	}
	return nil
}

func newBackupCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write all entries to the configured blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				store, err := core.OpenBlobStore(ctx, a.cfg.Blob)
				if err != nil {
					return err
				}
				info, err := a.engine.Backup(ctx, store)
				if err != nil {
					return err
				}
				removed, err := core.PruneBackups(ctx, store, a.cfg.Blob.Keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes, pruned %d)\n", info.Key, info.Size, len(removed))
				return nil
			})
		},
	}
}

func newRestoreCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore [key]",
		Short: "Load a backup into an empty store; defaults to the latest backup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				store, err := core.OpenBlobStore(ctx, a.cfg.Blob)
				if err != nil {
					return err
				}
				key := ""
				if len(args) == 1 {
					key = args[0]
				} else {
					latest, err := core.LatestBackup(ctx, store)
					if err != nil {
						return err
					}
					key = latest.Key
				}
				n, err := a.engine.Restore(ctx, store, key)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %d entries from %s\n", n, key)
				return nil
			})
		},
	}
}
