package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/app"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/config"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/logging"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/storage"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/syncer"
)

const version = "v0.4.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "ajo-ledger",
		Short:         "Offline-first group savings ledger",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (AJO_* variables override it)")

	load := func() (config.Config, zerolog.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, zerolog.Nop(), err
		}
		return cfg, logging.New(cfg.Log), nil
	}

	root.AddCommand(
		serveCmd(load),
		syncCmd(load),
		migrateCmd(load),
		entriesCmd(load),
	)
	return root
}

type loader func() (config.Config, zerolog.Logger, error)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func serveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sync loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(ctx)
		},
	}
}

func syncCmd(load loader) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one drain pass against the gateway and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			conn := syncer.Online
			if offline {
				conn = syncer.Offline
			}
			report, err := a.Engine.Trigger(ctx, conn)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				return encErr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Report the network as unavailable (the pass is skipped)")
	return cmd
}

func migrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or open the configured ledger store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			store, err := storage.Open(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			log.Info().Str("driver", cfg.Storage.Driver).Msg("ledger store ready")
			return store.Close()
		},
	}
}

func entriesCmd(load loader) *cobra.Command {
	var (
		groupID string
		state   string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List ledger entries, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Ledger.ListEntries(cmd.Context(), models.EntryFilter{
				GroupID: groupID,
				State:   models.EntryState(state),
				Limit:   limit,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tKIND\tSTATE\tGROSS\tCOMMISSION\tCURRENCY\tREMOTE REF\tID")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format("2006-01-02 15:04"), e.Kind, e.State,
					e.Currency.FromMinor(e.Gross), e.Currency.FromMinor(e.Commission), e.Currency,
					e.RemoteRef, e.ID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "Only entries of this group")
	cmd.Flags().StringVar(&state, "state", "", "Only entries in this state")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries")
	return cmd
}
