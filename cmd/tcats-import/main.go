package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/dto"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/ingest"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository/migrations"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/seatmap"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/service"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/config"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/database"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/logger"
)

type rootOptions struct {
	platform  string
	headerRow int
	verbose   bool
}

type importOptions struct {
	name        string
	date        string
	time        string
	force       bool
	store       string
	seatMapPath string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:           "tcats-import",
		Short:         "Normalize box-office exports and import them as reservations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if opts.verbose {
				level = "debug"
			}
			return logger.Init(&logger.Config{Level: level, ServiceName: "tcats-import"})
		},
	}

	cmd.PersistentFlags().StringVar(&opts.platform, "platform", "", fmt.Sprintf("Vendor tag (%s); detected from the filename when empty", strings.Join(platformNames(), ", ")))
	cmd.PersistentFlags().IntVar(&opts.headerRow, "header-row", -1, "Zero-based row holding the column titles (default: vendor layout)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level")

	cmd.AddCommand(newNormalizeCmd(&opts), newMetadataCmd(&opts), newImportCmd(&opts))
	return cmd
}

func newNormalizeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <file.csv>",
		Short: "Print the canonical reservation drafts of an export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := openExport(args[0], root.platform, root.headerRow)
			if err != nil {
				return err
			}
			svc := service.NewImportService(&service.ImportServiceConfig{Logger: logger.Get()})
			resp, err := svc.Normalize(cmd.Context(), &dto.NormalizeRequest{RowBatch: exp.batch()})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newMetadataCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata <file.csv>",
		Short: "Guess the performance name, date and time of an export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := openExport(args[0], root.platform, root.headerRow)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), exp.metadata())
		},
	}
}

func newImportCmd(root *rootOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <file.csv>...",
		Short: "Replace a session's reservations with one or more exports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			req := &dto.ImportRequest{Name: opts.name, Date: opts.date, Time: opts.time, Force: opts.force}
			for i, path := range args {
				exp, err := openExport(path, root.platform, root.headerRow)
				if err != nil {
					return err
				}
				if i == 0 {
					fillKey(req, exp.metadata())
				}
				req.Batches = append(req.Batches, exp.batch())
			}
			if req.Name == "" || req.Date == "" || req.Time == "" {
				return fmt.Errorf("session is incomplete (name=%q date=%q time=%q); pass --name, --date and --time", req.Name, req.Date, req.Time)
			}

			layouts, err := seatmap.Load(opts.seatMapPath)
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(ctx, opts.store)
			if err != nil {
				return err
			}
			defer closeStore()

			svc := service.NewImportService(&service.ImportServiceConfig{
				Store:   store,
				Layouts: layouts,
				Logger:  logger.Get(),
			})
			resp, err := svc.Import(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "Performance name (default: read from the export)")
	cmd.Flags().StringVar(&opts.date, "date", "", "Performance date, YYYY.MM.DD (default: read from the export)")
	cmd.Flags().StringVar(&opts.time, "time", "", "Start time, HH:MM (default: read from the export)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Replace reservations even when some are already issued or used")
	cmd.Flags().StringVar(&opts.store, "store", config.StoreDriverPostgres, "Store driver: postgres or memory (dry run)")
	cmd.Flags().StringVar(&opts.seatMapPath, "seatmap", "", "Seat layout file (default: built-in layouts)")

	return cmd
}

func (e *export) batch() dto.RowBatch {
	return dto.RowBatch{Platform: string(e.Format.Platform), Filename: e.Filename, Rows: e.Rows}
}

func (e *export) metadata() *dto.MetadataResponse {
	svc := service.NewImportService(&service.ImportServiceConfig{Logger: logger.Get()})
	return svc.ExtractMetadata(context.Background(), &dto.ExtractMetadataRequest{
		Filename:    e.Filename,
		HeaderCells: e.Preamble,
	})
}

// fillKey completes the session key from the export where flags left it empty
func fillKey(req *dto.ImportRequest, m *dto.MetadataResponse) {
	if req.Name == "" {
		req.Name = m.Name
	}
	if req.Date == "" {
		req.Date = m.Date
	}
	if req.Time == "" {
		req.Time = m.Time
	}
}

func openStore(ctx context.Context, driver string) (repository.Store, func(), error) {
	if driver == config.StoreDriverMemory {
		return repository.NewMemoryStore(nil), func() {}, nil
	}
	if driver != config.StoreDriverPostgres {
		return nil, nil, fmt.Errorf("unknown store driver: %q", driver)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		User:           cfg.Database.User,
		Password:       cfg.Database.Password,
		Database:       cfg.Database.DBName,
		SSLMode:        cfg.Database.SSLMode,
		MaxConns:       2,
		MinConns:       1,
		ConnectTimeout: 5 * time.Second,
		MaxRetries:     1,
		RetryInterval:  time.Second,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.AutoMigrate {
		if _, err := db.Migrate(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	store := repository.NewPostgresStore(db.Pool(), &repository.PostgresStoreConfig{
		OperationTimeout: cfg.Store.OperationTimeout,
		MaxRetries:       cfg.Store.MaxRetries,
		OutboxEnabled:    cfg.Outbox.Enabled,
		OutboxTopic:      cfg.Outbox.Topic,
	})
	return store, db.Close, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// platformNames lists the vendor tags for help output
func platformNames() []string {
	var names []string
	for _, f := range ingest.Platforms() {
		names = append(names, string(f.Platform))
	}
	return names
}
