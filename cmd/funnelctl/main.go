// Command funnelctl is the operator CLI: schema migrations, demo seeding and
// the integrity check and repair.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-funnel/internal/config"
	"github.com/unclebandit/outreach-funnel/internal/db"
	"github.com/unclebandit/outreach-funnel/internal/logging"
	"github.com/unclebandit/outreach-funnel/internal/repository"
	"github.com/unclebandit/outreach-funnel/internal/service"
)

type options struct {
	driver   string
	dsn      string
	logLevel string
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "funnelctl",
		Short:        "Operate the outreach funnel datastore",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.driver, "driver", "", "database driver (postgres or sqlite), defaults to DATABASE_DRIVER")
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "database DSN, defaults to DATABASE_URL or the DB_* variables")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level, defaults to LOG_LEVEL")

	root.AddCommand(
		newMigrateCmd(opts),
		newSeedCmd(opts),
		newHealthCmd(opts),
		newRepairCmd(opts),
	)
	return root
}

// session is one opened, migrated database plus a logger.
type session struct {
	db  *sql.DB
	log *zap.Logger
}

func (o *options) open(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.driver != "" {
		cfg.DatabaseDriver = o.driver
	}
	if o.dsn != "" {
		cfg.DatabaseURL = o.dsn
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &session{db: conn, log: log}, nil
}

func (s *session) Close() {
	_ = s.log.Sync()
	_ = s.db.Close()
}

func (s *session) reconciler() *service.Reconciler {
	return service.NewReconciler(
		&repository.ProspectRepository{DB: s.db},
		&repository.SendQueueRepository{DB: s.db},
		nil,
		s.log.Named("integrity"),
	)
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newSeedCmd(opts *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load members, accounts, campaigns and prospects from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadSeedFile(file)
			if err != nil {
				return err
			}
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := f.apply(cmd.Context(), s.db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d campaigns, %d prospects from %s\n", n.campaigns, n.prospects, file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "seed/demo.yaml", "seed file")
	return cmd
}

func newHealthCmd(opts *options) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Print the data integrity report",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.reconciler().Check(cmd.Context())
			if report == nil {
				return err
			}
			if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
				return perr
			}
			if strict {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when anomalies are found")
	return cmd
}

func newRepairCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Backfill contacted_at on corrupted prospects",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			result, err := s.reconciler().RepairCorrupted(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
