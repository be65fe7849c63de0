package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/iliyamo/phone-signin/internal/database"
	"github.com/iliyamo/phone-signin/internal/repository"
)

// staleExpirer marks pending sessions past their deadline as expired.
type staleExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// NewExpireStaleCmd creates the expire-stale subcommand.
func NewExpireStaleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire-stale",
		Short: "Mark pending sessions past their deadline as expired",
		Long: `Sessions expire lazily when they are next read. expire-stale applies the
same rule in bulk so that reports over auth_sessions see final states.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store != "mysql" {
				return oops.Code("CONFIG_INVALID").Errorf("expire-stale requires APP_STORE=mysql, got %q", cfg.Store)
			}
			db, err := database.Open(cfg)
			if err != nil {
				return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
			}
			defer db.Close()
			return expireStale(cmd, repository.NewSessionRepo(db), time.Now().UTC())
		},
	}
}

func expireStale(cmd *cobra.Command, store staleExpirer, now time.Time) error {
	n, err := store.ExpireStale(cmd.Context(), now)
	if err != nil {
		return oops.Code("EXPIRE_STALE_FAILED").With("operation", "expire stale sessions").Wrap(err)
	}
	cmd.Printf("expired %d session(s)\n", n)
	return nil
}
