package cli

import (
	"context"

	"videojobs/internal/app/bootstrap"
	"videojobs/internal/platform/config"
	"videojobs/internal/platform/database"
	"videojobs/internal/platform/queue"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// RootOptions holds what every jobctl command shares.
type RootOptions struct {
	Config *config.Config
}

// NewRootCommand creates the jobctl command tree around cfg.
func NewRootCommand(cfg *config.Config) *cobra.Command {
	opts := &RootOptions{Config: cfg}

	cmd := &cobra.Command{
		Use:           "jobctl",
		Short:         "Operate the video execution orchestrator",
		Long:          "Submit, retry and inspect video render executions, and manage the pipeline gate and canary rollout.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewRetryCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewLineageCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewCanaryCommand(opts))
	cmd.AddCommand(NewGateCommand(opts))
	cmd.AddCommand(NewBriefCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// session is an open database and Redis connection with the services built on them.
type session struct {
	*bootstrap.Components
	db  *sqlx.DB
	rdb *redis.Client
}

func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open database", err)
	}
	rdb, err := queue.NewClient(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, WrapExitError(ExitFailure, "failed to connect to redis", err)
	}
	components, err := bootstrap.Build(cfg, db, rdb)
	if err != nil {
		db.Close()
		rdb.Close()
		return nil, WrapExitError(ExitFailure, "failed to wire services", err)
	}
	return &session{Components: components, db: db, rdb: rdb}, nil
}

func (s *session) Close() {
	s.rdb.Close()
	s.db.Close()
}
