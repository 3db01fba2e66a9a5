package cli

import (
	"time"

	"videojobs/internal/app/service"
	"videojobs/internal/common/security"
	"videojobs/internal/domain/model"
	"videojobs/internal/platform/database"
	"videojobs/internal/platform/featuregate"
	"videojobs/internal/platform/queue"

	"github.com/spf13/cobra"
)

func NewStatsCommand(opts *RootOptions) *cobra.Command {
	var window string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate execution metrics over a time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := service.ParseWindow(window)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --window", err)
			}
			s, err := openSession(cmd.Context(), opts.Config)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.Orchestrator.Stats(cmd.Context(), w)
			if err != nil {
				return fromOrchestrator("stats failed", err)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&window, "window", string(model.StatsWindow24h), "time window (24h|7d|all)")
	return cmd
}

func NewCanaryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "canary",
		Short: "Show the canary rollout policy and today's usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts.Config)
			if err != nil {
				return err
			}
			defer s.Close()

			snap, err := s.Orchestrator.GetCanaryPolicy(cmd.Context())
			if err != nil {
				return fromOrchestrator("canary policy unavailable", err)
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	}
}

type gateState struct {
	Enabled bool   `json:"enabled"`
	Key     string `json:"key"`
}

// NewGateCommand reads or overrides the pipeline gate. "clear" drops the
// override so the configured default applies again.
func NewGateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "gate [on|off|clear]",
		Short:     "Show or override the video pipeline gate",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off", "clear"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.Config
			rdb, err := queue.NewClient(cmd.Context(), cfg)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to connect to redis", err)
			}
			defer rdb.Close()

			gate := featuregate.New(rdb, cfg.PipelineGateKey, cfg.PipelineEnabled)
			if len(args) == 1 {
				switch args[0] {
				case "on":
					err = gate.Set(cmd.Context(), true)
				case "off":
					err = gate.Set(cmd.Context(), false)
				case "clear":
					err = gate.Clear(cmd.Context())
				}
				if err != nil {
					return WrapExitError(ExitFailure, "failed to update gate", err)
				}
			}
			return writeJSON(cmd.OutOrStdout(), gateState{Enabled: gate.Enabled(cmd.Context()), Key: cfg.PipelineGateKey})
		},
	}
}

func NewBriefCommand(opts *RootOptions) *cobra.Command {
	var (
		kind       string
		vertical   string
		gammeAlias string
		gammeID    int64
	)

	cmd := &cobra.Command{
		Use:   "brief <subject-id>",
		Short: "Register or replace a production brief in the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subject := model.Subject{ID: args[0], Kind: kind, Vertical: vertical}
			if gammeAlias != "" {
				subject.Gamme = &model.GammeContext{Alias: gammeAlias, ID: gammeID}
			}

			s, err := openSession(cmd.Context(), opts.Config)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Catalog.Upsert(cmd.Context(), subject); err != nil {
				return WrapExitError(ExitCommandError, "failed to save brief", err)
			}
			resolved, err := s.Catalog.Resolve(cmd.Context(), subject.ID)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read brief back", err)
			}
			return writeJSON(cmd.OutOrStdout(), resolved)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "brief", "subject kind")
	cmd.Flags().StringVar(&vertical, "vertical", "", "business vertical (required)")
	_ = cmd.MarkFlagRequired("vertical")
	cmd.Flags().StringVar(&gammeAlias, "gamme-alias", "", "product range alias")
	cmd.Flags().Int64Var(&gammeID, "gamme-id", 0, "product range id")
	return cmd
}

type tokenOutput struct {
	Token     string    `json:"token"`
	Operator  string    `json:"operator"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <operator>",
		Short: "Mint an API bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				ttl = opts.Config.JWTExp
			}
			token, err := security.GenerateToken(security.NewTokenAuth(opts.Config.JWTKey), args[0], role, ttl)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to mint token", err)
			}
			return writeJSON(cmd.OutOrStdout(), tokenOutput{
				Token:     token,
				Operator:  args[0],
				Role:      role,
				ExpiresAt: time.Now().Add(ttl).UTC().Truncate(time.Second),
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", security.RoleOperator, "token role (operator|viewer)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to JWT_EXPIRATION_HOURS)")
	return cmd
}

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.Config
			if cfg.DBDriver == "sqlite3" {
				db, err := database.OpenSQLite(cfg.SQLitePath)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to apply sqlite schema", err)
				}
				db.Close()
				return writeJSON(cmd.OutOrStdout(), map[string]string{"driver": "sqlite3", "path": cfg.SQLitePath})
			}

			version, err := database.Migrate(source, cfg.DBConnStr)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to apply migrations", err)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"driver": "pgx", "version": version})
		},
	}
	cmd.Flags().StringVar(&source, "source", opts.Config.MigrationsSourceURL, "golang-migrate source URL")
	return cmd
}
