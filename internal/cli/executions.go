package cli

import (
	"videojobs/internal/domain/model"

	"github.com/spf13/cobra"
)

func NewSubmitCommand(opts *RootOptions) *cobra.Command {
	var trigger string

	cmd := &cobra.Command{
		Use:   "submit <subject-id>",
		Short: "Submit a render execution for a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts.Config)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.Orchestrator.Submit(cmd.Context(), args[0], model.TriggerSource(trigger))
			if err != nil {
				return fromOrchestrator("submit rejected", err)
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", string(model.TriggerSourceManual), "trigger source (manual|api)")
	return cmd
}

func NewRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <execution-id>",
		Short: "Retry a failed, retryable execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts.Config)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.Orchestrator.Retry(cmd.Context(), args[0])
			if err != nil {
				return fromOrchestrator("retry rejected", err)
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Show one execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts.Config)
			if err != nil {
				return err
			}
			defer s.Close()

			row, err := s.Orchestrator.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return fromOrchestrator("status lookup failed", err)
			}
			return writeJSON(cmd.OutOrStdout(), row)
		},
	}
}

func NewListCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list <subject-id>",
		Short: "List a subject's executions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return WrapExitError(ExitCommandError, "--limit must not be negative", nil)
			}
			s, err := openSession(cmd.Context(), opts.Config)
			if err != nil {
				return err
			}
			defer s.Close()

			return writeJSON(cmd.OutOrStdout(), s.Orchestrator.List(cmd.Context(), args[0], limit))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (0 uses the configured default, capped at 100)")
	return cmd
}

func NewLineageCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <execution-id>",
		Short: "Show the retry chain that led to an execution, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts.Config)
			if err != nil {
				return err
			}
			defer s.Close()

			chain, err := s.Orchestrator.Lineage(cmd.Context(), args[0])
			if err != nil {
				return fromOrchestrator("lineage lookup failed", err)
			}
			return writeJSON(cmd.OutOrStdout(), chain)
		},
	}
}
