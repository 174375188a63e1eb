package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"apex-api/internal/adapters/repo"
	"apex-api/internal/domain"
	"apex-api/internal/infra/config"
	"apex-api/internal/usecase/records"
)

const commandTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session хранит открытое хранилище на время одной команды.
type session struct {
	store repo.Store
	svc   *records.Service
	close func()
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, closeStore, err := repo.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	svc := records.NewService(store, store,
		records.WithHealthChecker(store),
		records.WithMaxLimit(cfg.Limits.ListMax),
		records.WithLogger(zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.WarnLevel)),
	)
	return &session{store: store, svc: svc, close: closeStore}, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "recordctl",
		Short:         "Administer the memory and feedback store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSchemaCmd(), newMemoryCmd(), newFeedbackCmd(), newHealthCmd())
	return root
}

func newSchemaCmd() *cobra.Command {
	schema := &cobra.Command{
		Use:   "schema",
		Short: "Manage database schema",
	}
	schema.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create the memory and feedback tables if they are missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.store.EnsureSchema(ctx); err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), map[string]string{"status": "ok"})
			})
		},
	})
	return schema
}

func newMemoryCmd() *cobra.Command {
	var tenant, user, sessionID string
	var limit int

	memory := &cobra.Command{
		Use:   "memory",
		Short: "Inspect conversation memory entries",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent memory entries of a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				entries, err := s.svc.ListMemory(ctx, domain.MemoryFilter{
					TenantID:  tenant,
					UserID:    user,
					SessionID: sessionID,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), entries)
			})
		},
	}
	list.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	list.Flags().StringVar(&user, "user", "", "filter by user id")
	list.Flags().StringVar(&sessionID, "session", "", "filter by session id")
	list.Flags().IntVar(&limit, "limit", 0, "maximum number of entries")
	_ = list.MarkFlagRequired("tenant")
	memory.AddCommand(list)
	return memory
}

func newFeedbackCmd() *cobra.Command {
	var tenant, user, response string
	var limit int

	feedback := &cobra.Command{
		Use:   "feedback",
		Short: "Inspect response feedback",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent feedback of a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				entries, err := s.svc.ListFeedback(ctx, domain.FeedbackFilter{
					TenantID:   tenant,
					UserID:     user,
					ResponseID: response,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), entries)
			})
		},
	}
	list.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	list.Flags().StringVar(&user, "user", "", "filter by user id")
	list.Flags().StringVar(&response, "response", "", "filter by response id")
	list.Flags().IntVar(&limit, "limit", 0, "maximum number of entries")
	_ = list.MarkFlagRequired("tenant")
	feedback.AddCommand(list)
	return feedback
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check storage connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return writeOutput(cmd.OutOrStdout(), s.svc.Health(ctx))
			})
		},
	}
}

func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func writeOutput(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
