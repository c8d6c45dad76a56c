package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/minus-twelve/ledgerauth"
	"github.com/minus-twelve/ledgerauth/internal/app"
)

const offlineNote = `
The store is rewritten as a whole snapshot. Run this against a stopped
server, otherwise the server's next write undoes the change.`

func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show session counts of the persisted store",
		Long:  "Reads the persisted store without modifying it and prints session counts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			backend, err := ledgerauth.CreateBackend(cmd.Context(), cfg.Store, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			records, err := backend.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load sessions: %w", err)
			}

			now := time.Now()
			total, active := len(records), 0
			users := make(map[string]struct{})
			for _, rec := range records {
				if rec.Valid(now) {
					active++
					users[rec.UserID] = struct{}{}
				}
			}

			return printResult(cmd.OutOrStdout(), rootOpts.Format, map[string]any{
				"backend":          backendName(cfg),
				"total_sessions":   total,
				"active_sessions":  active,
				"expired_sessions": total - active,
				"active_users":     len(users),
			})
		},
	}
}

func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired and inactive sessions from the store",
		Long:  "Removes expired and inactive sessions from the persisted store." + offlineNote,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var before, after int
			err := withManager(cmd, rootOpts, func(ctx context.Context, mgr *ledgerauth.Manager, backend ledgerauth.Backend) error {
				// Counted from the backend: NewManager already dropped
				// expired records from memory.
				before = mgr.GetStats().Total
				if records, err := backend.Load(ctx); err == nil {
					before = len(records)
				}
				mgr.CleanupExpiredSessions(ctx)
				after = mgr.GetStats().Total
				return nil
			})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts.Format, map[string]any{
				"removed":   before - after,
				"remaining": after,
			})
		},
	}
}

func NewRevokeCommand(rootOpts *RootOptions) *cobra.Command {
	var userID, sessionID string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Invalidate the sessions of a user or a single session",
		Long:  "Invalidates every session of --user, or the single --session." + offlineNote,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (userID == "") == (sessionID == "") {
				return errors.New("exactly one of --user or --session is required")
			}

			revoked := 0
			err := withManager(cmd, rootOpts, func(ctx context.Context, mgr *ledgerauth.Manager, _ ledgerauth.Backend) error {
				if userID != "" {
					revoked = mgr.InvalidateUserSessions(ctx, userID)
					return nil
				}
				if mgr.InvalidateSession(ctx, sessionID) {
					revoked = 1
				}
				return nil
			})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts.Format, map[string]any{
				"revoked": revoked,
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id whose sessions are revoked")
	cmd.Flags().StringVar(&sessionID, "session", "", "single session id to revoke")
	return cmd
}

// withManager opens the configured store, runs fn and flushes the result.
func withManager(cmd *cobra.Command, rootOpts *RootOptions, fn func(context.Context, *ledgerauth.Manager, ledgerauth.Backend) error) error {
	cfg, logger, err := loadConfig(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	backend, err := ledgerauth.CreateBackend(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}

	mgr, err := ledgerauth.NewManager(ctx, backend, cfg.ManagerOptions(logger)...)
	if err != nil {
		_ = backend.Close()
		return err
	}

	runErr := fn(ctx, mgr, backend)
	return errors.Join(runErr, mgr.Close(ctx))
}

func backendName(cfg app.Config) string {
	if cfg.Store.Type == "" {
		return ledgerauth.BackendFile
	}
	return cfg.Store.Type
}
