package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/RichardoC/sam-ai/internal/chat"
	"github.com/RichardoC/sam-ai/internal/retention"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var sessionID, tool string
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message through the relay and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, opts, func(a *app) error {
				relay, err := a.relay(ctx)
				if err != nil {
					return err
				}
				resp, err := relay.Reply(ctx, chat.Request{
					Message:   strings.Join(args, " "),
					SessionID: sessionID,
					Tool:      tool,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Reply)
				if resp.PersistError != nil {
					return fmt.Errorf("reply was not saved: %w", resp.PersistError)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", chat.DefaultSessionID, "session id")
	cmd.Flags().StringVar(&tool, "tool", "", "tool hint added to the prompt")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Print the stored conversation of a session, oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, opts, func(a *app) error {
				if limit <= 0 {
					limit = a.cfg.Chat.HistoryLimit
				}
				// Raw turns rather than the relay view, so timestamps can be shown.
				turns, err := a.database.Recent(ctx, sessionArg(args), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, t := range turns {
					fmt.Fprintf(out, "[%s] Human: %s\n", t.Timestamp.Format(time.RFC3339), t.UserMessage)
					fmt.Fprintf(out, "[%s] %s: %s\n", t.Timestamp.Format(time.RFC3339), a.cfg.Chat.AssistantName, t.AIResponse)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of turns (defaults to CHAT_HISTORY_LIMIT)")
	return cmd
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [session-id]",
		Short: "Delete the stored turns of a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, opts, func(a *app) error {
				sessionID := sessionArg(args)
				n, err := a.database.Clear(ctx, sessionID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d turns from session %q\n", n, sessionID)
				return nil
			})
		},
	}
}

func newPruneCmd(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete turns older than a maximum age across all sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withApp(ctx, opts, func(a *app) error {
				maxAge := olderThan
				if maxAge <= 0 {
					maxAge = a.cfg.Retention.MaxAge
				}
				if maxAge <= 0 {
					return errors.New("no maximum age: pass --older-than or set RETENTION_MAX_AGE")
				}
				sweeper, err := retention.NewSweeper(a.database, maxAge, a.cfg.Retention.SweepInterval, a.logger.Named("retention"))
				if err != nil {
					return err
				}
				n, err := sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d turns older than %s\n", n, maxAge)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "maximum turn age (defaults to RETENTION_MAX_AGE)")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			// Opening the database applies pending migrations.
			return withApp(ctx, opts, func(a *app) error {
				version, err := a.database.SchemaVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d at %s\n", version, a.cfg.DatabasePath)
				return nil
			})
		},
	}
}

func sessionArg(args []string) string {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return chat.DefaultSessionID
	}
	return strings.TrimSpace(args[0])
}
