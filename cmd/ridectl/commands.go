package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/campus-rides/internal/community"
	"github.com/example/campus-rides/internal/storage"
	"github.com/example/campus-rides/internal/university"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ridectl",
		Short:         "Operate a campus-rides deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newNormalizeCmd(), newResolveCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return errors.New("no database: pass --dsn or set PG_DSN")
			}
			ps, err := storage.NewPostgresStore(dsn)
			if err != nil {
				return err
			}
			defer ps.Close()
			applied, err := storage.Migrate(cmd.Context(), ps.DB())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", os.Getenv("PG_DSN"), "Postgres connection string")
	return cmd
}

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize NAME...",
		Short: "Show the community each name maps to",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			for _, raw := range args {
				if n, ok := community.Normalize(raw); ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%q -> %s\n", raw, n)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%q -> (none)\n", raw)
				}
			}
		},
	}
}

func newResolveCmd() *cobra.Command {
	var (
		apiKey, baseURL, model string
		timeout                time.Duration
	)
	cmd := &cobra.Command{
		Use:   "resolve EMAIL",
		Short: "Resolve the university behind an email address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			var detector university.Detector
			if apiKey != "" {
				d, err := university.NewOpenAIDetector(apiKey, baseURL, model, logger)
				if err != nil {
					return err
				}
				detector = d
			}
			r := university.NewResolver(detector, nil, university.Options{Timeout: timeout, Logger: logger})
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout+2*time.Second)
			defer cancel()
			res := r.Resolve(ctx, args[0])

			out := map[string]any{"valid": res.Valid}
			if res.Valid {
				out["college"] = res.College
				out["source"] = res.Info.Source()
				out["university_info"] = res.Info
			} else {
				out["error"] = res.Error
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("GROQ_API_KEY"), "detector API key")
	cmd.Flags().StringVar(&baseURL, "base-url", os.Getenv("GROQ_BASE_URL"), "OpenAI-compatible API base URL")
	cmd.Flags().StringVar(&model, "model", os.Getenv("GROQ_MODEL"), "detector model")
	cmd.Flags().DurationVar(&timeout, "timeout", 8*time.Second, "detector timeout")
	return cmd
}
