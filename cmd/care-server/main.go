package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/JavidSumra/care-be/internal/config"
	"github.com/JavidSumra/care-be/internal/domain/facility"
	"github.com/JavidSumra/care-be/internal/domain/user"
	"github.com/JavidSumra/care-be/internal/platform/auth"
	"github.com/JavidSumra/care-be/internal/platform/db"
	"github.com/JavidSumra/care-be/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "care-server",
		Short: "Patient consultation and consent API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(cacheCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, err := openMigrator(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, err := openMigrator(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func openMigrator(ctx context.Context) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrations.FS), pool.Close, nil
}

// tokenCmd signs a development token with AUTH_SIGNING_KEY. Passing --asset
// issues a device token for a monitoring asset.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			asset, _ := cmd.Flags().GetString("asset")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY is required to issue tokens")
			}

			token, err := auth.IssueToken([]byte(cfg.AuthSigningKey), auth.TokenRequest{
				Subject:  subject,
				AssetID:  asset,
				Issuer:   cfg.AuthIssuer,
				Audience: cfg.AuthAudience,
				TTL:      ttl,
			})
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Username the token authenticates as")
	cmd.Flags().String("asset", "", "Asset external id for device tokens")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

// cacheCmd drops cached facility memberships for users whose facility or
// organization links were changed outside the API.
func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached facility memberships",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "invalidate USERNAME...",
		Short: "Drop the cached accessible facilities of the given users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2, MinConns: 1})
			if err != nil {
				return err
			}
			defer pool.Close()
			kv, closeKV, err := newKV(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			defer closeKV()

			resolver := facility.NewResolver(facility.NewRepo(pool), kv, cfg.FacilityCacheTTL, nil, zerolog.Nop())
			n, err := invalidateMemberships(ctx, user.NewRepo(pool), resolver, args)
			if err != nil {
				return err
			}
			fmt.Printf("Invalidated %d user(s).\n", n)
			return nil
		},
	})
	return cmd
}

type usernameLookup interface {
	GetByUsername(ctx context.Context, username string) (*user.User, error)
}

func invalidateMemberships(ctx context.Context, users usernameLookup, resolver *facility.Resolver, usernames []string) (int, error) {
	for i, name := range usernames {
		u, err := users.GetByUsername(ctx, name)
		if err != nil {
			return i, fmt.Errorf("look up %s: %w", name, err)
		}
		if err := resolver.Invalidate(ctx, u.ID); err != nil {
			return i, fmt.Errorf("invalidate %s: %w", name, err)
		}
	}
	return len(usernames), nil
}
