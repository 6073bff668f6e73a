// cmd/escrowctl/commands.go
package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/impactlink/escrow-backend/internal/app"
	"github.com/impactlink/escrow-backend/internal/config"
	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/services"
	"github.com/impactlink/escrow-backend/internal/utils"
)

func buildApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return app.Build(cmd.Context(), cfg, app.NewLogger(cfg.Log))
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Migrate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Retry payouts of approved but unpaid milestones",
		Long: `Runs one payout sweep, the same job the server's reconciler runs on a schedule.

Milestones whose organization still has no payout account are reported as deferred.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sweep, err := a.Transfers.PayoutApproved(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d paid=%d deferred=%d failed=%d\n",
				sweep.Attempted, sweep.Paid, sweep.Deferred, sweep.Failed)
			if sweep.Failed > 0 {
				return fmt.Errorf("%d payouts failed", sweep.Failed)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum milestones to pay out")
	return cmd
}

func quoteCmd() *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "quote [grant-amount]",
		Short: "Price a grant (amount in minor units)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid grant amount %q: %w", args[0], err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fees, err := services.NewFeeCalculator(cfg.Payment)
			if err != nil {
				return err
			}

			quote, err := fees.Calculate(amount, models.ServiceTier(tier))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(quote)
		},
	}
	cmd.Flags().StringVarP(&tier, "tier", "t", string(models.ServiceTierStandard), "service tier (basic, standard, enhanced)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID  string
		role    string
		orgID   string
		company string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an access token with the configured secret (local and staging use)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Environment == "production" {
				return fmt.Errorf("refusing to mint tokens in production")
			}
			switch models.UserRole(role) {
			case models.UserRoleAdmin, models.UserRoleCompany, models.UserRoleOrganization:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			if userID == "" {
				userID = uuid.NewString()
			}

			utils.SetJWTSecret(cfg.JWT.SecretKey, cfg.JWT.Issuer)
			token, err := utils.GenerateJWT(utils.JWTClaims{
				UserID:         userID,
				Role:           role,
				OrganizationID: orgID,
				CompanyID:      company,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (random when empty)")
	cmd.Flags().StringVar(&role, "role", string(models.UserRoleAdmin), "company, organization or admin")
	cmd.Flags().StringVar(&orgID, "organization", "", "organization id claim")
	cmd.Flags().StringVar(&company, "company", "", "company id claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
