package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mtliendo/circular-dashboard-design/internal/billing"
	"github.com/mtliendo/circular-dashboard-design/internal/logging"
	"github.com/mtliendo/circular-dashboard-design/pkg/entitlements"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "circular",
	Short:         "Circular - plan entitlements and Stripe billing reconciliation",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the billing HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return billing.Run(cmd.Context(), Version)
	},
}

var replayFlags struct {
	includeFailed bool
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay pending entitlement applications once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.Config{Format: "auto", Level: "info", Component: "replay"})

		cfg, err := billing.LoadConfig()
		if err != nil {
			return err
		}
		svc, err := billing.NewService(cmd.Context(), cfg, Version)
		if err != nil {
			return err
		}
		defer svc.Close()

		if replayFlags.includeFailed {
			if _, err := svc.Reconciler.RequeueFailed(); err != nil {
				return err
			}
		}
		result, err := svc.Reconciler.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		if result.Failed > 0 {
			log.Warn().Int("failed", result.Failed).Int("parked", result.Parked).Msg("Some pending applications could not be replayed")
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

var capabilitiesFlags struct {
	plan    string
	role    string
	roleSet string
}

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Print the capability matrix",
	RunE: func(cmd *cobra.Command, args []string) error {
		plans, roleSets, err := matrixAxes(capabilitiesFlags.plan, capabilitiesFlags.roleSet)
		if err != nil {
			return err
		}
		var onlyRole entitlements.Role
		if capabilitiesFlags.role != "" {
			r, ok := entitlements.ParseRole(capabilitiesFlags.role)
			if !ok {
				return fmt.Errorf("unknown role %q", capabilitiesFlags.role)
			}
			onlyRole = r
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PLAN\tROLE SET\tROLE\tCAPABILITIES")
		for _, plan := range plans {
			for _, rs := range roleSets {
				roles := rs.Roles()
				if onlyRole != "" {
					roles = []entitlements.Role{onlyRole}
				}
				for _, role := range roles {
					caps := entitlements.Evaluate(plan, entitlements.Member{Role: role, RoleSet: rs}).Keys()
					list := strings.Join(caps, ", ")
					if list == "" {
						list = "-"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", plan, rs, role, list)
				}
			}
		}
		return tw.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Circular %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Fprintf(out, "Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Fprintf(out, "Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	replayCmd.Flags().BoolVar(&replayFlags.includeFailed, "include-failed", false, "requeue parked applications before replaying")
	capabilitiesCmd.Flags().StringVar(&capabilitiesFlags.plan, "plan", "", "only this plan tier (free, pro, enterprise)")
	capabilitiesCmd.Flags().StringVar(&capabilitiesFlags.role, "role", "", "only this role")
	capabilitiesCmd.Flags().StringVar(&capabilitiesFlags.roleSet, "role-set", "", "only this role set (default, enterprise)")

	rootCmd.AddCommand(serveCmd, replayCmd, capabilitiesCmd, versionCmd)
}

func matrixAxes(plan, roleSet string) ([]entitlements.PlanTier, []entitlements.RoleSet, error) {
	plans := entitlements.AllPlanTiers
	if plan != "" {
		p, ok := entitlements.ParsePlanTier(plan)
		if !ok {
			return nil, nil, fmt.Errorf("unknown plan %q", plan)
		}
		plans = []entitlements.PlanTier{p}
	}

	roleSets := []entitlements.RoleSet{entitlements.RoleSetDefault, entitlements.RoleSetEnterprise}
	if roleSet != "" {
		rs := entitlements.ParseRoleSet(roleSet)
		if !strings.EqualFold(string(rs), strings.TrimSpace(roleSet)) {
			return nil, nil, fmt.Errorf("unknown role set %q", roleSet)
		}
		roleSets = []entitlements.RoleSet{rs}
	}
	return plans, roleSets, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
