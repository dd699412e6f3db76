package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tubepilot.app/internal/billing"
	"tubepilot.app/internal/config"
	"tubepilot.app/internal/entitlement"
	"tubepilot.app/internal/identity"
)

var accessJSON bool

// accessCmd groups entitlement commands.
var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Inspect paid access",
}

// accessCheckCmd runs the entitlement oracle for one email.
var accessCheckCmd = &cobra.Command{
	Use:   "check EMAIL",
	Short: "Report whether an email has paid access",
	Long: `Evaluate the same allow-list and Stripe subscription rules the server
applies to a logged-in creator. Billing failures report as denied.`,
	Args: cobra.ExactArgs(1),
	RunE: runAccessCheck,
}

func init() {
	accessCheckCmd.Flags().BoolVar(&accessJSON, "json", false, "Print the decision as JSON")
	accessCmd.AddCommand(accessCheckCmd)
}

type accessReport struct {
	Email    string             `json:"email"`
	Entitled bool               `json:"entitled"`
	Reason   entitlement.Reason `json:"reason"`
}

func runAccessCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	oracle := newOracle(cfg)
	email := identity.NormalizeEmail(args[0])

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.BillingTimeout()*2)
	defer cancel()
	d := oracle.Check(ctx, email)
	return printDecision(cmd.OutOrStdout(), accessReport{Email: email, Entitled: d.Entitled, Reason: d.Reason}, accessJSON)
}

func newOracle(cfg *config.Config) *entitlement.Oracle {
	var provider entitlement.BillingProvider
	if cfg.BillingConfigured() {
		provider = billing.NewStripe(cfg.Billing.StripeAPIKey,
			billing.WithBackendURL(cfg.Billing.BackendURL),
			billing.WithLogger(logger()),
		)
	}
	return entitlement.New(entitlement.Config{
		AllowList:         cfg.Access.AdminEmails,
		BillingConfigured: cfg.BillingConfigured(),
		Timeout:           cfg.BillingTimeout(),
	}, provider, entitlement.WithLogger(logger()))
}

func printDecision(w io.Writer, r accessReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	verdict := "DENIED"
	if r.Entitled {
		verdict = "GRANTED"
	}
	email := r.Email
	if email == "" {
		email = "(empty)"
	}
	_, err := fmt.Fprintf(w, "%s\t%s\t%s\n", email, verdict, r.Reason)
	return err
}
