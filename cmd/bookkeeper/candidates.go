package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/cli"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/evidence"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
)

func candidatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Manage rule candidates built from correction evidence",
	}

	cmd.AddCommand(candidatesListCmd())
	cmd.AddCommand(candidatesAcceptCmd())
	cmd.AddCommand(candidatesRejectCmd())
	cmd.AddCommand(candidatesAutoCmd())
	cmd.AddCommand(candidatesIngestCmd())

	return cmd
}

func candidatesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List candidates and their running statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			statusFlag, _ := cmd.Flags().GetString("status")

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			candidates, err := store.ListCandidates(cmd.Context(), model.CandidateStatus(statusFlag))
			if err != nil {
				return err
			}

			policy := loadPromotionPolicy()
			promoter := evidence.NewPromoter(store, policy)

			fmt.Println(cli.TitleStyle.Render("Rule candidates"))
			for i := range candidates {
				c := &candidates[i]
				marker := " "
				if promoter.Ready(c) {
					marker = cli.SuccessStyle.Render("*")
				}
				fmt.Printf("  %s #%-4d %-9s %-30s -> %-24s n=%-3d avg=%.3f var=%.4f\n",
					marker, c.ID, c.Status, c.VendorNormalized, c.SuggestedAccount,
					c.ObsCount, c.AvgConfidence, c.Variance())
			}
			return nil
		},
	}
	cmd.Flags().String("status", "pending", "filter by status (pending, accepted, rejected, empty for all)")
	return cmd
}

func candidatesAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <candidate-id>",
		Short: "Accept a pending candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decidedBy, _ := cmd.Flags().GetString("by")

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid candidate id %q: %w", args[0], err)
			}

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			promoter := evidence.NewPromoter(store, loadPromotionPolicy())
			if err := promoter.Accept(cmd.Context(), id, decidedBy); err != nil {
				return err
			}
			fmt.Println(cli.SuccessStyle.Render(fmt.Sprintf("candidate %d accepted", id)))
			return nil
		},
	}
	cmd.Flags().String("by", "operator", "who decided")
	return cmd
}

func candidatesRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <candidate-id>",
		Short: "Reject a pending candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decidedBy, _ := cmd.Flags().GetString("by")
			reason, _ := cmd.Flags().GetString("reason")

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid candidate id %q: %w", args[0], err)
			}

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			promoter := evidence.NewPromoter(store, loadPromotionPolicy())
			if err := promoter.Reject(cmd.Context(), id, reason, decidedBy); err != nil {
				return err
			}
			fmt.Println(cli.SuccessStyle.Render(fmt.Sprintf("candidate %d rejected", id)))
			return nil
		},
	}
	cmd.Flags().String("by", "operator", "who decided")
	cmd.Flags().String("reason", "", "rejection reason")
	return cmd
}

func candidatesAutoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auto-promote",
		Short: "Accept every pending candidate meeting the promotion policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var currentRules []model.RuleDefinition
			if current, err := store.GetCurrentRuleVersion(cmd.Context()); err == nil {
				currentRules = current.Rules
			}

			promoter := evidence.NewPromoter(store, loadPromotionPolicy())
			accepted, err := promoter.AutoPromoteReady(cmd.Context(), currentRules)
			if err != nil {
				return err
			}

			fmt.Println(cli.SuccessStyle.Render(fmt.Sprintf("accepted %d candidate(s)", len(accepted))))
			for _, c := range accepted {
				fmt.Printf("  #%d %s -> %s (avg=%.3f, n=%d)\n",
					c.ID, c.VendorNormalized, c.SuggestedAccount, c.AvgConfidence, c.ObsCount)
			}
			return nil
		},
	}
}

func candidatesIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Turn corrected audit entries into rule evidence",
		Long: `Scan the audit trail for entries a human has acted on and feed each
correction into the evidence aggregator.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			sinceRaw, _ := cmd.Flags().GetString("since")
			limit, _ := cmd.Flags().GetInt("limit")

			since, err := sinceFlag(sinceRaw)
			if err != nil {
				return err
			}

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.GetAuditEntries(cmd.Context(), service.AuditFilter{
				TenantID: tenant,
				Since:    since,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			aggregator := evidence.NewAggregator(store)
			ingested := 0
			for _, entry := range entries {
				account, ok := correctedAccount(entry)
				if !ok || entry.VendorNormalized == "" {
					continue
				}
				_, err := aggregator.AddEvidence(cmd.Context(), model.RuleEvidence{
					ObservedAt:       entry.Timestamp,
					TransactionID:    entry.TransactionID,
					VendorNormalized: entry.VendorNormalized,
					Account:          account,
					Source:           "audit_ingest",
					Confidence:       1.0,
				})
				if err != nil {
					return err
				}
				ingested++
			}

			fmt.Println(cli.SuccessStyle.Render(fmt.Sprintf("ingested %d correction(s) from %d audit entries", ingested, len(entries))))
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "limit to one tenant")
	cmd.Flags().String("since", "720h", "look-back window (Go duration)")
	cmd.Flags().Int("limit", 1000, "maximum audit entries to scan")
	return cmd
}

// correctedAccount extracts the account from a "corrected:<account>" or
// "confirmed:<account>" user action.
func correctedAccount(entry model.DecisionAuditEntry) (string, bool) {
	for _, prefix := range []string{"corrected:", "confirmed:"} {
		if len(entry.UserAction) > len(prefix) && entry.UserAction[:len(prefix)] == prefix {
			return entry.UserAction[len(prefix):], true
		}
	}
	return "", false
}
