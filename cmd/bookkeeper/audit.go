package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/cli"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the decision audit trail",
	}

	cmd.AddCommand(auditListCmd())
	cmd.AddCommand(auditShowCmd())

	return cmd
}

func auditListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			sinceRaw, _ := cmd.Flags().GetString("since")
			reason, _ := cmd.Flags().GetString("reason")
			route, _ := cmd.Flags().GetString("route")
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

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
				Reason:   model.NotAutoPostReason(reason),
				Route:    model.Route(route),
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			if asJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(entries)
			}

			fmt.Println(cli.TitleStyle.Render("Audit trail"))
			for _, entry := range entries {
				reasonCol := ""
				if entry.NotAutoPostReason != "" {
					reasonCol = cli.WarningStyle.Render(string(entry.NotAutoPostReason))
				}
				acted := ""
				if entry.UserAction != "" {
					acted = cli.SubtleStyle.Render(entry.UserAction)
				}
				fmt.Printf("  %s %s %-12s %-24s %.2f %-14s %s %s\n",
					entry.Timestamp.Format("2006-01-02 15:04"),
					cli.SubtleStyle.Render(entry.ID[:8]),
					entry.TenantID,
					entry.FinalAccount,
					entry.BlendScore,
					entry.Route,
					reasonCol,
					acted)
			}
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "limit to one tenant")
	cmd.Flags().String("since", "", "look-back window (Go duration)")
	cmd.Flags().String("reason", "", "filter by not-auto-post reason")
	cmd.Flags().String("route", "", "filter by final route")
	cmd.Flags().Int("limit", 50, "maximum entries to list")
	cmd.Flags().Bool("json", false, "emit JSON instead of a table")
	return cmd
}

func auditShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <audit-id>",
		Short: "Show one audit entry in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entry, err := store.GetAuditEntry(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(entry)
		},
	}
}
