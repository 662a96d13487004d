package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/cli"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
)

func tenantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Manage per-tenant configuration overrides",
	}

	cmd.AddCommand(tenantsShowCmd())
	cmd.AddCommand(tenantsSetCmd())

	return cmd
}

func tenantsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <tenant-id>",
		Short: "Show a tenant's overrides",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			tenant, err := store.GetTenant(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, common.ErrNotFound) {
					fmt.Println(cli.SubtleStyle.Render("no overrides; global configuration applies"))
					return nil
				}
				return err
			}

			fmt.Println(cli.TitleStyle.Render("Tenant: " + tenant.ID))
			if tenant.AutoPostMin != nil {
				fmt.Printf("  %s %.2f\n", cli.LabelStyle.Render("auto-post min:"), *tenant.AutoPostMin)
			}
			if tenant.SpendCapUSD != nil {
				fmt.Printf("  %s $%.2f\n", cli.LabelStyle.Render("spend cap:"), *tenant.SpendCapUSD)
			}
			if tenant.AutoPostMin == nil && tenant.SpendCapUSD == nil {
				fmt.Println(cli.SubtleStyle.Render("  no overrides set"))
			}
			fmt.Printf("  %s %s\n", cli.LabelStyle.Render("updated:"), tenant.UpdatedAt.Format("2006-01-02 15:04"))
			return nil
		},
	}
}

func tenantsSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <tenant-id>",
		Short: "Set or clear a tenant's overrides",
		Long: `Set per-tenant overrides for the auto-post threshold and the LLM spend
cap. Omitted flags are left unchanged; pass a negative value to clear
an override back to the global default.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			tenant, err := store.GetTenant(cmd.Context(), args[0])
			if err != nil {
				if !errors.Is(err, common.ErrNotFound) {
					return err
				}
				tenant = &model.Tenant{ID: args[0]}
			}

			if cmd.Flags().Changed("auto-post-min") {
				v, _ := cmd.Flags().GetFloat64("auto-post-min")
				if v < 0 {
					tenant.AutoPostMin = nil
				} else if v > 1 {
					return fmt.Errorf("auto-post-min must be within [0, 1], got %.2f", v)
				} else {
					tenant.AutoPostMin = &v
				}
			}
			if cmd.Flags().Changed("spend-cap") {
				v, _ := cmd.Flags().GetFloat64("spend-cap")
				if v < 0 {
					tenant.SpendCapUSD = nil
				} else {
					tenant.SpendCapUSD = &v
				}
			}
			tenant.UpdatedAt = time.Now()

			if err := store.SaveTenant(cmd.Context(), tenant); err != nil {
				return err
			}
			fmt.Println(cli.SuccessStyle.Render("tenant " + tenant.ID + " updated"))
			return nil
		},
	}
	cmd.Flags().Float64("auto-post-min", -1, "per-tenant auto-post threshold (negative clears)")
	cmd.Flags().Float64("spend-cap", -1, "per-tenant LLM spend cap in USD (negative clears)")
	return cmd
}
