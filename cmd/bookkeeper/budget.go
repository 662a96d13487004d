package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/cli"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/gate"
)

func budgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect and reset the LLM budget guardrail",
	}

	cmd.AddCommand(budgetStatusCmd())
	cmd.AddCommand(budgetResetCmd())

	return cmd
}

func budgetStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show spend and fallback state for a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			if tenant == "" {
				return fmt.Errorf("--tenant is required")
			}

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			guardrail := gate.NewBudgetGuardrail(store, loadBudgetConfig())
			status, err := guardrail.Check(cmd.Context(), tenant)
			if err != nil {
				return err
			}

			tenantSpend, err := store.SumLLMSpend(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			globalSpend, err := store.SumLLMSpend(cmd.Context(), "")
			if err != nil {
				return err
			}

			fmt.Println(cli.TitleStyle.Render("Budget status: " + tenant))
			fmt.Printf("  %s $%.2f\n", cli.LabelStyle.Render("tenant spend:"), tenantSpend)
			fmt.Printf("  %s $%.2f\n", cli.LabelStyle.Render("global spend:"), globalSpend)
			if status.ShouldFallback {
				fmt.Printf("  %s %s (%s scope)\n",
					cli.ErrorStyle.Render("fallback active:"), status.Reason, status.Scope)
			} else {
				fmt.Println("  " + cli.SuccessStyle.Render("within budget"))
			}
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "tenant to inspect (required)")
	return cmd
}

func budgetResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset spend accounting for a tenant or the global scope",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			global, _ := cmd.Flags().GetBool("global")
			if tenant == "" && !global {
				return fmt.Errorf("pass --tenant or --global")
			}

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			guardrail := gate.NewBudgetGuardrail(store, loadBudgetConfig())
			if err := guardrail.Reset(cmd.Context(), tenant); err != nil {
				return err
			}

			scope := tenant
			if scope == "" {
				scope = "global"
			}
			fmt.Println(cli.SuccessStyle.Render("budget reset: " + scope))
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "tenant scope to reset")
	cmd.Flags().Bool("global", false, "reset the global scope")
	return cmd
}
