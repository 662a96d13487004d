package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/cli"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the versioned rule set",
	}

	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesShowCmd())
	cmd.AddCommand(rulesImportCmd())
	cmd.AddCommand(rulesExportCmd())
	cmd.AddCommand(rulesRollbackCmd())
	cmd.AddCommand(rulesPromoteCmd())
	cmd.AddCommand(rulesDryRunCmd())

	return cmd
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rule versions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			versions, err := store.ListRuleVersions(cmd.Context(), limit)
			if err != nil {
				return err
			}

			fmt.Println(cli.TitleStyle.Render("Rule versions"))
			for _, v := range versions {
				fmt.Printf("  v%-4d %s  %-20s  %3d rules  %s\n",
					v.VersionID,
					v.CreatedAt.Format("2006-01-02 15:04"),
					v.Author,
					v.RuleCount,
					cli.SubtleStyle.Render(v.Notes))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum versions to list")
	return cmd
}

func rulesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [version-id]",
		Short: "Show the rules in a version (default: current)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			version, err := resolveVersion(cmd, store, args)
			if err != nil {
				return err
			}

			fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("Version %d (%s)", version.VersionID, version.Author)))
			if version.Notes != "" {
				fmt.Println(cli.SubtleStyle.Render(version.Notes))
			}
			for _, rule := range version.Rules {
				state := cli.SuccessStyle.Render("on ")
				if !rule.Enabled {
					state = cli.ErrorStyle.Render("off")
				}
				fmt.Printf("  %s p%-3d %-14s %-30q -> %s (%.2f)\n",
					state, rule.Priority, rule.Type, rule.Pattern, rule.Account, rule.Confidence)
			}
			return nil
		},
	}
}

func rulesImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create a new version from a rule definition file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("file")
			author, _ := cmd.Flags().GetString("author")
			notes, _ := cmd.Flags().GetString("notes")

			data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
			if err != nil {
				return fmt.Errorf("failed to read rules file: %w", err)
			}
			var ruleDefs []model.RuleDefinition
			if err := json.Unmarshal(data, &ruleDefs); err != nil {
				return fmt.Errorf("failed to parse rules file: %w", err)
			}

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			created, err := rules.NewVersionStore(store).CreateVersion(cmd.Context(), ruleDefs, author, notes)
			if err != nil {
				return err
			}

			fmt.Println(cli.SuccessStyle.Render(fmt.Sprintf("created version %d with %d rules", created.VersionID, created.RuleCount)))
			return nil
		},
	}
	cmd.Flags().String("file", "", "JSON file of rule definitions (required)")
	cmd.Flags().String("author", "operator", "author recorded on the version")
	cmd.Flags().String("notes", "", "free-text notes")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func rulesExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [version-id]",
		Short: "Write a version as a human-diffable JSON file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("output")

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			version, err := resolveVersion(cmd, store, args)
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(version, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode version: %w", err)
			}
			if out == "" {
				fmt.Println(string(encoded))
				return nil
			}
			if err := os.WriteFile(out, encoded, 0600); err != nil {
				return fmt.Errorf("failed to write version file: %w", err)
			}
			fmt.Println(cli.SubtleStyle.Render("wrote " + out))
			return nil
		},
	}
	cmd.Flags().String("output", "", "destination file (default: stdout)")
	return cmd
}

func rulesRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <version-id>",
		Short: "Create a new version copying a historical one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			author, _ := cmd.Flags().GetString("author")

			var versionID int64
			if _, err := fmt.Sscanf(args[0], "%d", &versionID); err != nil {
				return fmt.Errorf("invalid version id %q: %w", args[0], err)
			}

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			created, err := rules.NewVersionStore(store).Rollback(cmd.Context(), versionID, author)
			if err != nil {
				return err
			}

			fmt.Println(cli.SuccessStyle.Render(fmt.Sprintf("rolled back to version %d as new version %d", versionID, created.VersionID)))
			return nil
		},
	}
	cmd.Flags().String("author", "operator", "author recorded on the rollback version")
	return cmd
}

func rulesPromoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Fold accepted candidates into a new rule version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			author, _ := cmd.Flags().GetString("author")

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			created, err := rules.NewVersionStore(store).PromoteAccepted(cmd.Context(), author)
			if err != nil {
				return err
			}

			fmt.Println(cli.SuccessStyle.Render(fmt.Sprintf("created version %d: %s", created.VersionID, created.Notes)))
			return nil
		},
	}
	cmd.Flags().String("author", "operator", "author recorded on the promotion version")
	return cmd
}

func rulesDryRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Simulate a candidate rule set against sample transactions",
		Long: `Evaluate a candidate rule file against a sample of transactions without
touching the active version, and report automation-rate changes,
reclassifications, and safety flags.`,
		RunE: runDryRun,
	}
	cmd.Flags().String("rules", "", "JSON file with the candidate rule set (required)")
	cmd.Flags().String("sample", "", "JSON file of sample transactions (required)")
	_ = cmd.MarkFlagRequired("rules")
	_ = cmd.MarkFlagRequired("sample")
	return cmd
}

func runDryRun(cmd *cobra.Command, _ []string) error {
	rulesPath, _ := cmd.Flags().GetString("rules")
	samplePath, _ := cmd.Flags().GetString("sample")

	rulesData, err := os.ReadFile(rulesPath) // #nosec G304 -- operator-supplied path
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}
	var candidateRules []model.RuleDefinition
	if err := json.Unmarshal(rulesData, &candidateRules); err != nil {
		return fmt.Errorf("failed to parse rules file: %w", err)
	}

	sampleData, err := os.ReadFile(samplePath) // #nosec G304 -- operator-supplied path
	if err != nil {
		return fmt.Errorf("failed to read sample file: %w", err)
	}
	var sample []model.Transaction
	if err := json.Unmarshal(sampleData, &sample); err != nil {
		return fmt.Errorf("failed to parse sample file: %w", err)
	}

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	bar := progressbar.Default(int64(len(sample)), "simulating")
	opts := rules.DefaultImpactOptions()
	opts.AutoPostMin = loadBlendConfig().AutoPostMin
	opts.OnProgress = func(done, _ int) {
		_ = bar.Set(done)
	}

	report, err := rules.NewVersionStore(store).DryRunImpact(cmd.Context(), candidateRules, sample, opts)
	if err != nil {
		return err
	}
	_ = bar.Finish()

	fmt.Println(cli.TitleStyle.Render("Dry-run impact report"))
	fmt.Printf("  %s %d transactions\n", cli.LabelStyle.Render("sample:"), report.SampleSize)
	fmt.Printf("  %s %.1f%% -> %.1f%%\n", cli.LabelStyle.Render("automation rate:"),
		report.AutomationRateBefore*100, report.AutomationRateAfter*100)
	fmt.Printf("  %s %d\n", cli.LabelStyle.Render("reclassified:"), report.ReclassifiedCount)
	fmt.Printf("  %s %d -> %d\n", cli.LabelStyle.Render("conflicts:"),
		report.ConflictCountBefore, report.ConflictCountAfter)

	for _, flag := range report.Flags {
		fmt.Println("  " + cli.WarningStyle.Render("! "+flag))
	}
	for _, sample := range report.Samples {
		fmt.Printf("  %s %s: %s -> %s\n",
			cli.SubtleStyle.Render(sample.TransactionID),
			sample.Vendor, sample.AccountBefore, sample.AccountAfter)
	}
	return nil
}

func resolveVersion(cmd *cobra.Command, store storageWithVersions, args []string) (*model.RuleVersion, error) {
	if len(args) == 0 {
		return store.GetCurrentRuleVersion(cmd.Context())
	}
	var versionID int64
	if _, err := fmt.Sscanf(args[0], "%d", &versionID); err != nil {
		return nil, fmt.Errorf("invalid version id %q: %w", args[0], err)
	}
	return store.GetRuleVersion(cmd.Context(), versionID)
}

type storageWithVersions interface {
	GetCurrentRuleVersion(ctx context.Context) (*model.RuleVersion, error)
	GetRuleVersion(ctx context.Context, versionID int64) (*model.RuleVersion, error)
}
