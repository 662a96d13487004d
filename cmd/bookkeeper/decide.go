package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/cli"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/engine"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
)

// decideInput is one record of the decide batch file. Classifier and LLM
// scores are produced upstream and travel with the transaction.
type decideInput struct {
	Transaction model.Transaction   `json:"transaction"`
	Journal     *model.JournalEntry `json:"journal,omitempty"`
	ML          *scoreInput         `json:"ml,omitempty"`
	LLM         *scoreInput         `json:"llm,omitempty"`
}

type scoreInput struct {
	Account  string            `json:"account"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func decideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Run transactions through the decision pipeline",
		Long: `Read a JSON batch of transactions (with upstream classifier and optional
LLM validator scores embedded), blend the signals, apply the auto-post gate,
and write one audit entry per decision.`,
		RunE: runDecide,
	}

	cmd.Flags().String("input", "", "JSON file of transactions to decide (required)")
	cmd.Flags().String("output", "", "write decision outputs as JSON to this file")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runDecide(cmd *cobra.Command, _ []string) error {
	inputPath, _ := cmd.Flags().GetString("input")
	outputPath, _ := cmd.Flags().GetString("output")

	data, err := os.ReadFile(inputPath) // #nosec G304 -- operator-supplied path
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	var inputs []decideInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return fmt.Errorf("failed to parse input file: %w", err)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("input file contains no transactions")
	}

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()

	mlScores := make(map[string]model.SignalScore)
	llmScores := make(map[string]model.SignalScore)
	reqs := make([]engine.Request, 0, len(inputs))
	for _, in := range inputs {
		if in.ML != nil {
			mlScores[in.Transaction.ID] = model.SignalScore{
				Account:  in.ML.Account,
				Score:    in.ML.Score,
				Metadata: in.ML.Metadata,
			}
		}
		if in.LLM != nil {
			llmScores[in.Transaction.ID] = model.SignalScore{
				Account:  in.LLM.Account,
				Score:    in.LLM.Score,
				Metadata: in.LLM.Metadata,
			}
		}
		reqs = append(reqs, engine.Request{
			Transaction: in.Transaction,
			Journal:     in.Journal,
		})
	}

	reqs, dropped := engine.DedupeRequests(reqs)
	if len(dropped) > 0 {
		fmt.Println(cli.WarningStyle.Render(fmt.Sprintf("skipped %d duplicate transaction(s)", len(dropped))))
	}

	eng, err := buildEngine(ctx, store,
		engine.NewStaticProvider(model.SourceML, mlScores),
		engine.NewStaticProvider(model.SourceLLM, llmScores))
	if err != nil {
		return err
	}

	outputs, err := eng.DecideAll(ctx, reqs)
	if err != nil {
		return err
	}

	byRoute := make(map[model.Route]int)
	for _, out := range outputs {
		if out != nil {
			byRoute[out.Route]++
		}
	}

	fmt.Println(cli.TitleStyle.Render("Decision summary"))
	fmt.Printf("  %s %d\n", cli.SuccessStyle.Render("auto_post:"), byRoute[model.RouteAutoPost])
	fmt.Printf("  %s %d\n", cli.WarningStyle.Render("needs_review:"), byRoute[model.RouteNeedsReview])
	fmt.Printf("  %s %d\n", cli.WarningStyle.Render("llm_validation:"), byRoute[model.RouteLLMValidation])
	fmt.Printf("  %s %d\n", cli.ErrorStyle.Render("human_review:"), byRoute[model.RouteHumanReview])

	if outputPath != "" {
		encoded, err := json.MarshalIndent(outputs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode outputs: %w", err)
		}
		if err := os.WriteFile(outputPath, encoded, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Println(cli.SubtleStyle.Render("wrote " + outputPath))
	}

	return nil
}

func correctCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct <audit-ref> <account>",
		Short: "Record a human correction for a reviewed decision",
		Long: `Mark an audit entry with the human-chosen account. The correction becomes
rule evidence and updates the vendor's cold-start history.`,
		Args: cobra.ExactArgs(2),
		RunE: runCorrect,
	}

	cmd.Flags().Float64("confidence", 1.0, "confidence to attach to the correction evidence")

	return cmd
}

func runCorrect(cmd *cobra.Command, args []string) error {
	confidence, _ := cmd.Flags().GetFloat64("confidence")

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	eng, err := buildEngine(ctx, store, nil, nil)
	if err != nil {
		return err
	}

	if err := eng.RecordCorrection(ctx, args[0], args[1], confidence); err != nil {
		return err
	}

	fmt.Println(cli.SuccessStyle.Render("correction recorded"))
	return nil
}
