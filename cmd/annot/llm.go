package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/config"
	"github.com/matsen/annot/internal/llm"
	"github.com/matsen/annot/internal/session"
)

var (
	llmFeatures      []string
	llmProvider      string
	llmSystemPrompt  string
	llmMachinePrompt string
	llmBatchSize     int
)

func init() {
	llmAnnotateCmd.Flags().StringArrayVarP(&llmFeatures, "feature", "f", nil, "Limit to category or category:code (repeatable)")
	llmAnnotateCmd.Flags().StringVar(&llmProvider, "provider", "", "Model provider (default from config, else openai)")
	llmAnnotateCmd.Flags().StringVar(&llmSystemPrompt, "system-prompt", "", "File holding the system prompt")
	llmAnnotateCmd.Flags().StringVar(&llmMachinePrompt, "machine-prompt", "", "File holding the task prompt")
	llmAnnotateCmd.Flags().IntVar(&llmBatchSize, "batch-size", 0, "Lines per request (default 20, 25 for claude)")

	llmCmd.AddCommand(llmAnnotateCmd)
	rootCmd.AddCommand(llmCmd)
}

var llmCmd = &cobra.Command{
	Use:   "llm",
	Short: "Annotate transcripts with a language model",
}

var llmAnnotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Annotate the selected transcript with a model and import the result",
	Long: `Annotate the selected transcript with a model and import the result.

Lines are sent to the configured provider endpoint in batches. A failed
batch is reported and the run continues; the imported annotator holds
whatever the successful batches returned.

Requires llm_endpoint (and usually llm_api_key) in the global config or
ANNOT_LLM_ENDPOINT / ANNOT_LLM_API_KEY in the environment or .env.

Examples:
  annot llm annotate -t lesson1
  annot llm annotate -t lesson1 -f Discourse -f Conceptual:reasoning --provider claude`,
	Args: cobra.NoArgs,
	RunE: runLLMAnnotate,
}

// LLMAnnotateResult is the response for llm annotate.
type LLMAnnotateResult struct {
	RunID       string           `json:"run_id"`
	AnnotatorID string           `json:"annotator_id"`
	Provider    string           `json:"provider"`
	Batches     int              `json:"batches"`
	Failed      []llm.BatchError `json:"failed,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// parseFeatureSelection turns category and category:code arguments into
// the per-category code lists a job is limited to.
func parseFeatureSelection(cb *codebook.Codebook, args []string) (map[string][]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	selected := map[string][]string{}
	for _, arg := range args {
		category, code, hasCode := strings.Cut(arg, ":")
		if !cb.HasCategory(category) {
			return nil, fmt.Errorf("%w: %s", codebook.ErrUnknownCategory, category)
		}
		if !hasCode {
			selected[category] = cb.Codes(category)
			continue
		}
		if !cb.HasCode(category, code) {
			return nil, fmt.Errorf("unknown feature %s in category %s", code, category)
		}
		selected[category] = append(selected[category], code)
	}
	return selected, nil
}

func readPrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func runLLMAnnotate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := mustOpenApp(ctx)
	defer a.close(context.Background())

	if a.global.LLMEndpoint == "" {
		a.close(ctx)
		exitWithError(ExitConfigError, "%s", config.HelpfulConfigMessage("llm_endpoint"))
	}

	system, err := readPrompt(llmSystemPrompt)
	if err != nil {
		a.close(ctx)
		exitWithError(ExitError, "%v", err)
	}
	machine, err := readPrompt(llmMachinePrompt)
	if err != nil {
		a.close(ctx)
		exitWithError(ExitError, "%v", err)
	}

	sess, _ := a.mustOpenSession(ctx)
	a.mustHaveRows(ctx, sess)
	st := sess.State()
	if st.Codebook == nil {
		a.close(ctx)
		exitWithError(ExitConfigError, "%v\n\nRun 'annot codebook load <file>' first.", session.ErrNoCodebook)
	}

	features, err := parseFeatureSelection(st.Codebook, llmFeatures)
	if err != nil {
		a.close(ctx)
		exitWithError(ExitDataError, "%v", err)
	}

	provider := llmProvider
	if provider == "" {
		provider = a.global.LLMProvider
	}
	opts := []llm.ClientOption{
		llm.WithEndpoint(a.global.LLMEndpoint),
		llm.WithAPIKey(a.global.LLMAPIKey),
		llm.WithLogger(a.logger),
		llm.WithBatchSize(llmBatchSize),
	}
	if provider != "" {
		opts = append(opts, llm.WithProvider(provider))
	}
	client := llm.NewClient(opts...)

	run, err := client.Annotate(ctx, llm.Job{
		TranscriptID:  transcriptID,
		SystemPrompt:  system,
		MachinePrompt: machine,
		Codebook:      st.Codebook,
		Features:      features,
		Lines:         st.Rows(),
	})
	if err != nil {
		a.close(context.Background())
		exitWithError(llmExitCode(err), "%v", err)
	}

	data, _, err := run.AnnotatorData(st.Annotators, st.Codebook)
	if err != nil {
		a.close(ctx)
		exitWithError(exitCodeFor(err), "%v", err)
	}
	res := a.mustDo(ctx, sess, session.AddAnnotator{Data: data})

	result := LLMAnnotateResult{
		RunID:       run.ID,
		AnnotatorID: data.AnnotatorID,
		Provider:    run.Provider,
		Batches:     run.Batches,
		Failed:      run.Failed,
		Warnings:    warningStrings(res.Warnings),
	}
	if humanOutput {
		outputHuman("Imported %s (%d batches, %d failed)\n", result.AnnotatorID, result.Batches, len(result.Failed))
		for _, f := range result.Failed {
			outputHuman("  lines %d-%d: %s\n", f.FirstLine, f.LastLine, f.Message)
		}
		return nil
	}
	return outputJSON(result)
}

// llmExitCode maps client errors to exit codes.
func llmExitCode(err error) int {
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, llm.ErrAuthError):
		return ExitLLMAuthError
	case errors.Is(err, llm.ErrNoEndpoint):
		return ExitConfigError
	case errors.Is(err, llm.ErrRateLimited), errors.Is(err, llm.ErrInvalidResponse), errors.As(err, &apiErr):
		return ExitLLMAPIError
	default:
		return ExitError
	}
}
