package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/jobs"
)

var (
	runInput     string
	runFile      string
	runSource    string
	runArchetype string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate a value model for one research document",
	Long: `Submits one research document and processes it in the foreground:
classify the business archetype, generate the value model, validate it,
and record lineage. The finished job is printed as JSON.

Examples:
  # Generate from inline text
  modelgen run --input "Subscription SaaS with tiered seats and annual contracts."

  # Generate from a file, recording where it came from
  modelgen run --file research/acme.txt --source s3://research/acme.txt

  # Skip classification when the archetype is already known
  modelgen run --file research/acme.txt --archetype B3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		text := runInput
		if runFile != "" {
			raw, err := os.ReadFile(runFile)
			if err != nil {
				return eris.Wrapf(err, "read input file %s", runFile)
			}
			text = string(raw)
		}
		if text == "" {
			return eris.New("one of --input or --file is required")
		}

		source := runSource
		if source == "" && runFile != "" {
			source = "file://" + runFile
		}

		env, err := initPipeline(ctx, "run", nil, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Jobs.Submit(ctx, jobs.SubmitRequest{
			InputText:         text,
			SourceURI:         source,
			ArchetypeOverride: runArchetype,
		})
		if err != nil {
			return eris.Wrap(err, "submit job")
		}

		runner := jobs.NewRunner(env.Store, env.Pipeline, jobs.RunnerConfig{Concurrency: 1})
		if err := runner.Process(ctx, job.ID); err != nil {
			return eris.Wrapf(err, "job %s failed", job.ID)
		}

		view, err := env.Jobs.Status(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "load finished job")
		}

		fields := []zap.Field{
			zap.String("job_id", view.ID),
			zap.Int("retry_count", view.RetryCount),
			zap.Int("input_tokens", view.Usage.InputTokens),
			zap.Int("output_tokens", view.Usage.OutputTokens),
		}
		if view.Classification != nil {
			fields = append(fields, zap.String("archetype", view.Classification.Archetype))
		}
		zap.L().Info("generation complete", fields...)

		return printJSON(view)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runInput, "input", "", "research text to model")
	f.StringVar(&runFile, "file", "", "path to a file containing the research text")
	f.StringVar(&runSource, "source", "", "source URI recorded in lineage (defaults to the file:// path)")
	f.StringVar(&runArchetype, "archetype", "", "archetype override, skips classification (B1..B9)")
	rootCmd.AddCommand(runCmd)
}
