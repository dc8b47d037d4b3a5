package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/lineage"
	"github.com/sells-group/modelgen/internal/model"
)

var lineageCmd = &cobra.Command{
	Use:   "lineage",
	Short: "Inspect the provenance graph",
	Long: `Commands for walking the lineage graph: which extraction a model came
from, which models a source document feeds, and the audit trail of flags
and verifications on each extraction.`,
}

// -- lineage show --

var lineageShowCmd = &cobra.Command{
	Use:   "show <extraction-id>",
	Short: "Show an extraction with its recorded links",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initOpsStore(ctx, "lineage")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lin, err := lineage.NewService(st).Lineage(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "lineage show")
		}
		return printJSON(lin)
	},
}

// -- lineage by-source --

var lineageBySourceCmd = &cobra.Command{
	Use:   "by-source [content-hash]",
	Short: "List extractions recorded for a source document",
	Long: `Looks up extractions by content hash. Pass the hash directly, or point
--file at a local copy of the document to hash it here.

Examples:
  modelgen lineage by-source 59f02358c3c0e8ea...
  modelgen lineage by-source --file research/acme.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		hash, err := contentHashArg(cmd, args)
		if err != nil {
			return err
		}

		st, err := initOpsStore(ctx, "lineage")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := lineage.NewService(st).FindBySource(ctx, hash)
		if err != nil {
			return eris.Wrap(err, "lineage by-source")
		}

		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No extractions found for that source.")
			return nil
		}

		formatExtractionsList(os.Stdout, rows)
		return nil
	},
}

// -- lineage impact --

var lineageImpactCmd = &cobra.Command{
	Use:   "impact [content-hash]",
	Short: "Trace a source document to every model and dashboard using it",
	Long: `Walks from a source document to everything derived from it, one row per
extraction-model-dashboard path. Run this before trusting a correction:
every listed dashboard is showing numbers derived from that document.

Examples:
  modelgen lineage impact 59f02358c3c0e8ea...
  modelgen lineage impact --file research/acme.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		hash, err := contentHashArg(cmd, args)
		if err != nil {
			return err
		}

		st, err := initOpsStore(ctx, "lineage")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := lineage.NewService(st).ImpactAnalysis(ctx, hash)
		if err != nil {
			return eris.Wrap(err, "lineage impact")
		}

		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "Nothing derived from that source yet.")
			return nil
		}

		formatImpactList(os.Stdout, rows)
		return nil
	},
}

// -- lineage flag --

var lineageFlagCmd = &cobra.Command{
	Use:   "flag <extraction-id>",
	Short: "Flag an extraction for review",
	Long: `Marks an extraction flagged and records the issues. Models derived from
it are marked for review in the same step.

Examples:
  modelgen lineage flag 7c01ab... --issue "revenue figure contradicts the 10-K"
  modelgen lineage flag 7c01ab... --issue "stale data" --issue "wrong segment"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		issues, _ := cmd.Flags().GetStringArray("issue")

		st, err := initOpsStore(ctx, "lineage")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := lineage.NewService(st).Flag(ctx, args[0], issues); err != nil {
			return eris.Wrap(err, "lineage flag")
		}

		zap.L().Info("extraction flagged",
			zap.String("extraction_id", args[0]),
			zap.Int("issues", len(issues)),
		)
		return nil
	},
}

// -- lineage verify --

var lineageVerifyCmd = &cobra.Command{
	Use:   "verify <extraction-id>",
	Short: "Mark an extraction verified and clear its issues",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initOpsStore(ctx, "lineage")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := lineage.NewService(st).Verify(ctx, args[0]); err != nil {
			return eris.Wrap(err, "lineage verify")
		}

		zap.L().Info("extraction verified", zap.String("extraction_id", args[0]))
		return nil
	},
}

// -- lineage link --

var lineageLinkCmd = &cobra.Command{
	Use:   "link <model-id> <dashboard-id>",
	Short: "Record a dashboard as a consumer of a model",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initOpsStore(ctx, "lineage")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := st.GetModel(ctx, args[0]); err != nil {
			return eris.Wrap(err, "lineage link")
		}
		if err := lineage.NewService(st).LinkDashboard(ctx, args[0], args[1]); err != nil {
			return eris.Wrap(err, "lineage link")
		}

		zap.L().Info("dashboard linked",
			zap.String("model_id", args[0]),
			zap.String("dashboard_id", args[1]),
		)
		return nil
	},
}

// contentHashArg resolves the source hash from the positional argument
// or by hashing the document behind --file.
func contentHashArg(cmd *cobra.Command, args []string) (string, error) {
	file, _ := cmd.Flags().GetString("file")
	switch {
	case file != "" && len(args) > 0:
		return "", eris.New("pass a content hash or --file, not both")
	case file != "":
		raw, err := os.ReadFile(file)
		if err != nil {
			return "", eris.Wrapf(err, "read %s", file)
		}
		return model.HashContent(string(raw)), nil
	case len(args) == 1:
		return args[0], nil
	default:
		return "", eris.New("a content hash or --file is required")
	}
}

func formatExtractionsList(out io.Writer, rows []model.Extraction) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tCONFIDENCE\tISSUES\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t----------\t------\t-------")

	for _, e := range rows {
		source := e.SourceURI
		if len(source) > 40 {
			source = source[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%s\n",
			truncateID(e.ID),
			source,
			e.Status,
			e.FinalConfidence,
			len(e.Issues),
			e.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func formatImpactList(out io.Writer, rows []model.ImpactRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EXTRACTION\tMODEL\tDASHBOARD")
	_, _ = fmt.Fprintln(w, "----------\t-----\t---------")

	for _, r := range rows {
		dashboard := r.DashboardID
		if dashboard == "" {
			dashboard = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
			truncateID(r.ExtractionID),
			truncateID(r.ModelID),
			dashboard,
		)
	}
	_ = w.Flush()
}

func init() {
	lineageBySourceCmd.Flags().String("file", "", "hash this file instead of passing the hash")
	lineageImpactCmd.Flags().String("file", "", "hash this file instead of passing the hash")
	lineageFlagCmd.Flags().StringArray("issue", nil, "issue to record (repeatable)")

	lineageCmd.AddCommand(lineageShowCmd)
	lineageCmd.AddCommand(lineageBySourceCmd)
	lineageCmd.AddCommand(lineageImpactCmd)
	lineageCmd.AddCommand(lineageFlagCmd)
	lineageCmd.AddCommand(lineageVerifyCmd)
	lineageCmd.AddCommand(lineageLinkCmd)
	rootCmd.AddCommand(lineageCmd)
}
