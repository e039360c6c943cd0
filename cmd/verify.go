package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/faceverify/internal/config"
	"github.com/example/faceverify/internal/faceanalysis"
	"github.com/example/faceverify/internal/imagecodec"
	"github.com/example/faceverify/internal/logging"
	"github.com/example/faceverify/internal/matcher"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <probe-image>",
	Short: "Match a probe image against the reference set",
	Long: `Compare a probe image with every enrolled reference and report the best match.

The score is a similarity percentage derived from the model distance. A match
is accepted when its score reaches the threshold.

Examples:
  # Match with the configured threshold
  faceverify verify visitor.jpg

  # Stricter threshold, JSON output
  faceverify verify visitor.jpg --threshold 70 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().Float64("threshold", -1, "Minimum score (0-100) of an accepted match (default MATCH_THRESHOLD)")
	verifyCmd.Flags().Bool("json", false, "Output as JSON")
	verifyCmd.Flags().String("log-level", "warn", "Log level (debug, info, warn, error)")
}

// verifyReport is the printed outcome of a verify run.
type verifyReport struct {
	Probe          string                    `json:"probe"`
	Matched        bool                      `json:"matched"`
	Score          float64                   `json:"score"`
	Threshold      float64                   `json:"threshold"`
	BestMatchID    string                    `json:"best_match_id,omitempty"`
	Distance       float64                   `json:"distance"`
	ModelThreshold float64                   `json:"model_threshold"`
	ProbeBox       *faceanalysis.BoundingBox `json:"probe_box,omitempty"`
	MatchBox       *faceanalysis.BoundingBox `json:"match_box,omitempty"`
	References     int                       `json:"references"`
	Compared       int                       `json:"compared"`
	Failed         int                       `json:"failed"`
}

func newVerifyReport(probe string, result matcher.MatchResult, threshold float64, references int) verifyReport {
	return verifyReport{
		Probe:          probe,
		Matched:        result.Passes(threshold),
		Score:          result.Score,
		Threshold:      threshold,
		BestMatchID:    result.BestMatchID,
		Distance:       result.Distance,
		ModelThreshold: result.ModelThreshold,
		ProbeBox:       result.ProbeBox,
		MatchBox:       result.MatchBox,
		References:     references,
		Compared:       result.Compared,
		Failed:         result.Failed,
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	probePath := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.NewConsoleLogger(mustGetString(cmd, "log-level"))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	threshold := mustGetFloat64(cmd, "threshold")
	if threshold < 0 {
		threshold = cfg.Face.MatchThreshold
	}
	if threshold > 100 {
		return fmt.Errorf("threshold must be between 0 and 100, got %v", threshold)
	}

	data, err := os.ReadFile(probePath)
	if err != nil {
		return fmt.Errorf("read probe: %w", err)
	}
	probeCfg, err := imagecodec.DecodeConfig(data)
	if err == nil {
		err = imagecodec.CheckPixels(probeCfg, cfg.References.MaxPixels)
	}
	if err != nil {
		return fmt.Errorf("probe %s: %w", probePath, err)
	}

	stack, err := buildFaceStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.close()

	refs, err := stack.store.List(ctx)
	if err != nil {
		return err
	}

	probe := faceanalysis.Image{ID: filepath.Base(probePath), Data: data}
	result := stack.selector.FindBestMatch(ctx, probe, refs)
	report := newVerifyReport(probePath, result, threshold, len(refs))

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printVerifyReport(cmd.OutOrStdout(), report)
}

func printVerifyReport(out io.Writer, r verifyReport) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Probe:\t%s\n", r.Probe)
	fmt.Fprintf(w, "References:\t%d (compared %d, failed %d)\n", r.References, r.Compared, r.Failed)

	switch {
	case r.References == 0:
		fmt.Fprintf(w, "Result:\tNO MATCH (reference set is empty)\n")
	case r.BestMatchID == "":
		fmt.Fprintf(w, "Result:\tNO MATCH (no reference could be compared)\n")
	default:
		verdict := "NO MATCH"
		if r.Matched {
			verdict = "MATCH"
		}
		fmt.Fprintf(w, "Result:\t%s\n", verdict)
		fmt.Fprintf(w, "Best match:\t%s\n", r.BestMatchID)
		fmt.Fprintf(w, "Score:\t%.2f%% (threshold %.2f%%)\n", r.Score, r.Threshold)
		fmt.Fprintf(w, "Distance:\t%.4f (model threshold %.4f)\n", r.Distance, r.ModelThreshold)
		if r.ProbeBox != nil {
			fmt.Fprintf(w, "Probe face:\t%s\n", formatBox(r.ProbeBox))
		}
		if r.MatchBox != nil {
			fmt.Fprintf(w, "Match face:\t%s\n", formatBox(r.MatchBox))
		}
	}
	return w.Flush()
}

func formatBox(b *faceanalysis.BoundingBox) string {
	return fmt.Sprintf("x=%d y=%d w=%d h=%d", b.X, b.Y, b.Width, b.Height)
}
