package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/example/faceverify/internal/config"
	"github.com/example/faceverify/internal/enrollment"
	"github.com/example/faceverify/internal/logging"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <image>...",
	Short: "Add images to the reference set",
	Long: `Enroll one or more images as references. Every image is normalized to JPEG
and must contain a detectable face; rejected images are reported and skipped.

Examples:
  # Enroll a directory of portraits
  faceverify enroll portraits/*.jpg

  # Enroll a single file under an explicit name
  faceverify enroll IMG_0042.png --name "Zoë Novák"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("name", "", "Reference name (only with a single image)")
	enrollCmd.Flags().String("log-level", "warn", "Log level (debug, info, warn, error)")
}

// enrollFailure records an image that was not enrolled.
type enrollFailure struct {
	File   string
	Reason string
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	name := mustGetString(cmd, "name")
	if name != "" && len(args) > 1 {
		return errors.New("--name can only be used with a single image")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.NewConsoleLogger(mustGetString(cmd, "log-level"))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	stack, err := buildFaceStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.close()

	bar := progressbar.NewOptions(len(args),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("Enrolling references"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var enrolled []*enrollment.Enrollment
	var failures []enrollFailure
	for _, path := range args {
		if ctx.Err() != nil {
			break
		}
		filename := filepath.Base(path)
		if name != "" {
			filename = name
		}

		data, err := os.ReadFile(path)
		if err != nil {
			failures = append(failures, enrollFailure{File: path, Reason: err.Error()})
			_ = bar.Add(1)
			continue
		}

		result, err := stack.enroller.Enroll(ctx, filename, data)
		if err != nil {
			failures = append(failures, enrollFailure{File: path, Reason: enrollReason(err)})
		} else {
			enrolled = append(enrolled, result)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Fprintln(cmd.ErrOrStderr())

	printEnrollSummary(cmd.OutOrStdout(), enrolled, failures)
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d images were not enrolled", len(failures), len(args))
	}
	return nil
}

func enrollReason(err error) string {
	switch {
	case errors.Is(err, enrollment.ErrNoFaceDetected):
		return "no face detected"
	case errors.Is(err, enrollment.ErrInvalidImage):
		return "invalid image"
	default:
		return err.Error()
	}
}

func printEnrollSummary(out io.Writer, enrolled []*enrollment.Enrollment, failures []enrollFailure) {
	for _, e := range enrolled {
		action := "added"
		if e.Replaced {
			action = "replaced"
		}
		fmt.Fprintf(out, "%-8s %s (%dx%d, %s)\n", action, e.Identifier, e.Width, e.Height, e.SourceFormat)
	}
	for _, f := range failures {
		fmt.Fprintf(out, "%-8s %s: %s\n", "rejected", f.File, f.Reason)
	}
	fmt.Fprintf(out, "\nEnrolled: %d, rejected: %d\n", len(enrolled), len(failures))
}
