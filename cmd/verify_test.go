package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/example/faceverify/internal/enrollment"
	"github.com/example/faceverify/internal/faceanalysis"
	"github.com/example/faceverify/internal/matcher"
)

func TestPrintVerifyReport(t *testing.T) {
	tests := []struct {
		name     string
		report   verifyReport
		contains []string
		excludes []string
	}{
		{
			name: "match",
			report: newVerifyReport("probe.jpg", matcher.MatchResult{
				Score:       72,
				BestMatchID: "bob.jpg",
				Distance:    0.392,
				ProbeBox:    &faceanalysis.BoundingBox{X: 1, Y: 2, Width: 3, Height: 4},
				Compared:    2,
				Failed:      1,
			}, 55, 3),
			contains: []string{"MATCH", "bob.jpg", "72.00%", "x=1 y=2 w=3 h=4", "compared 2, failed 1"},
			excludes: []string{"NO MATCH", "Match face"},
		},
		{
			name:     "below threshold",
			report:   newVerifyReport("probe.jpg", matcher.MatchResult{Score: 40, BestMatchID: "alice.jpg"}, 55, 1),
			contains: []string{"NO MATCH", "alice.jpg"},
		},
		{
			name:     "empty reference set",
			report:   newVerifyReport("probe.jpg", matcher.MatchResult{Score: matcher.NoMatchScore}, 55, 0),
			contains: []string{"reference set is empty"},
		},
		{
			name:     "all comparisons failed",
			report:   newVerifyReport("probe.jpg", matcher.MatchResult{Score: matcher.NoMatchScore, Failed: 2}, 55, 2),
			contains: []string{"no reference could be compared"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := printVerifyReport(&buf, tt.report); err != nil {
				t.Fatalf("printVerifyReport failed: %v", err)
			}
			out := buf.String()
			for _, want := range tt.contains {
				if !strings.Contains(out, want) {
					t.Errorf("expected output to contain %q:\n%s", want, out)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(out, unwanted) {
					t.Errorf("expected output not to contain %q:\n%s", unwanted, out)
				}
			}
		})
	}
}

func TestNewVerifyReportMatchedAtThreshold(t *testing.T) {
	report := newVerifyReport("p.jpg", matcher.MatchResult{Score: 55, BestMatchID: "a.jpg"}, 55, 1)
	if !report.Matched {
		t.Fatal("expected a score equal to the threshold to match")
	}
}

func TestPrintEnrollSummary(t *testing.T) {
	var buf bytes.Buffer
	printEnrollSummary(&buf,
		[]*enrollment.Enrollment{{Identifier: "Zoe-Novak.jpg", Width: 640, Height: 480, SourceFormat: "png", Replaced: true}},
		[]enrollFailure{{File: "wall.jpg", Reason: enrollReason(enrollment.ErrNoFaceDetected)}},
	)

	out := buf.String()
	for _, want := range []string{"replaced", "Zoe-Novak.jpg", "640x480", "rejected", "wall.jpg: no face detected", "Enrolled: 1, rejected: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q:\n%s", want, out)
		}
	}
}

func TestEnrollReason(t *testing.T) {
	if got := enrollReason(errors.New("disk full")); got != "disk full" {
		t.Fatalf("unexpected reason %q", got)
	}
	if got := enrollReason(enrollment.ErrInvalidImage); got != "invalid image" {
		t.Fatalf("unexpected reason %q", got)
	}
}
