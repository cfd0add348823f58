package model

import (
	"encoding/json"
	"testing"
)

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeUnknown, "unknown"},
		{OutcomeAlreadyBelow, "already_below"},
		{OutcomeAnonymized, "anonymized"},
		{OutcomeBestEffort, "best_effort"},
		{OutcomeUnmodified, "unmodified"},
		{Outcome(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			if got := tt.outcome.String(); got != tt.want {
				t.Errorf("got %q, expected %q", got, tt.want)
			}
		})
	}
}

func TestOutcomeReached(t *testing.T) {
	t.Parallel()

	if !OutcomeAnonymized.Reached() || !OutcomeAlreadyBelow.Reached() {
		t.Error("anonymized and already_below reach the threshold")
	}
	if OutcomeBestEffort.Reached() || OutcomeUnmodified.Reached() {
		t.Error("best_effort and unmodified do not reach the threshold")
	}
}

func TestOutcomeJSON(t *testing.T) {
	t.Parallel()

	t.Run("encodes as a name inside metrics", func(t *testing.T) {
		t.Parallel()
		data, err := json.Marshal(ImageMetrics{Outcome: OutcomeBestEffort})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if raw["outcome"] != "best_effort" {
			t.Errorf("got %v", raw["outcome"])
		}
	})

	t.Run("unknown names are rejected", func(t *testing.T) {
		t.Parallel()
		var o Outcome
		if err := o.UnmarshalText([]byte("victory")); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	ms := []ImageMetrics{
		{PSNR: 40, FinalPCE: 10, FinalCCN: 1, Outcome: OutcomeAnonymized},
		{PSNR: 30, FinalPCE: 0, FinalCCN: 3, Outcome: OutcomeBestEffort, Unmeasurable: []string{"pce"}},
	}
	s := Summarize("05", "fingerprint_removal", ms)

	if s.Images != 2 {
		t.Errorf("expected 2 images, got %d", s.Images)
	}
	if s.MeanPSNR != 35 {
		t.Errorf("expected mean psnr 35, got %v", s.MeanPSNR)
	}
	if s.MeanPCE != 10 {
		t.Errorf("unmeasurable pce must be left out of the mean, got %v", s.MeanPCE)
	}
	if s.MeanCCN != 2 {
		t.Errorf("expected mean ccn 2, got %v", s.MeanCCN)
	}
	if s.Outcomes[OutcomeAnonymized] != 1 || s.Outcomes[OutcomeBestEffort] != 1 {
		t.Errorf("unexpected outcome counts %v", s.Outcomes)
	}
}
