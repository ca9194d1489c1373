package model

import "testing"

// --- Progress ---

func TestProgress_SetTotal_once(t *testing.T) {
	var p Progress
	if err := p.SetTotal(5); err != nil {
		t.Fatalf("SetTotal error: %v", err)
	}
	if err := p.SetTotal(7); err == nil {
		t.Fatal("expected conflict on second SetTotal")
	}
	if p.TotalUnits != 5 {
		t.Errorf("TotalUnits = %d, want 5", p.TotalUnits)
	}
}

func TestProgress_SetTotal_negative(t *testing.T) {
	var p Progress
	if err := p.SetTotal(-1); err == nil {
		t.Fatal("expected error for negative total")
	}
}

func TestProgress_Record_guardsTotal(t *testing.T) {
	var p Progress
	_ = p.SetTotal(2)
	if err := p.Record(true); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if err := p.Record(false); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if err := p.Record(true); err == nil {
		t.Fatal("expected conflict recording past total")
	}
	if p.CompletedUnits != 1 || p.FailedUnits != 1 {
		t.Errorf("counters = %d/%d, want 1/1", p.CompletedUnits, p.FailedUnits)
	}
}

func TestProgress_Done(t *testing.T) {
	var p Progress
	if p.Done() {
		t.Error("unset total must not be done")
	}
	_ = p.SetTotal(0)
	if !p.Done() {
		t.Error("zero total must be done immediately")
	}
}

// --- Status transitions ---

func TestGenerationCanAdvance(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{GenerationPending, GenerationCreating, true},
		{GenerationCreating, GenerationProcessing, true},
		{GenerationProcessing, GenerationContent, true},
		{GenerationContent, GenerationContentFinalized, true},
		{GenerationContentFinalized, GenerationCompleted, true},
		{GenerationPending, GenerationFailed, true},
		{GenerationContent, GenerationFailed, true},
		// No back-edges.
		{GenerationProcessing, GenerationCreating, false},
		{GenerationCompleted, GenerationFailed, false},
		{GenerationFailed, GenerationCompleted, false},
		{GenerationFailed, GenerationCreating, false},
	}
	for _, tt := range tests {
		if got := GenerationCanAdvance(tt.from, tt.to); got != tt.want {
			t.Errorf("GenerationCanAdvance(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestValidationCanAdvance(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{ValidationNotStarted, ValidationInProgress, true},
		{ValidationInProgress, ValidationCompleted, true},
		// An empty step list completes without ever running.
		{ValidationNotStarted, ValidationCompleted, true},
		{ValidationNotStarted, ValidationFailed, true},
		{ValidationInProgress, ValidationFailed, true},
		{ValidationCompleted, ValidationFailed, false},
		{ValidationFailed, ValidationInProgress, false},
		{ValidationInProgress, ValidationNotStarted, false},
	}
	for _, tt := range tests {
		if got := ValidationCanAdvance(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidationCanAdvance(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestReviewCanAdvance(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{ReviewNotStarted, ReviewStarted, true},
		{ReviewStarted, ReviewIngesting, true},
		// The no-document path skips ingestion entirely.
		{ReviewStarted, ReviewDistributing, true},
		{ReviewDistributing, ReviewAnswering, true},
		{ReviewAnswering, ReviewCompleted, true},
		{ReviewAnswering, ReviewFailed, true},
		{ReviewCompleted, ReviewFailed, false},
		{ReviewFailed, ReviewAnswering, false},
		{ReviewAnswering, ReviewIngesting, false},
	}
	for _, tt := range tests {
		if got := ReviewCanAdvance(tt.from, tt.to); got != tt.want {
			t.Errorf("ReviewCanAdvance(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
