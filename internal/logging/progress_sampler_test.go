package logging

import "testing"

func TestNewProgressSamplerDefaults(t *testing.T) {
	for _, size := range []float64{0, -3} {
		s := NewProgressSampler(size)
		if s.bucketSize != 10 {
			t.Fatalf("bucketSize for %v = %v, want 10", size, s.bucketSize)
		}
		if s.lastBucket != -1 {
			t.Fatalf("lastBucket = %d, want -1", s.lastBucket)
		}
	}
}

func TestProgressSamplerNil(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "running") {
		t.Fatal("nil sampler should always log")
	}
	s.Reset()
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(10)
	steps := []struct {
		percent float64
		status  string
		want    bool
	}{
		{0, "running", true},
		{4, "running", false},
		{10, "running", true},
		{19.9, "running", false},
		{40, "running", true},
		{40, "completed", true},
		{100, "completed", true},
		{100, "completed", false},
		{-1, "completed", false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, step.status); got != step.want {
			t.Fatalf("step %d (%v, %s): got %v want %v", i, step.percent, step.status, got, step.want)
		}
	}
}

func TestProgressSamplerReset(t *testing.T) {
	s := NewProgressSampler(10)
	s.ShouldLog(50, "running")
	s.Reset()
	if !s.ShouldLog(50, "running") {
		t.Fatal("expected sample after reset")
	}
}
