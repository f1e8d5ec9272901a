package scene

import (
	"bytes"
	"testing"
)

func payload(chunks ...byte) []byte {
	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(bytes.Repeat([]byte{c}, ChunkSize))
	}
	return buf.Bytes()
}

func TestHasChangedWithoutPreviousFrame(t *testing.T) {
	if !HasChanged([]byte("frame"), nil, 0.1) {
		t.Fatal("expected change when no previous frame exists")
	}
	if !HasChanged(nil, nil, 0.9) {
		t.Fatal("expected change for empty current without previous")
	}
}

func TestHasChangedIdenticalPayload(t *testing.T) {
	frame := payload('a', 'b', 'c')
	for _, threshold := range []float64{0.1, 0.3, 0.5, 1} {
		if HasChanged(frame, append([]byte(nil), frame...), threshold) {
			t.Fatalf("identical payload reported as changed at threshold %.1f", threshold)
		}
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		current  []byte
		previous []byte
		want     float64
	}{
		{name: "all chunks differ", current: payload('a', 'b'), previous: payload('x', 'y'), want: 0},
		{name: "half match", current: payload('a', 'b'), previous: payload('a', 'y'), want: 0.5},
		{name: "shorter side bounds comparison", current: payload('a', 'b', 'c'), previous: payload('a', 'b'), want: 1},
		{name: "partial chunk ignored", current: append(payload('a'), 'z'), previous: append(payload('a'), 'q'), want: 1},
		{name: "no whole chunks", current: []byte("short"), previous: []byte("other"), want: 0},
	}

	for _, tt := range tests {
		if got := Similarity(tt.current, tt.previous); got != tt.want {
			t.Errorf("%s: Similarity = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestHasChangedThresholds(t *testing.T) {
	// 10 chunks, 9 equal: similarity 0.9.
	current := payload('a', 'a', 'a', 'a', 'a', 'a', 'a', 'a', 'a', 'b')
	previous := payload('a', 'a', 'a', 'a', 'a', 'a', 'a', 'a', 'a', 'c')

	tests := []struct {
		threshold float64
		want      bool
	}{
		{threshold: 0.05, want: true},
		{threshold: 0.1, want: false},
		{threshold: 0.3, want: false},
	}

	for _, tt := range tests {
		if got := HasChanged(current, previous, tt.threshold); got != tt.want {
			t.Errorf("HasChanged at threshold %.2f = %v, want %v", tt.threshold, got, tt.want)
		}
	}
}

func TestHasChangedShortDistinctPayloads(t *testing.T) {
	// Sub-chunk payloads compare zero chunks, so any difference is a change.
	if !HasChanged([]byte("abc"), []byte("abd"), 0.5) {
		t.Fatal("expected short distinct payloads to count as changed")
	}
}

func TestHasChangedHalfMatchingChunks(t *testing.T) {
	// 2 of 4 chunks equal: similarity 0.5, changed iff 0.5 < 1-threshold.
	current := payload('a', 'b', 'c', 'd')
	previous := payload('a', 'b', 'x', 'y')

	if !HasChanged(current, previous, 0.3) {
		t.Fatal("similarity 0.5 at threshold 0.3 should be a change")
	}
	if HasChanged(current, previous, 0.6) {
		t.Fatal("similarity 0.5 at threshold 0.6 should not be a change")
	}
}

func TestHasChangedMonotonicInThreshold(t *testing.T) {
	base := []byte{'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j'}
	var pairs [][2][]byte
	for differ := 0; differ <= len(base); differ++ {
		other := append([]byte(nil), base...)
		for i := 0; i < differ; i++ {
			other[i] = 'z'
		}
		pairs = append(pairs, [2][]byte{payload(base...), payload(other...)})
	}
	pairs = append(pairs,
		[2][]byte{[]byte("short"), []byte("other")},
		[2][]byte{append(payload('a'), 'x'), append(payload('a'), 'y')},
	)

	changedAt := func(threshold float64) int {
		n := 0
		for _, p := range pairs {
			if HasChanged(p[0], p[1], threshold) {
				n++
			}
		}
		return n
	}

	for _, p := range pairs {
		if HasChanged(p[0], p[1], 0.5) && !HasChanged(p[0], p[1], 0.1) {
			t.Fatalf("pair changed at 0.5 but not at 0.1: similarity %.2f", Similarity(p[0], p[1]))
		}
	}
	if low, high := changedAt(0.1), changedAt(0.5); high > low {
		t.Fatalf("raising the threshold increased changes: %d at 0.1, %d at 0.5", low, high)
	}
}

func TestDetectorFallsBackToDefaultThreshold(t *testing.T) {
	current := payload('a', 'a', 'a', 'a', 'a', 'a', 'a', 'a', 'a', 'b')
	previous := payload('a', 'a', 'a', 'a', 'a', 'a', 'a', 'a', 'a', 'c')

	if (Detector{Threshold: 0}).Changed(current, previous) {
		t.Fatal("expected default threshold 0.1 to treat 0.9 similarity as unchanged")
	}
	if !(Detector{Threshold: 0.05}).Changed(current, previous) {
		t.Fatal("expected tight threshold to report change")
	}
}
