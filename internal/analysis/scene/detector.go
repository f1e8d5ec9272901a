package scene

import "bytes"

// ChunkSize is the byte width of the chunks compared by Similarity.
const ChunkSize = 1000

// DefaultThreshold is the change threshold used when none is configured.
const DefaultThreshold = 0.1

// Similarity compares two encoded payloads chunk by chunk and returns the
// fraction of matching chunks. Only whole chunks are compared, up to the
// smaller chunk count of the two payloads. Zero compared chunks yields 0.
func Similarity(current, previous []byte) float64 {
	total := len(current) / ChunkSize
	if n := len(previous) / ChunkSize; n < total {
		total = n
	}
	if total == 0 {
		return 0
	}

	matches := 0
	for i := 0; i < total; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if bytes.Equal(current[start:end], previous[start:end]) {
			matches++
		}
	}
	return float64(matches) / float64(total)
}

// HasChanged reports whether current differs enough from previous to warrant
// a fresh description. A nil previous frame always counts as a change.
func HasChanged(current, previous []byte, threshold float64) bool {
	if previous == nil {
		return true
	}
	if bytes.Equal(current, previous) {
		return false
	}
	return Similarity(current, previous) < 1-threshold
}

// Detector binds a threshold to HasChanged.
type Detector struct {
	Threshold float64
}

// Changed evaluates current against previous with the detector's threshold.
func (d Detector) Changed(current, previous []byte) bool {
	threshold := d.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return HasChanged(current, previous, threshold)
}
