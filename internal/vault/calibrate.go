package vault

import (
	"time"
)

// calibrationSample is the iteration count timed to extrapolate from.
const calibrationSample = 20_000

// BenchmarkDerivation measures one PBKDF2 key derivation at iterations.
func BenchmarkDerivation(iterations uint32) time.Duration {
	salt := make([]byte, SaltSize)
	start := time.Now()
	key := DeriveKey(salt, iterations, []byte("calibration"))
	elapsed := time.Since(start)
	Zeroize(key)
	return elapsed
}

// CalibrateIterations estimates the iteration count that makes one key
// derivation on this machine take about target. The result is at least
// MinIterations.
func CalibrateIterations(target time.Duration) uint32 {
	sample := BenchmarkDerivation(calibrationSample)
	if sample <= 0 {
		return DefaultIterations
	}

	estimate := float64(calibrationSample) * float64(target) / float64(sample)
	switch {
	case estimate < MinIterations:
		return MinIterations
	case estimate > float64(^uint32(0)):
		return ^uint32(0)
	}

	// round down to a multiple of 1000 for readable configs
	iterations := uint32(estimate) / 1000 * 1000
	if iterations < MinIterations {
		return MinIterations
	}
	return iterations
}
