package interfaces

import (
	"math"
	"time"
	"unicode/utf8"
)

// MaxDiagnosticLength bounds last_error and report error strings, in runes.
const MaxDiagnosticLength = 500

// DefaultMaxAttempts is the attempt ceiling used when callers pass zero.
const DefaultMaxAttempts = 5

// TruncateDiagnostic cuts msg to MaxDiagnosticLength runes without splitting a rune.
func TruncateDiagnostic(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxDiagnosticLength {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:MaxDiagnosticLength])
}

// Backoff returns base * 2^attempts. It saturates instead of overflowing.
func Backoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= 62 {
		return time.Duration(math.MaxInt64)
	}
	factor := int64(1) << attempts
	if int64(base) > math.MaxInt64/factor {
		return time.Duration(math.MaxInt64)
	}
	return base * time.Duration(factor)
}
