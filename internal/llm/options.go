package llm

// RequestOptions tunes a single completion request. Nil fields fall back
// to provider defaults.
type RequestOptions struct {
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	StopSeqs    []string
}

// IntPtr is a convenience for building RequestOptions literals.
func IntPtr(v int) *int { return &v }

// Float64Ptr is a convenience for building RequestOptions literals.
func Float64Ptr(v float64) *float64 { return &v }
