package protocol

// TokenUsage is the token accounting for one call. Backends that omit usage
// on intermediate events leave fields at 0; unresolved fields stay 0 rather
// than becoming errors.
type TokenUsage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// Resolved returns the usage with TotalTokens filled in. A total reported by
// the backend is kept; when the backend reported none, the total is
// input + output.
func (u TokenUsage) Resolved() TokenUsage {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

// Add accumulates another usage value into u, summing each field.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:      u.InputTokens + other.InputTokens,
		OutputTokens:     u.OutputTokens + other.OutputTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		CacheReadTokens:  u.CacheReadTokens + other.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + other.CacheWriteTokens,
	}
}
