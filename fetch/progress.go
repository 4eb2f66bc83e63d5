package fetch

// Progress is a point-in-time view of a transfer.
type Progress struct {
	// Bytes is the number of bytes written so far. Monotonic within
	// one transfer.
	Bytes int64
	// Total is the expected total size, or 0 when unknown.
	Total int64
}

// Percent returns the completion percentage, or -1 when the total is
// unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Bytes) / float64(p.Total) * 100
}

// ProgressFunc receives transfer progress updates. Called from the
// transfer goroutine; implementations must be fast and must not block.
type ProgressFunc func(Progress)
