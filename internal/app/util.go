package app

// shortID truncates long IDs for readable logging.
func shortID(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "…" + s[len(s)-6:]
}

// nz returns fallback if v is zero or negative.
func nz(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}
