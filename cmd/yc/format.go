package main

import (
	"fmt"
	"time"
)

// formatLength renders a length, or "unlimited" for tracks without a limit.
func formatLength(n int, unlimited bool) string {
	if unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTrack(id *uint) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *id)
}
