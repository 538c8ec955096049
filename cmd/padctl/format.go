package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"codeberg.org/mutker/padctl/internal/stats"
	"github.com/dustin/go-humanize"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatDistance renders km in the user's unit.
func formatDistance(km float64, miles bool) string {
	if miles {
		return humanize.FtoaWithDigits(km/stats.KmPerMile, 2) + " mi"
	}
	return humanize.FtoaWithDigits(km, 2) + " km"
}

func formatSpeed(kmh float64, miles bool) string {
	if miles {
		return humanize.FtoaWithDigits(kmh/stats.KmPerMile, 1) + " mph"
	}
	return humanize.FtoaWithDigits(kmh, 1) + " km/h"
}

func formatDuration(seconds int) string {
	return (time.Duration(seconds) * time.Second).String()
}

func formatSteps(steps int) string {
	return humanize.Comma(int64(steps))
}

func formatCalories(kcal float64) string {
	return humanize.FtoaWithDigits(kcal, 1) + " kcal"
}

func formatWhen(t time.Time, now time.Time) string {
	return fmt.Sprintf("%s (%s)", t.Local().Format("2006-01-02 15:04"), humanize.RelTime(t, now, "ago", "from now"))
}
