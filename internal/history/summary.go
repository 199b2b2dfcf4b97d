package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Narrator produces the free-text narrative for a finished muster. The
// implementation is an external text-generation call and strictly advisory.
type Narrator interface {
	Narrate(ctx context.Context, unitLabel string, count int, duration string) (string, error)
}

// NarratorFunc adapts a function into a Narrator.
type NarratorFunc func(ctx context.Context, unitLabel string, count int, duration string) (string, error)

func (f NarratorFunc) Narrate(ctx context.Context, unitLabel string, count int, duration string) (string, error) {
	return f(ctx, unitLabel, count, duration)
}

// FallbackSummary is the deterministic template used whenever the narrator
// is absent, fails, or returns nothing.
func FallbackSummary(unitLabel string, count int, duration string) string {
	return fmt.Sprintf("Muster for %s completed: %d crew accounted for in %s.", unitLabel, count, duration)
}

// Compose asks the narrator for a summary and falls back to the template on
// any failure. Summary text never blocks or fails the enclosing finish.
func Compose(ctx context.Context, n Narrator, unitLabel string, count int, duration string) string {
	if n == nil {
		return FallbackSummary(unitLabel, count, duration)
	}
	text, err := n.Narrate(ctx, unitLabel, count, duration)
	if err != nil {
		log.Warn().Err(err).Str("unit", unitLabel).Msg("summary narrator failed, using template")
		return FallbackSummary(unitLabel, count, duration)
	}
	if strings.TrimSpace(text) == "" {
		return FallbackSummary(unitLabel, count, duration)
	}
	return text
}
