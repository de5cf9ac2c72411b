// Package narrative turns route summaries into short human-readable
// blurbs. An external language model does the writing when configured;
// a deterministic template keyed by congestion tier covers every failure
// so annotation itself can never fail.
package narrative

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rsampath/routepulse/internal/database"
	"github.com/rsampath/routepulse/internal/logging"
	"github.com/rsampath/routepulse/internal/traffic"
)

var narratives = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "routepulse_narratives_total",
	Help: "Narratives produced, by source.",
}, []string{"source"})

const maxSentences = 2

// Generator produces prose from a prompt. Implementations are expected to
// be expensive and rate limited upstream.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Annotator writes one narrative per route. Calls into the generator are
// serialized and spaced at least minInterval apart; everything else about
// analytics generation may run concurrently, but not this.
type Annotator struct {
	gen         Generator
	minInterval time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

// NewAnnotator wires a generator behind the pacing gate. A nil generator
// disables external generation; every narrative then uses the template.
func NewAnnotator(gen Generator, minInterval time.Duration) *Annotator {
	return &Annotator{gen: gen, minInterval: minInterval}
}

// Annotate produces at most two sentences describing current conditions on
// the route. The recent samples and upcoming predictions only feed the
// prompt; the template ignores them.
func (a *Annotator) Annotate(ctx context.Context, routeName string, summary traffic.Summary, predictions []traffic.Prediction, samples []database.TrafficSample) string {
	if a.gen == nil {
		narratives.WithLabelValues("template").Inc()
		return fallbackNarrative(routeName, summary)
	}

	text, err := a.generatePaced(ctx, buildPrompt(routeName, summary, predictions, samples))
	if err != nil {
		logging.Warn().Err(err).Str("route", routeName).Msg("narrative generation failed, using template")
		narratives.WithLabelValues("fallback").Inc()
		return fallbackNarrative(routeName, summary)
	}
	if text == "" {
		narratives.WithLabelValues("fallback").Inc()
		return fallbackNarrative(routeName, summary)
	}

	narratives.WithLabelValues("generated").Inc()
	return truncateSentences(text, maxSentences)
}

// generatePaced holds the gate for the whole call, which both serializes
// generator access and enforces the minimum spacing between calls.
func (a *Annotator) generatePaced(ctx context.Context, prompt string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if wait := a.minInterval - time.Since(a.lastCall); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	defer func() { a.lastCall = time.Now() }()

	return a.gen.Generate(ctx, prompt)
}

func buildPrompt(routeName string, s traffic.Summary, predictions []traffic.Prediction, samples []database.TrafficSample) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Route %q: average congestion density %.2f (0 free flow, 1 gridlock), trend %s over the last week.",
		routeName, s.AverageDensity, s.Trend)
	if len(s.PeakHours) > 0 {
		fmt.Fprintf(&b, " Busiest hours: %s.", joinHours(s.PeakHours))
	}
	if len(s.LowHours) > 0 {
		fmt.Fprintf(&b, " Quietest hours: %s.", joinHours(s.LowHours))
	}
	fmt.Fprintf(&b, " Weekday average %.2f, weekend average %.2f.", s.WeekdayAvg, s.WeekendAvg)
	if recent := recentDensities(samples, 10); recent != "" {
		fmt.Fprintf(&b, " Latest densities: %s.", recent)
	}
	if next := upcoming(predictions, 3); next != "" {
		fmt.Fprintf(&b, " Expected: %s.", next)
	}
	b.WriteString(" Summarize conditions for riders.")
	return b.String()
}

func joinHours(hours []int) string {
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = fmt.Sprintf("%02d:00", h)
	}
	return strings.Join(parts, ", ")
}

// recentDensities renders the last n usable sample densities, oldest first.
func recentDensities(samples []database.TrafficSample, n int) string {
	ok := traffic.FilterOK(samples)
	if len(ok) == 0 {
		return ""
	}

	sort.Slice(ok, func(i, j int) bool {
		return ok[i].Timestamp.Before(ok[j].Timestamp)
	})
	if len(ok) > n {
		ok = ok[len(ok)-n:]
	}

	parts := make([]string, len(ok))
	for i := range ok {
		parts[i] = fmt.Sprintf("%.2f", ok[i].Density)
	}
	return strings.Join(parts, ", ")
}

// upcoming renders the first n prediction cells.
func upcoming(predictions []traffic.Prediction, n int) string {
	if len(predictions) == 0 {
		return ""
	}
	if len(predictions) > n {
		predictions = predictions[:n]
	}

	parts := make([]string, len(predictions))
	for i, p := range predictions {
		parts[i] = fmt.Sprintf("%s %02d:00 density %.2f", p.Date.Weekday(), p.Hour, p.Density)
	}
	return strings.Join(parts, ", ")
}

// fallbackNarrative is the deterministic template, keyed by density tier.
// The heavy tier names the peak hours when the summary has them.
func fallbackNarrative(routeName string, s traffic.Summary) string {
	tier := "light"
	switch {
	case s.AverageDensity > 0.7:
		tier = "heavy"
	case s.AverageDensity >= 0.4:
		tier = "moderate"
	}

	first := fmt.Sprintf("Traffic on %s is %s with an average congestion density of %.2f.",
		routeName, tier, s.AverageDensity)
	if tier == "heavy" && len(s.PeakHours) > 0 {
		first = fmt.Sprintf("Traffic on %s is heavy around %s, with an average congestion density of %.2f.",
			routeName, joinHours(s.PeakHours), s.AverageDensity)
	}

	second := "Conditions have held steady over the past week."
	switch s.Trend {
	case traffic.TrendIncreasing:
		second = "Congestion has been building over the past week; allow extra travel time."
	case traffic.TrendDecreasing:
		second = "Congestion has been easing over the past week."
	}

	return first + " " + second
}

// truncateSentences keeps at most max sentences. A terminator only ends a
// sentence at end of text or before a space, so decimals survive.
func truncateSentences(text string, max int) string {
	text = strings.TrimSpace(text)
	count := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(text) && text[i+1] != ' ' && text[i+1] != '\n' {
			continue
		}
		count++
		if count == max {
			return strings.TrimSpace(text[:i+1])
		}
	}
	return text
}
