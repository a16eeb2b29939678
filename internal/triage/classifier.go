// Package triage scores message text into an urgency tier from a data-driven
// keyword table. Classification is deterministic, synchronous, and side-effect
// free; it is the one step of the pipeline that can never fail.
package triage

import (
	"strings"

	"mamacare/internal/domain"
)

type tier struct {
	urgency domain.Urgency
	phrases []string
}

// Classifier matches normalized message text against tiered phrase sets.
type Classifier struct {
	tiers []tier // ordered most to least severe
}

// NewClassifier builds a classifier from a rule set. Phrases are normalized
// once here so Classify stays allocation-light.
func NewClassifier(rules RuleSet) *Classifier {
	return &Classifier{
		tiers: []tier{
			{domain.UrgencyCritical, normalizeAll(rules.Critical)},
			{domain.UrgencyHigh, normalizeAll(rules.High)},
			{domain.UrgencyMedium, normalizeAll(rules.Medium)},
		},
	}
}

// Classify returns the urgency tier for the given text. Tiers are checked
// from most severe down, so a message matching both a medium and a critical
// phrase classifies as critical. Unmatched text is low.
func (c *Classifier) Classify(text string) domain.Urgency {
	t := normalize(text)
	for _, tier := range c.tiers {
		for _, phrase := range tier.phrases {
			if strings.Contains(t, phrase) {
				return tier.urgency
			}
		}
	}
	return domain.UrgencyLow
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizeAll(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if n := normalize(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}
