package router

import (
	"regexp"
	"strings"
)

// Complexity is a query classification tier.
type Complexity string

const (
	Simple  Complexity = "simple"
	Complex Complexity = "complex"
)

// Classification heuristics. Short lookup-style questions stay on the
// cheap tier; analysis and reasoning language escalates.
var (
	simplePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(what|when|where|who|how many)\b`),
		regexp.MustCompile(`\b(hello|hi|hey|thanks|thank you|ok|okay|yes|no)\b`),
		regexp.MustCompile(`\b(define|explain)\s+\w+$`),
		regexp.MustCompile(`^\w+\?$`),
	}

	complexIndicators = []*regexp.Regexp{
		regexp.MustCompile(`\b(analyze|compare|evaluate|synthesize|create|generate)\b`),
		regexp.MustCompile(`\b(why|how)\b.*\b(because|complex|relationship|connection)\b`),
		regexp.MustCompile(`\b(strategy|plan|approach|methodology)\b`),
		regexp.MustCompile(`\b(implications|consequences|impact)\b`),
		regexp.MustCompile(`\bmulti[- ]step\b`),
		regexp.MustCompile(`\bcomplex\b`),
	}

	reasoningWords = []string{"because", "therefore", "however", "although", "despite", "moreover"}
)

// simpleMaxWords is the word-count ceiling for the short-question check.
const simpleMaxWords = 8

// Classify buckets a query into a complexity tier.
func Classify(query string) Complexity {
	q := strings.ToLower(strings.TrimSpace(query))
	words := len(strings.Fields(q))

	if words <= simpleMaxWords {
		for _, p := range simplePatterns {
			if p.MatchString(q) {
				return Simple
			}
		}
	}

	for _, p := range complexIndicators {
		if p.MatchString(q) {
			return Complex
		}
	}
	for _, w := range reasoningWords {
		if strings.Contains(q, w) {
			return Complex
		}
	}
	if len(q) > 200 || words > 30 {
		return Complex
	}

	return Simple
}
