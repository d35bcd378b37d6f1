package memory

import (
	"regexp"
	"strconv"
	"strings"
)

// GoalFact is a goal statement detected in a user message.
type GoalFact struct {
	Metric string
	Value  float64
	Unit   string
}

// goalPattern recognizes statements of the form
// "my {metric} goal is {value} {unit}". Extraction is deliberately
// conservative: false negatives are preferred to false positives, so only
// this exact shape is recognized.
var goalPattern = regexp.MustCompile(`(?i)\bmy\s+([a-z][a-z ]{0,30}?)\s+goal\s+is\s+(-?\d+(?:\.\d+)?)\s*([a-zA-Z%]+)?`)

// ExtractGoal detects a goal statement in a user message. The second return
// is false when no statement of the recognized shape is present.
func ExtractGoal(message string) (GoalFact, bool) {
	m := goalPattern.FindStringSubmatch(message)
	if m == nil {
		return GoalFact{}, false
	}

	value, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return GoalFact{}, false
	}

	return GoalFact{
		Metric: strings.ToLower(strings.TrimSpace(m[1])),
		Value:  value,
		Unit:   strings.TrimRight(m[3], ".,;:!?"),
	}, true
}

// Description renders the fact as the episodic record's description text.
func (g GoalFact) Description() string {
	var b strings.Builder
	b.WriteString("User's ")
	b.WriteString(g.Metric)
	b.WriteString(" goal is ")
	b.WriteString(strconv.FormatFloat(g.Value, 'f', -1, 64))
	if g.Unit != "" {
		b.WriteString(" ")
		b.WriteString(g.Unit)
	}
	return b.String()
}

// Metadata renders the fact as the typed metadata shape the episodic
// renderer understands.
func (g GoalFact) Metadata() map[string]interface{} {
	meta := map[string]interface{}{
		"metric": g.Metric,
		"value":  g.Value,
	}
	if g.Unit != "" {
		meta["unit"] = g.Unit
	}
	return meta
}
