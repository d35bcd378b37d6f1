// Package validation checks a free-form assistant response against the
// structured tool outputs it was generated from. It extracts numeric claims
// with their units and surrounding context, matches them against ground-truth
// numbers within a relative tolerance, and scores the response. A low score
// means the model asserted numbers its tools never produced.
package validation

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Number is one numeric claim: the value, its canonical unit (empty when no
// unit was found nearby) and up to ContextWindowWords surrounding words.
type Number struct {
	Value   float64  `json:"value"`
	Unit    string   `json:"unit,omitempty"`
	Context []string `json:"context_words,omitempty"`
}

// Report is the outcome of validating one response.
type Report struct {
	Valid      bool     `json:"valid"`
	Score      float64  `json:"score"`
	Verified   []Number `json:"verified"`
	Unverified []Number `json:"unverified"`
}

// Config configures a Validator.
type Config struct {
	// Tolerance is the maximum relative difference for a numeric match.
	Tolerance float64
	// ValidThreshold is the minimum score for Valid to be true.
	ValidThreshold float64
	// ContextWindowWords is how many words around a number are captured.
	ContextWindowWords int
	// Logger receives validation outcomes at debug level. Optional.
	Logger *logrus.Entry
}

// DefaultConfig returns the standard knobs.
func DefaultConfig() Config {
	return Config{
		Tolerance:          0.1,
		ValidThreshold:     0.8,
		ContextWindowWords: 5,
	}
}

// Validator extracts and matches numeric claims. Safe for concurrent use.
type Validator struct {
	tolerance      float64
	validThreshold float64
	window         int
	log            *logrus.Entry
}

// NewValidator creates a Validator, filling unset fields from defaults.
func NewValidator(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.ValidThreshold <= 0 {
		cfg.ValidThreshold = def.ValidThreshold
	}
	if cfg.ContextWindowWords <= 0 {
		cfg.ContextWindowWords = def.ContextWindowWords
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = logrus.NewEntry(l)
	}
	return &Validator{
		tolerance:      cfg.Tolerance,
		validThreshold: cfg.ValidThreshold,
		window:         cfg.ContextWindowWords,
		log:            log,
	}
}

// unitAliases maps every recognized unit spelling to its canonical form.
// Unit conversion is out of scope; "lb" and "lbs" are the same unit, "lbs"
// and "kg" are not.
var unitAliases = map[string]string{
	"lb": "lbs", "lbs": "lbs", "pound": "lbs", "pounds": "lbs",
	"kg": "kg", "kgs": "kg", "kilogram": "kg", "kilograms": "kg",
	"bpm": "bpm",
	"%":   "percent", "percent": "percent", "pct": "percent",
	"min": "minutes", "mins": "minutes", "minute": "minutes", "minutes": "minutes",
	"hr": "hours", "hrs": "hours", "hour": "hours", "hours": "hours",
	"sec": "seconds", "secs": "seconds", "second": "seconds", "seconds": "seconds",
	"kcal": "kcal", "cal": "kcal", "cals": "kcal", "calorie": "kcal", "calories": "kcal",
	"step": "steps", "steps": "steps",
	"mi": "miles", "mile": "miles", "miles": "miles",
	"km": "km", "kilometer": "km", "kilometers": "km",
	"m": "meters", "meters": "meters",
}

// numberToken matches a number with an optional attached unit, e.g. "72.5",
// "150bpm", "15%".
var numberToken = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)([a-zA-Z%]*)$`)

// Extract scans text for numeric claims. A unit is taken from the token
// itself ("150bpm"), the following word ("150 bpm") or the preceding word
// when it is a unit spelling.
func (v *Validator) Extract(text string) []Number {
	words := strings.Fields(text)
	var out []Number

	for i, raw := range words {
		token := trimPunct(raw)
		m := numberToken.FindStringSubmatch(token)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}

		unit := canonicalUnit(m[2])
		if unit == "" && i+1 < len(words) {
			unit = canonicalUnit(trimPunct(words[i+1]))
		}
		if unit == "" && i > 0 {
			unit = canonicalUnit(trimPunct(words[i-1]))
		}

		out = append(out, Number{
			Value:   value,
			Unit:    unit,
			Context: contextWindow(words, i, v.window),
		})
	}
	return out
}

// ToolOutput is one entry of a turn's tool trace: the tool name and its raw
// JSON output.
type ToolOutput struct {
	Name       string `json:"name"`
	OutputJSON string `json:"output_json"`
}

// ExtractGroundTruth pulls every number out of the tool outputs: JSON
// numbers directly, and numbers with units embedded in JSON strings (such as
// {"average": "72.5 bpm"}).
func (v *Validator) ExtractGroundTruth(outputs []ToolOutput) []Number {
	var truth []Number
	for _, o := range outputs {
		var parsed interface{}
		if err := json.Unmarshal([]byte(o.OutputJSON), &parsed); err != nil {
			// Not JSON; scan it as plain text.
			truth = append(truth, v.Extract(o.OutputJSON)...)
			continue
		}
		truth = append(truth, v.walkJSON(parsed)...)
	}
	return truth
}

func (v *Validator) walkJSON(node interface{}) []Number {
	switch val := node.(type) {
	case float64:
		return []Number{{Value: val}}
	case string:
		return v.Extract(val)
	case map[string]interface{}:
		var out []Number
		for _, child := range val {
			out = append(out, v.walkJSON(child)...)
		}
		return out
	case []interface{}:
		var out []Number
		for _, child := range val {
			out = append(out, v.walkJSON(child)...)
		}
		return out
	default:
		return nil
	}
}

// epsilon floors the divisor of the relative difference so ground-truth
// zeros do not blow it up.
const epsilon = 1e-9

// Validate extracts the response's numeric claims and matches each against
// the ground truth. A response with no numeric claims has nothing to verify
// and is valid by definition.
func (v *Validator) Validate(responseText string, outputs []ToolOutput) Report {
	claims := v.Extract(responseText)
	truth := v.ExtractGroundTruth(outputs)
	return v.ValidateNumbers(claims, truth)
}

// ValidateNumbers is the matching core, exposed for callers that already
// hold extracted numbers.
func (v *Validator) ValidateNumbers(claims, truth []Number) Report {
	report := Report{}

	for _, claim := range claims {
		if v.matchesAny(claim, truth) {
			report.Verified = append(report.Verified, claim)
		} else {
			report.Unverified = append(report.Unverified, claim)
		}
	}

	total := len(report.Verified) + len(report.Unverified)
	report.Score = float64(len(report.Verified)) / math.Max(1, float64(total))
	if total == 0 {
		report.Valid = true
	} else {
		report.Valid = report.Score >= v.validThreshold
	}

	v.log.WithFields(logrus.Fields{
		"claims":   total,
		"verified": len(report.Verified),
		"score":    report.Score,
	}).Debug("numeric validation complete")

	return report
}

func (v *Validator) matchesAny(claim Number, truth []Number) bool {
	for _, t := range truth {
		if !unitsCompatible(claim.Unit, t.Unit) {
			continue
		}
		diff := math.Abs(claim.Value - t.Value)
		if diff/math.Max(math.Abs(t.Value), epsilon) <= v.tolerance {
			return true
		}
	}
	return false
}

// unitsCompatible reports whether two canonical units match: equal units,
// or a unit absent on either side.
func unitsCompatible(a, b string) bool {
	return a == "" || b == "" || a == b
}

func canonicalUnit(word string) string {
	return unitAliases[strings.ToLower(word)]
}

func trimPunct(word string) string {
	return strings.Trim(word, ".,;:!?()[]\"'")
}

func contextWindow(words []string, center, window int) []string {
	half := window / 2
	lo := center - half
	if lo < 0 {
		lo = 0
	}
	hi := center + half + 1
	if hi > len(words) {
		hi = len(words)
	}
	out := make([]string, 0, hi-lo)
	for _, w := range words[lo:hi] {
		out = append(out, trimPunct(w))
	}
	return out
}
