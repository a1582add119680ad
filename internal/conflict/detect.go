package conflict

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region detector
// Detector compares comps suggestions against explicit overrides using a fixed rule table.
type Detector struct {
	rules []Rule
}

// NewDetector creates a detector over the given rule table.
func NewDetector(rules []Rule) *Detector {
	return &Detector{rules: slices.Clone(rules)}
}

// Detect runs the default detector.
func Detect(baseline ruleset.Ruleset, comps, overrides ruleset.Layer) []Conflict {
	return NewDetector(DefaultRules()).Detect(baseline, comps, overrides)
}

// Detect emits a conflict for every dimension where comps suggested a value and the
// overrides set a different one beyond tolerance. Output is sorted by dimension,
// then severity, then field, and is identical for identical inputs.
func (d *Detector) Detect(baseline ruleset.Ruleset, comps, overrides ruleset.Layer) []Conflict {
	out := []Conflict{}

	for _, rule := range d.rules {
		if rule.Kind == KindSet {
			if c, ok := d.detectForbidden(rule, comps, overrides); ok {
				out = append(out, c)
			}
			continue
		}

		cv, ok := comps.Get(rule.Field)
		if !ok {
			continue
		}
		ov, ok := overrides.Get(rule.Field)
		if !ok {
			continue
		}
		sev, ok := Classify(rule, cv, ov)
		if !ok {
			continue
		}

		expected := encode(cv)
		override := encode(ov)
		out = append(out, Conflict{
			ID:               conflictID(rule.Dimension, rule.Field, expected, override),
			Dimension:        rule.Dimension,
			Field:            rule.Field,
			Severity:         sev,
			Message:          message(rule, cv, ov, baseline),
			ExpectedValue:    expected,
			OverrideValue:    override,
			SuggestedActions: slices.Clone(rule.Actions),
		})
	}

	slices.SortStableFunc(out, func(a, b Conflict) int {
		if r := a.Dimension.Rank() - b.Dimension.Rank(); r != 0 {
			return r
		}
		if r := a.Severity.Rank() - b.Severity.Rank(); r != 0 {
			return r
		}
		if r := strings.Compare(a.Field, b.Field); r != 0 {
			return r
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// detectForbidden flags moves that comps ban and the overrides explicitly lift.
func (d *Detector) detectForbidden(rule Rule, comps, overrides ruleset.Layer) (Conflict, bool) {
	if _, ok := comps.Get(ruleset.FieldBanned); !ok {
		return Conflict{}, false
	}
	if _, ok := overrides.Get(ruleset.FieldLifted); !ok {
		return Conflict{}, false
	}
	items := intersect(comps.List(ruleset.FieldBanned), overrides.List(ruleset.FieldLifted))
	sev, ok := Classify(rule, items, items)
	if !ok {
		return Conflict{}, false
	}

	expected := encode(items)
	override := encode(overrides.List(ruleset.FieldLifted))
	quoted := make([]string, len(items))
	for i, m := range items {
		quoted[i] = strconv.Quote(m)
	}
	return Conflict{
		ID:               conflictID(rule.Dimension, ruleset.FieldLifted, expected, override),
		Dimension:        rule.Dimension,
		Field:            ruleset.FieldLifted,
		Severity:         sev,
		Message:          fmt.Sprintf("comps keep %s forbidden but overrides lift it", strings.Join(quoted, ", ")),
		ExpectedValue:    expected,
		OverrideValue:    override,
		Items:            items,
		SuggestedActions: slices.Clone(rule.Actions),
	}, true
}

// #endregion detector

// #region classify
// Classify applies the severity table to one comparison. ok is false when the
// values agree within tolerance. For set rules compsValue is the disputed items.
func Classify(rule Rule, compsValue, overrideValue any) (Severity, bool) {
	switch rule.Kind {
	case KindCategorical:
		if compsValue == overrideValue {
			return "", false
		}
		return SeverityHard, true
	case KindSet:
		items, _ := compsValue.([]string)
		if len(items) == 0 {
			return "", false
		}
		return SeverityHard, true
	case KindNumeric:
		a, aok := compsValue.(float64)
		b, bok := overrideValue.(float64)
		if !aok || !bok {
			return SeverityHard, true
		}
		delta := math.Abs(a - b)
		switch {
		case delta <= rule.Epsilon:
			return "", false
		case delta <= rule.Moderate:
			return SeverityWarn, true
		default:
			return SeverityInfo, true
		}
	}
	return "", false
}

// #endregion classify

// #region helpers
func message(rule Rule, cv, ov any, baseline ruleset.Ruleset) string {
	base := ""
	if f, err := ruleset.Lookup(rule.Field); err == nil {
		base = format(f.Get(baseline))
	}
	if rule.Kind == KindNumeric {
		a, _ := cv.(float64)
		b, _ := ov.(float64)
		return fmt.Sprintf("comps suggest %s %s, override sets %s (delta %s, lane default %s)",
			rule.Dimension, format(cv), format(ov), format(math.Abs(a-b)), base)
	}
	return fmt.Sprintf("comps suggest %s %s, override sets %s (lane default %s)",
		rule.Dimension, format(cv), format(ov), base)
}

func format(v any) string {
	switch x := v.(type) {
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case string:
		return strconv.Quote(x)
	}
	return encode(v)
}

func encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func conflictID(dim ruleset.Dimension, field, expected, override string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{string(dim), field, expected, override}, "|")))
	return "rc_" + hex.EncodeToString(sum[:])[:12]
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, x := range b {
		set[x] = struct{}{}
	}
	out := []string{}
	for _, x := range a {
		if _, ok := set[x]; ok {
			out = append(out, x)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// #endregion helpers
