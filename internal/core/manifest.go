package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Manifest is the parsed shape of .eifl.json.
type Manifest struct {
	Name       string            `json:"name"`
	Triggers   *ManifestTriggers `json:"triggers"`
	RunnerTags []string          `json:"runner_tags"`
	Steps      []ManifestStep    `json:"steps"`
}

// ManifestTriggers configures what fires a run.
type ManifestTriggers struct {
	Push     *ManifestPushTrigger     `json:"push"`
	Manual   bool                     `json:"manual"`
	Schedule []ManifestScheduleEntry  `json:"schedule"`
}

// ManifestPushTrigger restricts push-triggered runs to matching branches.
type ManifestPushTrigger struct {
	Branches []string `json:"branches"`
}

// ManifestScheduleEntry is one cron firing source.
type ManifestScheduleEntry struct {
	Cron string `json:"cron"`
}

// ManifestStep is one shell command to run, in declared order.
type ManifestStep struct {
	Name         string   `json:"name"`
	Run          string   `json:"run"`
	CaptureSizes []string `json:"capture_sizes"`
	If           string   `json:"if"`
}

// ParseManifest decodes and validates raw .eifl.json bytes. It rejects
// malformed input with a ValidationError identifying the offending field.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &ValidationError{Field: "manifest", Msg: fmt.Sprintf("invalid json: %v", err)}
	}
	if strings.TrimSpace(m.Name) == "" {
		return nil, &ValidationError{Field: "name", Msg: "must be non-empty"}
	}
	if len(m.Steps) == 0 {
		return nil, &ValidationError{Field: "steps", Msg: "must contain at least one step"}
	}
	for i, s := range m.Steps {
		if strings.TrimSpace(s.Name) == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("steps[%d].name", i), Msg: "must be non-empty"}
		}
		if strings.TrimSpace(s.Run) == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("steps[%d].run", i), Msg: "must be non-empty"}
		}
	}
	return &m, nil
}

// ShouldTriggerOnPush implements the spec's branch-pattern gate:
//   - true if Triggers is the zero value (absent)
//   - false if Triggers.Push is absent
//   - true if Push.Branches is absent/empty
//   - otherwise true iff any pattern in Push.Branches matches branch
//
// Pattern syntax: "*" (all), "prefix*", "*suffix", or literal equality.
func ShouldTriggerOnPush(m *Manifest, branch string) bool {
	if m.Triggers == nil {
		return true
	}
	if m.Triggers.Push == nil {
		return false
	}
	if len(m.Triggers.Push.Branches) == 0 {
		return true
	}
	for _, pattern := range m.Triggers.Push.Branches {
		if matchBranchPattern(pattern, branch) {
			return true
		}
	}
	return false
}

func matchBranchPattern(pattern, branch string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*") && strings.HasPrefix(pattern, "*"):
		// "*suffix" and "prefix*" are handled below; a pattern that is both
		// (e.g. "*") is already handled above. A pattern of only internal
		// wildcards beyond prefix/suffix is not part of the grammar and
		// falls through to literal equality.
		inner := strings.Trim(pattern, "*")
		return strings.Contains(branch, inner)
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(branch, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(branch, strings.TrimPrefix(pattern, "*"))
	default:
		return pattern == branch
	}
}

// ConditionContext supplies the variables evaluateStepCondition may reference.
type ConditionContext struct {
	Trigger TriggerKind
	Branch  string
}

// EvaluateStepCondition recognizes exactly `var == 'literal'` and
// `var != 'literal'` with optional whitespace, where var is "trigger" or
// "branch". Unparseable conditions evaluate to false (step is skipped) —
// this is stable, documented behavior, not a bug.
func EvaluateStepCondition(cond string, ctx ConditionContext) bool {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true
	}

	var op string
	var idx int
	if i := strings.Index(cond, "=="); i >= 0 {
		op, idx = "==", i
	} else if i := strings.Index(cond, "!="); i >= 0 {
		op, idx = "!=", i
	} else {
		return false
	}

	varName := strings.TrimSpace(cond[:idx])
	rhs := strings.TrimSpace(cond[idx+2:])
	literal, ok := unquote(rhs)
	if !ok {
		return false
	}

	var actual string
	switch varName {
	case "trigger":
		actual = string(ctx.Trigger)
	case "branch":
		actual = ctx.Branch
	default:
		return false
	}

	switch op {
	case "==":
		return actual == literal
	case "!=":
		return actual != literal
	default:
		return false
	}
}

// unquote strips a single layer of matching single quotes. Returns false if
// s is not a quoted literal.
func unquote(s string) (string, bool) {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", false
	}
	return s[1 : len(s)-1], true
}
