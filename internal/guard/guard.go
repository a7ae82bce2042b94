// Package guard implements content-safety screening of candidate turns. It
// checks finalized transcripts against an ordered rule set before the text
// is forwarded to the interviewer model.
//
// Two rule families are expected in practice: prompt-injection attempts,
// which are answered with a canned redirect while the raw text is withheld
// from the model, and non-serious input, which ends the interview early
// with a polite close. The evaluator itself is family-agnostic; behavior is
// carried entirely by each rule's action.
package guard

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/prepvox/prepvox/internal/config"
)

// minFuzzyKeywordLen is the shortest normalized keyword that may match
// fuzzily. Shorter keywords match exactly only, so a small edit distance
// cannot turn unrelated short words into hits.
const minFuzzyKeywordLen = 5

// defaultFuzzyDistance is used by [Default] when building the built-in
// rule set.
const defaultFuzzyDistance = 2

// Canned responses for the built-in rules. The redirect wording matches
// what an interviewer would say when steered off the interview itself.
const (
	defaultRedirectResponse = "I'm here to conduct your interview. Let's focus on that."
	defaultCloseResponse    = "It seems this might not be the best time for a practice interview. " +
		"Let's wrap up here — you're welcome to start a new session whenever you're ready."
)

// Rule pairs a compiled matcher with the action taken when it fires.
// Either Regex or Keywords (or both) must be set.
type Rule struct {
	// Name is a human-readable label for logging and metrics.
	Name string

	// Regex is the compiled pattern, or nil for keyword-only rules.
	Regex *regexp.Regexp

	// Keywords are normalized phrases matched against a sliding token
	// window of the input, exactly or within the guard's fuzzy distance.
	Keywords []string

	// Action determines the verdict: redirect substitutes a canned reply,
	// flag ends the interview early.
	Action config.GuardAction

	// Response is the canned text returned to the candidate on a match.
	Response string
}

// Verdict is the outcome of evaluating one candidate turn.
type Verdict struct {
	// Matched reports whether any rule fired. When false the remaining
	// fields are zero and the text may be forwarded to the model.
	Matched bool

	// Rule is the name of the rule that fired.
	Rule string

	// Action is the fired rule's action.
	Action config.GuardAction

	// Response is the canned text to speak back to the candidate.
	Response string

	// Terminate reports whether the session must end early. It is set
	// when the fired rule's action is [config.GuardActionFlag].
	Terminate bool
}

// Guard evaluates candidate turns against an ordered rule set.
//
// All methods are safe for concurrent use; the rule set is fixed at
// construction time.
type Guard struct {
	rules     []Rule
	fuzzyDist int
}

// New creates a Guard from already-compiled rules. fuzzyDistance is the
// maximum Levenshtein edit distance for keyword matching; zero restricts
// keywords to exact token-window matches.
func New(rules []Rule, fuzzyDistance int) *Guard {
	r := make([]Rule, len(rules))
	copy(r, rules)
	if fuzzyDistance < 0 {
		fuzzyDistance = 0
	}
	return &Guard{rules: r, fuzzyDist: fuzzyDistance}
}

// FromConfig compiles cfg's rules into a Guard. Patterns are compiled
// case-insensitively; rules without an explicit response fall back to the
// built-in canned text for their action. An empty rule list yields the
// [Default] guard.
func FromConfig(cfg config.GuardConfig) (*Guard, error) {
	if len(cfg.Rules) == 0 {
		return Default(), nil
	}

	rules := make([]Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		r := Rule{
			Name:     rc.Name,
			Action:   rc.Action,
			Response: rc.Response,
		}
		if rc.Pattern != "" {
			re, err := regexp.Compile("(?i)" + rc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("guard: rule %q: compile pattern: %w", rc.Name, err)
			}
			r.Regex = re
		}
		for _, kw := range rc.Keywords {
			if n := normalize(kw); n != "" {
				r.Keywords = append(r.Keywords, n)
			}
		}
		if r.Regex == nil && len(r.Keywords) == 0 {
			return nil, fmt.Errorf("guard: rule %q: pattern or keywords required", rc.Name)
		}
		if r.Response == "" {
			if r.Action == config.GuardActionFlag {
				r.Response = defaultCloseResponse
			} else {
				r.Response = defaultRedirectResponse
			}
		}
		rules = append(rules, r)
	}
	return New(rules, cfg.FuzzyDistance), nil
}

// Default returns a Guard with the built-in rule set: a prompt-injection
// redirect rule followed by a non-serious termination rule.
func Default() *Guard {
	return New(defaultRules(), defaultFuzzyDistance)
}

// Evaluate checks text against the rules in order and returns the verdict
// of the first rule that matches. Empty or whitespace-only text never
// matches.
func (g *Guard) Evaluate(text string) Verdict {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Verdict{}
	}
	norm := normalize(trimmed)
	tokens := strings.Fields(norm)

	for _, r := range g.rules {
		if !g.matches(r, trimmed, norm, tokens) {
			continue
		}
		slog.Info("guard: rule matched",
			"rule", r.Name,
			"action", string(r.Action),
		)
		return Verdict{
			Matched:   true,
			Rule:      r.Name,
			Action:    r.Action,
			Response:  r.Response,
			Terminate: r.Action == config.GuardActionFlag,
		}
	}
	return Verdict{}
}

// matches reports whether rule r fires on the given turn. The regex runs
// against the raw trimmed text; keywords run against the normalized token
// stream.
func (g *Guard) matches(r Rule, trimmed, norm string, tokens []string) bool {
	if r.Regex != nil && r.Regex.MatchString(trimmed) {
		return true
	}
	for _, kw := range r.Keywords {
		if g.keywordMatch(kw, norm, tokens) {
			return true
		}
	}
	return false
}

// keywordMatch reports whether kw occurs in the input, either as an exact
// substring of the normalized text or as a fuzzy match against a sliding
// window of as many tokens as kw contains.
func (g *Guard) keywordMatch(kw, norm string, tokens []string) bool {
	if strings.Contains(norm, kw) {
		return true
	}
	dist := g.fuzzyDist
	if dist == 0 || len(kw) < minFuzzyKeywordLen {
		return false
	}

	width := len(strings.Fields(kw))
	if width == 0 || width > len(tokens) {
		return false
	}
	for i := 0; i+width <= len(tokens); i++ {
		window := strings.Join(tokens[i:i+width], " ")
		if matchr.Levenshtein(window, kw) <= dist {
			return true
		}
	}
	return false
}

// normalize lowercases s and strips everything but letters, digits and
// spaces, collapsing runs of whitespace to single spaces.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// defaultRules is the built-in rule set used when no rules are configured.
func defaultRules() []Rule {
	return []Rule{
		{
			Name: "prompt-injection",
			Regex: regexp.MustCompile(`(?i)\b(ignore\s+(all\s+)?(previous|prior|above)\s+instructions?` +
				`|system\s+prompt|meta\s*prompt|reveal\s+your\s+(instructions?|prompt)` +
				`|you\s+are\s+(now|no\s+longer)|pretend\s+(to\s+be|you\s+are)` +
				`|developer\s+mode|jailbreak|act\s+as\s+(a|an|my)\b)`),
			Action:   config.GuardActionRedirect,
			Response: defaultRedirectResponse,
		},
		{
			Name: "non-serious",
			Keywords: []string{
				"blah blah blah",
				"this is stupid",
				"this is a joke",
				"i dont care about this",
				"just trolling",
				"asdf asdf",
				"skip this interview",
			},
			Action:   config.GuardActionFlag,
			Response: defaultCloseResponse,
		},
	}
}
