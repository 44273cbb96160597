// Package filters screens user text before it is sent to the language model.
//
// Three independent checks run in a fixed order: sensitive personal data,
// harmful language, and disability-related details. The first match wins.
package filters

import (
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/sirupsen/logrus"
)

type Verdict int

const (
	Pass Verdict = iota
	Sensitive
	Harmful
	Disability
)

func (v Verdict) String() string {
	switch v {
	case Sensitive:
		return "sensitive"
	case Harmful:
		return "harmful"
	case Disability:
		return "disability"
	default:
		return "pass"
	}
}

type pattern struct {
	name string
	re   *regexp2.Regexp
}

func mustPattern(name, expr string) pattern {
	re := regexp2.MustCompile(expr, regexp2.None)
	re.MatchTimeout = 100 * time.Millisecond
	return pattern{name: name, re: re}
}

// Order matters: the first matching pattern is the one reported.
var sensitivePatterns = []pattern{
	mustPattern("email", `[\w\.-]+@[\w\.-]+`),
	mustPattern("phone", `\b\d{3}[-.\s]??\d{3}[-.\s]??\d{4}\b`),
	mustPattern("ssn", `\b\d{3}-\d{2}-\d{4}\b`),
	mustPattern("credit_card", `\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
}

var harmfulKeywords = []string{
	"kill", "die", "suicide", "self harm", "self-harm",
	"hurt myself", "hurt others", "violence", "abuse", "murder", "attack",
}

var disabilityKeywords = []string{
	"disability", "disabled", "autism", "adhd", "cerebral palsy",
	"dyslexia", "blind", "deaf", "wheelchair", "mobility",
	"chronic illness", "mental health", "amputation", "paraplegia",
	"quadriplegia", "neurodiverse", "ptsd", "anxiety", "depression",
	"ocd", "bipolar", "schizophrenia", "trauma",
}

// Result describes the outcome of Screen. Match names the pattern or keyword
// that triggered the verdict and is empty for Pass.
type Result struct {
	Verdict Verdict
	Match   string
}

func (r Result) Blocked() bool {
	return r.Verdict != Pass
}

type Screener struct {
	log logrus.FieldLogger
}

func NewScreener(log logrus.FieldLogger) *Screener {
	return &Screener{log: log}
}

// ContainsSensitiveInfo reports whether msg looks like it carries an email
// address, phone number, SSN or card number.
func (s *Screener) ContainsSensitiveInfo(msg string) bool {
	name, ok := matchSensitive(msg)
	if ok {
		s.log.WithField("pattern", name).Warn("Sensitive information detected")
	}
	return ok
}

func (s *Screener) ContainsHarmfulInteractions(msg string) bool {
	keyword, ok := matchKeyword(msg, harmfulKeywords)
	if ok {
		s.log.WithField("keyword", keyword).Warn("Harmful content detected")
	}
	return ok
}

func (s *Screener) ContainsDisabilityInfo(msg string) bool {
	keyword, ok := matchKeyword(msg, disabilityKeywords)
	if ok {
		s.log.WithField("keyword", keyword).Info("Disability-related content detected")
	}
	return ok
}

// Screen runs the three checks in order. Disability content only blocks
// while confirmed is false.
func (s *Screener) Screen(msg string, confirmed bool) Result {
	if name, ok := matchSensitive(msg); ok {
		s.log.WithField("pattern", name).Warn("Sensitive information detected")
		return Result{Verdict: Sensitive, Match: name}
	}
	if keyword, ok := matchKeyword(msg, harmfulKeywords); ok {
		s.log.WithField("keyword", keyword).Warn("Harmful content detected")
		return Result{Verdict: Harmful, Match: keyword}
	}
	if keyword, ok := matchKeyword(msg, disabilityKeywords); ok {
		s.log.WithField("keyword", keyword).Info("Disability-related content detected")
		if !confirmed {
			return Result{Verdict: Disability, Match: keyword}
		}
	}
	return Result{Verdict: Pass}
}

func matchSensitive(msg string) (string, bool) {
	for _, p := range sensitivePatterns {
		ok, err := p.re.MatchString(msg)
		if err != nil {
			// a timeout means a pathological input; treat it as a hit
			return p.name, true
		}
		if ok {
			return p.name, true
		}
	}
	return "", false
}

func matchKeyword(msg string, keywords []string) (string, bool) {
	lower := strings.ToLower(msg)
	for _, keyword := range keywords {
		if strings.Contains(lower, keyword) {
			return keyword, true
		}
	}
	return "", false
}
