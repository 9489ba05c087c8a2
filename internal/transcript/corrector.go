// Package transcript corrects speech-recognition output before it reaches the
// persona simulation. Recognizers routinely mangle persona names and care
// vocabulary ("Margaret" -> "margret", "insulin" -> "insolent"), and the
// downstream conversation service keys off exactly those words.
//
// Correction combines Double Metaphone phonetic encoding with Jaro-Winkler
// string similarity: a vocabulary term is a candidate when it shares a
// phonetic code with a transcript token, and the candidate with the highest
// Jaro-Winkler score wins provided it clears the phonetic threshold. Tokens
// with no phonetic candidate fall back to pure Jaro-Winkler at a stricter
// threshold.
package transcript

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.88
)

// Correction records a single replaced word.
type Correction struct {
	// Original is the token as recognized.
	Original string
	// Corrected is the vocabulary term it was replaced with.
	Corrected string
	// Score is the Jaro-Winkler similarity that justified the replacement.
	Score float64
}

// Option is a functional option for configuring a Corrector.
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.88.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// Corrector aligns transcript tokens against a fixed vocabulary. It is
// read-only after construction and safe for concurrent use.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64

	terms []term
}

// term is one vocabulary entry with its precomputed phonetic codes.
type term struct {
	text  string
	lower string
	codes map[string]struct{}
}

// DefaultVocabulary returns the persona names and care vocabulary the demo
// scenarios depend on.
func DefaultVocabulary() []string {
	return []string{
		"Margaret", "Robert", "Eleanor",
		"medication", "insulin", "diabetes",
		"dementia", "memory", "confused",
		"walker", "wheelchair", "mobility", "falling",
		"caregiver", "appointment", "pharmacy",
	}
}

// New builds a Corrector for the given vocabulary. Phonetic codes for every
// term are computed once here.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	for _, v := range vocabulary {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "" {
			continue
		}
		c.terms = append(c.terms, term{
			text:  v,
			lower: lower,
			codes: codesFor(strings.Fields(lower)),
		})
	}
	return c
}

// Correct rewrites recognizable vocabulary in text and reports what changed.
// Tokens that already match a vocabulary term exactly are left alone, as is
// anything shorter than four letters.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if text == "" || len(c.terms) == 0 {
		return text, nil
	}

	tokens := strings.Fields(text)
	var corrections []Correction

	for i, tok := range tokens {
		word, prefix, suffix := stripPunct(tok)
		if len([]rune(word)) < 4 {
			continue
		}
		lower := strings.ToLower(word)
		if c.isExact(lower) {
			continue
		}

		if best, score, ok := c.match(lower); ok {
			replacement := matchCase(best, word)
			corrections = append(corrections, Correction{
				Original:  word,
				Corrected: replacement,
				Score:     score,
			})
			tokens[i] = prefix + replacement + suffix
		}
	}

	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(tokens, " "), corrections
}

// isExact reports whether the word is already a vocabulary term.
func (c *Corrector) isExact(lower string) bool {
	for _, t := range c.terms {
		if t.lower == lower {
			return true
		}
	}
	return false
}

// match finds the vocabulary term most similar to the word, preferring
// phonetic candidates over pure string similarity.
func (c *Corrector) match(lower string) (string, float64, bool) {
	inputCodes := codesFor([]string{lower})

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range c.terms {
		phonetic := codesOverlap(inputCodes, t.codes)
		score := matchr.JaroWinkler(lower, t.lower, false)

		if phonetic {
			if score >= c.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				bestTerm, bestScore, bestPhonetic = t.text, score, true
			}
		} else if !bestPhonetic && score >= c.fuzzyThreshold && score > bestScore {
			bestTerm, bestScore = t.text, score
		}
	}
	if bestTerm == "" {
		return "", 0, false
	}
	return bestTerm, bestScore, true
}

// codesFor returns the union of Double Metaphone codes for the tokens.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// stripPunct splits leading and trailing punctuation off a token so the
// replacement keeps it ("margret," -> "Margaret,").
func stripPunct(tok string) (word, prefix, suffix string) {
	runes := []rune(tok)
	start, end := 0, len(runes)
	for start < end && !unicode.IsLetter(runes[start]) && !unicode.IsDigit(runes[start]) {
		start++
	}
	for end > start && !unicode.IsLetter(runes[end-1]) && !unicode.IsDigit(runes[end-1]) {
		end--
	}
	return string(runes[start:end]), string(runes[:start]), string(runes[end:])
}

// matchCase carries the original token's capitalisation onto the replacement.
// Proper nouns in the vocabulary keep their capital regardless.
func matchCase(replacement, original string) string {
	orig := []rune(original)
	repl := []rune(replacement)
	if unicode.IsUpper(orig[0]) || unicode.IsUpper(repl[0]) {
		repl[0] = unicode.ToUpper(repl[0])
		return string(repl)
	}
	return strings.ToLower(replacement)
}
