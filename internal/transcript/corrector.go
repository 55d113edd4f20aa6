// Package transcript repairs technical vocabulary that speech recognition
// tends to mishear, such as "kubernetis" for "Kubernetes" or "go routine" for
// "goroutine".
//
// A word window is replaced by a vocabulary term when their Double Metaphone
// codes overlap and the Jaro-Winkler similarity reaches the phonetic
// threshold, or, without a phonetic match, when the similarity reaches the
// stricter fuzzy threshold.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.92

	// minWindowRunes keeps short function words out of matching.
	minWindowRunes = 4

	// A window and a term must be of comparable length to match.
	minLengthRatio = 0.8
	maxLengthRatio = 1.25
)

// Correction is one substitution made by [Corrector.Correct].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
	Phonetic   bool
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the similarity required for a phonetically
// matching term. Default: 0.80.
func WithPhoneticThreshold(v float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = v }
}

// WithFuzzyThreshold sets the similarity required when pronunciation does not
// match. Default: 0.92.
func WithFuzzyThreshold(v float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = v }
}

type term struct {
	text   string
	lower  string
	concat string
	codes  map[string]struct{}
	words  int
}

// Corrector is read-only after construction and safe for concurrent use.
type Corrector struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a corrector for vocabulary. Blank and duplicate terms are
// ignored.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	seen := make(map[string]bool, len(vocabulary))
	for _, v := range vocabulary {
		v = strings.TrimSpace(v)
		lower := strings.ToLower(v)
		if v == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		words := strings.Fields(lower)
		c.terms = append(c.terms, term{
			text:   v,
			lower:  strings.Join(words, " "),
			concat: strings.Join(words, ""),
			codes:  codes(words),
			words:  len(words),
		})
		c.maxWords = max(c.maxWords, len(words))
	}
	return c
}

// Len returns the number of vocabulary terms.
func (c *Corrector) Len() int { return len(c.terms) }

// Correct returns text with misheard vocabulary replaced. At each position
// the window of up to one word more than the longest term with the highest
// similarity wins; a word that already is a term is left alone.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if len(c.terms) == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))
	var fixes []Correction

	for i := 0; i < len(tokens); {
		n, fix, ok := c.bestWindow(tokens[i:])
		if !ok {
			out = append(out, tokens[i])
			i++
			continue
		}
		_, trail := splitPunct(tokens[i+n-1])
		out = append(out, fix.Corrected+trail)
		fixes = append(fixes, fix)
		i += n
	}
	if len(fixes) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), fixes
}

// CorrectText is Correct without the substitution record.
func (c *Corrector) CorrectText(text string) string {
	s, _ := c.Correct(text)
	return s
}

func (c *Corrector) bestWindow(tokens []string) (int, Correction, bool) {
	var (
		best  Correction
		bestN int
	)
	for n := 1; n <= min(c.maxWords+1, len(tokens)); n++ {
		words := make([]string, 0, n)
		for j, tok := range tokens[:n] {
			w, trail := splitPunct(tok)
			// Punctuation inside a window ends the phrase.
			if w == "" || (trail != "" && j < n-1) {
				return bestN, best, bestN > 0
			}
			words = append(words, strings.ToLower(w))
		}
		fix, exact := c.match(words)
		if exact {
			if n == 1 {
				return 0, Correction{}, false
			}
			continue
		}
		if fix.Corrected != "" && fix.Confidence > best.Confidence {
			best, bestN = fix, n
		}
	}
	return bestN, best, bestN > 0
}

// match scores the window words against every term. exact reports that the
// window already spells a term.
func (c *Corrector) match(words []string) (best Correction, exact bool) {
	phrase := strings.Join(words, " ")
	concat := strings.Join(words, "")
	size := utf8.RuneCountInString(concat)
	if utf8.RuneCountInString(phrase) < minWindowRunes {
		return Correction{}, false
	}
	in := codes(words)

	for _, t := range c.terms {
		if t.lower == phrase {
			return Correction{}, true
		}
		ratio := float64(size) / float64(utf8.RuneCountInString(t.concat))
		if ratio < minLengthRatio || ratio > maxLengthRatio {
			continue
		}
		score := matchr.JaroWinkler(phrase, t.lower, false)
		if s := matchr.JaroWinkler(concat, t.concat, false); s > score {
			score = s
		}
		phonetic := overlap(in, t.codes)
		switch {
		case phonetic && score >= c.phoneticThreshold:
			if !best.Phonetic || score > best.Confidence {
				best = Correction{Original: phrase, Corrected: t.text, Confidence: score, Phonetic: true}
			}
		case !best.Phonetic && score >= c.fuzzyThreshold && score > best.Confidence:
			best = Correction{Original: phrase, Corrected: t.text, Confidence: score}
		}
	}
	return best, false
}

// codes returns the Double Metaphone codes of words.
func codes(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words)*2)
	for _, w := range words {
		p, s := matchr.DoubleMetaphone(w)
		if p != "" {
			set[p] = struct{}{}
		}
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

// splitPunct separates trailing punctuation from a token.
func splitPunct(tok string) (word, trail string) {
	end := strings.LastIndexFunc(tok, func(r rune) bool { return !unicode.IsPunct(r) })
	if end < 0 {
		return "", tok
	}
	_, size := utf8.DecodeRuneInString(tok[end:])
	return tok[:end+size], tok[end+size:]
}
