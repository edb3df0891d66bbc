package domain

import (
	"regexp"
	"strings"
	"unicode"
)

// Language tags produced by DetectLanguage.
const (
	LanguageHebrew  = "he"
	LanguageEnglish = "en"
)

// CountTokens returns the whitespace token count of text.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// DetectLanguage returns "he" when Hebrew letters dominate text, else "en".
func DetectLanguage(text string) string {
	var hebrew, latin int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hebrew, r):
			hebrew++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	if hebrew > 0 && hebrew >= latin {
		return LanguageHebrew
	}
	return LanguageEnglish
}

var sentenceEnd = regexp.MustCompile(`([.!?;])\s+|\n+`)

// SplitSentences splits text at sentence punctuation followed by
// whitespace and at line breaks. Decimal points are not boundaries.
func SplitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringSubmatchIndex(text, -1) {
		end := loc[1]
		if loc[2] >= 0 {
			end = loc[3]
		}
		if s := strings.TrimSpace(text[last:end]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

var numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)*%?`)

// Numbers returns the numeric literals in text with thousands separators
// removed ("1,500" and "1500" compare equal).
func Numbers(text string) []string {
	raw := numberPattern.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, n := range raw {
		out = append(out, normaliseNumber(n))
	}
	return out
}

func normaliseNumber(n string) string {
	parts := strings.Split(strings.TrimSuffix(n, "%"), ",")
	joined := strings.Join(parts, "")
	if strings.HasSuffix(n, "%") {
		return joined + "%"
	}
	return joined
}

// Words splits text into lowercase word tokens.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

var stopwords = map[string]struct{}{
	// English
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"on": {}, "for": {}, "by": {}, "with": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "it": {}, "its": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "as": {}, "at": {}, "from": {}, "if": {}, "can": {}, "do": {}, "does": {},
	"what": {}, "which": {}, "who": {}, "how": {}, "when": {}, "where": {}, "i": {},
	"my": {}, "you": {}, "your": {}, "we": {}, "our": {}, "will": {}, "would": {},
	"should": {}, "there": {}, "any": {}, "all": {}, "also": {}, "so": {}, "such": {},
	"yes": {},
	// Hebrew
	"של": {}, "את": {}, "על": {}, "עם": {}, "זה": {}, "זו": {}, "זאת": {}, "הוא": {},
	"היא": {}, "הם": {}, "הן": {}, "אני": {}, "אתה": {}, "או": {}, "גם": {},
	"כי": {}, "אם": {}, "מה": {}, "מי": {}, "איך": {}, "האם": {}, "יש": {}, "כל": {},
	"אל": {}, "עד": {}, "לי": {}, "לך": {}, "כן": {}, "ב": {}, "ה": {}, "ו": {},
}

// negations mark a sentence as negative when present.
var negations = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "none": {}, "without": {}, "cannot": {},
	"excluded": {}, "exclude": {}, "excludes": {}, "isn't": {}, "doesn't": {},
	"don't": {}, "won't": {}, "aren't": {}, "neither": {}, "nor": {},
	"לא": {}, "אין": {}, "אינו": {}, "אינה": {}, "אינם": {}, "ללא": {}, "בלי": {},
	"אסור": {}, "למעט": {},
}

// IsStopword reports whether w carries no content for matching.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

// HasNegation reports whether text contains a negation word.
func HasNegation(text string) bool {
	for _, w := range Words(text) {
		if _, ok := negations[w]; ok {
			return true
		}
	}
	return false
}

// hebrewPrefixes are single-letter clitics attached to Hebrew words.
const hebrewPrefixes = "והבלמשכ"

// TermVariants returns the comparable forms of a word: the word itself,
// the word without a Hebrew clitic prefix and the English stem without a
// plural, "-ed" or "-ing" ending ("covers" and "covered" share "cover").
func TermVariants(w string) []string {
	variants := []string{w}
	runes := []rune(w)
	if len(runes) > 3 && strings.ContainsRune(hebrewPrefixes, runes[0]) {
		variants = append(variants, string(runes[1:]))
	}
	if len(runes) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
		variants = append(variants, strings.TrimSuffix(w, "s"))
	}
	if len(runes) > 5 {
		for _, suffix := range []string{"ed", "ing"} {
			if strings.HasSuffix(w, suffix) {
				variants = append(variants, strings.TrimSuffix(w, suffix))
			}
		}
	}
	return variants
}

// ContentTerms returns the distinct non-stopword, non-negation words of
// text in first-seen order.
func ContentTerms(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range Words(text) {
		if IsStopword(w) {
			continue
		}
		if _, neg := negations[w]; neg {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// TermSet is a set of word variants for fast coverage checks.
type TermSet map[string]struct{}

// NewTermSet indexes every variant of every word in text.
func NewTermSet(text string) TermSet {
	set := make(TermSet)
	for _, w := range Words(text) {
		for _, v := range TermVariants(w) {
			set[v] = struct{}{}
		}
	}
	return set
}

// Covers reports whether any variant of term is in the set.
func (s TermSet) Covers(term string) bool {
	for _, v := range TermVariants(term) {
		if _, ok := s[v]; ok {
			return true
		}
	}
	return false
}
