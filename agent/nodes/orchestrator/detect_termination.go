package orchestratornode

import (
	"slices"
	"strings"
	"unicode"
)

var DefaultEndPhrases = []string{
	"goodbye",
	"bye",
	"that's all",
	"end the call",
	"end call",
	"hang up",
	"stop the session",
}

// Words a caller tacks on after saying goodbye, e.g. "bye for now, thanks".
var trailingCourtesy = map[string]bool{
	"thanks": true, "thank": true, "you": true, "please": true,
	"now": true, "then": true, "for": true, "today": true, "much": true, "so": true,
}

var negations = map[string]bool{
	"not": true, "don't": true, "dont": true, "never": true,
	"can't": true, "cant": true, "won't": true, "wont": true,
	"didn't": true, "shouldn't": true,
}

// DetectTermination marks the turn as final when the utterance ends with an
// end phrase, ignoring trailing courtesy words. A phrase right after a
// negation ("don't hang up") does not count.
func DetectTermination(in *GraphState, phrases []string) *GraphState {
	words := strings.Fields(normalizeUtterance(in.Text))
	trimmed := words
	for len(trimmed) > 0 && trailingCourtesy[trimmed[len(trimmed)-1]] {
		trimmed = trimmed[:len(trimmed)-1]
	}

	for _, phrase := range phrases {
		p := strings.Fields(normalizeUtterance(phrase))
		if endsWithPhrase(words, p) || endsWithPhrase(trimmed, p) {
			in.Terminate = true
			in.Logger.Info().Str("phrase", phrase).Msg("end phrase detected")
			break
		}
	}
	return in
}

func endsWithPhrase(words, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(words) {
		return false
	}
	start := len(words) - len(phrase)
	if !slices.Equal(words[start:], phrase) {
		return false
	}
	return start == 0 || !negations[words[start-1]]
}

// normalizeUtterance lowercases, drops punctuation other than apostrophes and
// collapses whitespace.
func normalizeUtterance(s string) string {
	s = strings.ReplaceAll(strings.ToLower(s), "’", "'")
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'':
			return r
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(cleaned), " ")
}
