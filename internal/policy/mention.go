package policy

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/itsDarianNgo/Chatter/pkg/types"
)

// fuzzyThreshold is the Jaro-Winkler similarity above which an @token counts
// as a mention of a persona name. High enough that short handles do not
// collide, low enough to catch one- or two-character typos.
const fuzzyThreshold = 0.90

// Mentioned reports whether the message addresses any of the given persona
// names (lowercased). Three signals count:
//
//   - the structured mentions list, exact match
//   - an @token in the content, exact match
//   - an @token in the content, fuzzy match (typos like "@hypebaest99")
func Mentioned(msg *types.ChatMessage, names []string) bool {
	for _, m := range msg.Mentions {
		lm := strings.ToLower(m)
		for _, name := range names {
			if lm == name {
				return true
			}
		}
	}
	for _, token := range atTokens(msg.Content) {
		for _, name := range names {
			if token == name {
				return true
			}
			if matchr.JaroWinkler(token, name, false) >= fuzzyThreshold {
				return true
			}
		}
	}
	return false
}

// atTokens extracts lowercased @handles from content.
func atTokens(content string) []string {
	var tokens []string
	for _, f := range strings.Fields(content) {
		if !strings.HasPrefix(f, "@") {
			continue
		}
		token := strings.TrimFunc(f[1:], func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		if token != "" {
			tokens = append(tokens, strings.ToLower(token))
		}
	}
	return tokens
}
