package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	unorm "golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "be": {}, "been": {}, "am": {}, "do": {}, "does": {}, "did": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "for": {}, "with": {}, "by": {},
	"from": {}, "it": {}, "its": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"he": {}, "she": {}, "they": {}, "we": {}, "you": {}, "me": {}, "him": {}, "her": {},
	"them": {}, "what": {}, "where": {}, "when": {}, "who": {}, "how": {}, "which": {},
	"why": {}, "about": {}, "there": {}, "here": {}, "have": {}, "has": {}, "had": {},
	"will": {}, "would": {}, "can": {}, "could": {}, "should": {}, "so": {}, "if": {},
	"not": {}, "no": {}, "yes": {}, "just": {}, "as": {}, "into": {}, "your": {},
}

// Normalize canonicalizes text for content addressing: NFKC, Unicode case
// folding, whitespace collapsed to single spaces and trimmed.
func Normalize(text string) string {
	folded := cases.Fold().String(unorm.NFKC.String(text))
	return strings.Join(strings.Fields(folded), " ")
}

// ContentKey returns the hex SHA-256 of the normalized text.
func ContentKey(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// FoldAccents strips combining marks, so "São" and "Sao" compare equal.
func FoldAccents(s string) string {
	t := transform.Chain(unorm.NFD, runes.Remove(runes.In(unicode.Mn)), unorm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Tokenize splits text into lowercase, accent-folded content tokens with
// stop words removed and a trailing plural "s" stripped.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(FoldAccents(text)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, stem(f))
	}
	return tokens
}

func stem(tok string) string {
	if len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") {
		return tok[:len(tok)-1]
	}
	return tok
}
