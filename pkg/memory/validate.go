package memory

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/goclaw/memoria/pkg/embedding"
)

// DefaultMinContentLength is the shortest content, in runes, worth remembering.
const DefaultMinContentLength = 10

var commandPattern = regexp.MustCompile(`^[/!][A-Za-z]`)

var fillerPhrases = map[string]struct{}{
	"ok": {}, "okay": {}, "yes": {}, "no": {}, "yeah": {}, "yep": {}, "nope": {},
	"sure": {}, "cool": {}, "nice": {}, "great": {}, "thanks": {}, "thank you": {},
	"thank you so much": {}, "thanks a lot": {}, "hmm": {}, "um": {}, "uh": {},
	"lol": {}, "haha": {}, "hahaha": {}, "got it": {}, "i see": {}, "alright": {},
	"hello": {}, "hello there": {}, "hi there": {}, "hey there": {}, "good morning": {},
	"good afternoon": {}, "good evening": {}, "good night": {}, "bye": {}, "goodbye": {},
	"see you": {}, "see you later": {}, "you're welcome": {}, "no problem": {},
	"sounds good": {}, "of course": {}, "never mind": {}, "nevermind": {},
	"i don't know": {}, "not sure": {}, "what": {}, "really": {}, "oh really": {},
}

// ValidateContent checks content against the minimum rune length and the
// filler and slash-command blacklists.
func ValidateContent(content string, minLength int) Rejection {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return RejectEmpty
	}
	if commandPattern.MatchString(trimmed) {
		return RejectCommand
	}
	if utf8.RuneCountInString(trimmed) < minLength {
		return RejectTooShort
	}
	phrase := strings.Trim(embedding.Normalize(trimmed), " .!?,;:")
	if _, ok := fillerPhrases[phrase]; ok {
		return RejectFiller
	}
	return RejectNone
}
