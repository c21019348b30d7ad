package memory

import "regexp"

var categoryRules = []struct {
	category Category
	pattern  *regexp.Regexp
}{
	{CategoryUserInfo, regexp.MustCompile(`(?i)\b(my name is|name is|call me|i live|lives? in|i'?m from|i am from|years old|i work (as|at)|my job|my birthday|born (in|on))\b`)},
	{CategoryTask, regexp.MustCompile(`(?i)\b(remind me|to-?do|need to|have to|must|don'?t forget|deadline|appointment|schedule)\b`)},
	{CategoryPreference, regexp.MustCompile(`(?i)\b(i (really )?(like|love|prefer|enjoy|hate|dislike)|i don'?t like|can'?t stand|favou?rite)\b`)},
	{CategoryEmotion, regexp.MustCompile(`(?i)\b(i feel|i'?m feeling|i am feeling|sad|happy|angry|anxious|stressed|excited|worried|lonely|upset|scared)\b`)},
	{CategoryEvent, regexp.MustCompile(`(?i)\b(yesterday|last (week|night|month|year)|tomorrow|went to|going to|meeting|party|trip|wedding|concert|on (mon|tues|wednes|thurs|fri|satur|sun)day)\b`)},
	{CategoryFact, regexp.MustCompile(`(?i)\b(is|are|was|were) (a|an|the)\b`)},
}

// ClassifyCategory guesses a category from keywords. Content matching no
// rule is context.
func ClassifyCategory(content string) Category {
	for _, rule := range categoryRules {
		if rule.pattern.MatchString(content) {
			return rule.category
		}
	}
	return CategoryContext
}
