package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/patrickmn/go-cache"

	"github.com/goclaw/memoria/pkg/logger"
)

// TriggerType names a cue that the user is referring to the past.
type TriggerType string

const (
	TriggerReference TriggerType = "reference"
	TriggerTemporal  TriggerType = "temporal"
	TriggerQuestion  TriggerType = "question"
	TriggerPersonal  TriggerType = "personal"
)

var triggerPatterns = []struct {
	kind    TriggerType
	pattern *regexp.Regexp
}{
	{TriggerReference, regexp.MustCompile(`(?i)\b(you said|you told me|i told you|i said|as i mentioned|i mentioned|like i said|remember when|we talked about)\b`)},
	{TriggerTemporal, regexp.MustCompile(`(?i)\b(yesterday|today|tomorrow|tonight|last (week|month|year|night|time)|next (week|month|year)|(mon|tues|wednes|thurs|fri|satur|sun)day|january|february|march|april|june|july|august|september|october|november|december|\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}(/\d{2,4})?)\b`)},
	{TriggerQuestion, regexp.MustCompile(`(?i)\b(do you remember|did i (tell|mention)|what did i|what was (my|the)|have i (told|mentioned)|remind me)\b`)},
	{TriggerPersonal, regexp.MustCompile(`(?i)\bmy (wife|husband|partner|son|daughter|kids?|children|mom|mother|dad|father|brother|sister|friend|boss|dog|cat|birthday|anniversary|name|job|work|home|favou?rite)\b`)},
}

// DetectTriggers returns the trigger kinds present in text, in a fixed
// order and without repeats.
func DetectTriggers(text string) []TriggerType {
	var found []TriggerType
	for _, tp := range triggerPatterns {
		if tp.pattern.MatchString(text) {
			found = append(found, tp.kind)
		}
	}
	return found
}

const cooldownKey = "recall"

// RecallOptions configures a ProactiveRecall.
type RecallOptions struct {
	Enabled bool

	// MaxPromptChars bounds the rendered memory. Zero uses 300.
	MaxPromptChars int

	Logger  logger.Logger
	Metrics MetricsRecorder
}

// ProactiveRecall decides when an entity should bring up a past memory
// unprompted. A cooldown starts whenever a memory is surfaced.
type ProactiveRecall struct {
	tier     *TierManager
	shared   *CrossEntityMemory
	enabled  bool
	maxChars int
	cooldown *cache.Cache
	log      logger.Logger
	metrics  MetricsRecorder
}

// NewProactiveRecall creates the recall gate for tier's entity. shared may
// be nil.
func NewProactiveRecall(tier *TierManager, shared *CrossEntityMemory, opts RecallOptions) *ProactiveRecall {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = 300
	}
	return &ProactiveRecall{
		tier:     tier,
		shared:   shared,
		enabled:  opts.Enabled,
		maxChars: opts.MaxPromptChars,
		cooldown: cache.New(cache.NoExpiration, 0),
		log:      opts.Logger.With("entity_id", tier.EntityID()),
		metrics:  opts.Metrics,
	}
}

// DetectTriggers returns the trigger kinds in text.
func (r *ProactiveRecall) DetectTriggers(text string) []TriggerType {
	return DetectTriggers(text)
}

// ShouldRecall reports whether the cooldown has elapsed.
func (r *ProactiveRecall) ShouldRecall() bool {
	_, cooling := r.cooldown.Get(cooldownKey)
	return !cooling
}

// MarkRecalled starts the cooldown.
func (r *ProactiveRecall) MarkRecalled() {
	d := r.tier.Tuning().RecallCooldown
	if d <= 0 {
		return
	}
	r.cooldown.Set(cooldownKey, time.Now(), d)
}

// ResetCooldown clears the cooldown.
func (r *ProactiveRecall) ResetCooldown() {
	r.cooldown.Delete(cooldownKey)
}

// FindRelevantMemory returns the best non-expired memory for text from the
// entity's store and the shared pool, if any reaches the recall floor.
func (r *ProactiveRecall) FindRelevantMemory(ctx context.Context, text string) (*ScoredEntry, bool) {
	t := r.tier.Tuning()
	vec, err := r.tier.encoder.Encode(ctx, text)
	if err != nil {
		r.log.WarnContext(ctx, "recall encode failed", "error", err)
		r.metrics.RecordFailure("recall")
		return nil, false
	}

	var candidates []ScoredEntry
	if hits, err := r.tier.long.Query(vec, 0, t.RecallMinSimilarity); err == nil {
		candidates = append(candidates, hits...)
	} else {
		r.log.WarnContext(ctx, "recall query failed", "error", err)
	}
	if r.shared != nil {
		if hits, err := r.shared.Search(ctx, vec, 0, t.RecallMinSimilarity); err == nil {
			candidates = append(candidates, hits...)
		}
	}

	ranked := rankDecayed(candidates, r.tier.decay, t.RelevanceFloor, 1)
	if len(ranked) == 0 {
		return nil, false
	}
	return &ranked[0], true
}

// FormatRecallPrompt renders a memory as a line to inject into a prompt.
func (r *ProactiveRecall) FormatRecallPrompt(entry *MemoryEntry) string {
	when := humanizeAge(r.tier.decay.since(entry.Timestamp))
	return fmt.Sprintf("You remember (%s, %s): %s", entry.Category, when,
		truncateRunes(entry.Content, r.maxChars))
}

// Surface runs the whole recall decision for text. It returns the prompt
// and true only when a trigger is present, the cooldown has elapsed and a
// relevant memory exists; surfacing starts a new cooldown.
func (r *ProactiveRecall) Surface(ctx context.Context, text string) (string, bool) {
	if !r.enabled {
		return "", false
	}
	if len(DetectTriggers(text)) == 0 || !r.ShouldRecall() {
		return "", false
	}
	hit, ok := r.FindRelevantMemory(ctx, text)
	if !ok {
		return "", false
	}
	r.MarkRecalled()
	r.metrics.RecordRecall(r.tier.EntityID())
	r.log.DebugContext(ctx, "memory surfaced", "id", hit.Entry.ID, "score", hit.Score)
	return r.FormatRecallPrompt(hit.Entry), true
}

func humanizeAge(age time.Duration) string {
	switch days := int(age / day); {
	case age < time.Hour:
		return "just now"
	case days < 1:
		return "today"
	case days == 1:
		return "yesterday"
	case days < 30:
		return fmt.Sprintf("%d days ago", days)
	case days < 365:
		return fmt.Sprintf("%d months ago", days/30)
	default:
		return fmt.Sprintf("%d years ago", days/365)
	}
}

// truncateRunes cuts s to at most n runes, ending in an ellipsis when cut.
func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n == 1 {
		return "…"
	}
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}
