package memory

import (
	"time"

	"github.com/goclaw/memoria/config"
)

// Tuning holds the thresholds that can change while the engine runs.
type Tuning struct {
	ImportanceThreshold float64
	AccessThreshold     int
	ImmediateThreshold  float64
	DedupThreshold      float64
	RelevanceFloor      float64
	MinSimilarity       float64
	RecallCooldown      time.Duration
	RecallMinSimilarity float64
	MaxContextChars     int
}

// DefaultTuning mirrors the default configuration.
func DefaultTuning() Tuning {
	return Tuning{
		ImportanceThreshold: 0.7,
		AccessThreshold:     3,
		ImmediateThreshold:  0.85,
		DedupThreshold:      0.95,
		RelevanceFloor:      0.05,
		MinSimilarity:       0.2,
		RecallCooldown:      2 * time.Minute,
		RecallMinSimilarity: 0.3,
		MaxContextChars:     1500,
	}
}

// TuningFromConfig extracts tuning from the memory configuration.
func TuningFromConfig(cfg config.MemoryConfig) Tuning {
	return Tuning{
		ImportanceThreshold: cfg.Promotion.ImportanceThreshold,
		AccessThreshold:     cfg.Promotion.AccessThreshold,
		ImmediateThreshold:  cfg.Promotion.ImmediateThreshold,
		DedupThreshold:      cfg.Promotion.DedupThreshold,
		RelevanceFloor:      cfg.Decay.RelevanceFloor,
		MinSimilarity:       cfg.MinSimilarity,
		RecallCooldown:      cfg.Recall.Cooldown,
		RecallMinSimilarity: cfg.Recall.MinSimilarity,
		MaxContextChars:     cfg.MaxContextChars,
	}
}

// TuningFromHotReload converts a reloaded configuration.
func TuningFromHotReload(h config.HotReloadableConfig) Tuning {
	return Tuning{
		ImportanceThreshold: h.ImportanceThreshold,
		AccessThreshold:     h.AccessThreshold,
		ImmediateThreshold:  h.ImmediateThreshold,
		DedupThreshold:      h.DedupThreshold,
		RelevanceFloor:      h.RelevanceFloor,
		MinSimilarity:       h.MinSimilarity,
		RecallCooldown:      h.RecallCooldown,
		RecallMinSimilarity: h.RecallMinSimilarity,
		MaxContextChars:     h.MaxContextChars,
	}
}
