package engine

import (
	"fmt"
	"time"
)

// DefaultMaxWeight keeps any realistic number of votes summable in an int64.
const DefaultMaxWeight int64 = 1_000_000_000

// Config holds the ledger's rules.
type Config struct {
	// QuorumAmount is the minimum number of distinct voters a candidate
	// needs before it can lead.
	QuorumAmount int

	// DefaultPointsNeeded applies to item keys declared without their own
	// threshold.
	DefaultPointsNeeded int64

	// MaxWeight caps the weight of a single vote.
	MaxWeight int64

	// TxTimeout bounds every write transaction. Timeouts surface as Conflict.
	TxTimeout time.Duration

	// ImplicitCreatorVote records the creator's vote when a proposal is
	// registered with a positive creator weight.
	ImplicitCreatorVote bool

	// CacheSize is the number of live leaders kept in the read cache.
	// Zero disables the cache.
	CacheSize int
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		QuorumAmount:        3,
		DefaultPointsNeeded: 100,
		MaxWeight:           DefaultMaxWeight,
		TxTimeout:           5 * time.Second,
		ImplicitCreatorVote: true,
		CacheSize:           4096,
	}
}

// ValidateBasic performs basic validation of the config
func (cfg *Config) ValidateBasic() error {
	if cfg.QuorumAmount < 1 {
		return fmt.Errorf("%w: quorum amount must be at least 1", ErrInvalidConfig)
	}
	if cfg.DefaultPointsNeeded < 0 {
		return fmt.Errorf("%w: default points needed must not be negative", ErrInvalidConfig)
	}
	if cfg.MaxWeight < 1 {
		return fmt.Errorf("%w: max weight must be positive", ErrInvalidConfig)
	}
	if cfg.TxTimeout <= 0 {
		return fmt.Errorf("%w: tx timeout must be positive", ErrInvalidConfig)
	}
	if cfg.CacheSize < 0 {
		return fmt.Errorf("%w: cache size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// checkWeight rejects weights a vote cannot carry. Zero is allowed only
// where it means "no vote".
func (cfg *Config) checkWeight(w int64, zeroOK bool) error {
	switch {
	case w < 0, w == 0 && !zeroOK:
		return ErrInvalidWeight
	case w > cfg.MaxWeight:
		return fmt.Errorf("%w: %d > %d", ErrWeightTooLarge, w, cfg.MaxWeight)
	}
	return nil
}

// pointsNeeded resolves the threshold for an item.
func (cfg *Config) pointsNeeded(declared int64) int64 {
	if declared > 0 {
		return declared
	}
	return cfg.DefaultPointsNeeded
}
