package embedstore

import (
	"time"

	"github.com/mcbagz/ladchat/store"
)

// DefaultTTL is how long user and group embeddings stay fresh.
const DefaultTTL = 24 * time.Hour

// IsStale reports whether record must be recomputed at now.
// A missing record is always stale. A ttl of zero or less never expires.
func IsStale(record *store.EmbeddingRecord, now time.Time, ttl time.Duration) bool {
	if record == nil {
		return true
	}
	if ttl <= 0 {
		return false
	}
	return now.Sub(time.Unix(record.UpdatedTs, 0)) > ttl
}

// FreshnessPolicy holds the TTL for each entity type.
// Event content is immutable once created, so events never expire.
type FreshnessPolicy struct {
	UserTTL  time.Duration
	GroupTTL time.Duration
}

// DefaultFreshnessPolicy returns the 24h policy for users and groups.
func DefaultFreshnessPolicy() FreshnessPolicy {
	return FreshnessPolicy{UserTTL: DefaultTTL, GroupTTL: DefaultTTL}
}

// NewFreshnessPolicy applies ttl to users and groups. Zero falls back to DefaultTTL.
func NewFreshnessPolicy(ttl time.Duration) FreshnessPolicy {
	if ttl <= 0 {
		return DefaultFreshnessPolicy()
	}
	return FreshnessPolicy{UserTTL: ttl, GroupTTL: ttl}
}

func (p FreshnessPolicy) TTL(entityType store.EntityType) time.Duration {
	switch entityType {
	case store.EntityTypeUser:
		return p.UserTTL
	case store.EntityTypeGroup:
		return p.GroupTTL
	default:
		return 0
	}
}

// IsStale applies the TTL for entityType.
func (p FreshnessPolicy) IsStale(entityType store.EntityType, record *store.EmbeddingRecord, now time.Time) bool {
	return IsStale(record, now, p.TTL(entityType))
}

// StaleBefore returns the cutoff timestamp for entityType, or nil when records never expire.
func (p FreshnessPolicy) StaleBefore(entityType store.EntityType, now time.Time) *int64 {
	ttl := p.TTL(entityType)
	if ttl <= 0 {
		return nil
	}
	// Strictly older than the cutoff is stale.
	cutoff := now.Add(-ttl).Unix()
	return &cutoff
}
