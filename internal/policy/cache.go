//
//  Copyright © Manetu Inc. All rights reserved.
//

package policy

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// auditEntry is the remembered (isAudited, isAuditedDetermined) pair for
// one resource fingerprint.
type auditEntry struct {
	isAudited           bool
	isAuditedDetermined bool
}

// AuditCache is the bounded, concurrency-safe, LRU-evicted audit-enabled
// cache a PolicyRepository owns. It is purely an optimisation: a miss
// simply triggers full evaluation, and a cache built with size 0 never
// stores or returns anything, making it behaviourally transparent.
//
// golang-lru's Cache is already safe for concurrent use, so no
// additional locking is needed here; correctness does not depend on
// which entry gets evicted when the bound is reached.
type AuditCache struct {
	inner *lru.Cache[string, auditEntry]
}

// NewAuditCache builds an AuditCache bounded to size entries. size <= 0
// yields a disabled cache: every Get is a miss and every Put is a no-op.
func NewAuditCache(size int) *AuditCache {
	if size <= 0 {
		return &AuditCache{}
	}
	inner, err := lru.New[string, auditEntry](size)
	if err != nil {
		// Only returned by golang-lru for size <= 0, already excluded above.
		return &AuditCache{}
	}
	return &AuditCache{inner: inner}
}

// Get returns the cached audit pair for fingerprint and whether it was
// present.
func (c *AuditCache) Get(fingerprint string) (auditEntry, bool) {
	if c == nil || c.inner == nil {
		return auditEntry{}, false
	}
	return c.inner.Get(fingerprint)
}

// Put records entry under fingerprint. Callers are expected to only
// store entries whose isAuditedDetermined is true, per the audit cache
// contract in the engine.
func (c *AuditCache) Put(fingerprint string, entry auditEntry) {
	if c == nil || c.inner == nil {
		return
	}
	c.inner.Add(fingerprint, entry)
}

// Len reports the number of entries currently cached, mainly for tests.
func (c *AuditCache) Len() int {
	if c == nil || c.inner == nil {
		return 0
	}
	return c.inner.Len()
}
