//
//  Copyright © Manetu Inc. All rights reserved.
//

package policy

import (
	policymodel "github.com/coreauthz/engine/pkg/policy"
)

// Repository holds everything one policy family (resource or tag) needs
// to participate in a decision: an ordered, immutable list of
// evaluators, an ordered, immutable list of context enrichers, and the
// family's audit-enabled cache. All three are fixed at construction
// time; readers never need synchronisation against the lists
// themselves, only against the cache.
type Repository struct {
	ServiceName   string
	ServiceDef    string
	PolicyVersion int64

	Evaluators []policymodel.PolicyEvaluator
	Enrichers  []policymodel.ContextEnricher

	cache *AuditCache
}

// NewRepository builds a Repository with an audit cache bounded to
// cacheSize (0 disables it).
func NewRepository(serviceName, serviceDef string, version int64, evaluators []policymodel.PolicyEvaluator, enrichers []policymodel.ContextEnricher, cacheSize int) *Repository {
	return &Repository{
		ServiceName:   serviceName,
		ServiceDef:    serviceDef,
		PolicyVersion: version,
		Evaluators:    evaluators,
		Enrichers:     enrichers,
		cache:         NewAuditCache(cacheSize),
	}
}

// SetAuditEnabledFromCache consults the cache for request's resource
// fingerprint; on a hit, it copies the cached (isAudited,
// isAuditedDetermined) pair into result and reports true.
func (r *Repository) SetAuditEnabledFromCache(request *policymodel.AccessRequest, result *policymodel.AccessResult) bool {
	entry, hit := r.cache.Get(Fingerprint(request.Resource))
	if !hit {
		return false
	}
	result.IsAudited = entry.isAudited
	result.IsAuditedDetermined = entry.isAuditedDetermined
	return true
}

// StoreAuditEnabledInCache records result's (isAudited,
// isAuditedDetermined) pair under request's resource fingerprint, but
// only when isAuditedDetermined is true: an undetermined audit flag is
// not safe to reuse for a later request against the same resource.
func (r *Repository) StoreAuditEnabledInCache(request *policymodel.AccessRequest, result *policymodel.AccessResult) {
	if !result.IsAuditedDetermined {
		return
	}
	r.cache.Put(Fingerprint(request.Resource), auditEntry{
		isAudited:           result.IsAudited,
		isAuditedDetermined: result.IsAuditedDetermined,
	})
}
