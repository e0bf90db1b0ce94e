//
//  Copyright © Manetu Inc. All rights reserved.
//

package policy

import (
	engineinternal "github.com/coreauthz/engine/internal/policy"
)

// Engine is the public handle for the resource/tag policy decision
// engine described in spec.md §6. It wraps the orchestration internals
// in internal/policy so that the evaluator contract, data model, and
// errors live in one importable package while the pipeline itself stays
// free to evolve behind this thin facade.
//
// An Engine is built once from a ServicePolicies snapshot via NewEngine
// and is immutable thereafter. Replacing policy means building a new
// Engine and swapping the reference a caller holds; Engine itself never
// mutates after construction.
type Engine struct {
	core *engineinternal.Engine
}

// NewEngine validates sp and builds an immutable Engine from it. It
// returns a *ConfigurationError if sp is malformed (for example, tag
// policies present without a service definition); no partially-built
// engine is ever returned.
func NewEngine(sp ServicePolicies, opts ...EngineOptionsFunc) (*Engine, error) {
	var o EngineOptions
	for _, fn := range opts {
		fn(&o)
	}

	core, err := engineinternal.NewEngine(sp, o)
	if err != nil {
		return nil, err
	}
	return &Engine{core: core}, nil
}

// GetServiceName returns the service name this engine was built for.
func (e *Engine) GetServiceName() string { return e.core.GetServiceName() }

// GetServiceDef returns the service definition this engine was built for.
func (e *Engine) GetServiceDef() string { return e.core.GetServiceDef() }

// GetPolicyVersion returns the policy snapshot version this engine was
// built from.
func (e *Engine) GetPolicyVersion() int64 { return e.core.GetPolicyVersion() }

// CreateAccessResult seeds a fresh, undetermined AccessResult for this
// engine's service, matching the result IsAccessAllowed would start from.
func (e *Engine) CreateAccessResult() *AccessResult { return e.core.CreateAccessResult() }

// EnrichContext runs every configured enricher, in order (tag enrichers
// first when a tag repository exists), against request. No enricher
// failure aborts the chain; a failing enricher is logged and skipped.
func (e *Engine) EnrichContext(request *AccessRequest) { e.core.EnrichContext(request) }

// EnrichContextBatch runs EnrichContext over every non-nil request in requests.
func (e *Engine) EnrichContextBatch(requests []*AccessRequest) { e.core.EnrichContextBatch(requests) }

// IsAccessAllowed is the main decision entry point (spec.md §4.1). A nil
// request returns a fresh, undetermined, deny-by-default result without
// invoking any evaluator or processor. WithCallProcessor overrides the
// engine's default processor (set via WithProcessor) for this call only.
func (e *Engine) IsAccessAllowed(request *AccessRequest, opts ...AuthzOptionsFunc) *AccessResult {
	var o AuthzOptions
	for _, fn := range opts {
		fn(&o)
	}
	return e.core.IsAccessAllowed(request, o.Processor)
}

// IsAccessAllowedBatch runs IsAccessAllowed over every non-nil request in
// requests and invokes the processor (if any) exactly once with the full
// result collection, rather than once per request. WithCallProcessor
// overrides the engine's default processor for this call only.
func (e *Engine) IsAccessAllowedBatch(requests []*AccessRequest, opts ...AuthzOptionsFunc) []*AccessResult {
	var o AuthzOptions
	for _, fn := range opts {
		fn(&o)
	}
	return e.core.IsAccessAllowedBatch(requests, o.Processor)
}

// IsAccessAllowedResource is the short-circuiting "any" predicate over
// the resource evaluators only: it returns true on the first evaluator
// whose direct IsAccessAllowed predicate matches resource/user/groups/
// accessType. Tag policies are never consulted and no audit state is
// touched.
func (e *Engine) IsAccessAllowedResource(resource AccessResource, user string, groups []string, accessType string) bool {
	return e.core.IsAccessAllowedDirect(resource, user, groups, accessType)
}

// GetExactMatchPolicy returns the policy whose evaluator reports
// IsSingleAndExactMatch for resource, and whether one was found.
func (e *Engine) GetExactMatchPolicy(resource AccessResource) (Policy, bool) {
	return e.core.GetExactMatchPolicy(resource)
}

// GetAllowedPolicies returns, in evaluator order, every resource policy
// whose resource spec this user/groups/accessType combination is
// permitted to access.
func (e *Engine) GetAllowedPolicies(user string, groups []string, accessType string) []Policy {
	return e.core.GetAllowedPolicies(user, groups, accessType)
}
