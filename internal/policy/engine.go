//
//  Copyright © Manetu Inc. All rights reserved.
//

package policy

import (
	"fmt"

	"github.com/coreauthz/engine/pkg/common"
	policymodel "github.com/coreauthz/engine/pkg/policy"
)

// Engine is the orchestration core behind the public policy.Engine: the
// two repositories (resource, optional tag), the concatenated enricher
// list, and the pipeline in spec §4.1. An Engine is built once and is
// immutable thereafter; a policy update builds a new Engine and swaps
// the reference atomically, never mutating one in place.
type Engine struct {
	serviceName   string
	serviceDef    string
	policyVersion int64

	resourceRepo *Repository
	tagRepo      *Repository

	enrichers []policymodel.ContextEnricher
	processor policymodel.AccessResultProcessor
}

// NewEngine validates sp and builds an immutable Engine from it.
func NewEngine(sp policymodel.ServicePolicies, opts policymodel.EngineOptions) (*Engine, error) {
	if sp.TagPolicies != nil && sp.TagPolicies.ServiceDef == "" {
		reason := "tag policies present without a service definition"
		return nil, policymodel.NewConfigurationError(reason, common.NewError(common.ReasonConfiguration, reason))
	}
	if sp.ServiceName == "" {
		reason := "service name is required"
		return nil, policymodel.NewConfigurationError(reason, common.NewError(common.ReasonConfiguration, reason))
	}

	resourceRepo := NewRepository(sp.ServiceName, sp.ServiceDef, sp.PolicyVersion, sp.Policies, sp.Enrichers, opts.AuditCacheSize)

	var tagRepo *Repository
	var enrichers []policymodel.ContextEnricher
	if sp.TagPolicies != nil && !opts.DisableTagPolicyEvaluation {
		tagRepo = NewRepository(sp.TagPolicies.ServiceName, sp.TagPolicies.ServiceDef, sp.PolicyVersion, sp.TagPolicies.Policies, sp.TagPolicies.Enrichers, opts.AuditCacheSize)
		enrichers = append(enrichers, tagRepo.Enrichers...)
	}
	enrichers = append(enrichers, resourceRepo.Enrichers...)

	return &Engine{
		serviceName:   sp.ServiceName,
		serviceDef:    sp.ServiceDef,
		policyVersion: sp.PolicyVersion,
		resourceRepo:  resourceRepo,
		tagRepo:       tagRepo,
		enrichers:     enrichers,
		processor:     opts.Processor,
	}, nil
}

// GetServiceName returns the service name this engine was built for.
func (e *Engine) GetServiceName() string { return e.serviceName }

// GetServiceDef returns the service definition this engine was built for.
func (e *Engine) GetServiceDef() string { return e.serviceDef }

// GetPolicyVersion returns the policy snapshot version this engine was
// built from.
func (e *Engine) GetPolicyVersion() int64 { return e.policyVersion }

// CreateAccessResult seeds a fresh, undetermined AccessResult for this
// engine's service.
func (e *Engine) CreateAccessResult() *policymodel.AccessResult {
	return policymodel.NewAccessResult(e.serviceName, e.serviceDef)
}

// EnrichContext runs every enricher in order against request, tag
// enrichers first. A failing enricher is logged and skipped; no
// enricher failure aborts the chain.
func (e *Engine) EnrichContext(request *policymodel.AccessRequest) {
	if request == nil {
		return
	}
	if request.Context == nil {
		request.Context = make(map[string]interface{})
	}
	for _, enricher := range e.enrichers {
		if err := enricher.Enrich(request); err != nil {
			logger.Warnf(agent, "enrichContext", "enricher failed, continuing: %v", err)
		}
	}
}

// EnrichContextBatch runs EnrichContext over every request in requests,
// skipping nil entries.
func (e *Engine) EnrichContextBatch(requests []*policymodel.AccessRequest) {
	for _, request := range requests {
		if request == nil {
			continue
		}
		e.EnrichContext(request)
	}
}

// IsAccessAllowed is the main decision entry point (spec §4.1). A nil
// request is an InputError: it returns a fresh, undetermined,
// deny-by-default result without invoking any evaluator or processor.
func (e *Engine) IsAccessAllowed(request *policymodel.AccessRequest, processor policymodel.AccessResultProcessor) *policymodel.AccessResult {
	if request == nil {
		return policymodel.NewAccessResult(e.serviceName, e.serviceDef)
	}

	result := e.decide(request)

	if p := processor; p != nil {
		invokeProcessor(p, result)
	} else if e.processor != nil {
		invokeProcessor(e.processor, result)
	}

	return result
}

// IsAccessAllowedBatch runs IsAccessAllowed over every non-nil request in
// requests and invokes processor (if any) once with the full collection,
// rather than once per request.
func (e *Engine) IsAccessAllowedBatch(requests []*policymodel.AccessRequest, processor policymodel.AccessResultProcessor) []*policymodel.AccessResult {
	results := make([]*policymodel.AccessResult, 0, len(requests))
	for _, request := range requests {
		if request == nil {
			continue
		}
		results = append(results, e.decide(request))
	}

	if p := processor; p != nil {
		invokeProcessorBatch(p, results)
	} else if e.processor != nil {
		invokeProcessorBatch(e.processor, results)
	}

	return results
}

// decide runs the tag stage then the resource stage for one request,
// without touching any processor.
func (e *Engine) decide(request *policymodel.AccessRequest) *policymodel.AccessResult {
	result := policymodel.NewAccessResult(e.serviceName, e.serviceDef)

	tagAuditDetermined := false
	if e.tagRepo != nil {
		tagResult := EvaluateTagPolicies(e.tagRepo, e.serviceName, request)
		if tagResult.IsAccessDetermined {
			tagResult.ServiceName = e.serviceName
			tagResult.ServiceDef = e.serviceDef
			return tagResult
		}
		if tagResult.IsAuditedDetermined {
			result.IsAudited = tagResult.IsAudited
			result.IsAuditedDetermined = tagResult.IsAuditedDetermined
			result.TagAuditEvents = tagResult.TagAuditEvents
			tagAuditDetermined = true
		}
	}

	hit := false
	if !tagAuditDetermined {
		hit = e.resourceRepo.SetAuditEnabledFromCache(request, result)
	}

	for _, evaluator := range e.resourceRepo.Evaluators {
		if err := evaluator.Evaluate(request, result); err != nil {
			logger.Warnf(agent, "isAccessAllowed", "%v", policymodel.NewEvaluatorError(evaluator.GetPolicy().ID, err))
			continue
		}
		if result.IsAccessDetermined && result.IsAuditedDetermined {
			break
		}
	}

	if !tagAuditDetermined && !hit {
		e.resourceRepo.StoreAuditEnabledInCache(request, result)
	}

	return result
}

// IsAccessAllowedDirect is the short-circuiting "any" predicate: it
// iterates the resource evaluators only (tag policies are never
// consulted) and returns true on the first evaluator whose direct
// predicate matches. It never touches audit state.
func (e *Engine) IsAccessAllowedDirect(resource policymodel.AccessResource, user string, groups []string, accessType string) bool {
	for _, evaluator := range e.resourceRepo.Evaluators {
		if evaluator.IsAccessAllowed(resource, user, groups, accessType) {
			return true
		}
	}
	return false
}

// GetExactMatchPolicy returns the policy whose evaluator reports
// IsSingleAndExactMatch for resource, and whether one was found.
func (e *Engine) GetExactMatchPolicy(resource policymodel.AccessResource) (policymodel.Policy, bool) {
	for _, evaluator := range e.resourceRepo.Evaluators {
		if evaluator.IsSingleAndExactMatch(resource) {
			return evaluator.GetPolicy(), true
		}
	}
	return policymodel.Policy{}, false
}

// GetAllowedPolicies returns, in evaluator order, every resource policy
// whose resource spec this user/groups/accessType combination is
// allowed to access.
func (e *Engine) GetAllowedPolicies(user string, groups []string, accessType string) []policymodel.Policy {
	var allowed []policymodel.Policy
	for _, evaluator := range e.resourceRepo.Evaluators {
		spec := evaluator.GetPolicy().ResourceSpec
		if e.IsAccessAllowedDirect(spec, user, groups, accessType) {
			allowed = append(allowed, evaluator.GetPolicy())
		}
	}
	return allowed
}

func invokeProcessor(p policymodel.AccessResultProcessor, result *policymodel.AccessResult) {
	defer func() {
		if r := recover(); r != nil {
			err := policymodel.NewProcessorError(fmt.Errorf("%v", r))
			logger.Errorf(agent, "processResult", "%v, decision unaffected", err)
		}
	}()
	p.ProcessResult(result)
}

func invokeProcessorBatch(p policymodel.AccessResultProcessor, results []*policymodel.AccessResult) {
	defer func() {
		if r := recover(); r != nil {
			err := policymodel.NewProcessorError(fmt.Errorf("%v", r))
			logger.Errorf(agent, "processResults", "%v, decisions unaffected", err)
		}
	}()
	p.ProcessResults(results)
}
