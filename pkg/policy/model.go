//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package policy defines the core data model and evaluation pipeline for
// the resource-level authorization decision engine: access requests and
// results, the opaque evaluator contract, the policy repository, and the
// top-level engine that combines a tag-policy stage with a resource-policy
// stage into one verdict.
//
// # Quick Start
//
//	engine, err := policy.NewEngine(servicePolicies,
//	    policy.WithAuditCacheSize(1024),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result := engine.IsAccessAllowed(request)
//	if result.IsAllowed {
//	    // proceed
//	}
package policy

import (
	"time"

	"github.com/google/uuid"
	"github.com/mohae/deepcopy"
)

// Well-known context keys, part of the ABI shared with enrichers and evaluators.
const (
	// ContextTags is the key under which an enricher publishes the ordered
	// list of ResourceTag attached to the request's resource.
	ContextTags = "CONTEXT_TAGS"
	// ContextTagObject is set only on synthetic tag requests, carrying the
	// single ResourceTag the request was derived from.
	ContextTagObject = "CONTEXT_TAG_OBJECT"
)

// AccessResource maps component-defined resource-dimension names (for
// example "database", "table") to their values for one access attempt.
type AccessResource map[string]interface{}

// ResourceTag is one tag attached to a resource at request time. Tag
// policies are keyed on Name; other attributes are available to
// evaluators via CONTEXT_TAG_OBJECT.
type ResourceTag struct {
	Name       string
	Attributes map[string]interface{}
}

// AccessRequest is an immutable input bundle describing one access
// attempt, plus a mutable Context map that enrichers use to attach
// derived facts (notably the tag list) before evaluation runs.
//
// Context is shared by reference with any TagAccessRequest synthesized
// from this request; callers must not mutate it concurrently with
// evaluation.
type AccessRequest struct {
	ID              uuid.UUID
	Resource        AccessResource
	User            string
	UserGroups      []string
	Action          string
	AccessType      string
	AccessTime      time.Time
	ClientType      string
	ClientIPAddress string
	SessionID       string
	RequestData     map[string]interface{}
	ServiceName     string
	ServiceDef      string

	Context map[string]interface{}
}

// NewAccessRequest builds an AccessRequest with a fresh correlation id and
// an initialised, empty Context map.
func NewAccessRequest(resource AccessResource, user string, groups []string, action, accessType string) *AccessRequest {
	return &AccessRequest{
		ID:         uuid.New(),
		Resource:   resource,
		User:       user,
		UserGroups: groups,
		Action:     action,
		AccessType: accessType,
		AccessTime: time.Now(),
		Context:    make(map[string]interface{}),
	}
}

// AccessResult is the mutable per-request accumulator that evaluators
// write into. IsAccessDetermined and IsAuditedDetermined are independent:
// an audit-only evaluator may determine IsAudited without ever
// determining IsAllowed, and vice versa.
//
// Invariant: once IsAccessDetermined is true, IsAllowed reflects the
// final access decision for that stage and is never altered again.
type AccessResult struct {
	IsAllowed           bool
	IsAccessDetermined  bool
	IsAudited           bool
	IsAuditedDetermined bool
	PolicyID            string
	Reason              string

	ServiceName string
	ServiceDef  string

	// TagAuditEvents carries the pruned per-tag audit trail produced by
	// the tag stage, so a host AccessResultProcessor can inspect it
	// without the engine's decision depending on whether anyone reads it.
	TagAuditEvents []TagAuditEvent
}

// NewAccessResult seeds a fresh, undetermined result for the given
// service, matching PolicyEngine.createAccessResult.
func NewAccessResult(serviceName, serviceDef string) *AccessResult {
	return &AccessResult{
		ServiceName: serviceName,
		ServiceDef:  serviceDef,
	}
}

// CopyFrom copies the fields the spec's tag-stage combination rule
// defines as transferable between a per-tag result and the stage result:
// IsAllowed, IsAccessDetermined, IsAudited, IsAuditedDetermined, PolicyID,
// Reason. ServiceName/ServiceDef and TagAuditEvents are left untouched
// since they belong to the destination result's own lifecycle.
func (r *AccessResult) CopyFrom(src *AccessResult) {
	r.IsAllowed = src.IsAllowed
	r.IsAccessDetermined = src.IsAccessDetermined
	r.IsAudited = src.IsAudited
	r.IsAuditedDetermined = src.IsAuditedDetermined
	r.PolicyID = src.PolicyID
	r.Reason = src.Reason
}

// CloneForAudit returns a defensive deep copy using mohae/deepcopy, used
// when a per-tag result must survive independently of the accumulator
// that produced it (the tag stage's allowedResult/deniedResult/audit
// event snapshots) rather than being aliased and later overwritten by a
// subsequent tag's evaluation.
func (r *AccessResult) CloneForAudit() *AccessResult {
	if r == nil {
		return nil
	}
	return deepcopy.Copy(r).(*AccessResult)
}

// Policy is the descriptor an evaluator returns from GetPolicy. Its
// shape is intentionally minimal: the engine only needs an identity and
// a resource spec to drive getExactMatchPolicy/getAllowedPolicies; full
// policy content (conditions, principals) lives behind the evaluator.
type Policy struct {
	ID           string
	Name         string
	ResourceSpec AccessResource
	Audit        bool
}

// ServicePolicies is the snapshot an engine is built from: one resource
// policy family plus an optional tag policy family. It is produced by a
// policy fetcher external to this module.
type ServicePolicies struct {
	ServiceName   string
	ServiceDef    string
	PolicyVersion int64
	Policies      []PolicyEvaluator
	Enrichers     []ContextEnricher

	TagPolicies *TagServicePolicies
}

// TagServicePolicies is the tag-family counterpart of ServicePolicies.
type TagServicePolicies struct {
	ServiceName string
	ServiceDef  string
	Policies    []PolicyEvaluator
	Enrichers   []ContextEnricher
}
