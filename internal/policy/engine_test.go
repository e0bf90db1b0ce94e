//
//  Copyright © Manetu Inc. All rights reserved.
//

package policy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	policymodel "github.com/coreauthz/engine/pkg/policy"
)

// fakeEvaluator is a minimal, fully scriptable PolicyEvaluator for
// exercising the engine's orchestration in isolation from any real
// pattern-matching or CEL implementation.
type fakeEvaluator struct {
	id           string
	matchAction  string
	matchTag     string
	allow        bool
	setAccess    bool
	audit        bool
	setAudit     bool
	finalDecider bool
	fail         bool
	calls        *int
}

func (f *fakeEvaluator) Evaluate(request *policymodel.AccessRequest, result *policymodel.AccessResult) error {
	if f.calls != nil {
		*f.calls++
	}
	if f.fail {
		return fmt.Errorf("boom")
	}
	if f.matchAction != "" && request.Action != f.matchAction {
		return nil
	}
	if f.matchTag != "" && request.Resource["tag"] != f.matchTag {
		return nil
	}
	if f.setAccess {
		result.IsAllowed = f.allow
		result.IsAccessDetermined = true
		result.PolicyID = f.id
	}
	if f.setAudit {
		result.IsAudited = f.audit
		result.IsAuditedDetermined = true
	}
	return nil
}

// IsAccessAllowed ignores the resource unless it is another fake's policy
// spec ({"policy": id}), which only that fake's predicate may answer.
func (f *fakeEvaluator) IsAccessAllowed(resource policymodel.AccessResource, _ string, _ []string, _ string) bool {
	if id, ok := resource["policy"]; ok && id != f.id {
		return false
	}
	return f.allow
}

func (f *fakeEvaluator) IsSingleAndExactMatch(resource policymodel.AccessResource) bool {
	return resource["exact"] == f.id
}

func (f *fakeEvaluator) IsFinalDecider() bool { return f.finalDecider }

func (f *fakeEvaluator) GetPolicy() policymodel.Policy {
	return policymodel.Policy{ID: f.id, ResourceSpec: policymodel.AccessResource{"policy": f.id}}
}

func newEngine(t *testing.T, resourceEvals, tagEvals []policymodel.PolicyEvaluator, cacheSize int) *Engine {
	t.Helper()
	sp := policymodel.ServicePolicies{
		ServiceName: "svc",
		ServiceDef:  "def",
		Policies:    resourceEvals,
	}
	if tagEvals != nil {
		sp.TagPolicies = &policymodel.TagServicePolicies{
			ServiceName: "svc",
			ServiceDef:  "def",
			Policies:    tagEvals,
		}
	}
	e, err := NewEngine(sp, policymodel.EngineOptions{AuditCacheSize: cacheSize})
	require.NoError(t, err)
	return e
}

func withTags(req *policymodel.AccessRequest, tags ...string) *policymodel.AccessRequest {
	rt := make([]policymodel.ResourceTag, len(tags))
	for i, name := range tags {
		rt[i] = policymodel.ResourceTag{Name: name}
	}
	req.Context[policymodel.ContextTags] = rt
	return req
}

// Scenario 1: no tags, resource-stage allow + audit-only evaluator.
func TestScenario_ResourceAllowWithAudit(t *testing.T) {
	e2 := &fakeEvaluator{id: "E2", matchAction: "read", allow: true, setAccess: true}
	ae := &fakeEvaluator{id: "AE", setAudit: true, audit: true}
	tagE1 := &fakeEvaluator{id: "E1", matchAction: "read", matchTag: "PII", allow: false, setAccess: true}

	engine := newEngine(t, []policymodel.PolicyEvaluator{e2, ae}, []policymodel.PolicyEvaluator{tagE1}, 0)

	req := policymodel.NewAccessRequest(policymodel.AccessResource{"db": "sales"}, "alice", nil, "read", "sql")
	req.Context = map[string]interface{}{}

	result := engine.IsAccessAllowed(req, nil)

	assert.True(t, result.IsAllowed)
	assert.True(t, result.IsAccessDetermined)
	assert.Equal(t, "E2", result.PolicyID)
	assert.True(t, result.IsAudited)
}

// Scenario 2: single PII tag denies, overriding resource stage entirely.
func TestScenario_TagDenyOverridesResourceStage(t *testing.T) {
	e2 := &fakeEvaluator{id: "E2", matchAction: "read", allow: true, setAccess: true}
	tagE1 := &fakeEvaluator{id: "E1", matchAction: "read", matchTag: "PII", allow: false, setAccess: true, setAudit: true, audit: true}

	engine := newEngine(t, []policymodel.PolicyEvaluator{e2}, []policymodel.PolicyEvaluator{tagE1}, 0)

	req := policymodel.NewAccessRequest(policymodel.AccessResource{"db": "sales"}, "alice", nil, "read", "sql")
	req.Context = map[string]interface{}{}
	withTags(req, "PII")

	result := engine.IsAccessAllowed(req, nil)

	assert.False(t, result.IsAllowed)
	assert.True(t, result.IsAccessDetermined)
	assert.Equal(t, "E1", result.PolicyID)
	assert.True(t, result.IsAudited)
}

// Scenario 3: PUBLIC allows, PII denies -> deny overrides allow, and the
// audit trail is pruned to retain only the deny event.
func TestScenario_DenyOverridesAllowAcrossTags(t *testing.T) {
	tagAllow := &fakeEvaluator{id: "PUB", matchTag: "PUBLIC", allow: true, setAccess: true, setAudit: true, audit: true}
	tagDeny := &fakeEvaluator{id: "PII", matchTag: "PII", allow: false, setAccess: true, setAudit: true, audit: true}

	engine := newEngine(t, nil, []policymodel.PolicyEvaluator{tagAllow, tagDeny}, 0)

	req := policymodel.NewAccessRequest(policymodel.AccessResource{"db": "sales"}, "alice", nil, "read", "sql")
	req.Context = map[string]interface{}{}
	withTags(req, "PUBLIC", "PII")

	result := engine.IsAccessAllowed(req, nil)

	assert.False(t, result.IsAllowed)
	require.Len(t, result.TagAuditEvents, 1)
	assert.Equal(t, "PII", result.TagAuditEvents[0].TagName)
	assert.False(t, result.TagAuditEvents[0].Result.IsAllowed)
}

// Scenario 4: no tags, only an audit-only resource evaluator -> access
// stays undetermined (deny-by-default posture upstream) but audit fires.
func TestScenario_AuditOnlyNoAccessDetermination(t *testing.T) {
	ae := &fakeEvaluator{id: "AE", setAudit: true, audit: true}

	engine := newEngine(t, []policymodel.PolicyEvaluator{ae}, nil, 0)

	req := policymodel.NewAccessRequest(policymodel.AccessResource{"db": "sales"}, "bob", nil, "write", "sql")
	req.Context = map[string]interface{}{}

	result := engine.IsAccessAllowed(req, nil)

	assert.False(t, result.IsAllowed)
	assert.False(t, result.IsAccessDetermined)
	assert.True(t, result.IsAudited)
	assert.True(t, result.IsAuditedDetermined)
}

// Scenario 5: getExactMatchPolicy returns the evaluator's policy.
func TestScenario_GetExactMatchPolicy(t *testing.T) {
	ev := &fakeEvaluator{id: "exact-policy"}
	engine := newEngine(t, []policymodel.PolicyEvaluator{ev}, nil, 0)

	p, ok := engine.GetExactMatchPolicy(policymodel.AccessResource{"exact": "exact-policy"})
	require.True(t, ok)
	assert.Equal(t, "exact-policy", p.ID)

	_, ok = engine.GetExactMatchPolicy(policymodel.AccessResource{"exact": "nope"})
	assert.False(t, ok)
}

// Scenario 6: getAllowedPolicies returns exactly the allowing policies,
// in evaluator order.
func TestScenario_GetAllowedPolicies(t *testing.T) {
	allow1 := &fakeEvaluator{id: "p1", allow: true}
	deny := &fakeEvaluator{id: "p2", allow: false}
	allow2 := &fakeEvaluator{id: "p3", allow: true}

	engine := newEngine(t, []policymodel.PolicyEvaluator{allow1, deny, allow2}, nil, 0)

	policies := engine.GetAllowedPolicies("alice", []string{"eng"}, "read")

	require.Len(t, policies, 2)
	assert.Equal(t, "p1", policies[0].ID)
	assert.Equal(t, "p3", policies[1].ID)
}

// Invariant: determinism.
func TestInvariant_Determinism(t *testing.T) {
	e2 := &fakeEvaluator{id: "E2", matchAction: "read", allow: true, setAccess: true, setAudit: true, audit: true}
	engine := newEngine(t, []policymodel.PolicyEvaluator{e2}, nil, 64)

	req := policymodel.NewAccessRequest(policymodel.AccessResource{"db": "sales"}, "alice", nil, "read", "sql")
	req.Context = map[string]interface{}{}

	first := engine.IsAccessAllowed(req, nil)
	second := engine.IsAccessAllowed(req, nil)

	assert.Equal(t, first.IsAllowed, second.IsAllowed)
	assert.Equal(t, first.IsAccessDetermined, second.IsAccessDetermined)
	assert.Equal(t, first.IsAudited, second.IsAudited)
	assert.Equal(t, first.IsAuditedDetermined, second.IsAuditedDetermined)
	assert.Equal(t, first.PolicyID, second.PolicyID)
}

// Invariant: tag precedence — the resource stage is never consulted once
// the tag stage is determined.
func TestInvariant_TagPrecedenceSkipsResourceStage(t *testing.T) {
	var resourceCalls int
	resourceEval := &fakeEvaluator{id: "resource", allow: true, setAccess: true, calls: &resourceCalls}
	tagEval := &fakeEvaluator{id: "tag", matchTag: "PII", allow: false, setAccess: true}

	engine := newEngine(t, []policymodel.PolicyEvaluator{resourceEval}, []policymodel.PolicyEvaluator{tagEval}, 0)

	req := policymodel.NewAccessRequest(policymodel.AccessResource{"db": "sales"}, "alice", nil, "read", "sql")
	req.Context = map[string]interface{}{}
	withTags(req, "PII")

	result := engine.IsAccessAllowed(req, nil)

	assert.False(t, result.IsAllowed)
	assert.Equal(t, 0, resourceCalls, "resource stage must not run once the tag stage is determined")
}

// Invariant: final-decider — later evaluators in the same tag pass are
// never invoked once a final decider has run, even if it left the result
// undetermined.
func TestInvariant_FinalDeciderStopsTagLoop(t *testing.T) {
	var laterCalls int
	finalDecider := &fakeEvaluator{id: "final", finalDecider: true}
	later := &fakeEvaluator{id: "later", allow: true, setAccess: true, calls: &laterCalls}

	engine := newEngine(t, nil, []policymodel.PolicyEvaluator{finalDecider, later}, 0)

	req := policymodel.NewAccessRequest(policymodel.AccessResource{"db": "sales"}, "alice", nil, "read", "sql")
	req.Context = map[string]interface{}{}
	withTags(req, "PII")

	result := engine.IsAccessAllowed(req, nil)

	assert.False(t, result.IsAccessDetermined)
	assert.Equal(t, 0, laterCalls)
}

// Invariant: short-circuit — the resource stage stops as soon as both
// determined flags are set.
func TestInvariant_ResourceStageShortCircuit(t *testing.T) {
	var laterCalls int
	first := &fakeEvaluator{id: "first", allow: true, setAccess: true, setAudit: true, audit: true}
	later := &fakeEvaluator{id: "later", allow: false, setAccess: true, calls: &laterCalls}

	engine := newEngine(t, []policymodel.PolicyEvaluator{first, later}, nil, 0)

	req := policymodel.NewAccessRequest(policymodel.AccessResource{"db": "sales"}, "alice", nil, "read", "sql")
	req.Context = map[string]interface{}{}

	result := engine.IsAccessAllowed(req, nil)

	assert.True(t, result.IsAllowed)
	assert.Equal(t, 0, laterCalls, "later evaluator must not run once both determined flags are set")
}

// Invariant: cache transparency — disabling the audit cache (size 0)
// never changes a decision, only whether it's remembered.
func TestInvariant_CacheTransparency(t *testing.T) {
	build := func(cacheSize int) *policymodel.AccessResult {
		ae := &fakeEvaluator{id: "AE", setAudit: true, audit: true}
		engine := newEngine(t, []policymodel.PolicyEvaluator{ae}, nil, cacheSize)
		req := policymodel.NewAccessRequest(policymodel.AccessResource{"db": "sales"}, "alice", nil, "read", "sql")
		req.Context = map[string]interface{}{}
		return engine.IsAccessAllowed(req, nil)
	}

	disabled := build(0)
	enabled := build(64)

	assert.Equal(t, disabled.IsAllowed, enabled.IsAllowed)
	assert.Equal(t, disabled.IsAccessDetermined, enabled.IsAccessDetermined)
	assert.Equal(t, disabled.IsAudited, enabled.IsAudited)
	assert.Equal(t, disabled.IsAuditedDetermined, enabled.IsAuditedDetermined)
}

// Audit cache: a hit seeds the audit pair, but the evaluators still run
// for access determination.
func TestAuditCacheHitSeedsAuditPair(t *testing.T) {
	var calls int
	ae := &fakeEvaluator{id: "AE", setAudit: true, audit: true, calls: &calls}
	engine := newEngine(t, []policymodel.PolicyEvaluator{ae}, nil, 64)

	req := func() *policymodel.AccessRequest {
		r := policymodel.NewAccessRequest(policymodel.AccessResource{"db": "sales"}, "alice", nil, "read", "sql")
		r.Context = map[string]interface{}{}
		return r
	}

	first := engine.IsAccessAllowed(req(), nil)
	second := engine.IsAccessAllowed(req(), nil)

	assert.True(t, first.IsAudited)
	assert.True(t, second.IsAudited)
	assert.Equal(t, 2, calls, "the evaluator still runs for access determination; the cache only seeds the audit pair")
}

// Invariant: context sharing — the tag-synthesised request shares the
// original request's context map by reference.
func TestInvariant_ContextSharing(t *testing.T) {
	var observed *policymodel.AccessRequest
	capturingEval := evaluateFunc(func(request *policymodel.AccessRequest, result *policymodel.AccessResult) error {
		observed = request
		return nil
	})

	engine := newEngine(t, nil, []policymodel.PolicyEvaluator{capturingEval}, 0)

	req := policymodel.NewAccessRequest(policymodel.AccessResource{"db": "sales"}, "alice", nil, "read", "sql")
	req.Context = map[string]interface{}{}
	withTags(req, "PII")

	engine.IsAccessAllowed(req, nil)

	require.NotNil(t, observed)
	observed.Context["written-by-tag-request"] = true
	assert.Equal(t, true, req.Context["written-by-tag-request"])
}

// evaluateFunc adapts a plain function to policymodel.PolicyEvaluator for
// tests that only care about observing the synthesized request.
type evaluateFunc func(*policymodel.AccessRequest, *policymodel.AccessResult) error

func (f evaluateFunc) Evaluate(r *policymodel.AccessRequest, res *policymodel.AccessResult) error {
	return f(r, res)
}
func (f evaluateFunc) IsAccessAllowed(policymodel.AccessResource, string, []string, string) bool {
	return false
}
func (f evaluateFunc) IsSingleAndExactMatch(policymodel.AccessResource) bool { return false }
func (f evaluateFunc) IsFinalDecider() bool                                 { return false }
func (f evaluateFunc) GetPolicy() policymodel.Policy                        { return policymodel.Policy{ID: "capture"} }

// EvaluatorError: a failing evaluator is skipped, not fatal.
func TestEvaluatorErrorIsSkippedNotFatal(t *testing.T) {
	failing := &fakeEvaluator{id: "boom", fail: true}
	okEval := &fakeEvaluator{id: "ok", allow: true, setAccess: true}

	engine := newEngine(t, []policymodel.PolicyEvaluator{failing, okEval}, nil, 0)

	req := policymodel.NewAccessRequest(policymodel.AccessResource{"db": "sales"}, "alice", nil, "read", "sql")
	req.Context = map[string]interface{}{}

	result := engine.IsAccessAllowed(req, nil)

	assert.True(t, result.IsAllowed)
	assert.Equal(t, "ok", result.PolicyID)
}

// InputError: a nil request returns an undetermined, deny-by-default result.
func TestNilRequestReturnsUndetermined(t *testing.T) {
	engine := newEngine(t, nil, nil, 0)
	result := engine.IsAccessAllowed(nil, nil)

	assert.False(t, result.IsAllowed)
	assert.False(t, result.IsAccessDetermined)
}

// ProcessorError: a panicking processor does not affect the returned decision.
func TestProcessorPanicDoesNotAffectDecision(t *testing.T) {
	allow := &fakeEvaluator{id: "ok", allow: true, setAccess: true}
	engine := newEngine(t, []policymodel.PolicyEvaluator{allow}, nil, 0)

	req := policymodel.NewAccessRequest(policymodel.AccessResource{"db": "sales"}, "alice", nil, "read", "sql")
	req.Context = map[string]interface{}{}

	panicking := processorFunc{result: func(*policymodel.AccessResult) { panic("processor exploded") }}

	var result *policymodel.AccessResult
	assert.NotPanics(t, func() {
		result = engine.IsAccessAllowed(req, panicking)
	})
	assert.True(t, result.IsAllowed)
}

type processorFunc struct {
	result func(*policymodel.AccessResult)
}

func (p processorFunc) ProcessResult(r *policymodel.AccessResult)    { p.result(r) }
func (p processorFunc) ProcessResults(rs []*policymodel.AccessResult) {}

// IsAccessAllowedDirect never consults tag policies and never touches
// audit state.
func TestIsAccessAllowedDirectIgnoresTagPolicies(t *testing.T) {
	resourceAllow := &fakeEvaluator{id: "r", allow: true}
	tagDeny := &fakeEvaluator{id: "t", allow: false}

	engine := newEngine(t, []policymodel.PolicyEvaluator{resourceAllow}, []policymodel.PolicyEvaluator{tagDeny}, 0)

	assert.True(t, engine.IsAccessAllowedDirect(policymodel.AccessResource{"db": "sales"}, "alice", nil, "read"))
}

// ConfigurationError: tag policies without a service definition fail
// construction outright.
func TestNewEngineRejectsTagPoliciesWithoutServiceDef(t *testing.T) {
	sp := policymodel.ServicePolicies{
		ServiceName: "svc",
		ServiceDef:  "def",
		TagPolicies: &policymodel.TagServicePolicies{
			ServiceName: "svc",
			Policies:    []policymodel.PolicyEvaluator{&fakeEvaluator{id: "t"}},
		},
	}
	_, err := NewEngine(sp, policymodel.EngineOptions{})
	require.Error(t, err)
	assert.IsType(t, &policymodel.ConfigurationError{}, err)
}

// DisableTagPolicyEvaluation behaves as if no tag repository exists.
func TestDisableTagPolicyEvaluation(t *testing.T) {
	resourceAllow := &fakeEvaluator{id: "r", matchAction: "read", allow: true, setAccess: true}
	tagDeny := &fakeEvaluator{id: "t", allow: false, setAccess: true}

	sp := policymodel.ServicePolicies{
		ServiceName: "svc",
		ServiceDef:  "def",
		Policies:    []policymodel.PolicyEvaluator{resourceAllow},
		TagPolicies: &policymodel.TagServicePolicies{ServiceName: "svc", ServiceDef: "def", Policies: []policymodel.PolicyEvaluator{tagDeny}},
	}
	engine, err := NewEngine(sp, policymodel.EngineOptions{DisableTagPolicyEvaluation: true})
	require.NoError(t, err)

	req := policymodel.NewAccessRequest(policymodel.AccessResource{"db": "sales"}, "alice", nil, "read", "sql")
	req.Context = map[string]interface{}{}
	withTags(req, "PII")

	result := engine.IsAccessAllowed(req, nil)
	assert.True(t, result.IsAllowed, "tag stage disabled: resource stage decides despite the PII tag")
}
