//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package celeval provides a concrete, testable [policy.PolicyEvaluator]
// implementation: glob-style resource-pattern matching, user/group
// membership tests, and an optional CEL condition evaluated against the
// request. It exists to give the engine's opaque evaluator contract one
// working body so the module is runnable end to end; none of its
// internals are part of the engine's own contract, matching spec.md §1's
// "evaluator internals are out of scope" boundary.
package celeval

import (
	"fmt"
	"path"

	"github.com/google/cel-go/cel"

	"github.com/coreauthz/engine/pkg/common"
	policymodel "github.com/coreauthz/engine/pkg/policy"
)

// Effect is the access decision a matching policy produces.
type Effect string

const (
	// Allow grants access when the policy matches.
	Allow Effect = "allow"
	// Deny refuses access when the policy matches.
	Deny Effect = "deny"
)

// Wildcard matches any single value for a resource dimension, action, or
// access type.
const Wildcard = "*"

// Spec is the declarative description of one CEL-backed policy. Resource
// dimension values, actions, and access types support glob patterns via
// [path.Match] ("sales-*", "?", "[abc]"); Wildcard ("*") is the common
// case of "match anything."
type Spec struct {
	ID          string
	Name        string
	Resource    map[string]string
	Actions     []string
	AccessTypes []string
	Users       []string
	Groups      []string
	// Effect is Allow or Deny. An empty Effect makes the policy audit-only:
	// a match advances the audit fields but never determines access.
	Effect Effect
	Audit  bool
	// FinalDecider marks this evaluator as always terminating a per-tag
	// evaluator loop once consulted, regardless of the outcome it
	// produces (spec.md §3, §4.2).
	FinalDecider bool
	// Condition is an optional CEL expression evaluated with
	// resource.<dim>, user, groups, action, and accessType bound as
	// variables. A missing or empty Condition always matches once the
	// structural checks above pass.
	Condition string
}

// Evaluator is a compiled, ready-to-run [Spec]. Evaluators are immutable
// after [New] returns and are safe for concurrent use: CEL programs do
// not mutate the compiled environment during Eval.
type Evaluator struct {
	spec    Spec
	env     *cel.Env
	program cel.Program
}

// New compiles spec's condition (if any) and returns a ready-to-run
// Evaluator. The CEL environment declares a dynamic "resource" map plus
// user/groups/action/accessType variables; a Condition referencing any
// other identifier fails to compile.
func New(spec Spec) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("resource", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user", cel.StringType),
		cel.Variable("groups", cel.ListType(cel.StringType)),
		cel.Variable("action", cel.StringType),
		cel.Variable("accessType", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("celeval: building CEL environment: %w", err)
	}

	e := &Evaluator{spec: spec, env: env}
	if spec.Condition == "" {
		return e, nil
	}

	ast, issues := env.Compile(spec.Condition)
	if issues != nil && issues.Err() != nil {
		return nil, common.NewError(common.ReasonCompilation,
			fmt.Sprintf("celeval: compiling condition %q for policy %s: %v", spec.Condition, spec.ID, issues.Err()))
	}
	if ast.OutputType() != cel.BoolType {
		return nil, common.NewError(common.ReasonCompilation,
			fmt.Sprintf("celeval: condition %q for policy %s must evaluate to bool, got %s", spec.Condition, spec.ID, ast.OutputType()))
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, common.NewError(common.ReasonCompilation,
			fmt.Sprintf("celeval: building CEL program for policy %s: %v", spec.ID, err))
	}
	e.program = prg
	return e, nil
}

// Evaluate implements policy.PolicyEvaluator. It never clears fields
// already set by an earlier evaluator in the same pass: an access
// determination already made by a prior evaluator is left untouched,
// only the audit fields may still be advanced by an audit-only match.
func (e *Evaluator) Evaluate(request *policymodel.AccessRequest, result *policymodel.AccessResult) error {
	if !e.structuralMatch(request.Resource, request.User, request.UserGroups, request.Action, request.AccessType) {
		return nil
	}

	matched, err := e.conditionMatch(request)
	if err != nil {
		return err
	}
	if !matched {
		return nil
	}

	if e.spec.Effect != "" && !result.IsAccessDetermined {
		result.IsAllowed = e.spec.Effect == Allow
		result.IsAccessDetermined = true
		result.PolicyID = e.spec.ID
		result.Reason = fmt.Sprintf("policy %s (%s) matched", e.spec.ID, e.spec.Effect)
	}
	if e.spec.Audit {
		result.IsAudited = true
		result.IsAuditedDetermined = true
	}
	return nil
}

// IsAccessAllowed implements policy.PolicyEvaluator's direct predicate. It
// has no action to test against (the interface carries none), so it
// checks only resource, access type, and principal; it never touches an
// AccessResult.
func (e *Evaluator) IsAccessAllowed(resource policymodel.AccessResource, user string, groups []string, accessType string) bool {
	if e.spec.Effect != Allow {
		return false
	}
	if !matchResource(e.spec.Resource, resource) {
		return false
	}
	if !matchGlobList(e.spec.AccessTypes, accessType) {
		return false
	}
	return matchPrincipal(e.spec.Users, e.spec.Groups, user, groups)
}

// IsSingleAndExactMatch reports whether this policy's resource spec
// covers exactly resource and nothing broader: every dimension pattern
// must be a literal (no glob metacharacters) and the dimension sets and
// values must match exactly.
func (e *Evaluator) IsSingleAndExactMatch(resource policymodel.AccessResource) bool {
	if len(e.spec.Resource) != len(resource) {
		return false
	}
	for dim, pattern := range e.spec.Resource {
		if isGlobPattern(pattern) {
			return false
		}
		val, ok := resource[dim]
		if !ok || fmt.Sprintf("%v", val) != pattern {
			return false
		}
	}
	return true
}

// IsFinalDecider reports whether this evaluator always terminates a
// per-tag evaluator loop once consulted.
func (e *Evaluator) IsFinalDecider() bool { return e.spec.FinalDecider }

// GetPolicy returns the underlying policy descriptor.
func (e *Evaluator) GetPolicy() policymodel.Policy {
	spec := make(policymodel.AccessResource, len(e.spec.Resource))
	for k, v := range e.spec.Resource {
		spec[k] = v
	}
	return policymodel.Policy{
		ID:           e.spec.ID,
		Name:         e.spec.Name,
		ResourceSpec: spec,
		Audit:        e.spec.Audit,
	}
}

func (e *Evaluator) structuralMatch(resource policymodel.AccessResource, user string, groups []string, action, accessType string) bool {
	if !matchResource(e.spec.Resource, resource) {
		return false
	}
	if action != "" && !matchGlobList(e.spec.Actions, action) {
		return false
	}
	if !matchGlobList(e.spec.AccessTypes, accessType) {
		return false
	}
	if !matchPrincipal(e.spec.Users, e.spec.Groups, user, groups) {
		return false
	}
	return true
}

func (e *Evaluator) conditionMatch(request *policymodel.AccessRequest) (bool, error) {
	if e.program == nil {
		return true, nil
	}
	resourceVars := make(map[string]interface{}, len(request.Resource))
	for k, v := range request.Resource {
		resourceVars[k] = v
	}
	groups := request.UserGroups
	if groups == nil {
		groups = []string{}
	}
	vars := map[string]interface{}{
		"resource":   resourceVars,
		"user":       request.User,
		"groups":     groups,
		"action":     request.Action,
		"accessType": request.AccessType,
	}
	out, _, err := e.program.Eval(vars)
	if err != nil {
		return false, common.NewError(common.ReasonEvaluation,
			fmt.Sprintf("celeval: evaluating condition for policy %s: %v", e.spec.ID, err))
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, common.NewError(common.ReasonEvaluation,
			fmt.Sprintf("celeval: condition for policy %s returned non-bool %T", e.spec.ID, out.Value()))
	}
	return matched, nil
}

func matchResource(pattern map[string]string, resource policymodel.AccessResource) bool {
	for dim, pat := range pattern {
		val, ok := resource[dim]
		if !ok {
			return false
		}
		ok, err := path.Match(pat, fmt.Sprintf("%v", val))
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func matchGlobList(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pat := range patterns {
		if pat == Wildcard {
			return true
		}
		if ok, err := path.Match(pat, value); err == nil && ok {
			return true
		}
	}
	return false
}

func matchPrincipal(users, groupPatterns []string, user string, userGroups []string) bool {
	if len(users) == 0 && len(groupPatterns) == 0 {
		return true
	}
	for _, u := range users {
		if u == Wildcard || u == user {
			return true
		}
	}
	for _, gp := range groupPatterns {
		for _, g := range userGroups {
			if gp == Wildcard || gp == g {
				return true
			}
		}
	}
	return false
}

func isGlobPattern(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
