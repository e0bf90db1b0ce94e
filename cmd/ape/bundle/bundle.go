//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package bundle loads a demo [policy.ServicePolicies] snapshot from a
// YAML bundle file, grounded on the teacher's policydomain YAML-bundle
// idiom but trimmed to the handful of fields the core engine itself
// understands (resource patterns, actions, access types, principals,
// effect, audit, final-decider, and an optional CEL condition).
//
// This is a demo/CLI concern, not a production policy-loading pipeline:
// spec.md treats policy loading, parsing, and versioning as an external
// collaborator out of the engine's scope.
package bundle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/coreauthz/engine/pkg/policy"
	"github.com/coreauthz/engine/pkg/policy/celeval"
)

// PolicySpec is the YAML shape of one policy, mirroring celeval.Spec.
type PolicySpec struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Resource     map[string]string `yaml:"resource"`
	Actions      []string          `yaml:"actions"`
	AccessTypes  []string          `yaml:"accessTypes"`
	Users        []string          `yaml:"users"`
	Groups       []string          `yaml:"groups"`
	Effect       string            `yaml:"effect"`
	Audit        bool              `yaml:"audit"`
	FinalDecider bool              `yaml:"finalDecider"`
	Condition    string            `yaml:"condition"`
}

// TagPolicies is the YAML shape of the optional tag-policy family.
type TagPolicies struct {
	ServiceName string       `yaml:"serviceName"`
	ServiceDef  string       `yaml:"serviceDef"`
	Policies    []PolicySpec `yaml:"policies"`
}

// Bundle is the YAML shape of a full demo ServicePolicies snapshot.
type Bundle struct {
	ServiceName   string       `yaml:"serviceName"`
	ServiceDef    string       `yaml:"serviceDef"`
	PolicyVersion int64        `yaml:"policyVersion"`
	Policies      []PolicySpec `yaml:"policies"`
	TagPolicies   *TagPolicies `yaml:"tagPolicies"`
}

func toCelSpec(p PolicySpec) celeval.Spec {
	effect := celeval.Allow
	if p.Effect == string(celeval.Deny) {
		effect = celeval.Deny
	}
	return celeval.Spec{
		ID:           p.ID,
		Name:         p.Name,
		Resource:     p.Resource,
		Actions:      p.Actions,
		AccessTypes:  p.AccessTypes,
		Users:        p.Users,
		Groups:       p.Groups,
		Effect:       effect,
		Audit:        p.Audit,
		FinalDecider: p.FinalDecider,
		Condition:    p.Condition,
	}
}

func buildEvaluators(specs []PolicySpec) ([]policy.PolicyEvaluator, error) {
	evaluators := make([]policy.PolicyEvaluator, 0, len(specs))
	for _, spec := range specs {
		ev, err := celeval.New(toCelSpec(spec))
		if err != nil {
			return nil, fmt.Errorf("bundle: building evaluator %s: %w", spec.ID, err)
		}
		evaluators = append(evaluators, ev)
	}
	return evaluators, nil
}

// Load reads and parses a YAML bundle from path, returning a ready-to-use
// [policy.ServicePolicies].
func Load(path string) (policy.ServicePolicies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return policy.ServicePolicies{}, fmt.Errorf("bundle: reading %s: %w", path, err)
	}

	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return policy.ServicePolicies{}, fmt.Errorf("bundle: parsing %s: %w", path, err)
	}

	resourceEvaluators, err := buildEvaluators(b.Policies)
	if err != nil {
		return policy.ServicePolicies{}, err
	}

	sp := policy.ServicePolicies{
		ServiceName:   b.ServiceName,
		ServiceDef:    b.ServiceDef,
		PolicyVersion: b.PolicyVersion,
		Policies:      resourceEvaluators,
	}

	if b.TagPolicies != nil {
		tagEvaluators, err := buildEvaluators(b.TagPolicies.Policies)
		if err != nil {
			return policy.ServicePolicies{}, err
		}
		sp.TagPolicies = &policy.TagServicePolicies{
			ServiceName: b.TagPolicies.ServiceName,
			ServiceDef:  b.TagPolicies.ServiceDef,
			Policies:    tagEvaluators,
		}
	}

	return sp, nil
}
