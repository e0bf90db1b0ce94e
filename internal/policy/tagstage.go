//
//  Copyright © Manetu Inc. All rights reserved.
//

package policy

import (
	"github.com/coreauthz/engine/internal/logging"
	policymodel "github.com/coreauthz/engine/pkg/policy"
)

var logger = logging.GetLogger("policyengine")

const agent = "policyengine"

// EvaluateTagPolicies runs the tag stage of the decision pipeline (spec
// §4.2). It returns an undetermined result if tagRepo is nil or the
// request carries no CONTEXT_TAGS, matching the documented precondition.
func EvaluateTagPolicies(tagRepo *Repository, componentName string, request *policymodel.AccessRequest) *policymodel.AccessResult {
	stage := policymodel.NewAccessResult(request.ServiceName, request.ServiceDef)

	if tagRepo == nil {
		return stage
	}
	tags := tagsFromContext(request)
	if len(tags) == 0 {
		return stage
	}

	var (
		anyTagAllowed       bool
		anyTagDenied        bool
		anyTagRequiredAudit bool
		allowedResult       *policymodel.AccessResult
		deniedResult        *policymodel.AccessResult
		events              []policymodel.TagAuditEvent
	)

	for _, tag := range tags {
		tagRequest := policymodel.NewTagAccessRequest(tag, componentName, request)
		tagResult := policymodel.NewAccessResult(request.ServiceName, request.ServiceDef)

		for _, evaluator := range tagRepo.Evaluators {
			if err := evaluator.Evaluate(tagRequest, tagResult); err != nil {
				logger.Warnf(agent, "evaluateTagPolicies", "evaluator error for policy %s, tag %s: %v",
					evaluator.GetPolicy().ID, tag.Name, err)
				continue
			}

			finalDecider := evaluator.IsFinalDecider()
			fullyDetermined := tagResult.IsAccessDetermined && tagResult.IsAuditedDetermined
			if finalDecider || fullyDetermined {
				break
			}
		}

		if tagResult.IsAuditedDetermined {
			anyTagRequiredAudit = true
			if tagResult.IsAccessDetermined {
				events = append(events, policymodel.TagAuditEvent{TagName: tag.Name, Result: tagResult.CloneForAudit()})
			}
		}

		if tagResult.IsAccessDetermined {
			if tagResult.IsAllowed {
				anyTagAllowed = true
				allowedResult = tagResult.CloneForAudit()
			} else {
				anyTagDenied = true
				deniedResult = tagResult.CloneForAudit()
			}
		}
	}

	switch {
	case anyTagDenied:
		stage.CopyFrom(deniedResult)
	case anyTagAllowed:
		stage.CopyFrom(allowedResult)
	}

	if anyTagRequiredAudit {
		stage.IsAudited = true
		stage.IsAuditedDetermined = true
		stage.TagAuditEvents = policymodel.ReduceTagAuditEvents(events, anyTagDenied)
	}

	return stage
}

func tagsFromContext(request *policymodel.AccessRequest) []policymodel.ResourceTag {
	if request == nil || request.Context == nil {
		return nil
	}
	raw, ok := request.Context[policymodel.ContextTags]
	if !ok {
		return nil
	}
	tags, _ := raw.([]policymodel.ResourceTag)
	return tags
}
