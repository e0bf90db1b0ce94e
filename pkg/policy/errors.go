//
//  Copyright © Manetu Inc. All rights reserved.
//

package policy

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError reports a malformed ServicePolicies snapshot at
// engine construction time (for example, a tag policy family with no
// service definition). Engine construction fails outright; no
// partially-built engine is ever returned.
type ConfigurationError struct {
	Reason string
	cause  error
}

func (e *ConfigurationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.cause }

// NewConfigurationError builds a ConfigurationError, wrapping cause (if
// any) with a stack trace via github.com/pkg/errors for diagnostics at
// the construction boundary.
func NewConfigurationError(reason string, cause error) *ConfigurationError {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &ConfigurationError{Reason: reason, cause: cause}
}

// EvaluatorError wraps a failure from an evaluator or enricher. Per the
// engine's error policy, an EvaluatorError is caught and logged; the
// offending evaluator is treated as having produced no determination for
// the current request, and evaluation continues with the next
// evaluator. One buggy policy must never deny service.
type EvaluatorError struct {
	PolicyID string
	cause    error
}

func (e *EvaluatorError) Error() string {
	return fmt.Sprintf("evaluator error (policy=%s): %v", e.PolicyID, e.cause)
}

func (e *EvaluatorError) Unwrap() error { return e.cause }

// NewEvaluatorError wraps cause as an EvaluatorError attributed to
// policyID, for evaluators/enrichers to surface failures the engine
// will catch, log, and treat as a non-determination.
func NewEvaluatorError(policyID string, cause error) *EvaluatorError {
	return &EvaluatorError{PolicyID: policyID, cause: cause}
}

// ProcessorError wraps a failure from an AccessResultProcessor. It is
// caught and dropped; the decision already computed is still returned to
// the caller regardless of an audit-sink failure.
type ProcessorError struct {
	cause error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor error: %v", e.cause)
}

func (e *ProcessorError) Unwrap() error { return e.cause }

// NewProcessorError wraps cause (typically a recovered panic) as a
// ProcessorError.
func NewProcessorError(cause error) *ProcessorError {
	return &ProcessorError{cause: cause}
}

// InputError reports a nil request. A per-request call returns an
// undetermined (deny-by-default) AccessResult; a nil request inside a
// batch is simply skipped.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input error: %s", e.Reason)
}
