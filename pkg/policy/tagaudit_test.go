//
//  Copyright © Manetu Inc. All rights reserved.
//

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReduceTagAuditEventsDropsAllowsOnDeny(t *testing.T) {
	events := []TagAuditEvent{
		{TagName: "PUBLIC", Result: &AccessResult{IsAllowed: true}},
		{TagName: "PII", Result: &AccessResult{IsAllowed: false}},
	}

	reduced := ReduceTagAuditEvents(events, true)

	assert := assert.New(t)
	if assert.Len(reduced, 1) {
		assert.Equal("PII", reduced[0].TagName)
	}
}

func TestReduceTagAuditEventsKeepsAllOnAllow(t *testing.T) {
	events := []TagAuditEvent{
		{TagName: "PUBLIC", Result: &AccessResult{IsAllowed: true}},
		{TagName: "OTHER", Result: &AccessResult{IsAllowed: true}},
	}

	reduced := ReduceTagAuditEvents(events, false)

	assert.Len(t, reduced, 2)
}
