//
//  Copyright © Manetu Inc. All rights reserved.
//

package policy

// NewTagAccessRequest builds a synthetic AccessRequest for one tag so
// tag-family evaluators can be run through the same PolicyEvaluator
// contract as resource-family evaluators. It is a constructor, not a
// subtype: primitive fields are copied verbatim, the context map is
// reused by reference, and the access type is namespaced against the
// component that owns the underlying resource.
//
// The returned request's Context is the same map as original.Context
// (created fresh and empty if original had none); a write through one
// is visible through the other. Callers must not mutate it concurrently
// with evaluation.
func NewTagAccessRequest(tag ResourceTag, componentName string, original *AccessRequest) *AccessRequest {
	ctx := original.Context
	if ctx == nil {
		ctx = make(map[string]interface{})
		original.Context = ctx
	}
	ctx[ContextTagObject] = tag

	return &AccessRequest{
		ID:              original.ID,
		Resource:        AccessResource{"tag": tag.Name},
		User:            original.User,
		UserGroups:      original.UserGroups,
		Action:          original.Action,
		AccessType:      componentName + ":" + original.AccessType,
		AccessTime:      original.AccessTime,
		ClientType:      original.ClientType,
		ClientIPAddress: original.ClientIPAddress,
		SessionID:       original.SessionID,
		RequestData:     original.RequestData,
		ServiceName:     original.ServiceName,
		ServiceDef:      original.ServiceDef,
		Context:         ctx,
	}
}
