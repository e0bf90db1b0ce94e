//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package policy implements the orchestration internals of the resource
// and tag policy decision engine: the audit-enabled cache, the ordered
// evaluator/enricher repository, the tag-stage combination rule, and the
// top-level pipeline that ties them together. The public surface
// consumers should import is github.com/coreauthz/engine/pkg/policy;
// this package exists to keep that surface small and stable while the
// orchestration details evolve.
package policy

import (
	"encoding/json"
	"sort"
	"strings"

	policymodel "github.com/coreauthz/engine/pkg/policy"
)

// Fingerprint computes a stable, canonicalised key for a resource
// descriptor so two structurally-equal resource maps collide in the
// audit cache regardless of map iteration order: dimension names are
// sorted, and each value is rendered through its JSON encoding to
// normalise representation.
func Fingerprint(resource policymodel.AccessResource) string {
	if len(resource) == 0 {
		return ""
	}

	dims := make([]string, 0, len(resource))
	for k := range resource {
		dims = append(dims, k)
	}
	sort.Strings(dims)

	var b strings.Builder
	for i, dim := range dims {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(dim)
		b.WriteByte('=')
		v, err := json.Marshal(resource[dim])
		if err != nil {
			b.WriteString("<unencodable>")
			continue
		}
		b.Write(v)
	}
	return b.String()
}
