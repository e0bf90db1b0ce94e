//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package evaluate implements the "ape evaluate" subcommand: a one-shot
// access decision against a demo YAML policy bundle, grounded on the
// teacher's cmd/mpe/subcommands/test package idiom.
package evaluate

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/coreauthz/engine/cmd/ape/bundle"
	"github.com/coreauthz/engine/pkg/common"
	"github.com/coreauthz/engine/pkg/policy"
)

func parseResource(pairs []string) policy.AccessResource {
	resource := make(policy.AccessResource, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		resource[k] = v
	}
	return resource
}

func parseGroups(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// Execute loads the bundle named by --bundle, builds an engine from it,
// and evaluates a single access request built from the remaining flags.
func Execute(_ context.Context, cmd *cli.Command) error {
	sp, err := bundle.Load(cmd.String("bundle"))
	if err != nil {
		return err
	}

	engine, err := policy.NewEngine(sp)
	if err != nil {
		return fmt.Errorf("evaluate: building engine: %w", err)
	}

	request := policy.NewAccessRequest(
		parseResource(cmd.StringSlice("resource")),
		cmd.String("user"),
		parseGroups(cmd.String("groups")),
		cmd.String("action"),
		cmd.String("access-type"),
	)

	engine.EnrichContext(request)
	result := engine.IsAccessAllowed(request)

	common.PrettyPrint(map[string]interface{}{
		"isAllowed":           result.IsAllowed,
		"isAccessDetermined":  result.IsAccessDetermined,
		"isAudited":           result.IsAudited,
		"isAuditedDetermined": result.IsAuditedDetermined,
		"policyId":            result.PolicyID,
		"reason":              result.Reason,
	})

	return nil
}
