//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package serve implements the "ape serve" subcommand: stands up a
// decision-point server (generic HTTP or Envoy ext_authz) fronting an
// engine built from a demo YAML bundle, grounded on the teacher's
// cmd/mpe/subcommands/serve package.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"

	"github.com/coreauthz/engine/cmd/ape/bundle"
	"github.com/coreauthz/engine/internal/logging"
	"github.com/coreauthz/engine/pkg/decisionpoint"
	"github.com/coreauthz/engine/pkg/decisionpoint/envoy"
	"github.com/coreauthz/engine/pkg/decisionpoint/generic"
	"github.com/coreauthz/engine/pkg/policy"
	"github.com/coreauthz/engine/pkg/policy/config"
)

var logger = logging.GetLogger("ape")

const agent = "serve"

// Execute runs the serve command, starting a decision point server based
// on the configured protocol. It blocks until an interrupt signal is
// received, then gracefully stops the server.
func Execute(ctx context.Context, cmd *cli.Command) error {
	sp, err := bundle.Load(cmd.String("bundle"))
	if err != nil {
		return err
	}

	opts, err := config.Load()
	if err != nil {
		return fmt.Errorf("serve: loading configuration: %w", err)
	}

	engine, err := policy.NewEngine(sp,
		policy.WithAuditCacheSize(opts.AuditCacheSize),
		policy.WithTagPolicyEvaluation(!opts.DisableTagPolicyEvaluation),
	)
	if err != nil {
		return fmt.Errorf("serve: building engine: %w", err)
	}

	port := cmd.Int("port")

	var server decisionpoint.Server
	switch cmd.String("protocol") {
	case "generic":
		server, err = generic.CreateServer(engine, port)
	case "envoy":
		server, err = envoy.CreateServer(engine, port, sp.ServiceName)
	default:
		return fmt.Errorf("serve: unknown protocol %q", cmd.String("protocol"))
	}
	if err != nil {
		return fmt.Errorf("serve: starting server: %w", err)
	}

	logger.Infof(agent, "start", "listening on :%d (protocol=%s)", port, cmd.String("protocol"))

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	<-sigCtx.Done()

	logger.Infof(agent, "stop", "shutting down")
	return server.Stop(context.Background())
}
