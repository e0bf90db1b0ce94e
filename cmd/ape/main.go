//
//  Copyright © Manetu Inc. All rights reserved.
//

// Command ape is the CLI front end for the resource/tag access policy
// engine, grounded on the teacher's cmd/mpe CLI.
package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/coreauthz/engine/cmd/ape/subcommands/evaluate"
	"github.com/coreauthz/engine/cmd/ape/subcommands/serve"
)

func main() {
	cmd := &cli.Command{
		Name:  "ape",
		Usage: "A CLI application for working with the access-policy engine",
		Commands: []*cli.Command{
			{
				Name:  "evaluate",
				Usage: "Evaluates one access request against a demo policy bundle and prints the decision",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "bundle", Aliases: []string{"b"}, Required: true, Usage: "Path to a YAML policy bundle"},
					&cli.StringSliceFlag{Name: "resource", Aliases: []string{"r"}, Usage: "Resource dimension as dim=value, repeatable"},
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User identifier"},
					&cli.StringFlag{Name: "groups", Aliases: []string{"g"}, Usage: "Comma-separated group list"},
					&cli.StringFlag{Name: "action", Aliases: []string{"a"}, Usage: "Action string"},
					&cli.StringFlag{Name: "access-type", Usage: "Access-type string"},
				},
				Action: evaluate.Execute,
			},
			{
				Name:  "serve",
				Usage: "Starts a decision-point server fronting the engine built from a demo policy bundle",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "bundle", Aliases: []string{"b"}, Required: true, Usage: "Path to a YAML policy bundle"},
					&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8080, Usage: "Listen port"},
					&cli.StringFlag{Name: "protocol", Value: "generic", Usage: "Decision-point protocol: generic or envoy"},
				},
				Action: serve.Execute,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
