//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package generic provides an HTTP/REST decision point for the policy
// engine, grounded on the teacher's pkg/decisionpoint/generic package.
//
// Unlike the teacher, this module has no oapi-codegen-generated API
// layer (spec.md's engine has no OpenAPI surface of its own), so routes
// are wired directly against [github.com/labstack/echo/v4] instead of
// generated strict handlers.
//
// # Usage
//
//	engine, _ := policy.NewEngine(servicePolicies)
//	server, err := generic.CreateServer(engine, 8080)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop(ctx)
package generic

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/coreauthz/engine/internal/logging"
	"github.com/coreauthz/engine/pkg/decisionpoint"
	"github.com/coreauthz/engine/pkg/policy"
)

var logger = logging.GetLogger("policyengine.decisionpoint.generic")

const agent = "generic"

// authorizeRequest is the JSON body accepted by POST /authorize.
type authorizeRequest struct {
	Resource    policy.AccessResource  `json:"resource"`
	User        string                 `json:"user"`
	UserGroups  []string               `json:"userGroups"`
	Action      string                 `json:"action"`
	AccessType  string                 `json:"accessType"`
	RequestData map[string]interface{} `json:"requestData"`
}

// authorizeResponse is the JSON body returned by POST /authorize.
type authorizeResponse struct {
	IsAllowed           bool   `json:"isAllowed"`
	IsAccessDetermined  bool   `json:"isAccessDetermined"`
	IsAudited           bool   `json:"isAudited"`
	IsAuditedDetermined bool   `json:"isAuditedDetermined"`
	PolicyID            string `json:"policyId,omitempty"`
	Reason              string `json:"reason,omitempty"`
}

// Server is the HTTP server for the generic decision point.
//
// Server wraps an Echo HTTP server exposing a single authorization
// decision endpoint over the engine it was created with.
type Server struct {
	echo *echo.Echo
}

// CreateServer creates and starts a generic decision point HTTP server.
//
// The server starts immediately in a background goroutine and listens on
// the specified port. It provides:
//   - POST /authorize: authorization decision endpoint
//   - GET /healthz: liveness probe
//
// Returns a [decisionpoint.Server] that can be used to stop the server.
func CreateServer(engine *policy.Engine, port int) (decisionpoint.Server, error) {
	e := echo.New()
	e.HideBanner = true

	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	e.POST("/authorize", func(c echo.Context) error {
		var body authorizeRequest
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}

		request := policy.NewAccessRequest(body.Resource, body.User, body.UserGroups, body.Action, body.AccessType)
		request.RequestData = body.RequestData

		engine.EnrichContext(request)
		result := engine.IsAccessAllowed(request)

		logger.Tracef(agent, "authorize", "user=%s action=%s allowed=%v policy=%s", body.User, body.Action, result.IsAllowed, result.PolicyID)

		return c.JSON(http.StatusOK, authorizeResponse{
			IsAllowed:           result.IsAllowed,
			IsAccessDetermined:  result.IsAccessDetermined,
			IsAudited:           result.IsAudited,
			IsAuditedDetermined: result.IsAuditedDetermined,
			PolicyID:            result.PolicyID,
			Reason:              result.Reason,
		})
	})

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
			logger.Errorf(agent, "start", "HTTP server stopped: %v", err)
		}
	}()

	return &Server{echo: e}, nil
}

// Stop gracefully shuts down the HTTP server, waiting up to the
// context's deadline, and at most 10 seconds, for in-flight requests to
// complete.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
