//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package envoy provides an Envoy ext_authz v3 gRPC decision point for
// the policy engine, grounded on the teacher's
// pkg/decisionpoint/envoy/envoy.go.
//
// Unlike the teacher (which maps Envoy's CheckRequest into a PORC
// expression via a Rego mapper), this module has no external mapper
// stage: the HTTP attributes Envoy supplies are translated directly into
// an [policy.AccessRequest], since the engine's evaluator contract is
// opaque to how a resource descriptor is derived.
package envoy

import (
	"context"
	"fmt"
	"net"
	"sync"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/coreauthz/engine/internal/logging"
	"github.com/coreauthz/engine/pkg/decisionpoint"
	"github.com/coreauthz/engine/pkg/policy"
)

var logger = logging.GetLogger("policyengine.decisionpoint.envoy")

const agent = "envoy"

const (
	resultHeader   = "x-ext-authz-check-result"
	receivedHeader = "x-ext-authz-check-received"
	resultAllowed  = "allowed"
	resultDenied   = "denied"
)

func returnIfNotTooLong(body string) string {
	// Maximum size of a header accepted by Envoy is 60KiB, so when the
	// request body is bigger than 60KB, don't return it in a response
	// header to avoid rejecting it by Envoy and returning 431 to the client.
	if len(body) > 60000 {
		return "<too-long>"
	}
	return body
}

// ExtAuthzServer implements the ext_authz v3 gRPC check request API
// against a [policy.Engine].
type ExtAuthzServer struct {
	grpcServer *grpc.Server
	engine     *policy.Engine
	component  string

	// For test only.
	grpcPort chan int
}

func logRequest(allow string, request *authv3.CheckRequest) {
	httpAttrs := request.GetAttributes().GetRequest().GetHttp()
	logger.Tracef(agent, "logRequest", "[gRPCv3][%s]: %s%s, attributes: %v", allow, httpAttrs.GetHost(),
		httpAttrs.GetPath(), request.GetAttributes())
}

// requestFromCheckRequest translates Envoy's CheckRequest HTTP
// attributes into an AccessRequest. The resource is the HTTP host and
// path; the action is the HTTP method; headers supply the user
// (x-user) and comma-separated groups (x-user-groups) when present.
func requestFromCheckRequest(component string, request *authv3.CheckRequest) *policy.AccessRequest {
	httpAttrs := request.GetAttributes().GetRequest().GetHttp()
	headers := httpAttrs.GetHeaders()

	resource := policy.AccessResource{
		"host": httpAttrs.GetHost(),
		"path": httpAttrs.GetPath(),
	}

	ar := policy.NewAccessRequest(resource, headers["x-user"], splitGroups(headers["x-user-groups"]), httpAttrs.GetMethod(), component)
	ar.ClientIPAddress = request.GetAttributes().GetSource().GetAddress().GetSocketAddress().GetAddress()
	return ar
}

func splitGroups(raw string) []string {
	if raw == "" {
		return nil
	}
	var groups []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				groups = append(groups, raw[start:i])
			}
			start = i + 1
		}
	}
	return groups
}

func (s *ExtAuthzServer) allow(request *authv3.CheckRequest) *authv3.CheckResponse {
	logRequest(resultAllowed, request)
	return &authv3.CheckResponse{
		HttpResponse: &authv3.CheckResponse_OkResponse{
			OkResponse: &authv3.OkHttpResponse{
				Headers: []*corev3.HeaderValueOption{
					{Header: &corev3.HeaderValue{Key: resultHeader, Value: resultAllowed}},
					{Header: &corev3.HeaderValue{Key: receivedHeader, Value: returnIfNotTooLong(request.GetAttributes().String())}},
				},
			},
		},
		Status: &status.Status{Code: int32(codes.OK)},
	}
}

func (s *ExtAuthzServer) deny(request *authv3.CheckRequest) *authv3.CheckResponse {
	logRequest(resultDenied, request)
	return &authv3.CheckResponse{
		HttpResponse: &authv3.CheckResponse_DeniedResponse{
			DeniedResponse: &authv3.DeniedHttpResponse{
				Status: &typev3.HttpStatus{Code: typev3.StatusCode_Forbidden},
				Body:   "permission denied",
				Headers: []*corev3.HeaderValueOption{
					{Header: &corev3.HeaderValue{Key: resultHeader, Value: resultDenied}},
					{Header: &corev3.HeaderValue{Key: receivedHeader, Value: returnIfNotTooLong(request.GetAttributes().String())}},
				},
			},
		},
		Status: &status.Status{Code: int32(codes.PermissionDenied)},
	}
}

// Check implements the ext_authz v3 gRPC check request.
func (s *ExtAuthzServer) Check(_ context.Context, request *authv3.CheckRequest) (*authv3.CheckResponse, error) {
	accessRequest := requestFromCheckRequest(s.component, request)

	s.engine.EnrichContext(accessRequest)
	result := s.engine.IsAccessAllowed(accessRequest)

	if result.IsAllowed {
		return s.allow(request), nil
	}
	return s.deny(request), nil
}

func (s *ExtAuthzServer) startGRPC(address string, wg *sync.WaitGroup) {
	logger.Infof(agent, "start", "Starting Envoy External Authorization gRPC server on %s", address)
	defer func() {
		wg.Done()
		logger.SysInfof("Stopped gRPC server")
	}()

	listener, err := net.Listen("tcp", address)
	if err != nil {
		logger.Errorf(agent, "net.listen", "Failed to start gRPC server: %v", err)
		return
	}

	s.grpcServer = grpc.NewServer()
	authv3.RegisterAuthorizationServer(s.grpcServer, s)

	// Store the port for test only. Must be after grpcServer is set to
	// avoid a race with Stop.
	s.grpcPort <- listener.Addr().(*net.TCPAddr).Port

	logger.SysInfof("Starting gRPC server at %s", listener.Addr())
	if err := s.grpcServer.Serve(listener); err != nil {
		logger.Errorf(agent, "grpc.start", "Failed to serve gRPC server: %v", err)
	}
}

func (s *ExtAuthzServer) run(grpcAddr string) {
	var wg sync.WaitGroup
	wg.Add(1)
	go s.startGRPC(grpcAddr, &wg)
	wg.Wait()
}

// CreateServer creates and starts a new Envoy External Authorization
// server bound to engine. component is used as the access type of every
// AccessRequest synthesized from a CheckRequest.
func CreateServer(engine *policy.Engine, port int, component string) (decisionpoint.Server, error) {
	s := &ExtAuthzServer{
		grpcPort:  make(chan int, 1),
		engine:    engine,
		component: component,
	}

	go s.run(fmt.Sprintf(":%d", port))

	return s, nil
}

// Stop gracefully stops the ExtAuthzServer: it waits for in-flight RPCs
// to finish, or stops the gRPC server outright once ctx is cancelled.
func (s *ExtAuthzServer) Stop(ctx context.Context) error {
	if s.grpcServer != nil {
		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.grpcServer.Stop()
		}
	}
	logger.SysInfof("GRPC server stopped")
	return nil
}
