// Copyright 2026 The Auth9 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package grpc exposes token exchange to backend services. Messages are
// JSON-encoded over the wire; callers set the json content-subtype.
package grpc

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/auth9/auth9/internal/apperr"
	"github.com/auth9/auth9/internal/observability/logger"
	"github.com/auth9/auth9/internal/rbac"
	"github.com/auth9/auth9/internal/token"
)

// ExchangeTokenRequest asks for a tenant-access token.
type ExchangeTokenRequest struct {
	IdentityToken string `json:"identity_token"`
	TenantID      string `json:"tenant_id"`
	ClientID      string `json:"client_id"`
}

// ValidateTokenRequest verifies a tenant-access token.
type ValidateTokenRequest struct {
	Token    string `json:"token"`
	Audience string `json:"audience,omitempty"`
}

// ValidateTokenResponse reports the verified claims. Valid is false with
// empty claims for any unverifiable token.
type ValidateTokenResponse struct {
	Valid       bool     `json:"valid"`
	UserID      string   `json:"user_id,omitempty"`
	Email       string   `json:"email,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	ExpiresAt   int64    `json:"expires_at,omitempty"`
}

// GetUserRolesRequest asks for the live role projection.
type GetUserRolesRequest struct {
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`
	ServiceID string `json:"service_id,omitempty"`
}

// GetUserRolesResponse carries the projection.
type GetUserRolesResponse struct {
	Roles       []rbac.RoleInfo `json:"roles"`
	Permissions []string        `json:"permissions"`
}

// IntrospectTokenRequest asks for RFC 7662 style metadata.
type IntrospectTokenRequest struct {
	Token string `json:"token"`
}

// Server implements the TokenExchange service.
type Server struct {
	tokens   *token.Service
	resolver *rbac.Resolver

	grpcServer *grpc.Server
}

// NewServer creates a gRPC server wired to the token service.
func NewServer(tokens *token.Service, resolver *rbac.Resolver) *Server {
	s := &Server{
		tokens:   tokens,
		resolver: resolver,
	}
	s.grpcServer = grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Serve blocks serving connections on lis.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("grpc server listening",
		slog.String("addr", lis.Addr().String()),
		logger.Component("grpc"))
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight RPCs and stops.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// ExchangeToken trades an identity token for a tenant-access token.
func (s *Server) ExchangeToken(ctx context.Context, req *ExchangeTokenRequest) (*token.ExchangeResult, error) {
	if req.IdentityToken == "" || req.TenantID == "" || req.ClientID == "" {
		return nil, status.Error(codes.InvalidArgument, "identity_token, tenant_id and client_id are required")
	}
	result, err := s.tokens.Exchange(ctx, req.IdentityToken, req.TenantID, req.ClientID)
	if err != nil {
		return nil, grpcError(err)
	}
	return result, nil
}

// ValidateToken verifies a tenant-access token. Verification failure is a
// negative response, not an RPC error.
func (s *Server) ValidateToken(ctx context.Context, req *ValidateTokenRequest) (*ValidateTokenResponse, error) {
	claims, err := s.tokens.VerifyAccess(req.Token, req.Audience)
	if err != nil {
		return &ValidateTokenResponse{Valid: false}, nil
	}
	resp := &ValidateTokenResponse{
		Valid:       true,
		UserID:      claims.Subject,
		Email:       claims.Email,
		TenantID:    claims.TenantID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return resp, nil
}

// GetUserRoles resolves the user's live roles and permissions in a tenant.
func (s *Server) GetUserRoles(ctx context.Context, req *GetUserRolesRequest) (*GetUserRolesResponse, error) {
	if req.UserID == "" || req.TenantID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id and tenant_id are required")
	}
	resolution, err := s.resolver.Resolve(ctx, req.UserID, req.TenantID, req.ServiceID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &GetUserRolesResponse{
		Roles:       resolution.Roles,
		Permissions: resolution.Permissions,
	}, nil
}

// IntrospectToken reports token metadata for any token kind.
func (s *Server) IntrospectToken(ctx context.Context, req *IntrospectTokenRequest) (*token.Introspection, error) {
	if req.Token == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}
	return s.tokens.Introspect(ctx, req.Token), nil
}

func grpcError(err error) error {
	return status.Error(apperr.GRPCCode(err), apperr.Message(err))
}
