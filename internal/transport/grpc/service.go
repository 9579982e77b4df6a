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

package grpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"

	"github.com/auth9/auth9/internal/token"
)

// jsonCodec serializes RPC messages as JSON. The service is consumed by
// polyglot backends, so the wire format stays schema-free.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "json" }

const serviceName = "auth9.v1.TokenExchange"

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*tokenExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ExchangeToken", Handler: exchangeTokenHandler},
		{MethodName: "ValidateToken", Handler: validateTokenHandler},
		{MethodName: "GetUserRoles", Handler: getUserRolesHandler},
		{MethodName: "IntrospectToken", Handler: introspectTokenHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "auth9/v1/token_exchange",
}

// tokenExchangeServer is the handler contract behind serviceDesc.
type tokenExchangeServer interface {
	ExchangeToken(ctx context.Context, req *ExchangeTokenRequest) (*token.ExchangeResult, error)
	ValidateToken(ctx context.Context, req *ValidateTokenRequest) (*ValidateTokenResponse, error)
	GetUserRoles(ctx context.Context, req *GetUserRolesRequest) (*GetUserRolesResponse, error)
	IntrospectToken(ctx context.Context, req *IntrospectTokenRequest) (*token.Introspection, error)
}

func exchangeTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExchangeTokenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).ExchangeToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ExchangeToken"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).ExchangeToken(ctx, req.(*ExchangeTokenRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func validateTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ValidateTokenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).ValidateToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ValidateToken"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).ValidateToken(ctx, req.(*ValidateTokenRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getUserRolesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetUserRolesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).GetUserRoles(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetUserRoles"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).GetUserRoles(ctx, req.(*GetUserRolesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func introspectTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(IntrospectTokenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).IntrospectToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/IntrospectToken"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).IntrospectToken(ctx, req.(*IntrospectTokenRequest))
	}
	return interceptor(ctx, in, info, handler)
}
