// Package grpcapi serves API key authentication to the cockpit's sibling
// services over gRPC.
package grpcapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/service"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
)

const (
	ServiceName          = "cockpit.identity.v1.Authenticator"
	authenticateFullName = "/" + ServiceName + "/Authenticate"
	apiKeyMetadata       = "x-api-key"
)

// Resolver resolves raw API keys. *service.Authenticator satisfies it.
type Resolver interface {
	Authenticate(ctx context.Context, rawKey string) (*model.Identity, error)
}

type authenticatorServer interface {
	Authenticate(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
}

// AuthenticatorServer implements cockpit.identity.v1.Authenticator.
type AuthenticatorServer struct {
	resolver Resolver
}

func NewAuthenticatorServer(r Resolver) *AuthenticatorServer {
	return &AuthenticatorServer{resolver: r}
}

// Authenticate takes the raw key as the request value, or from the
// x-api-key metadata when the value is empty.
func (s *AuthenticatorServer) Authenticate(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	key := in.GetValue()
	if key == "" {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(apiKeyMetadata); len(v) > 0 {
				key = v[0]
			}
		}
	}

	identity, err := s.resolver.Authenticate(ctx, strings.TrimSpace(key))
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := identityStruct(identity)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode identity")
	}
	return out, nil
}

func identityStruct(id *model.Identity) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"tenant_id":     id.TenantID.String(),
		"name":          id.Name,
		"email":         id.Email,
		"active":        id.Active,
		"predictive":    id.Predictive,
		"enterprise":    id.Enterprise,
		"prime":         id.Prime,
		"plan":          id.Plan,
		"primary_color": id.PrimaryColor,
	})
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrAuthenticationRejected):
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errors.Is(err, store.ErrStorageTimeout):
		return status.Error(codes.DeadlineExceeded, "storage timeout")
	case errors.Is(err, store.ErrStorageUnavailable):
		return status.Error(codes.Unavailable, "storage unavailable")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	}
	return status.Error(codes.Internal, "internal error")
}

func authenticateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(authenticatorServer).Authenticate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: authenticateFullName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(authenticatorServer).Authenticate(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

var authenticatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*authenticatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authenticate", Handler: authenticateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cockpit/identity/v1/authenticator.proto",
}

// RegisterAuthenticatorServer registers srv on s.
func RegisterAuthenticatorServer(s grpc.ServiceRegistrar, srv *AuthenticatorServer) {
	s.RegisterService(&authenticatorServiceDesc, srv)
}

// Client calls a remote Authenticator.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Authenticate(ctx context.Context, rawKey string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, authenticateFullName, wrapperspb.String(rawKey), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// NewServer builds the gRPC server with the authenticator, the health
// service and reflection registered.
func NewServer(r Resolver, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(unaryLogger)}, opts...)
	server := grpc.NewServer(opts...)
	RegisterAuthenticatorServer(server, NewAuthenticatorServer(r))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)
	return server, hs
}

func unaryLogger(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)

	ev := log.Debug()
	if code != codes.OK && code != codes.Unauthenticated {
		ev = log.Error().Err(err)
	}
	ev.Str("method", info.FullMethod).
		Str("code", code.String()).
		Dur("took", time.Since(start)).
		Msg("gRPC request")
	return resp, err
}
