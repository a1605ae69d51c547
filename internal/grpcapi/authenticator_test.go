package grpcapi

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/crypto"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/service"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store/storetest"
)

func dial(t *testing.T, r Resolver) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server, _ := NewServer(r)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestAuthenticate_EndToEnd(t *testing.T) {
	db := storetest.NewSQLite(t)
	repo := store.NewTenantRepository(db)
	hasher := crypto.NewHasher("pepper")
	prov := service.NewProvisioningService(repo, hasher, service.ProvisioningConfig{})
	res, err := prov.Provision(context.Background(), service.ProvisionRequest{Name: "Acme", Email: "admin@acme.com", Enterprise: true})
	require.NoError(t, err)

	client := NewClient(dial(t, service.NewAuthenticator(repo, hasher, crypto.DefaultKeyPrefix)))
	ctx := context.Background()

	out, err := client.Authenticate(ctx, res.RawKey)
	require.NoError(t, err)
	fields := out.AsMap()
	assert.Equal(t, res.Tenant.ID.String(), fields["tenant_id"])
	assert.Equal(t, "Acme", fields["name"])
	assert.Equal(t, true, fields["enterprise"])
	assert.Equal(t, "ENTERPRISE", fields["plan"])

	// key in metadata
	mdCtx := metadata.AppendToOutgoingContext(ctx, "x-api-key", res.RawKey)
	_, err = client.Authenticate(mdCtx, "")
	require.NoError(t, err)

	_, err = client.Authenticate(ctx, "sk_ellit_wrong")
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	_, err = client.Authenticate(ctx, "")
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

type stubResolver struct {
	err error
}

func (s stubResolver) Authenticate(context.Context, string) (*model.Identity, error) {
	return nil, s.err
}

func TestAuthenticate_ErrorCodes(t *testing.T) {
	cases := map[error]codes.Code{
		service.ErrAuthenticationRejected: codes.Unauthenticated,
		store.ErrStorageTimeout:           codes.DeadlineExceeded,
		store.ErrStorageUnavailable:       codes.Unavailable,
		assert.AnError:                    codes.Internal,
	}
	for in, want := range cases {
		t.Run(want.String(), func(t *testing.T) {
			client := NewClient(dial(t, stubResolver{err: in}))
			_, err := client.Authenticate(context.Background(), "sk_ellit_anything")
			assert.Equal(t, want, status.Code(err))
		})
	}
}

func TestHealth(t *testing.T) {
	conn := dial(t, stubResolver{})
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
