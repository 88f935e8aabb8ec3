package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"VAMMLedger/internal/core"
	"VAMMLedger/internal/ingestion"
	"VAMMLedger/internal/observability"
	"VAMMLedger/internal/query"
	"VAMMLedger/internal/server"
	"VAMMLedger/internal/testutil"
	"VAMMLedger/internal/transition"
)

type testServer struct {
	t      *testing.T
	srv    *server.GRPCServer
	health *observability.HealthChecker
	http   *httptest.Server
	n      uint64
}

// newTestServer wires a sequencer over the fixture state into a server
// with no database.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	c, err := core.NewDeterministicCore(testutil.NewState(t), core.Options{Logger: &logger})
	require.NoError(t, err)

	seq := core.NewSequencer(c, 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		seq.Run(ctx)
	}()

	hc := observability.NewHealthChecker("recovery")
	srv := server.NewGRPCServer("", "", &server.ServerDeps{
		QueryService:  query.NewQueryService(seq, nil),
		IngestService: ingestion.NewGRPCIngestService(seq, nil),
		HealthChecker: hc,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})
	return &testServer{t: t, srv: srv, health: hc, http: ts}
}

func (s *testServer) batch(signer uuid.UUID, ins ...transition.Instruction) []byte {
	s.t.Helper()
	s.n++
	data, err := (&transition.Batch{
		BatchID:      uuid.New(),
		Signer:       signer,
		Clock:        testutil.Clock(s.n),
		Instructions: ins,
	}).Marshal()
	require.NoError(s.t, err)
	return data
}

func (s *testServer) do(method, path string, body []byte) (int, map[string]any) {
	s.t.Helper()
	req, err := http.NewRequest(method, s.http.URL+path, bytes.NewReader(body))
	require.NoError(s.t, err)
	resp, err := s.http.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func deposit(amount int64) transition.Instruction {
	return transition.MustNew(transition.KindDeposit, &transition.Deposit{Amount: amount, InitializeUser: true})
}

// ============================================================================
// HTTP gateway
// ============================================================================

func TestHTTP_SubmitThenQuery(t *testing.T) {
	s := newTestServer(t)
	user := uuid.New()

	code, res := s.do("POST", "/v1/batches", s.batch(user, deposit(3_000_000)))
	require.Equal(t, http.StatusOK, code, res)
	assert.EqualValues(t, 0, res["sequence"])
	assert.NotEmpty(t, res["state_hash"])

	code, market := s.do("GET", "/v1/spot_markets/0", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3_000_000, market["vault_amount"])
	assert.EqualValues(t, 0, market["as_of_sequence"])

	code, u := s.do("GET", "/v1/users/"+user.String()+"/0", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, user.String(), u["authority"])
	require.Contains(t, u, "maintenance")
	assert.Equal(t, true, u["maintenance"].(map[string]any)["meets_requirement"])

	code, stats := s.do("GET", "/v1/user_stats/"+user.String(), nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, stats["number_of_sub_accounts"])

	code, st := s.do("GET", "/v1/state", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, st["vaults"], 2)
}

func TestHTTP_ListRoutes(t *testing.T) {
	s := newTestServer(t)

	code, spots := s.do("GET", "/v1/spot_markets", nil)
	require.Equal(t, http.StatusOK, code, spots)
	assert.Len(t, spots["markets"], 2)

	code, perps := s.do("GET", "/v1/perp_markets", nil)
	require.Equal(t, http.StatusOK, code, perps)
	assert.Len(t, perps["markets"], 1)

	code, oracles := s.do("GET", "/v1/oracles", nil)
	require.Equal(t, http.StatusOK, code, oracles)
	assert.Len(t, oracles["oracles"], 2)

	code, stakes := s.do("GET", "/v1/insurance_fund_stakes/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusOK, code, stakes)
	assert.Empty(t, stakes["stakes"])
}

func TestHTTP_RejectedBatchMapsToStatus(t *testing.T) {
	s := newTestServer(t)
	// withdrawing from an account that does not exist
	withdraw := transition.MustNew(transition.KindWithdraw, &transition.Withdraw{Amount: 1})
	code, res := s.do("POST", "/v1/batches", s.batch(uuid.New(), withdraw))
	assert.Equal(t, http.StatusNotFound, code, res)

	code, _ = s.do("POST", "/v1/batches", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHTTP_ErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		path string
		want int
	}{
		{"/v1/perp_markets/7", http.StatusBadRequest},
		{"/v1/perp_markets/x", http.StatusBadRequest},
		{"/v1/users/not-a-uuid/0", http.StatusBadRequest},
		{"/v1/users/" + uuid.NewString() + "/0", http.StatusNotFound},
		{"/v1/insurance_fund_stakes/" + uuid.NewString() + "/0", http.StatusNotFound},
		{"/v1/funding_history/0", http.StatusServiceUnavailable},
		{"/v1/funding_history/0?limit=-1", http.StatusBadRequest},
		{"/v1/admin/integrity", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			code, body := s.do("GET", tc.path, nil)
			assert.Equal(t, tc.want, code, body)
			assert.Contains(t, body, "message")
		})
	}
}

func TestHTTP_HealthEndpoints(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do("GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do("GET", "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	s.health.MarkReady("recovery")
	code, _ = s.do("GET", "/readyz", nil)
	assert.Equal(t, http.StatusOK, code)
}

// ============================================================================
// gRPC
// ============================================================================

func dialBufconn(t *testing.T, s *testServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	go s.srv.ServeGRPC(ctx, lis)
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
	})
	return conn
}

func TestGRPC_JSONCodecRoundTrip(t *testing.T) {
	s := newTestServer(t)
	conn := dialBufconn(t, s)
	ctx := context.Background()
	user := uuid.New()

	raw := json.RawMessage(s.batch(user, deposit(1_000_000)))
	var receipt ingestion.SubmitResult
	require.NoError(t, conn.Invoke(ctx, "/"+server.ServiceName+"/SubmitBatch", &raw, &receipt,
		grpc.CallContentSubtype(server.JSONCodecName)))
	assert.Equal(t, int64(0), receipt.Sequence)

	var perp query.PerpMarketResponse
	require.NoError(t, conn.Invoke(ctx, "/"+server.ServiceName+"/GetPerpMarket", &server.MarketRequest{MarketIndex: 0}, &perp,
		grpc.CallContentSubtype(server.JSONCodecName)))
	assert.Equal(t, testutil.InitialReserve, perp.AMM.BaseAssetReserve)

	var u query.UserResponse
	err := conn.Invoke(ctx, "/"+server.ServiceName+"/GetUser", &server.UserRequest{Authority: uuid.New()}, &u,
		grpc.CallContentSubtype(server.JSONCodecName))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_HealthFollowsServing(t *testing.T) {
	s := newTestServer(t)
	client := healthpb.NewHealthClient(dialBufconn(t, s))
	ctx := context.Background()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	s.srv.SetServing(true)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
