package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"VAMMLedger/internal/ingestion"
	"VAMMLedger/internal/observability"
	"VAMMLedger/internal/persistence"
	"VAMMLedger/internal/projection"
	"VAMMLedger/internal/query"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "vammledger.v1.Ledger"

// Request messages. They travel as JSON on both gRPC and HTTP.
type (
	Empty         struct{}
	MarketRequest struct {
		MarketIndex uint16 `json:"market_index"`
	}
	UserRequest struct {
		Authority    uuid.UUID `json:"authority"`
		SubAccountID uint16    `json:"sub_account_id"`
	}
	AuthorityRequest struct {
		Authority uuid.UUID `json:"authority"`
	}
	StakeRequest struct {
		Authority   uuid.UUID `json:"authority"`
		MarketIndex uint16    `json:"market_index"`
	}
	FundingHistoryRequest struct {
		MarketIndex uint16 `json:"market_index"`
		Limit       int    `json:"limit,omitempty"`
	}
	LiquidationHistoryRequest struct {
		Authority    uuid.UUID `json:"authority"`
		SubAccountID uint16    `json:"sub_account_id"`
		Limit        int       `json:"limit,omitempty"`
	}
)

// Response messages that wrap lists.
type (
	FundingHistoryResponse struct {
		Entries []projection.FundingRow `json:"entries"`
	}
	LiquidationHistoryResponse struct {
		Entries []projection.LiquidationRow `json:"entries"`
	}
	BalancesResponse struct {
		Balances []query.BalanceResponse `json:"balances"`
	}
	EventLogInfoResponse struct {
		LastSequence int64 `json:"last_sequence"`
	}
	RebuildProjectionsResponse struct {
		Rebuilt bool `json:"rebuilt"`
	}
	SpotMarketsResponse struct {
		Markets []*query.SpotMarketResponse `json:"markets"`
	}
	PerpMarketsResponse struct {
		Markets []*query.PerpMarketResponse `json:"markets"`
	}
	OraclesResponse struct {
		Oracles []query.FeedResponse `json:"oracles"`
	}
	StakesResponse struct {
		Stakes []*query.StakeResponse `json:"stakes"`
	}
)

// LedgerService is the server side of vammledger.v1.Ledger.
type LedgerService interface {
	SubmitBatch(context.Context, *json.RawMessage) (*ingestion.SubmitResult, error)
	GetState(context.Context, *Empty) (*query.StateResponse, error)
	GetSpotMarket(context.Context, *MarketRequest) (*query.SpotMarketResponse, error)
	GetPerpMarket(context.Context, *MarketRequest) (*query.PerpMarketResponse, error)
	ListSpotMarkets(context.Context, *Empty) (*SpotMarketsResponse, error)
	ListPerpMarkets(context.Context, *Empty) (*PerpMarketsResponse, error)
	ListOracles(context.Context, *Empty) (*OraclesResponse, error)
	GetUser(context.Context, *UserRequest) (*query.UserResponse, error)
	GetUserStats(context.Context, *AuthorityRequest) (*query.UserStatsResponse, error)
	GetInsuranceFundStake(context.Context, *StakeRequest) (*query.StakeResponse, error)
	ListInsuranceFundStakes(context.Context, *AuthorityRequest) (*StakesResponse, error)
	GetFundingHistory(context.Context, *FundingHistoryRequest) (*FundingHistoryResponse, error)
	GetLiquidationHistory(context.Context, *LiquidationHistoryRequest) (*LiquidationHistoryResponse, error)
	GetProjectedBalances(context.Context, *Empty) (*BalancesResponse, error)
	GetEventLogInfo(context.Context, *Empty) (*EventLogInfoResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	RebuildProjections(context.Context, *Empty) (*RebuildProjectionsResponse, error)
}

// LedgerServer implements LedgerService over the query and ingest services.
type LedgerServer struct {
	qs        *query.QueryService
	ingest    *ingestion.GRPCIngestService
	db        *sql.DB
	snapshots *persistence.SnapshotManager
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

var _ LedgerService = (*LedgerServer)(nil)

func (l *LedgerServer) SubmitBatch(ctx context.Context, req *json.RawMessage) (*ingestion.SubmitResult, error) {
	if req == nil || len(*req) == 0 {
		return nil, status.Error(codes.InvalidArgument, "batch is required")
	}
	return l.ingest.SubmitBatch(ctx, *req)
}

func (l *LedgerServer) GetState(ctx context.Context, _ *Empty) (*query.StateResponse, error) {
	return l.qs.GetState(ctx)
}

func (l *LedgerServer) GetSpotMarket(ctx context.Context, req *MarketRequest) (*query.SpotMarketResponse, error) {
	return l.qs.GetSpotMarket(ctx, req.MarketIndex)
}

func (l *LedgerServer) GetPerpMarket(ctx context.Context, req *MarketRequest) (*query.PerpMarketResponse, error) {
	return l.qs.GetPerpMarket(ctx, req.MarketIndex)
}

func (l *LedgerServer) ListSpotMarkets(ctx context.Context, _ *Empty) (*SpotMarketsResponse, error) {
	markets, err := l.qs.ListSpotMarkets(ctx)
	if err != nil {
		return nil, err
	}
	return &SpotMarketsResponse{Markets: markets}, nil
}

func (l *LedgerServer) ListPerpMarkets(ctx context.Context, _ *Empty) (*PerpMarketsResponse, error) {
	markets, err := l.qs.ListPerpMarkets(ctx)
	if err != nil {
		return nil, err
	}
	return &PerpMarketsResponse{Markets: markets}, nil
}

func (l *LedgerServer) ListOracles(ctx context.Context, _ *Empty) (*OraclesResponse, error) {
	feeds, err := l.qs.ListOracles(ctx)
	if err != nil {
		return nil, err
	}
	return &OraclesResponse{Oracles: feeds}, nil
}

func (l *LedgerServer) GetUser(ctx context.Context, req *UserRequest) (*query.UserResponse, error) {
	if req.Authority == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "authority is required")
	}
	return l.qs.GetUser(ctx, req.Authority, req.SubAccountID)
}

func (l *LedgerServer) GetUserStats(ctx context.Context, req *AuthorityRequest) (*query.UserStatsResponse, error) {
	if req.Authority == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "authority is required")
	}
	return l.qs.GetUserStats(ctx, req.Authority)
}

func (l *LedgerServer) GetInsuranceFundStake(ctx context.Context, req *StakeRequest) (*query.StakeResponse, error) {
	if req.Authority == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "authority is required")
	}
	return l.qs.GetInsuranceFundStake(ctx, req.Authority, req.MarketIndex)
}

func (l *LedgerServer) ListInsuranceFundStakes(ctx context.Context, req *AuthorityRequest) (*StakesResponse, error) {
	if req.Authority == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "authority is required")
	}
	stakes, err := l.qs.ListInsuranceFundStakes(ctx, req.Authority)
	if err != nil {
		return nil, err
	}
	return &StakesResponse{Stakes: stakes}, nil
}

func (l *LedgerServer) GetFundingHistory(ctx context.Context, req *FundingHistoryRequest) (*FundingHistoryResponse, error) {
	rows, err := l.qs.GetFundingHistory(ctx, req.MarketIndex, req.Limit)
	if err != nil {
		return nil, err
	}
	return &FundingHistoryResponse{Entries: rows}, nil
}

func (l *LedgerServer) GetLiquidationHistory(ctx context.Context, req *LiquidationHistoryRequest) (*LiquidationHistoryResponse, error) {
	if req.Authority == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "authority is required")
	}
	rows, err := l.qs.GetLiquidationHistory(ctx, req.Authority, req.SubAccountID, req.Limit)
	if err != nil {
		return nil, err
	}
	return &LiquidationHistoryResponse{Entries: rows}, nil
}

func (l *LedgerServer) GetProjectedBalances(ctx context.Context, _ *Empty) (*BalancesResponse, error) {
	rows, err := l.qs.GetProjectedBalances(ctx)
	if err != nil {
		return nil, err
	}
	return &BalancesResponse{Balances: rows}, nil
}

// --- Admin ---

func (l *LedgerServer) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfoResponse, error) {
	if l.snapshots == nil {
		return nil, query.ErrProjectionsUnavailable
	}
	seq, err := l.snapshots.LatestSequence(ctx)
	if err != nil {
		return nil, err
	}
	return &EventLogInfoResponse{LastSequence: seq}, nil
}

func (l *LedgerServer) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	return l.qs.VerifyIntegrity(ctx)
}

func (l *LedgerServer) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildProjectionsResponse, error) {
	if l.db == nil {
		return nil, query.ErrProjectionsUnavailable
	}
	if err := projection.RebuildBalances(ctx, l.db); err != nil {
		return nil, err
	}
	l.logger.Info().Msg("projected balances rebuilt from journal")
	return &RebuildProjectionsResponse{Rebuilt: true}, nil
}

// observe records one call and maps its error onto a status.
func (l *LedgerServer) observe(name string, start time.Time, err error) error {
	err = toStatus(err)
	if l.metrics != nil {
		l.metrics.QueryRequests.WithLabelValues(name, status.Code(err).String()).Inc()
		l.metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if status.Code(err) == codes.Internal {
		l.logger.Error().Err(err).Str("method", name).Msg("request failed")
	}
	return err
}

// unaryInterceptor applies observe to every gRPC call on the ledger service.
func (l *LedgerServer) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
		return handler(ctx, req)
	}
	start := time.Now()
	resp, err := handler(ctx, req)
	return resp, l.observe(path.Base(info.FullMethod), start, err)
}

// method builds a MethodDesc that decodes Req and dispatches to call.
func method[Req, Resp any](name string, call func(LedgerService, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", name, err)
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerService), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LedgerServiceDesc describes vammledger.v1.Ledger without generated code.
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerService)(nil),
	Methods: []grpc.MethodDesc{
		method("SubmitBatch", LedgerService.SubmitBatch),
		method("GetState", LedgerService.GetState),
		method("GetSpotMarket", LedgerService.GetSpotMarket),
		method("GetPerpMarket", LedgerService.GetPerpMarket),
		method("ListSpotMarkets", LedgerService.ListSpotMarkets),
		method("ListPerpMarkets", LedgerService.ListPerpMarkets),
		method("ListOracles", LedgerService.ListOracles),
		method("GetUser", LedgerService.GetUser),
		method("GetUserStats", LedgerService.GetUserStats),
		method("GetInsuranceFundStake", LedgerService.GetInsuranceFundStake),
		method("ListInsuranceFundStakes", LedgerService.ListInsuranceFundStakes),
		method("GetFundingHistory", LedgerService.GetFundingHistory),
		method("GetLiquidationHistory", LedgerService.GetLiquidationHistory),
		method("GetProjectedBalances", LedgerService.GetProjectedBalances),
		method("GetEventLogInfo", LedgerService.GetEventLogInfo),
		method("VerifyIntegrity", LedgerService.VerifyIntegrity),
		method("RebuildProjections", LedgerService.RebuildProjections),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vammledger/v1/ledger.json",
}
