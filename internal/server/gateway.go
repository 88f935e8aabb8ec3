package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxBatchBytes bounds a POST /v1/batches body.
const maxBatchBytes = 1 << 20

var responseMarshaler = &runtime.JSONBuiltin{}

// route binds one HTTP path to a ledger call. call builds the request
// from path parameters, query string and body.
type route struct {
	method string
	path   string
	name   string
	call   func(ctx context.Context, r *http.Request, p map[string]string) (any, error)
}

func (s *GRPCServer) routes() []route {
	l := s.ledger
	return []route{
		{"POST", "/v1/batches", "SubmitBatch", func(ctx context.Context, r *http.Request, _ map[string]string) (any, error) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBatchBytes))
			if err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "read body: %v", err)
			}
			raw := json.RawMessage(body)
			return l.SubmitBatch(ctx, &raw)
		}},
		{"GET", "/v1/state", "GetState", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return l.GetState(ctx, &Empty{})
		}},
		{"GET", "/v1/spot_markets", "ListSpotMarkets", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return l.ListSpotMarkets(ctx, &Empty{})
		}},
		{"GET", "/v1/perp_markets", "ListPerpMarkets", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return l.ListPerpMarkets(ctx, &Empty{})
		}},
		{"GET", "/v1/oracles", "ListOracles", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return l.ListOracles(ctx, &Empty{})
		}},
		{"GET", "/v1/spot_markets/{market_index}", "GetSpotMarket", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			idx, err := u16Param(p, "market_index")
			if err != nil {
				return nil, err
			}
			return l.GetSpotMarket(ctx, &MarketRequest{MarketIndex: idx})
		}},
		{"GET", "/v1/perp_markets/{market_index}", "GetPerpMarket", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			idx, err := u16Param(p, "market_index")
			if err != nil {
				return nil, err
			}
			return l.GetPerpMarket(ctx, &MarketRequest{MarketIndex: idx})
		}},
		{"GET", "/v1/users/{authority}/{sub_account_id}", "GetUser", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			authority, err := uuidParam(p, "authority")
			if err != nil {
				return nil, err
			}
			sub, err := u16Param(p, "sub_account_id")
			if err != nil {
				return nil, err
			}
			return l.GetUser(ctx, &UserRequest{Authority: authority, SubAccountID: sub})
		}},
		{"GET", "/v1/user_stats/{authority}", "GetUserStats", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			authority, err := uuidParam(p, "authority")
			if err != nil {
				return nil, err
			}
			return l.GetUserStats(ctx, &AuthorityRequest{Authority: authority})
		}},
		{"GET", "/v1/insurance_fund_stakes/{authority}", "ListInsuranceFundStakes", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			authority, err := uuidParam(p, "authority")
			if err != nil {
				return nil, err
			}
			return l.ListInsuranceFundStakes(ctx, &AuthorityRequest{Authority: authority})
		}},
		{"GET", "/v1/insurance_fund_stakes/{authority}/{market_index}", "GetInsuranceFundStake", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			authority, err := uuidParam(p, "authority")
			if err != nil {
				return nil, err
			}
			idx, err := u16Param(p, "market_index")
			if err != nil {
				return nil, err
			}
			return l.GetInsuranceFundStake(ctx, &StakeRequest{Authority: authority, MarketIndex: idx})
		}},
		{"GET", "/v1/funding_history/{market_index}", "GetFundingHistory", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			idx, err := u16Param(p, "market_index")
			if err != nil {
				return nil, err
			}
			limit, err := limitParam(r)
			if err != nil {
				return nil, err
			}
			return l.GetFundingHistory(ctx, &FundingHistoryRequest{MarketIndex: idx, Limit: limit})
		}},
		{"GET", "/v1/liquidations/{authority}/{sub_account_id}", "GetLiquidationHistory", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			authority, err := uuidParam(p, "authority")
			if err != nil {
				return nil, err
			}
			sub, err := u16Param(p, "sub_account_id")
			if err != nil {
				return nil, err
			}
			limit, err := limitParam(r)
			if err != nil {
				return nil, err
			}
			return l.GetLiquidationHistory(ctx, &LiquidationHistoryRequest{Authority: authority, SubAccountID: sub, Limit: limit})
		}},
		{"GET", "/v1/balances", "GetProjectedBalances", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return l.GetProjectedBalances(ctx, &Empty{})
		}},
		{"GET", "/v1/admin/event_log", "GetEventLogInfo", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return l.GetEventLogInfo(ctx, &Empty{})
		}},
		{"GET", "/v1/admin/integrity", "VerifyIntegrity", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return l.VerifyIntegrity(ctx, &Empty{})
		}},
		{"POST", "/v1/admin/rebuild_projections", "RebuildProjections", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return l.RebuildProjections(ctx, &Empty{})
		}},
	}
}

func (s *GRPCServer) newGateway() *runtime.ServeMux {
	mux := runtime.NewServeMux()
	for _, rt := range s.routes() {
		if err := mux.HandlePath(rt.method, rt.path, s.handle(mux, rt)); err != nil {
			// patterns are static; a failure here is a programming error
			panic(err)
		}
	}
	return mux
}

func (s *GRPCServer) handle(mux *runtime.ServeMux, rt route) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p map[string]string) {
		start := time.Now()
		resp, err := rt.call(r.Context(), r, p)
		if err = s.ledger.observe(rt.name, start, err); err != nil {
			runtime.HTTPError(r.Context(), mux, &runtime.JSONPb{}, w, r, err)
			return
		}
		body, err := responseMarshaler.Marshal(resp)
		if err != nil {
			runtime.HTTPError(r.Context(), mux, &runtime.JSONPb{}, w, r, status.Error(codes.Internal, err.Error()))
			return
		}
		w.Header().Set("Content-Type", responseMarshaler.ContentType(resp))
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

func u16Param(p map[string]string, name string) (uint16, error) {
	v, err := strconv.ParseUint(p[name], 10, 16)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid %s %q", name, p[name])
	}
	return uint16(v), nil
}

func uuidParam(p map[string]string, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(p[name])
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s %q", name, p[name])
	}
	return id, nil
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "invalid limit %q", raw)
	}
	return n, nil
}
