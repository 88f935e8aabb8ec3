package query

import (
	"context"

	"github.com/google/uuid"

	"VAMMLedger/internal/core"
	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/state"
)

// FeedResponse is one oracle feed with its reading normalized to
// PricePrecision. Error is set instead of the price when the reading
// cannot be normalized.
type FeedResponse struct {
	Key        string `json:"key"`
	Source     string `json:"source"`
	Price      int64  `json:"price,omitempty"`
	Confidence int64  `json:"confidence,omitempty"`
	Slot       uint64 `json:"slot,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ListSpotMarkets returns every spot market in index order.
func (qs *QueryService) ListSpotMarkets(ctx context.Context) ([]*SpotMarketResponse, error) {
	var out []*SpotMarketResponse
	err := qs.reader.View(ctx, func(c *core.DeterministicCore) error {
		seq := lastApplied(c)
		var err error
		c.State().AscendSpotMarkets(func(m *state.SpotMarket) bool {
			var r *SpotMarketResponse
			if r, err = spotMarketOf(m, seq); err != nil {
				return false
			}
			out = append(out, r)
			return true
		})
		return err
	})
	return out, err
}

// ListPerpMarkets returns every perp market in index order.
func (qs *QueryService) ListPerpMarkets(ctx context.Context) ([]*PerpMarketResponse, error) {
	var out []*PerpMarketResponse
	err := qs.reader.View(ctx, func(c *core.DeterministicCore) error {
		seq := lastApplied(c)
		var err error
		c.State().AscendPerpMarkets(func(m *state.PerpMarket) bool {
			var r *PerpMarketResponse
			if r, err = perpMarketOf(m, seq); err != nil {
				return false
			}
			out = append(out, r)
			return true
		})
		return err
	})
	return out, err
}

// ListOracles returns every pushed feed as of the last batch clock.
func (qs *QueryService) ListOracles(ctx context.Context) ([]FeedResponse, error) {
	var out []FeedResponse
	err := qs.reader.View(ctx, func(c *core.DeterministicCore) error {
		clock, _ := c.LastClock()
		c.State().AscendFeeds(func(f *oracle.Feed) bool {
			out = append(out, feedOf(f, clock.Slot))
			return true
		})
		return nil
	})
	return out, err
}

func feedOf(f *oracle.Feed, slot uint64) FeedResponse {
	r := FeedResponse{Key: f.Key.String()}
	if f.Reading != nil {
		r.Source = f.Reading.Source().String()
	}
	pd, err := f.PriceData(slot)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Price, r.Confidence, r.Slot, r.Timestamp = pd.Price, pd.Confidence, pd.Slot, pd.Timestamp
	return r
}

// ListInsuranceFundStakes returns an authority's stakes in market order.
func (qs *QueryService) ListInsuranceFundStakes(ctx context.Context, authority uuid.UUID) ([]*StakeResponse, error) {
	var out []*StakeResponse
	err := qs.reader.View(ctx, func(c *core.DeterministicCore) error {
		st, seq := c.State(), lastApplied(c)
		var err error
		st.AscendStakes(func(s *state.InsuranceFundStake) bool {
			if s.Authority != authority {
				return true
			}
			var r *StakeResponse
			if r, err = stakeOf(st, s, seq); err != nil {
				return false
			}
			out = append(out, r)
			return true
		})
		return err
	})
	return out, err
}
