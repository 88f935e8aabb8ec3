package testutil

import (
	"testing"

	"github.com/google/uuid"

	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// Fixture identities and clock.
var (
	Admin      = uuid.MustParse("00000000-0000-0000-0000-00000000a0a0")
	PerpOracle = types.MustSymbol("PERP-0")
	SolOracle  = types.MustSymbol("SOL-USD")
)

const (
	StartSlot uint64 = 100
	StartTs   int64  = 1_700_000_000

	// 5e12 base and quote reserves at peg 1.0 price the AMM at exactly 1.0.
	InitialReserve int64 = 5_000_000_000_000
	StepSize       int64 = 10_000_000
)

// QuoteSpotMarket is a 6-decimal USDC market at index 0.
func QuoteSpotMarket() state.SpotMarket {
	return state.SpotMarket{
		MarketIndex:                state.QuoteSpotMarketIndex,
		Mint:                       types.MustSymbol("USDC"),
		Decimals:                   6,
		Oracle:                     state.OracleRef{Source: oracle.SourceQuoteAsset},
		OptimalUtilization:         800_000,
		OptimalBorrowRate:          100_000,
		MaxBorrowRate:              1_000_000,
		InitialAssetWeight:         fp.SpotWeightPrecision,
		MaintenanceAssetWeight:     fp.SpotWeightPrecision,
		InitialLiabilityWeight:     fp.SpotWeightPrecision,
		MaintenanceLiabilityWeight: fp.SpotWeightPrecision,
		CumulativeDepositInterest:  fp.SpotCumulativeInterestPrecision,
		CumulativeBorrowInterest:   fp.SpotCumulativeInterestPrecision,
		LastInterestTs:             StartTs,
	}
}

// SolSpotMarket is a 9-decimal market priced by a Pyth feed.
func SolSpotMarket(idx uint16) state.SpotMarket {
	return state.SpotMarket{
		MarketIndex:                idx,
		Mint:                       types.MustSymbol("SOL"),
		Decimals:                   9,
		Oracle:                     state.OracleRef{Key: SolOracle, Source: oracle.SourcePyth},
		OptimalUtilization:         700_000,
		OptimalBorrowRate:          50_000,
		MaxBorrowRate:              500_000,
		InitialAssetWeight:         8_000,
		MaintenanceAssetWeight:     9_000,
		InitialLiabilityWeight:     12_000,
		MaintenanceLiabilityWeight: 11_000,
		CumulativeDepositInterest:  fp.SpotCumulativeInterestPrecision,
		CumulativeBorrowInterest:   fp.SpotCumulativeInterestPrecision,
		LastInterestTs:             StartTs,
	}
}

// PerpMarket is a market on a 5e12/5e12 curve priced by an admin-set feed.
func PerpMarket(idx uint16) state.PerpMarket {
	return state.PerpMarket{
		MarketIndex:            idx,
		Oracle:                 state.OracleRef{Key: PerpOracle, Source: oracle.SourcePrelaunch},
		QuoteSpotMarketIndex:   state.QuoteSpotMarketIndex,
		MarginRatioInitial:     2_000,
		MarginRatioMaintenance: 500,
		AMM: state.AMM{
			BaseAssetReserve:  InitialReserve,
			QuoteAssetReserve: InitialReserve,
			SqrtK:             InitialReserve,
			PegMultiplier:     fp.PegPrecision,
			LastUpdateSlot:    StartSlot,
			OrderStepSize:     StepSize,
			FundingPeriod:     fp.OneHourSeconds,
			LastFundingRateTs: StartTs,
			LastOraclePrice:   fp.PricePrecision,
		},
	}
}

// PrelaunchPrice is a fresh admin-set reading at slot.
func PrelaunchPrice(key types.Symbol, price int64, slot uint64) oracle.Feed {
	return oracle.Feed{Key: key, Reading: oracle.PrelaunchReading{Price: price, LastUpdateSlot: slot, LastUpdateTs: StartTs}}
}

// NewState returns a state holding the quote market, a SOL spot market at
// index 1 and perp market 0, both feeds fresh at StartSlot.
func NewState(t *testing.T) *state.State {
	t.Helper()
	cfg := state.DefaultGlobalConfig(Admin)
	cfg.NumberOfSpotMarkets = 2
	cfg.NumberOfPerpMarkets = 1
	s := state.New(cfg)

	tx := s.Begin(Clock(0))
	tx.InsertSpotMarket(QuoteSpotMarket())
	tx.InsertSpotMarket(SolSpotMarket(1))
	tx.InsertPerpMarket(PerpMarket(0))
	tx.PutFeed(PrelaunchPrice(PerpOracle, fp.PricePrecision, StartSlot))
	tx.PutFeed(oracle.Feed{Key: SolOracle, Reading: oracle.PythReading{Price: 100_000_000, Expo: -6, PublishSlot: StartSlot, PublishTime: StartTs}})
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	return s
}

// Clock returns the fixture clock advanced by n slots and n seconds.
func Clock(n uint64) state.Clock {
	return state.Clock{Slot: StartSlot + n, UnixTimestamp: StartTs + int64(n)}
}
