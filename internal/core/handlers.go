package core

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"

	"VAMMLedger/internal/amm"
	"VAMMLedger/internal/event"
	"VAMMLedger/internal/insurance"
	"VAMMLedger/internal/liquidation"
	"VAMMLedger/internal/lp"
	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/position"
	"VAMMLedger/internal/spot"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/transition"
	"VAMMLedger/internal/types"
)

// batchContext carries one batch through dispatch. Outcomes collected here
// are reported only if the batch commits.
type batchContext struct {
	tx     *state.Tx
	signer uuid.UUID
	index  int

	fundings     []amm.FundingUpdate
	liquidations []liquidation.Result
	badDebts     []badDebtOutcome
}

type badDebtOutcome struct {
	market uint16
	amount int64
	err    error
}

func (c *DeterministicCore) dispatch(bc *batchContext, in transition.Instruction) ([]event.Event, error) {
	switch p := in.Params.(type) {
	case *transition.InitializeSpotMarket:
		return c.handleInitializeSpotMarket(bc, p)
	case *transition.InitializePerpMarket:
		return c.handleInitializePerpMarket(bc, p)
	case *transition.UpdateK:
		return c.handleUpdateK(bc, p)
	case *transition.RepegCurve:
		return c.handleRepegCurve(bc, p)
	case *transition.UpdateLpCooldownTime:
		return c.handleConfigChange(bc, "lp_cooldown_slots", p.Slots, func(g *state.GlobalConfig) {
			g.LpCooldownSlots = p.Slots
		})
	case *transition.UpdateInsuranceFundUnstakingPeriod:
		return c.handleConfigChange(bc, "insurance_fund_unstaking_period", p.Seconds, func(g *state.GlobalConfig) {
			g.InsuranceFundUnstakingPeriod = p.Seconds
		})
	case *transition.UpdateFeeStructure:
		return c.handleConfigChange(bc, "taker_fee", p.TakerFee, func(g *state.GlobalConfig) {
			g.Fees.TakerFee = p.TakerFee
		})
	case *transition.UpdateLiquidationConfig:
		return c.handleUpdateLiquidationConfig(bc, p)
	case *transition.UpdateOracleGuardRails:
		return c.handleConfigChange(bc, "oracle_guard_rails", p, func(g *state.GlobalConfig) {
			g.GuardRails = oracle.GuardRails{
				MaxSlotsStaleForAmm:       p.MaxSlotsStaleForAmm,
				MaxSlotsStaleForMargin:    p.MaxSlotsStaleForMargin,
				ConfidenceIntervalMaxSize: p.ConfidenceIntervalMaxSize,
			}
			g.Curve = state.CurveLimits{
				MaxKChange:      p.MaxKChange,
				MaxPegChange:    p.MaxPegChange,
				RepegOracleBand: p.RepegOracleBand,
			}
		})
	case *transition.UpdateAdmin:
		return c.handleUpdateAdmin(bc, p)
	case *transition.SetOraclePrice:
		return c.handleSetOraclePrice(bc, p)
	case *transition.InitializeUser:
		return c.handleInitializeUser(bc, p)
	case *transition.Deposit:
		return c.handleDeposit(bc, p)
	case *transition.Withdraw:
		return c.handleWithdraw(bc, p)
	case *transition.OpenPosition:
		fill, err := position.Open(bc.tx, bc.signer, p.SubAccountID, p.Direction, p.BaseAmount, p.MarketIndex)
		if err != nil {
			return nil, err
		}
		return userEvents(event.KindFill, fill, p.MarketIndex, bc.signer, p.SubAccountID), nil
	case *transition.ClosePosition:
		fill, err := position.Close(bc.tx, bc.signer, p.SubAccountID, p.MarketIndex)
		if err != nil {
			return nil, err
		}
		return userEvents(event.KindFill, fill, p.MarketIndex, bc.signer, p.SubAccountID), nil
	case *transition.AddLiquidity:
		ch, err := lp.Add(bc.tx, bc.signer, p.SubAccountID, p.NShares, p.MarketIndex)
		if err != nil {
			return nil, err
		}
		return userEvents(event.KindLiquidity, ch, p.MarketIndex, bc.signer, p.SubAccountID), nil
	case *transition.RemoveLiquidity:
		ch, err := lp.Remove(bc.tx, bc.signer, p.SubAccountID, p.NShares, p.MarketIndex)
		if err != nil {
			return nil, err
		}
		return userEvents(event.KindLiquidity, ch, p.MarketIndex, bc.signer, p.SubAccountID), nil
	case *transition.SettleLp:
		st, err := lp.Settle(bc.tx, p.Authority, p.SubAccountID, p.MarketIndex)
		if err != nil {
			return nil, err
		}
		return userEvents(event.KindLiquidity, st, p.MarketIndex, p.Authority, p.SubAccountID), nil
	case *transition.SettlePnl:
		st, err := position.SettlePnl(bc.tx, bc.signer, p.SubAccountID, p.MarketIndex)
		if err != nil {
			return nil, err
		}
		return userEvents(event.KindPnlSettlement, st, p.MarketIndex, bc.signer, p.SubAccountID), nil
	case *transition.UpdateAMM:
		return c.handleUpdateAMM(bc, p)
	case *transition.InitializeInsuranceFundStake:
		if err := insurance.Initialize(bc.tx, bc.signer, p.MarketIndex); err != nil {
			return nil, err
		}
		return stakeEvents(bc.signer, insurance.StakeChange{MarketIndex: p.MarketIndex}), nil
	case *transition.AddInsuranceFundStake:
		ch, err := insurance.Add(bc.tx, bc.signer, p.MarketIndex, p.Amount)
		if err != nil {
			return nil, err
		}
		return stakeEvents(bc.signer, ch), nil
	case *transition.RequestRemoveInsuranceFundStake:
		ch, err := insurance.RequestRemove(bc.tx, bc.signer, p.MarketIndex, p.Amount)
		if err != nil {
			return nil, err
		}
		return stakeEvents(bc.signer, ch), nil
	case *transition.CancelRequestRemoveInsuranceFundStake:
		if err := insurance.CancelRequest(bc.tx, bc.signer, p.MarketIndex); err != nil {
			return nil, err
		}
		return stakeEvents(bc.signer, insurance.StakeChange{MarketIndex: p.MarketIndex}), nil
	case *transition.RemoveInsuranceFundStake:
		ch, err := insurance.Remove(bc.tx, bc.signer, p.MarketIndex)
		if err != nil {
			return nil, err
		}
		return stakeEvents(bc.signer, ch), nil
	case *transition.LiquidatePerp:
		return c.handleLiquidatePerp(bc, p)
	default:
		return nil, errorsmod.Wrapf(types.ErrUnknownInstruction, "%s carries %T", in.Kind, in.Params)
	}
}

func userEvents(kind event.Kind, payload any, market uint16, authority uuid.UUID, sub uint16) []event.Event {
	return []event.Event{event.New(kind, payload).ForMarket(market).ForUser(authority, sub)}
}

func stakeEvents(authority uuid.UUID, ch insurance.StakeChange) []event.Event {
	return []event.Event{event.New(event.KindStake, ch).ForMarket(ch.MarketIndex).ForAuthority(authority)}
}

func requireAdmin(bc *batchContext) error {
	if !bc.tx.Config().IsAdmin(bc.signer) {
		return errorsmod.Wrapf(types.ErrUnauthorizedAdmin, "signer %s", bc.signer)
	}
	return nil
}

// --- Admin ---

func (c *DeterministicCore) handleInitializeSpotMarket(bc *batchContext, p *transition.InitializeSpotMarket) ([]event.Event, error) {
	if err := requireAdmin(bc); err != nil {
		return nil, err
	}
	cfg := bc.tx.Config()
	m := state.SpotMarket{
		MarketIndex:                cfg.NumberOfSpotMarkets,
		Mint:                       p.Mint,
		Decimals:                   p.Decimals,
		Oracle:                     state.OracleRef{Key: p.Oracle, Source: p.OracleSource},
		OptimalUtilization:         p.OptimalUtilization,
		OptimalBorrowRate:          p.OptimalBorrowRate,
		MaxBorrowRate:              p.MaxBorrowRate,
		InitialAssetWeight:         p.InitialAssetWeight,
		MaintenanceAssetWeight:     p.MaintenanceAssetWeight,
		InitialLiabilityWeight:     p.InitialLiabilityWeight,
		MaintenanceLiabilityWeight: p.MaintenanceLiabilityWeight,
		CumulativeDepositInterest:  fp.SpotCumulativeInterestPrecision,
		CumulativeBorrowInterest:   fp.SpotCumulativeInterestPrecision,
		LastInterestTs:             bc.tx.Clock.UnixTimestamp,
	}
	if err := m.Validate(); err != nil {
		return nil, errorsmod.Wrapf(types.ErrInvalidParameter, "spot market: %v", err)
	}
	if m.Oracle.Source != oracle.SourceQuoteAsset && m.Oracle.Key.IsZero() {
		return nil, errorsmod.Wrap(types.ErrInvalidOracle, "oracle key must be set")
	}
	if cfg.NumberOfSpotMarkets == ^uint16(0) {
		return nil, errorsmod.Wrap(types.ErrInvalidMarketIndex, "spot market registry full")
	}
	inserted := bc.tx.InsertSpotMarket(m)
	cfg.NumberOfSpotMarkets++
	return []event.Event{event.New(event.KindMarket, *inserted).ForMarket(m.MarketIndex)}, nil
}

func (c *DeterministicCore) handleInitializePerpMarket(bc *batchContext, p *transition.InitializePerpMarket) ([]event.Event, error) {
	if err := requireAdmin(bc); err != nil {
		return nil, err
	}
	cfg := bc.tx.Config()
	if p.MarketIndex != cfg.NumberOfPerpMarkets {
		return nil, errorsmod.Wrapf(types.ErrInvalidMarketIndex, "next perp market is %d, got %d", cfg.NumberOfPerpMarkets, p.MarketIndex)
	}
	if _, err := bc.tx.SpotMarket(state.QuoteSpotMarketIndex); err != nil {
		return nil, errorsmod.Wrap(err, "perp markets settle in spot market 0")
	}
	if p.BaseAssetReserve <= 0 || p.QuoteAssetReserve <= 0 {
		return nil, errorsmod.Wrapf(types.ErrInvalidParameter, "reserves must be > 0, got %d/%d", p.BaseAssetReserve, p.QuoteAssetReserve)
	}
	if p.Oracle.IsZero() {
		return nil, errorsmod.Wrap(types.ErrInvalidOracle, "oracle key must be set")
	}
	sqrtK, err := fp.SqrtK(p.BaseAssetReserve, p.QuoteAssetReserve)
	if err != nil {
		return nil, types.Overflow(err, "sqrt_k")
	}
	quote, err := fp.QuoteReserveFor(sqrtK, p.BaseAssetReserve)
	if err != nil {
		return nil, types.Overflow(err, "quote reserve")
	}
	m := state.PerpMarket{
		MarketIndex:            p.MarketIndex,
		Oracle:                 state.OracleRef{Key: p.Oracle, Source: p.OracleSource},
		QuoteSpotMarketIndex:   state.QuoteSpotMarketIndex,
		MarginRatioInitial:     p.MarginRatioInitial,
		MarginRatioMaintenance: p.MarginRatioMaintenance,
		AMM: state.AMM{
			BaseAssetReserve:  p.BaseAssetReserve,
			QuoteAssetReserve: quote,
			SqrtK:             sqrtK,
			PegMultiplier:     p.PegMultiplier,
			LastUpdateSlot:    bc.tx.Clock.Slot,
			OrderStepSize:     p.OrderStepSize,
			FundingPeriod:     p.FundingPeriod,
			LastFundingRateTs: bc.tx.Clock.UnixTimestamp,
		},
	}
	if price, err := m.AMM.ReservePrice(); err == nil {
		m.AMM.LastOraclePrice = price
	}
	if err := m.Validate(); err != nil {
		return nil, errorsmod.Wrapf(types.ErrInvalidParameter, "perp market: %v", err)
	}
	inserted := bc.tx.InsertPerpMarket(m)
	cfg.NumberOfPerpMarkets++
	return []event.Event{event.New(event.KindMarket, *inserted).ForMarket(m.MarketIndex)}, nil
}

func (c *DeterministicCore) handleUpdateK(bc *batchContext, p *transition.UpdateK) ([]event.Event, error) {
	if err := requireAdmin(bc); err != nil {
		return nil, err
	}
	m, err := bc.tx.PerpMarket(p.MarketIndex)
	if err != nil {
		return nil, err
	}
	up, err := amm.UpdateK(bc.tx, m, p.SqrtK)
	if err != nil {
		return nil, err
	}
	return []event.Event{event.New(event.KindCurve, up).ForMarket(p.MarketIndex)}, nil
}

func (c *DeterministicCore) handleRepegCurve(bc *batchContext, p *transition.RepegCurve) ([]event.Event, error) {
	if err := requireAdmin(bc); err != nil {
		return nil, err
	}
	m, err := bc.tx.PerpMarket(p.MarketIndex)
	if err != nil {
		return nil, err
	}
	up, err := amm.Repeg(bc.tx, m, p.Peg)
	if err != nil {
		return nil, err
	}
	return []event.Event{event.New(event.KindCurve, up).ForMarket(p.MarketIndex)}, nil
}

// handleConfigChange applies an admin setter and revalidates the whole config.
func (c *DeterministicCore) handleConfigChange(bc *batchContext, field string, value any, apply func(*state.GlobalConfig)) ([]event.Event, error) {
	if err := requireAdmin(bc); err != nil {
		return nil, err
	}
	cfg := bc.tx.Config()
	apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, errorsmod.Wrapf(types.ErrInvalidParameter, "%s: %v", field, err)
	}
	return []event.Event{event.New(event.KindConfig, event.ConfigChange{Field: field, Value: value})}, nil
}

func (c *DeterministicCore) handleUpdateLiquidationConfig(bc *batchContext, p *transition.UpdateLiquidationConfig) ([]event.Event, error) {
	if len(p.DrawdownOrder) > 2 {
		return nil, errorsmod.Wrapf(types.ErrInvalidParameter, "drawdown_order lists %d sources, max 2", len(p.DrawdownOrder))
	}
	var order [2]state.DrawdownSource
	for i, name := range p.DrawdownOrder {
		src, err := state.ParseDrawdownSource(name)
		if err != nil {
			return nil, errorsmod.Wrap(types.ErrInvalidParameter, err.Error())
		}
		order[i] = src
	}
	return c.handleConfigChange(bc, "liquidation_config", p, func(g *state.GlobalConfig) {
		g.Liquidation = state.LiquidationConfig{LiquidatorDiscount: p.LiquidatorDiscount, DrawdownOrder: order}
	})
}

func (c *DeterministicCore) handleUpdateAdmin(bc *batchContext, p *transition.UpdateAdmin) ([]event.Event, error) {
	if p.NewAdmin == uuid.Nil {
		return nil, errorsmod.Wrap(types.ErrInvalidParameter, "new_admin must be set")
	}
	return c.handleConfigChange(bc, "admin", p, func(g *state.GlobalConfig) {
		g.Admin = p.NewAdmin
		if p.OracleAuthority != nil {
			g.OracleAuthority = *p.OracleAuthority
		}
	})
}

// handleSetOraclePrice stores a pushed reading in the encoding of its source.
func (c *DeterministicCore) handleSetOraclePrice(bc *batchContext, p *transition.SetOraclePrice) ([]event.Event, error) {
	if !bc.tx.Config().CanUpdateOracle(bc.signer) {
		return nil, errorsmod.Wrapf(types.ErrUnauthorizedAdmin, "signer %s may not push oracle readings", bc.signer)
	}
	if p.Oracle.IsZero() {
		return nil, errorsmod.Wrap(types.ErrInvalidOracle, "oracle key must be set")
	}
	if p.Price <= 0 || p.Confidence < 0 {
		return nil, errorsmod.Wrapf(types.ErrInvalidOracle, "price %d confidence %d", p.Price, p.Confidence)
	}
	slot := p.PublishSlot
	if slot == 0 {
		slot = bc.tx.Clock.Slot
	}
	if slot > bc.tx.Clock.Slot {
		return nil, errorsmod.Wrapf(types.ErrInvalidOracle, "publish slot %d is after clock slot %d", slot, bc.tx.Clock.Slot)
	}
	if existing, err := bc.tx.Feed(p.Oracle); err == nil && existing.Reading.Source() != p.Source {
		return nil, errorsmod.Wrapf(types.ErrInvalidOracle, "feed %s is %s, reading is %s", p.Oracle, existing.Reading.Source(), p.Source)
	}

	ts := bc.tx.Clock.UnixTimestamp
	var reading oracle.Reading
	switch p.Source {
	case oracle.SourcePyth, oracle.SourcePyth1K:
		reading = oracle.PythReading{
			Price:       p.Price,
			Confidence:  uint64(p.Confidence),
			Expo:        p.Expo,
			PublishSlot: slot,
			PublishTime: ts,
			Per1K:       p.Source == oracle.SourcePyth1K,
		}
	case oracle.SourceSwitchboard:
		reading = oracle.SwitchboardReading{
			Mantissa:      p.Price,
			Scale:         p.Scale,
			StdDeviation:  p.Confidence,
			RoundOpenSlot: slot,
			RoundOpenTs:   ts,
		}
	case oracle.SourcePrelaunch:
		reading = oracle.PrelaunchReading{Price: p.Price, MaxPrice: p.MaxPrice, LastUpdateSlot: slot, LastUpdateTs: ts}
	default:
		return nil, errorsmod.Wrapf(types.ErrInvalidOracle, "readings cannot be pushed for %s", p.Source)
	}
	feed := oracle.Feed{Key: p.Oracle, Reading: reading}
	pd, err := feed.PriceData(slot)
	if err != nil {
		return nil, err
	}
	bc.tx.PutFeed(feed)
	up := event.OracleUpdate{Oracle: p.Oracle.String(), Source: p.Source.String(), Price: pd.Price, Slot: slot}
	return []event.Event{event.New(event.KindOracle, up)}, nil
}

// --- User ---

func (c *DeterministicCore) handleInitializeUser(bc *batchContext, p *transition.InitializeUser) ([]event.Event, error) {
	if _, err := bc.tx.InitializeUser(bc.signer, p.SubAccountID); err != nil {
		return nil, err
	}
	stats, err := bc.tx.UserStats(bc.signer)
	if err != nil {
		return nil, err
	}
	return []event.Event{event.New(event.KindAccount, *stats).ForUser(bc.signer, p.SubAccountID)}, nil
}

func (c *DeterministicCore) handleDeposit(bc *batchContext, p *transition.Deposit) ([]event.Event, error) {
	res, err := spot.Deposit(bc.tx, bc.signer, p.SubAccountID, p.MarketIndex, p.Amount, p.InitializeUser)
	if err != nil {
		return nil, err
	}
	payload := event.SpotTransfer{
		Direction:   spot.DirectionDeposit.String(),
		Amount:      p.Amount,
		ScaledDelta: res.ScaledDelta,
		UserCreated: res.UserCreated,
	}
	return userEvents(event.KindSpotTransfer, payload, p.MarketIndex, bc.signer, p.SubAccountID), nil
}

func (c *DeterministicCore) handleWithdraw(bc *batchContext, p *transition.Withdraw) ([]event.Event, error) {
	paid, err := spot.Withdraw(bc.tx, bc.signer, p.SubAccountID, p.MarketIndex, p.Amount, p.ReduceOnly)
	if err != nil {
		return nil, err
	}
	payload := event.SpotTransfer{Direction: spot.DirectionWithdraw.String(), Amount: paid}
	return userEvents(event.KindSpotTransfer, payload, p.MarketIndex, bc.signer, p.SubAccountID), nil
}

// --- Keeper ---

func (c *DeterministicCore) handleUpdateAMM(bc *batchContext, p *transition.UpdateAMM) ([]event.Event, error) {
	if len(p.MarketIndexes) == 0 {
		return nil, errorsmod.Wrap(types.ErrInvalidParameter, "market_indexes is empty")
	}
	events := make([]event.Event, 0, len(p.MarketIndexes))
	for _, idx := range p.MarketIndexes {
		m, err := bc.tx.PerpMarket(idx)
		if err != nil {
			return nil, err
		}
		up, err := amm.UpdateAMM(bc.tx, m)
		if err != nil {
			return nil, err
		}
		bc.fundings = append(bc.fundings, up)
		events = append(events, event.New(event.KindFunding, up).ForMarket(idx))
	}
	return events, nil
}

func (c *DeterministicCore) handleLiquidatePerp(bc *batchContext, p *transition.LiquidatePerp) ([]event.Event, error) {
	req := liquidation.Request{
		Liquidator:    state.UserKey{Authority: bc.signer, SubAccountID: p.SubAccountID},
		Target:        state.UserKey{Authority: p.TargetAuthority, SubAccountID: p.TargetSubAccountID},
		MarketIndex:   p.MarketIndex,
		MaxBaseAmount: p.MaxBaseAmount,
	}
	res, err := liquidation.LiquidatePerp(bc.tx, req)
	if err != nil {
		return nil, err
	}
	bc.liquidations = append(bc.liquidations, res)
	events := userEvents(event.KindLiquidation, res, p.MarketIndex, p.TargetAuthority, p.TargetSubAccountID)
	if res.BadDebt != nil {
		m, err := bc.tx.PerpMarket(p.MarketIndex)
		if err != nil {
			return nil, err
		}
		bd := event.BadDebt{
			Target:       p.TargetAuthority,
			SubAccountID: p.TargetSubAccountID,
			Amount:       res.Bankruptcy.BadDebt,
			TotalBadDebt: m.TotalBadDebt,
			Reason:       res.BadDebt.Error(),
		}
		bc.badDebts = append(bc.badDebts, badDebtOutcome{market: p.MarketIndex, amount: bd.Amount, err: res.BadDebt})
		events = append(events, userEvents(event.KindBadDebt, bd, p.MarketIndex, p.TargetAuthority, p.TargetSubAccountID)...)
	}
	return events, nil
}
