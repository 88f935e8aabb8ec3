// Package insurance runs the staked insurance fund of each spot market:
// share minting, the two-phase request/remove withdrawal, and loss cover.
package insurance

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"

	"VAMMLedger/internal/ledger"
	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// StakeChange reports a stake movement.
type StakeChange struct {
	MarketIndex  uint16
	Amount       int64
	SharesDelta  int64
	SharesAfter  int64
	VaultAfter   int64
	StakedQuote  int64 // UserStats aggregate after the change
	RequestTs    int64
	RequestAfter int64
}

// Initialize creates an empty stake for authority in marketIndex.
func Initialize(tx *state.Tx, authority uuid.UUID, marketIndex uint16) error {
	if _, err := tx.SpotMarket(marketIndex); err != nil {
		return err
	}
	if _, err := tx.UserStats(authority); err != nil {
		return err
	}
	key := state.StakeKey{Authority: authority, MarketIndex: marketIndex}
	if tx.HasStake(key) {
		return errorsmod.Wrapf(types.ErrAccountAlreadyExists, "insurance fund stake %s/%d", authority, marketIndex)
	}
	tx.InsertStake(state.InsuranceFundStake{Authority: authority, MarketIndex: marketIndex})
	return nil
}

// Add moves amount from the authority's wallet into the fund and mints
// shares at the current share price.
func Add(tx *state.Tx, authority uuid.UUID, marketIndex uint16, amount int64) (StakeChange, error) {
	res := StakeChange{MarketIndex: marketIndex, Amount: amount}
	m, stake, stats, err := load(tx, authority, marketIndex)
	if err != nil {
		return res, err
	}
	if amount <= 0 {
		return res, errorsmod.Wrapf(types.ErrInvalidAmount, "stake amount must be > 0, got %d", amount)
	}
	if stake.HasPendingRequest() {
		return res, errorsmod.Wrap(types.ErrWithdrawRequestInProgress, "cancel or complete the pending request first")
	}

	f := &m.InsuranceFund
	if f.Depleted() {
		return res, errorsmod.Wrapf(types.ErrInsuranceFundDepleted,
			"market %d fund is empty with %d shares outstanding", marketIndex, f.TotalShares)
	}
	shares, err := f.SharesForAmount(amount)
	if err != nil {
		return res, types.Overflow(err, "insurance shares")
	}
	if shares <= 0 {
		return res, errorsmod.Wrapf(types.ErrInvalidAmount, "stake of %d mints no shares", amount)
	}
	f.VaultAmount += amount
	f.TotalShares += shares
	f.UserShares += shares
	stake.IfShares += shares
	if marketIndex == state.QuoteSpotMarketIndex {
		stats.IfStakedQuoteAssetAmount += amount
	}
	tx.RecordJournal(ledger.InsuranceStake(ledger.AssetID(marketIndex), amount))

	res.SharesDelta = shares
	res.SharesAfter = stake.IfShares
	res.VaultAfter = f.VaultAmount
	res.StakedQuote = stats.IfStakedQuoteAssetAmount
	return res, nil
}

// RequestRemove starts the unstaking period for amount. No funds move.
func RequestRemove(tx *state.Tx, authority uuid.UUID, marketIndex uint16, amount int64) (StakeChange, error) {
	res := StakeChange{MarketIndex: marketIndex, Amount: amount}
	m, stake, _, err := load(tx, authority, marketIndex)
	if err != nil {
		return res, err
	}
	if amount <= 0 {
		return res, errorsmod.Wrapf(types.ErrInvalidAmount, "request amount must be > 0, got %d", amount)
	}
	if stake.HasPendingRequest() {
		return res, errorsmod.Wrap(types.ErrWithdrawRequestInProgress, "a withdraw request is already pending")
	}
	f := &m.InsuranceFund
	value, err := f.AmountForShares(stake.IfShares)
	if err != nil {
		return res, types.Overflow(err, "stake value")
	}
	if amount > value {
		return res, errorsmod.Wrapf(types.ErrWithdrawalLimitExceeded, "request %d exceeds stake value %d", amount, value)
	}
	shares, err := f.SharesForWithdraw(amount)
	if err != nil {
		return res, errorsmod.Wrap(types.ErrWithdrawalLimitExceeded, err.Error())
	}
	stake.LastWithdrawRequestShares = fp.Min(shares, stake.IfShares)
	stake.LastWithdrawRequestAmount = amount
	stake.LastWithdrawRequestTs = tx.Clock.UnixTimestamp

	res.SharesAfter = stake.IfShares
	res.RequestAfter = stake.LastWithdrawRequestShares
	res.RequestTs = stake.LastWithdrawRequestTs
	res.VaultAfter = f.VaultAmount
	return res, nil
}

// CancelRequest drops a pending withdraw request.
func CancelRequest(tx *state.Tx, authority uuid.UUID, marketIndex uint16) error {
	_, stake, _, err := load(tx, authority, marketIndex)
	if err != nil {
		return err
	}
	if !stake.HasPendingRequest() {
		return errorsmod.Wrapf(types.ErrNoWithdrawRequest, "stake %s/%d", authority, marketIndex)
	}
	clearRequest(stake)
	return nil
}

// Remove completes a request once the unstaking period has elapsed. The
// payout is the requested amount, or less if the fund has since been drawn.
func Remove(tx *state.Tx, authority uuid.UUID, marketIndex uint16) (StakeChange, error) {
	res := StakeChange{MarketIndex: marketIndex}
	m, stake, stats, err := load(tx, authority, marketIndex)
	if err != nil {
		return res, err
	}
	if !stake.HasPendingRequest() {
		return res, errorsmod.Wrapf(types.ErrNoWithdrawRequest, "stake %s/%d", authority, marketIndex)
	}
	period := tx.Config().InsuranceFundUnstakingPeriod
	if elapsed := tx.Clock.UnixTimestamp - stake.LastWithdrawRequestTs; elapsed < period {
		return res, errorsmod.Wrapf(types.ErrCooldownActive, "%ds of %ds unstaking period elapsed", elapsed, period)
	}

	f := &m.InsuranceFund
	shares := stake.LastWithdrawRequestShares
	value, err := f.AmountForShares(shares)
	if err != nil {
		return res, types.Overflow(err, "request value")
	}
	pay := fp.Min(stake.LastWithdrawRequestAmount, value)

	f.VaultAmount -= pay
	f.TotalShares -= shares
	f.UserShares -= shares
	stake.IfShares -= shares
	clearRequest(stake)
	if marketIndex == state.QuoteSpotMarketIndex {
		stats.IfStakedQuoteAssetAmount = fp.Max(stats.IfStakedQuoteAssetAmount-pay, 0)
	}
	if pay > 0 {
		tx.RecordJournal(ledger.InsuranceUnstake(ledger.AssetID(marketIndex), pay))
	}

	res.Amount = pay
	res.SharesDelta = -shares
	res.SharesAfter = stake.IfShares
	res.VaultAfter = f.VaultAmount
	res.StakedQuote = stats.IfStakedQuoteAssetAmount
	return res, nil
}

func load(tx *state.Tx, authority uuid.UUID, marketIndex uint16) (*state.SpotMarket, *state.InsuranceFundStake, *state.UserStats, error) {
	m, err := tx.SpotMarket(marketIndex)
	if err != nil {
		return nil, nil, nil, err
	}
	stake, err := tx.Stake(state.StakeKey{Authority: authority, MarketIndex: marketIndex})
	if err != nil {
		return nil, nil, nil, err
	}
	stats, err := tx.UserStats(authority)
	if err != nil {
		return nil, nil, nil, err
	}
	return m, stake, stats, nil
}

func clearRequest(s *state.InsuranceFundStake) {
	s.LastWithdrawRequestShares = 0
	s.LastWithdrawRequestAmount = 0
	s.LastWithdrawRequestTs = 0
}
