package state

import (
	"bytes"

	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"

	"VAMMLedger/internal/types"
)

const (
	MaxSpotPositions = 8
	MaxPerpPositions = 8
)

// LiquidationStatus tracks an account through liquidation.
type LiquidationStatus uint8

const (
	StatusHealthy LiquidationStatus = iota
	StatusLiquidatable
	StatusPartiallyLiquidated
	StatusBankrupt
)

func (s LiquidationStatus) String() string {
	switch s {
	case StatusHealthy:
		return "Healthy"
	case StatusLiquidatable:
		return "Liquidatable"
	case StatusPartiallyLiquidated:
		return "PartiallyLiquidated"
	case StatusBankrupt:
		return "Bankrupt"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions
func (s LiquidationStatus) CanTransitionTo(next LiquidationStatus) bool {
	validTransitions := map[LiquidationStatus][]LiquidationStatus{
		StatusHealthy: {
			StatusLiquidatable,
		},
		StatusLiquidatable: {
			StatusHealthy,
			StatusPartiallyLiquidated,
			StatusBankrupt,
		},
		StatusPartiallyLiquidated: {
			StatusPartiallyLiquidated, // Multiple partial liquidations
			StatusLiquidatable,
			StatusHealthy, // Margin recovered
			StatusBankrupt,
		},
		StatusBankrupt: {
			StatusHealthy, // After loss is resolved
		},
	}

	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// SpotBalanceType is the side of a spot balance.
type SpotBalanceType uint8

const (
	SpotBalanceDeposit SpotBalanceType = iota
	SpotBalanceBorrow
)

func (t SpotBalanceType) String() string {
	if t == SpotBalanceBorrow {
		return "borrow"
	}
	return "deposit"
}

// SpotPosition is one slot of a user's spot balances.
type SpotPosition struct {
	MarketIndex   uint16
	BalanceType   SpotBalanceType
	ScaledBalance int64
}

// IsAvailable reports whether the slot can be reused.
func (p *SpotPosition) IsAvailable() bool {
	return p.ScaledBalance == 0
}

// PerpPosition is one slot of a user's perp positions.
type PerpPosition struct {
	MarketIndex      uint16
	BaseAssetAmount  int64
	QuoteAssetAmount int64
	LpShares         int64

	LastBaseAssetAmountPerLp  int64
	LastQuoteAssetAmountPerLp int64
	LastCumulativeFundingRate int64
}

// IsAvailable reports whether the slot holds nothing and can be reused.
func (p *PerpPosition) IsAvailable() bool {
	return p.BaseAssetAmount == 0 && p.QuoteAssetAmount == 0 && p.LpShares == 0
}

// IsOpen reports whether the position carries base exposure.
func (p *PerpPosition) IsOpen() bool {
	return p.BaseAssetAmount != 0
}

// UserKey addresses a user account.
type UserKey struct {
	Authority    uuid.UUID
	SubAccountID uint16
}

// Less orders keys by authority then subaccount.
func (k UserKey) Less(o UserKey) bool {
	if c := bytes.Compare(k.Authority[:], o.Authority[:]); c != 0 {
		return c < 0
	}
	return k.SubAccountID < o.SubAccountID
}

// UserAccount is one (authority, subaccount) margin account. Positions live
// in fixed arrays; a slot is free when it holds nothing.
type UserAccount struct {
	Authority     uuid.UUID
	SubAccountID  uint16
	Status        LiquidationStatus
	LastAddLpSlot uint64
	SpotPositions [MaxSpotPositions]SpotPosition
	PerpPositions [MaxPerpPositions]PerpPosition
}

func (u *UserAccount) Key() UserKey {
	return UserKey{Authority: u.Authority, SubAccountID: u.SubAccountID}
}

// PerpPosition returns the live position in market, or ErrPositionNotFound.
func (u *UserAccount) PerpPosition(market uint16) (*PerpPosition, error) {
	for i := range u.PerpPositions {
		p := &u.PerpPositions[i]
		if p.MarketIndex == market && !p.IsAvailable() {
			return p, nil
		}
	}
	return nil, errorsmod.Wrapf(types.ErrPositionNotFound, "no perp position in market %d", market)
}

// ForcePerpPosition returns the position in market, claiming a free slot
// if none exists.
func (u *UserAccount) ForcePerpPosition(market uint16) (*PerpPosition, error) {
	if p, err := u.PerpPosition(market); err == nil {
		return p, nil
	}
	for i := range u.PerpPositions {
		p := &u.PerpPositions[i]
		if p.IsAvailable() {
			*p = PerpPosition{MarketIndex: market}
			return p, nil
		}
	}
	return nil, errorsmod.Wrapf(types.ErrMaxNumberOfPositions, "all %d perp slots in use", MaxPerpPositions)
}

// SpotPosition returns the live balance in market, if any.
func (u *UserAccount) SpotPosition(market uint16) (*SpotPosition, bool) {
	for i := range u.SpotPositions {
		p := &u.SpotPositions[i]
		if p.MarketIndex == market && !p.IsAvailable() {
			return p, true
		}
	}
	return nil, false
}

// ForceSpotPosition returns the balance in market, claiming a free slot if
// none exists.
func (u *UserAccount) ForceSpotPosition(market uint16) (*SpotPosition, error) {
	if p, ok := u.SpotPosition(market); ok {
		return p, nil
	}
	for i := range u.SpotPositions {
		p := &u.SpotPositions[i]
		if p.IsAvailable() {
			*p = SpotPosition{MarketIndex: market}
			return p, nil
		}
	}
	return nil, errorsmod.Wrapf(types.ErrMaxNumberOfPositions, "all %d spot slots in use", MaxSpotPositions)
}

// ReleaseEmpty resets every slot that holds nothing, so a freed slot
// encodes the same whichever market last used it.
func (u *UserAccount) ReleaseEmpty() {
	for i := range u.SpotPositions {
		if u.SpotPositions[i].IsAvailable() {
			u.SpotPositions[i] = SpotPosition{}
		}
	}
	for i := range u.PerpPositions {
		if u.PerpPositions[i].IsAvailable() {
			u.PerpPositions[i] = PerpPosition{}
		}
	}
}

// HasOpenPerp reports whether any slot carries base exposure or LP shares.
func (u *UserAccount) HasOpenPerp() bool {
	for i := range u.PerpPositions {
		if u.PerpPositions[i].IsOpen() || u.PerpPositions[i].LpShares != 0 {
			return true
		}
	}
	return false
}

// TransitionTo moves the liquidation status, rejecting invalid transitions.
// Staying in the same state is a no-op.
func (u *UserAccount) TransitionTo(next LiquidationStatus) error {
	if u.Status == next && next != StatusPartiallyLiquidated {
		return nil
	}
	if !u.Status.CanTransitionTo(next) {
		return errorsmod.Wrapf(types.ErrInvariantViolation, "invalid status transition: %s -> %s", u.Status, next)
	}
	u.Status = next
	return nil
}

// UserStats aggregates per-authority counters across subaccounts.
type UserStats struct {
	Authority                uuid.UUID
	NumberOfSubAccounts      uint16
	IfStakedQuoteAssetAmount int64
	FeesPaid                 int64
	TakerVolume              int64
}

// InsuranceFundStake is one authority's stake in a market's insurance fund.
type InsuranceFundStake struct {
	Authority   uuid.UUID
	MarketIndex uint16
	IfShares    int64

	LastWithdrawRequestShares int64
	LastWithdrawRequestAmount int64
	LastWithdrawRequestTs     int64
}

// HasPendingRequest reports whether a withdraw request awaits the unstaking period.
func (s *InsuranceFundStake) HasPendingRequest() bool {
	return s.LastWithdrawRequestShares > 0
}

// StakeKey addresses an insurance fund stake.
type StakeKey struct {
	Authority   uuid.UUID
	MarketIndex uint16
}

func (s *InsuranceFundStake) Key() StakeKey {
	return StakeKey{Authority: s.Authority, MarketIndex: s.MarketIndex}
}

// Less orders keys by authority then market.
func (k StakeKey) Less(o StakeKey) bool {
	if c := bytes.Compare(k.Authority[:], o.Authority[:]); c != 0 {
		return c < 0
	}
	return k.MarketIndex < o.MarketIndex
}

// PositionDirection is the side of a perp trade.
type PositionDirection uint8

const (
	Long PositionDirection = iota
	Short
)

func (d PositionDirection) String() string {
	if d == Short {
		return "short"
	}
	return "long"
}

// Opposite returns the other side.
func (d PositionDirection) Opposite() PositionDirection {
	if d == Long {
		return Short
	}
	return Long
}

func (d PositionDirection) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *PositionDirection) UnmarshalText(b []byte) error {
	switch string(b) {
	case "long":
		*d = Long
	case "short":
		*d = Short
	default:
		return errorsmod.Wrapf(types.ErrInvalidParameter, "unknown direction %q", b)
	}
	return nil
}
