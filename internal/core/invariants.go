package core

import (
	errorsmod "cosmossdk.io/errors"

	"VAMMLedger/internal/ledger"
	"VAMMLedger/internal/spot"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// checkInvariants runs the post-apply checks on every market the batch
// touched. The user sweeps are linear in the number of accounts and only
// run in strict mode.
func (c *DeterministicCore) checkInvariants(tx *state.Tx) error {
	pending := tx.Journals()
	for _, idx := range tx.TouchedSpotMarkets() {
		m, err := tx.SpotMarket(idx)
		if err != nil {
			return err
		}
		if err := spot.ValidateVault(m); err != nil {
			return c.violation("spot_vault", err)
		}
		asset := ledger.AssetID(idx)
		if err := c.validator.ValidateVault(ledger.SpotVault(asset), pending, m.VaultAmount); err != nil {
			return c.violation("spot_vault_ledger", err)
		}
		if err := c.validator.ValidateVault(ledger.InsuranceFundVault(asset), pending, m.InsuranceFund.VaultAmount); err != nil {
			return c.violation("insurance_fund_ledger", err)
		}
	}

	perps := tx.TouchedPerpMarkets()
	for _, idx := range perps {
		m, err := tx.PerpMarket(idx)
		if err != nil {
			return err
		}
		if err := m.AMM.CheckInvariant(); err != nil {
			return c.violation("reserve", err)
		}
		if m.AMM.UserLpShares < 0 || m.AMM.UserLpShares > m.AMM.SqrtK {
			return c.violation("lp_shares", errorsmod.Wrapf(types.ErrInvariantViolation,
				"market %d: user_lp_shares %d outside [0, sqrt_k %d]", idx, m.AMM.UserLpShares, m.AMM.SqrtK))
		}
	}
	if !c.strict || len(perps) == 0 {
		return nil
	}
	return c.sweepPositions(tx, perps)
}

// sweepPositions checks that users' positions add up to the market totals.
func (c *DeterministicCore) sweepPositions(tx *state.Tx, markets []uint16) error {
	type totals struct{ base, lp int64 }
	sums := make(map[uint16]*totals, len(markets))
	for _, idx := range markets {
		sums[idx] = &totals{}
	}
	tx.AscendUsers(func(u *state.UserAccount) bool {
		for i := range u.PerpPositions {
			p := &u.PerpPositions[i]
			if t, ok := sums[p.MarketIndex]; ok && !p.IsAvailable() {
				t.base += p.BaseAssetAmount
				t.lp += p.LpShares
			}
		}
		return true
	})
	for _, idx := range markets {
		m, err := tx.PerpMarket(idx)
		if err != nil {
			return err
		}
		t := sums[idx]
		if t.base != m.AMM.BaseAssetAmountWithAmm {
			return c.violation("base_sum", errorsmod.Wrapf(types.ErrInvariantViolation,
				"market %d: users hold %d base, market records %d", idx, t.base, m.AMM.BaseAssetAmountWithAmm))
		}
		if t.lp != m.AMM.UserLpShares {
			return c.violation("lp_sum", errorsmod.Wrapf(types.ErrInvariantViolation,
				"market %d: users hold %d lp shares, market records %d", idx, t.lp, m.AMM.UserLpShares))
		}
	}
	return nil
}

func (c *DeterministicCore) violation(check string, err error) error {
	if c.metrics != nil {
		c.metrics.CoreInvariantFailures.WithLabelValues(check).Inc()
	}
	if types.Code(err) == types.CodeUnregistered {
		return errorsmod.Wrap(types.ErrInvariantViolation, err.Error())
	}
	return err
}
