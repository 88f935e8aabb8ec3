package insurance

import (
	"VAMMLedger/internal/ledger"
	"VAMMLedger/internal/spot"
	"VAMMLedger/internal/state"
)

// Cover draws up to deficit from the quote market's fund into the perp
// market's pnl pool and returns what it drew.
func Cover(tx *state.Tx, quote *state.SpotMarket, m *state.PerpMarket, deficit int64) (int64, error) {
	if deficit <= 0 {
		return 0, nil
	}
	f := &quote.InsuranceFund
	covered, _ := f.ComputeCoverage(deficit)
	if covered <= 0 {
		return 0, nil
	}
	if err := spot.PoolDeposit(quote, &m.PnlPool, covered); err != nil {
		return 0, err
	}
	f.VaultAmount -= covered
	f.TotalDrawn += covered
	quote.VaultAmount += covered
	m.TotalInsuranceDraw += covered
	tx.RecordJournal(ledger.InsuranceCover(ledger.AssetID(quote.MarketIndex), covered))
	return covered, nil
}
