package liquidation

import (
	"VAMMLedger/internal/margin"
	"VAMMLedger/internal/state"
)

// RefreshStatus returns every account the transaction loaded to Healthy
// once it meets its maintenance requirement again, so a deposit or a close
// that restores margin also clears a liquidation status. An account whose
// margin cannot be priced, for example on a stale oracle, keeps its status.
func RefreshStatus(tx *state.Tx) error {
	for _, key := range tx.TouchedUsers() {
		u, err := tx.User(key)
		if err != nil {
			return err
		}
		if u.Status == state.StatusHealthy {
			continue
		}
		calc, err := margin.Calculate(tx, u, state.MarginMaintenance)
		if err != nil || !calc.MeetsRequirement() {
			continue
		}
		if err := u.TransitionTo(state.StatusHealthy); err != nil {
			return err
		}
	}
	return nil
}
