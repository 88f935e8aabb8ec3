package ledger

// Journal builders for every token movement the engine performs. Identifiers
// and sequence are stamped later by NewBatch, once the batch commits.

// SpotDeposit moves funds: external:deposits → system:spot_vault
func SpotDeposit(asset AssetID, amount int64) Journal {
	return Journal{
		DebitAccount:  SpotVault(asset),
		CreditAccount: NewExternalAccountKey(SubTypeExternalDeposits, asset),
		AssetID:       asset,
		Amount:        amount,
		JournalType:   JournalTypeSpotDeposit,
	}
}

// SpotWithdrawal moves funds: system:spot_vault → external:withdrawals
func SpotWithdrawal(asset AssetID, amount int64) Journal {
	return Journal{
		DebitAccount:  NewExternalAccountKey(SubTypeExternalWithdrawals, asset),
		CreditAccount: SpotVault(asset),
		AssetID:       asset,
		Amount:        amount,
		JournalType:   JournalTypeSpotWithdrawal,
	}
}

// InsuranceStake moves funds: external:deposits → system:insurance_fund
func InsuranceStake(asset AssetID, amount int64) Journal {
	return Journal{
		DebitAccount:  InsuranceFundVault(asset),
		CreditAccount: NewExternalAccountKey(SubTypeExternalDeposits, asset),
		AssetID:       asset,
		Amount:        amount,
		JournalType:   JournalTypeInsuranceStake,
	}
}

// InsuranceUnstake moves funds: system:insurance_fund → external:withdrawals
func InsuranceUnstake(asset AssetID, amount int64) Journal {
	return Journal{
		DebitAccount:  NewExternalAccountKey(SubTypeExternalWithdrawals, asset),
		CreditAccount: InsuranceFundVault(asset),
		AssetID:       asset,
		Amount:        amount,
		JournalType:   JournalTypeInsuranceUnstake,
	}
}

// InsuranceCover moves funds: system:insurance_fund → system:spot_vault
// when the fund absorbs a bankrupt account's loss.
func InsuranceCover(asset AssetID, amount int64) Journal {
	return Journal{
		DebitAccount:  SpotVault(asset),
		CreditAccount: InsuranceFundVault(asset),
		AssetID:       asset,
		Amount:        amount,
		JournalType:   JournalTypeInsuranceCover,
	}
}
