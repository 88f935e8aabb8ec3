package state

import (
	"bytes"
	"sort"

	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"

	"VAMMLedger/internal/ledger"
	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/types"
)

// Clock is the host-supplied time of a batch. The core never reads the wall clock.
type Clock struct {
	Slot          uint64 `json:"slot"`
	UnixTimestamp int64  `json:"unix_timestamp"`
}

// Tx is a copy-on-write view over State. Records are cloned on first access
// and written back only by Commit; dropping a Tx discards every mutation.
type Tx struct {
	base  *State
	Clock Clock

	config *GlobalConfig
	spot   map[uint16]*SpotMarket
	perp   map[uint16]*PerpMarket
	users  map[UserKey]*UserAccount
	stats  map[uuid.UUID]*UserStats
	stakes map[StakeKey]*InsuranceFundStake
	feeds  map[types.Symbol]*oracle.Feed

	journals []ledger.Journal
}

// Begin opens a transaction at clock.
func (s *State) Begin(clock Clock) *Tx {
	cfg := s.Config
	return &Tx{
		base:   s,
		Clock:  clock,
		config: &cfg,
		spot:   make(map[uint16]*SpotMarket),
		perp:   make(map[uint16]*PerpMarket),
		users:  make(map[UserKey]*UserAccount),
		stats:  make(map[uuid.UUID]*UserStats),
		stakes: make(map[StakeKey]*InsuranceFundStake),
		feeds:  make(map[types.Symbol]*oracle.Feed),
	}
}

// Config returns the transaction's copy of the global config.
func (tx *Tx) Config() *GlobalConfig { return tx.config }

// SpotMarket returns a writable copy of a spot market.
func (tx *Tx) SpotMarket(idx uint16) (*SpotMarket, error) {
	if m, ok := tx.spot[idx]; ok {
		return m, nil
	}
	base, ok := tx.base.SpotMarket(idx)
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrInvalidMarketIndex, "spot market %d", idx)
	}
	m := *base
	tx.spot[idx] = &m
	return &m, nil
}

// InsertSpotMarket adds a new spot market.
func (tx *Tx) InsertSpotMarket(m SpotMarket) *SpotMarket {
	tx.spot[m.MarketIndex] = &m
	return &m
}

// PerpMarket returns a writable copy of a perp market.
func (tx *Tx) PerpMarket(idx uint16) (*PerpMarket, error) {
	if m, ok := tx.perp[idx]; ok {
		return m, nil
	}
	base, ok := tx.base.PerpMarket(idx)
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrInvalidMarketIndex, "perp market %d", idx)
	}
	m := *base
	tx.perp[idx] = &m
	return &m, nil
}

// InsertPerpMarket adds a new perp market.
func (tx *Tx) InsertPerpMarket(m PerpMarket) *PerpMarket {
	tx.perp[m.MarketIndex] = &m
	return &m
}

// User returns a writable copy of a user account.
func (tx *Tx) User(key UserKey) (*UserAccount, error) {
	if u, ok := tx.users[key]; ok {
		return u, nil
	}
	base, ok := tx.base.User(key)
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrAccountNotFound, "user %s/%d", key.Authority, key.SubAccountID)
	}
	u := *base
	tx.users[key] = &u
	return &u, nil
}

// HasUser reports whether the account exists.
func (tx *Tx) HasUser(key UserKey) bool {
	if _, ok := tx.users[key]; ok {
		return true
	}
	_, ok := tx.base.User(key)
	return ok
}

// InsertUser adds a new user account.
func (tx *Tx) InsertUser(u UserAccount) *UserAccount {
	tx.users[u.Key()] = &u
	return &u
}

// UserStats returns a writable copy of an authority's stats.
func (tx *Tx) UserStats(authority uuid.UUID) (*UserStats, error) {
	if s, ok := tx.stats[authority]; ok {
		return s, nil
	}
	base, ok := tx.base.UserStats(authority)
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrAccountNotFound, "user stats %s", authority)
	}
	s := *base
	tx.stats[authority] = &s
	return &s, nil
}

// InsertUserStats adds stats for a new authority.
func (tx *Tx) InsertUserStats(s UserStats) *UserStats {
	tx.stats[s.Authority] = &s
	return &s
}

// Stake returns a writable copy of an insurance fund stake.
func (tx *Tx) Stake(key StakeKey) (*InsuranceFundStake, error) {
	if s, ok := tx.stakes[key]; ok {
		return s, nil
	}
	base, ok := tx.base.Stake(key)
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrAccountNotFound, "insurance fund stake %s/%d", key.Authority, key.MarketIndex)
	}
	s := *base
	tx.stakes[key] = &s
	return &s, nil
}

// HasStake reports whether the stake exists.
func (tx *Tx) HasStake(key StakeKey) bool {
	if _, ok := tx.stakes[key]; ok {
		return true
	}
	_, ok := tx.base.Stake(key)
	return ok
}

// InsertStake adds a new stake.
func (tx *Tx) InsertStake(s InsuranceFundStake) *InsuranceFundStake {
	tx.stakes[s.Key()] = &s
	return &s
}

// Feed returns the oracle feed registered under key.
func (tx *Tx) Feed(key types.Symbol) (*oracle.Feed, error) {
	if f, ok := tx.feeds[key]; ok {
		return f, nil
	}
	base, ok := tx.base.Feed(key)
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrInvalidOracle, "no feed %q", key.String())
	}
	f := *base
	tx.feeds[key] = &f
	return &f, nil
}

// PutFeed stores a new reading for a feed.
func (tx *Tx) PutFeed(f oracle.Feed) {
	tx.feeds[f.Key] = &f
}

// OraclePrice reads the feed behind ref without validity checks.
func (tx *Tx) OraclePrice(ref OracleRef) (oracle.PriceData, error) {
	if ref.Source == oracle.SourceQuoteAsset {
		return (&oracle.Feed{Reading: oracle.QuoteAssetReading{}}).PriceData(tx.Clock.Slot)
	}
	f, err := tx.Feed(ref.Key)
	if err != nil {
		return oracle.PriceData{}, err
	}
	if f.Reading.Source() != ref.Source {
		return oracle.PriceData{}, errorsmod.Wrapf(types.ErrInvalidOracle,
			"feed %q is %s, market expects %s", ref.Key.String(), f.Reading.Source(), ref.Source)
	}
	return f.PriceData(tx.Clock.Slot)
}

// ValidOraclePrice reads and validates the feed behind ref for purpose.
func (tx *Tx) ValidOraclePrice(ref OracleRef, purpose oracle.Purpose) (oracle.PriceData, error) {
	pd, err := tx.OraclePrice(ref)
	if err != nil {
		return pd, err
	}
	if err := tx.config.GuardRails.Validate(pd, tx.Clock.Slot, purpose); err != nil {
		return pd, err
	}
	return pd, nil
}

// RecordJournal queues a vault movement; it is stamped and applied on commit.
func (tx *Tx) RecordJournal(j ledger.Journal) {
	tx.journals = append(tx.journals, j)
}

// Journals returns the queued vault movements.
func (tx *Tx) Journals() []ledger.Journal { return tx.journals }

// AscendUsers visits every account in key order, preferring the
// transaction's copy. Accounts passed to fn must be treated as read-only.
func (tx *Tx) AscendUsers(fn func(*UserAccount) bool) {
	stopped := false
	tx.base.AscendUsers(func(u *UserAccount) bool {
		if own, ok := tx.users[u.Key()]; ok {
			u = own
		}
		if !fn(u) {
			stopped = true
			return false
		}
		return true
	})
	if stopped {
		return
	}
	var fresh []*UserAccount
	for k, u := range tx.users {
		if _, ok := tx.base.User(k); !ok {
			fresh = append(fresh, u)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Key().Less(fresh[j].Key()) })
	for _, u := range fresh {
		if !fn(u) {
			return
		}
	}
}

// ReleaseEmptySlots frees the empty position slots of every loaded account.
func (tx *Tx) ReleaseEmptySlots() {
	for _, u := range tx.users {
		u.ReleaseEmpty()
	}
}

// TouchedUsers lists the accounts loaded by this transaction in key order.
func (tx *Tx) TouchedUsers() []UserKey {
	out := make([]UserKey, 0, len(tx.users))
	for k := range tx.users {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// TouchedSpotMarkets lists the spot markets loaded by this transaction.
func (tx *Tx) TouchedSpotMarkets() []uint16 {
	out := make([]uint16, 0, len(tx.spot))
	for idx := range tx.spot {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TouchedPerpMarkets lists the perp markets loaded by this transaction.
func (tx *Tx) TouchedPerpMarkets() []uint16 {
	out := make([]uint16, 0, len(tx.perp))
	for idx := range tx.perp {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Commit writes every changed record back to the base state and returns
// them in key order.
func (tx *Tx) Commit() ([]Record, error) {
	type pending struct {
		rec Record
		v   any
	}
	var changes []pending

	consider := func(v any, base any, exists bool) error {
		rec, err := Encode(v)
		if err != nil {
			return err
		}
		if exists {
			prev, err := Encode(base)
			if err != nil {
				return err
			}
			if bytes.Equal(prev.Value, rec.Value) {
				return nil
			}
		}
		changes = append(changes, pending{rec: rec, v: v})
		return nil
	}

	cfg := tx.base.Config
	if err := consider(tx.config, &cfg, true); err != nil {
		return nil, err
	}
	for idx, m := range tx.spot {
		b, ok := tx.base.SpotMarket(idx)
		if err := consider(m, b, ok); err != nil {
			return nil, err
		}
	}
	for idx, m := range tx.perp {
		b, ok := tx.base.PerpMarket(idx)
		if err := consider(m, b, ok); err != nil {
			return nil, err
		}
	}
	for k, u := range tx.users {
		b, ok := tx.base.User(k)
		if err := consider(u, b, ok); err != nil {
			return nil, err
		}
	}
	for k, s := range tx.stats {
		b, ok := tx.base.UserStats(k)
		if err := consider(s, b, ok); err != nil {
			return nil, err
		}
	}
	for k, s := range tx.stakes {
		b, ok := tx.base.Stake(k)
		if err := consider(s, b, ok); err != nil {
			return nil, err
		}
	}
	for k, f := range tx.feeds {
		b, ok := tx.base.Feed(k)
		if err := consider(f, b, ok); err != nil {
			return nil, err
		}
	}

	sort.Slice(changes, func(i, j int) bool { return bytes.Compare(changes[i].rec.Key, changes[j].rec.Key) < 0 })
	out := make([]Record, len(changes))
	for i, c := range changes {
		if err := tx.base.Put(c.v); err != nil {
			return nil, err
		}
		out[i] = c.rec
	}
	return out, nil
}
