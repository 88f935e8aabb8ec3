package state

import (
	"bytes"
	"fmt"

	"github.com/google/btree"
	"github.com/google/uuid"

	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/types"
)

const btreeDegree = 32

// State is the committed record set. Registries are ordered so iteration,
// hashing and snapshots are deterministic. Only the core goroutine mutates
// it, through Tx.Commit.
type State struct {
	Config GlobalConfig

	spotMarkets *btree.BTreeG[*SpotMarket]
	perpMarkets *btree.BTreeG[*PerpMarket]
	users       *btree.BTreeG[*UserAccount]
	userStats   *btree.BTreeG[*UserStats]
	stakes      *btree.BTreeG[*InsuranceFundStake]
	feeds       *btree.BTreeG[*oracle.Feed]
}

// New returns an empty state with the given global config.
func New(cfg GlobalConfig) *State {
	return &State{
		Config: cfg,
		spotMarkets: btree.NewG(btreeDegree, func(a, b *SpotMarket) bool {
			return a.MarketIndex < b.MarketIndex
		}),
		perpMarkets: btree.NewG(btreeDegree, func(a, b *PerpMarket) bool {
			return a.MarketIndex < b.MarketIndex
		}),
		users: btree.NewG(btreeDegree, func(a, b *UserAccount) bool {
			return a.Key().Less(b.Key())
		}),
		userStats: btree.NewG(btreeDegree, func(a, b *UserStats) bool {
			return bytes.Compare(a.Authority[:], b.Authority[:]) < 0
		}),
		stakes: btree.NewG(btreeDegree, func(a, b *InsuranceFundStake) bool {
			return a.Key().Less(b.Key())
		}),
		feeds: btree.NewG(btreeDegree, func(a, b *oracle.Feed) bool {
			return bytes.Compare(a.Key[:], b.Key[:]) < 0
		}),
	}
}

// SpotMarket returns the committed market. Callers must not mutate it.
func (s *State) SpotMarket(idx uint16) (*SpotMarket, bool) {
	return s.spotMarkets.Get(&SpotMarket{MarketIndex: idx})
}

// PerpMarket returns the committed market. Callers must not mutate it.
func (s *State) PerpMarket(idx uint16) (*PerpMarket, bool) {
	return s.perpMarkets.Get(&PerpMarket{MarketIndex: idx})
}

// User returns the committed account. Callers must not mutate it.
func (s *State) User(key UserKey) (*UserAccount, bool) {
	return s.users.Get(&UserAccount{Authority: key.Authority, SubAccountID: key.SubAccountID})
}

// UserStats returns the committed stats for an authority.
func (s *State) UserStats(authority uuid.UUID) (*UserStats, bool) {
	return s.userStats.Get(&UserStats{Authority: authority})
}

// Stake returns the committed insurance fund stake.
func (s *State) Stake(key StakeKey) (*InsuranceFundStake, bool) {
	return s.stakes.Get(&InsuranceFundStake{Authority: key.Authority, MarketIndex: key.MarketIndex})
}

// Feed returns the committed oracle feed.
func (s *State) Feed(key types.Symbol) (*oracle.Feed, bool) {
	return s.feeds.Get(&oracle.Feed{Key: key})
}

func (s *State) AscendSpotMarkets(fn func(*SpotMarket) bool) { s.spotMarkets.Ascend(fn) }
func (s *State) AscendPerpMarkets(fn func(*PerpMarket) bool) { s.perpMarkets.Ascend(fn) }
func (s *State) AscendUsers(fn func(*UserAccount) bool)      { s.users.Ascend(fn) }
func (s *State) AscendStakes(fn func(*InsuranceFundStake) bool) {
	s.stakes.Ascend(fn)
}
func (s *State) AscendFeeds(fn func(*oracle.Feed) bool) { s.feeds.Ascend(fn) }

// Put inserts or replaces a decoded record. Used by commit and recovery.
func (s *State) Put(v any) error {
	switch r := v.(type) {
	case *GlobalConfig:
		s.Config = *r
	case *SpotMarket:
		s.spotMarkets.ReplaceOrInsert(r)
	case *PerpMarket:
		s.perpMarkets.ReplaceOrInsert(r)
	case *UserAccount:
		s.users.ReplaceOrInsert(r)
	case *UserStats:
		s.userStats.ReplaceOrInsert(r)
	case *InsuranceFundStake:
		s.stakes.ReplaceOrInsert(r)
	case *oracle.Feed:
		s.feeds.ReplaceOrInsert(r)
	default:
		return fmt.Errorf("unknown record type %T", v)
	}
	return nil
}

// Records encodes every record in key order.
func (s *State) Records() ([]Record, error) {
	var out []Record
	var err error
	add := func(v any) bool {
		var rec Record
		if rec, err = Encode(v); err != nil {
			return false
		}
		out = append(out, rec)
		return true
	}

	cfg := s.Config
	add(&cfg)
	s.feeds.Ascend(func(f *oracle.Feed) bool { return add(f) })
	s.stakes.Ascend(func(st *InsuranceFundStake) bool { return add(st) })
	s.perpMarkets.Ascend(func(m *PerpMarket) bool { return add(m) })
	s.spotMarkets.Ascend(func(m *SpotMarket) bool { return add(m) })
	s.userStats.Ascend(func(st *UserStats) bool { return add(st) })
	s.users.Ascend(func(u *UserAccount) bool { return add(u) })
	if err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

// Load rebuilds a state from encoded records.
func Load(records []Record) (*State, error) {
	s := New(GlobalConfig{})
	for _, rec := range records {
		v, err := Decode(rec)
		if err != nil {
			return nil, err
		}
		if err := s.Put(v); err != nil {
			return nil, err
		}
	}
	return s, nil
}
