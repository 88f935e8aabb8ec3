package transition

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"VAMMLedger/internal/state"
)

// ResourceKind is the record family an access touches.
type ResourceKind uint8

const (
	ResourceGlobal ResourceKind = iota
	ResourceSpotMarket
	ResourcePerpMarket
	ResourceUser
	ResourceUserStats
	ResourceStake
	ResourceFeed
)

// Any matches every record of a kind. Margin checks read every market an
// account holds, which is not known until the account is loaded.
const Any = "*"

// Resource names one record, or every record of a kind when ID is Any.
type Resource struct {
	Kind ResourceKind
	ID   string
}

func (r Resource) String() string {
	names := [...]string{"global", "spot", "perp", "user", "stats", "stake", "feed"}
	if int(r.Kind) < len(names) {
		return names[r.Kind] + ":" + r.ID
	}
	return fmt.Sprintf("resource(%d):%s", r.Kind, r.ID)
}

func (r Resource) matches(o Resource) bool {
	return r.Kind == o.Kind && (r.ID == o.ID || r.ID == Any || o.ID == Any)
}

func global() Resource { return Resource{Kind: ResourceGlobal, ID: "config"} }
func spotMarket(i uint16) Resource { return Resource{ResourceSpotMarket, strconv.Itoa(int(i))} }
func perpMarket(i uint16) Resource { return Resource{ResourcePerpMarket, strconv.Itoa(int(i))} }
func allSpot() Resource { return Resource{ResourceSpotMarket, Any} }
func allPerp() Resource { return Resource{ResourcePerpMarket, Any} }
func allFeeds() Resource { return Resource{ResourceFeed, Any} }

func user(a uuid.UUID, sub uint16) Resource {
	return Resource{ResourceUser, a.String() + "/" + strconv.Itoa(int(sub))}
}

func stats(a uuid.UUID) Resource { return Resource{ResourceUserStats, a.String()} }

func stake(a uuid.UUID, m uint16) Resource {
	return Resource{ResourceStake, a.String() + "/" + strconv.Itoa(int(m))}
}

// AccessSet is the declared read and write footprint of an instruction or
// batch. Writes imply reads.
type AccessSet struct {
	reads  map[Resource]struct{}
	writes map[Resource]struct{}
}

func (s *AccessSet) Read(rs ...Resource) {
	if s.reads == nil {
		s.reads = make(map[Resource]struct{})
	}
	for _, r := range rs {
		s.reads[r] = struct{}{}
	}
}

func (s *AccessSet) Write(rs ...Resource) {
	if s.writes == nil {
		s.writes = make(map[Resource]struct{})
	}
	for _, r := range rs {
		s.writes[r] = struct{}{}
	}
}

// Merge adds o's footprint to s.
func (s *AccessSet) Merge(o AccessSet) {
	for r := range o.reads {
		s.Read(r)
	}
	for r := range o.writes {
		s.Write(r)
	}
}

// Writes lists the written resources in a stable order.
func (s AccessSet) Writes() []Resource { return sorted(s.writes) }

// Reads lists the read-only resources in a stable order.
func (s AccessSet) Reads() []Resource {
	out := make(map[Resource]struct{}, len(s.reads))
	for r := range s.reads {
		if _, ok := s.writes[r]; !ok {
			out[r] = struct{}{}
		}
	}
	return sorted(out)
}

// Overlaps reports whether s and o conflict: either one writes a record the
// other reads or writes. Batches that do not overlap commute.
func (s AccessSet) Overlaps(o AccessSet) bool {
	return writesHit(s.writes, o) || writesHit(o.writes, s)
}

func writesHit(writes map[Resource]struct{}, o AccessSet) bool {
	for w := range writes {
		for r := range o.writes {
			if w.matches(r) {
				return true
			}
		}
		for r := range o.reads {
			if w.matches(r) {
				return true
			}
		}
	}
	return false
}

func sorted(m map[Resource]struct{}) []Resource {
	out := make([]Resource, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Access returns the footprint of the batch.
func (b *Batch) Access() AccessSet {
	var s AccessSet
	for _, in := range b.Instructions {
		s.Merge(in.Access(b.Signer))
	}
	return s
}

// Access returns the footprint of one instruction signed by signer.
func (in Instruction) Access(signer uuid.UUID) AccessSet {
	var s AccessSet
	s.Read(global())
	// every margin check may read any market and oracle the account holds
	marginReads := func() { s.Read(allSpot(), allPerp(), allFeeds()) }

	switch p := in.Params.(type) {
	case *InitializeSpotMarket:
		s.Write(global(), allSpot())
	case *InitializePerpMarket:
		s.Write(global(), perpMarket(p.MarketIndex))
		s.Read(spotMarket(state.QuoteSpotMarketIndex))
	case *UpdateK:
		s.Write(perpMarket(p.MarketIndex))
	case *RepegCurve:
		s.Write(perpMarket(p.MarketIndex))
		s.Read(allFeeds())
	case *UpdateLpCooldownTime, *UpdateInsuranceFundUnstakingPeriod, *UpdateFeeStructure,
		*UpdateLiquidationConfig, *UpdateOracleGuardRails, *UpdateAdmin:
		s.Write(global())
	case *SetOraclePrice:
		s.Write(Resource{ResourceFeed, p.Oracle.String()})
	case *InitializeUser:
		s.Write(user(signer, p.SubAccountID), stats(signer))
	case *Deposit:
		s.Write(user(signer, p.SubAccountID), stats(signer), spotMarket(p.MarketIndex))
	case *Withdraw:
		s.Write(user(signer, p.SubAccountID), spotMarket(p.MarketIndex))
		marginReads()
	case *OpenPosition:
		s.Write(user(signer, p.SubAccountID), stats(signer), perpMarket(p.MarketIndex))
		marginReads()
	case *ClosePosition:
		s.Write(user(signer, p.SubAccountID), stats(signer), perpMarket(p.MarketIndex))
		marginReads()
	case *AddLiquidity:
		s.Write(user(signer, p.SubAccountID), perpMarket(p.MarketIndex))
		marginReads()
	case *RemoveLiquidity:
		s.Write(user(signer, p.SubAccountID), perpMarket(p.MarketIndex))
		marginReads()
	case *SettleLp:
		s.Write(user(p.Authority, p.SubAccountID), perpMarket(p.MarketIndex))
	case *SettlePnl:
		s.Write(user(signer, p.SubAccountID), perpMarket(p.MarketIndex), spotMarket(state.QuoteSpotMarketIndex))
		s.Read(allFeeds())
	case *UpdateAMM:
		for _, m := range p.MarketIndexes {
			s.Write(perpMarket(m))
		}
		s.Read(allFeeds())
	case *InitializeInsuranceFundStake:
		s.Write(stake(signer, p.MarketIndex))
		s.Read(stats(signer), spotMarket(p.MarketIndex))
	case *AddInsuranceFundStake:
		s.Write(stake(signer, p.MarketIndex), stats(signer), spotMarket(p.MarketIndex))
	case *RequestRemoveInsuranceFundStake:
		s.Write(stake(signer, p.MarketIndex))
		s.Read(spotMarket(p.MarketIndex))
	case *CancelRequestRemoveInsuranceFundStake:
		s.Write(stake(signer, p.MarketIndex))
	case *RemoveInsuranceFundStake:
		s.Write(stake(signer, p.MarketIndex), stats(signer), spotMarket(p.MarketIndex))
	case *LiquidatePerp:
		s.Write(
			user(signer, p.SubAccountID),
			user(p.TargetAuthority, p.TargetSubAccountID),
			perpMarket(p.MarketIndex),
			spotMarket(state.QuoteSpotMarketIndex),
		)
		marginReads()
	}
	return s
}
