package state

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/types"
)

// Record key prefixes. Keys sort by prefix first, so each record kind
// occupies its own contiguous range.
const (
	PrefixGlobal     byte = 'g'
	PrefixFeed       byte = 'o'
	PrefixStake      byte = 'i'
	PrefixPerpMarket byte = 'p'
	PrefixSpotMarket byte = 's'
	PrefixUserStats  byte = 't'
	PrefixUser       byte = 'u'
)

// Record is the canonical key/value form of one entity. Values are the
// little-endian fixed layout of the record; they double as hash input.
type Record struct {
	Key   []byte
	Value []byte
}

func GlobalKey() []byte { return []byte{PrefixGlobal} }

func SpotMarketKey(idx uint16) []byte { return u16Key(PrefixSpotMarket, idx) }

func PerpMarketKey(idx uint16) []byte { return u16Key(PrefixPerpMarket, idx) }

func UserRecordKey(k UserKey) []byte {
	b := make([]byte, 0, 19)
	b = append(b, PrefixUser)
	b = append(b, k.Authority[:]...)
	return binary.BigEndian.AppendUint16(b, k.SubAccountID)
}

func UserStatsKey(authority uuid.UUID) []byte {
	return append([]byte{PrefixUserStats}, authority[:]...)
}

func StakeRecordKey(k StakeKey) []byte {
	b := make([]byte, 0, 19)
	b = append(b, PrefixStake)
	b = append(b, k.Authority[:]...)
	return binary.BigEndian.AppendUint16(b, k.MarketIndex)
}

func FeedKey(key types.Symbol) []byte {
	return append([]byte{PrefixFeed}, key[:]...)
}

// big-endian so byte order matches numeric order
func u16Key(prefix byte, idx uint16) []byte {
	return binary.BigEndian.AppendUint16([]byte{prefix}, idx)
}

// Encode serializes a record pointer into its canonical form.
func Encode(v any) (Record, error) {
	var key []byte
	var body any = v
	switch r := v.(type) {
	case *GlobalConfig:
		key = GlobalKey()
	case *SpotMarket:
		key = SpotMarketKey(r.MarketIndex)
	case *PerpMarket:
		key = PerpMarketKey(r.MarketIndex)
	case *UserAccount:
		key = UserRecordKey(r.Key())
	case *UserStats:
		key = UserStatsKey(r.Authority)
	case *InsuranceFundStake:
		key = StakeRecordKey(r.Key())
	case *oracle.Feed:
		val, err := encodeFeed(r)
		if err != nil {
			return Record{}, err
		}
		return Record{Key: FeedKey(r.Key), Value: val}, nil
	default:
		return Record{}, fmt.Errorf("unknown record type %T", v)
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, body); err != nil {
		return Record{}, fmt.Errorf("encode %T: %w", v, err)
	}
	return Record{Key: key, Value: buf.Bytes()}, nil
}

// Decode parses a record produced by Encode.
func Decode(rec Record) (any, error) {
	if len(rec.Key) == 0 {
		return nil, fmt.Errorf("empty record key")
	}
	var v any
	switch rec.Key[0] {
	case PrefixGlobal:
		v = new(GlobalConfig)
	case PrefixSpotMarket:
		v = new(SpotMarket)
	case PrefixPerpMarket:
		v = new(PerpMarket)
	case PrefixUser:
		v = new(UserAccount)
	case PrefixUserStats:
		v = new(UserStats)
	case PrefixStake:
		v = new(InsuranceFundStake)
	case PrefixFeed:
		return decodeFeed(rec)
	default:
		return nil, fmt.Errorf("unknown record prefix %q", rec.Key[0])
	}
	if err := binary.Read(bytes.NewReader(rec.Value), binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

func encodeFeed(f *oracle.Feed) ([]byte, error) {
	if f.Reading == nil {
		return nil, fmt.Errorf("feed %s has no reading", f.Key)
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(f.Reading.Source()))
	var err error
	switch r := f.Reading.(type) {
	case oracle.PythReading:
		err = binary.Write(&buf, binary.LittleEndian, r)
	case oracle.SwitchboardReading:
		err = binary.Write(&buf, binary.LittleEndian, r)
	case oracle.PrelaunchReading:
		err = binary.Write(&buf, binary.LittleEndian, r)
	case oracle.QuoteAssetReading:
	default:
		err = fmt.Errorf("unknown reading %T", r)
	}
	if err != nil {
		return nil, fmt.Errorf("encode feed %s: %w", f.Key, err)
	}
	return buf.Bytes(), nil
}

func decodeFeed(rec Record) (*oracle.Feed, error) {
	if len(rec.Key) != 33 || len(rec.Value) == 0 {
		return nil, fmt.Errorf("malformed feed record")
	}
	f := &oracle.Feed{}
	copy(f.Key[:], rec.Key[1:])
	r := bytes.NewReader(rec.Value[1:])
	var err error
	switch oracle.Source(rec.Value[0]) {
	case oracle.SourcePyth, oracle.SourcePyth1K:
		var p oracle.PythReading
		err = binary.Read(r, binary.LittleEndian, &p)
		f.Reading = p
	case oracle.SourceSwitchboard:
		var s oracle.SwitchboardReading
		err = binary.Read(r, binary.LittleEndian, &s)
		f.Reading = s
	case oracle.SourcePrelaunch:
		var p oracle.PrelaunchReading
		err = binary.Read(r, binary.LittleEndian, &p)
		f.Reading = p
	case oracle.SourceQuoteAsset:
		f.Reading = oracle.QuoteAssetReading{}
	default:
		err = fmt.Errorf("unknown source %d", rec.Value[0])
	}
	if err != nil {
		return nil, fmt.Errorf("decode feed %s: %w", f.Key, err)
	}
	return f, nil
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return bytes.Compare(recs[i].Key, recs[j].Key) < 0 })
}
