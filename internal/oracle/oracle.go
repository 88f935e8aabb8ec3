// Package oracle models the price readings the ledger consumes. Feeds are
// pushed in by the host; the ledger never fetches prices itself.
package oracle

import (
	"fmt"
	"strings"

	errorsmod "cosmossdk.io/errors"

	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/types"
)

// Source identifies how a feed encodes its reading.
type Source uint8

const (
	SourcePyth Source = iota
	SourcePyth1K
	SourceSwitchboard
	SourceQuoteAsset
	SourcePrelaunch
)

var sourceNames = map[Source]string{
	SourcePyth:        "pyth",
	SourcePyth1K:      "pyth_1k",
	SourceSwitchboard: "switchboard",
	SourceQuoteAsset:  "quote_asset",
	SourcePrelaunch:   "prelaunch",
}

func (s Source) String() string {
	if n, ok := sourceNames[s]; ok {
		return n
	}
	return fmt.Sprintf("source(%d)", uint8(s))
}

// ParseSource maps a wire name onto a Source.
func ParseSource(name string) (Source, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range sourceNames {
		if n == name {
			return s, nil
		}
	}
	return 0, errorsmod.Wrapf(types.ErrInvalidOracle, "unknown oracle source %q", name)
}

func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Source) UnmarshalText(b []byte) error {
	v, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PriceData is the uniform view of any reading, in PricePrecision.
type PriceData struct {
	Price      int64
	Confidence int64
	Slot       uint64
	Timestamp  int64
}

// Reading is one of PythReading, SwitchboardReading, PrelaunchReading or
// QuoteAssetReading.
type Reading interface {
	Source() Source
	priceData(clockSlot uint64) (PriceData, error)
}

// PythReading is price * 10^expo. The 1K variant quotes per thousand units.
type PythReading struct {
	Price       int64
	Confidence  uint64
	Expo        int32
	PublishSlot uint64
	PublishTime int64
	Per1K       bool
}

func (r PythReading) Source() Source {
	if r.Per1K {
		return SourcePyth1K
	}
	return SourcePyth
}

func (r PythReading) priceData(uint64) (PriceData, error) {
	price, err := rescale(r.Price, r.Expo)
	if err != nil {
		return PriceData{}, err
	}
	conf, err := rescale(int64(r.Confidence), r.Expo)
	if err != nil {
		return PriceData{}, err
	}
	if r.Per1K {
		price /= 1000
		conf /= 1000
	}
	return PriceData{Price: price, Confidence: conf, Slot: r.PublishSlot, Timestamp: r.PublishTime}, nil
}

// SwitchboardReading is mantissa / 10^scale.
type SwitchboardReading struct {
	Mantissa      int64
	Scale         uint32
	StdDeviation  int64
	RoundOpenSlot uint64
	RoundOpenTs   int64
}

func (r SwitchboardReading) Source() Source { return SourceSwitchboard }

func (r SwitchboardReading) priceData(uint64) (PriceData, error) {
	if r.Scale > 18 {
		return PriceData{}, errorsmod.Wrapf(types.ErrInvalidOracle, "switchboard scale %d", r.Scale)
	}
	price, err := rescale(r.Mantissa, -int32(r.Scale))
	if err != nil {
		return PriceData{}, err
	}
	conf, err := rescale(r.StdDeviation, -int32(r.Scale))
	if err != nil {
		return PriceData{}, err
	}
	return PriceData{Price: price, Confidence: conf, Slot: r.RoundOpenSlot, Timestamp: r.RoundOpenTs}, nil
}

// PrelaunchReading is an admin-set price already in PricePrecision.
type PrelaunchReading struct {
	Price          int64
	MaxPrice       int64
	LastUpdateSlot uint64
	LastUpdateTs   int64
}

func (r PrelaunchReading) Source() Source { return SourcePrelaunch }

func (r PrelaunchReading) priceData(uint64) (PriceData, error) {
	price := r.Price
	if r.MaxPrice > 0 && price > r.MaxPrice {
		price = r.MaxPrice
	}
	return PriceData{Price: price, Slot: r.LastUpdateSlot, Timestamp: r.LastUpdateTs}, nil
}

// QuoteAssetReading prices the quote asset at exactly 1. It is never stale.
type QuoteAssetReading struct{}

func (QuoteAssetReading) Source() Source { return SourceQuoteAsset }

func (QuoteAssetReading) priceData(clockSlot uint64) (PriceData, error) {
	return PriceData{Price: fp.PricePrecision, Slot: clockSlot}, nil
}

// Key names a feed.
type Key = types.Symbol

// Feed is the stored state of one oracle.
type Feed struct {
	Key     Key
	Reading Reading
}

// PriceData returns the reading normalized to PricePrecision.
func (f *Feed) PriceData(clockSlot uint64) (PriceData, error) {
	if f.Reading == nil {
		return PriceData{}, errorsmod.Wrap(types.ErrInvalidOracle, "feed has no reading")
	}
	return f.Reading.priceData(clockSlot)
}

// rescale converts v * 10^expo into PricePrecision (1e6).
func rescale(v int64, expo int32) (int64, error) {
	shift := 6 + int(expo)
	switch {
	case shift == 0:
		return v, nil
	case shift > 0:
		if shift > 18 {
			return 0, errorsmod.Wrapf(types.ErrInvalidOracle, "exponent %d out of range", expo)
		}
		out, err := fp.MulDiv(v, fp.Pow10(shift), 1, fp.RoundDown)
		if err != nil {
			return 0, types.Overflow(err, "oracle rescale")
		}
		return out, nil
	default:
		if -shift > 18 {
			return 0, nil
		}
		return v / fp.Pow10(-shift), nil
	}
}
