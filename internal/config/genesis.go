package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/transition"
	"VAMMLedger/internal/types"
)

// genesisNamespace derives the genesis batch id from the file contents, so
// re-applying the same genesis is a duplicate rather than a second batch.
var genesisNamespace = uuid.MustParse("6f1c7f1e-4f5a-4a52-9b1e-0d7a3c4e9a10")

// Genesis is the decoded genesis file. Fractions and prices are decimal
// strings ("0.001", "101.25") and are scaled to the ledger's fixed-point
// precision when the config and batch are built.
type Genesis struct {
	Admin           uuid.UUID           `toml:"admin"`
	OracleAuthority uuid.UUID           `toml:"oracle_authority"`
	Clock           GenesisClock        `toml:"clock"`
	Params          GenesisParams       `toml:"params"`
	Oracles         []GenesisOracle     `toml:"oracles"`
	SpotMarkets     []GenesisSpotMarket `toml:"spot_markets"`
	PerpMarkets     []GenesisPerpMarket `toml:"perp_markets"`

	raw  []byte
	meta toml.MetaData
}

type GenesisClock struct {
	Slot          uint64 `toml:"slot"`
	UnixTimestamp int64  `toml:"unix_timestamp"`
}

// GenesisParams override state.DefaultGlobalConfig. Keys left out keep
// the default.
type GenesisParams struct {
	LpCooldownSlots              uint64          `toml:"lp_cooldown_slots"`
	InsuranceFundUnstakingPeriod int64           `toml:"insurance_fund_unstaking_period"` // seconds
	TakerFee                     decimal.Decimal `toml:"taker_fee"`
	LiquidatorDiscount           decimal.Decimal `toml:"liquidator_discount"`
	DrawdownOrder                []string        `toml:"drawdown_order"`
	MaxSlotsStaleForAmm          uint64          `toml:"max_slots_stale_for_amm"`
	MaxSlotsStaleForMargin       uint64          `toml:"max_slots_stale_for_margin"`
	ConfidenceIntervalMaxSize    decimal.Decimal `toml:"confidence_interval_max_size"`
	MaxKChange                   decimal.Decimal `toml:"max_k_change"`
	MaxPegChange                 decimal.Decimal `toml:"max_peg_change"`
	RepegOracleBand              decimal.Decimal `toml:"repeg_oracle_band"`
}

// GenesisOracle is an initial reading for a pushed feed.
type GenesisOracle struct {
	Key        string          `toml:"key"`
	Source     string          `toml:"source"`
	Price      decimal.Decimal `toml:"price"`
	Confidence decimal.Decimal `toml:"confidence"`
	MaxPrice   decimal.Decimal `toml:"max_price"`
}

// GenesisSpotMarket is listed in index order; the first is the quote market.
type GenesisSpotMarket struct {
	Mint                       string          `toml:"mint"`
	Decimals                   uint32          `toml:"decimals"`
	Oracle                     string          `toml:"oracle"`
	OracleSource               string          `toml:"oracle_source"`
	OptimalUtilization         decimal.Decimal `toml:"optimal_utilization"`
	OptimalBorrowRate          decimal.Decimal `toml:"optimal_borrow_rate"`
	MaxBorrowRate              decimal.Decimal `toml:"max_borrow_rate"`
	InitialAssetWeight         decimal.Decimal `toml:"initial_asset_weight"`
	MaintenanceAssetWeight     decimal.Decimal `toml:"maintenance_asset_weight"`
	InitialLiabilityWeight     decimal.Decimal `toml:"initial_liability_weight"`
	MaintenanceLiabilityWeight decimal.Decimal `toml:"maintenance_liability_weight"`
}

// GenesisPerpMarket is listed in index order. Reserves and step size are
// in base units, peg is a price multiplier.
type GenesisPerpMarket struct {
	Oracle                 string          `toml:"oracle"`
	OracleSource           string          `toml:"oracle_source"`
	BaseAssetReserve       decimal.Decimal `toml:"base_asset_reserve"`
	QuoteAssetReserve      decimal.Decimal `toml:"quote_asset_reserve"`
	Peg                    decimal.Decimal `toml:"peg"`
	FundingPeriod          int64           `toml:"funding_period"`
	MarginRatioInitial     decimal.Decimal `toml:"margin_ratio_initial"`
	MarginRatioMaintenance decimal.Decimal `toml:"margin_ratio_maintenance"`
	OrderStepSize          decimal.Decimal `toml:"order_step_size"`
}

// LoadGenesis reads and decodes a genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	g, err := ParseGenesis(data)
	if err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	return g, nil
}

// ParseGenesis decodes genesis TOML. Unknown keys are rejected.
func ParseGenesis(data []byte) (*Genesis, error) {
	g := &Genesis{raw: append([]byte(nil), data...)}
	meta, err := toml.Decode(string(data), g)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	g.meta = meta
	return g, nil
}

func (g *Genesis) param(key string) bool {
	return g.meta.IsDefined("params", key)
}

// GlobalConfig builds the initial global record. Market counts start at
// zero; the genesis batch creates the markets.
func (g *Genesis) GlobalConfig() (state.GlobalConfig, error) {
	if g.Admin == uuid.Nil {
		return state.GlobalConfig{}, errors.New("admin must be set")
	}
	cfg := state.DefaultGlobalConfig(g.Admin)
	if g.OracleAuthority != uuid.Nil {
		cfg.OracleAuthority = g.OracleAuthority
	}
	p := g.Params
	if g.param("lp_cooldown_slots") {
		cfg.LpCooldownSlots = p.LpCooldownSlots
	}
	if g.param("insurance_fund_unstaking_period") {
		cfg.InsuranceFundUnstakingPeriod = p.InsuranceFundUnstakingPeriod
	}
	if g.param("max_slots_stale_for_amm") {
		cfg.GuardRails.MaxSlotsStaleForAmm = p.MaxSlotsStaleForAmm
	}
	if g.param("max_slots_stale_for_margin") {
		cfg.GuardRails.MaxSlotsStaleForMargin = p.MaxSlotsStaleForMargin
	}
	if g.param("drawdown_order") {
		if len(p.DrawdownOrder) > len(cfg.Liquidation.DrawdownOrder) {
			return cfg, fmt.Errorf("params.drawdown_order lists %d sources, max %d", len(p.DrawdownOrder), len(cfg.Liquidation.DrawdownOrder))
		}
		cfg.Liquidation.DrawdownOrder = [2]state.DrawdownSource{}
		for i, name := range p.DrawdownOrder {
			src, err := state.ParseDrawdownSource(name)
			if err != nil {
				return cfg, fmt.Errorf("params.drawdown_order: %w", err)
			}
			cfg.Liquidation.DrawdownOrder[i] = src
		}
	}

	fractions := []struct {
		key string
		src decimal.Decimal
		dst *int64
	}{
		{"taker_fee", p.TakerFee, &cfg.Fees.TakerFee},
		{"liquidator_discount", p.LiquidatorDiscount, &cfg.Liquidation.LiquidatorDiscount},
		{"confidence_interval_max_size", p.ConfidenceIntervalMaxSize, &cfg.GuardRails.ConfidenceIntervalMaxSize},
		{"max_k_change", p.MaxKChange, &cfg.Curve.MaxKChange},
		{"max_peg_change", p.MaxPegChange, &cfg.Curve.MaxPegChange},
		{"repeg_oracle_band", p.RepegOracleBand, &cfg.Curve.RepegOracleBand},
	}
	for _, f := range fractions {
		if !g.param(f.key) {
			continue
		}
		v, err := Fixed(f.src, fp.PercentagePrecision)
		if err != nil {
			return cfg, fmt.Errorf("params.%s: %w", f.key, err)
		}
		*f.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("params: %w", err)
	}
	return cfg, nil
}

// Batch builds the admin batch that creates the genesis markets and
// pushes the initial oracle readings, signed by the admin at the genesis
// clock.
func (g *Genesis) Batch() (*transition.Batch, error) {
	var ins []transition.Instruction
	add := func(kind transition.Kind, params any) error {
		in, err := transition.New(kind, params)
		if err != nil {
			return err
		}
		ins = append(ins, in)
		return nil
	}

	for i, m := range g.SpotMarkets {
		p, err := m.params(i)
		if err != nil {
			return nil, fmt.Errorf("spot_markets[%d]: %w", i, err)
		}
		if err := add(transition.KindInitializeSpotMarket, p); err != nil {
			return nil, err
		}
	}
	for i, m := range g.PerpMarkets {
		p, err := m.params(uint16(i))
		if err != nil {
			return nil, fmt.Errorf("perp_markets[%d]: %w", i, err)
		}
		if err := add(transition.KindInitializePerpMarket, p); err != nil {
			return nil, err
		}
	}
	for i, o := range g.Oracles {
		p, err := o.params()
		if err != nil {
			return nil, fmt.Errorf("oracles[%d]: %w", i, err)
		}
		if err := add(transition.KindSetOraclePrice, p); err != nil {
			return nil, err
		}
	}

	b := &transition.Batch{
		BatchID:      uuid.NewSHA1(genesisNamespace, g.raw),
		Signer:       g.Admin,
		Clock:        state.Clock{Slot: g.Clock.Slot, UnixTimestamp: g.Clock.UnixTimestamp},
		Instructions: ins,
	}
	if len(ins) == 0 {
		return nil, errors.New("genesis creates no markets")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate builds the global config and the genesis batch.
func (g *Genesis) Validate() error {
	if _, err := g.GlobalConfig(); err != nil {
		return err
	}
	_, err := g.Batch()
	return err
}

func (m GenesisSpotMarket) params(idx int) (*transition.InitializeSpotMarket, error) {
	mint, err := types.NewSymbol(m.Mint)
	if err != nil {
		return nil, fmt.Errorf("mint: %w", err)
	}
	src, err := oracle.ParseSource(m.OracleSource)
	if err != nil {
		return nil, err
	}
	if (idx == int(state.QuoteSpotMarketIndex)) != (src == oracle.SourceQuoteAsset) {
		return nil, fmt.Errorf("only the first spot market is priced by %s", oracle.SourceQuoteAsset)
	}
	p := &transition.InitializeSpotMarket{Mint: mint, Decimals: m.Decimals, OracleSource: src}
	if src != oracle.SourceQuoteAsset {
		if p.Oracle, err = types.NewSymbol(m.Oracle); err != nil {
			return nil, fmt.Errorf("oracle: %w", err)
		}
	}
	fields := []struct {
		name      string
		src       decimal.Decimal
		precision int64
		dst       *int64
	}{
		{"optimal_utilization", m.OptimalUtilization, fp.SpotUtilizationPrecision, &p.OptimalUtilization},
		{"optimal_borrow_rate", m.OptimalBorrowRate, fp.SpotRatePrecision, &p.OptimalBorrowRate},
		{"max_borrow_rate", m.MaxBorrowRate, fp.SpotRatePrecision, &p.MaxBorrowRate},
		{"initial_asset_weight", m.InitialAssetWeight, fp.SpotWeightPrecision, &p.InitialAssetWeight},
		{"maintenance_asset_weight", m.MaintenanceAssetWeight, fp.SpotWeightPrecision, &p.MaintenanceAssetWeight},
		{"initial_liability_weight", m.InitialLiabilityWeight, fp.SpotWeightPrecision, &p.InitialLiabilityWeight},
		{"maintenance_liability_weight", m.MaintenanceLiabilityWeight, fp.SpotWeightPrecision, &p.MaintenanceLiabilityWeight},
	}
	for _, f := range fields {
		if *f.dst, err = Fixed(f.src, f.precision); err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return p, nil
}

func (m GenesisPerpMarket) params(idx uint16) (*transition.InitializePerpMarket, error) {
	key, err := types.NewSymbol(m.Oracle)
	if err != nil {
		return nil, fmt.Errorf("oracle: %w", err)
	}
	src, err := oracle.ParseSource(m.OracleSource)
	if err != nil {
		return nil, err
	}
	if src == oracle.SourceQuoteAsset {
		return nil, fmt.Errorf("perp markets cannot be priced by %s", src)
	}
	p := &transition.InitializePerpMarket{
		MarketIndex:   idx,
		Oracle:        key,
		OracleSource:  src,
		FundingPeriod: m.FundingPeriod,
	}
	fields := []struct {
		name      string
		src       decimal.Decimal
		precision int64
		dst       *int64
	}{
		{"base_asset_reserve", m.BaseAssetReserve, fp.AmmReservePrecision, &p.BaseAssetReserve},
		{"quote_asset_reserve", m.QuoteAssetReserve, fp.AmmReservePrecision, &p.QuoteAssetReserve},
		{"peg", m.Peg, fp.PegPrecision, &p.PegMultiplier},
		{"margin_ratio_initial", m.MarginRatioInitial, fp.MarginPrecision, &p.MarginRatioInitial},
		{"margin_ratio_maintenance", m.MarginRatioMaintenance, fp.MarginPrecision, &p.MarginRatioMaintenance},
		{"order_step_size", m.OrderStepSize, fp.BasePrecision, &p.OrderStepSize},
	}
	for _, f := range fields {
		if *f.dst, err = Fixed(f.src, f.precision); err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return p, nil
}

// params encodes the reading at PricePrecision for every pushed source.
func (o GenesisOracle) params() (*transition.SetOraclePrice, error) {
	key, err := types.NewSymbol(o.Key)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	src, err := oracle.ParseSource(o.Source)
	if err != nil {
		return nil, err
	}
	price, err := Fixed(o.Price, fp.PricePrecision)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	conf, err := Fixed(o.Confidence, fp.PricePrecision)
	if err != nil {
		return nil, fmt.Errorf("confidence: %w", err)
	}
	p := &transition.SetOraclePrice{Oracle: key, Source: src, Price: price, Confidence: conf}
	switch src {
	case oracle.SourcePyth, oracle.SourcePyth1K:
		p.Expo = -6
	case oracle.SourceSwitchboard:
		p.Scale = 6
	case oracle.SourcePrelaunch:
		if p.MaxPrice, err = Fixed(o.MaxPrice, fp.PricePrecision); err != nil {
			return nil, fmt.Errorf("max_price: %w", err)
		}
	default:
		return nil, fmt.Errorf("no reading can be pushed for %s", src)
	}
	return p, nil
}

// Fixed scales d by precision. Values that do not fit exactly are
// rejected rather than rounded.
func Fixed(d decimal.Decimal, precision int64) (int64, error) {
	scaled := d.Mul(decimal.NewFromInt(precision))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%s has more precision than 1/%d", d, precision)
	}
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || scaled.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("%s overflows at precision %d", d, precision)
	}
	return scaled.IntPart(), nil
}
