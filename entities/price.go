package entities

import (
	"math/big"

	"github.com/shopspring/decimal"
)

type PriceQuote struct {
	FeedID         string          `json:"feedId"`
	RawValue       *big.Int        `json:"rawValue"`
	Decimals       int8            `json:"decimals"`
	Timestamp      uint64          `json:"timestamp"`
	FormattedValue decimal.Decimal `json:"formattedValue"`
}

// NewPriceQuote scales the raw value by 10^-decimals. Negative decimals scale up.
func NewPriceQuote(feedID string, raw *big.Int, decimals int8, timestamp uint64) PriceQuote {
	value := new(big.Int)
	if raw != nil {
		value.Set(raw)
	}
	return PriceQuote{
		FeedID:         feedID,
		RawValue:       value,
		Decimals:       decimals,
		Timestamp:      timestamp,
		FormattedValue: decimal.NewFromBigInt(value, -int32(decimals)),
	}
}

type RandomNumber struct {
	Value     *big.Int `json:"value"`
	IsSecure  bool     `json:"isSecure"`
	Timestamp uint64   `json:"timestamp"`
}

const basisPoints = 10000

// InBonusRange reports whether the random value lands in the lowest chanceBps of 10000 buckets.
func (r RandomNumber) InBonusRange(chanceBps int64) bool {
	if r.Value == nil {
		return false
	}
	bucket := new(big.Int).Mod(r.Value, big.NewInt(basisPoints))
	return bucket.Int64() < chanceBps
}

type StrategyHint struct {
	Confidence           int      `json:"confidence"`
	Rationale            string   `json:"rationale"`
	AlternativeThreshold *float64 `json:"alternativeThreshold"`
}
