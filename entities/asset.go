package entities

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const assetPrecision = 1000

// Asset is a ledger amount in thousandths, e.g. "25.000 HIVE" is {25000, "HIVE"}.
type Asset struct {
	Amount int64
	Symbol string
}

// ParseAsset accepts unsigned amounts with up to three decimals, like "25.000 HIVE" or "20 HIVE".
func ParseAsset(value string) (Asset, error) {
	parts := strings.Fields(value)
	if len(parts) != 2 {
		return Asset{}, errors.Errorf("invalid asset [%s]", value)
	}

	whole, fraction, hasFraction := strings.Cut(parts[0], ".")
	if !isDigits(whole) || (hasFraction && !isDigits(fraction)) {
		return Asset{}, errors.Errorf("invalid asset amount [%s]", value)
	}
	if len(fraction) > 3 {
		return Asset{}, errors.Errorf("invalid asset precision [%s]", value)
	}
	fraction += strings.Repeat("0", 3-len(fraction))

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return Asset{}, errors.Wrapf(err, "parsing amount [%s]", value)
	}
	thousandths, err := strconv.ParseInt(fraction, 10, 64)
	if err != nil {
		return Asset{}, errors.Wrapf(err, "parsing amount fraction [%s]", value)
	}
	return Asset{Amount: units*assetPrecision + thousandths, Symbol: parts[1]}, nil
}

// isDigits rejects signs, which strconv would otherwise accept.
func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func AssetFromUnits(units int64, symbol string) Asset {
	return Asset{Amount: units * assetPrecision, Symbol: symbol}
}

// Value is the amount without the symbol, always with three decimals.
func (a Asset) Value() string {
	return fmt.Sprintf("%d.%03d", a.Amount/assetPrecision, a.Amount%assetPrecision)
}

func (a Asset) String() string {
	return a.Value() + " " + a.Symbol
}

func (a Asset) Mul(factor int64) Asset {
	return Asset{Amount: a.Amount * factor, Symbol: a.Symbol}
}

// Sub never goes below zero.
func (a Asset) Sub(other Asset) Asset {
	return Asset{Amount: max(a.Amount-other.Amount, 0), Symbol: a.Symbol}
}

// Percent returns the share of a in whole percents, rounded down.
func (a Asset) Percent(percent int64) Asset {
	return Asset{Amount: a.Amount * percent / 100, Symbol: a.Symbol}
}

// ExceedsUnits compares against a ceiling configured in whole tokens.
func (a Asset) ExceedsUnits(units int64) bool {
	return a.Amount > units*assetPrecision
}
