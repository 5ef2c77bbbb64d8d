// Copyright (c) 2023 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package unit

import (
	"math/big"
)

const (
	// Wei is the smallest unit of the settlement currency
	Wei int64 = 1
	// KWei is 1000 Wei
	KWei = KiloUnit * Wei
	// MWei is 1000 KWei
	MWei = KiloUnit * KWei
	// GWei is 1000 MWei
	GWei = KiloUnit * MWei
	// Micro is 1000 GWei
	Micro = KiloUnit * GWei
	// Milli is 1000 Micro
	Milli = KiloUnit * Micro
	// Token is 1000 Milli, the standard unit on the 1e18 scale
	Token = KiloUnit * Milli

	// KiloUnit is used to convert between adjacent units
	KiloUnit = 1000
)

// OneHundredPercent is the percentage scale: 1e18 means 100%
var OneHundredPercent = big.NewInt(Token)

// ConvertTokenToWei converts a whole-token amount to the 1e18 base scale
func ConvertTokenToWei(amount int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(amount), big.NewInt(Token))
}

// PercentageOf computes amount * pct / 1e18, truncated
func PercentageOf(amount, pct *big.Int) *big.Int {
	return new(big.Int).Div(new(big.Int).Mul(amount, pct), OneHundredPercent)
}

// ValidPercentage returns true if pct lies in (0, 1e18]
func ValidPercentage(pct *big.Int) bool {
	return pct != nil && pct.Sign() > 0 && pct.Cmp(OneHundredPercent) <= 0
}
