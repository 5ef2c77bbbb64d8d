// Copyright (c) 2023 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package unit

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConvertTokenToWei(t *testing.T) {
	require := require.New(t)

	require.Equal(big.NewInt(Token), ConvertTokenToWei(1))
	expected, ok := new(big.Int).SetString("1000000000000000000000", 10)
	require.True(ok)
	require.Equal(expected, ConvertTokenToWei(1000))
}

func TestPercentageOf(t *testing.T) {
	require := require.New(t)

	// 60% of 1000 tokens
	pct, ok := new(big.Int).SetString("600000000000000000", 10)
	require.True(ok)
	require.Equal(ConvertTokenToWei(600), PercentageOf(ConvertTokenToWei(1000), pct))
	// truncation
	require.Equal(big.NewInt(0), PercentageOf(big.NewInt(1), big.NewInt(1)))
	// 100%
	require.Equal(ConvertTokenToWei(7), PercentageOf(ConvertTokenToWei(7), OneHundredPercent))
}

func TestValidPercentage(t *testing.T) {
	require := require.New(t)

	require.False(ValidPercentage(nil))
	require.False(ValidPercentage(big.NewInt(0)))
	require.False(ValidPercentage(new(big.Int).Neg(big.NewInt(1))))
	require.True(ValidPercentage(big.NewInt(1)))
	require.True(ValidPercentage(OneHundredPercent))
	require.False(ValidPercentage(new(big.Int).Add(OneHundredPercent, big.NewInt(1))))
}
