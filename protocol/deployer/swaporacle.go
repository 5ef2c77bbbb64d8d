// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package deployer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type (
	// SwapParams is the input of one slippage-bounded market operation
	SwapParams struct {
		// SourceAmount is the base-asset amount offered to the swap
		SourceAmount *big.Int
		// LiquidityPositionID selects the entity's market venue
		LiquidityPositionID uint64
		// RewardPercentage is the share of the source routed into the entity token purchase
		RewardPercentage *big.Int
		// MaxSlippagePercentage bounds the accepted price impact
		MaxSlippagePercentage *big.Int
		// RewardRecipient receives the purchased entity tokens
		RewardRecipient common.Address
		// SpareRecipient receives any unspent remainder
		SpareRecipient common.Address
	}

	// SwapResult reports the realized amounts of a swap. Partial fills are
	// valid; the unspent remainders come back as spare amounts.
	SwapResult struct {
		TokenRewardAmount *big.Int
		SpareToken        *big.Int
		SpareSource       *big.Int
		UsedSourceAmount  *big.Int
	}

	// SwapOracle is the opaque priced-exchange venue. Synchronous and
	// all-or-nothing: an error means nothing was executed. The core only
	// validates the returned amounts against its own bookkeeping.
	SwapOracle interface {
		SplitRewardSwap(ctx context.Context, params *SwapParams) (*SwapResult, error)
	}
)
