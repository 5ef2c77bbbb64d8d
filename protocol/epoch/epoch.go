// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package epoch

// NumFromBlock returns the epoch number covering the given block height
func NumFromBlock(height uint64, epochLength uint64) uint64 {
	if height == 0 {
		return 0
	}
	return (height-1)/epochLength + 1
}

// StartBlock returns the epoch start block height
func StartBlock(epochNum uint64, epochLength uint64) uint64 {
	if epochNum == 0 {
		return 0
	}
	return (epochNum-1)*epochLength + 1
}

// EndBlock returns the epoch last block height
func EndBlock(epochNum uint64, epochLength uint64) uint64 {
	if epochNum == 0 {
		return 0
	}
	return epochNum * epochLength
}
