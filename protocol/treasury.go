// Copyright (c) 2023 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package protocol

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Treasury is the external custodian of pooled funds. The core only moves
// settled funds through this narrow interface; a failure must abort the
// enclosing operation.
type Treasury interface {
	// Transfer moves the given amount of the asset to the recipient
	Transfer(ctx context.Context, recipient common.Address, asset common.Address, amount *big.Int) error
}
