// Copyright (c) 2023 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

// Package protocol defines the shared plumbing of the ledger components: the
// state manager the components mutate, the context carrying block height and
// caller identity, and the capability check used for privileged operations.
package protocol

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Privileged operations subject to capability checks
const (
	// OpSetVerified marks an entity as verified
	OpSetVerified = "registry.setVerified"
	// OpSetToken binds a token to an entity
	OpSetToken = "registry.setToken"
	// OpSetLiquidityPosition binds a liquidity position to an entity
	OpSetLiquidityPosition = "registry.setLiquidityPosition"
	// OpSaveEpochRewards persists per-entity rewards into an epoch
	OpSaveEpochRewards = "epoch.saveRewards"
	// OpRecordPerformance submits performance ratings
	OpRecordPerformance = "performance.record"
	// OpFinalizeEpoch locks a fully allocated epoch
	OpFinalizeEpoch = "epoch.finalize"
	// OpForceFinalize force-finalizes a stuck epoch
	OpForceFinalize = "epoch.forceFinalize"
	// OpWithdrawPenalty withdraws an entity's withheld penalty
	OpWithdrawPenalty = "deployer.withdrawPenalty"
)

// ErrUnauthorized indicates the caller does not hold the capability for the operation
var ErrUnauthorized = errors.New("caller is not authorized for the operation")

// CapabilityCheck decides whether a caller may perform a privileged operation.
// It is a pure function of (caller, operation), injected per component at
// construction time.
type CapabilityCheck func(caller common.Address, operation string) bool

// AllowAll grants every capability, for tests and single-operator deployments
func AllowAll(common.Address, string) bool { return true }

// Assert returns ErrUnauthorized unless the check passes
func Assert(check CapabilityCheck, caller common.Address, operation string) error {
	if check == nil || !check(caller, operation) {
		return errors.Wrapf(ErrUnauthorized, "caller = %s, operation = %s", caller, operation)
	}
	return nil
}
