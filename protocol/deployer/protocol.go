// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

// Package deployer converts finalized per-entity rewards into the entity's own
// token through staged, slippage-bounded market operations, and tracks the
// append-only tranche ledger plus the withheld-penalty withdrawals.
package deployer

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dlp-protocol/dlp-core/pkg/log"
	"github.com/dlp-protocol/dlp-core/pkg/unit"
	"github.com/dlp-protocol/dlp-core/pkg/util/byteutil"
	"github.com/dlp-protocol/dlp-core/protocol"
	"github.com/dlp-protocol/dlp-core/protocol/dlpregistry"
	"github.com/dlp-protocol/dlp-core/protocol/epoch"
	"github.com/dlp-protocol/dlp-core/state"

	"github.com/ethereum/go-ethereum/common"
)

// Namespace is the state namespace of the reward deployer
const Namespace = "Deployer"

var _deploymentKeyPrefix = []byte("deploy")

// Errors
var (
	// ErrInvalidRewardPercentage indicates a reward percentage outside (0, 1e18]
	ErrInvalidRewardPercentage = errors.New("invalid reward percentage")
	// ErrInvalidSlippagePercentage indicates a slippage bound outside (0, 1e18]
	ErrInvalidSlippagePercentage = errors.New("invalid slippage percentage")
	// ErrEpochNotFinalized indicates distribution against an open epoch
	ErrEpochNotFinalized = errors.New("epoch is not finalized")
	// ErrNothingToDistribute indicates an exhausted schedule or zero remaining reward
	ErrNothingToDistribute = errors.New("nothing left to distribute")
	// ErrInvalidSwapResult indicates the oracle's amounts fail bookkeeping validation
	ErrInvalidSwapResult = errors.New("invalid swap result")
	// ErrTrancheExceedsReward guards the finalized reward cap
	ErrTrancheExceedsReward = errors.New("tranche exceeds finalized reward")
)

type (
	// RegistryReader is the view of the registry the deployer needs
	RegistryReader interface {
		Entity(protocol.StateReader, uint64) (*dlpregistry.Entity, error)
	}

	// Tranche is one executed disbursement. Tranches are appended, never
	// mutated or removed; they form the audit trail.
	Tranche struct {
		RequestedAmount   *big.Int
		Block             uint64
		TokenRewardAmount *big.Int
		SpareToken        *big.Int
		SpareSource       *big.Int
		UsedSourceAmount  *big.Int
	}

	// Deployment is the per (epoch, entity) distribution state. TotalDistributed
	// is authoritative over, and equal to, the sum of tranche used amounts.
	Deployment struct {
		TranchesExecuted      uint64
		TotalDistributed      *big.Int
		TotalPenaltyWithdrawn *big.Int
		Tranches              []Tranche
	}

	// Config carries the deployer parameters
	Config struct {
		// NumTranches is the number of disbursements a reward is split into
		NumTranches uint64
		// RewardPercentage is the share of each tranche routed into the token purchase
		RewardPercentage *big.Int
		// MaxSlippagePercentage bounds the accepted price impact per tranche
		MaxSlippagePercentage *big.Int
		// BaseAsset is the settlement asset rewards are denominated in
		BaseAsset common.Address
		// SparePoolAddress receives unspent swap remainders for manual re-sweep
		SparePoolAddress common.Address
	}

	// Protocol implements the reward deployer
	Protocol struct {
		cfg      Config
		registry RegistryReader
		epochs   *epoch.Protocol
		treasury protocol.Treasury
		oracle   SwapOracle
		check    protocol.CapabilityCheck
	}
)

// NewProtocol instantiates the reward deployer
func NewProtocol(
	cfg Config,
	registry RegistryReader,
	epochs *epoch.Protocol,
	treasury protocol.Treasury,
	oracle SwapOracle,
	check protocol.CapabilityCheck,
) *Protocol {
	return &Protocol{
		cfg:      cfg,
		registry: registry,
		epochs:   epochs,
		treasury: treasury,
		oracle:   oracle,
		check:    check,
	}
}

func deploymentKey(epochNum, entityID uint64) []byte {
	k := append(_deploymentKeyPrefix, byteutil.Uint64ToBytes(epochNum)...)
	return append(k, byteutil.Uint64ToBytes(entityID)...)
}

func (d *Deployment) normalize() {
	if d.TotalDistributed == nil {
		d.TotalDistributed = big.NewInt(0)
	}
	if d.TotalPenaltyWithdrawn == nil {
		d.TotalPenaltyWithdrawn = big.NewInt(0)
	}
}

// validateConfig rejects out-of-range parameters before any external call is
// attempted, so a bad configuration cannot waste a swap attempt
func (p *Protocol) validateConfig() error {
	if !unit.ValidPercentage(p.cfg.RewardPercentage) {
		return errors.Wrapf(ErrInvalidRewardPercentage, "rewardPercentage = %v", p.cfg.RewardPercentage)
	}
	if !unit.ValidPercentage(p.cfg.MaxSlippagePercentage) {
		return errors.Wrapf(ErrInvalidSlippagePercentage, "maxSlippagePercentage = %v", p.cfg.MaxSlippagePercentage)
	}
	if p.cfg.NumTranches == 0 {
		return errors.New("tranche count must be positive")
	}
	return nil
}

// DistributeRewards executes the next tranche of each listed entity's payout
// schedule for a finalized epoch. Distribution order across entities is
// caller-specified; any failure aborts the whole operation with no tranche
// recorded. Retries are the caller's responsibility.
func (p *Protocol) DistributeRewards(ctx context.Context, sm protocol.StateManager, epochNum uint64, entityIDs []uint64) error {
	blkCtx := protocol.MustGetBlockCtx(ctx)
	if err := p.validateConfig(); err != nil {
		return err
	}
	finalized, err := p.epochs.IsFinalized(sm, epochNum)
	if err != nil {
		return err
	}
	if !finalized {
		return errors.Wrapf(ErrEpochNotFinalized, "epoch = %d", epochNum)
	}
	for _, id := range entityIDs {
		if err := p.distributeOne(ctx, sm, epochNum, id, blkCtx.BlockHeight); err != nil {
			return err
		}
	}
	return nil
}

func (p *Protocol) distributeOne(ctx context.Context, sm protocol.StateManager, epochNum, entityID uint64, height uint64) error {
	e, err := p.registry.Entity(sm, entityID)
	if err != nil {
		return err
	}
	r, err := p.epochs.RewardInfo(sm, epochNum, entityID)
	if err != nil {
		return err
	}
	d, err := p.deployment(sm, epochNum, entityID)
	if err != nil {
		return err
	}
	if r.RewardAmount.Sign() == 0 || d.TranchesExecuted >= p.cfg.NumTranches {
		return errors.Wrapf(ErrNothingToDistribute, "epoch = %d, entity = %d", epochNum, entityID)
	}
	remaining := new(big.Int).Sub(r.RewardAmount, d.TotalDistributed)
	if remaining.Sign() <= 0 {
		return errors.Wrapf(ErrNothingToDistribute, "epoch = %d, entity = %d", epochNum, entityID)
	}

	// Fixed per-tranche split of the finalized reward; the last tranche absorbs
	// the division remainder. Spare from partial fills is NOT rolled forward.
	requested := new(big.Int).Div(r.RewardAmount, new(big.Int).SetUint64(p.cfg.NumTranches))
	if d.TranchesExecuted == p.cfg.NumTranches-1 {
		executed := new(big.Int).Mul(requested, new(big.Int).SetUint64(p.cfg.NumTranches-1))
		requested = new(big.Int).Sub(r.RewardAmount, executed)
	}
	if requested.Cmp(remaining) > 0 {
		requested = remaining
	}

	result, err := p.oracle.SplitRewardSwap(ctx, &SwapParams{
		SourceAmount:          requested,
		LiquidityPositionID:   e.LiquidityPositionID,
		RewardPercentage:      p.cfg.RewardPercentage,
		MaxSlippagePercentage: p.cfg.MaxSlippagePercentage,
		RewardRecipient:       e.TreasuryAddr,
		SpareRecipient:        p.cfg.SparePoolAddress,
	})
	if err != nil {
		return errors.Wrapf(err, "swap failed for entity %d in epoch %d", entityID, epochNum)
	}
	if err := validateSwapResult(result, requested); err != nil {
		return err
	}

	d.TotalDistributed = new(big.Int).Add(d.TotalDistributed, result.UsedSourceAmount)
	if d.TotalDistributed.Cmp(r.RewardAmount) > 0 {
		return errors.Wrapf(ErrTrancheExceedsReward, "epoch = %d, entity = %d, distributed = %s, reward = %s",
			epochNum, entityID, d.TotalDistributed, r.RewardAmount)
	}
	d.TranchesExecuted++
	d.Tranches = append(d.Tranches, Tranche{
		RequestedAmount:   requested,
		Block:             height,
		TokenRewardAmount: result.TokenRewardAmount,
		SpareToken:        result.SpareToken,
		SpareSource:       result.SpareSource,
		UsedSourceAmount:  result.UsedSourceAmount,
	})
	if _, err := sm.PutState(d, protocol.NamespaceOption(Namespace), protocol.KeyOption(deploymentKey(epochNum, entityID))); err != nil {
		return err
	}
	log.L().Info("Executed reward tranche.",
		zap.Uint64("epoch", epochNum),
		zap.Uint64("entity", entityID),
		zap.Uint64("tranche", d.TranchesExecuted),
		zap.String("requested", requested.String()),
		zap.String("used", result.UsedSourceAmount.String()))
	return nil
}

func validateSwapResult(result *SwapResult, requested *big.Int) error {
	if result == nil || result.UsedSourceAmount == nil || result.TokenRewardAmount == nil {
		return errors.Wrap(ErrInvalidSwapResult, "missing amounts")
	}
	if result.UsedSourceAmount.Sign() <= 0 {
		return errors.Wrap(ErrInvalidSwapResult, "zero used amount")
	}
	if result.UsedSourceAmount.Cmp(requested) > 0 {
		return errors.Wrapf(ErrInvalidSwapResult, "used %s exceeds requested %s", result.UsedSourceAmount, requested)
	}
	return nil
}

// WithdrawPenalty transfers the entity's remaining withheld penalty for the
// epoch to the recipient. A repeated call finds nothing left and transfers
// zero; a duplicate nonzero payout is impossible.
func (p *Protocol) WithdrawPenalty(ctx context.Context, sm protocol.StateManager, epochNum, entityID uint64, recipient common.Address) (*big.Int, error) {
	actionCtx := protocol.MustGetActionCtx(ctx)
	if err := protocol.Assert(p.check, actionCtx.Caller, protocol.OpWithdrawPenalty); err != nil {
		return nil, err
	}
	finalized, err := p.epochs.IsFinalized(sm, epochNum)
	if err != nil {
		return nil, err
	}
	if !finalized {
		return nil, errors.Wrapf(ErrEpochNotFinalized, "epoch = %d", epochNum)
	}
	r, err := p.epochs.RewardInfo(sm, epochNum, entityID)
	if err != nil {
		return nil, err
	}
	d, err := p.deployment(sm, epochNum, entityID)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Sub(r.PenaltyAmount, d.TotalPenaltyWithdrawn)
	if amount.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if err := p.treasury.Transfer(ctx, recipient, p.cfg.BaseAsset, amount); err != nil {
		return nil, errors.Wrap(err, "failed to transfer penalty")
	}
	d.TotalPenaltyWithdrawn = new(big.Int).Add(d.TotalPenaltyWithdrawn, amount)
	if _, err := sm.PutState(d, protocol.NamespaceOption(Namespace), protocol.KeyOption(deploymentKey(epochNum, entityID))); err != nil {
		return nil, err
	}
	log.L().Info("Withdrew penalty.",
		zap.Uint64("epoch", epochNum),
		zap.Uint64("entity", entityID),
		zap.String("amount", amount.String()),
		zap.String("recipient", recipient.Hex()))
	return amount, nil
}

// DeploymentInfo returns the distribution state; zero-valued if no tranche has executed
func (p *Protocol) DeploymentInfo(sr protocol.StateReader, epochNum, entityID uint64) (*Deployment, error) {
	return p.deployment(sr, epochNum, entityID)
}

// Tranches returns the full tranche history for the (epoch, entity)
func (p *Protocol) Tranches(sr protocol.StateReader, epochNum, entityID uint64) ([]Tranche, error) {
	d, err := p.deployment(sr, epochNum, entityID)
	if err != nil {
		return nil, err
	}
	return d.Tranches, nil
}

func (p *Protocol) deployment(sr protocol.StateReader, epochNum, entityID uint64) (*Deployment, error) {
	d := Deployment{}
	_, err := sr.State(&d, protocol.NamespaceOption(Namespace), protocol.KeyOption(deploymentKey(epochNum, entityID)))
	if err != nil && errors.Cause(err) != state.ErrStateNotExist {
		return nil, err
	}
	d.normalize()
	return &d, nil
}
