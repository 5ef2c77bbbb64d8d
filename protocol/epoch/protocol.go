// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

// Package epoch owns the epoch timeline: lazy catch-up creation, per-epoch
// reward-pool sizing, reward persistence and the finalization state machine
// (Open -> Finalized, terminal).
package epoch

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dlp-protocol/dlp-core/pkg/log"
	"github.com/dlp-protocol/dlp-core/pkg/util/byteutil"
	"github.com/dlp-protocol/dlp-core/protocol"
	"github.com/dlp-protocol/dlp-core/state"
)

// Namespace is the state namespace of the epoch manager
const Namespace = "Epoch"

var (
	_currentEpochKey = []byte("currentEpoch")
	_epochKeyPrefix  = []byte("epoch")
	_rewardKeyPrefix = []byte("reward")
)

// Errors
var (
	// ErrInvalidEpoch indicates the epoch id does not exist
	ErrInvalidEpoch = errors.New("invalid epoch")
	// ErrEpochNotEnded indicates the epoch's end block has not passed yet
	ErrEpochNotEnded = errors.New("epoch not ended yet")
	// ErrEpochAlreadyFinalized indicates the epoch has been finalized
	ErrEpochAlreadyFinalized = errors.New("epoch already finalized")
	// ErrEpochRewardExceeded indicates the allocations exceed the epoch's reward pool
	ErrEpochRewardExceeded = errors.New("epoch reward pool exceeded")
	// ErrEpochRewardNotDistributed indicates the allocations fall short of the epoch's reward pool
	ErrEpochRewardNotDistributed = errors.New("epoch reward not fully distributed")
)

type (
	// PoolSizer computes the reward pool of a new epoch. Pluggable so pool
	// sizing can scale with external signals (e.g. total value locked).
	PoolSizer func(epochNum uint64) *big.Int

	// Config carries the epoch timeline parameters
	Config struct {
		// EpochLength is the number of blocks per epoch
		EpochLength uint64
		// RewardPoolPerEpoch is the default constant pool
		RewardPoolPerEpoch *big.Int
		// RoundingTolerance bounds the accepted gap between the pool and the
		// sum of allocations at finalization
		RoundingTolerance *big.Int
	}

	// RewardEntry is one per-entity allocation handed over by the performance tracker
	RewardEntry struct {
		EntityID      uint64
		RewardAmount  *big.Int
		PenaltyAmount *big.Int
	}

	// Protocol implements the epoch manager
	Protocol struct {
		cfg       Config
		poolSizer PoolSizer
		check     protocol.CapabilityCheck
	}

	// Option customizes the protocol
	Option func(*Protocol)
)

// WithPoolSizer overrides the constant reward pool policy
func WithPoolSizer(sizer PoolSizer) Option {
	return func(p *Protocol) {
		p.poolSizer = sizer
	}
}

// NewProtocol instantiates the epoch manager
func NewProtocol(cfg Config, check protocol.CapabilityCheck, opts ...Option) *Protocol {
	p := &Protocol{
		cfg:   cfg,
		check: check,
	}
	p.poolSizer = func(uint64) *big.Int {
		return new(big.Int).Set(cfg.RewardPoolPerEpoch)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EpochLength returns the configured number of blocks per epoch
func (p *Protocol) EpochLength() uint64 { return p.cfg.EpochLength }

func epochKey(epochNum uint64) []byte {
	return append(_epochKeyPrefix, byteutil.Uint64ToBytes(epochNum)...)
}

func rewardKey(epochNum, entityID uint64) []byte {
	k := append(_rewardKeyPrefix, byteutil.Uint64ToBytes(epochNum)...)
	return append(k, byteutil.Uint64ToBytes(entityID)...)
}

// CurrentEpochNum returns the id of the latest created epoch, 0 if none
func (p *Protocol) CurrentEpochNum(sr protocol.StateReader) (uint64, error) {
	var current uint64
	_, err := sr.State(&current, protocol.NamespaceOption(Namespace), protocol.KeyOption(_currentEpochKey))
	if err != nil {
		if errors.Cause(err) == state.ErrStateNotExist {
			return 0, nil
		}
		return 0, err
	}
	return current, nil
}

// EpochInfo returns the epoch record
func (p *Protocol) EpochInfo(sr protocol.StateReader, epochNum uint64) (*Epoch, error) {
	e := Epoch{}
	_, err := sr.State(&e, protocol.NamespaceOption(Namespace), protocol.KeyOption(epochKey(epochNum)))
	if err != nil {
		if errors.Cause(err) == state.ErrStateNotExist {
			return nil, errors.Wrapf(ErrInvalidEpoch, "epoch = %d", epochNum)
		}
		return nil, err
	}
	e.normalize()
	return &e, nil
}

// RewardInfo returns the per (epoch, entity) allocation; zero amounts if none was saved
func (p *Protocol) RewardInfo(sr protocol.StateReader, epochNum, entityID uint64) (*Reward, error) {
	r := Reward{}
	_, err := sr.State(&r, protocol.NamespaceOption(Namespace), protocol.KeyOption(rewardKey(epochNum, entityID)))
	if err != nil {
		if errors.Cause(err) == state.ErrStateNotExist {
			return &Reward{RewardAmount: big.NewInt(0), PenaltyAmount: big.NewInt(0)}, nil
		}
		return nil, err
	}
	r.normalize()
	return &r, nil
}

// IsFinalized returns whether the epoch has been finalized
func (p *Protocol) IsFinalized(sr protocol.StateReader, epochNum uint64) (bool, error) {
	e, err := p.EpochInfo(sr, epochNum)
	if err != nil {
		return false, err
	}
	return e.Finalized, nil
}

// LastEpochFinalized reports whether the most recent ended epoch, if any, is
// finalized. The epoch covering the current block is still accruing and never
// counts. Used by the registry to fence eligibility changes off accounting
// periods awaiting settlement.
func (p *Protocol) LastEpochFinalized(ctx context.Context, sr protocol.StateReader) (bool, error) {
	current, err := p.CurrentEpochNum(sr)
	if err != nil {
		return false, err
	}
	blkCtx := protocol.MustGetBlockCtx(ctx)
	lastEnded := NumFromBlock(blkCtx.BlockHeight, p.cfg.EpochLength)
	if lastEnded > 0 {
		lastEnded--
	}
	if lastEnded > current {
		lastEnded = current
	}
	if lastEnded == 0 {
		return true, nil
	}
	return p.IsFinalized(sr, lastEnded)
}

// CreateEpochsUntilBlock lazily appends epochs until the target block is covered.
// Idempotent: a call finding the timeline already covering the target is a no-op.
func (p *Protocol) CreateEpochsUntilBlock(ctx context.Context, sm protocol.StateManager, target uint64) error {
	current, err := p.CurrentEpochNum(sm)
	if err != nil {
		return err
	}
	created := 0
	for EndBlock(current, p.cfg.EpochLength) < target {
		current++
		e := Epoch{
			ID:             current,
			StartBlock:     StartBlock(current, p.cfg.EpochLength),
			EndBlock:       EndBlock(current, p.cfg.EpochLength),
			RewardPool:     p.poolSizer(current),
			TotalAllocated: big.NewInt(0),
		}
		if _, err := sm.PutState(&e, protocol.NamespaceOption(Namespace), protocol.KeyOption(epochKey(current))); err != nil {
			return err
		}
		created++
	}
	if created == 0 {
		return nil
	}
	if _, err := sm.PutState(&current, protocol.NamespaceOption(Namespace), protocol.KeyOption(_currentEpochKey)); err != nil {
		return err
	}
	log.L().Debug("Created epochs.", zap.Int("count", created), zap.Uint64("currentEpoch", current))
	return nil
}

// SaveEpochRewards persists per-entity allocations into an open epoch. Only the
// performance tracker capability may call it. Entries overwrite any previous
// allocation for the same entity; the participant set and the running total are
// adjusted by the delta.
func (p *Protocol) SaveEpochRewards(ctx context.Context, sm protocol.StateManager, epochNum uint64, entries []*RewardEntry) error {
	actionCtx := protocol.MustGetActionCtx(ctx)
	if err := protocol.Assert(p.check, actionCtx.Caller, protocol.OpSaveEpochRewards); err != nil {
		return err
	}
	e, err := p.EpochInfo(sm, epochNum)
	if err != nil {
		return err
	}
	if e.Finalized {
		return errors.Wrapf(ErrEpochAlreadyFinalized, "epoch = %d", epochNum)
	}
	for _, entry := range entries {
		prev, err := p.RewardInfo(sm, epochNum, entry.EntityID)
		if err != nil {
			return err
		}
		r := Reward{
			RewardAmount:  new(big.Int).Set(entry.RewardAmount),
			PenaltyAmount: new(big.Int).Set(entry.PenaltyAmount),
		}
		total := new(big.Int).Sub(e.TotalAllocated, prev.Total())
		total.Add(total, r.Total())
		limit := new(big.Int).Add(e.RewardPool, p.cfg.RoundingTolerance)
		if total.Cmp(limit) > 0 {
			return errors.Wrapf(ErrEpochRewardExceeded, "epoch = %d, allocated = %s, pool = %s", epochNum, total, e.RewardPool)
		}
		e.TotalAllocated = total
		if r.Total().Sign() > 0 {
			e.addParticipant(entry.EntityID)
		} else {
			e.removeParticipant(entry.EntityID)
		}
		if _, err := sm.PutState(&r, protocol.NamespaceOption(Namespace), protocol.KeyOption(rewardKey(epochNum, entry.EntityID))); err != nil {
			return err
		}
	}
	_, err = sm.PutState(e, protocol.NamespaceOption(Namespace), protocol.KeyOption(epochKey(epochNum)))
	return err
}

// Finalize locks the epoch after reconciling the pool-conservation invariant:
// the allocations must land within the rounding tolerance of the pool.
func (p *Protocol) Finalize(ctx context.Context, sm protocol.StateManager, epochNum uint64) error {
	actionCtx := protocol.MustGetActionCtx(ctx)
	if err := protocol.Assert(p.check, actionCtx.Caller, protocol.OpFinalizeEpoch); err != nil {
		return err
	}
	e, err := p.prepareFinalize(ctx, sm, epochNum)
	if err != nil {
		return err
	}
	under := new(big.Int).Sub(e.RewardPool, p.cfg.RoundingTolerance)
	if e.TotalAllocated.Cmp(under) < 0 {
		return errors.Wrapf(ErrEpochRewardNotDistributed, "epoch = %d, allocated = %s, pool = %s", epochNum, e.TotalAllocated, e.RewardPool)
	}
	return p.finalize(sm, e)
}

// ForceFinalize is the maintainer escape hatch for a stuck epoch. The end block
// must still have passed; only the under-allocation check is skipped.
func (p *Protocol) ForceFinalize(ctx context.Context, sm protocol.StateManager, epochNum uint64) error {
	actionCtx := protocol.MustGetActionCtx(ctx)
	if err := protocol.Assert(p.check, actionCtx.Caller, protocol.OpForceFinalize); err != nil {
		return err
	}
	e, err := p.prepareFinalize(ctx, sm, epochNum)
	if err != nil {
		return err
	}
	log.L().Warn("Force finalizing epoch.",
		zap.Uint64("epoch", epochNum),
		zap.String("allocated", e.TotalAllocated.String()),
		zap.String("pool", e.RewardPool.String()))
	return p.finalize(sm, e)
}

func (p *Protocol) prepareFinalize(ctx context.Context, sm protocol.StateManager, epochNum uint64) (*Epoch, error) {
	blkCtx := protocol.MustGetBlockCtx(ctx)
	e, err := p.EpochInfo(sm, epochNum)
	if err != nil {
		return nil, err
	}
	if e.Finalized {
		return nil, errors.Wrapf(ErrEpochAlreadyFinalized, "epoch = %d", epochNum)
	}
	if blkCtx.BlockHeight <= e.EndBlock {
		return nil, errors.Wrapf(ErrEpochNotEnded, "epoch = %d ends at block %d, current block %d", epochNum, e.EndBlock, blkCtx.BlockHeight)
	}
	over := new(big.Int).Add(e.RewardPool, p.cfg.RoundingTolerance)
	if e.TotalAllocated.Cmp(over) > 0 {
		return nil, errors.Wrapf(ErrEpochRewardExceeded, "epoch = %d, allocated = %s, pool = %s", epochNum, e.TotalAllocated, e.RewardPool)
	}
	return e, nil
}

func (p *Protocol) finalize(sm protocol.StateManager, e *Epoch) error {
	e.Finalized = true
	if _, err := sm.PutState(e, protocol.NamespaceOption(Namespace), protocol.KeyOption(epochKey(e.ID))); err != nil {
		return err
	}
	log.L().Info("Epoch finalized.",
		zap.Uint64("epoch", e.ID),
		zap.Int("participants", len(e.ParticipantIDs)),
		zap.String("allocated", e.TotalAllocated.String()))
	return nil
}
