// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

// Package performance records per (epoch, entity) raw metrics and normalized
// scores, derives provisional reward/penalty allocations from them, and drives
// epoch finalization. It is the sole writer of score fields prior to
// finalization.
package performance

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dlp-protocol/dlp-core/pkg/log"
	"github.com/dlp-protocol/dlp-core/pkg/unit"
	"github.com/dlp-protocol/dlp-core/pkg/util/byteutil"
	"github.com/dlp-protocol/dlp-core/protocol"
	"github.com/dlp-protocol/dlp-core/protocol/epoch"
	"github.com/dlp-protocol/dlp-core/state"
)

// Namespace is the state namespace of the performance tracker
const Namespace = "Performance"

var (
	_perfKeyPrefix  = []byte("perf")
	_ratedKeyPrefix = []byte("rated")
)

// Errors
var (
	// ErrEntityNotEligible indicates a rating was supplied for an entity outside the eligible set
	ErrEntityNotEligible = errors.New("entity is not eligible for performance rating")
	// ErrInvalidScore indicates a normalized score outside [0, 1e18]
	ErrInvalidScore = errors.New("invalid normalized score")
	// ErrAllEligibleNeedPerformance indicates finalization with uncovered eligible entities
	ErrAllEligibleNeedPerformance = errors.New("all eligible DLPs must have performance ratings")
)

type (
	// RegistryReader is the view of the registry the tracker needs
	RegistryReader interface {
		IsEligible(protocol.StateReader, uint64) (bool, error)
		EligibleIDs(protocol.StateReader) ([]uint64, error)
	}

	// Performance is the per (epoch, entity) record. Metrics are stored
	// verbatim; TotalScore is 1e18-normalized so all entities' scores in an
	// epoch conceptually sum to 1e18. Immutable once the epoch is finalized.
	Performance struct {
		TradingVolume      *big.Int
		UniqueContributors uint64
		DataAccessFees     *big.Int
		TotalScore         *big.Int
	}

	// Record is one submitted rating
	Record struct {
		EntityID           uint64
		TradingVolume      *big.Int
		UniqueContributors uint64
		DataAccessFees     *big.Int
		TotalScore         *big.Int
	}

	// Config carries the tracker parameters
	Config struct {
		// RewardPercentage is the deployable share of each entity's allocation,
		// on the 1e18 scale; the remainder is withheld as penalty
		RewardPercentage *big.Int
	}

	// Protocol implements the performance tracker
	Protocol struct {
		cfg      Config
		registry RegistryReader
		epochs   *epoch.Protocol
		check    protocol.CapabilityCheck
	}

	// ratedSet tracks which entities have received a rating within an epoch
	ratedSet struct {
		IDs []uint64
	}
)

// NewProtocol instantiates the performance tracker
func NewProtocol(cfg Config, registry RegistryReader, epochs *epoch.Protocol, check protocol.CapabilityCheck) *Protocol {
	return &Protocol{
		cfg:      cfg,
		registry: registry,
		epochs:   epochs,
		check:    check,
	}
}

func perfKey(epochNum, entityID uint64) []byte {
	k := append(_perfKeyPrefix, byteutil.Uint64ToBytes(epochNum)...)
	return append(k, byteutil.Uint64ToBytes(entityID)...)
}

func ratedKey(epochNum uint64) []byte {
	return append(_ratedKeyPrefix, byteutil.Uint64ToBytes(epochNum)...)
}

func (s *ratedSet) contains(id uint64) bool {
	for _, v := range s.IDs {
		if v == id {
			return true
		}
	}
	return false
}

func (p *Performance) normalize() {
	if p.TradingVolume == nil {
		p.TradingVolume = big.NewInt(0)
	}
	if p.DataAccessFees == nil {
		p.DataAccessFees = big.NewInt(0)
	}
	if p.TotalScore == nil {
		p.TotalScore = big.NewInt(0)
	}
}

// RecordEpochPerformance stores the supplied ratings and hands the derived
// allocations to the epoch manager. Re-submission before finalization
// overwrites. With finalize set, every currently-eligible entity must have been
// rated over the epoch's lifetime, and the epoch manager reconciles the pool
// before locking the epoch.
func (p *Protocol) RecordEpochPerformance(
	ctx context.Context,
	sm protocol.StateManager,
	epochNum uint64,
	records []*Record,
	finalize bool,
) error {
	actionCtx := protocol.MustGetActionCtx(ctx)
	if err := protocol.Assert(p.check, actionCtx.Caller, protocol.OpRecordPerformance); err != nil {
		return err
	}
	e, err := p.epochs.EpochInfo(sm, epochNum)
	if err != nil {
		return err
	}
	if e.Finalized {
		return errors.Wrapf(epoch.ErrEpochAlreadyFinalized, "epoch = %d", epochNum)
	}

	rated, err := p.loadRatedSet(sm, epochNum)
	if err != nil {
		return err
	}
	entries := make([]*epoch.RewardEntry, 0, len(records))
	for _, rec := range records {
		if rec.TotalScore == nil || rec.TotalScore.Sign() < 0 || rec.TotalScore.Cmp(unit.OneHundredPercent) > 0 {
			return errors.Wrapf(ErrInvalidScore, "entity = %d, score = %v", rec.EntityID, rec.TotalScore)
		}
		eligible, err := p.registry.IsEligible(sm, rec.EntityID)
		if err != nil {
			return err
		}
		if !eligible {
			return errors.Wrapf(ErrEntityNotEligible, "entity = %d", rec.EntityID)
		}
		perf := Performance{
			TradingVolume:      rec.TradingVolume,
			UniqueContributors: rec.UniqueContributors,
			DataAccessFees:     rec.DataAccessFees,
			TotalScore:         rec.TotalScore,
		}
		perf.normalize()
		if _, err := sm.PutState(&perf, protocol.NamespaceOption(Namespace), protocol.KeyOption(perfKey(epochNum, rec.EntityID))); err != nil {
			return err
		}
		if !rated.contains(rec.EntityID) {
			rated.IDs = append(rated.IDs, rec.EntityID)
		}

		total := unit.PercentageOf(e.RewardPool, perf.TotalScore)
		reward := unit.PercentageOf(total, p.cfg.RewardPercentage)
		entries = append(entries, &epoch.RewardEntry{
			EntityID:      rec.EntityID,
			RewardAmount:  reward,
			PenaltyAmount: new(big.Int).Sub(total, reward),
		})
		log.L().Info("Recorded DLP performance.",
			zap.Uint64("epoch", epochNum),
			zap.Uint64("entity", rec.EntityID),
			zap.String("score", perf.TotalScore.String()),
			zap.String("reward", reward.String()))
	}
	if _, err := sm.PutState(rated, protocol.NamespaceOption(Namespace), protocol.KeyOption(ratedKey(epochNum))); err != nil {
		return err
	}
	if err := p.epochs.SaveEpochRewards(ctx, sm, epochNum, entries); err != nil {
		return err
	}
	if !finalize {
		return nil
	}

	eligibleIDs, err := p.registry.EligibleIDs(sm)
	if err != nil {
		return err
	}
	for _, id := range eligibleIDs {
		if !rated.contains(id) {
			return errors.Wrapf(ErrAllEligibleNeedPerformance, "entity %d has no rating in epoch %d", id, epochNum)
		}
	}
	if err := p.epochs.Finalize(ctx, sm, epochNum); err != nil {
		return err
	}
	log.L().Info("Epoch performance finalized.", zap.Uint64("epoch", epochNum), zap.Int("rated", len(rated.IDs)))
	return nil
}

// EpochPerformance returns the stored record, or nil if the entity was never rated
func (p *Protocol) EpochPerformance(sr protocol.StateReader, epochNum, entityID uint64) (*Performance, error) {
	perf := Performance{}
	_, err := sr.State(&perf, protocol.NamespaceOption(Namespace), protocol.KeyOption(perfKey(epochNum, entityID)))
	if err != nil {
		if errors.Cause(err) == state.ErrStateNotExist {
			return nil, nil
		}
		return nil, err
	}
	perf.normalize()
	return &perf, nil
}

func (p *Protocol) loadRatedSet(sr protocol.StateReader, epochNum uint64) (*ratedSet, error) {
	rated := ratedSet{}
	_, err := sr.State(&rated, protocol.NamespaceOption(Namespace), protocol.KeyOption(ratedKey(epochNum)))
	if err != nil && errors.Cause(err) != state.ErrStateNotExist {
		return nil, err
	}
	return &rated, nil
}
