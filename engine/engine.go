// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package engine

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dlp-protocol/dlp-core/config"
	"github.com/dlp-protocol/dlp-core/db"
	"github.com/dlp-protocol/dlp-core/pkg/log"
	"github.com/dlp-protocol/dlp-core/protocol"
	"github.com/dlp-protocol/dlp-core/protocol/deployer"
	"github.com/dlp-protocol/dlp-core/protocol/dlpregistry"
	"github.com/dlp-protocol/dlp-core/protocol/epoch"
	"github.com/dlp-protocol/dlp-core/protocol/performance"
	"github.com/dlp-protocol/dlp-core/state"
)

// Namespace is the state namespace the engine bookkeeping lives in
const Namespace = "Engine"

var _heightKey = []byte("hgt")

var (
	_operationMtc = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlp_engine_operation",
			Help: "Engine operation counter.",
		},
		[]string{"operation", "succeed"},
	)
	_epochFinalizedMtc = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dlp_engine_epoch_finalized",
			Help: "Finalized epoch counter.",
		},
	)
	_trancheMtc = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dlp_engine_tranche_executed",
			Help: "Executed reward tranche counter.",
		},
	)
)

func init() {
	prometheus.MustRegister(_operationMtc)
	prometheus.MustRegister(_epochFinalizedMtc)
	prometheus.MustRegister(_trancheMtc)
}

// Errors
var (
	// ErrInvalidHeight indicates a block height lower than the current one
	ErrInvalidHeight = errors.New("invalid block height")
)

type (
	// Engine is the single entry point into the reward engine. It owns the
	// state factory and the protocols, and serializes every state mutation
	// behind one mutex so that concurrent callers observe a linear history.
	Engine struct {
		mutex    sync.RWMutex
		cfg      config.Config
		store    db.KVStore
		factory  *state.Factory
		registry *dlpregistry.Protocol
		epochs   *epoch.Protocol
		tracker  *performance.Protocol
		deployer *deployer.Protocol
		height   uint64
	}

	// Option customizes the engine
	Option func(*options)

	options struct {
		check     protocol.CapabilityCheck
		poolSizer epoch.PoolSizer
	}
)

// WithCapabilityCheck overrides the maintainer-set capability check
func WithCapabilityCheck(check protocol.CapabilityCheck) Option {
	return func(o *options) {
		o.check = check
	}
}

// WithPoolSizer overrides the constant per-epoch reward pool policy
func WithPoolSizer(sizer epoch.PoolSizer) Option {
	return func(o *options) {
		o.poolSizer = sizer
	}
}

// New wires the protocols on top of a state factory backed by the given store.
// Treasury and swap oracle are the only external collaborators; everything
// else is deterministic state transition.
func New(
	cfg config.Config,
	store db.KVStore,
	treasury protocol.Treasury,
	oracle deployer.SwapOracle,
	opts ...Option,
) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.check == nil {
		maintainers := make(map[common.Address]bool, len(cfg.Engine.Maintainers))
		for _, addr := range cfg.Engine.Maintainers {
			maintainers[common.HexToAddress(addr)] = true
		}
		o.check = func(caller common.Address, _ string) bool {
			return maintainers[caller]
		}
	}

	minDeposit, err := config.ParseAmount(cfg.Registry.MinDepositAmount)
	if err != nil {
		return nil, err
	}
	rewardPool, err := config.ParseAmount(cfg.Epoch.RewardPoolPerEpoch)
	if err != nil {
		return nil, err
	}
	tolerance, err := config.ParseAmount(cfg.Epoch.RoundingTolerance)
	if err != nil {
		return nil, err
	}
	trackerPct, err := config.ParseAmount(cfg.Performance.RewardPercentage)
	if err != nil {
		return nil, err
	}
	deployerPct, err := config.ParseAmount(cfg.Deployer.RewardPercentage)
	if err != nil {
		return nil, err
	}
	slippagePct, err := config.ParseAmount(cfg.Deployer.MaxSlippagePercentage)
	if err != nil {
		return nil, err
	}

	epochOpts := []epoch.Option{}
	if o.poolSizer != nil {
		epochOpts = append(epochOpts, epoch.WithPoolSizer(o.poolSizer))
	}
	epochs := epoch.NewProtocol(
		epoch.Config{
			EpochLength:        cfg.Epoch.EpochLength,
			RewardPoolPerEpoch: rewardPool,
			RoundingTolerance:  tolerance,
		},
		o.check,
		epochOpts...,
	)
	registry := dlpregistry.NewProtocol(
		dlpregistry.Config{
			MinDepositAmount:    minDeposit,
			TreasuryPoolAddress: common.HexToAddress(cfg.Engine.TreasuryPoolAddress),
			BaseAsset:           common.HexToAddress(cfg.Engine.BaseAsset),
		},
		epochs,
		treasury,
		o.check,
	)
	tracker := performance.NewProtocol(
		performance.Config{RewardPercentage: trackerPct},
		registry,
		epochs,
		o.check,
	)
	rewardDeployer := deployer.NewProtocol(
		deployer.Config{
			NumTranches:           cfg.Deployer.NumTranches,
			RewardPercentage:      deployerPct,
			MaxSlippagePercentage: slippagePct,
			BaseAsset:             common.HexToAddress(cfg.Engine.BaseAsset),
			SparePoolAddress:      common.HexToAddress(cfg.Engine.SparePoolAddress),
		},
		registry,
		epochs,
		treasury,
		oracle,
		o.check,
	)

	return &Engine{
		cfg:      cfg,
		store:    store,
		factory:  state.NewFactory(store),
		registry: registry,
		epochs:   epochs,
		tracker:  tracker,
		deployer: rewardDeployer,
	}, nil
}

// Start starts the backing store and restores the last seen block height
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start kvstore")
	}
	var height uint64
	_, err := e.factory.NewWorkingSet().State(&height, protocol.NamespaceOption(Namespace), protocol.KeyOption(_heightKey))
	switch errors.Cause(err) {
	case nil:
		e.height = height
	case state.ErrStateNotExist:
		e.height = 0
	default:
		return errors.Wrap(err, "failed to restore block height")
	}
	log.L().Info("Engine started.", zap.Uint64("height", e.height))
	return nil
}

// Stop stops the backing store
func (e *Engine) Stop(ctx context.Context) error {
	return e.store.Stop(ctx)
}

// Height returns the current block height
func (e *Engine) Height() uint64 {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.height
}

// AdvanceBlock moves the engine to the given block height, creating any epoch
// the new height has reached. Heights move forward only.
func (e *Engine) AdvanceBlock(ctx context.Context, height uint64) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if height < e.height {
		return errors.Wrapf(ErrInvalidHeight, "height %d < current %d", height, e.height)
	}
	prev := e.height
	e.height = height
	err := e.run(ctx, "advanceBlock", common.Address{}, func(ctx context.Context, ws *state.WorkingSet) error {
		_, err := ws.PutState(&height, protocol.NamespaceOption(Namespace), protocol.KeyOption(_heightKey))
		return err
	})
	if err != nil {
		e.height = prev
	}
	return err
}

// run executes one state mutation: epoch catch-up, then fn, then commit. The
// caller must hold the write lock.
func (e *Engine) run(ctx context.Context, op string, caller common.Address, fn func(context.Context, *state.WorkingSet) error) error {
	err := func() error {
		ws := e.factory.NewWorkingSet()
		ctx = protocol.WithBlockCtx(ctx, protocol.BlockCtx{BlockHeight: e.height})
		ctx = protocol.WithActionCtx(ctx, protocol.ActionCtx{Caller: caller})
		if err := e.epochs.CreateEpochsUntilBlock(ctx, ws, e.height); err != nil {
			return errors.Wrap(err, "failed to run epoch catch-up")
		}
		if err := fn(ctx, ws); err != nil {
			return err
		}
		return ws.Commit()
	}()
	if err != nil {
		_operationMtc.WithLabelValues(op, "false").Inc()
		log.L().Debug("Engine operation failed.", zap.String("operation", op), zap.Error(err))
		return err
	}
	_operationMtc.WithLabelValues(op, "true").Inc()
	return nil
}

func (e *Engine) mutate(ctx context.Context, op string, caller common.Address, fn func(context.Context, *state.WorkingSet) error) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.run(ctx, op, caller, fn)
}

// RegisterEntity registers a new DLP and forwards its deposit to the treasury pool
func (e *Engine) RegisterEntity(ctx context.Context, caller common.Address, req *dlpregistry.RegistrationRequest) (uint64, error) {
	var id uint64
	err := e.mutate(ctx, "registerEntity", caller, func(ctx context.Context, ws *state.WorkingSet) error {
		var err error
		id, err = e.registry.Register(ctx, ws, req)
		return err
	})
	return id, err
}

// UpdateEntity updates a DLP's metadata. Owner only.
func (e *Engine) UpdateEntity(ctx context.Context, caller common.Address, id uint64, update *dlpregistry.EntityUpdate) error {
	return e.mutate(ctx, "updateEntity", caller, func(ctx context.Context, ws *state.WorkingSet) error {
		return e.registry.UpdateEntity(ctx, ws, id, update)
	})
}

// UpdateEligibility re-evaluates a DLP's eligibility against its current qualifications
func (e *Engine) UpdateEligibility(ctx context.Context, caller common.Address, id uint64) error {
	return e.mutate(ctx, "updateEligibility", caller, func(ctx context.Context, ws *state.WorkingSet) error {
		return e.registry.UpdateEligibility(ctx, ws, id)
	})
}

// DeregisterEntity retires a DLP and refunds its deposit. Owner only.
func (e *Engine) DeregisterEntity(ctx context.Context, caller common.Address, id uint64) error {
	return e.mutate(ctx, "deregisterEntity", caller, func(ctx context.Context, ws *state.WorkingSet) error {
		return e.registry.Deregister(ctx, ws, id)
	})
}

// SetToken records a DLP's reward token. Maintainer only.
func (e *Engine) SetToken(ctx context.Context, caller common.Address, id uint64, token common.Address) error {
	return e.mutate(ctx, "setToken", caller, func(ctx context.Context, ws *state.WorkingSet) error {
		return e.registry.SetToken(ctx, ws, id, token)
	})
}

// SetLiquidityPosition records a DLP's liquidity position. Maintainer only.
func (e *Engine) SetLiquidityPosition(ctx context.Context, caller common.Address, id uint64, positionID uint64) error {
	return e.mutate(ctx, "setLiquidityPosition", caller, func(ctx context.Context, ws *state.WorkingSet) error {
		return e.registry.SetLiquidityPosition(ctx, ws, id, positionID)
	})
}

// SetVerified flips a DLP's verification flag. Maintainer only.
func (e *Engine) SetVerified(ctx context.Context, caller common.Address, id uint64, verified bool) error {
	return e.mutate(ctx, "setVerified", caller, func(ctx context.Context, ws *state.WorkingSet) error {
		return e.registry.SetVerified(ctx, ws, id, verified)
	})
}

// RecordEpochPerformance stores performance ratings for an epoch and, with
// finalize set, locks the epoch. Maintainer only.
func (e *Engine) RecordEpochPerformance(ctx context.Context, caller common.Address, epochNum uint64, records []*performance.Record, finalize bool) error {
	err := e.mutate(ctx, "recordEpochPerformance", caller, func(ctx context.Context, ws *state.WorkingSet) error {
		return e.tracker.RecordEpochPerformance(ctx, ws, epochNum, records, finalize)
	})
	if err == nil && finalize {
		_epochFinalizedMtc.Inc()
	}
	return err
}

// FinalizeEpoch locks a fully rated epoch. Maintainer only.
func (e *Engine) FinalizeEpoch(ctx context.Context, caller common.Address, epochNum uint64) error {
	err := e.mutate(ctx, "finalizeEpoch", caller, func(ctx context.Context, ws *state.WorkingSet) error {
		return e.epochs.Finalize(ctx, ws, epochNum)
	})
	if err == nil {
		_epochFinalizedMtc.Inc()
	}
	return err
}

// ForceFinalizeEpoch locks an epoch even if its pool is under-allocated. Maintainer only.
func (e *Engine) ForceFinalizeEpoch(ctx context.Context, caller common.Address, epochNum uint64) error {
	err := e.mutate(ctx, "forceFinalizeEpoch", caller, func(ctx context.Context, ws *state.WorkingSet) error {
		return e.epochs.ForceFinalize(ctx, ws, epochNum)
	})
	if err == nil {
		_epochFinalizedMtc.Inc()
	}
	return err
}

// DistributeRewards executes the next reward tranche for each given entity in
// a finalized epoch
func (e *Engine) DistributeRewards(ctx context.Context, caller common.Address, epochNum uint64, entityIDs []uint64) error {
	err := e.mutate(ctx, "distributeRewards", caller, func(ctx context.Context, ws *state.WorkingSet) error {
		return e.deployer.DistributeRewards(ctx, ws, epochNum, entityIDs)
	})
	if err == nil {
		_trancheMtc.Add(float64(len(entityIDs)))
	}
	return err
}

// WithdrawPenalty drains an entity's remaining penalty for a finalized epoch
// to the recipient. Maintainer only.
func (e *Engine) WithdrawPenalty(ctx context.Context, caller common.Address, epochNum, entityID uint64, recipient common.Address) (*big.Int, error) {
	var withdrawn *big.Int
	err := e.mutate(ctx, "withdrawPenalty", caller, func(ctx context.Context, ws *state.WorkingSet) error {
		var err error
		withdrawn, err = e.deployer.WithdrawPenalty(ctx, ws, epochNum, entityID, recipient)
		return err
	})
	return withdrawn, err
}

// Entity returns a DLP record
func (e *Engine) Entity(id uint64) (*dlpregistry.Entity, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.registry.Entity(e.factory.NewWorkingSet(), id)
}

// IsEligible returns whether a DLP is in the reward-eligible set
func (e *Engine) IsEligible(id uint64) (bool, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.registry.IsEligible(e.factory.NewWorkingSet(), id)
}

// EligibleIDs returns the ids of all reward-eligible DLPs
func (e *Engine) EligibleIDs() ([]uint64, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.registry.EligibleIDs(e.factory.NewWorkingSet())
}

// CurrentEpochNum returns the id of the latest created epoch, 0 if none
func (e *Engine) CurrentEpochNum() (uint64, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.epochs.CurrentEpochNum(e.factory.NewWorkingSet())
}

// EpochInfo returns an epoch record
func (e *Engine) EpochInfo(epochNum uint64) (*epoch.Epoch, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.epochs.EpochInfo(e.factory.NewWorkingSet(), epochNum)
}

// RewardInfo returns an entity's reward allocation within an epoch
func (e *Engine) RewardInfo(epochNum, entityID uint64) (*epoch.Reward, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.epochs.RewardInfo(e.factory.NewWorkingSet(), epochNum, entityID)
}

// EpochPerformance returns an entity's performance record within an epoch, nil
// if it was never rated
func (e *Engine) EpochPerformance(epochNum, entityID uint64) (*performance.Performance, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.tracker.EpochPerformance(e.factory.NewWorkingSet(), epochNum, entityID)
}

// DeploymentInfo returns an entity's reward deployment progress within an epoch
func (e *Engine) DeploymentInfo(epochNum, entityID uint64) (*deployer.Deployment, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.deployer.DeploymentInfo(e.factory.NewWorkingSet(), epochNum, entityID)
}

// Tranches returns the executed tranches for an entity within an epoch
func (e *Engine) Tranches(epochNum, entityID uint64) ([]deployer.Tranche, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.deployer.Tranches(e.factory.NewWorkingSet(), epochNum, entityID)
}
