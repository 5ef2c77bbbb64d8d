// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package deployer_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dlp-protocol/dlp-core/db"
	"github.com/dlp-protocol/dlp-core/pkg/unit"
	"github.com/dlp-protocol/dlp-core/protocol"
	"github.com/dlp-protocol/dlp-core/protocol/deployer"
	"github.com/dlp-protocol/dlp-core/protocol/dlpregistry"
	"github.com/dlp-protocol/dlp-core/protocol/epoch"
	"github.com/dlp-protocol/dlp-core/state"
	"github.com/dlp-protocol/dlp-core/test/identityset"
	"github.com/dlp-protocol/dlp-core/test/mock/mock_swaporacle"
	"github.com/dlp-protocol/dlp-core/test/mock/mock_treasury"
)

var (
	_entityTreasury = identityset.Address(3)
	_sparePool      = identityset.Address(4)
	_asset          = identityset.Address(5)
)

// stubRegistry returns the same bindings for every entity
type stubRegistry struct{}

func (stubRegistry) Entity(_ protocol.StateReader, id uint64) (*dlpregistry.Entity, error) {
	return &dlpregistry.Entity{
		ID:                  id,
		TreasuryAddr:        _entityTreasury,
		LiquidityPositionID: 7,
		Status:              dlpregistry.Eligible,
	}, nil
}

func pct(p int64) *big.Int {
	return new(big.Int).Div(new(big.Int).Mul(big.NewInt(p), unit.OneHundredPercent), big.NewInt(100))
}

func testCtx(height uint64) context.Context {
	ctx := protocol.WithBlockCtx(context.Background(), protocol.BlockCtx{BlockHeight: height})
	return protocol.WithActionCtx(ctx, protocol.ActionCtx{Caller: identityset.Address(0)})
}

func testConfig() deployer.Config {
	return deployer.Config{
		NumTranches:           3,
		RewardPercentage:      pct(80),
		MaxSlippagePercentage: pct(1),
		BaseAsset:             _asset,
		SparePoolAddress:      _sparePool,
	}
}

// newFinalizedEpoch sets up epoch 1 with a 1000 wei pool, entity 1 holding a
// 600/400 reward/penalty allocation, and the epoch finalized
func newFinalizedEpoch(t *testing.T, ws *state.WorkingSet) *epoch.Protocol {
	require := require.New(t)
	epochs := epoch.NewProtocol(epoch.Config{
		EpochLength:        100,
		RewardPoolPerEpoch: big.NewInt(1000),
		RoundingTolerance:  big.NewInt(0),
	}, protocol.AllowAll)
	require.NoError(epochs.CreateEpochsUntilBlock(testCtx(100), ws, 100))
	require.NoError(epochs.SaveEpochRewards(testCtx(100), ws, 1, []*epoch.RewardEntry{
		{EntityID: 1, RewardAmount: big.NewInt(600), PenaltyAmount: big.NewInt(400)},
	}))
	require.NoError(epochs.Finalize(testCtx(101), ws, 1))
	return epochs
}

func TestDistributeRewards(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	treasury := mock_treasury.NewMockTreasury(ctrl)
	oracle := mock_swaporacle.NewMockSwapOracle(ctrl)

	ws := state.NewFactory(db.NewMemKVStore()).NewWorkingSet()
	epochs := newFinalizedEpoch(t, ws)
	p := deployer.NewProtocol(testConfig(), stubRegistry{}, epochs, treasury, oracle, protocol.AllowAll)

	// epoch 2 exists but is not finalized
	require.NoError(epochs.CreateEpochsUntilBlock(testCtx(150), ws, 150))
	err := p.DistributeRewards(testCtx(101), ws, 2, []uint64{1})
	require.Equal(deployer.ErrEpochNotFinalized, errors.Cause(err))

	// an entity with no allocation has nothing to distribute
	err = p.DistributeRewards(testCtx(101), ws, 1, []uint64{9})
	require.Equal(deployer.ErrNothingToDistribute, errors.Cause(err))

	swap := func(used, spareSource int64) *gomock.Call {
		return oracle.EXPECT().SplitRewardSwap(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, params *deployer.SwapParams) (*deployer.SwapResult, error) {
				require.Equal(big.NewInt(200), params.SourceAmount)
				require.Equal(uint64(7), params.LiquidityPositionID)
				require.Equal(pct(80), params.RewardPercentage)
				require.Equal(pct(1), params.MaxSlippagePercentage)
				require.Equal(_entityTreasury, params.RewardRecipient)
				require.Equal(_sparePool, params.SpareRecipient)
				return &deployer.SwapResult{
					TokenRewardAmount: big.NewInt(used * 3),
					SpareToken:        big.NewInt(0),
					SpareSource:       big.NewInt(spareSource),
					UsedSourceAmount:  big.NewInt(used),
				}, nil
			})
	}

	// tranche 1: full fill of 600/3
	swap(200, 0)
	require.NoError(p.DistributeRewards(testCtx(101), ws, 1, []uint64{1}))

	// tranche 2: partial fill, the unspent 10 went to the spare pool
	swap(190, 10)
	require.NoError(p.DistributeRewards(testCtx(102), ws, 1, []uint64{1}))

	// tranche 3: requests the fixed split again, spare is not rolled forward
	swap(200, 0)
	require.NoError(p.DistributeRewards(testCtx(103), ws, 1, []uint64{1}))

	d, err := p.DeploymentInfo(ws, 1, 1)
	require.NoError(err)
	require.Equal(uint64(3), d.TranchesExecuted)
	require.Equal(big.NewInt(590), d.TotalDistributed)

	tranches, err := p.Tranches(ws, 1, 1)
	require.NoError(err)
	require.Len(tranches, 3)
	require.Equal(big.NewInt(200), tranches[0].UsedSourceAmount)
	require.Equal(big.NewInt(190), tranches[1].UsedSourceAmount)
	require.Equal(big.NewInt(200), tranches[2].UsedSourceAmount)
	require.Equal(uint64(101), tranches[0].Block)
	require.Equal(uint64(103), tranches[2].Block)

	// all tranches executed, nothing left to crank
	err = p.DistributeRewards(testCtx(104), ws, 1, []uint64{1})
	require.Equal(deployer.ErrNothingToDistribute, errors.Cause(err))
}

func TestInvalidSwapResult(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	treasury := mock_treasury.NewMockTreasury(ctrl)
	oracle := mock_swaporacle.NewMockSwapOracle(ctrl)

	ws := state.NewFactory(db.NewMemKVStore()).NewWorkingSet()
	epochs := newFinalizedEpoch(t, ws)
	p := deployer.NewProtocol(testConfig(), stubRegistry{}, epochs, treasury, oracle, protocol.AllowAll)

	// using more than requested is rejected
	oracle.EXPECT().SplitRewardSwap(gomock.Any(), gomock.Any()).Return(&deployer.SwapResult{
		TokenRewardAmount: big.NewInt(1),
		SpareToken:        big.NewInt(0),
		SpareSource:       big.NewInt(0),
		UsedSourceAmount:  big.NewInt(201),
	}, nil)
	err := p.DistributeRewards(testCtx(101), ws, 1, []uint64{1})
	require.Equal(deployer.ErrInvalidSwapResult, errors.Cause(err))

	// zero fill is rejected
	oracle.EXPECT().SplitRewardSwap(gomock.Any(), gomock.Any()).Return(&deployer.SwapResult{
		TokenRewardAmount: big.NewInt(0),
		SpareToken:        big.NewInt(0),
		SpareSource:       big.NewInt(200),
		UsedSourceAmount:  big.NewInt(0),
	}, nil)
	err = p.DistributeRewards(testCtx(101), ws, 1, []uint64{1})
	require.Equal(deployer.ErrInvalidSwapResult, errors.Cause(err))

	// an oracle failure aborts without bookkeeping
	oracle.EXPECT().SplitRewardSwap(gomock.Any(), gomock.Any()).Return(nil, errors.New("no liquidity"))
	require.Error(p.DistributeRewards(testCtx(101), ws, 1, []uint64{1}))
	d, err := p.DeploymentInfo(ws, 1, 1)
	require.NoError(err)
	require.Zero(d.TranchesExecuted)
	require.Zero(d.TotalDistributed.Sign())
}

func TestInvalidConfig(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	treasury := mock_treasury.NewMockTreasury(ctrl)
	oracle := mock_swaporacle.NewMockSwapOracle(ctrl)

	ws := state.NewFactory(db.NewMemKVStore()).NewWorkingSet()
	epochs := newFinalizedEpoch(t, ws)

	cfg := testConfig()
	cfg.RewardPercentage = big.NewInt(0)
	p := deployer.NewProtocol(cfg, stubRegistry{}, epochs, treasury, oracle, protocol.AllowAll)
	err := p.DistributeRewards(testCtx(101), ws, 1, []uint64{1})
	require.Equal(deployer.ErrInvalidRewardPercentage, errors.Cause(err))

	cfg = testConfig()
	cfg.MaxSlippagePercentage = new(big.Int).Add(unit.OneHundredPercent, big.NewInt(1))
	p = deployer.NewProtocol(cfg, stubRegistry{}, epochs, treasury, oracle, protocol.AllowAll)
	err = p.DistributeRewards(testCtx(101), ws, 1, []uint64{1})
	require.Equal(deployer.ErrInvalidSlippagePercentage, errors.Cause(err))
}

func TestWithdrawPenalty(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	treasury := mock_treasury.NewMockTreasury(ctrl)
	oracle := mock_swaporacle.NewMockSwapOracle(ctrl)

	ws := state.NewFactory(db.NewMemKVStore()).NewWorkingSet()
	epochs := newFinalizedEpoch(t, ws)
	p := deployer.NewProtocol(testConfig(), stubRegistry{}, epochs, treasury, oracle, protocol.AllowAll)
	recipient := identityset.Address(8)

	// not before finalization
	require.NoError(epochs.CreateEpochsUntilBlock(testCtx(150), ws, 150))
	_, err := p.WithdrawPenalty(testCtx(101), ws, 2, 1, recipient)
	require.Equal(deployer.ErrEpochNotFinalized, errors.Cause(err))

	treasury.EXPECT().Transfer(gomock.Any(), recipient, _asset, big.NewInt(400)).Return(nil)
	amount, err := p.WithdrawPenalty(testCtx(101), ws, 1, 1, recipient)
	require.NoError(err)
	require.Equal(big.NewInt(400), amount)

	// repeated withdrawal finds nothing and performs no transfer
	amount, err = p.WithdrawPenalty(testCtx(102), ws, 1, 1, recipient)
	require.NoError(err)
	require.Zero(amount.Sign())

	d, err := p.DeploymentInfo(ws, 1, 1)
	require.NoError(err)
	require.Equal(big.NewInt(400), d.TotalPenaltyWithdrawn)

	// an entity with no allocation has no penalty
	amount, err = p.WithdrawPenalty(testCtx(102), ws, 1, 9, recipient)
	require.NoError(err)
	require.Zero(amount.Sign())
}
