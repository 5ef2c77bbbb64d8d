// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package performance

import (
	"context"
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/dlp-protocol/dlp-core/db"
	"github.com/dlp-protocol/dlp-core/pkg/unit"
	"github.com/dlp-protocol/dlp-core/protocol"
	"github.com/dlp-protocol/dlp-core/protocol/epoch"
	"github.com/dlp-protocol/dlp-core/state"
	"github.com/dlp-protocol/dlp-core/test/identityset"
)

// stubRegistry holds a fixed eligible set
type stubRegistry []uint64

func (s stubRegistry) IsEligible(_ protocol.StateReader, id uint64) (bool, error) {
	for _, e := range s {
		if e == id {
			return true, nil
		}
	}
	return false, nil
}

func (s stubRegistry) EligibleIDs(protocol.StateReader) ([]uint64, error) {
	return s, nil
}

// pct converts whole percent to the 1e18 scale
func pct(p int64) *big.Int {
	return new(big.Int).Div(new(big.Int).Mul(big.NewInt(p), unit.OneHundredPercent), big.NewInt(100))
}

func testCtx(height uint64) context.Context {
	ctx := protocol.WithBlockCtx(context.Background(), protocol.BlockCtx{BlockHeight: height})
	return protocol.WithActionCtx(ctx, protocol.ActionCtx{Caller: identityset.Address(0)})
}

func newTestProtocols(eligible stubRegistry) (*Protocol, *epoch.Protocol) {
	epochs := epoch.NewProtocol(epoch.Config{
		EpochLength:        100,
		RewardPoolPerEpoch: unit.ConvertTokenToWei(1000),
		RoundingTolerance:  big.NewInt(0),
	}, protocol.AllowAll)
	p := NewProtocol(Config{RewardPercentage: pct(60)}, eligible, epochs, protocol.AllowAll)
	return p, epochs
}

func TestRecordEpochPerformance(t *testing.T) {
	require := require.New(t)

	p, epochs := newTestProtocols(stubRegistry{1, 2})
	ws := state.NewFactory(db.NewMemKVStore()).NewWorkingSet()
	require.NoError(epochs.CreateEpochsUntilBlock(testCtx(100), ws, 100))

	// score outside [0, 1e18]
	err := p.RecordEpochPerformance(testCtx(100), ws, 1, []*Record{
		{EntityID: 1, TotalScore: new(big.Int).Add(unit.OneHundredPercent, big.NewInt(1))},
	}, false)
	require.Equal(ErrInvalidScore, errors.Cause(err))

	// only eligible entities may be rated
	err = p.RecordEpochPerformance(testCtx(100), ws, 1, []*Record{
		{EntityID: 9, TotalScore: pct(10)},
	}, false)
	require.Equal(ErrEntityNotEligible, errors.Cause(err))

	records := []*Record{
		{EntityID: 1, TradingVolume: unit.ConvertTokenToWei(5000), UniqueContributors: 12, TotalScore: pct(60)},
		{EntityID: 2, DataAccessFees: unit.ConvertTokenToWei(30), UniqueContributors: 3, TotalScore: pct(40)},
	}
	require.NoError(p.RecordEpochPerformance(testCtx(100), ws, 1, records, false))

	perf, err := p.EpochPerformance(ws, 1, 1)
	require.NoError(err)
	require.Equal(pct(60), perf.TotalScore)
	require.Equal(uint64(12), perf.UniqueContributors)
	require.Equal(unit.ConvertTokenToWei(5000), perf.TradingVolume)

	// entity 1: 60% of the 1000 pool is 600, split 60/40 into reward/penalty
	r, err := epochs.RewardInfo(ws, 1, 1)
	require.NoError(err)
	require.Equal(unit.ConvertTokenToWei(360), r.RewardAmount)
	require.Equal(unit.ConvertTokenToWei(240), r.PenaltyAmount)
	r, err = epochs.RewardInfo(ws, 1, 2)
	require.NoError(err)
	require.Equal(unit.ConvertTokenToWei(240), r.RewardAmount)
	require.Equal(unit.ConvertTokenToWei(160), r.PenaltyAmount)

	// unrated entity has no record
	perf, err = p.EpochPerformance(ws, 1, 9)
	require.NoError(err)
	require.Nil(perf)

	// re-submission before finalization overwrites
	require.NoError(p.RecordEpochPerformance(testCtx(100), ws, 1, []*Record{
		{EntityID: 1, TotalScore: pct(50)},
		{EntityID: 2, TotalScore: pct(50)},
	}, false))
	r, err = epochs.RewardInfo(ws, 1, 1)
	require.NoError(err)
	require.Equal(unit.ConvertTokenToWei(300), r.RewardAmount)
	require.Equal(unit.ConvertTokenToWei(200), r.PenaltyAmount)
}

func TestFinalizeRequiresFullCoverage(t *testing.T) {
	require := require.New(t)

	p, epochs := newTestProtocols(stubRegistry{1, 2, 3})
	ws := state.NewFactory(db.NewMemKVStore()).NewWorkingSet()
	require.NoError(epochs.CreateEpochsUntilBlock(testCtx(100), ws, 100))

	require.NoError(p.RecordEpochPerformance(testCtx(100), ws, 1, []*Record{
		{EntityID: 1, TotalScore: pct(60)},
		{EntityID: 2, TotalScore: pct(40)},
	}, false))

	// entity 3 has no rating yet
	err := p.RecordEpochPerformance(testCtx(101), ws, 1, []*Record{
		{EntityID: 1, TotalScore: pct(60)},
	}, true)
	require.Equal(ErrAllEligibleNeedPerformance, errors.Cause(err))
}

func TestFinalizeLocksEpoch(t *testing.T) {
	require := require.New(t)

	p, epochs := newTestProtocols(stubRegistry{1, 2})
	ws := state.NewFactory(db.NewMemKVStore()).NewWorkingSet()
	require.NoError(epochs.CreateEpochsUntilBlock(testCtx(100), ws, 100))

	records := []*Record{
		{EntityID: 1, TotalScore: pct(60)},
		{EntityID: 2, TotalScore: pct(40)},
	}
	// before the epoch end block has passed, finalization fails
	err := p.RecordEpochPerformance(testCtx(100), ws, 1, records, true)
	require.Equal(epoch.ErrEpochNotEnded, errors.Cause(err))

	require.NoError(p.RecordEpochPerformance(testCtx(101), ws, 1, records, true))
	finalized, err := epochs.IsFinalized(ws, 1)
	require.NoError(err)
	require.True(finalized)

	// a finalized epoch accepts no more ratings
	err = p.RecordEpochPerformance(testCtx(102), ws, 1, records, false)
	require.Equal(epoch.ErrEpochAlreadyFinalized, errors.Cause(err))
}
