// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package dlpregistry

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dlp-protocol/dlp-core/db"
	"github.com/dlp-protocol/dlp-core/pkg/unit"
	"github.com/dlp-protocol/dlp-core/protocol"
	"github.com/dlp-protocol/dlp-core/state"
	"github.com/dlp-protocol/dlp-core/test/identityset"
	"github.com/dlp-protocol/dlp-core/test/mock/mock_treasury"
)

// stubEpochs controls the eligibility fence
type stubEpochs bool

func (s stubEpochs) LastEpochFinalized(context.Context, protocol.StateReader) (bool, error) {
	return bool(s), nil
}

var (
	_owner    = identityset.Address(1)
	_stranger = identityset.Address(2)
	_pool     = identityset.Address(10)
	_asset    = identityset.Address(11)
)

func testConfig() Config {
	return Config{
		MinDepositAmount:    unit.ConvertTokenToWei(100),
		TreasuryPoolAddress: _pool,
		BaseAsset:           _asset,
	}
}

func testCtx(caller common.Address, height uint64) context.Context {
	ctx := protocol.WithBlockCtx(context.Background(), protocol.BlockCtx{BlockHeight: height})
	return protocol.WithActionCtx(ctx, protocol.ActionCtx{Caller: caller})
}

func testRequest(name string) *RegistrationRequest {
	return &RegistrationRequest{
		Owner:        _owner,
		TreasuryAddr: identityset.Address(3),
		Name:         name,
		Website:      "https://example.org",
		Deposit:      unit.ConvertTokenToWei(100),
	}
}

func TestRegister(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	treasury := mock_treasury.NewMockTreasury(ctrl)

	p := NewProtocol(testConfig(), stubEpochs(true), treasury, protocol.AllowAll)
	ws := state.NewFactory(db.NewMemKVStore()).NewWorkingSet()
	ctx := testCtx(_owner, 42)

	// validation failures never reach the treasury
	_, err := p.Register(ctx, ws, testRequest("ab"))
	require.Equal(ErrInvalidName, errors.Cause(err))
	req := testRequest("pool one")
	req.Owner = common.Address{}
	_, err = p.Register(ctx, ws, req)
	require.Equal(ErrInvalidAddress, errors.Cause(err))
	req = testRequest("pool one")
	req.Deposit = unit.ConvertTokenToWei(99)
	_, err = p.Register(ctx, ws, req)
	require.Equal(ErrInvalidDepositAmount, errors.Cause(err))

	treasury.EXPECT().Transfer(gomock.Any(), _pool, _asset, unit.ConvertTokenToWei(100)).Return(nil).Times(2)

	id, err := p.Register(ctx, ws, testRequest("pool one"))
	require.NoError(err)
	require.Equal(uint64(1), id)

	e, err := p.Entity(ws, id)
	require.NoError(err)
	require.Equal("pool one", e.Name)
	require.Equal(_owner, e.Owner)
	require.Equal(Registered, e.Status)
	require.Equal(uint64(42), e.RegistrationBlock)
	require.Equal(unit.ConvertTokenToWei(100), e.Deposit)
	require.False(e.Verified)

	// the claimed name cannot be reused, ids keep counting
	_, err = p.Register(ctx, ws, testRequest("pool one"))
	require.Equal(ErrInvalidName, errors.Cause(err))
	id, err = p.Register(ctx, ws, testRequest("pool two"))
	require.NoError(err)
	require.Equal(uint64(2), id)

	// a failed deposit forward aborts the registration
	treasury.EXPECT().Transfer(gomock.Any(), _pool, _asset, unit.ConvertTokenToWei(100)).Return(errors.New("treasury down"))
	_, err = p.Register(ctx, ws, testRequest("pool three"))
	require.Error(err)

	_, err = p.Entity(ws, 99)
	require.Equal(ErrInvalidEntity, errors.Cause(err))
}

func TestUpdateEntity(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	treasury := mock_treasury.NewMockTreasury(ctrl)
	treasury.EXPECT().Transfer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	p := NewProtocol(testConfig(), stubEpochs(true), treasury, protocol.AllowAll)
	ws := state.NewFactory(db.NewMemKVStore()).NewWorkingSet()

	id, err := p.Register(testCtx(_owner, 1), ws, testRequest("pool one"))
	require.NoError(err)

	// only the owner may update
	name := "pool uno"
	err = p.UpdateEntity(testCtx(_stranger, 2), ws, id, &EntityUpdate{Name: &name})
	require.Equal(ErrNotDLPOwner, errors.Cause(err))

	website := "https://pool.example.org"
	require.NoError(p.UpdateEntity(testCtx(_owner, 2), ws, id, &EntityUpdate{Name: &name, Website: &website}))
	e, err := p.Entity(ws, id)
	require.NoError(err)
	require.Equal("pool uno", e.Name)
	require.Equal(website, e.Website)

	// renaming released the old name
	_, err = p.Register(testCtx(_owner, 3), ws, testRequest("pool one"))
	require.NoError(err)
	// and claimed the new one
	_, err = p.Register(testCtx(_owner, 3), ws, testRequest("pool uno"))
	require.Equal(ErrInvalidName, errors.Cause(err))
}

func TestEligibilityLifecycle(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	treasury := mock_treasury.NewMockTreasury(ctrl)
	treasury.EXPECT().Transfer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	p := NewProtocol(testConfig(), stubEpochs(true), treasury, protocol.AllowAll)
	ws := state.NewFactory(db.NewMemKVStore()).NewWorkingSet()
	maintainer := identityset.Address(0)

	id, err := p.Register(testCtx(_owner, 1), ws, testRequest("pool one"))
	require.NoError(err)

	// unqualified: stays Registered
	require.NoError(p.UpdateEligibility(testCtx(_owner, 2), ws, id))
	e, err := p.Entity(ws, id)
	require.NoError(err)
	require.Equal(Registered, e.Status)

	require.NoError(p.SetVerified(testCtx(maintainer, 2), ws, id, true))
	require.NoError(p.SetToken(testCtx(maintainer, 2), ws, id, identityset.Address(5)))
	require.NoError(p.SetLiquidityPosition(testCtx(maintainer, 2), ws, id, 7))

	// bindings alone do not promote
	ok, err := p.IsEligible(ws, id)
	require.NoError(err)
	require.False(ok)

	require.NoError(p.UpdateEligibility(testCtx(_owner, 2), ws, id))
	e, err = p.Entity(ws, id)
	require.NoError(err)
	require.Equal(Eligible, e.Status)
	ok, err = p.IsEligible(ws, id)
	require.NoError(err)
	require.True(ok)
	ids, err := p.EligibleIDs(ws)
	require.NoError(err)
	require.Equal([]uint64{id}, ids)

	// losing a qualification demotes to SubEligible
	require.NoError(p.SetVerified(testCtx(maintainer, 3), ws, id, false))
	require.NoError(p.UpdateEligibility(testCtx(_owner, 3), ws, id))
	e, err = p.Entity(ws, id)
	require.NoError(err)
	require.Equal(SubEligible, e.Status)
	ok, err = p.IsEligible(ws, id)
	require.NoError(err)
	require.False(ok)

	// re-qualifying promotes again
	require.NoError(p.SetVerified(testCtx(maintainer, 4), ws, id, true))
	require.NoError(p.UpdateEligibility(testCtx(_owner, 4), ws, id))
	e, err = p.Entity(ws, id)
	require.NoError(err)
	require.Equal(Eligible, e.Status)

	// the fence blocks changes while the last epoch is open
	fenced := NewProtocol(testConfig(), stubEpochs(false), treasury, protocol.AllowAll)
	err = fenced.UpdateEligibility(testCtx(_owner, 5), ws, id)
	require.Equal(ErrLastEpochNotFinalized, errors.Cause(err))
}

func TestDeregister(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	treasury := mock_treasury.NewMockTreasury(ctrl)

	p := NewProtocol(testConfig(), stubEpochs(true), treasury, protocol.AllowAll)
	ws := state.NewFactory(db.NewMemKVStore()).NewWorkingSet()

	treasury.EXPECT().Transfer(gomock.Any(), _pool, _asset, unit.ConvertTokenToWei(100)).Return(nil)
	id, err := p.Register(testCtx(_owner, 1), ws, testRequest("pool one"))
	require.NoError(err)

	err = p.Deregister(testCtx(_stranger, 2), ws, id)
	require.Equal(ErrNotDLPOwner, errors.Cause(err))

	// the deposit flows back to the owner
	treasury.EXPECT().Transfer(gomock.Any(), _owner, _asset, unit.ConvertTokenToWei(100)).Return(nil)
	require.NoError(p.Deregister(testCtx(_owner, 2), ws, id))

	e, err := p.Entity(ws, id)
	require.NoError(err)
	require.Equal(Deregistered, e.Status)
	ok, err := p.IsEligible(ws, id)
	require.NoError(err)
	require.False(ok)

	// terminal: no further mutations
	err = p.Deregister(testCtx(_owner, 3), ws, id)
	require.Equal(ErrEntityDeregistered, errors.Cause(err))
	name := "renamed"
	err = p.UpdateEntity(testCtx(_owner, 3), ws, id, &EntityUpdate{Name: &name})
	require.Equal(ErrEntityDeregistered, errors.Cause(err))

	// the name is free again
	treasury.EXPECT().Transfer(gomock.Any(), _pool, _asset, unit.ConvertTokenToWei(100)).Return(nil)
	_, err = p.Register(testCtx(_owner, 4), ws, testRequest("pool one"))
	require.NoError(err)
}
