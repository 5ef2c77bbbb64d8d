// Copyright (c) 2023 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package state

import (
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/dlp-protocol/dlp-core/db"
	"github.com/dlp-protocol/dlp-core/protocol"
)

type account struct {
	Nonce   uint64
	Balance *big.Int
}

func TestWorkingSetCommit(t *testing.T) {
	require := require.New(t)

	sf := NewFactory(db.NewMemKVStore())
	key := []byte("acct_1")

	ws := sf.NewWorkingSet()
	acct := account{Nonce: 1, Balance: big.NewInt(100)}
	_, err := ws.PutState(&acct, protocol.KeyOption(key))
	require.NoError(err)

	// uncommitted write is visible inside the working set only
	loaded := account{}
	_, err = ws.State(&loaded, protocol.KeyOption(key))
	require.NoError(err)
	require.Equal(acct, loaded)

	other := sf.NewWorkingSet()
	_, err = other.State(&account{}, protocol.KeyOption(key))
	require.Equal(ErrStateNotExist, errors.Cause(err))

	require.NoError(ws.Commit())
	require.Equal(uint64(1), sf.Version())

	fresh := sf.NewWorkingSet()
	loaded = account{}
	_, err = fresh.State(&loaded, protocol.KeyOption(key))
	require.NoError(err)
	require.Equal(acct, loaded)

	// delete and read-through
	_, err = fresh.DelState(protocol.KeyOption(key))
	require.NoError(err)
	_, err = fresh.State(&account{}, protocol.KeyOption(key))
	require.Equal(ErrStateNotExist, errors.Cause(err))
	require.NoError(fresh.Commit())

	_, err = sf.NewWorkingSet().State(&account{}, protocol.KeyOption(key))
	require.Equal(ErrStateNotExist, errors.Cause(err))
}

func TestStaleWorkingSet(t *testing.T) {
	require := require.New(t)

	sf := NewFactory(db.NewMemKVStore())
	ws1 := sf.NewWorkingSet()
	ws2 := sf.NewWorkingSet()

	one := uint64(1)
	_, err := ws1.PutState(&one, protocol.KeyOption([]byte("k")))
	require.NoError(err)
	_, err = ws2.PutState(&one, protocol.KeyOption([]byte("k")))
	require.NoError(err)

	require.NoError(ws1.Commit())
	require.Equal(ErrStaleWorkingSet, errors.Cause(ws2.Commit()))
}

func TestSnapshotRevert(t *testing.T) {
	require := require.New(t)

	sf := NewFactory(db.NewMemKVStore())
	ws := sf.NewWorkingSet()

	acct := account{Nonce: 1, Balance: big.NewInt(5)}
	_, err := ws.PutState(&acct, protocol.KeyOption([]byte("k")))
	require.NoError(err)
	s := ws.Snapshot()

	acct.Nonce = 2
	_, err = ws.PutState(&acct, protocol.KeyOption([]byte("k")))
	require.NoError(err)

	require.NoError(ws.Revert(s))
	loaded := account{}
	_, err = ws.State(&loaded, protocol.KeyOption([]byte("k")))
	require.NoError(err)
	require.Equal(uint64(1), loaded.Nonce)
}

func TestNamespaceIsolation(t *testing.T) {
	require := require.New(t)

	sf := NewFactory(db.NewMemKVStore())
	ws := sf.NewWorkingSet()

	one, two := uint64(1), uint64(2)
	_, err := ws.PutState(&one, protocol.NamespaceOption("ns1"), protocol.KeyOption([]byte("k")))
	require.NoError(err)
	_, err = ws.PutState(&two, protocol.NamespaceOption("ns2"), protocol.KeyOption([]byte("k")))
	require.NoError(err)
	require.NoError(ws.Commit())

	ws = sf.NewWorkingSet()
	var v uint64
	_, err = ws.State(&v, protocol.NamespaceOption("ns1"), protocol.KeyOption([]byte("k")))
	require.NoError(err)
	require.Equal(uint64(1), v)
	_, err = ws.State(&v, protocol.NamespaceOption("ns2"), protocol.KeyOption([]byte("k")))
	require.NoError(err)
	require.Equal(uint64(2), v)
}
