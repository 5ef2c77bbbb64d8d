// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

// Package dlpregistry tracks DLP entities and their lifecycle: admission with a
// refundable deposit, eligibility recomputation, and terminal deregistration.
// It is the exclusive owner of entity records and the eligible set.
package dlpregistry

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/iotexproject/go-pkgs/hash"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dlp-protocol/dlp-core/pkg/log"
	"github.com/dlp-protocol/dlp-core/pkg/util/byteutil"
	"github.com/dlp-protocol/dlp-core/protocol"
	"github.com/dlp-protocol/dlp-core/state"
)

// Namespace is the state namespace of the registry
const Namespace = "Registry"

var (
	_entityCounterKey = []byte("entityCount")
	_eligibleSetKey   = []byte("eligibleSet")
	_entityKeyPrefix  = []byte("dlp")
	_nameKeyPrefix    = []byte("name")
)

// Errors
var (
	// ErrInvalidName indicates an empty, too short, or already claimed name
	ErrInvalidName = errors.New("invalid DLP name")
	// ErrInvalidAddress indicates a zero owner or treasury address
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidDepositAmount indicates the deposit is below the configured minimum
	ErrInvalidDepositAmount = errors.New("invalid deposit amount")
	// ErrNotDLPOwner indicates the caller does not own the entity
	ErrNotDLPOwner = errors.New("caller is not the DLP owner")
	// ErrInvalidEntity indicates the entity id does not exist
	ErrInvalidEntity = errors.New("invalid entity")
	// ErrEntityDeregistered indicates the entity reached its terminal status
	ErrEntityDeregistered = errors.New("entity is deregistered")
	// ErrLastEpochNotFinalized fences lifecycle changes off open accounting periods
	ErrLastEpochNotFinalized = errors.New("last epoch must be finalized")
)

type (
	// EpochReader is the view of the epoch timeline the registry needs
	EpochReader interface {
		LastEpochFinalized(context.Context, protocol.StateReader) (bool, error)
	}

	// Config carries the registry parameters
	Config struct {
		// MinDepositAmount is the minimum refundable collateral
		MinDepositAmount *big.Int
		// TreasuryPoolAddress receives forwarded deposits
		TreasuryPoolAddress common.Address
		// BaseAsset is the settlement asset deposits are denominated in
		BaseAsset common.Address
	}

	// RegistrationRequest is the input of Register
	RegistrationRequest struct {
		Owner        common.Address
		TreasuryAddr common.Address
		Name         string
		IconURL      string
		Website      string
		Metadata     string
		Deposit      *big.Int
	}

	// EntityUpdate is the owner-initiated metadata update. Nil string fields keep
	// the current value.
	EntityUpdate struct {
		Name         *string
		IconURL      *string
		Website      *string
		Metadata     *string
		TreasuryAddr *common.Address
	}

	// Protocol implements the registry
	Protocol struct {
		cfg      Config
		epochs   EpochReader
		treasury protocol.Treasury
		check    protocol.CapabilityCheck
	}
)

// NewProtocol instantiates the registry
func NewProtocol(cfg Config, epochs EpochReader, treasury protocol.Treasury, check protocol.CapabilityCheck) *Protocol {
	return &Protocol{
		cfg:      cfg,
		epochs:   epochs,
		treasury: treasury,
		check:    check,
	}
}

func entityKey(id uint64) []byte {
	return append(_entityKeyPrefix, byteutil.Uint64ToBytes(id)...)
}

func nameKey(name string) []byte {
	h := hash.Hash160b([]byte(normalizeName(name)))
	return append(_nameKeyPrefix, h[:]...)
}

// Register admits a new entity. It validates the name, addresses and deposit,
// forwards the deposit to the treasury pool, and stores the entity as
// Registered. All-or-nothing.
func (p *Protocol) Register(ctx context.Context, sm protocol.StateManager, req *RegistrationRequest) (uint64, error) {
	blkCtx := protocol.MustGetBlockCtx(ctx)
	if !validName(req.Name) {
		return 0, errors.Wrapf(ErrInvalidName, "name = %q", req.Name)
	}
	if req.Owner == (common.Address{}) || req.TreasuryAddr == (common.Address{}) {
		return 0, errors.Wrap(ErrInvalidAddress, "owner and treasury must be non-zero")
	}
	if req.Deposit == nil || req.Deposit.Cmp(p.cfg.MinDepositAmount) < 0 {
		return 0, errors.Wrapf(ErrInvalidDepositAmount, "minimum = %s", p.cfg.MinDepositAmount)
	}
	if taken, err := p.nameTaken(sm, req.Name); err != nil {
		return 0, err
	} else if taken {
		return 0, errors.Wrapf(ErrInvalidName, "name %q already claimed", req.Name)
	}

	id, err := p.nextID(sm)
	if err != nil {
		return 0, err
	}
	if err := p.treasury.Transfer(ctx, p.cfg.TreasuryPoolAddress, p.cfg.BaseAsset, req.Deposit); err != nil {
		return 0, errors.Wrap(err, "failed to forward deposit to treasury")
	}
	e := Entity{
		ID:                id,
		Owner:             req.Owner,
		TreasuryAddr:      req.TreasuryAddr,
		Name:              req.Name,
		IconURL:           req.IconURL,
		Website:           req.Website,
		Metadata:          req.Metadata,
		Status:            Registered,
		RegistrationBlock: blkCtx.BlockHeight,
		Deposit:           new(big.Int).Set(req.Deposit),
	}
	if err := p.putEntity(sm, &e); err != nil {
		return 0, err
	}
	if _, err := sm.PutState(&id, protocol.NamespaceOption(Namespace), protocol.KeyOption(nameKey(req.Name))); err != nil {
		return 0, err
	}
	log.L().Info("Registered DLP.", zap.Uint64("id", id), zap.String("name", req.Name), zap.String("owner", req.Owner.Hex()))
	return id, nil
}

// UpdateEntity applies an owner-initiated metadata update
func (p *Protocol) UpdateEntity(ctx context.Context, sm protocol.StateManager, id uint64, update *EntityUpdate) error {
	actionCtx := protocol.MustGetActionCtx(ctx)
	e, err := p.activeEntity(sm, id)
	if err != nil {
		return err
	}
	if e.Owner != actionCtx.Caller {
		return errors.Wrapf(ErrNotDLPOwner, "entity = %d, caller = %s", id, actionCtx.Caller)
	}
	if update.Name != nil && *update.Name != e.Name {
		if !validName(*update.Name) {
			return errors.Wrapf(ErrInvalidName, "name = %q", *update.Name)
		}
		if taken, err := p.nameTaken(sm, *update.Name); err != nil {
			return err
		} else if taken {
			return errors.Wrapf(ErrInvalidName, "name %q already claimed", *update.Name)
		}
		if _, err := sm.DelState(protocol.NamespaceOption(Namespace), protocol.KeyOption(nameKey(e.Name))); err != nil {
			return err
		}
		e.Name = *update.Name
		if _, err := sm.PutState(&id, protocol.NamespaceOption(Namespace), protocol.KeyOption(nameKey(e.Name))); err != nil {
			return err
		}
	}
	if update.IconURL != nil {
		e.IconURL = *update.IconURL
	}
	if update.Website != nil {
		e.Website = *update.Website
	}
	if update.Metadata != nil {
		e.Metadata = *update.Metadata
	}
	if update.TreasuryAddr != nil {
		if *update.TreasuryAddr == (common.Address{}) {
			return errors.Wrap(ErrInvalidAddress, "treasury must be non-zero")
		}
		e.TreasuryAddr = *update.TreasuryAddr
	}
	return p.putEntity(sm, e)
}

// UpdateEligibility recomputes the entity's status from its bindings and
// verification, and maintains the eligible set. It is fenced on the last ended
// epoch being finalized so pending accounting cannot be altered retroactively;
// the epoch covering the current block never blocks it.
func (p *Protocol) UpdateEligibility(ctx context.Context, sm protocol.StateManager, id uint64) error {
	if err := p.assertLastEpochFinalized(ctx, sm); err != nil {
		return err
	}
	e, err := p.activeEntity(sm, id)
	if err != nil {
		return err
	}
	prev := e.Status
	if e.qualified() {
		e.Status = Eligible
	} else if e.Status == Eligible || e.Status == SubEligible {
		e.Status = SubEligible
	} else {
		e.Status = Registered
	}
	if err := p.putEntity(sm, e); err != nil {
		return err
	}
	if err := p.updateEligibleSet(sm, id, e.Status == Eligible); err != nil {
		return err
	}
	if prev != e.Status {
		log.L().Info("Updated DLP eligibility.",
			zap.Uint64("id", id),
			zap.Stringer("from", prev),
			zap.Stringer("to", e.Status))
	}
	return nil
}

// Deregister moves the entity to its terminal status, releases its name,
// removes it from the eligible set and refunds the deposit. Owner only;
// irreversible.
func (p *Protocol) Deregister(ctx context.Context, sm protocol.StateManager, id uint64) error {
	actionCtx := protocol.MustGetActionCtx(ctx)
	if err := p.assertLastEpochFinalized(ctx, sm); err != nil {
		return err
	}
	e, err := p.activeEntity(sm, id)
	if err != nil {
		return err
	}
	if e.Owner != actionCtx.Caller {
		return errors.Wrapf(ErrNotDLPOwner, "entity = %d, caller = %s", id, actionCtx.Caller)
	}
	if e.Deposit.Sign() > 0 {
		if err := p.treasury.Transfer(ctx, e.Owner, p.cfg.BaseAsset, e.Deposit); err != nil {
			return errors.Wrap(err, "failed to refund deposit")
		}
	}
	if _, err := sm.DelState(protocol.NamespaceOption(Namespace), protocol.KeyOption(nameKey(e.Name))); err != nil {
		return err
	}
	e.Status = Deregistered
	if err := p.putEntity(sm, e); err != nil {
		return err
	}
	if err := p.updateEligibleSet(sm, id, false); err != nil {
		return err
	}
	log.L().Info("Deregistered DLP.", zap.Uint64("id", id), zap.String("name", e.Name))
	return nil
}

// SetToken binds the entity's token. Capability checked; eligibility is only
// recomputed by an explicit UpdateEligibility call.
func (p *Protocol) SetToken(ctx context.Context, sm protocol.StateManager, id uint64, token common.Address) error {
	actionCtx := protocol.MustGetActionCtx(ctx)
	if err := protocol.Assert(p.check, actionCtx.Caller, protocol.OpSetToken); err != nil {
		return err
	}
	e, err := p.activeEntity(sm, id)
	if err != nil {
		return err
	}
	e.Token = token
	return p.putEntity(sm, e)
}

// SetLiquidityPosition binds the entity's liquidity position
func (p *Protocol) SetLiquidityPosition(ctx context.Context, sm protocol.StateManager, id uint64, positionID uint64) error {
	actionCtx := protocol.MustGetActionCtx(ctx)
	if err := protocol.Assert(p.check, actionCtx.Caller, protocol.OpSetLiquidityPosition); err != nil {
		return err
	}
	e, err := p.activeEntity(sm, id)
	if err != nil {
		return err
	}
	e.LiquidityPositionID = positionID
	return p.putEntity(sm, e)
}

// SetVerified flips the entity's verification flag
func (p *Protocol) SetVerified(ctx context.Context, sm protocol.StateManager, id uint64, verified bool) error {
	actionCtx := protocol.MustGetActionCtx(ctx)
	if err := protocol.Assert(p.check, actionCtx.Caller, protocol.OpSetVerified); err != nil {
		return err
	}
	e, err := p.activeEntity(sm, id)
	if err != nil {
		return err
	}
	e.Verified = verified
	return p.putEntity(sm, e)
}

// Entity returns the entity record
func (p *Protocol) Entity(sr protocol.StateReader, id uint64) (*Entity, error) {
	e := Entity{}
	_, err := sr.State(&e, protocol.NamespaceOption(Namespace), protocol.KeyOption(entityKey(id)))
	if err != nil {
		if errors.Cause(err) == state.ErrStateNotExist {
			return nil, errors.Wrapf(ErrInvalidEntity, "entity = %d", id)
		}
		return nil, err
	}
	e.normalize()
	return &e, nil
}

// OwnerOf returns the owner identity of the entity
func (p *Protocol) OwnerOf(sr protocol.StateReader, id uint64) (common.Address, error) {
	e, err := p.Entity(sr, id)
	if err != nil {
		return common.Address{}, err
	}
	return e.Owner, nil
}

// IsEligible returns whether the entity is in the eligible set
func (p *Protocol) IsEligible(sr protocol.StateReader, id uint64) (bool, error) {
	set, err := p.loadEligibleSet(sr)
	if err != nil {
		return false, err
	}
	return set.contains(id), nil
}

// EligibleIDs returns a copy of the eligible set, in set order
func (p *Protocol) EligibleIDs(sr protocol.StateReader) ([]uint64, error) {
	set, err := p.loadEligibleSet(sr)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, len(set.IDs))
	copy(ids, set.IDs)
	return ids, nil
}

func (p *Protocol) assertLastEpochFinalized(ctx context.Context, sr protocol.StateReader) error {
	finalized, err := p.epochs.LastEpochFinalized(ctx, sr)
	if err != nil {
		return err
	}
	if !finalized {
		return ErrLastEpochNotFinalized
	}
	return nil
}

// activeEntity loads the entity and rejects terminal ones
func (p *Protocol) activeEntity(sm protocol.StateReader, id uint64) (*Entity, error) {
	e, err := p.Entity(sm, id)
	if err != nil {
		return nil, err
	}
	if e.Status == Deregistered {
		return nil, errors.Wrapf(ErrEntityDeregistered, "entity = %d", id)
	}
	return e, nil
}

func (p *Protocol) putEntity(sm protocol.StateManager, e *Entity) error {
	_, err := sm.PutState(e, protocol.NamespaceOption(Namespace), protocol.KeyOption(entityKey(e.ID)))
	return err
}

func (p *Protocol) nameTaken(sr protocol.StateReader, name string) (bool, error) {
	var holder uint64
	_, err := sr.State(&holder, protocol.NamespaceOption(Namespace), protocol.KeyOption(nameKey(name)))
	if err == nil {
		return true, nil
	}
	if errors.Cause(err) == state.ErrStateNotExist {
		return false, nil
	}
	return false, err
}

func (p *Protocol) nextID(sm protocol.StateManager) (uint64, error) {
	var count uint64
	_, err := sm.State(&count, protocol.NamespaceOption(Namespace), protocol.KeyOption(_entityCounterKey))
	if err != nil && errors.Cause(err) != state.ErrStateNotExist {
		return 0, err
	}
	count++
	if _, err := sm.PutState(&count, protocol.NamespaceOption(Namespace), protocol.KeyOption(_entityCounterKey)); err != nil {
		return 0, err
	}
	return count, nil
}

func (p *Protocol) loadEligibleSet(sr protocol.StateReader) (*eligibleSet, error) {
	set := eligibleSet{}
	_, err := sr.State(&set, protocol.NamespaceOption(Namespace), protocol.KeyOption(_eligibleSetKey))
	if err != nil && errors.Cause(err) != state.ErrStateNotExist {
		return nil, err
	}
	return &set, nil
}

func (p *Protocol) updateEligibleSet(sm protocol.StateManager, id uint64, eligible bool) error {
	set, err := p.loadEligibleSet(sm)
	if err != nil {
		return err
	}
	if eligible {
		set.add(id)
	} else {
		set.remove(id)
	}
	_, err = sm.PutState(set, protocol.NamespaceOption(Namespace), protocol.KeyOption(_eligibleSetKey))
	return err
}
