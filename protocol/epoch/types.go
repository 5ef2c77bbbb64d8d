// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package epoch

import (
	"math/big"
)

type (
	// Epoch is one fixed-length accounting period. TotalAllocated is the running
	// sum of saved reward+penalty amounts, reconciled against RewardPool at
	// finalization.
	Epoch struct {
		ID             uint64
		StartBlock     uint64
		EndBlock       uint64
		RewardPool     *big.Int
		Finalized      bool
		ParticipantIDs []uint64
		TotalAllocated *big.Int
	}

	// Reward is the per (epoch, entity) allocation. RewardAmount is deployed to
	// market by the reward deployer; PenaltyAmount is withheld for separate
	// withdrawal. The two are disjoint portions of the entity's share of the pool.
	Reward struct {
		RewardAmount  *big.Int
		PenaltyAmount *big.Int
	}
)

func (e *Epoch) normalize() {
	if e.RewardPool == nil {
		e.RewardPool = big.NewInt(0)
	}
	if e.TotalAllocated == nil {
		e.TotalAllocated = big.NewInt(0)
	}
}

// Total returns RewardAmount + PenaltyAmount
func (r *Reward) Total() *big.Int {
	return new(big.Int).Add(r.RewardAmount, r.PenaltyAmount)
}

func (r *Reward) normalize() {
	if r.RewardAmount == nil {
		r.RewardAmount = big.NewInt(0)
	}
	if r.PenaltyAmount == nil {
		r.PenaltyAmount = big.NewInt(0)
	}
}

// hasParticipant returns the position of the entity in the participant set, or -1
func (e *Epoch) hasParticipant(entityID uint64) int {
	for i, id := range e.ParticipantIDs {
		if id == entityID {
			return i
		}
	}
	return -1
}

// addParticipant adds the entity to the participant set if absent
func (e *Epoch) addParticipant(entityID uint64) {
	if e.hasParticipant(entityID) < 0 {
		e.ParticipantIDs = append(e.ParticipantIDs, entityID)
	}
}

// removeParticipant removes the entity by swapping in the last element
func (e *Epoch) removeParticipant(entityID uint64) {
	i := e.hasParticipant(entityID)
	if i < 0 {
		return
	}
	last := len(e.ParticipantIDs) - 1
	e.ParticipantIDs[i] = e.ParticipantIDs[last]
	e.ParticipantIDs = e.ParticipantIDs[:last]
}
