// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package dlpregistry

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle status of an entity
type Status uint8

const (
	// None is the zero status of an unknown entity
	None Status = iota
	// Registered means the entity has been admitted with a deposit
	Registered
	// Eligible means the entity qualifies for reward scoring
	Eligible
	// SubEligible means a previously eligible entity lost one of its qualifications
	SubEligible
	// Deregistered is terminal
	Deregistered
)

// String returns the human readable status
func (s Status) String() string {
	switch s {
	case Registered:
		return "Registered"
	case Eligible:
		return "Eligible"
	case SubEligible:
		return "SubEligible"
	case Deregistered:
		return "Deregistered"
	default:
		return "None"
	}
}

// Entity is a registered DLP. Entities are never deleted; Deregistered marks
// end-of-life and no transition leaves it.
type Entity struct {
	ID                  uint64
	Owner               common.Address
	TreasuryAddr        common.Address
	Name                string
	IconURL             string
	Website             string
	Metadata            string
	Status              Status
	RegistrationBlock   uint64
	Deposit             *big.Int
	Verified            bool
	Token               common.Address
	LiquidityPositionID uint64
}

func (e *Entity) normalize() {
	if e.Deposit == nil {
		e.Deposit = big.NewInt(0)
	}
}

// qualified reports whether the entity holds all three eligibility requirements
func (e *Entity) qualified() bool {
	return e.Verified && e.Token != (common.Address{}) && e.LiquidityPositionID != 0
}

// normalizeName strips spaces for length validation
func normalizeName(name string) string {
	return strings.ReplaceAll(name, " ", "")
}

// validName requires more than 3 non-space characters
func validName(name string) bool {
	return len(normalizeName(name)) > 3
}

// eligibleSet is the index-plus-backing-array set of currently eligible entity
// ids. Only IDs is persisted; the index is rebuilt on load. Removal swaps in
// the last element, so membership test and removal are both O(1).
type eligibleSet struct {
	IDs []uint64

	index map[uint64]int
}

func (s *eligibleSet) buildIndex() {
	s.index = make(map[uint64]int, len(s.IDs))
	for i, id := range s.IDs {
		s.index[id] = i
	}
}

func (s *eligibleSet) contains(id uint64) bool {
	if s.index == nil {
		s.buildIndex()
	}
	_, ok := s.index[id]
	return ok
}

func (s *eligibleSet) add(id uint64) {
	if s.contains(id) {
		return
	}
	s.index[id] = len(s.IDs)
	s.IDs = append(s.IDs, id)
}

func (s *eligibleSet) remove(id uint64) {
	if !s.contains(id) {
		return
	}
	i := s.index[id]
	last := len(s.IDs) - 1
	s.IDs[i] = s.IDs[last]
	s.index[s.IDs[i]] = i
	s.IDs = s.IDs[:last]
	delete(s.index, id)
}
