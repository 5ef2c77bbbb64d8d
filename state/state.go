// Copyright (c) 2023 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package state

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

var (
	// ErrStateNotExist indicates the state does not exist
	ErrStateNotExist = errors.New("state does not exist")
	// ErrFailedToMarshalState indicates the error of serializing a state
	ErrFailedToMarshalState = errors.New("failed to marshal state")
	// ErrFailedToUnmarshalState indicates the error of deserializing a state
	ErrFailedToUnmarshalState = errors.New("failed to unmarshal state")
)

type (
	// Serializer has Serialize method to serialize struct to binary data
	Serializer interface {
		Serialize() ([]byte, error)
	}

	// Deserializer has Deserialize method to deserialize binary data to struct
	Deserializer interface {
		Deserialize(data []byte) error
	}
)

// Serialize check if input is Serializer, if it is, use the input's Serialize method, otherwise use gob
func Serialize(d interface{}) ([]byte, error) {
	if s, ok := d.(Serializer); ok {
		return s.Serialize()
	}
	var buf bytes.Buffer
	e := gob.NewEncoder(&buf)
	if err := e.Encode(d); err != nil {
		return nil, errors.Wrapf(ErrFailedToMarshalState, "error when serializing %T state: %v", d, err)
	}
	return buf.Bytes(), nil
}

// Deserialize check if input is Deserializer, if it is, use the input's Deserialize method, otherwise use gob
func Deserialize(x interface{}, data []byte) error {
	if d, ok := x.(Deserializer); ok {
		return d.Deserialize(data)
	}
	e := gob.NewDecoder(bytes.NewBuffer(data))
	if err := e.Decode(x); err != nil {
		return errors.Wrapf(ErrFailedToUnmarshalState, "error when deserializing %T state: %v", x, err)
	}
	return nil
}
