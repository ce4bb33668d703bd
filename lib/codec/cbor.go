// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// maxStateSize bounds a decoded state file. Anything larger was not
// written by skirmish.
const maxStateSize = 64 << 10

// ErrTooLarge is returned by Unmarshal for input over maxStateSize.
var ErrTooLarge = errors.New("codec: state data too large")

var (
	stateEncoder = mustEncMode()
	stateDecoder = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	options := cbor.CoreDetEncOptions()
	options.Time = cbor.TimeUnixMicro
	mode, err := options.EncMode()
	if err != nil {
		panic("codec: building encoder: " + err.Error())
	}
	return mode
}

func mustDecMode() cbor.DecMode {
	// State files are small flat records: duplicate keys or deep
	// nesting mean corruption, not a newer writer.
	mode, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels:   8,
		IndefLength:       cbor.IndefLengthForbidden,
		TimeTag:           cbor.DecTagOptional,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
	if err != nil {
		panic("codec: building decoder: " + err.Error())
	}
	return mode
}

// Marshal encodes v with Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return stateEncoder.Marshal(v)
}

// Unmarshal decodes a single well-formed CBOR item into v. Unknown
// fields are ignored so older clients can read newer files; trailing
// bytes, duplicate keys and indefinite-length items are errors.
func Unmarshal(data []byte, v any) error {
	if len(data) > maxStateSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	return stateDecoder.Unmarshal(data, v)
}
