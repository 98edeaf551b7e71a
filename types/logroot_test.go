// Copyright 2017 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRootV1RoundTrip(t *testing.T) {
	root := LogRootV1{
		TreeSize:       12345,
		TimestampNanos: 1_700_000_000_123 * 1e6,
		Revision:       7,
	}
	for i := range root.RootHash {
		root.RootHash[i] = byte(i)
	}

	b, err := root.MarshalBinary()
	require.NoError(t, err)

	var got LogRootV1
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, root, got)
}

func TestSignatureInputExcludesRevision(t *testing.T) {
	a := LogRootV1{TreeSize: 10, Revision: 1}
	b := LogRootV1{TreeSize: 10, Revision: 2}
	assert.Equal(t, a.SignatureInput(), b.SignatureInput())
}

func TestUnmarshalBinaryRejectsWrongLength(t *testing.T) {
	var root LogRootV1
	err := root.UnmarshalBinary([]byte{0x00})
	assert.Error(t, err)
}

func TestSCTSignatureInputDeterministic(t *testing.T) {
	a := SCTSignatureInput(EntryTypeX509, 1000, []byte("leaf"), nil)
	b := SCTSignatureInput(EntryTypeX509, 1000, []byte("leaf"), nil)
	assert.Equal(t, a, b)

	c := SCTSignatureInput(EntryTypePrecert, 1000, []byte("leaf"), nil)
	assert.NotEqual(t, a, c)
}
