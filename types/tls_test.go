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

func TestOpaque16RoundTrip(t *testing.T) {
	b := appendOpaque16(nil, []byte("hello"))
	data, rest, err := readOpaque16(b)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	assert.Empty(t, rest)
}

func TestOpaque24RoundTrip(t *testing.T) {
	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i)
	}
	b := appendOpaque24(nil, payload)
	b = append(b, 0xAB) // trailing byte to confirm `rest` is preserved
	data, rest, err := readOpaque24(b)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, []byte{0xAB}, rest)
}

func TestReadOpaque16ShortBuffer(t *testing.T) {
	_, _, err := readOpaque16([]byte{0x00})
	assert.Error(t, err)

	_, _, err = readOpaque16([]byte{0x00, 0x05, 0x01})
	assert.Error(t, err)
}

func TestReadUint24(t *testing.T) {
	b := appendUint24(nil, 0x123456)
	v, err := readUint24(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x123456), v)

	_, err = readUint24([]byte{0x01, 0x02})
	assert.Error(t, err)
}
