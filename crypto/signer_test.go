// Copyright 2016 Google Inc. All Rights Reserved.
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

package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctlog/ctlog/types"
)

func TestSignAndVerifyLogRootECDSA(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	logID := sha256.Sum256([]byte("log"))
	s := NewSigner(logID, priv)

	root := &types.LogRootV1{TreeSize: 42, RootHash: [32]byte{1, 2, 3}}
	slr, err := s.SignLogRoot(root)
	require.NoError(t, err)

	got, err := VerifyLogRoot(&priv.PublicKey, slr)
	require.NoError(t, err)
	assert.Equal(t, root.TreeSize, got.TreeSize)
	assert.Equal(t, root.RootHash, got.RootHash)
}

func TestSignAndVerifyLogRootRSA(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	logID := sha256.Sum256([]byte("log"))
	s := NewSigner(logID, priv)

	root := &types.LogRootV1{TreeSize: 7, RootHash: [32]byte{9}}
	slr, err := s.SignLogRoot(root)
	require.NoError(t, err)

	_, err = VerifyLogRoot(&priv.PublicKey, slr)
	require.NoError(t, err)
}

func TestVerifyLogRootRejectsTamperedSignature(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	logID := sha256.Sum256([]byte("log"))
	s := NewSigner(logID, priv)

	root := &types.LogRootV1{TreeSize: 1, RootHash: [32]byte{1}}
	slr, err := s.SignLogRoot(root)
	require.NoError(t, err)
	slr.LogRootSignature[0] ^= 0xFF

	_, err = VerifyLogRoot(&priv.PublicKey, slr)
	assert.Error(t, err)
}

func TestIssueSCT(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	logID := sha256.Sum256([]byte("log"))
	s := NewSigner(logID, priv)

	sct, err := s.IssueSCT(types.EntryTypeX509, 1000, []byte("leaf"), nil)
	require.NoError(t, err)
	assert.Equal(t, logID, sct.LogID)
	assert.Equal(t, uint64(1000), sct.Timestamp)
	assert.NotEmpty(t, sct.Signature)
}
