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

package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePEM(t *testing.T, dir, name string, block *pem.Block) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestLoadPrivateRoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)

	dir := t.TempDir()
	path := writePEM(t, dir, "signer.pem", &pem.Block{Type: "PRIVATE KEY", Bytes: der})

	signer, logID, err := LoadPrivate(path)
	require.NoError(t, err)
	wantID, err := LogID(priv.Public())
	require.NoError(t, err)
	assert.Equal(t, wantID, logID)
	assert.Equal(t, priv.Public(), signer.Public())
}

func TestLoadPrivateRejectsNonPEM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(path, []byte("not pem"), 0o600))
	_, _, err := LoadPrivate(path)
	assert.Error(t, err)
}

func TestLoadPublicRoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	dir := t.TempDir()
	path := writePEM(t, dir, "pub.pem", &pem.Block{Type: "PUBLIC KEY", Bytes: der})

	pub, err := LoadPublic(path)
	require.NoError(t, err)
	assert.Equal(t, &priv.PublicKey, pub)
}

func TestLoadPublicMissingFile(t *testing.T) {
	_, err := LoadPublic("/nonexistent/pub.pem")
	assert.Error(t, err)
}

func TestLogIDDeterministic(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	a, err := LogID(priv.Public())
	require.NoError(t, err)
	b, err := LogID(priv.Public())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
