// Copyright 2024 Google LLC. All Rights Reserved.
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
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"golang.org/x/mod/sumdb/note"

	"github.com/openctlog/ctlog/types"
)

// checkpointSigner adapts our Signer to note.Signer so STHs can also be
// exported as a sunlight-style signed checkpoint (a note): a growing base
// of external tooling speaks this format, even though RFC 6962's own
// get-sth JSON is this log's primary STH representation.
type checkpointSigner struct {
	origin string
	signer *Signer
}

// NewCheckpointSigner returns a note.Signer over STHs for the named log
// origin (conventionally the log's submission host, per the checkpoint
// convention; see C2SP sunlight.md).
func NewCheckpointSigner(origin string, signer *Signer) note.Signer {
	return &checkpointSigner{origin: origin, signer: signer}
}

func (s *checkpointSigner) Name() string { return s.origin }

// KeyHash is the note format's 4-byte key identifier: a hash of the
// signer's name and the log's RFC 6962 public key, per the note package's
// convention for non-Ed25519 signature schemes (see note.Signer).
func (s *checkpointSigner) KeyHash() uint32 {
	h := sha256.New()
	h.Write([]byte(s.origin))
	h.Write([]byte{0x0A})
	h.Write(s.signer.LogID[:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}

// Sign produces the note signature line's payload: the log key's ECDSA
// or RSA signature over msg, keyed the same way SignLogRoot signs an STH.
func (s *checkpointSigner) Sign(msg []byte) ([]byte, error) {
	return s.signer.sign(msg)
}

// ExportCheckpoint renders root as a signed note-format checkpoint body:
// "<origin>\n<size>\n<base64 root hash>\n", signed.
func ExportCheckpoint(origin string, root *types.LogRootV1, signer *Signer) ([]byte, error) {
	body := fmt.Sprintf("%s\n%d\n%s\n", origin, root.TreeSize, base64.StdEncoding.EncodeToString(root.RootHash[:]))
	n := &note.Note{Text: body}
	signed, err := note.Sign(n, NewCheckpointSigner(origin, signer))
	if err != nil {
		return nil, fmt.Errorf("crypto: sign checkpoint: %w", err)
	}
	return signed, nil
}
