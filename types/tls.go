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
	"encoding/binary"
	"fmt"
)

// The wire formats in this file follow RFC 6962 §3.2-3.4, which itself
// borrows TLS's (RFC 5246 §4) presentation language: fixed-width integers
// in network byte order, and variable-length "opaque" vectors prefixed by
// a fixed-width big-endian length. No ready-made TLS codec package is
// available in this module's dependency set, so these are hand-rolled on
// encoding/binary rather than taken from a third-party library (see
// DESIGN.md).

// appendUint24 appends a 3-byte big-endian length, the TLS "vector<0..2^24-1>"
// prefix width RFC 6962 uses for ASN.1Cert and TBSCertificate vectors.
func appendUint24(b []byte, v uint32) []byte {
	return append(b, byte(v>>16), byte(v>>8), byte(v))
}

func readUint24(b []byte) (uint32, error) {
	if len(b) < 3 {
		return 0, fmt.Errorf("tls: short buffer for uint24")
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

// appendOpaque16 appends a 2-byte-length-prefixed opaque vector.
func appendOpaque16(b []byte, data []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(data)))
	return append(b, data...)
}

// appendOpaque24 appends a 3-byte-length-prefixed opaque vector.
func appendOpaque24(b []byte, data []byte) []byte {
	b = appendUint24(b, uint32(len(data)))
	return append(b, data...)
}

func readOpaque16(b []byte) (data []byte, rest []byte, err error) {
	if len(b) < 2 {
		return nil, nil, fmt.Errorf("tls: short buffer for opaque16 length")
	}
	n := binary.BigEndian.Uint16(b)
	b = b[2:]
	if len(b) < int(n) {
		return nil, nil, fmt.Errorf("tls: short buffer for opaque16 body")
	}
	return b[:n], b[n:], nil
}

func readOpaque24(b []byte) (data []byte, rest []byte, err error) {
	n, err := readUint24(b)
	if err != nil {
		return nil, nil, err
	}
	b = b[3:]
	if len(b) < int(n) {
		return nil, nil, fmt.Errorf("tls: short buffer for opaque24 body")
	}
	return b[:n], b[n:], nil
}
