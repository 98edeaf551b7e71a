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

package store

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/openctlog/ctlog/types"
)

// Values stored in etcd are length-delimited binary records (a fixed
// field order, not a self-describing format) -- matching spec.md's "as
// in §4.4. Values are length-delimited binary-encoded structured
// records". These helpers encode every value this package stores except
// the sequence counter, which NextAvailableSequenceNumber keeps as a bare
// 8-byte big-endian integer.

func appendBytes(b []byte, v []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
	return append(b, v...)
}

func readBytes(b []byte) (v, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("store: short buffer reading length")
	}
	n := binary.BigEndian.Uint32(b)
	b = b[4:]
	if len(b) < int(n) {
		return nil, nil, fmt.Errorf("store: short buffer reading %d bytes", n)
	}
	return b[:n], b[n:], nil
}

func encodePending(p types.PendingEntry) []byte {
	b := make([]byte, 0, 64+len(p.Entry.LeafInput)+len(p.Entry.ExtraData))
	b = append(b, p.LeafHash[:]...)
	b = binary.BigEndian.AppendUint64(b, p.PromisedTimestamp)
	b = append(b, byte(p.Entry.EntryType))
	b = binary.BigEndian.AppendUint64(b, p.Entry.Timestamp)
	b = appendBytes(b, p.Entry.LeafInput)
	b = appendBytes(b, p.Entry.ExtraData)
	return b
}

func decodePending(b []byte) (PendingRecord, error) {
	if len(b) < 32+8+1+8 {
		return PendingRecord{}, fmt.Errorf("store: pending record too short")
	}
	var p PendingRecord
	copy(p.LeafHash[:], b[:32])
	b = b[32:]
	p.PromisedTimestamp = binary.BigEndian.Uint64(b[:8])
	b = b[8:]
	p.Entry.EntryType = types.EntryType(b[0])
	b = b[1:]
	p.Entry.Timestamp = binary.BigEndian.Uint64(b[:8])
	b = b[8:]
	var err error
	p.Entry.LeafInput, b, err = readBytes(b)
	if err != nil {
		return PendingRecord{}, err
	}
	p.Entry.ExtraData, _, err = readBytes(b)
	if err != nil {
		return PendingRecord{}, err
	}
	return p, nil
}

func encodeSLR(slr *types.SignedLogRoot) []byte {
	b := appendBytes(nil, slr.LogRoot)
	b = appendBytes(b, slr.LogRootSignature)
	return b
}

func decodeSLR(b []byte) (*types.SignedLogRoot, error) {
	root, rest, err := readBytes(b)
	if err != nil {
		return nil, err
	}
	sig, _, err := readBytes(rest)
	if err != nil {
		return nil, err
	}
	return &types.SignedLogRoot{LogRoot: root, LogRootSignature: sig}, nil
}

func encodeNodeState(n types.NodeState) []byte {
	b := appendBytes(nil, []byte(n.NodeID))
	if n.NewestSTH != nil {
		b = append(b, 1)
		b = append(b, encodeSLR(n.NewestSTH)...)
	} else {
		b = append(b, 0)
	}
	b = binary.BigEndian.AppendUint64(b, n.ContiguousTreeSize)
	b = binary.BigEndian.AppendUint64(b, uint64(n.UpdatedAt.UnixNano()))
	return b
}

func decodeNodeState(b []byte) (types.NodeState, error) {
	var n types.NodeState
	idBytes, b, err := readBytes(b)
	if err != nil {
		return n, err
	}
	n.NodeID = string(idBytes)
	if len(b) < 1 {
		return n, fmt.Errorf("store: node state: missing sth flag")
	}
	hasSTH := b[0]
	b = b[1:]
	if hasSTH == 1 {
		root, rest, err := readBytes(b)
		if err != nil {
			return n, err
		}
		sig, rest2, err := readBytes(rest)
		if err != nil {
			return n, err
		}
		n.NewestSTH = &types.SignedLogRoot{LogRoot: root, LogRootSignature: sig}
		b = rest2
	}
	if len(b) < 16 {
		return n, fmt.Errorf("store: node state: short trailer")
	}
	n.ContiguousTreeSize = binary.BigEndian.Uint64(b[:8])
	n.UpdatedAt = time.Unix(0, int64(binary.BigEndian.Uint64(b[8:16])))
	return n, nil
}

func encodeClusterConfig(c types.ClusterConfig) []byte {
	b := binary.BigEndian.AppendUint64(nil, uint64(c.ServingFreshness))
	b = binary.BigEndian.AppendUint64(b, uint64(c.Quorum))
	return b
}

func decodeClusterConfig(b []byte) (types.ClusterConfig, error) {
	if len(b) != 16 {
		return types.ClusterConfig{}, fmt.Errorf("store: cluster config: want 16 bytes, got %d", len(b))
	}
	return types.ClusterConfig{
		ServingFreshness: time.Duration(binary.BigEndian.Uint64(b[:8])),
		Quorum:           int(binary.BigEndian.Uint64(b[8:16])),
	}, nil
}
