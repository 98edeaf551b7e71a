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

// Package mysql is a MySQL-backed EntryStorage, for production
// deployments where local state must survive a process restart without
// a full replay from a peer.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" sql.DB driver

	"github.com/openctlog/ctlog/storage"
	"github.com/openctlog/ctlog/types"
)

const (
	insertEntrySQL = `INSERT INTO SequencedEntry(Sequence,LeafHash,LeafInput,ExtraData,EntryType,Timestamp,IntegrateTimestampNanos)
		VALUES (?,?,?,?,?,?,?)`

	selectRangeSQL = `SELECT Sequence,LeafHash,LeafInput,ExtraData,EntryType,Timestamp
		FROM SequencedEntry WHERE Sequence >= ? AND Sequence < ? ORDER BY Sequence ASC`

	selectByHashSQL = `SELECT Sequence,LeafHash,LeafInput,ExtraData,EntryType,Timestamp
		FROM SequencedEntry WHERE LeafHash = ?`

	// selectFirstGapSQL finds the smallest sequence number with no row,
	// considering both 0 (the start of the log) and every Sequence+1
	// (the number immediately after a present row) as candidates. The
	// smallest absent candidate is exactly one past the largest
	// gap-free prefix starting at 0: entries can arrive out of order
	// (fetcher/fetcher.go fetches windows concurrently), so a real
	// mid-range gap, not just a missing suffix, must be detected.
	selectFirstGapSQL = `
		SELECT MIN(candidate) FROM (
			SELECT 0 AS candidate
			UNION ALL
			SELECT Sequence + 1 FROM SequencedEntry
		) candidates
		WHERE NOT EXISTS (
			SELECT 1 FROM SequencedEntry e WHERE e.Sequence = candidates.candidate
		)`

	insertTreeHeadSQL = `INSERT INTO TreeHead(TreeSize,TimestampNanos,Revision,LogRoot,LogRootSignature)
		VALUES (?,?,?,?,?)`

	selectLatestTreeHeadSQL = `SELECT LogRoot,LogRootSignature FROM TreeHead ORDER BY Revision DESC LIMIT 1`
)

// Storage is a MySQL-backed EntryStorage.
type Storage struct {
	db *sql.DB
}

// New wraps an already-open database handle. The caller owns the
// connection pool's lifecycle (DB.Close).
func New(db *sql.DB) *Storage {
	return &Storage{db: db}
}

var _ storage.EntryStorage = (*Storage)(nil)

func (s *Storage) WriteSequenced(ctx context.Context, entries []storage.SequencedEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mysql: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEntrySQL)
	if err != nil {
		return fmt.Errorf("mysql: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Sequence, e.LeafHash[:], e.Entry.LeafInput, append([]byte{}, e.Entry.ExtraData...),
			e.Entry.EntryType, e.Entry.Timestamp, e.IntegratedAt.UnixNano()); err != nil {
			return fmt.Errorf("mysql: insert sequence %d: %w", e.Sequence, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql: commit: %w", err)
	}
	return nil
}

func (s *Storage) ReadRange(ctx context.Context, start, count uint64) ([]storage.SequencedEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectRangeSQL, start, start+count)
	if err != nil {
		return nil, fmt.Errorf("mysql: select range: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Storage) ReadByLeafHash(ctx context.Context, leafHash [32]byte) (*storage.SequencedEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectByHashSQL, leafHash[:])
	if err != nil {
		return nil, fmt.Errorf("mysql: select by hash: %w", err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func scanEntries(rows *sql.Rows) ([]storage.SequencedEntry, error) {
	var out []storage.SequencedEntry
	for rows.Next() {
		var e storage.SequencedEntry
		var hash []byte
		if err := rows.Scan(&e.Sequence, &hash, &e.Entry.LeafInput, &e.Entry.ExtraData, &e.Entry.EntryType, &e.Entry.Timestamp); err != nil {
			return nil, fmt.Errorf("mysql: scan: %w", err)
		}
		copy(e.LeafHash[:], hash)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestContiguousSequence returns one past the largest prefix with no
// gaps. Windows are written concurrently by the fetcher, so a gap can
// land anywhere in the range, not just at the end; selectFirstGapSQL
// finds the true first missing sequence number rather than assuming a
// missing suffix.
func (s *Storage) LatestContiguousSequence(ctx context.Context) (uint64, error) {
	var gap sql.NullInt64
	if err := s.db.QueryRowContext(ctx, selectFirstGapSQL).Scan(&gap); err != nil {
		return 0, fmt.Errorf("mysql: select contiguous: %w", err)
	}
	if !gap.Valid {
		return 0, nil
	}
	return uint64(gap.Int64), nil
}

func (s *Storage) StoreTreeHead(ctx context.Context, slr *types.SignedLogRoot) error {
	var root types.LogRootV1
	if err := root.UnmarshalBinary(slr.LogRoot); err != nil {
		return fmt.Errorf("mysql: unmarshal log root: %w", err)
	}
	_, err := s.db.ExecContext(ctx, insertTreeHeadSQL, root.TreeSize, root.TimestampNanos, root.Revision,
		slr.LogRoot, slr.LogRootSignature)
	if err != nil {
		return fmt.Errorf("mysql: insert tree head: %w", err)
	}
	return nil
}

func (s *Storage) LatestTreeHead(ctx context.Context) (*types.SignedLogRoot, error) {
	var slr types.SignedLogRoot
	err := s.db.QueryRowContext(ctx, selectLatestTreeHeadSQL).Scan(&slr.LogRoot, &slr.LogRootSignature)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mysql: select latest tree head: %w", err)
	}
	return &slr, nil
}
