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
	"context"

	"github.com/openctlog/ctlog/ctlogerr"
	"github.com/openctlog/ctlog/types"
)

// LeaseChecker reports whether the caller still holds a valid leadership
// lease. cluster/election.Election satisfies this.
type LeaseChecker interface {
	IsLeader() bool
}

// StrictStore wraps Store with the "freshness policy (strict)" spec.md
// §4.4 requires: every mutating call MUST fail if the leader's lease has
// expired. Reads pass straight through to Store, since reads MAY return
// stale data.
type StrictStore struct {
	*Store
	lease LeaseChecker
}

// NewStrict wraps s so its mutating calls require a currently-valid
// leadership lease, checked immediately before each write.
func NewStrict(s *Store, lease LeaseChecker) *StrictStore {
	return &StrictStore{Store: s, lease: lease}
}

func (s *StrictStore) checkLease() error {
	if !s.lease.IsLeader() {
		return ctlogerr.Transient(nil, "store: lease expired, refusing mutation")
	}
	return nil
}

func (s *StrictStore) AssignSequenceNumber(ctx context.Context, leafHash [32]byte, seq uint64) error {
	if err := s.checkLease(); err != nil {
		return err
	}
	return s.Store.AssignSequenceNumber(ctx, leafHash, seq)
}

func (s *StrictStore) NextAvailableSequenceNumber(ctx context.Context) (uint64, error) {
	if err := s.checkLease(); err != nil {
		return 0, err
	}
	return s.Store.NextAvailableSequenceNumber(ctx)
}

func (s *StrictStore) PublishSTH(ctx context.Context, slr *types.SignedLogRoot) error {
	if err := s.checkLease(); err != nil {
		return err
	}
	return s.Store.PublishSTH(ctx, slr)
}

func (s *StrictStore) SetServingSTH(ctx context.Context, slr *types.SignedLogRoot) error {
	if err := s.checkLease(); err != nil {
		return err
	}
	return s.Store.SetServingSTH(ctx, slr)
}

func (s *StrictStore) DeletePending(ctx context.Context, leafHash [32]byte) error {
	if err := s.checkLease(); err != nil {
		return err
	}
	return s.Store.DeletePending(ctx, leafHash)
}
