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

// Package election is lease-based leader election over the consistent
// store: exactly one node at a time may run the Tree Signer loop. It
// wraps etcd's own concurrency primitives (a lease-backed Session plus
// the Election recipe built on top of it) rather than reimplementing
// CAS-based campaign logic, since that is the KV store's native
// mechanism for exactly this problem.
package election

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/golang/glog"

	"github.com/openctlog/ctlog/ctlogerr"
)

// Election campaigns for leadership of a single log under /election/.
// Only one node observes itself as leader at any wall-clock instant; the
// trust boundary is the consistent store itself (no Byzantine
// protection, per spec).
type Election struct {
	nodeID  string
	session *concurrency.Session
	elec    *concurrency.Election
	leading bool
}

// New creates an Election for nodeID, rooted under the log's
// "/ctlog/<logID>/election/" prefix. leaseTTL bounds how long a campaign
// or held leadership survives the owning process going silent.
func New(ctx context.Context, client *clientv3.Client, logID, nodeID string, leaseTTL int) (*Election, error) {
	sess, err := concurrency.NewSession(client, concurrency.WithTTL(leaseTTL))
	if err != nil {
		return nil, ctlogerr.Transient(err, "election: new session")
	}
	return &Election{
		nodeID:  nodeID,
		session: sess,
		elec:    concurrency.NewElection(sess, fmt.Sprintf("/ctlog/%s/election/", logID)),
	}, nil
}

// Campaign blocks until this node wins leadership or ctx is cancelled.
// The winner is whichever campaigning proposal has the lowest creation
// revision, per etcd's election recipe -- the same "lowest creation
// index wins" rule spec.md §4.5 specifies.
func (e *Election) Campaign(ctx context.Context) error {
	if err := e.elec.Campaign(ctx, e.nodeID); err != nil {
		return ctlogerr.Transient(err, "election: campaign")
	}
	e.leading = true
	glog.Infof("election: %s won leadership", e.nodeID)
	return nil
}

// IsLeader reports whether this node currently believes it holds
// leadership. It is a local, cheap check -- callers that need the
// stronger "is my lease still valid right now" guarantee should also
// select on Done().
func (e *Election) IsLeader() bool {
	select {
	case <-e.session.Done():
		return false
	default:
		return e.leading
	}
}

// Done returns a channel that closes strictly before the leadership
// lease is considered expired by peers (it is the session's own lease
// keepalive channel closing), satisfying spec.md §4.5's "callback fired
// strictly before the lease is considered expired".
func (e *Election) Done() <-chan struct{} {
	return e.session.Done()
}

// Resign voluntarily gives up leadership, e.g. before the Tree Signer
// publishes an STH it is no longer confident it may sign.
func (e *Election) Resign(ctx context.Context) error {
	e.leading = false
	if err := e.elec.Resign(ctx); err != nil {
		return ctlogerr.Transient(err, "election: resign")
	}
	return nil
}

// Close releases the underlying lease immediately, causing any other
// campaigning node to win within one TTL instead of waiting out this
// node's full lease.
func (e *Election) Close() error {
	e.leading = false
	return e.session.Close()
}
