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

import "time"

// NodeState is what each node in the cluster heartbeats into
// /nodes/<node_id>: the STH it has signed or adopted, and the largest
// tree size it holds contiguously in its local entry database.
type NodeState struct {
	NodeID             string
	NewestSTH          *SignedLogRoot
	ContiguousTreeSize uint64
	UpdatedAt          time.Time
}

// ClusterConfig is the cluster-wide policy published under
// /cluster_config: how fresh a serving STH must be, and how many nodes
// must hold an entry before it counts toward quorum.
type ClusterConfig struct {
	ServingFreshness time.Duration
	Quorum           int
}
