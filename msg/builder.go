// Copyright 2019 eBay Inc.
// Primary authors: Simon Fell, Diego Ongaro,
//                  Raymond Kroeker, and Sathish Kandasamy.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package msg

import (
	"sort"

	"github.com/ebay/gryphon/graph"
)

// A Route is the (worker, expert thread) target of a message.
type Route struct {
	Node   int
	Thread int
}

// A Routed is one payload pair bound for a route. Experts split pairs by
// destination (the locality mapper) before handing them to the builder.
type Routed struct {
	Route Route
	Pair  Pair
}

// CreateInitMessages builds the per-worker INIT fan-out for a query: one
// message per worker, each carrying the seed payload, with the fan-out count
// as the root of every path.
func CreateInitMessages(qid uint64, parentNode, parentThread, workerCount, recvThread int,
	seed []Pair) []Message {
	out := make([]Message, 0, workerCount)
	for node := 0; node < workerCount; node++ {
		m := Message{
			Meta: Meta{
				QID:          qid,
				Step:         0,
				SenderNode:   parentNode,
				SenderThread: parentThread,
				RecverNode:   node,
				RecverThread: recvThread,
				ParentNode:   parentNode,
				ParentThread: parentThread,
				Type:         TypeInit,
				Path:         extendPath("", workerCount),
			},
		}
		if node == parentNode {
			m.Data = seed
		}
		out = append(out, m)
	}
	return out
}

// CreateNextMessages routes the outgoing pairs of one processed message to
// the next operator. Payloads larger than maxSize split into several
// messages. Every produced message extends the parent's path by the total
// fan-out. 'fallback' is where an empty output still reports its path, so
// barrier accounting never starves.
func CreateNextMessages(parent *Message, step int, routed []Routed,
	msgType Type, maxSize int, fallback Route) []Message {

	grouped := make(map[Route][]Pair)
	for i := range routed {
		grouped[routed[i].Route] = append(grouped[routed[i].Route], routed[i].Pair)
	}
	if len(grouped) == 0 {
		grouped[fallback] = nil
	}

	// Deterministic order keeps tests and logs stable.
	routes := make([]Route, 0, len(grouped))
	for route := range grouped {
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Node != routes[j].Node {
			return routes[i].Node < routes[j].Node
		}
		return routes[i].Thread < routes[j].Thread
	})

	var out []Message
	for _, route := range routes {
		pairs := grouped[route]
		for {
			m := Message{
				Meta: Meta{
					QID:          parent.Meta.QID,
					Step:         step,
					SenderNode:   parent.Meta.RecverNode,
					SenderThread: parent.Meta.RecverThread,
					RecverNode:   route.Node,
					RecverThread: route.Thread,
					ParentNode:   parent.Meta.ParentNode,
					ParentThread: parent.Meta.ParentThread,
					Type:         msgType,
					BranchInfos:  cloneBranchInfos(parent.Meta.BranchInfos),
				},
			}
			size := 0
			cut := len(pairs)
			for i := range pairs {
				size += pairs[i].approxSize()
				if size > maxSize && i > 0 {
					cut = i
					break
				}
			}
			m.Data = pairs[:cut]
			pairs = pairs[cut:]
			out = append(out, m)
			if len(pairs) == 0 {
				break
			}
		}
	}

	for i := range out {
		out[i].Meta.Path = extendPath(parent.Meta.Path, len(out))
	}
	return out
}

// CreateBranchMessages spawns one message per branch sub-query: payload
// cloned, a fresh BranchInfo pushed recording the spawner's path as the
// collector's end path. Every spawned message's own path accumulates the
// branch count, so the collector's path counter adds sub-branch arrivals
// into one completeness check.
func CreateBranchMessages(parent *Message, branchStep int, subSteps []int, msgID int) []Message {
	out := make([]Message, 0, len(subSteps))
	for index, subStep := range subSteps {
		m := Message{
			Meta: Meta{
				QID:          parent.Meta.QID,
				Step:         subStep,
				SenderNode:   parent.Meta.RecverNode,
				SenderThread: parent.Meta.RecverThread,
				RecverNode:   parent.Meta.RecverNode,
				RecverThread: parent.Meta.RecverThread,
				ParentNode:   parent.Meta.ParentNode,
				ParentThread: parent.Meta.ParentThread,
				Type:         TypeSpawn,
				Path:         extendPath(parent.Meta.Path, len(subSteps)),
				BranchInfos: append(cloneBranchInfos(parent.Meta.BranchInfos), BranchInfo{
					Key:       branchStep,
					MsgID:     msgID,
					Index:     index,
					MsgPath:   parent.Meta.Path,
					SpawnPath: extendPath(parent.Meta.Path, len(subSteps)),
					Node:      parent.Meta.RecverNode,
					Thread:    parent.Meta.RecverThread,
				}),
			},
			Data: clonePairs(parent.Data),
		}
		out = append(out, m)
	}
	return out
}

// CreateExitMessage aggregates a query's final payload back to the parent
// worker's collector thread.
func CreateExitMessage(parent *Message, results []graph.Value) Message {
	return Message{
		Meta: Meta{
			QID:          parent.Meta.QID,
			Step:         parent.Meta.Step,
			SenderNode:   parent.Meta.RecverNode,
			SenderThread: parent.Meta.RecverThread,
			RecverNode:   parent.Meta.ParentNode,
			RecverThread: parent.Meta.ParentThread,
			ParentNode:   parent.Meta.ParentNode,
			ParentThread: parent.Meta.ParentThread,
			Type:         TypeExit,
		},
		Data: []Pair{{Values: results}},
	}
}

// CreateAbortMessage converts a message into the transaction-abort signal
// carried back to the parent worker.
func CreateAbortMessage(parent *Message, reason string) Message {
	return Message{
		Meta: Meta{
			QID:          parent.Meta.QID,
			Step:         parent.Meta.Step,
			SenderNode:   parent.Meta.RecverNode,
			SenderThread: parent.Meta.RecverThread,
			RecverNode:   parent.Meta.ParentNode,
			RecverThread: parent.Meta.ParentThread,
			ParentNode:   parent.Meta.ParentNode,
			ParentThread: parent.Meta.ParentThread,
			Type:         TypeAbort,
		},
		Data: []Pair{{Values: []graph.Value{graph.StringValue(reason)}}},
	}
}

func cloneBranchInfos(infos []BranchInfo) []BranchInfo {
	if len(infos) == 0 {
		return nil
	}
	out := make([]BranchInfo, len(infos))
	copy(out, infos)
	return out
}

func clonePairs(pairs []Pair) []Pair {
	out := make([]Pair, len(pairs))
	for i := range pairs {
		out[i].History = pairs[i].History.Clone()
		out[i].Values = append([]graph.Value(nil), pairs[i].Values...)
	}
	return out
}
