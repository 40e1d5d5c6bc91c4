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

// Package graph defines the identifier and value types shared by the storage
// layer, the query planner, and the operator experts.
package graph

import (
	"fmt"
)

// Identifier widths. A VID fits in 26 bits, so an EID (two VIDs) fits in 52
// and leaves PIDBits for a property key id.
const (
	VIDBits = 26
	EIDBits = VIDBits * 2
	PIDBits = 64 - EIDBits
)

// MaxVID is the largest assignable vertex id.
const MaxVID = 1<<VIDBits - 1

// A Label identifies a vertex label, edge label, or property key, mapped from
// its string form by the loader's string index.
type Label uint8

// A VID is a globally unique vertex identifier. Uniqueness across workers
// comes from the assignment rule vid = counter*workerCount + workerRank.
type VID uint32

// Worker returns the rank of the worker that owns this vertex.
func (v VID) Worker(workerCount int) int {
	return int(uint32(v) % uint32(workerCount))
}

func (v VID) String() string {
	return fmt.Sprintf("v[%d]", uint32(v))
}

// An EID identifies an edge by its two endpoints: (outVID << VIDBits) | inVID.
// The edge is directed out → in.
type EID uint64

// NewEID builds the identifier of the edge from 'out' to 'in'.
func NewEID(out, in VID) EID {
	return EID(uint64(out)<<VIDBits | uint64(in))
}

// Out returns the source vertex of the edge.
func (e EID) Out() VID {
	return VID(uint64(e) >> VIDBits)
}

// In returns the destination vertex of the edge.
func (e EID) In() VID {
	return VID(uint64(e) & MaxVID)
}

func (e EID) String() string {
	return fmt.Sprintf("e[%d->%d]", uint32(e.Out()), uint32(e.In()))
}

// A VPID identifies one property of one vertex: (vid << PIDBits) | pkey.
type VPID uint64

// NewVPID builds the property id for property key 'pkey' of vertex 'vid'.
func NewVPID(vid VID, pkey Label) VPID {
	return VPID(uint64(vid)<<PIDBits | uint64(pkey))
}

// VID returns the owning vertex.
func (p VPID) VID() VID {
	return VID(uint64(p) >> PIDBits)
}

// PKey returns the property key id.
func (p VPID) PKey() Label {
	return Label(uint64(p) & (1<<PIDBits - 1))
}

func (p VPID) String() string {
	return fmt.Sprintf("vp[%d.%d]", uint32(p.VID()), p.PKey())
}

// An EPID identifies one property of one edge: (eid << PIDBits) | pkey.
// Only the low 52 bits of the EID are significant, so the shift is safe.
type EPID uint64

// NewEPID builds the property id for property key 'pkey' of edge 'eid'.
func NewEPID(eid EID, pkey Label) EPID {
	return EPID(uint64(eid)<<PIDBits | uint64(pkey))
}

// EID returns the owning edge.
func (p EPID) EID() EID {
	return EID(uint64(p) >> PIDBits)
}

// PKey returns the property key id.
func (p EPID) PKey() Label {
	return Label(uint64(p) & (1<<PIDBits - 1))
}

func (p EPID) String() string {
	e := p.EID()
	return fmt.Sprintf("ep[%d->%d.%d]", uint32(e.Out()), uint32(e.In()), p.PKey())
}

// ElementType distinguishes the two graph element kinds an operator can
// consume or produce.
type ElementType uint8

// The element types.
const (
	Vertex ElementType = iota + 1
	Edge
)

func (t ElementType) String() string {
	switch t {
	case Vertex:
		return "V"
	case Edge:
		return "E"
	}
	return fmt.Sprintf("ElementType(%d)", uint8(t))
}

// Direction is the traversal direction relative to the input vertex.
type Direction uint8

// The traversal directions.
const (
	DirIn Direction = iota
	DirOut
	DirBoth
)

func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	case DirBoth:
		return "both"
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}
