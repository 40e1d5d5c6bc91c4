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

package storage

import "fmt"

// ReadStat is the outcome of a read against the MVCC store.
type ReadStat uint8

// Read outcomes. Abort means the read observed a state that would violate
// the transaction's isolation level (an uncommitted tail of another
// transaction under SERIALIZABLE); the transaction must abort.
const (
	ReadSuccess ReadStat = iota
	ReadNotFound
	ReadAbort
)

func (s ReadStat) String() string {
	switch s {
	case ReadSuccess:
		return "Success"
	case ReadNotFound:
		return "NotFound"
	case ReadAbort:
		return "Abort"
	}
	return fmt.Sprintf("ReadStat(%d)", uint8(s))
}

// WriteStat is the outcome of an MVCC append.
type WriteStat uint8

// Write outcomes. Conflict is a write-write conflict: the version chain's
// tail is an uncommitted write of another transaction, or a commit newer
// than this transaction's begin time.
const (
	WriteOK WriteStat = iota
	WriteConflict
	WriteNotFound
)

func (s WriteStat) String() string {
	switch s {
	case WriteOK:
		return "OK"
	case WriteConflict:
		return "Conflict"
	case WriteNotFound:
		return "NotFound"
	}
	return fmt.Sprintf("WriteStat(%d)", uint8(s))
}
