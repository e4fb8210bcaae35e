// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package observer

import (
	"sync"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/sha3"
	"golang.org/x/exp/maps"
)

// HitMaps maps code hashes to the instruction hits of the respective code.
type HitMaps map[kiln.Hash]*HitMap

// HitMap counts how often each instruction of a piece of code was executed.
type HitMap struct {
	Code         kiln.Code
	Hits         map[uint64]uint64 // < program counter -> hits
	Instructions int               // < number of instructions in Code
}

func (m HitMaps) Clone() HitMaps {
	if m == nil {
		return nil
	}
	res := make(HitMaps, len(m))
	for hash, hits := range m {
		res[hash] = hits.Clone()
	}
	return res
}

// Merge adds the hits of other to this map.
func (m HitMaps) Merge(other HitMaps) {
	for hash, hits := range other {
		cur, found := m[hash]
		if !found {
			m[hash] = hits.Clone()
			continue
		}
		for pc, count := range hits.Hits {
			cur.Hits[pc] += count
		}
	}
}

func (h *HitMap) Clone() *HitMap {
	return &HitMap{
		Code:         h.Code,
		Hits:         maps.Clone(h.Hits),
		Instructions: h.Instructions,
	}
}

// Covered is the number of distinct instructions hit at least once.
func (h *HitMap) Covered() int {
	return len(h.Hits)
}

// coverageCacheSize is the number of code instruction maps kept in memory.
const coverageCacheSize = 1 << 10

// CoverageCollector records the executed program counters per code hash.
// Instruction counts of analyzed codes are cached and shared between clones.
type CoverageCollector struct {
	hitMaps HitMaps
	counts  *lru.Cache[kiln.Hash, int]
}

func NewCoverageCollector() *CoverageCollector {
	cache, err := lru.New[kiln.Hash, int](coverageCacheSize)
	if err != nil {
		panic(err)
	}
	return &CoverageCollector{
		hitMaps: HitMaps{},
		counts:  cache,
	}
}

func (c *CoverageCollector) Clone() *CoverageCollector {
	return &CoverageCollector{
		hitMaps: c.hitMaps.Clone(),
		counts:  c.counts,
	}
}

// HitMaps returns a copy of the hits recorded so far.
func (c *CoverageCollector) HitMaps() HitMaps {
	return c.hitMaps.Clone()
}

func (c *CoverageCollector) hit(frame *Frame, step kiln.Step) {
	if frame.CodeHash == (kiln.Hash{}) {
		frame.CodeHash = keccak256(frame.Code)
	}
	hits, found := c.hitMaps[frame.CodeHash]
	if !found {
		hits = &HitMap{
			Code:         frame.Code,
			Hits:         map[uint64]uint64{},
			Instructions: c.countInstructions(frame.CodeHash, frame.Code),
		}
		c.hitMaps[frame.CodeHash] = hits
	}
	hits.Hits[step.Pc]++
}

func (c *CoverageCollector) countInstructions(hash kiln.Hash, code kiln.Code) int {
	if count, found := c.counts.Get(hash); found {
		return count
	}
	count := countInstructions(code)
	c.counts.Add(hash, count)
	return count
}

// countInstructions counts the instructions of the given code, skipping the
// immediate data of PUSH operations.
func countInstructions(code kiln.Code) int {
	const push1, push32 = 0x60, 0x7f
	count := 0
	for i := 0; i < len(code); i++ {
		count++
		if op := code[i]; push1 <= op && op <= push32 {
			i += int(op-push1) + 1
		}
	}
	return count
}

var keccakHasherPool = sync.Pool{New: func() any { return sha3.NewLegacyKeccak256() }}

type keccakHasher interface {
	Reset()
	Write(in []byte) (int, error)
	Read(out []byte) (int, error)
}

func keccak256(data []byte) kiln.Hash {
	hasher := keccakHasherPool.Get().(keccakHasher)
	hasher.Reset()
	hasher.Write(data)
	var res kiln.Hash
	hasher.Read(res[:])
	keccakHasherPool.Put(hasher)
	return res
}
