// Package merkle builds Merkle trees over an ordered set of leaf digests and
// produces a compact membership proof for every leaf in a single pass.
//
// A proof is a direction string plus one sibling digest per level. Direction
// '0' at position i means the running hash was the left operand at level i,
// '1' means it was the right operand. Verification folds the siblings back
// into a root using the same hex-concatenation combiner the builder used, so
// a proof from one process verifies in any other.
package merkle

import (
	"errors"
	"strconv"

	"github.com/sigillo-iot/sigillo/pkg/digest"
)

var (
	// ErrNoLeaves is returned when Build is called with no leaves.
	ErrNoLeaves = errors.New("merkle: no leaves")

	// ErrNotPowerOfTwo is returned when the leaf count cannot form a
	// complete binary tree.
	ErrNotPowerOfTwo = errors.New("merkle: leaf count is not a power of two")

	// ErrIDCountMismatch is returned when ids and hashes differ in length.
	ErrIDCountMismatch = errors.New("merkle: id and hash counts differ")
)

// Proof is the compact membership proof for one leaf: one direction
// character and one sibling digest per tree level, ordered leaf to root.
type Proof struct {
	Directions string   `json:"dir"`
	Siblings   []string `json:"hash"`
}

// Tree is an immutable Merkle tree with per-leaf proofs keyed by leaf id.
type Tree struct {
	root   string
	proofs map[int64]Proof
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Build constructs the tree over hashes, which must already be in leaf
// order. ids carries the leaf identifier for each position and is used only
// to key the proofs. The leaf count must be a power of two.
func Build(ids []int64, hashes []string) (*Tree, error) {
	if len(hashes) == 0 {
		return nil, ErrNoLeaves
	}

	if len(ids) != len(hashes) {
		return nil, ErrIDCountMismatch
	}

	if !IsPowerOfTwo(len(hashes)) {
		return nil, ErrNotPowerOfTwo
	}

	acc := make(map[int64]*proofAcc, len(ids))
	for _, id := range ids {
		acc[id] = &proofAcc{}
	}

	level := make([]string, len(hashes))
	copy(level, hashes)

	// One id group per node; pairs merge as levels collapse.
	groups := make([][]int64, len(ids))
	for i, id := range ids {
		groups[i] = []int64{id}
	}

	for len(level) > 1 {
		nextLevel := make([]string, 0, len(level)/2)
		nextGroups := make([][]int64, 0, len(groups)/2)

		for i := 0; i < len(level); i += 2 {
			left, right := level[i], level[i+1]

			for _, id := range groups[i] {
				acc[id].extend('0', right)
			}

			for _, id := range groups[i+1] {
				acc[id].extend('1', left)
			}

			merged := make([]int64, 0, len(groups[i])+len(groups[i+1]))
			merged = append(merged, groups[i]...)
			merged = append(merged, groups[i+1]...)

			nextLevel = append(nextLevel, digest.Concat(left, right))
			nextGroups = append(nextGroups, merged)
		}

		level = nextLevel
		groups = nextGroups
	}

	proofs := make(map[int64]Proof, len(acc))
	for id, pa := range acc {
		proofs[id] = Proof{Directions: string(pa.dirs), Siblings: pa.sibs}
	}

	return &Tree{root: level[0], proofs: proofs}, nil
}

// Root returns the root digest.
func (t *Tree) Root() string {
	return t.root
}

// Proof returns the proof for the given leaf id.
func (t *Tree) Proof(id int64) (Proof, bool) {
	p, ok := t.proofs[id]

	return p, ok
}

// Proofs returns all proofs keyed by leaf id. The map is shared; callers
// must not mutate it.
func (t *Tree) Proofs() map[int64]Proof {
	return t.proofs
}

// PathsDocument returns the proofs keyed by the decimal string of each leaf
// id, the form the paths artifact is serialized in.
func (t *Tree) PathsDocument() map[string]Proof {
	doc := make(map[string]Proof, len(t.proofs))
	for id, p := range t.proofs {
		doc[strconv.FormatInt(id, 10)] = p
	}

	return doc
}

// VerifyLeaf folds proof back into a root starting from leafHash and reports
// whether it matches root. Malformed proofs verify as false, never panic.
func VerifyLeaf(leafHash string, proof Proof, root string) bool {
	if len(proof.Directions) != len(proof.Siblings) {
		return false
	}

	h := leafHash

	for i := 0; i < len(proof.Directions); i++ {
		switch proof.Directions[i] {
		case '0':
			h = digest.Concat(h, proof.Siblings[i])
		case '1':
			h = digest.Concat(proof.Siblings[i], h)
		default:
			return false
		}
	}

	return h == root
}

type proofAcc struct {
	dirs []byte
	sibs []string
}

func (pa *proofAcc) extend(dir byte, sibling string) {
	pa.dirs = append(pa.dirs, dir)
	pa.sibs = append(pa.sibs, sibling)
}
