package merkle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigillo-iot/sigillo/pkg/digest"
	"github.com/sigillo-iot/sigillo/pkg/merkle"
)

func leaves(n int) ([]int64, []string) {
	ids := make([]int64, n)
	hashes := make([]string, n)

	for i := 0; i < n; i++ {
		ids[i] = int64(i)
		hashes[i] = digest.Sum(string(rune('a' + i)))
	}

	return ids, hashes
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	_, err := merkle.Build(nil, nil)
	assert.ErrorIs(t, err, merkle.ErrNoLeaves)

	ids, hashes := leaves(4)

	_, err = merkle.Build(ids[:3], hashes)
	assert.ErrorIs(t, err, merkle.ErrIDCountMismatch)

	_, err = merkle.Build(ids[:3], hashes[:3])
	assert.ErrorIs(t, err, merkle.ErrNotPowerOfTwo)
}

func TestBuild_SingleLeaf(t *testing.T) {
	t.Parallel()

	ids, hashes := leaves(1)

	tree, err := merkle.Build(ids, hashes)
	require.NoError(t, err)

	assert.Equal(t, hashes[0], tree.Root())

	proof, ok := tree.Proof(0)
	require.True(t, ok)
	assert.Empty(t, proof.Directions)
	assert.Empty(t, proof.Siblings)
	assert.True(t, merkle.VerifyLeaf(hashes[0], proof, tree.Root()))
}

func TestBuild_TwoLeaves(t *testing.T) {
	t.Parallel()

	ids, hashes := leaves(2)

	tree, err := merkle.Build(ids, hashes)
	require.NoError(t, err)

	assert.Equal(t, digest.Concat(hashes[0], hashes[1]), tree.Root())

	left, ok := tree.Proof(0)
	require.True(t, ok)
	assert.Equal(t, "0", left.Directions)
	assert.Equal(t, []string{hashes[1]}, left.Siblings)

	right, ok := tree.Proof(1)
	require.True(t, ok)
	assert.Equal(t, "1", right.Directions)
	assert.Equal(t, []string{hashes[0]}, right.Siblings)
}

func TestBuild_FourLeaves_RootAndDepth(t *testing.T) {
	t.Parallel()

	ids, hashes := leaves(4)

	tree, err := merkle.Build(ids, hashes)
	require.NoError(t, err)

	wantRoot := digest.Concat(
		digest.Concat(hashes[0], hashes[1]),
		digest.Concat(hashes[2], hashes[3]),
	)
	assert.Equal(t, wantRoot, tree.Root())

	for _, id := range ids {
		proof, ok := tree.Proof(id)
		require.True(t, ok)
		assert.Len(t, proof.Siblings, 2)
		assert.Len(t, proof.Directions, 2)
	}
}

func TestVerifyLeaf_AllLeavesOfLargerTree(t *testing.T) {
	t.Parallel()

	ids, hashes := leaves(16)

	tree, err := merkle.Build(ids, hashes)
	require.NoError(t, err)

	for i, id := range ids {
		proof, ok := tree.Proof(id)
		require.True(t, ok)
		assert.True(t, merkle.VerifyLeaf(hashes[i], proof, tree.Root()), "leaf %d", id)
	}
}

func TestVerifyLeaf_DetectsTampering(t *testing.T) {
	t.Parallel()

	ids, hashes := leaves(8)

	tree, err := merkle.Build(ids, hashes)
	require.NoError(t, err)

	proof, ok := tree.Proof(3)
	require.True(t, ok)

	tampered := digest.Sum("tampered measurement")
	assert.False(t, merkle.VerifyLeaf(tampered, proof, tree.Root()))

	// A valid leaf against the wrong root must fail too.
	assert.False(t, merkle.VerifyLeaf(hashes[3], proof, digest.Sum("not the root")))
}

func TestVerifyLeaf_MalformedProof(t *testing.T) {
	t.Parallel()

	ids, hashes := leaves(4)

	tree, err := merkle.Build(ids, hashes)
	require.NoError(t, err)

	proof, ok := tree.Proof(1)
	require.True(t, ok)

	short := merkle.Proof{Directions: proof.Directions[:1], Siblings: proof.Siblings}
	assert.False(t, merkle.VerifyLeaf(hashes[1], short, tree.Root()))

	bad := merkle.Proof{Directions: "x0", Siblings: proof.Siblings}
	assert.False(t, merkle.VerifyLeaf(hashes[1], bad, tree.Root()))
}

func TestBuild_ProofKeyedByID(t *testing.T) {
	t.Parallel()

	// Leaf ids are arbitrary identifiers, not positions: the batch leaf
	// occupies position 0 under reserved id 0 and measurements follow.
	ids := []int64{0, 101, 102, 103}
	hashes := []string{
		digest.Sum("batch"),
		digest.Sum("m101"),
		digest.Sum("m102"),
		digest.Sum("m103"),
	}

	tree, err := merkle.Build(ids, hashes)
	require.NoError(t, err)

	for i, id := range ids {
		proof, ok := tree.Proof(id)
		require.True(t, ok, "id %d", id)
		assert.True(t, merkle.VerifyLeaf(hashes[i], proof, tree.Root()))
	}
}

func TestPathsDocument_StringKeys(t *testing.T) {
	t.Parallel()

	ids := []int64{0, 12}
	hashes := []string{digest.Sum("b"), digest.Sum("m")}

	tree, err := merkle.Build(ids, hashes)
	require.NoError(t, err)

	doc := tree.PathsDocument()
	require.Len(t, doc, 2)

	assert.Contains(t, doc, "0")
	assert.Contains(t, doc, "12")
	assert.Equal(t, "0", doc["0"].Directions)
	assert.Equal(t, "1", doc["12"].Directions)
}

func TestIsPowerOfTwo(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 4, 64, 1024} {
		assert.True(t, merkle.IsPowerOfTwo(n), "n=%d", n)
	}

	for _, n := range []int{0, -4, 3, 6, 1023} {
		assert.False(t, merkle.IsPowerOfTwo(n), "n=%d", n)
	}
}
