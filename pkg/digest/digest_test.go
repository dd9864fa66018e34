package digest_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigillo-iot/sigillo/pkg/digest"
)

func TestSum_KnownVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty string",
			input: "",
			want:  "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:  "abc",
			input: "abc",
			want:  "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, digest.Sum(tc.input))
		})
	}
}

func TestSum_LowercaseHex(t *testing.T) {
	t.Parallel()

	got := digest.Sum(`{"id_batch":7}`)

	require.Len(t, got, digest.HexLen)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), got)
}

func TestSum_UTF8Bytes(t *testing.T) {
	t.Parallel()

	// Multi-byte runes hash by their UTF-8 encoding, not by code points.
	a := digest.Sum("umidità")
	b := digest.Sum("umidita")

	assert.NotEqual(t, a, b)
	assert.Len(t, a, digest.HexLen)
}

func TestConcat_HashesHexConcatenation(t *testing.T) {
	t.Parallel()

	left := digest.Sum("left leaf")
	right := digest.Sum("right leaf")

	assert.Equal(t, digest.Sum(left+right), digest.Concat(left, right))
}

func TestConcat_OrderMatters(t *testing.T) {
	t.Parallel()

	left := digest.Sum("a")
	right := digest.Sum("b")

	assert.NotEqual(t, digest.Concat(left, right), digest.Concat(right, left))
}
