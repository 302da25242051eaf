package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// validEpk returns a non-zero 32-byte ephemeral key — any non-zero
// value is a valid input to the stand-in ECDH step; only the all-zero
// sentinel compact.ApplySpamFilter writes is rejected.
func validEpk(t *testing.T) [32]byte {
	t.Helper()
	return [32]byte{0xaa, 0xbb, 0xcc, 0x01}
}

func TestSharedSecretRejectsZeroEphemeralKey(t *testing.T) {
	_, ok := sharedSecret(IncomingViewingKey{1, 2, 3}, [32]byte{})
	require.False(t, ok)
}

func TestSharedSecretsBatchMatchesSequential(t *testing.T) {
	pairs := make([]ecdhPair, 20)
	for i := range pairs {
		pairs[i] = ecdhPair{IVK: IncomingViewingKey{byte(i), 1, 2}, EphemeralKey: [32]byte{byte(i + 1)}}
	}
	pairs[5].EphemeralKey = [32]byte{} // spam-filtered sentinel, must be excluded

	shared, ok := sharedSecretsBatch(pairs)
	require.Len(t, shared, len(pairs))
	for i, p := range pairs {
		wantShared, wantOk := sharedSecret(p.IVK, p.EphemeralKey)
		require.Equal(t, wantOk, ok[i], "index %d", i)
		if wantOk {
			require.Equal(t, wantShared, shared[i], "index %d", i)
		}
	}
}

func TestTrialDecryptRoundTrip(t *testing.T) {
	epk := validEpk(t)
	ivk := IncomingViewingKey{9, 9, 9, 9}

	shared, ok := sharedSecret(ivk, epk)
	require.True(t, ok)

	ksym := symmetricKey(saplingKDFPersonalization, shared, epk)

	var plain [52]byte
	plain[0] = zip212Sentinel
	copy(plain[1:12], []byte("diversifier"))
	binary.LittleEndian.PutUint64(plain[12:20], 42_000_000)
	for i := range plain[20:52] {
		plain[20+i] = byte(i + 1)
	}

	ciphertext, err := decryptCiphertext(ksym, plain)
	require.NoError(t, err)

	note, ok := parsePlaintext(plain)
	require.True(t, ok)
	cmu := noteCommitment(saplingCmPersonalization, ivk, note)

	out := CompactOutput{EphemeralKey: epk, CipherText: ciphertext, Commitment: cmu}
	got, ok := trialDecrypt(saplingKDFPersonalization, saplingCmPersonalization, ivk, out)
	require.True(t, ok)
	require.Equal(t, note, got)
}

func TestTrialDecryptRejectsWrongCommitment(t *testing.T) {
	epk := validEpk(t)
	ivk := IncomingViewingKey{1}

	shared, ok := sharedSecret(ivk, epk)
	require.True(t, ok)
	ksym := symmetricKey(orchardKDFPersonalization, shared, epk)

	var plain [52]byte
	plain[0] = zip212Sentinel
	ciphertext, err := decryptCiphertext(ksym, plain)
	require.NoError(t, err)

	out := CompactOutput{EphemeralKey: epk, CipherText: ciphertext, Commitment: Node{0xde, 0xad}}
	_, ok = trialDecrypt(orchardKDFPersonalization, orchardCmPersonalization, ivk, out)
	require.False(t, ok)
}

func TestTrialDecryptRejectsBadVersion(t *testing.T) {
	epk := validEpk(t)
	ivk := IncomingViewingKey{5, 5}

	shared, ok := sharedSecret(ivk, epk)
	require.True(t, ok)
	ksym := symmetricKey(saplingKDFPersonalization, shared, epk)

	var plain [52]byte
	plain[0] = 0x01 // not zip212Sentinel
	ciphertext, err := decryptCiphertext(ksym, plain)
	require.NoError(t, err)

	out := CompactOutput{EphemeralKey: epk, CipherText: ciphertext}
	_, ok = trialDecrypt(saplingKDFPersonalization, saplingCmPersonalization, ivk, out)
	require.False(t, ok)
}

func TestBatchTrialDecryptMatchesSequential(t *testing.T) {
	var inputs []TrialDecryptInput
	for i := 0; i < 10; i++ {
		ivk := IncomingViewingKey{byte(i), 7}
		epk := [32]byte{byte(i + 1), 0x42}

		shared, ok := sharedSecret(ivk, epk)
		require.True(t, ok)
		ksym := symmetricKey(saplingKDFPersonalization, shared, epk)

		var plain [52]byte
		plain[0] = zip212Sentinel
		binary.LittleEndian.PutUint64(plain[12:20], uint64(i)*1000)
		ciphertext, err := decryptCiphertext(ksym, plain)
		require.NoError(t, err)

		note, ok := parsePlaintext(plain)
		require.True(t, ok)
		cmu := noteCommitment(saplingCmPersonalization, ivk, note)

		inputs = append(inputs, TrialDecryptInput{
			IVK: ivk,
			Out: CompactOutput{EphemeralKey: epk, CipherText: ciphertext, Commitment: cmu},
		})
	}
	// one entry that never decrypts, to check the batch doesn't shift
	// other results out of position.
	inputs = append(inputs, TrialDecryptInput{
		IVK: IncomingViewingKey{0xff},
		Out: CompactOutput{EphemeralKey: [32]byte{}, Commitment: Node{0xde, 0xad}},
	})

	got := batchTrialDecrypt(saplingKDFPersonalization, saplingCmPersonalization, inputs)
	require.Len(t, got, len(inputs))
	for i, in := range inputs {
		want, wantOk := trialDecrypt(saplingKDFPersonalization, saplingCmPersonalization, in.IVK, in.Out)
		require.Equal(t, wantOk, got[i].Ok, "index %d", i)
		if wantOk {
			require.Equal(t, want, got[i].Note, "index %d", i)
		}
	}
}

func TestLevelHashDeterministic(t *testing.T) {
	l := Node{1}
	r := Node{2}
	a := levelHash(saplingHashPersonalization, 3, l, r)
	b := levelHash(saplingHashPersonalization, 3, l, r)
	require.Equal(t, a, b)

	c := levelHash(orchardHashPersonalization, 3, l, r)
	require.NotEqual(t, a, c, "pools must not collide on level hashes")
}

func TestLevelHashParallelMatchesSequential(t *testing.T) {
	pairs := make([][2]Node, 50)
	for i := range pairs {
		pairs[i] = [2]Node{{byte(i)}, {byte(i + 1)}}
	}

	got := levelHashParallel(saplingHashPersonalization, 7, pairs)
	require.Len(t, got, len(pairs))
	for i, p := range pairs {
		want := levelHash(saplingHashPersonalization, 7, p[0], p[1])
		require.Equal(t, want, got[i], "index %d", i)
	}
}

func TestBuildEmptyRootsDiffersPerDepth(t *testing.T) {
	roots := buildEmptyRoots(saplingHashPersonalization, saplingEmptyLeaf)
	require.Equal(t, saplingEmptyLeaf, roots[0])
	seen := map[Node]bool{}
	for _, r := range roots {
		seen[r] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestCapabilitiesDistinguishPools(t *testing.T) {
	sapling, err := For(Sapling)
	require.NoError(t, err)
	orchard, err := For(Orchard)
	require.NoError(t, err)

	require.Equal(t, Sapling, sapling.Pool())
	require.Equal(t, Orchard, orchard.Pool())
	require.NotEqual(t, sapling.EmptyNode(0), orchard.EmptyNode(0))

	_, err = For(Pool(99))
	require.Error(t, err)
}

func TestNullifierDiffersByPosition(t *testing.T) {
	saplingCap, err := For(Sapling)
	require.NoError(t, err)

	fvk := FullViewingKey{1, 2, 3}
	note := Plaintext{Value: 100}

	nf0 := saplingCap.Nullifier(fvk, 0, note)
	nf1 := saplingCap.Nullifier(fvk, 1, note)
	require.NotEqual(t, nf0, nf1)
}
