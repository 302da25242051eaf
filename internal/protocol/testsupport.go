package protocol

// The identifiers below re-export a handful of unexported Sapling
// primitives so other packages' tests (internal/decrypter,
// internal/pipeline) can construct compact outputs that TrialDecrypt
// will accept, without duplicating the stream cipher and commitment
// math here. Kept in a regular file rather than export_test.go: a
// package's _test.go files are only compiled when that package itself
// is under test, not when it's imported as a dependency of another
// package's tests, so symbols other packages' tests need to reach must
// live in an ordinary file.
const (
	SaplingKDFPersonalizationForTest = saplingKDFPersonalization
	SaplingCmPersonalizationForTest  = saplingCmPersonalization
	OrchardKDFPersonalizationForTest = orchardKDFPersonalization
	OrchardCmPersonalizationForTest  = orchardCmPersonalization
	ZIP212SentinelForTest            = zip212Sentinel
)

var (
	SharedSecretForTest   = sharedSecret
	SymmetricKeyForTest   = symmetricKey
	NoteCommitmentForTest = noteCommitment

	// StreamXORForTest runs the plain ChaCha20 keystream XOR compact
	// outputs use; since it's a stream cipher the same call encrypts
	// or decrypts.
	StreamXORForTest = decryptCiphertext
)
