package crypto

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

// DeriveID hashes the supplied parts with keccak256 and returns the digest as a
// fixed-size identifier.
func DeriveID(parts ...[]byte) [32]byte {
	return ethcrypto.Keccak256Hash(parts...)
}

// Keccak256 returns the keccak256 digest of the concatenated parts.
func Keccak256(parts ...[]byte) []byte {
	return ethcrypto.Keccak256(parts...)
}
