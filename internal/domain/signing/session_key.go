package signing

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SessionKey is the ephemeral key pair generated for one authenticated
// wallet connection. It signs every request after auth_verify.
type SessionKey struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSessionKey generates a fresh secp256k1 session key.
func NewSessionKey() (*SessionKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return &SessionKey{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the checksummed address of the session key.
func (k *SessionKey) Address() string {
	if k == nil {
		return ""
	}
	return k.address.Hex()
}

// Sign signs keccak256(payload) directly, without the Ethereum message prefix.
func (k *SessionKey) Sign(payload []byte) (string, error) {
	if k == nil || k.key == nil {
		return "", ErrNoSessionKey
	}
	return SignHash(k.key, crypto.Keccak256(payload))
}

// SignHash signs a 32-byte digest and returns the 65-byte signature hex
// encoded with V in {27, 28}.
func SignHash(key *ecdsa.PrivateKey, hash []byte) (string, error) {
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", fmt.Errorf("sign hash: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverAddress returns the checksummed address that produced sigHex over hash.
func RecoverAddress(hash []byte, sigHex string) (string, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("signature length %d, want %d", len(sig), crypto.SignatureLength)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return "", fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
