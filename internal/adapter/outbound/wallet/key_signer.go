// Package wallet provides a WalletSigner backed by a local private key.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tollgate-labs/tollgate/internal/domain/signing"
	"github.com/tollgate-labs/tollgate/internal/port/outbound"
)

// Approver decides whether the wallet owner accepts a policy. Returning
// false surfaces signing.ErrAuthRejectedByUser.
type Approver func(ctx context.Context, policy signing.Policy) bool

// Option configures a KeySigner.
type Option func(*KeySigner)

// WithApprover installs an approval prompt in front of every signature.
func WithApprover(a Approver) Option {
	return func(s *KeySigner) { s.approve = a }
}

// KeySigner signs with an in-process secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address string
	approve Approver
}

var _ outbound.WalletSigner = (*KeySigner)(nil)

// NewKeySigner wraps an existing private key.
func NewKeySigner(key *ecdsa.PrivateKey, opts ...Option) *KeySigner {
	s := &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewKeySignerFromHex parses a hex private key, with or without 0x.
func NewKeySignerFromHex(hexKey string, opts ...Option) (*KeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("%w: no private key configured", signing.ErrWalletUnavailable)
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", signing.ErrWalletUnavailable, err)
	}
	return NewKeySigner(key, opts...), nil
}

// Address returns the checksummed wallet address.
func (s *KeySigner) Address() string {
	return s.address
}

// SignPolicy signs the EIP-712 digest of policy.
func (s *KeySigner) SignPolicy(ctx context.Context, policy signing.Policy) (string, error) {
	if s == nil || s.key == nil {
		return "", signing.ErrWalletUnavailable
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !signing.SameAddress(policy.Wallet, s.address) {
		return "", fmt.Errorf("%w: policy wallet %s is not %s", signing.ErrAuthRejectedByUser, policy.Wallet, s.address)
	}
	if s.approve != nil && !s.approve(ctx, policy) {
		return "", signing.ErrAuthRejectedByUser
	}

	hash, err := policy.Hash()
	if err != nil {
		return "", err
	}
	return signing.SignHash(s.key, hash)
}
