package outbound

import (
	"context"

	"github.com/tollgate-labs/tollgate/internal/domain/signing"
)

// WalletSigner is the user's wallet. It signs the EIP-712 auth policy once
// per authentication.
//
// Implementations must return errors matching signing.ErrAuthRejectedByUser
// when the owner declines and signing.ErrWalletUnavailable when the wallet
// cannot be reached.
type WalletSigner interface {
	// Address returns the wallet address.
	Address() string

	// SignPolicy signs the policy's EIP-712 digest and returns the 65-byte
	// signature hex encoded.
	SignPolicy(ctx context.Context, policy signing.Policy) (string, error)
}
