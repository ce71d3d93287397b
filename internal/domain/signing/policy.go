package signing

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/tollgate-labs/tollgate/pkg/rpc"
)

// Policy is the EIP-712 message the wallet signs to register a session key.
// The domain name must equal the application sent in auth_request.
type Policy struct {
	Application string
	Challenge   string
	Scope       string
	Wallet      string
	SessionKey  string
	ExpiresAt   uint64
	Allowances  []rpc.Allowance
}

var policyTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
	},
	"Policy": {
		{Name: "challenge", Type: "string"},
		{Name: "scope", Type: "string"},
		{Name: "wallet", Type: "address"},
		{Name: "session_key", Type: "address"},
		{Name: "expires_at", Type: "uint64"},
		{Name: "allowances", Type: "Allowance[]"},
	},
	"Allowance": {
		{Name: "asset", Type: "string"},
		{Name: "amount", Type: "string"},
	},
}

// TypedData builds the EIP-712 typed data for the policy.
func (p Policy) TypedData() apitypes.TypedData {
	allowances := make([]interface{}, 0, len(p.Allowances))
	for _, a := range p.Allowances {
		allowances = append(allowances, map[string]interface{}{
			"asset":  a.Asset,
			"amount": a.Amount,
		})
	}

	return apitypes.TypedData{
		Types:       policyTypes,
		PrimaryType: "Policy",
		Domain:      apitypes.TypedDataDomain{Name: p.Application},
		Message: apitypes.TypedDataMessage{
			"challenge":   p.Challenge,
			"scope":       p.Scope,
			"wallet":      p.Wallet,
			"session_key": p.SessionKey,
			"expires_at":  strconv.FormatUint(p.ExpiresAt, 10),
			"allowances":  allowances,
		},
	}
}

// Hash returns the EIP-712 digest the wallet signs.
func (p Policy) Hash() ([]byte, error) {
	if p.Challenge == "" {
		return nil, fmt.Errorf("%w: empty challenge", ErrMalformedChallenge)
	}
	if p.Application == "" {
		return nil, fmt.Errorf("%w: empty application", ErrMalformedChallenge)
	}
	hash, _, err := apitypes.TypedDataAndHash(p.TypedData())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChallenge, err)
	}
	return hash, nil
}
