// Package rpc provides ClearNode RPC message types and the wire codec
// used by the tollgate client.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Method is an RPC method name carried in the second slot of a req/res array.
type Method string

const (
	// MethodAuthRequest starts the challenge/response handshake.
	MethodAuthRequest Method = "auth_request"
	// MethodAuthChallenge is the node's answer to auth_request.
	MethodAuthChallenge Method = "auth_challenge"
	// MethodAuthVerify carries the signed challenge, or a JWT on resume.
	MethodAuthVerify Method = "auth_verify"
	// MethodGetLedgerBalances queries the ledger (auth required).
	MethodGetLedgerBalances Method = "get_ledger_balances"
	// MethodTransfer moves funds to another account (auth required).
	MethodTransfer Method = "transfer"
	// MethodError is the method name of every error response.
	MethodError Method = "error"
	// MethodBalanceUpdate is the unsolicited balance push ("bu").
	MethodBalanceUpdate Method = "bu"
	// MethodTransferNotification is the unsolicited transfer push ("tr").
	MethodTransferNotification Method = "tr"
)

// IsPush reports whether m is an unsolicited notification method.
func (m Method) IsPush() bool {
	return m == MethodBalanceUpdate || m == MethodTransferNotification
}

// Request is the req array: [id, method, params, timestamp].
type Request struct {
	ID        uint64
	Method    Method
	Params    any
	Timestamp int64
}

// MarshalJSON encodes the request as its positional array form.
// The bytes produced here are exactly what the session key signs.
func (r Request) MarshalJSON() ([]byte, error) {
	params := r.Params
	if params == nil {
		params = struct{}{}
	}
	return json.Marshal([]any{r.ID, r.Method, params, r.Timestamp})
}

// Envelope is an outbound frame.
type Envelope struct {
	Req   Request  `json:"req"`
	Sig   []string `json:"sig"`
	Token string   `json:"token,omitempty"`
}

// Allowance is a spending limit requested during authentication.
type Allowance struct {
	Asset  string `json:"asset" validate:"required"`
	Amount string `json:"amount" validate:"required"`
}

// AuthRequestParams is the params object of auth_request.
type AuthRequestParams struct {
	Address     string      `json:"address"`
	SessionKey  string      `json:"session_key"`
	Application string      `json:"application"`
	Allowances  []Allowance `json:"allowances"`
	ExpiresAt   uint64      `json:"expires_at"`
	Scope       string      `json:"scope"`
}

// AuthVerifyParams is the params object of auth_verify.
// Challenge is set for a signature verify; JWT is set when resuming.
type AuthVerifyParams struct {
	Challenge string `json:"challenge,omitempty"`
	JWT       string `json:"jwt,omitempty"`
}

// LedgerBalancesParams is the params object of get_ledger_balances.
type LedgerBalancesParams struct {
	AccountID string `json:"account_id,omitempty"`
}

// TransferAllocation is one asset amount of a transfer, in smallest units.
type TransferAllocation struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// TransferParams is the params object of transfer.
type TransferParams struct {
	Destination string               `json:"destination"`
	Allocations []TransferAllocation `json:"allocations"`
}

// AuthChallenge is the auth_challenge payload.
type AuthChallenge struct {
	ChallengeMessage string `json:"challenge_message" validate:"required"`
}

// AuthVerifyResult is the auth_verify payload.
type AuthVerifyResult struct {
	Address    string `json:"address"`
	SessionKey string `json:"session_key"`
	JWTToken   string `json:"jwt_token"`
	Success    bool   `json:"success"`
}

// LedgerBalance is an account balance for one asset.
type LedgerBalance struct {
	Asset  string          `json:"asset" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// LedgerBalances is the get_ledger_balances payload.
type LedgerBalances struct {
	LedgerBalances []LedgerBalance `json:"ledger_balances" validate:"dive"`
}

// Find returns the balance of asset, if the ledger reports one.
func (l LedgerBalances) Find(asset string) (LedgerBalance, bool) {
	for _, b := range l.LedgerBalances {
		if b.Asset == asset {
			return b, true
		}
	}
	return LedgerBalance{}, false
}

// LedgerTransaction is a transfer between ledger accounts.
type LedgerTransaction struct {
	ID          uint            `json:"id"`
	TxType      string          `json:"tx_type"`
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedAt   string          `json:"created_at"`
}

// TransferResult is the transfer payload.
type TransferResult struct {
	Transactions []LedgerTransaction `json:"transactions"`
}

// BalanceUpdate is the "bu" push payload.
type BalanceUpdate struct {
	BalanceUpdates []LedgerBalance `json:"balance_updates" validate:"dive"`
}

// TransferNotification is the "tr" push payload.
type TransferNotification struct {
	Transactions []LedgerTransaction `json:"transactions"`
}

// ErrorResult is the error payload.
type ErrorResult struct {
	Error string `json:"error"`
}

// Inbound is a decoded res frame. Exactly one of the typed payload
// fields is non-nil and it always matches Method.
type Inbound struct {
	ID     uint64
	Method Method

	Challenge      *AuthChallenge
	Verify         *AuthVerifyResult
	Balances       *LedgerBalances
	Transfer       *TransferResult
	BalanceUpdate  *BalanceUpdate
	TransferNotice *TransferNotification
	Error          *ErrorResult
}

// Err converts an error frame into a *ServerError. It returns nil for
// every other method.
func (in Inbound) Err() error {
	if in.Method != MethodError || in.Error == nil {
		return nil
	}
	return &ServerError{Method: in.Method, Message: in.Error.Error}
}

// String implements fmt.Stringer for log lines.
func (in Inbound) String() string {
	return fmt.Sprintf("res[%d,%s]", in.ID, in.Method)
}
