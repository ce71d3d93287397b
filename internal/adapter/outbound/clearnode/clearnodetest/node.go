package clearnodetest

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tollgate-labs/tollgate/pkg/rpc"
)

// Ledger wires auth, balance and transfer handlers that behave like a
// sandbox node holding a single account balance.
type Ledger struct {
	Server *Server
	JWT    string
	Asset  string

	mu           sync.Mutex
	units        decimal.Decimal
	challenges   int
	lastAuth     rpc.AuthRequestParams
	rejectAuth   bool
	failTransfer string
}

// NewLedger installs the handlers on s with an initial balance in smallest units.
func NewLedger(s *Server, asset string, units int64) *Ledger {
	l := &Ledger{Server: s, JWT: "jwt-token", Asset: asset, units: decimal.NewFromInt(units)}
	s.Handle(rpc.MethodAuthRequest, l.authRequest)
	s.Handle(rpc.MethodAuthVerify, l.authVerify)
	s.Handle(rpc.MethodGetLedgerBalances, l.balances)
	s.Handle(rpc.MethodTransfer, l.transfer)
	return l
}

// SetBalance replaces the account balance.
func (l *Ledger) SetBalance(units int64) {
	l.mu.Lock()
	l.units = decimal.NewFromInt(units)
	l.mu.Unlock()
}

// SetAsset changes the asset reported by get_ledger_balances.
func (l *Ledger) SetAsset(asset string) {
	l.mu.Lock()
	l.Asset = asset
	l.mu.Unlock()
}

// Balance returns the account balance in smallest units.
func (l *Ledger) Balance() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.units.IntPart()
}

// RejectAuth makes auth_verify with a challenge fail.
func (l *Ledger) RejectAuth(on bool) {
	l.mu.Lock()
	l.rejectAuth = on
	l.mu.Unlock()
}

// FailTransfers makes every transfer return an error frame with msg.
// An empty msg restores normal behavior.
func (l *Ledger) FailTransfers(msg string) {
	l.mu.Lock()
	l.failTransfer = msg
	l.mu.Unlock()
}

// LastAuthRequest returns the params of the most recent auth_request.
func (l *Ledger) LastAuthRequest() rpc.AuthRequestParams {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastAuth
}

func (l *Ledger) authRequest(f Frame) (Reply, bool) {
	var p rpc.AuthRequestParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		return errorReply(err.Error()), true
	}

	l.mu.Lock()
	l.lastAuth = p
	l.challenges++
	n := l.challenges
	l.mu.Unlock()

	return Reply{
		Method:  rpc.MethodAuthChallenge,
		Payload: rpc.AuthChallenge{ChallengeMessage: fmt.Sprintf("challenge-%d", n)},
	}, true
}

func (l *Ledger) authVerify(f Frame) (Reply, bool) {
	var p rpc.AuthVerifyParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		return errorReply(err.Error()), true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if p.JWT != "" {
		if p.JWT != l.JWT {
			return errorReply("invalid jwt"), true
		}
	} else if l.rejectAuth || len(f.Sig) == 0 {
		return errorReply("signature verification failed"), true
	}

	return Reply{
		Method: rpc.MethodAuthVerify,
		Payload: rpc.AuthVerifyResult{
			Address:    l.lastAuth.Address,
			SessionKey: l.lastAuth.SessionKey,
			JWTToken:   l.JWT,
			Success:    true,
		},
	}, true
}

func (l *Ledger) balances(f Frame) (Reply, bool) {
	if f.Token == "" {
		return errorReply("authentication required"), true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return Reply{
		Method: rpc.MethodGetLedgerBalances,
		Payload: rpc.LedgerBalances{LedgerBalances: []rpc.LedgerBalance{
			{Asset: l.Asset, Amount: l.units},
		}},
	}, true
}

func (l *Ledger) transfer(f Frame) (Reply, bool) {
	var p rpc.TransferParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		return errorReply(err.Error()), true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failTransfer != "" {
		return errorReply(l.failTransfer), true
	}
	if len(f.Sig) == 0 {
		return errorReply("missing signature"), true
	}

	var txs []rpc.LedgerTransaction
	for _, a := range p.Allocations {
		if a.Amount.GreaterThan(l.units) {
			return errorReply("insufficient funds"), true
		}
		l.units = l.units.Sub(a.Amount)
		txs = append(txs, rpc.LedgerTransaction{
			ID:          uint(len(txs) + 1),
			TxType:      "transfer",
			FromAccount: l.lastAuth.Address,
			ToAccount:   p.Destination,
			Asset:       a.Asset,
			Amount:      a.Amount,
		})
	}
	return Reply{Method: rpc.MethodTransfer, Payload: rpc.TransferResult{Transactions: txs}}, true
}

func errorReply(msg string) Reply {
	return Reply{Method: rpc.MethodError, Payload: rpc.ErrorResult{Error: msg}}
}
