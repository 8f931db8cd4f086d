package types

import (
	"encoding/json"
	"math/big"
	"strings"
	"time"
)

// TradeParams are the parameters a quote is bound to
type TradeParams struct {
	FromChainID int64  `json:"fromChainId"`
	FromToken   string `json:"fromToken"`
	ToChainID   int64  `json:"toChainId"`
	ToToken     string `json:"toToken"`
	Amount      string `json:"amount"`
	Receiver    string `json:"receiver"`
}

// Equal compares two parameter sets. Addresses compare case-insensitively and
// amounts numerically.
func (p TradeParams) Equal(o TradeParams) bool {
	if p.FromChainID != o.FromChainID || p.ToChainID != o.ToChainID {
		return false
	}
	if !sameAddress(p.FromToken, o.FromToken) || !sameAddress(p.ToToken, o.ToToken) {
		return false
	}
	if !sameAddress(p.Receiver, o.Receiver) {
		return false
	}
	a, okA := new(big.Int).SetString(p.Amount, 10)
	b, okB := new(big.Int).SetString(o.Amount, 10)
	if !okA || !okB {
		return false
	}
	return a.Cmp(b) == 0
}

func sameAddress(a, b string) bool {
	a, b = normalizeAsset(a), normalizeAsset(b)
	return strings.EqualFold(a, b)
}

func normalizeAsset(addr string) string {
	if strings.EqualFold(addr, NativePlaceholder) || addr == "" {
		return "0x0000000000000000000000000000000000000000"
	}
	return addr
}

// Quote is a counterparty price commitment stored on a step's estimate
type Quote struct {
	Tool          string          `json:"tool"`
	Params        TradeParams     `json:"params"`
	TransactionID string          `json:"transactionId,omitempty"`
	ToAmount      string          `json:"toAmount,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ReceivedAt    time.Time       `json:"receivedAt"`
}

// Matches reports whether the quote may be used for the given request. A
// quote bound to different parameters is stale and must not be used.
func (q *Quote) Matches(params TradeParams) bool {
	if q == nil {
		return false
	}
	return q.Params.Equal(params)
}
