package bridge

import (
	"context"
	"time"

	"xroute/pkg/types"
)

// EventKind names a counterparty network event
type EventKind string

const (
	SenderTransactionPrepared    EventKind = "SenderTransactionPrepared"
	SenderTransactionFulfilled   EventKind = "SenderTransactionFulfilled"
	SenderTransactionCancelled   EventKind = "SenderTransactionCancelled"
	ReceiverPrepareSigned        EventKind = "ReceiverPrepareSigned"
	ReceiverTransactionPrepared  EventKind = "ReceiverTransactionPrepared"
	ReceiverTransactionFulfilled EventKind = "ReceiverTransactionFulfilled"
	ReceiverTransactionCancelled EventKind = "ReceiverTransactionCancelled"
)

// Bid is a router's signed price commitment for a transfer
type Bid struct {
	User                    string `json:"user"`
	Router                  string `json:"router"`
	InitiatorAddress        string `json:"initiator"`
	SendingChainID          int64  `json:"sendingChainId"`
	SendingAssetID          string `json:"sendingAssetId"`
	Amount                  string `json:"amount"`
	ReceivingChainID        int64  `json:"receivingChainId"`
	ReceivingAssetID        string `json:"receivingAssetId"`
	AmountReceived          string `json:"amountReceived"`
	ReceivingAddress        string `json:"receivingAddress"`
	TransactionID           string `json:"transactionId"`
	Expiry                  int64  `json:"expiry"`
	CallDataHash            string `json:"callDataHash"`
	CallTo                  string `json:"callTo"`
	EncryptedCallData       string `json:"encryptedCallData"`
	SendingChainTxManager   string `json:"sendingChainTxManagerAddress"`
	ReceivingChainTxManager string `json:"receivingChainTxManagerAddress"`
	BidExpiry               int64  `json:"bidExpiry"`
}

// Params returns the trade parameters the bid commits to
func (b Bid) Params() types.TradeParams {
	return types.TradeParams{
		FromChainID: b.SendingChainID,
		FromToken:   b.SendingAssetID,
		ToChainID:   b.ReceivingChainID,
		ToToken:     b.ReceivingAssetID,
		Amount:      b.Amount,
		Receiver:    b.ReceivingAddress,
	}
}

// AuctionResponse is the winning bid of a quote auction
type AuctionResponse struct {
	Bid          Bid    `json:"bid"`
	BidSignature string `json:"bidSignature"`
}

// QuoteRequest starts an auction for a transfer
type QuoteRequest struct {
	Params        types.TradeParams `json:"params"`
	TransactionID string            `json:"transactionId"`
	CallTo        string            `json:"callTo,omitempty"`
	CallData      string            `json:"callData,omitempty"`
	Initiator     string            `json:"initiator,omitempty"`
	Expiry        int64             `json:"expiry"`
}

// TransactionData is the invariant and variant data of a transfer on one side
type TransactionData struct {
	TransactionID           string `json:"transactionId"`
	User                    string `json:"user"`
	Router                  string `json:"router"`
	InitiatorAddress        string `json:"initiator"`
	SendingChainID          int64  `json:"sendingChainId"`
	SendingAssetID          string `json:"sendingAssetId"`
	ReceivingChainID        int64  `json:"receivingChainId"`
	ReceivingAssetID        string `json:"receivingAssetId"`
	ReceivingAddress        string `json:"receivingAddress"`
	ReceivingChainTxManager string `json:"receivingChainTxManagerAddress"`
	CallTo                  string `json:"callTo"`
	CallDataHash            string `json:"callDataHash"`
	Amount                  string `json:"amount"`
	Expiry                  int64  `json:"expiry"`
	PreparedBlockNumber     int64  `json:"preparedBlockNumber"`
}

// Event is one message from the counterparty event stream
type Event struct {
	Kind          EventKind       `json:"kind"`
	TransactionID string          `json:"transactionId"`
	TxHash        string          `json:"txHash,omitempty"`
	TxData        TransactionData `json:"txData"`
	Signature     string          `json:"signature,omitempty"`
	RelayerFee    string          `json:"relayerFee,omitempty"`
	ReceivedAt    time.Time       `json:"receivedAt"`
}

// ActiveTransfer is a transfer the network still considers in flight
type ActiveTransfer struct {
	TransactionID string          `json:"transactionId"`
	Status        EventKind       `json:"status"`
	Crosschain    TransactionData `json:"crosschainTx"`
	SendingTxHash string          `json:"sendingTxHash,omitempty"`
	Signature     string          `json:"signature,omitempty"`
	RelayerFee    string          `json:"relayerFee,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// HistoricalTransfer is a finished transfer
type HistoricalTransfer struct {
	TransactionID   string          `json:"transactionId"`
	Status          string          `json:"status"`
	Crosschain      TransactionData `json:"crosschainTx"`
	FulfilledTxHash string          `json:"fulfilledTxHash,omitempty"`
	CancelledTxHash string          `json:"cancelledTxHash,omitempty"`
	PreparedAt      time.Time       `json:"preparedAt"`
}

const (
	HistoricalFulfilled = "FULFILLED"
	HistoricalCancelled = "CANCELLED"
)

// FulfillRequest hands the claim signature to the relayers
type FulfillRequest struct {
	TransactionID string          `json:"transactionId"`
	TxData        TransactionData `json:"txData"`
	Signature     string          `json:"signature"`
	RelayerFee    string          `json:"relayerFee"`
	CallData      string          `json:"callData,omitempty"`
}

// CancelRequest asks the network to cancel a prepared transfer
type CancelRequest struct {
	TransactionID string          `json:"transactionId"`
	TxData        TransactionData `json:"txData"`
	Signature     string          `json:"signature"`
	ChainID       int64           `json:"chainId"`
}

// Network is the counterparty network of the bridge
type Network interface {
	RequestQuote(ctx context.Context, req QuoteRequest) (*AuctionResponse, error)
	Fulfill(ctx context.Context, req FulfillRequest) error
	Cancel(ctx context.Context, req CancelRequest) error
	ActiveTransfers(ctx context.Context, user string) ([]ActiveTransfer, error)
	HistoricalTransfers(ctx context.Context, user string) ([]HistoricalTransfer, error)
	// Events streams network events until ctx is done
	Events(ctx context.Context) (<-chan Event, error)
}
