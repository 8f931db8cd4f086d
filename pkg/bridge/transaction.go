package bridge

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"xroute/pkg/types"
)

// Diamond facet entry points used to start a transfer
const facetABI = `[
{"name":"startBridgeTokensViaNXTP","type":"function","stateMutability":"payable","outputs":[],"inputs":[
	{"name":"_lifiData","type":"tuple","components":[
		{"name":"transactionId","type":"bytes32"},
		{"name":"integrator","type":"string"},
		{"name":"referrer","type":"address"},
		{"name":"sendingAssetId","type":"address"},
		{"name":"receivingAssetId","type":"address"},
		{"name":"receiver","type":"address"},
		{"name":"destinationChainId","type":"uint256"},
		{"name":"amount","type":"uint256"}]},
	{"name":"_nxtpData","type":"tuple","components":[
		{"name":"nxtpTxManager","type":"address"},
		{"name":"invariantData","type":"tuple","components":[
			{"name":"receivingChainTxManagerAddress","type":"address"},
			{"name":"user","type":"address"},
			{"name":"router","type":"address"},
			{"name":"initiator","type":"address"},
			{"name":"sendingAssetId","type":"address"},
			{"name":"receivingAssetId","type":"address"},
			{"name":"sendingChainFallback","type":"address"},
			{"name":"receivingAddress","type":"address"},
			{"name":"callTo","type":"address"},
			{"name":"sendingChainId","type":"uint256"},
			{"name":"receivingChainId","type":"uint256"},
			{"name":"callDataHash","type":"bytes32"},
			{"name":"transactionId","type":"bytes32"}]},
		{"name":"amount","type":"uint256"},
		{"name":"expiry","type":"uint256"},
		{"name":"encryptedCallData","type":"bytes"},
		{"name":"encodedBid","type":"bytes"},
		{"name":"bidSignature","type":"bytes"},
		{"name":"encodedMeta","type":"bytes"}]}]},
{"name":"swapAndStartBridgeTokensViaNXTP","type":"function","stateMutability":"payable","outputs":[],"inputs":[
	{"name":"_lifiData","type":"tuple","components":[
		{"name":"transactionId","type":"bytes32"},
		{"name":"integrator","type":"string"},
		{"name":"referrer","type":"address"},
		{"name":"sendingAssetId","type":"address"},
		{"name":"receivingAssetId","type":"address"},
		{"name":"receiver","type":"address"},
		{"name":"destinationChainId","type":"uint256"},
		{"name":"amount","type":"uint256"}]},
	{"name":"_swapData","type":"tuple[]","components":[
		{"name":"callTo","type":"address"},
		{"name":"approveTo","type":"address"},
		{"name":"sendingAssetId","type":"address"},
		{"name":"receivingAssetId","type":"address"},
		{"name":"fromAmount","type":"uint256"},
		{"name":"callData","type":"bytes"}]},
	{"name":"_nxtpData","type":"tuple","components":[
		{"name":"nxtpTxManager","type":"address"},
		{"name":"invariantData","type":"tuple","components":[
			{"name":"receivingChainTxManagerAddress","type":"address"},
			{"name":"user","type":"address"},
			{"name":"router","type":"address"},
			{"name":"initiator","type":"address"},
			{"name":"sendingAssetId","type":"address"},
			{"name":"receivingAssetId","type":"address"},
			{"name":"sendingChainFallback","type":"address"},
			{"name":"receivingAddress","type":"address"},
			{"name":"callTo","type":"address"},
			{"name":"sendingChainId","type":"uint256"},
			{"name":"receivingChainId","type":"uint256"},
			{"name":"callDataHash","type":"bytes32"},
			{"name":"transactionId","type":"bytes32"}]},
		{"name":"amount","type":"uint256"},
		{"name":"expiry","type":"uint256"},
		{"name":"encryptedCallData","type":"bytes"},
		{"name":"encodedBid","type":"bytes"},
		{"name":"bidSignature","type":"bytes"},
		{"name":"encodedMeta","type":"bytes"}]}]}
]`

var facet = mustParseABI(facetABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse facet abi: %v", err))
	}
	return parsed
}

// LiFiData is the routing metadata recorded by the diamond
type LiFiData struct {
	TransactionID      [32]byte       `abi:"transactionId"`
	Integrator         string         `abi:"integrator"`
	Referrer           common.Address `abi:"referrer"`
	SendingAssetID     common.Address `abi:"sendingAssetId"`
	ReceivingAssetID   common.Address `abi:"receivingAssetId"`
	Receiver           common.Address `abi:"receiver"`
	DestinationChainID *big.Int       `abi:"destinationChainId"`
	Amount             *big.Int       `abi:"amount"`
}

// SwapData is one DEX call executed before the transfer starts
type SwapData struct {
	CallTo           common.Address `abi:"callTo"`
	ApproveTo        common.Address `abi:"approveTo"`
	SendingAssetID   common.Address `abi:"sendingAssetId"`
	ReceivingAssetID common.Address `abi:"receivingAssetId"`
	FromAmount       *big.Int       `abi:"fromAmount"`
	CallData         []byte         `abi:"callData"`
}

// InvariantData is the part of a transfer both chains agree on
type InvariantData struct {
	ReceivingChainTxManagerAddress common.Address `abi:"receivingChainTxManagerAddress"`
	User                           common.Address `abi:"user"`
	Router                         common.Address `abi:"router"`
	Initiator                      common.Address `abi:"initiator"`
	SendingAssetID                 common.Address `abi:"sendingAssetId"`
	ReceivingAssetID               common.Address `abi:"receivingAssetId"`
	SendingChainFallback           common.Address `abi:"sendingChainFallback"`
	ReceivingAddress               common.Address `abi:"receivingAddress"`
	CallTo                         common.Address `abi:"callTo"`
	SendingChainID                 *big.Int       `abi:"sendingChainId"`
	ReceivingChainID               *big.Int       `abi:"receivingChainId"`
	CallDataHash                   [32]byte       `abi:"callDataHash"`
	TransactionID                  [32]byte       `abi:"transactionId"`
}

// NXTPData carries the signed bid to the transaction manager
type NXTPData struct {
	NxtpTxManager     common.Address `abi:"nxtpTxManager"`
	InvariantData     InvariantData  `abi:"invariantData"`
	Amount            *big.Int       `abi:"amount"`
	Expiry            *big.Int       `abi:"expiry"`
	EncryptedCallData []byte         `abi:"encryptedCallData"`
	EncodedBid        []byte         `abi:"encodedBid"`
	BidSignature      []byte         `abi:"bidSignature"`
	EncodedMeta       []byte         `abi:"encodedMeta"`
}

// StartCall is everything needed to encode the sending transaction
type StartCall struct {
	LiFi  LiFiData
	Swaps []SwapData
	NXTP  NXTPData
}

// Pack encodes the facet call, with the swap variant when swaps are present
func (c StartCall) Pack() ([]byte, error) {
	if len(c.Swaps) > 0 {
		return facet.Pack("swapAndStartBridgeTokensViaNXTP", c.LiFi, c.Swaps, c.NXTP)
	}
	return facet.Pack("startBridgeTokensViaNXTP", c.LiFi, c.NXTP)
}

var (
	bidType = mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "user", Type: "address"},
		{Name: "router", Type: "address"},
		{Name: "initiator", Type: "address"},
		{Name: "sendingChainId", Type: "uint256"},
		{Name: "sendingAssetId", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "receivingChainId", Type: "uint256"},
		{Name: "receivingAssetId", Type: "address"},
		{Name: "amountReceived", Type: "uint256"},
		{Name: "receivingAddress", Type: "address"},
		{Name: "transactionId", Type: "bytes32"},
		{Name: "expiry", Type: "uint256"},
		{Name: "callDataHash", Type: "bytes32"},
		{Name: "callTo", Type: "address"},
		{Name: "encryptedCallData", Type: "bytes"},
		{Name: "sendingChainTxManagerAddress", Type: "address"},
		{Name: "receivingChainTxManagerAddress", Type: "address"},
		{Name: "bidExpiry", Type: "uint256"},
	})
	bytes32Type = mustType("bytes32", nil)
	uint256Type = mustType("uint256", nil)
	stringType  = mustType("string", nil)
	addressType = mustType("address", nil)
)

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", t, err))
	}
	return typ
}

type encodedBid struct {
	User                           common.Address `abi:"user"`
	Router                         common.Address `abi:"router"`
	Initiator                      common.Address `abi:"initiator"`
	SendingChainID                 *big.Int       `abi:"sendingChainId"`
	SendingAssetID                 common.Address `abi:"sendingAssetId"`
	Amount                         *big.Int       `abi:"amount"`
	ReceivingChainID               *big.Int       `abi:"receivingChainId"`
	ReceivingAssetID               common.Address `abi:"receivingAssetId"`
	AmountReceived                 *big.Int       `abi:"amountReceived"`
	ReceivingAddress               common.Address `abi:"receivingAddress"`
	TransactionID                  [32]byte       `abi:"transactionId"`
	Expiry                         *big.Int       `abi:"expiry"`
	CallDataHash                   [32]byte       `abi:"callDataHash"`
	CallTo                         common.Address `abi:"callTo"`
	EncryptedCallData              []byte         `abi:"encryptedCallData"`
	SendingChainTxManagerAddress   common.Address `abi:"sendingChainTxManagerAddress"`
	ReceivingChainTxManagerAddress common.Address `abi:"receivingChainTxManagerAddress"`
	BidExpiry                      *big.Int       `abi:"bidExpiry"`
}

// EncodeBid ABI-encodes a bid the way the transaction manager verifies it
func EncodeBid(b Bid) ([]byte, error) {
	amount, err := parseUint(b.Amount)
	if err != nil {
		return nil, fmt.Errorf("bid amount: %w", err)
	}
	received, err := parseUint(b.AmountReceived)
	if err != nil {
		return nil, fmt.Errorf("bid amount received: %w", err)
	}
	encrypted, err := decodeHex(b.EncryptedCallData)
	if err != nil {
		return nil, fmt.Errorf("bid encrypted call data: %w", err)
	}

	return abi.Arguments{{Type: bidType}}.Pack(encodedBid{
		User:                           common.HexToAddress(b.User),
		Router:                         common.HexToAddress(b.Router),
		Initiator:                      common.HexToAddress(b.InitiatorAddress),
		SendingChainID:                 big.NewInt(b.SendingChainID),
		SendingAssetID:                 assetAddress(b.SendingAssetID),
		Amount:                         amount,
		ReceivingChainID:               big.NewInt(b.ReceivingChainID),
		ReceivingAssetID:               assetAddress(b.ReceivingAssetID),
		AmountReceived:                 received,
		ReceivingAddress:               common.HexToAddress(b.ReceivingAddress),
		TransactionID:                  common.HexToHash(b.TransactionID),
		Expiry:                         big.NewInt(b.Expiry),
		CallDataHash:                   common.HexToHash(b.CallDataHash),
		CallTo:                         common.HexToAddress(b.CallTo),
		EncryptedCallData:              encrypted,
		SendingChainTxManagerAddress:   common.HexToAddress(b.SendingChainTxManager),
		ReceivingChainTxManagerAddress: common.HexToAddress(b.ReceivingChainTxManager),
		BidExpiry:                      big.NewInt(b.BidExpiry),
	})
}

// FulfillPayload is the digest a user signs to let relayers claim on the
// receiving chain
func FulfillPayload(txID, relayerFee string, receivingChainID int64, receivingTxManager string) ([]byte, error) {
	fee, err := parseUint(relayerFee)
	if err != nil {
		return nil, fmt.Errorf("relayer fee: %w", err)
	}
	encoded, err := abi.Arguments{
		{Type: bytes32Type},
		{Type: uint256Type},
		{Type: stringType},
		{Type: uint256Type},
		{Type: addressType},
	}.Pack(common.HexToHash(txID), fee, "fulfill", big.NewInt(receivingChainID), common.HexToAddress(receivingTxManager))
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}

// CancelPayload is the digest a user signs to cancel a prepared transfer
func CancelPayload(txID string, chainID int64, txManager string) ([]byte, error) {
	encoded, err := abi.Arguments{
		{Type: bytes32Type},
		{Type: stringType},
		{Type: uint256Type},
		{Type: addressType},
	}.Pack(common.HexToHash(txID), "cancel", big.NewInt(chainID), common.HexToAddress(txManager))
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}

// NewTransactionID returns a random transfer id
func NewTransactionID() (string, error) {
	var id [32]byte
	if _, err := rand.Read(id[:]); err != nil {
		return "", fmt.Errorf("failed to generate transaction id: %w", err)
	}
	return hexutil.Encode(id[:]), nil
}

// CallDataHash hashes receiving-side call data, the empty hash for none
func CallDataHash(callData string) (string, error) {
	data, err := decodeHex(callData)
	if err != nil {
		return "", err
	}
	return crypto.Keccak256Hash(data).Hex(), nil
}

func assetAddress(addr string) common.Address {
	return types.Token{Address: addr}.HexAddress()
}

func parseUint(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid unsigned integer %q", s)
	}
	return v, nil
}

func decodeHex(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return []byte{}, nil
	}
	return hexutil.Decode(s)
}
