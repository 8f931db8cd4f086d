package types

// IntentRequest is a shorthand transfer request such as "1.5 ETH to USDC"
type IntentRequest struct {
	Amount      string
	SourceToken string
	DestToken   string
	SourceChain string
	DestChain   string
	Recipient   string
	RefundTo    string
}
