package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntent(t *testing.T) {
	tests := []struct {
		name    string
		command string
		amount  string
		src     string
		srcNet  string
		dst     string
		dstNet  string
	}{
		{"plain", "swap 1 ETH to USDC", "1", "ETH", "", "USDC", ""},
		{"without verb", "1.5 eth to btc", "1.5", "ETH", "", "BTC", ""},
		{"with chains", "100 USDC on base to ETH on arb", "100", "USDC", "base", "ETH", "arb"},
		{"alias", "2 WETH on eth to USDC", "2", "ETH", "eth", "USDC", ""},
		{"extra spaces", "  swap   3  ETH   to  USDC ", "3", "ETH", "", "USDC", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseIntent(tt.command)
			require.NoError(t, err)
			assert.Equal(t, tt.amount, req.Amount)
			assert.Equal(t, tt.src, req.SourceToken)
			assert.Equal(t, tt.srcNet, req.SourceChain)
			assert.Equal(t, tt.dst, req.DestToken)
			assert.Equal(t, tt.dstNet, req.DestChain)
		})
	}
}

func TestParseIntentKeepsRecipientCase(t *testing.T) {
	req, err := ParseIntent("1 ETH on eth to USDC on arb for 0xAbCdEf0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "0xAbCdEf0000000000000000000000000000000001", req.Recipient)
}

func TestParseIntentRejects(t *testing.T) {
	for _, command := range []string{
		"",
		"swap ETH to USDC",
		"1 ETH USDC",
		"0 ETH to USDC",
		"1 ETH to ETH",
	} {
		_, err := ParseIntent(command)
		assert.Error(t, err, command)
	}
}
