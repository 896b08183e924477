package domain

import "testing"

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		token   Token
		wantErr bool
	}{
		{
			name:  "valid solana mint",
			token: Token{Chain: ChainSolana, Symbol: "SOL", Address: "So11111111111111111111111111111111111111112"},
		},
		{
			name:    "solana address too short",
			token:   Token{Chain: ChainSolana, Symbol: "X", Address: "So1111"},
			wantErr: true,
		},
		{
			name:    "solana address with invalid base58 characters",
			token:   Token{Chain: ChainSolana, Symbol: "X", Address: "0OIl+/=aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
			wantErr: true,
		},
		{
			name:  "valid ethereum address",
			token: Token{Chain: ChainEthereum, Symbol: "WETH", Address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"},
		},
		{
			name:    "ethereum address wrong length",
			token:   Token{Chain: ChainEthereum, Symbol: "X", Address: "0xabc"},
			wantErr: true,
		},
		{
			name:    "ethereum address non-hex",
			token:   Token{Chain: ChainEthereum, Symbol: "X", Address: "0xzz2aaa39b223fe8d0a0e5c4f27ead9083c756cc2"},
			wantErr: true,
		},
		{
			name:    "empty address",
			token:   Token{Chain: ChainEthereum, Symbol: "X"},
			wantErr: true,
		},
		{
			name:  "polygon uses evm shape",
			token: Token{Chain: ChainPolygon, Symbol: "WMATIC", Address: "0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.token.ValidateAddress()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenKey(t *testing.T) {
	token := Token{Chain: ChainEthereum, Symbol: "UNI", Address: "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984"}
	want := "ethereum:0x1f9840a85d5af5bf1d1762f925bdaddc4201f984"
	if got := token.Key(); got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}
