package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svm "github.com/x402proto/facilitator/mechanisms/svm"
	"github.com/x402proto/facilitator/types"
)

const fixedBlockhash = "5Tx8F3jgSHx21CbtjwmdaKPLM5tWmreWAnPrbqHomSJF"

// mockSolanaRPC serves just enough jsonrpc to satisfy CreatePaymentPayload:
// getAccountInfo (mint lookup) and getLatestBlockhash.
func mockSolanaRPC(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string      `json:"method"`
			ID     interface{} `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")

		writeResult := func(result interface{}) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
		}

		switch req.Method {
		case "getLatestBlockhash":
			writeResult(map[string]interface{}{
				"context": map[string]interface{}{"slot": 1234},
				"value": map[string]interface{}{
					"blockhash":            fixedBlockhash,
					"lastValidBlockHeight": 12345678,
				},
			})
		case "getAccountInfo":
			mint := token.Mint{Supply: 1_000_000_000_000, Decimals: 6, IsInitialized: true}
			buf := new(bytes.Buffer)
			require.NoError(t, mint.MarshalWithEncoder(bin.NewBinEncoder(buf)))
			writeResult(map[string]interface{}{
				"context": map[string]interface{}{"slot": 1234},
				"value": map[string]interface{}{
					"data":       []interface{}{base64.StdEncoding.EncodeToString(buf.Bytes()), "base64"},
					"executable": false,
					"lamports":   1000000000,
					"owner":      solana.TokenProgramID.String(),
					"rentEpoch":  0,
				},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]interface{}{"code": -32601, "message": "method not found: " + req.Method},
			})
		}
	}))
}

type fakeClientSigner struct {
	key solana.PrivateKey
}

func (s *fakeClientSigner) Address() solana.PublicKey { return s.key.PublicKey() }

func (s *fakeClientSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return err
	}
	signature, err := s.key.Sign(messageBytes)
	if err != nil {
		return err
	}
	idx, err := tx.GetAccountIndex(s.key.PublicKey())
	if err != nil {
		return err
	}
	if len(tx.Signatures) <= int(idx) {
		newSignatures := make([]solana.Signature, idx+1)
		copy(newSignatures, tx.Signatures)
		tx.Signatures = newSignatures
	}
	tx.Signatures[idx] = signature
	return nil
}

func testRequirements(feePayer, payTo solana.PublicKey) types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            svm.SchemeExact,
		Network:           svm.SolanaDevnetCAIP2,
		Asset:             svm.USDCDevnetAddress,
		Amount:            "100000",
		PayTo:             payTo.String(),
		MaxTimeoutSeconds: 3600,
		Extra:             map[string]interface{}{"feePayer": feePayer.String()},
	}
}

func TestExactSvmClientCreatePaymentPayloadBuildsASignedTransaction(t *testing.T) {
	server := mockSolanaRPC(t)
	defer server.Close()

	signer := &fakeClientSigner{key: solana.NewWallet().PrivateKey}
	scheme := New(signer, &svm.ClientConfig{RPCURL: server.URL})

	feePayer := solana.NewWallet().PublicKey()
	payTo := solana.NewWallet().PublicKey()
	requirements := testRequirements(feePayer, payTo)

	payload, err := scheme.CreatePaymentPayload(context.Background(), requirements)
	require.NoError(t, err)
	assert.Equal(t, 2, payload.X402Version)

	base64Tx, ok := payload.Payload["transaction"].(string)
	require.True(t, ok)

	tx, err := svm.DecodeTransaction(base64Tx)
	require.NoError(t, err)
	require.Len(t, tx.Message.Instructions, 3)

	// Client's signature slot is already filled; fee payer's is still empty.
	clientIdx, err := tx.GetAccountIndex(signer.Address())
	require.NoError(t, err)
	assert.NotEqual(t, solana.Signature{}, tx.Signatures[clientIdx])

	payerAddr, err := svm.GetTokenPayerFromTransaction(tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address().String(), payerAddr)
}

func TestExactSvmClientCreatePaymentPayloadRequiresFeePayer(t *testing.T) {
	server := mockSolanaRPC(t)
	defer server.Close()

	signer := &fakeClientSigner{key: solana.NewWallet().PrivateKey}
	scheme := New(signer, &svm.ClientConfig{RPCURL: server.URL})

	requirements := testRequirements(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	requirements.Extra = nil

	_, err := scheme.CreatePaymentPayload(context.Background(), requirements)
	require.Error(t, err)
}

func TestExactSvmClientCreatePaymentPayloadRejectsUnsupportedNetwork(t *testing.T) {
	signer := &fakeClientSigner{key: solana.NewWallet().PrivateKey}
	scheme := New(signer, nil)

	requirements := testRequirements(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	requirements.Network = "solana:unknown"

	_, err := scheme.CreatePaymentPayload(context.Background(), requirements)
	require.Error(t, err)
}
