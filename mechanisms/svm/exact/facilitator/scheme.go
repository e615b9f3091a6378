// Package facilitator implements the Exact scheme's facilitator side for
// Solana networks: it verifies a client-signed SPL TransferChecked
// transaction, countersigns as fee payer, simulates, and submits it.
package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"

	svm "github.com/x402proto/facilitator/mechanisms/svm"

	"github.com/x402proto/facilitator/core"
	"github.com/x402proto/facilitator/types"
)

// Scheme implements core.SchemeFacilitator for Solana Exact payments.
type Scheme struct {
	signer svm.FacilitatorSigner
}

// New builds an Exact-SVM facilitator scheme against signer.
func New(signer svm.FacilitatorSigner) *Scheme {
	return &Scheme{signer: signer}
}

func (s *Scheme) Scheme() string     { return svm.SchemeExact }
func (s *Scheme) CaipFamily() string { return "solana:*" }

// GetExtra quotes a randomly selected fee payer address, spreading load
// across the pool.
func (s *Scheme) GetExtra(network core.Network) map[string]interface{} {
	addresses := s.signer.GetAddresses(context.Background(), string(network))
	if len(addresses) == 0 {
		return nil
	}
	return map[string]interface{}{
		"feePayer": addresses[rand.Intn(len(addresses))].String(),
	}
}

func (s *Scheme) GetSigners(network core.Network) []string {
	addresses := s.signer.GetAddresses(context.Background(), string(network))
	result := make([]string, len(addresses))
	for i, addr := range addresses {
		result[i] = addr.String()
	}
	return result
}

// Verify checks scheme/network match, that the requested fee payer is
// one this facilitator manages, the transaction's instruction shape
// (compute limit, compute price, transfer), the transfer's recipient,
// mint, and amount, and finally signs and simulates the transaction to
// confirm it would succeed on-chain.
func (s *Scheme) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.VerifyResponse, error) {
	network := core.Network(requirements.Network)

	if payload.Accepted.Scheme != svm.SchemeExact || requirements.Scheme != svm.SchemeExact {
		return nil, core.NewVerifyError(core.ReasonUnsupportedScheme, "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, core.NewVerifyError(core.ReasonNetworkMismatch, "", network, nil)
	}

	feePayerStr, ok := requirements.Extra["feePayer"].(string)
	if !ok || feePayerStr == "" {
		return nil, core.NewVerifyError(core.ReasonMissingFeePayer, "", network, nil)
	}

	signerAddresses := s.signer.GetAddresses(ctx, string(network))
	signerAddressStrs := make([]string, len(signerAddresses))
	for i, addr := range signerAddresses {
		signerAddressStrs[i] = addr.String()
	}
	managed := false
	for _, addr := range signerAddressStrs {
		if addr == feePayerStr {
			managed = true
			break
		}
	}
	if !managed {
		return nil, core.NewVerifyError(core.ReasonFeePayerNotManaged, "", network, nil)
	}

	solanaPayload, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidPayload, "", network, err)
	}

	tx, err := svm.DecodeTransaction(solanaPayload.Transaction)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidPayload, "", network, err)
	}

	if len(tx.Message.Instructions) != 3 {
		return nil, core.NewVerifyError(core.ReasonInvalidPayload, "", network, errors.New("expected 3 instructions"))
	}

	if err := verifyComputeLimitInstruction(tx, tx.Message.Instructions[0]); err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidComputeLimit, "", network, err)
	}
	if err := verifyComputePriceInstruction(tx, tx.Message.Instructions[1], network); err != nil {
		return nil, err
	}

	payer, err := svm.GetTokenPayerFromTransaction(tx)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonNoTransferInstruction, payer, network, err)
	}

	if err := verifyTransferInstruction(tx, tx.Message.Instructions[2], requirements, signerAddressStrs); err != nil {
		return nil, wrapVerifyErr(err, payer, network)
	}

	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonMissingFeePayer, payer, network, err)
	}

	if err := s.signer.SignTransaction(ctx, tx, feePayer, string(requirements.Network)); err != nil {
		return nil, core.NewVerifyError(core.ReasonTransactionFailed, payer, network, err)
	}
	if err := s.signer.SimulateTransaction(ctx, tx, string(requirements.Network)); err != nil {
		return nil, core.NewVerifyError(core.ReasonSimulationFailed, payer, network, err)
	}

	return &types.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle re-verifies, confirms the transaction's fee payer matches the
// requested one, countersigns, submits, and waits for confirmation.
func (s *Scheme) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error) {
	network := core.Network(requirements.Network)

	verifyResp, err := s.Verify(ctx, payload, requirements)
	if err != nil {
		var ve *core.VerifyError
		if errors.As(err, &ve) {
			return nil, core.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, core.NewSettleError(core.ReasonUnsupportedScheme, "", network, "", err)
	}

	solanaPayload, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, core.NewSettleError(core.ReasonInvalidPayload, verifyResp.Payer, network, "", err)
	}
	tx, err := svm.DecodeTransaction(solanaPayload.Transaction)
	if err != nil {
		return nil, core.NewSettleError(core.ReasonInvalidPayload, verifyResp.Payer, network, "", err)
	}

	feePayerStr, ok := requirements.Extra["feePayer"].(string)
	if !ok {
		return nil, core.NewSettleError(core.ReasonMissingFeePayer, verifyResp.Payer, network, "", nil)
	}
	expectedFeePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return nil, core.NewSettleError(core.ReasonMissingFeePayer, verifyResp.Payer, network, "", err)
	}

	if len(tx.Message.AccountKeys) == 0 || tx.Message.AccountKeys[0] != expectedFeePayer {
		return nil, core.NewSettleError(core.ReasonFeePayerMismatch, verifyResp.Payer, network, "",
			fmt.Errorf("expected fee payer %s", expectedFeePayer))
	}

	if err := s.signer.SignTransaction(ctx, tx, expectedFeePayer, string(requirements.Network)); err != nil {
		return nil, core.NewSettleError(core.ReasonTransactionFailed, verifyResp.Payer, network, "", err)
	}

	signature, err := s.signer.SendTransaction(ctx, tx, string(requirements.Network))
	if err != nil {
		return nil, core.NewSettleError(core.ReasonTransactionFailed, verifyResp.Payer, network, "", err)
	}

	if err := s.signer.ConfirmTransaction(ctx, signature, string(requirements.Network)); err != nil {
		return nil, core.NewSettleError(core.ReasonConfirmationFailed, verifyResp.Payer, network, signature.String(), err)
	}

	return &types.SettleResponse{
		Success:     true,
		Transaction: signature.String(),
		Network:     string(network),
		Payer:       verifyResp.Payer,
	}, nil
}

func verifyComputeLimitInstruction(tx *solana.Transaction, inst solana.CompiledInstruction) error {
	progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
	if !progID.Equals(solana.ComputeBudget) {
		return errors.New("not a compute budget instruction")
	}
	if len(inst.Data) < 1 || inst.Data[0] != 2 {
		return errors.New("not a SetComputeUnitLimit instruction")
	}
	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return err
	}
	_, err = computebudget.DecodeInstruction(accounts, inst.Data)
	return err
}

func verifyComputePriceInstruction(tx *solana.Transaction, inst solana.CompiledInstruction, network core.Network) error {
	progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
	if !progID.Equals(solana.ComputeBudget) {
		return core.NewVerifyError(core.ReasonInvalidComputePrice, "", network, errors.New("not a compute budget instruction"))
	}
	if len(inst.Data) < 1 || inst.Data[0] != 3 {
		return core.NewVerifyError(core.ReasonInvalidComputePrice, "", network, errors.New("not a SetComputeUnitPrice instruction"))
	}
	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return core.NewVerifyError(core.ReasonInvalidComputePrice, "", network, err)
	}
	decoded, err := computebudget.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return core.NewVerifyError(core.ReasonInvalidComputePrice, "", network, err)
	}
	priceInst, ok := decoded.Impl.(*computebudget.SetComputeUnitPrice)
	if !ok {
		return core.NewVerifyError(core.ReasonInvalidComputePrice, "", network, errors.New("unexpected instruction type"))
	}
	if priceInst.MicroLamports > uint64(svm.MaxComputeUnitPriceMicrolamports) {
		return core.NewVerifyError(core.ReasonComputePriceTooHigh, "", network, nil)
	}
	return nil
}

func verifyTransferInstruction(tx *solana.Transaction, inst solana.CompiledInstruction, requirements types.PaymentRequirements, signerAddresses []string) error {
	progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
	if progID != solana.TokenProgramID && progID != solana.Token2022ProgramID {
		return errReason(core.ReasonNoTransferInstruction)
	}

	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil || len(accounts) < 4 {
		return errReason(core.ReasonNoTransferInstruction)
	}

	decoded, err := token.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return errReason(core.ReasonNoTransferInstruction)
	}
	transferChecked, ok := decoded.Impl.(*token.TransferChecked)
	if !ok {
		return errReason(core.ReasonNoTransferInstruction)
	}

	// Authority is accounts[3]: [source, mint, destination, authority, ...].
	// A facilitator-managed fee payer must never double as the authority
	// moving funds, or the facilitator would be paying itself.
	authorityAddr := accounts[3].PublicKey.String()
	for _, signerAddr := range signerAddresses {
		if authorityAddr == signerAddr {
			return errReason(core.ReasonSelfTransfer)
		}
	}

	mintAddr := accounts[1].PublicKey.String()
	if mintAddr != requirements.Asset {
		return errReason(core.ReasonMintMismatch)
	}

	payToPubkey, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return errReason(core.ReasonRecipientMismatch)
	}
	mintPubkey, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return errReason(core.ReasonMintMismatch)
	}
	expectedDestATA, _, err := solana.FindAssociatedTokenAddress(payToPubkey, mintPubkey)
	if err != nil {
		return errReason(core.ReasonRecipientMismatch)
	}
	destATA := transferChecked.GetDestinationAccount().PublicKey
	if destATA.String() != expectedDestATA.String() {
		return errReason(core.ReasonRecipientMismatch)
	}

	requiredAmount, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil || transferChecked.Amount == nil || *transferChecked.Amount < requiredAmount {
		return errReason(core.ReasonInsufficientFunds)
	}

	return nil
}

type reasonError string

func errReason(reason string) error           { return reasonError(reason) }
func (e reasonError) Error() string           { return string(e) }
func wrapVerifyErr(err error, payer string, network core.Network) error {
	var re reasonError
	if errors.As(err, &re) {
		return core.NewVerifyError(string(re), payer, network, nil)
	}
	var ve *core.VerifyError
	if errors.As(err, &ve) {
		return ve
	}
	return core.NewVerifyError(core.ReasonInvalidPayload, payer, network, err)
}
