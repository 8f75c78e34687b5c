package gateway

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

var (
	tokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	memoProgramID  = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
)

const (
	tokenAccountStateInitialized uint8 = 1
	tokenAccountStateFrozen      uint8 = 2
)

// SolanaGateway executes SPL token transfers from the platform custody
// wallet. Broadcasts are serialized through a mutex so concurrent settlements
// cannot race the signer account at the RPC node.
type SolanaGateway struct {
	client       *rpc.Client
	signer       solana.PrivateKey
	pollInterval time.Duration

	txMu sync.Mutex
}

var _ Gateway = (*SolanaGateway)(nil)

// NewSolanaGateway connects to rpcURL and signs with the base58-encoded
// custody secret.
func NewSolanaGateway(rpcURL, signerSecret string, pollInterval time.Duration) (*SolanaGateway, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("ledger rpc url is empty")
	}
	signer, err := solana.PrivateKeyFromBase58(signerSecret)
	if err != nil {
		return nil, fmt.Errorf("parse custody signer secret: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &SolanaGateway{
		client:       rpc.New(rpcURL),
		signer:       signer,
		pollInterval: pollInterval,
	}, nil
}

// SignerAddress returns the custody wallet's public address.
func (g *SolanaGateway) SignerAddress() string {
	return g.signer.PublicKey().String()
}

func (g *SolanaGateway) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.Amount == 0 {
		return "", fmt.Errorf("transfer amount is zero")
	}

	mint, err := solana.PublicKeyFromBase58(req.Mint)
	if err != nil {
		return "", fmt.Errorf("parse mint %q: %w", req.Mint, err)
	}
	sourceOwner, err := solana.PublicKeyFromBase58(req.Source)
	if err != nil {
		return "", fmt.Errorf("parse source wallet %q: %w", req.Source, err)
	}
	destOwner, err := solana.PublicKeyFromBase58(req.Destination)
	if err != nil {
		return "", fmt.Errorf("parse destination wallet %q: %w", req.Destination, err)
	}
	if !sourceOwner.Equals(g.signer.PublicKey()) {
		return "", fmt.Errorf("source wallet %s is not the custody signer", req.Source)
	}

	source, err := g.tokenAccount(ctx, sourceOwner, mint)
	if err != nil {
		return "", NewError(KindInsufficientBalance, "source has no token account for mint", err)
	}
	dest, err := g.tokenAccount(ctx, destOwner, mint)
	if err != nil {
		return "", NewError(KindReverted, "destination has no token account for mint", err)
	}

	instructions := []solana.Instruction{
		buildTransferInstruction(source, dest, sourceOwner, req.Amount),
		buildMemoInstruction(req.Reference),
	}

	blockhash, err := g.latestBlockhash(ctx)
	if err != nil {
		return "", NewError(KindNetworkUnavailable, "fetch blockhash", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(g.signer.PublicKey()))
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(g.signer.PublicKey()) {
			return &g.signer
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	enc, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("serialize transaction: %w", err)
	}

	g.txMu.Lock()
	defer g.txMu.Unlock()

	sig, err := g.client.SendRawTransaction(ctx, enc)
	if err != nil {
		return "", classifySubmitError(err)
	}

	zap.L().Info("ledger transfer submitted",
		zap.String("tx_ref", sig.String()),
		zap.String("reference", req.Reference),
		zap.Uint64("amount", req.Amount),
	)
	return sig.String(), nil
}

func (g *SolanaGateway) WaitForConfirmation(ctx context.Context, txRef string, minConfirmations int64) (Confirmation, error) {
	sig, err := solana.SignatureFromBase58(txRef)
	if err != nil {
		return Confirmation{}, fmt.Errorf("parse tx ref %q: %w", txRef, err)
	}

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		statuses, err := g.client.GetSignatureStatuses(ctx, true, sig)
		if err == nil && statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			st := statuses.Value[0]
			if st.Err != nil {
				return Confirmation{
					Outcome:  OutcomeFailed,
					BlockRef: strconv.FormatUint(st.Slot, 10),
					Detail:   fmt.Sprintf("%v", st.Err),
				}, nil
			}
			confirmations := int64(0)
			if st.Confirmations != nil {
				confirmations = int64(*st.Confirmations)
			}
			// A nil confirmation count with finalized status means the
			// transaction is rooted and can no longer be rolled back.
			finalized := st.ConfirmationStatus == rpc.ConfirmationStatusFinalized
			if finalized || confirmations >= minConfirmations {
				if finalized && confirmations < minConfirmations {
					confirmations = minConfirmations
				}
				return Confirmation{
					Outcome:       OutcomeConfirmed,
					Confirmations: confirmations,
					BlockRef:      strconv.FormatUint(st.Slot, 10),
				}, nil
			}
		}

		select {
		case <-ctx.Done():
			return Confirmation{Outcome: OutcomeTimedOut, Detail: ctx.Err().Error()}, nil
		case <-ticker.C:
		}
	}
}

func (g *SolanaGateway) BalanceOf(ctx context.Context, wallet, mint string) (uint64, error) {
	accounts, err := g.tokenAccountsFor(ctx, wallet, mint)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, acc := range accounts {
		total += acc.Amount
	}
	return total, nil
}

func (g *SolanaGateway) IsEligible(ctx context.Context, wallet, mint string) (bool, error) {
	accounts, err := g.tokenAccountsFor(ctx, wallet, mint)
	if err != nil {
		return false, err
	}
	for _, acc := range accounts {
		if acc.State == tokenAccountStateInitialized {
			return true, nil
		}
	}
	return false, nil
}

// IsPaused reports whether distribution of mint is halted. The platform
// pauses a token by freezing the custody wallet's token account, so a frozen
// or missing custody account means no primary transfer can settle.
func (g *SolanaGateway) IsPaused(ctx context.Context, mint string) (bool, error) {
	accounts, err := g.tokenAccountsFor(ctx, g.signer.PublicKey().String(), mint)
	if err != nil {
		return false, err
	}
	if len(accounts) == 0 {
		return true, nil
	}
	for _, acc := range accounts {
		if acc.State == tokenAccountStateInitialized {
			return false, nil
		}
	}
	return true, nil
}

func (g *SolanaGateway) tokenAccount(ctx context.Context, owner, mint solana.PublicKey) (solana.PublicKey, error) {
	out, err := g.client.GetTokenAccountsByOwner(ctx, owner, &rpc.GetTokenAccountsConfig{
		Mint: &mint,
	}, &rpc.GetTokenAccountsOpts{
		Encoding: solana.EncodingBase64,
	})
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("get token accounts for %s: %w", owner, err)
	}
	if len(out.Value) == 0 {
		return solana.PublicKey{}, fmt.Errorf("no token account for owner %s and mint %s", owner, mint)
	}
	return out.Value[0].Pubkey, nil
}

func (g *SolanaGateway) tokenAccountsFor(ctx context.Context, wallet, mint string) ([]splTokenAccount, error) {
	ownerPk, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return nil, fmt.Errorf("parse wallet %q: %w", wallet, err)
	}
	mintPk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("parse mint %q: %w", mint, err)
	}

	out, err := g.client.GetTokenAccountsByOwner(ctx, ownerPk, &rpc.GetTokenAccountsConfig{
		Mint: &mintPk,
	}, &rpc.GetTokenAccountsOpts{
		Encoding: solana.EncodingBase64,
	})
	if err != nil {
		return nil, NewError(KindNetworkUnavailable, "get token accounts", err)
	}

	accounts := make([]splTokenAccount, 0, len(out.Value))
	for _, it := range out.Value {
		acc, err := decodeTokenAccount(it.Account.Data.GetBinary())
		if err != nil {
			return nil, fmt.Errorf("decode token account %s: %w", it.Pubkey, err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

func (g *SolanaGateway) latestBlockhash(ctx context.Context) (solana.Hash, error) {
	bh, err := g.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		bh, err = g.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return solana.Hash{}, err
		}
	}
	return bh.Value.Blockhash, nil
}

// buildTransferInstruction encodes an SPL Token Transfer: discriminator 3
// followed by the amount as a little-endian uint64.
func buildTransferInstruction(source, dest, owner solana.PublicKey, amount uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], amount)

	accounts := solana.AccountMetaSlice{
		{PublicKey: source, IsSigner: false, IsWritable: true},
		{PublicKey: dest, IsSigner: false, IsWritable: true},
		{PublicKey: owner, IsSigner: true, IsWritable: false},
	}
	return solana.NewInstruction(tokenProgramID, accounts, data)
}

// buildMemoInstruction tags the transaction with "settle:<orderID>" so it
// can be traced back to its order from chain explorers.
func buildMemoInstruction(reference string) solana.Instruction {
	return solana.NewInstruction(
		memoProgramID,
		solana.AccountMetaSlice{},
		[]byte("settle:"+reference),
	)
}

// splTokenAccount mirrors the fixed 165-byte SPL token account layout.
type splTokenAccount struct {
	Mint                 solana.PublicKey
	Owner                solana.PublicKey
	Amount               uint64
	DelegateOption       uint32
	Delegate             solana.PublicKey
	State                uint8
	IsNativeOption       uint32
	IsNative             uint64
	DelegatedAmount      uint64
	CloseAuthorityOption uint32
	CloseAuthority       solana.PublicKey
}

func decodeTokenAccount(data []byte) (splTokenAccount, error) {
	var acc splTokenAccount
	if err := bin.NewBinDecoder(data).Decode(&acc); err != nil {
		return splTokenAccount{}, err
	}
	return acc, nil
}

// classifySubmitError maps RPC broadcast failures onto the gateway error
// taxonomy. Unrecognized errors default to transient so the bounded retry
// gets a chance before the order fails.
func classifySubmitError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "insufficient lamports"),
		strings.Contains(msg, "custom program error: 0x1"):
		return NewError(KindInsufficientBalance, "broadcast rejected", err)
	case strings.Contains(msg, "signature verification failure"):
		return NewError(KindReverted, "broadcast rejected", err)
	case strings.Contains(msg, "Blockhash not found"),
		strings.Contains(msg, "BlockhashNotFound"):
		return NewError(KindNetworkUnavailable, "blockhash expired", err)
	default:
		return NewError(KindNetworkUnavailable, "broadcast failed", err)
	}
}
