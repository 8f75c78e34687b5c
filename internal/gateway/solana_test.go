package gateway

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func encodeTokenAccount(t *testing.T, mint, owner solana.PublicKey, amount uint64, state uint8) []byte {
	t.Helper()
	buf := make([]byte, 0, 165)
	buf = append(buf, mint[:]...)
	buf = append(buf, owner[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, amount)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = append(buf, make([]byte, 32)...)
	buf = append(buf, state)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = binary.LittleEndian.AppendUint64(buf, 0)
	buf = binary.LittleEndian.AppendUint64(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = append(buf, make([]byte, 32)...)
	require.Len(t, buf, 165)
	return buf
}

func TestDecodeTokenAccount(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	acc, err := decodeTokenAccount(encodeTokenAccount(t, mint, owner, 123456, tokenAccountStateFrozen))
	require.NoError(t, err)
	require.Equal(t, mint, acc.Mint)
	require.Equal(t, owner, acc.Owner)
	require.Equal(t, uint64(123456), acc.Amount)
	require.Equal(t, tokenAccountStateFrozen, acc.State)
}

func TestBuildTransferInstruction(t *testing.T) {
	source := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	inst := buildTransferInstruction(source, dest, owner, 9_000_000)
	require.True(t, inst.ProgramID().Equals(tokenProgramID))

	data, err := inst.Data()
	require.NoError(t, err)
	require.Len(t, data, 9)
	require.Equal(t, byte(3), data[0])
	require.Equal(t, uint64(9_000_000), binary.LittleEndian.Uint64(data[1:]))

	accounts := inst.Accounts()
	require.Len(t, accounts, 3)
	require.Equal(t, source, accounts[0].PublicKey)
	require.True(t, accounts[0].IsWritable)
	require.False(t, accounts[0].IsSigner)
	require.Equal(t, dest, accounts[1].PublicKey)
	require.True(t, accounts[1].IsWritable)
	require.Equal(t, owner, accounts[2].PublicKey)
	require.True(t, accounts[2].IsSigner)
	require.False(t, accounts[2].IsWritable)
}

func TestBuildMemoInstruction(t *testing.T) {
	inst := buildMemoInstruction("41bd6a7e")
	require.True(t, inst.ProgramID().Equals(memoProgramID))

	data, err := inst.Data()
	require.NoError(t, err)
	require.Equal(t, "settle:41bd6a7e", string(data))
	require.Empty(t, inst.Accounts())
}

func TestClassifySubmitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"insufficient funds", errors.New("Transaction simulation failed: insufficient funds"), KindInsufficientBalance},
		{"token balance", errors.New("custom program error: 0x1"), KindInsufficientBalance},
		{"expired blockhash", errors.New("Blockhash not found"), KindNetworkUnavailable},
		{"bad signature", errors.New("Transaction signature verification failure"), KindReverted},
		{"transport", errors.New("connection refused"), KindNetworkUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classifySubmitError(tc.err)
			require.Equal(t, tc.kind, KindOf(err))
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(NewError(KindNetworkUnavailable, "rpc down", nil)))
	require.False(t, IsTransient(NewError(KindInsufficientBalance, "empty", nil)))
	require.False(t, IsTransient(NewError(KindReverted, "rejected", nil)))
	require.False(t, IsTransient(errors.New("plain")))
}
