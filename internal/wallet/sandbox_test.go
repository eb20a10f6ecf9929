// ABOUTME: Tests for the in-memory sandbox wallet
// ABOUTME: Walks sign-in, deposit, withdrawal and history end to end

package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_Flow(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox("", false)
	id := sb.Register("+254712345678", "Wanjiru", 1000)

	_, err := sb.SendOTP(ctx, "+254700000000")
	assert.ErrorIs(t, err, ErrNotFound)

	res, err := sb.SendOTP(ctx, "+254712345678")
	require.NoError(t, err)
	assert.True(t, res.Sent)

	v, err := sb.VerifyOTP(ctx, "+254712345678", "000000")
	require.NoError(t, err)
	assert.False(t, v.Valid)

	v, err = sb.VerifyOTP(ctx, "+254712345678", DefaultSandboxOTP)
	require.NoError(t, err)
	require.True(t, v.Valid)
	assert.Equal(t, id, v.AccountID)

	_, err = sb.LoadMoney(ctx, id, 500, "mpesa")
	require.NoError(t, err)
	_, err = sb.Withdraw(ctx, id, 200)
	require.NoError(t, err)

	b, err := sb.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1300.0, b.Amount)

	txs, err := sb.GetHistory(ctx, id, 5)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "withdrawal", txs[0].Type)
	assert.Equal(t, "deposit", txs[1].Type)
}

func TestSandbox_InsufficientFunds(t *testing.T) {
	sb := NewSandbox("", false)
	id := sb.Register("+254712345678", "", 100)

	_, err := sb.Withdraw(context.Background(), id, 500)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "insufficient funds", se.Message)
}

func TestSandbox_AutoRegister(t *testing.T) {
	sb := NewSandbox("999999", true)
	u, err := sb.LookupUser(context.Background(), "+254799999999")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	v, err := sb.VerifyOTP(context.Background(), "+254799999999", "999999")
	require.NoError(t, err)
	assert.Equal(t, u.ID, v.AccountID)
}

func TestSandbox_CurrentPrice(t *testing.T) {
	sb := NewSandbox("", true)

	p, err := sb.CurrentPrice(context.Background(), "kes")
	require.NoError(t, err)
	assert.Equal(t, SandboxBTCPrice, p)

	_, err = sb.CurrentPrice(context.Background(), "USD")
	assert.ErrorIs(t, err, ErrNotFound)
}
