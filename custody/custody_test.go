package custody

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/validation"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAuthorizer(t *testing.T) (*Authorizer, *MemoryRail, *SigningKey) {
	t.Helper()
	key, err := GenerateSigningKey()
	assert.NoError(t, err)
	rail := NewMemoryRail(key.PublicKey)
	authorizer, err := NewAuthorizer(key, rail)
	assert.NoError(t, err)
	return authorizer, rail, key
}

func testTransfer() core.Transfer {
	return core.Transfer{
		ID:           uuid.New(),
		AuctionID:    uuid.New(),
		Kind:         core.TransferRefund,
		From:         "escrow:test",
		To:           "bob",
		Amount:       490,
		AuthorizedAt: t0,
	}
}

func TestSigningKeyPEMRoundTrip(t *testing.T) {
	key, err := GenerateSigningKey()
	assert.NoError(t, err)
	check.Equal(t, 16, len(key.KeyID))

	privatePEM, err := key.PrivateKeyPEM()
	assert.NoError(t, err)
	path := filepath.Join(t.TempDir(), "signing.pem")
	assert.NoError(t, os.WriteFile(path, privatePEM, 0o600))

	loaded, err := LoadSigningKey(path)
	assert.NoError(t, err)
	check.Equal(t, key.KeyID, loaded.KeyID)
	check.True(t, key.PublicKey.Equal(loaded.PublicKey))

	publicPEM, err := key.PublicKeyPEM()
	assert.NoError(t, err)
	parsed, err := validation.ParsePublicKeyPEM(publicPEM)
	assert.NoError(t, err)
	check.True(t, key.PublicKey.Equal(parsed))
}

func TestLoadSigningKeyRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	assert.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))
	_, err := LoadSigningKey(path)
	check.Error(t, err)

	_, err = LoadSigningKey(filepath.Join(t.TempDir(), "missing.pem"))
	check.Error(t, err)
}

func TestSignedTransferVerifies(t *testing.T) {
	authorizer, _, key := newTestAuthorizer(t)
	transfer := testTransfer()

	auth, err := authorizer.Sign(transfer)
	assert.NoError(t, err)

	verified, err := validation.VerifyTransferAuthorization(auth, key.PublicKey)
	assert.NoError(t, err)
	check.Equal(t, key.KeyID, verified.KeyID)
	check.Equal(t, transfer.ID, verified.Transfer.ID)
	check.Equal(t, transfer.To, verified.Transfer.To)
	check.Equal(t, transfer.Amount, verified.Transfer.Amount)
	check.True(t, transfer.AuthorizedAt.Equal(verified.Transfer.AuthorizedAt))
}

func TestSignedTransferRejectedUnderOtherKey(t *testing.T) {
	authorizer, _, _ := newTestAuthorizer(t)
	other, err := GenerateSigningKey()
	assert.NoError(t, err)

	auth, err := authorizer.Sign(testTransfer())
	assert.NoError(t, err)

	_, err = validation.VerifyTransferAuthorization(auth, other.PublicKey)
	check.Error(t, err)

	rail := NewMemoryRail(other.PublicKey)
	err = rail.Submit(context.Background(), auth)
	check.True(t, errors.Is(err, ErrRejected))
	check.Equal(t, 0, len(rail.Applied()))
}

func TestTamperedAuthorizationRejected(t *testing.T) {
	authorizer, rail, _ := newTestAuthorizer(t)
	auth, err := authorizer.Sign(testTransfer())
	assert.NoError(t, err)

	tampered := append(auctionapi.COSE{}, auth...)
	tampered[len(tampered)-1] ^= 0xff

	err = rail.Submit(context.Background(), tampered)
	check.True(t, errors.Is(err, ErrRejected))
}

func TestMemoryRailAppliesOncePerTransferID(t *testing.T) {
	authorizer, rail, _ := newTestAuthorizer(t)
	ctx := context.Background()
	transfer := testTransfer()

	assert.NoError(t, authorizer.Transfer(ctx, transfer))
	assert.NoError(t, authorizer.Transfer(ctx, transfer))

	check.Equal(t, 1, len(rail.Applied()))
	check.Equal(t, int64(490), rail.Balance("bob"))
	check.Equal(t, int64(-490), rail.Balance("escrow:test"))
}

func TestMemoryRailHonoursCancelledContext(t *testing.T) {
	authorizer, rail, _ := newTestAuthorizer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := authorizer.Transfer(ctx, testTransfer())
	check.True(t, errors.Is(err, context.Canceled))
	check.Equal(t, 0, len(rail.Applied()))
}

func TestNewAuthorizerRequiresKeyAndRail(t *testing.T) {
	_, err := NewAuthorizer(nil, RailFunc(func(context.Context, auctionapi.COSE) error { return nil }))
	check.Error(t, err)

	key, err := GenerateSigningKey()
	assert.NoError(t, err)
	_, err = NewAuthorizer(key, nil)
	check.Error(t, err)
}

func TestSettlementThroughSignedRail(t *testing.T) {
	authorizer, rail, _ := newTestAuthorizer(t)
	ctx := context.Background()

	a, err := core.NewAuction(core.Config{
		Seller:    "seller",
		Developer: "developer",
		StartTime: t0,
		Duration:  1000 * time.Second,
		EntryBid:  100,
	}, authorizer, nil)
	assert.NoError(t, err)

	_, err = a.PlaceBid("bob", 500, t0.Add(10*time.Second))
	assert.NoError(t, err)
	_, err = a.PlaceBid("alice", 1000, t0.Add(20*time.Second))
	assert.NoError(t, err)

	end := t0.Add(1000 * time.Second)
	_, err = a.DistributeRefunds(ctx, "seller", end)
	assert.NoError(t, err)
	_, err = a.ClaimProduct(ctx, "alice", end)
	assert.NoError(t, err)
	_, err = a.WithdrawSellerFunds(ctx, "seller", end)
	assert.NoError(t, err)
	_, err = a.WithdrawCommission(ctx, "developer", end)
	assert.NoError(t, err)

	check.Equal(t, int64(490), rail.Balance("bob"))
	check.Equal(t, int64(980), rail.Balance("seller"))
	check.Equal(t, int64(30), rail.Balance("developer"))
	check.Equal(t, int64(-1500), rail.Balance("escrow:"+a.ID().String()))

	owner, ok := rail.Owner(a.ID())
	check.True(t, ok)
	check.Equal(t, "alice", owner)
	check.Equal(t, 4, len(rail.Applied()))
	check.Equal(t, 0, len(a.PendingTransfers()))
}
