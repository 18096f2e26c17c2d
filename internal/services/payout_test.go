package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/promptbazaar/backend/internal/config"
	"github.com/promptbazaar/backend/internal/models"
)

func validBank() models.BankDetails {
	return models.BankDetails{
		BankName: "Mizuho", BranchName: "Shibuya", AccountType: "ordinary",
		AccountNumber: "1234567", AccountHolder: "YAMADA TARO",
	}
}

// assertWalletInvariant checks the available bucket against balance and the pending bucket against pending balance.
func assertWalletInvariant(t *testing.T, s *memStore, walletID uuid.UUID) {
	t.Helper()
	s.mu.Lock()
	w := s.d.wallets[walletID]
	s.mu.Unlock()
	if got := s.walletTxSum(walletID, models.BucketAvailable); got != w.Balance {
		t.Errorf("available rows sum to %d, balance is %d", got, w.Balance)
	}
	if got := s.walletTxSum(walletID, models.BucketPending); got != w.PendingBalance {
		t.Errorf("pending rows sum to %d, pending balance is %d", got, w.PendingBalance)
	}
}

func TestRequestPayout_Success(t *testing.T) {
	env := newTestEnv()
	s := env.store
	seller := s.addAccount(0)
	wid := s.addWallet(seller, 5000)

	res, err := env.payouts.RequestPayout(context.Background(), seller, 3000, validBank())
	if err != nil {
		t.Fatalf("RequestPayout: %v", err)
	}
	if res.Amount != 3000 || res.Fee != 250 || res.NetAmount != 2750 {
		t.Errorf("result: %+v", res)
	}
	if want := env.clock.Now().AddDate(0, 0, 5); !res.EstimatedArrival.Equal(want) {
		t.Errorf("estimated arrival: got %v, want %v", res.EstimatedArrival, want)
	}
	w, _ := s.walletOf(seller)
	if w.Balance != 2000 || w.TotalWithdrawn != 3000 {
		t.Errorf("wallet: %+v", w)
	}
	rows := s.walletTxs(wid, models.WalletTxPayout)
	if len(rows) != 1 || rows[0].Amount != -3000 || rows[0].PayoutID == nil || *rows[0].PayoutID != res.PayoutID {
		t.Errorf("payout rows: %+v", rows)
	}
	assertWalletInvariant(t, s, wid)
}

func TestRequestPayout_InsufficientBalance(t *testing.T) {
	env := newTestEnv()
	s := env.store
	seller := s.addAccount(0)
	wid := s.addWallet(seller, 1500)

	_, err := env.payouts.RequestPayout(context.Background(), seller, 2000, validBank())
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !strings.Contains(err.Error(), "short by 500") {
		t.Errorf("message: %q", err.Error())
	}
	w, _ := s.walletOf(seller)
	if w.Balance != 1500 || w.TotalWithdrawn != 0 {
		t.Errorf("wallet changed: %+v", w)
	}
	if n := len(s.walletTxs(wid, models.WalletTxPayout)); n != 0 {
		t.Errorf("payout rows: %d", n)
	}
}

func TestRequestPayout_Rejections(t *testing.T) {
	env := newTestEnv()
	s := env.store
	seller := s.addAccount(0)
	s.addWallet(seller, 5000)
	noWallet := s.addAccount(0)

	badBank := validBank()
	badBank.BankName = " "
	badBank.AccountNumber = ""

	tests := []struct {
		name   string
		seller uuid.UUID
		amount int64
		bank   models.BankDetails
		want   error
		msg    string
	}{
		{"below minimum", seller, 999, validBank(), ErrBelowMinimumPayout, "minimum is 1000"},
		{"incomplete bank", seller, 2000, badBank, ErrInvalidBankDetails, "missing account_number, bank_name"},
		{"no wallet", noWallet, 2000, validBank(), ErrWalletNotFound, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.payouts.RequestPayout(context.Background(), tc.seller, tc.amount, tc.bank)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if tc.msg != "" && !strings.Contains(err.Error(), tc.msg) {
				t.Errorf("message %q does not contain %q", err.Error(), tc.msg)
			}
		})
	}
}

func TestRequestPayout_FeeExceedsAmount(t *testing.T) {
	env := newTestEnv()
	env.payouts.Config = config.PayoutConfig{MinimumAmount: 100, FixedFee: 250}
	s := env.store
	seller := s.addAccount(0)
	s.addWallet(seller, 1000)

	if _, err := env.payouts.RequestPayout(context.Background(), seller, 250, validBank()); !errors.Is(err, ErrFeeExceedsAmount) {
		t.Fatalf("expected ErrFeeExceedsAmount, got %v", err)
	}
}

func TestRequestPayout_SingleInFlight(t *testing.T) {
	env := newTestEnv()
	s := env.store
	seller := s.addAccount(0)
	s.addWallet(seller, 100_000)
	ctx := context.Background()

	if _, err := env.payouts.RequestPayout(ctx, seller, 2000, validBank()); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := env.payouts.RequestPayout(ctx, seller, 2000, validBank())
	if !errors.Is(err, ErrPayoutInProgress) {
		t.Fatalf("expected ErrPayoutInProgress, got %v", err)
	}
	if KindOf(err) != KindConflict {
		t.Errorf("kind: got %s", KindOf(err))
	}
}

func TestRequestPayout_InFlightOutranksDrainedBalance(t *testing.T) {
	env := newTestEnv()
	s := env.store
	seller := s.addAccount(0)
	wid := s.addWallet(seller, 1500)
	ctx := context.Background()

	if _, err := env.payouts.RequestPayout(ctx, seller, 1500, validBank()); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := env.payouts.RequestPayout(ctx, seller, 1000, validBank())
	if !errors.Is(err, ErrPayoutInProgress) {
		t.Fatalf("expected ErrPayoutInProgress, got %v", err)
	}
	if !strings.Contains(err.Error(), "cancel it") {
		t.Errorf("message: %q", err.Error())
	}
	w, _ := s.walletOf(seller)
	if w.Balance != 0 || w.TotalWithdrawn != 1500 {
		t.Errorf("wallet: %+v", w)
	}
	assertWalletInvariant(t, s, wid)
}

func TestRequestPayout_ConcurrentRequestsSerialize(t *testing.T) {
	env := newTestEnv()
	s := env.store
	seller := s.addAccount(0)
	wid := s.addWallet(seller, 10_000)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.payouts.RequestPayout(context.Background(), seller, 4000, validBank())
			if err != nil && !errors.Is(err, ErrPayoutInProgress) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("accepted %d payout requests, want 1", accepted)
	}
	w, _ := s.walletOf(seller)
	if w.Balance != 6000 {
		t.Errorf("balance: got %d, want 6000", w.Balance)
	}
	assertWalletInvariant(t, s, wid)
}

func TestCancelPayout(t *testing.T) {
	env := newTestEnv()
	s := env.store
	seller := s.addAccount(0)
	wid := s.addWallet(seller, 5000)
	ctx := context.Background()

	res, err := env.payouts.RequestPayout(ctx, seller, 3000, validBank())
	if err != nil {
		t.Fatalf("RequestPayout: %v", err)
	}
	if _, err := env.payouts.CancelPayout(ctx, res.PayoutID, s.addAccount(0)); !errors.Is(err, ErrForbidden) {
		t.Errorf("cancel by another user: got %v", err)
	}

	req, err := env.payouts.CancelPayout(ctx, res.PayoutID, seller)
	if err != nil {
		t.Fatalf("CancelPayout: %v", err)
	}
	if req.Status != models.PayoutStatusCancelled || req.ProcessedAt == nil {
		t.Errorf("request: %+v", req)
	}
	w, _ := s.walletOf(seller)
	if w.Balance != 5000 || w.TotalWithdrawn != 0 {
		t.Errorf("wallet: %+v", w)
	}
	rows := s.walletTxs(wid, models.WalletTxPayout)
	if len(rows) != 2 || rows[1].Amount != 3000 {
		t.Errorf("payout rows: %+v", rows)
	}
	assertWalletInvariant(t, s, wid)

	if _, err := env.payouts.CancelPayout(ctx, res.PayoutID, seller); !errors.Is(err, ErrPayoutNotCancellable) {
		t.Errorf("second cancel: got %v", err)
	}
	if _, err := env.payouts.CancelPayout(ctx, uuid.New(), seller); !errors.Is(err, ErrPayoutNotFound) {
		t.Errorf("unknown payout: got %v", err)
	}
	// The slot is free again.
	if _, err := env.payouts.RequestPayout(ctx, seller, 1000, validBank()); err != nil {
		t.Errorf("request after cancel: %v", err)
	}
}

func TestPayoutLifecycle(t *testing.T) {
	env := newTestEnv()
	s := env.store
	seller := s.addAccount(0)
	wid := s.addWallet(seller, 5000)
	ctx := context.Background()

	res, err := env.payouts.RequestPayout(ctx, seller, 2000, validBank())
	if err != nil {
		t.Fatalf("RequestPayout: %v", err)
	}
	if _, err := env.payouts.MarkPayoutProcessing(ctx, res.PayoutID); err != nil {
		t.Fatalf("MarkPayoutProcessing: %v", err)
	}
	if _, err := env.payouts.CancelPayout(ctx, res.PayoutID, seller); !errors.Is(err, ErrPayoutNotCancellable) {
		t.Errorf("cancel while processing: got %v", err)
	}
	req, err := env.payouts.CompletePayout(ctx, res.PayoutID)
	if err != nil {
		t.Fatalf("CompletePayout: %v", err)
	}
	if req.Status != models.PayoutStatusCompleted || req.ProcessedAt == nil {
		t.Errorf("request: %+v", req)
	}
	if _, err := env.payouts.FailPayout(ctx, res.PayoutID, "late bounce"); !errors.Is(err, ErrInvalidPayoutTransition) {
		t.Errorf("fail after complete: got %v", err)
	}
	w, _ := s.walletOf(seller)
	if w.Balance != 3000 || w.TotalWithdrawn != 2000 {
		t.Errorf("wallet: %+v", w)
	}
	assertWalletInvariant(t, s, wid)
}

func TestFailPayout_RestoresBalance(t *testing.T) {
	env := newTestEnv()
	s := env.store
	seller := s.addAccount(0)
	wid := s.addWallet(seller, 5000)
	ctx := context.Background()

	res, err := env.payouts.RequestPayout(ctx, seller, 2000, validBank())
	if err != nil {
		t.Fatalf("RequestPayout: %v", err)
	}
	if _, err := env.payouts.MarkPayoutProcessing(ctx, res.PayoutID); err != nil {
		t.Fatalf("MarkPayoutProcessing: %v", err)
	}
	req, err := env.payouts.FailPayout(ctx, res.PayoutID, "account closed")
	if err != nil {
		t.Fatalf("FailPayout: %v", err)
	}
	if req.FailureReason == nil || *req.FailureReason != "account closed" {
		t.Errorf("failure reason: %v", req.FailureReason)
	}
	w, _ := s.walletOf(seller)
	if w.Balance != 5000 || w.TotalWithdrawn != 0 {
		t.Errorf("wallet: %+v", w)
	}
	assertWalletInvariant(t, s, wid)

	kinds := env.notifier.kinds()
	if kinds[len(kinds)-1] != NotifyPayoutFailed {
		t.Errorf("notifications: %v", kinds)
	}
}

func TestGetWalletSummary(t *testing.T) {
	env := newTestEnv()
	s := env.store
	ctx := context.Background()

	empty, err := env.payouts.GetWalletSummary(ctx, s.addAccount(0))
	if err != nil {
		t.Fatalf("GetWalletSummary: %v", err)
	}
	if empty.Balance != 0 || empty.CanRequest || empty.MinimumPayout != 1000 || empty.PayoutFee != 250 {
		t.Errorf("empty summary: %+v", empty)
	}

	seller := s.addAccount(0)
	s.addWallet(seller, 4000)
	sum, _ := env.payouts.GetWalletSummary(ctx, seller)
	if !sum.CanRequest || sum.InFlight != nil {
		t.Errorf("summary before request: %+v", sum)
	}
	res, err := env.payouts.RequestPayout(ctx, seller, 1500, validBank())
	if err != nil {
		t.Fatalf("RequestPayout: %v", err)
	}
	sum, _ = env.payouts.GetWalletSummary(ctx, seller)
	if sum.CanRequest || sum.InFlight == nil || sum.InFlight.ID != res.PayoutID || sum.Balance != 2500 {
		t.Errorf("summary with in-flight request: %+v", sum)
	}
}

func TestGetPayoutHistory(t *testing.T) {
	env := newTestEnv()
	s := env.store
	seller := s.addAccount(0)
	s.addWallet(seller, 10_000)
	ctx := context.Background()

	for range 3 {
		res, err := env.payouts.RequestPayout(ctx, seller, 1000, validBank())
		if err != nil {
			t.Fatalf("RequestPayout: %v", err)
		}
		if _, err := env.payouts.CompletePayout(ctx, res.PayoutID); err != nil {
			t.Fatalf("CompletePayout: %v", err)
		}
		env.clock.Advance(time.Hour)
	}
	list, err := env.payouts.GetPayoutHistory(ctx, seller, 2)
	if err != nil {
		t.Fatalf("GetPayoutHistory: %v", err)
	}
	if len(list) != 2 || !list[0].CreatedAt.After(list[1].CreatedAt) {
		t.Errorf("history should be newest first and limited: %+v", list)
	}
	none, err := env.payouts.GetPayoutHistory(ctx, s.addAccount(0), 10)
	if err != nil || len(none) != 0 {
		t.Errorf("seller without wallet: %v %v", none, err)
	}
}
