package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/promptbazaar/backend/internal/models"
)

// assertCreditInvariant checks that every seeded user's credit history sums to their balance.
func assertCreditInvariant(t *testing.T, s *memStore, users ...uuid.UUID) {
	t.Helper()
	for _, u := range users {
		if got, want := s.historySum(u), s.credits(u); got != want {
			t.Errorf("user %s: history sums to %d, balance is %d", u, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Credits rail
// ---------------------------------------------------------------------------

func TestSettlePurchase_CreditsSuccess(t *testing.T) {
	env := newTestEnv()
	s := env.store
	buyer := s.addAccount(1000)
	seller := s.addAccount(0)
	prompt := s.addPrompt(seller, 500, true)

	res, err := env.settlement.SettlePurchase(context.Background(), SettleRequest{BuyerID: buyer, PromptID: prompt})
	if err != nil {
		t.Fatalf("SettlePurchase: %v", err)
	}
	if res.Status != models.PurchaseStatusCompleted || res.Price != 500 || res.RedirectURL != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := s.credits(buyer); got != 500 {
		t.Errorf("buyer credits: got %d, want 500", got)
	}
	if got := s.credits(seller); got != 400 {
		t.Errorf("seller credits: got %d, want 400", got)
	}
	if rows := s.history(buyer, models.CreditTypePurchase); len(rows) != 1 || rows[0].Amount != -500 {
		t.Errorf("buyer purchase rows: %+v", rows)
	}
	if rows := s.history(seller, models.CreditTypeSale); len(rows) != 1 || rows[0].Amount != 400 {
		t.Errorf("seller sale rows: %+v", rows)
	}
	p := s.purchase(res.PurchaseID)
	if p.Status != models.PurchaseStatusCompleted || p.PriceAtPurchase != 500 || p.CompletedAt == nil {
		t.Errorf("purchase row: %+v", p)
	}
	if s.purchaseCount() != 1 {
		t.Errorf("purchase count: got %d, want 1", s.purchaseCount())
	}
	assertCreditInvariant(t, s, buyer, seller)

	kinds := env.notifier.kinds()
	if len(kinds) != 2 || kinds[0] != NotifyPurchaseCompleted || kinds[1] != NotifySaleCompleted {
		t.Errorf("notifications: %v", kinds)
	}
}

func TestSettlePurchase_InsufficientFunds(t *testing.T) {
	env := newTestEnv()
	s := env.store
	buyer := s.addAccount(300)
	seller := s.addAccount(0)
	prompt := s.addPrompt(seller, 500, true)

	_, err := env.settlement.SettlePurchase(context.Background(), SettleRequest{BuyerID: buyer, PromptID: prompt})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !strings.Contains(err.Error(), "short by 200") {
		t.Errorf("message should carry the shortfall: %q", err.Error())
	}
	if s.credits(buyer) != 300 || s.credits(seller) != 0 {
		t.Errorf("balances changed: buyer=%d seller=%d", s.credits(buyer), s.credits(seller))
	}
	if s.purchaseCount() != 0 {
		t.Errorf("no purchase should be recorded, got %d", s.purchaseCount())
	}
	if len(env.notifier.kinds()) != 0 {
		t.Errorf("no notification expected on failure")
	}
}

func TestSettlePurchase_Preconditions(t *testing.T) {
	env := newTestEnv()
	s := env.store
	buyer := s.addAccount(1000)
	seller := s.addAccount(0)
	published := s.addPrompt(seller, 100, true)
	draft := s.addPrompt(seller, 100, false)

	tests := []struct {
		name string
		req  SettleRequest
		want error
	}{
		{"unknown prompt", SettleRequest{BuyerID: buyer, PromptID: uuid.New()}, ErrPromptNotFound},
		{"unpublished", SettleRequest{BuyerID: buyer, PromptID: draft}, ErrNotPublished},
		{"self purchase", SettleRequest{BuyerID: seller, PromptID: published}, ErrSelfPurchaseForbidden},
		{"unknown provider", SettleRequest{BuyerID: buyer, PromptID: published, Provider: "paypal"}, ErrUnsupportedProvider},
		{"unconfigured rail", SettleRequest{BuyerID: buyer, PromptID: published, Provider: models.ProviderOrynth}, ErrProcessorUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.settlement.SettlePurchase(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
	if s.purchaseCount() != 0 || s.credits(buyer) != 1000 {
		t.Errorf("rejected requests must not mutate the ledger")
	}
}

func TestSettlePurchase_AlreadyPurchased(t *testing.T) {
	env := newTestEnv()
	s := env.store
	buyer := s.addAccount(1000)
	seller := s.addAccount(0)
	prompt := s.addPrompt(seller, 300, true)
	ctx := context.Background()

	if _, err := env.settlement.SettlePurchase(ctx, SettleRequest{BuyerID: buyer, PromptID: prompt}); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	_, err := env.settlement.SettlePurchase(ctx, SettleRequest{BuyerID: buyer, PromptID: prompt})
	if !errors.Is(err, ErrAlreadyPurchased) {
		t.Fatalf("expected ErrAlreadyPurchased, got %v", err)
	}
	if KindOf(err) != KindConflict {
		t.Errorf("kind: got %s, want conflict", KindOf(err))
	}
	if got := s.credits(buyer); got != 700 {
		t.Errorf("buyer charged twice: credits=%d", got)
	}
}

func TestSettlePurchase_FreePrompt(t *testing.T) {
	env := newTestEnv()
	s := env.store
	buyer := s.addAccount(0)
	seller := s.addAccount(0)
	prompt := s.addPrompt(seller, 0, true)

	// A free prompt settles on credits even when a card rail is requested.
	res, err := env.settlement.SettlePurchase(context.Background(), SettleRequest{BuyerID: buyer, PromptID: prompt, Provider: models.ProviderStripe})
	if err != nil {
		t.Fatalf("SettlePurchase: %v", err)
	}
	if res.Status != models.PurchaseStatusCompleted {
		t.Errorf("status: got %s", res.Status)
	}
	if p := s.purchase(res.PurchaseID); p.PaymentProvider != models.ProviderCredits {
		t.Errorf("provider: got %s, want credits", p.PaymentProvider)
	}
	if len(env.stripe.requests) != 0 {
		t.Errorf("no checkout should be opened for a free prompt")
	}
	if len(s.history(buyer, "")) != 0 || len(s.history(seller, "")) != 0 {
		t.Errorf("free purchase must not write credit history")
	}
}

func TestSettlePurchase_ConcurrentDuplicates(t *testing.T) {
	env := newTestEnv()
	s := env.store
	buyer := s.addAccount(10_000)
	seller := s.addAccount(0)
	prompt := s.addPrompt(seller, 500, true)

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.settlement.SettlePurchase(context.Background(), SettleRequest{BuyerID: buyer, PromptID: prompt})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrAlreadyPurchased):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || conflicts != n-1 {
		t.Fatalf("succeeded=%d conflicts=%d", succeeded, conflicts)
	}
	if got := s.credits(buyer); got != 9500 {
		t.Errorf("buyer credits: got %d, want 9500", got)
	}
	if got := s.credits(seller); got != 400 {
		t.Errorf("seller credits: got %d, want 400", got)
	}
	assertCreditInvariant(t, s, buyer, seller)
}

func TestSettlePurchase_ConcurrentBuyersDrainSharedSeller(t *testing.T) {
	env := newTestEnv()
	s := env.store
	seller := s.addAccount(0)
	prompt := s.addPrompt(seller, 100, true)

	var buyers []uuid.UUID
	for range 8 {
		buyers = append(buyers, s.addAccount(100))
	}
	var wg sync.WaitGroup
	for _, b := range buyers {
		wg.Add(1)
		go func(b uuid.UUID) {
			defer wg.Done()
			if _, err := env.settlement.SettlePurchase(context.Background(), SettleRequest{BuyerID: b, PromptID: prompt}); err != nil {
				t.Errorf("buyer %s: %v", b, err)
			}
		}(b)
	}
	wg.Wait()

	if got := s.credits(seller); got != 8*80 {
		t.Errorf("seller credits: got %d, want %d", got, 8*80)
	}
	assertCreditInvariant(t, s, append(buyers, seller)...)
}

func TestSettlePurchase_RollsBackOnFailure(t *testing.T) {
	for _, step := range []string{"PurchaseCreate", "DeductCredits", "CreditCreate", "AddCredits"} {
		t.Run(step, func(t *testing.T) {
			env := newTestEnv()
			s := env.store
			buyer := s.addAccount(1000)
			seller := s.addAccount(50)
			prompt := s.addPrompt(seller, 500, true)
			s.failAt(step, errors.New("connection reset"))

			_, err := env.settlement.SettlePurchase(context.Background(), SettleRequest{BuyerID: buyer, PromptID: prompt})
			if !errors.Is(err, ErrInternal) {
				t.Fatalf("expected ErrInternal, got %v", err)
			}
			if KindOf(err) != KindInternal {
				t.Errorf("kind: got %s", KindOf(err))
			}
			if s.credits(buyer) != 1000 || s.credits(seller) != 50 {
				t.Errorf("partial state leaked: buyer=%d seller=%d", s.credits(buyer), s.credits(seller))
			}
			if s.purchaseCount() != 0 {
				t.Errorf("purchase row leaked")
			}
			assertCreditInvariant(t, s, buyer, seller)
		})
	}
}

// ---------------------------------------------------------------------------
// Deferred rails
// ---------------------------------------------------------------------------

func TestSettlePurchase_DeferredCreatesPendingCheckout(t *testing.T) {
	env := newTestEnv()
	s := env.store
	buyer := s.addAccount(0)
	seller := s.addAccount(0)
	prompt := s.addPrompt(seller, 1200, true)

	res, err := env.settlement.SettlePurchase(context.Background(), SettleRequest{
		BuyerID: buyer, PromptID: prompt, Provider: models.ProviderStripe,
		ReturnURL: "https://bazaar.test/library",
	})
	if err != nil {
		t.Fatalf("SettlePurchase: %v", err)
	}
	if res.Status != models.PurchaseStatusPending || res.RedirectURL == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	p := s.purchase(res.PurchaseID)
	if p.ProcessorRef == nil || *p.ProcessorRef != "cs_1" {
		t.Errorf("processor ref: %v", p.ProcessorRef)
	}
	if p.PaymentProvider != models.ProviderStripe || p.PriceAtPurchase != 1200 {
		t.Errorf("purchase row: %+v", p)
	}
	if len(s.history(buyer, "")) != 0 || len(s.history(seller, "")) != 0 {
		t.Errorf("no ledger mutation expected before confirmation")
	}

	req := env.stripe.requests[0]
	if req.Metadata.PurchaseID != p.ID || req.Metadata.SellerID != seller || req.Metadata.Price != 1200 {
		t.Errorf("checkout metadata: %+v", req.Metadata)
	}
	if req.SuccessURL != "https://bazaar.test/library" {
		t.Errorf("success url: %s", req.SuccessURL)
	}
}

func TestSettlePurchase_ForeignReturnURLIgnored(t *testing.T) {
	env := newTestEnv()
	s := env.store
	buyer := s.addAccount(0)
	prompt := s.addPrompt(s.addAccount(0), 1200, true)

	if _, err := env.settlement.SettlePurchase(context.Background(), SettleRequest{
		BuyerID: buyer, PromptID: prompt, Provider: models.ProviderStripe,
		ReturnURL: "https://evil.test/phish",
	}); err != nil {
		t.Fatalf("SettlePurchase: %v", err)
	}
	want := "https://bazaar.test/prompts/" + prompt.String() + "?purchase=success"
	if got := env.stripe.requests[0].SuccessURL; got != want {
		t.Errorf("success url: got %s, want %s", got, want)
	}
}

func TestSettlePurchase_CheckoutErrorFreesSlot(t *testing.T) {
	env := newTestEnv()
	s := env.store
	buyer := s.addAccount(0)
	prompt := s.addPrompt(s.addAccount(0), 1200, true)
	env.stripe.createErr = errors.New("card network down")

	_, err := env.settlement.SettlePurchase(context.Background(), SettleRequest{BuyerID: buyer, PromptID: prompt, Provider: models.ProviderStripe})
	if !errors.Is(err, ErrProcessor) {
		t.Fatalf("expected ErrProcessor, got %v", err)
	}

	env.stripe.createErr = nil
	res, err := env.settlement.SettlePurchase(context.Background(), SettleRequest{BuyerID: buyer, PromptID: prompt, Provider: models.ProviderStripe})
	if err != nil {
		t.Fatalf("retry after processor error: %v", err)
	}
	if res.Status != models.PurchaseStatusPending {
		t.Errorf("status: got %s", res.Status)
	}
	if s.purchaseCount() != 2 {
		t.Errorf("expected the failed attempt and the retry, got %d rows", s.purchaseCount())
	}
}

func TestSettlePurchase_PendingBlocksSecondAttempt(t *testing.T) {
	env := newTestEnv()
	s := env.store
	buyer := s.addAccount(5000)
	prompt := s.addPrompt(s.addAccount(0), 1200, true)
	ctx := context.Background()

	if _, err := env.settlement.SettlePurchase(ctx, SettleRequest{BuyerID: buyer, PromptID: prompt, Provider: models.ProviderStripe}); err != nil {
		t.Fatalf("SettlePurchase: %v", err)
	}
	if _, err := env.settlement.SettlePurchase(ctx, SettleRequest{BuyerID: buyer, PromptID: prompt}); !errors.Is(err, ErrAlreadyPurchased) {
		t.Fatalf("expected ErrAlreadyPurchased while pending, got %v", err)
	}
	if s.credits(buyer) != 5000 {
		t.Errorf("credits changed")
	}
}
