package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/promptbazaar/backend/internal/config"
	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/payments"
	"github.com/promptbazaar/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// noopTx satisfies pgx.Tx; memTx overrides Commit/Rollback.
// ---------------------------------------------------------------------------

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// ---------------------------------------------------------------------------
// memStore: an in-memory ledger with transaction semantics. Transactions are
// serialized (standing in for row locks) and Rollback restores a snapshot, so
// a failure mid-transaction leaves no partial state.
// ---------------------------------------------------------------------------

type memData struct {
	accounts  map[uuid.UUID]models.Account
	prompts   map[uuid.UUID]models.Prompt
	credits   []models.CreditHistory
	purchases map[uuid.UUID]models.Purchase
	wallets   map[uuid.UUID]models.Wallet
	walletTxs []models.WalletTransaction
	payouts   map[uuid.UUID]models.PayoutRequest
}

func newMemData() *memData {
	return &memData{
		accounts:  map[uuid.UUID]models.Account{},
		prompts:   map[uuid.UUID]models.Prompt{},
		purchases: map[uuid.UUID]models.Purchase{},
		wallets:   map[uuid.UUID]models.Wallet{},
		payouts:   map[uuid.UUID]models.PayoutRequest{},
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.prompts {
		c.prompts[k] = v
	}
	for k, v := range d.purchases {
		c.purchases[k] = v
	}
	for k, v := range d.wallets {
		c.wallets[k] = v
	}
	for k, v := range d.payouts {
		c.payouts[k] = v
	}
	c.credits = append([]models.CreditHistory(nil), d.credits...)
	c.walletTxs = append([]models.WalletTransaction(nil), d.walletTxs...)
	return c
}

type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	d    *memData

	failOn map[string]error
	now    func() time.Time
}

func newMemStore() *memStore {
	return &memStore{d: newMemData(), failOn: map[string]error{}, now: time.Now}
}

type memTx struct {
	noopTx
	s    *memStore
	snap *memData
	done bool
}

func (s *memStore) Begin(context.Context) (pgx.Tx, error) {
	if err := s.fail("Begin"); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.Lock()
	snap := s.d.clone()
	s.mu.Unlock()
	return &memTx{s: s, snap: snap}, nil
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.s.txMu.Unlock()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.s.mu.Lock()
	t.s.d = t.snap
	t.s.mu.Unlock()
	t.done = true
	t.s.txMu.Unlock()
	return nil
}

// failAt injects err into the named store method.
func (s *memStore) failAt(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[method] = err
}

func (s *memStore) fail(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failOn[method]
}

var errCheckViolation = errors.New("check constraint violated")

// --- AccountStore ---

func (s *memStore) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.d.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (s *memStore) DeductCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int64) (int64, error) {
	if err := s.fail("DeductCredits"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.d.accounts[id]
	if !ok || a.Credits < amount {
		return 0, repository.ErrNotFound
	}
	a.Credits -= amount
	s.d.accounts[id] = a
	return a.Credits, nil
}

func (s *memStore) AddCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int64) (int64, error) {
	if err := s.fail("AddCredits"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.d.accounts[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	a.Credits += amount
	s.d.accounts[id] = a
	return a.Credits, nil
}

// --- CreditWriter (credit_history) ---

type memCredits struct{ s *memStore }

func (c memCredits) CreateTx(_ context.Context, _ pgx.Tx, h *models.CreditHistory) error {
	if err := c.s.fail("CreditCreate"); err != nil {
		return err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	h.CreatedAt = c.s.now()
	c.s.d.credits = append(c.s.d.credits, *h)
	return nil
}

// --- PromptReader ---

type memPrompts struct{ s *memStore }

func (p memPrompts) GetByID(_ context.Context, id uuid.UUID) (*models.Prompt, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	pr, ok := p.s.d.prompts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &pr, nil
}

// --- PurchaseStore ---

type memPurchases struct{ s *memStore }

func active(status string) bool {
	return status == models.PurchaseStatusPending || status == models.PurchaseStatusCompleted
}

// conflict mirrors purchases_active_uniq. Caller holds s.mu.
func (m memPurchases) conflict(p *models.Purchase) bool {
	if !active(p.Status) {
		return false
	}
	for id, o := range m.s.d.purchases {
		if id != p.ID && o.UserID == p.UserID && o.PromptID == p.PromptID && active(o.Status) {
			return true
		}
	}
	return false
}

func (m memPurchases) CreateTx(_ context.Context, _ pgx.Tx, p *models.Purchase) error {
	if err := m.s.fail("PurchaseCreate"); err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.conflict(p) {
		return &repository.DuplicateError{Constraint: "purchases_active_uniq"}
	}
	p.CreatedAt = m.s.now()
	p.UpdatedAt = p.CreatedAt
	m.s.d.purchases[p.ID] = *p
	return nil
}

func (m memPurchases) GetByID(_ context.Context, id uuid.UUID) (*models.Purchase, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.d.purchases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (m memPurchases) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Purchase, error) {
	return m.GetByID(ctx, id)
}

func (m memPurchases) GetByProcessorRefForUpdate(_ context.Context, _ pgx.Tx, ref string) (*models.Purchase, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, p := range m.s.d.purchases {
		if p.ProcessorRef != nil && *p.ProcessorRef == ref {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memPurchases) FindActive(_ context.Context, userID, promptID uuid.UUID) (*models.Purchase, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, p := range m.s.d.purchases {
		if p.UserID == userID && p.PromptID == promptID && active(p.Status) {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memPurchases) SetProcessorRefTx(_ context.Context, _ pgx.Tx, id uuid.UUID, ref string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.d.purchases[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.ProcessorRef = &ref
	m.s.d.purchases[id] = p
	return nil
}

func (m memPurchases) UpdateStatusTx(_ context.Context, _ pgx.Tx, p *models.Purchase) error {
	if err := m.s.fail("PurchaseUpdate"); err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.d.purchases[p.ID]; !ok {
		return repository.ErrNotFound
	}
	if m.conflict(p) {
		return &repository.DuplicateError{Constraint: "purchases_active_uniq"}
	}
	p.UpdatedAt = m.s.now()
	m.s.d.purchases[p.ID] = *p
	return nil
}

func (m memPurchases) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]*models.Purchase, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*models.Purchase
	for _, p := range m.s.d.purchases {
		if p.Status == models.PurchaseStatusPending && p.CreatedAt.Before(cutoff) {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- WalletStore ---

type memWallets struct{ s *memStore }

func (m memWallets) byUser(userID uuid.UUID) (models.Wallet, bool) {
	for _, w := range m.s.d.wallets {
		if w.UserID == userID {
			return w, true
		}
	}
	return models.Wallet{}, false
}

func (m memWallets) GetOrCreateTx(_ context.Context, _ pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	w, ok := m.byUser(userID)
	if !ok {
		w = models.Wallet{ID: uuid.New(), UserID: userID, CreatedAt: m.s.now()}
		m.s.d.wallets[w.ID] = w
	}
	return &w, nil
}

func (m memWallets) GetByUserID(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	w, ok := m.byUser(userID)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &w, nil
}

func (m memWallets) GetByUserIDForUpdate(ctx context.Context, _ pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	return m.GetByUserID(ctx, userID)
}

func (m memWallets) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Wallet, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	w, ok := m.s.d.wallets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &w, nil
}

func (m memWallets) AdjustTx(_ context.Context, _ pgx.Tx, walletID uuid.UUID, d repository.WalletDelta) (*models.Wallet, error) {
	if err := m.s.fail("WalletAdjust"); err != nil {
		return nil, err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	w, ok := m.s.d.wallets[walletID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	w.Balance += d.Balance
	w.PendingBalance += d.Pending
	w.TotalEarned += d.Earned
	w.TotalWithdrawn += d.Withdrawn
	if w.Balance < 0 || w.PendingBalance < 0 {
		return nil, errCheckViolation
	}
	m.s.d.wallets[walletID] = w
	return &w, nil
}

func (m memWallets) CreateTransactionTx(_ context.Context, _ pgx.Tx, t *models.WalletTransaction) error {
	if err := m.s.fail("WalletTxCreate"); err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t.CreatedAt = m.s.now()
	m.s.d.walletTxs = append(m.s.d.walletTxs, *t)
	return nil
}

func (m memWallets) PendingForPurchaseTx(_ context.Context, _ pgx.Tx, purchaseID uuid.UUID) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var sum int64
	for _, t := range m.s.d.walletTxs {
		if t.PurchaseID != nil && *t.PurchaseID == purchaseID && t.Bucket == models.BucketPending {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (m memWallets) ListReleasable(_ context.Context, cutoff time.Time, limit int) ([]repository.ReleaseCandidate, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	closed := map[uuid.UUID]bool{}
	for _, t := range m.s.d.walletTxs {
		if t.PurchaseID != nil && (t.Type == models.WalletTxRelease || t.Type == models.WalletTxRefund) {
			closed[*t.PurchaseID] = true
		}
	}
	var out []repository.ReleaseCandidate
	for _, t := range m.s.d.walletTxs {
		if t.Type != models.WalletTxPurchaseRevenue || t.PurchaseID == nil || closed[*t.PurchaseID] {
			continue
		}
		p := m.s.d.purchases[*t.PurchaseID]
		if p.Status != models.PurchaseStatusCompleted || p.CompletedAt == nil || !p.CompletedAt.Before(cutoff) {
			continue
		}
		out = append(out, repository.ReleaseCandidate{PurchaseID: p.ID, WalletID: t.WalletID, Amount: t.Amount})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- PayoutStore ---

type memPayouts struct{ s *memStore }

func (m memPayouts) CreateTx(_ context.Context, _ pgx.Tx, p *models.PayoutRequest) error {
	if err := m.s.fail("PayoutCreate"); err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, o := range m.s.d.payouts {
		if o.WalletID == p.WalletID && o.InFlight() {
			return &repository.DuplicateError{Constraint: "payout_requests_inflight_uniq"}
		}
	}
	p.CreatedAt = m.s.now()
	p.UpdatedAt = p.CreatedAt
	m.s.d.payouts[p.ID] = *p
	return nil
}

func (m memPayouts) GetByID(_ context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.d.payouts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (m memPayouts) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.PayoutRequest, error) {
	return m.GetByID(ctx, id)
}

func (m memPayouts) GetInFlight(_ context.Context, walletID uuid.UUID) (*models.PayoutRequest, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, p := range m.s.d.payouts {
		if p.WalletID == walletID && p.InFlight() {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memPayouts) GetInFlightTx(ctx context.Context, _ pgx.Tx, walletID uuid.UUID) (*models.PayoutRequest, error) {
	return m.GetInFlight(ctx, walletID)
}

func (m memPayouts) UpdateStatusTx(_ context.Context, _ pgx.Tx, p *models.PayoutRequest) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.d.payouts[p.ID]; !ok {
		return repository.ErrNotFound
	}
	p.UpdatedAt = m.s.now()
	m.s.d.payouts[p.ID] = *p
	return nil
}

func (m memPayouts) ListByWallet(_ context.Context, walletID uuid.UUID, limit int) ([]*models.PayoutRequest, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*models.PayoutRequest
	for _, p := range m.s.d.payouts {
		if p.WalletID == walletID {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Seeding and inspection helpers
// ---------------------------------------------------------------------------

// addAccount seeds a user whose starting credits are backed by a bonus row.
func (s *memStore) addAccount(credits int64) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.d.accounts[id] = models.Account{ID: id, Email: id.String() + "@example.com", Credits: credits}
	if credits != 0 {
		s.d.credits = append(s.d.credits, models.CreditHistory{
			ID: uuid.New(), UserID: id, Type: models.CreditTypeBonus, Amount: credits, Description: "seed",
		})
	}
	return id
}

func (s *memStore) addPrompt(owner uuid.UUID, price int64, published bool) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.d.prompts[id] = models.Prompt{ID: id, OwnerID: owner, Title: "Prompt " + id.String()[:8], Price: price, Published: published}
	return id
}

// addWallet seeds a wallet whose balance is backed by an available-bucket revenue row.
func (s *memStore) addWallet(userID uuid.UUID, balance int64) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := models.Wallet{ID: uuid.New(), UserID: userID, Balance: balance, TotalEarned: balance}
	s.d.wallets[w.ID] = w
	if balance != 0 {
		s.d.walletTxs = append(s.d.walletTxs, models.WalletTransaction{
			ID: uuid.New(), WalletID: w.ID, Type: models.WalletTxPurchaseRevenue, Bucket: models.BucketAvailable, Amount: balance,
		})
	}
	return w.ID
}

func (s *memStore) credits(userID uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.accounts[userID].Credits
}

func (s *memStore) history(userID uuid.UUID, typ string) []models.CreditHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CreditHistory
	for _, h := range s.d.credits {
		if h.UserID == userID && (typ == "" || h.Type == typ) {
			out = append(out, h)
		}
	}
	return out
}

func (s *memStore) historySum(userID uuid.UUID) int64 {
	var sum int64
	for _, h := range s.history(userID, "") {
		sum += h.Amount
	}
	return sum
}

func (s *memStore) purchase(id uuid.UUID) models.Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.purchases[id]
}

func (s *memStore) purchaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.purchases)
}

func (s *memStore) walletOf(userID uuid.UUID) (models.Wallet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memWallets{s}.byUser(userID)
}

func (s *memStore) walletTxSum(walletID uuid.UUID, bucket string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, t := range s.d.walletTxs {
		if t.WalletID == walletID && t.Bucket == bucket {
			sum += t.Amount
		}
	}
	return sum
}

func (s *memStore) walletTxs(walletID uuid.UUID, typ string) []models.WalletTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WalletTransaction
	for _, t := range s.d.walletTxs {
		if t.WalletID == walletID && (typ == "" || t.Type == typ) {
			out = append(out, t)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Notifier and processor fakes
// ---------------------------------------------------------------------------

type sentNotification struct {
	UserID uuid.UUID
	Kind   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(_ context.Context, userID uuid.UUID, kind string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{userID, kind})
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		out = append(out, s.Kind)
	}
	return out
}

type fakeProcessor struct {
	provider  models.PaymentProvider
	createErr error
	states    map[string]payments.CheckoutState
	statusErr error

	mu       sync.Mutex
	requests []payments.CheckoutRequest
	seq      int
}

func (p *fakeProcessor) Provider() models.PaymentProvider { return p.provider }

func (p *fakeProcessor) CreateCheckout(_ context.Context, req payments.CheckoutRequest) (*payments.Checkout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.seq++
	id := fmt.Sprintf("cs_%d", p.seq)
	return &payments.Checkout{CorrelationID: id, RedirectURL: "https://checkout.test/" + id}, nil
}

func (p *fakeProcessor) CheckoutStatus(_ context.Context, id string) (payments.CheckoutState, error) {
	if p.statusErr != nil {
		return "", p.statusErr
	}
	if st, ok := p.states[id]; ok {
		return st, nil
	}
	return payments.CheckoutOpen, nil
}

func (p *fakeProcessor) ParseWebhook([]byte, http.Header) (*payments.Event, error) {
	return nil, errors.New("not used")
}

// ---------------------------------------------------------------------------
// Engine wiring
// ---------------------------------------------------------------------------

var testRevenue = config.RevenueConfig{
	CreatorRate:  decimal.RequireFromString("0.80"),
	PlatformRate: decimal.RequireFromString("0.20"),
}

// testClock is shared by the store and every engine so window arithmetic is exact.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	clock      *testClock
	store      *memStore
	notifier   *recordingNotifier
	stripe     *fakeProcessor
	settlement *SettlementEngine
	refunds    *RefundEngine
	payouts    *PayoutEngine
}

func newTestEnv() *testEnv {
	clock := &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	s := newMemStore()
	s.now = clock.Now
	n := &recordingNotifier{}
	stripe := &fakeProcessor{provider: models.ProviderStripe, states: map[string]payments.CheckoutState{}}
	return &testEnv{
		clock:    clock,
		store:    s,
		notifier: n,
		stripe:   stripe,
		settlement: &SettlementEngine{
			Tx: s, Prompts: memPrompts{s}, Accounts: s, Credits: memCredits{s},
			Purchases: memPurchases{s}, Wallets: memWallets{s}, Notifier: n, Revenue: testRevenue,
			Processors:    map[models.PaymentProvider]payments.Processor{models.ProviderStripe: stripe},
			PendingTTL:    2 * time.Hour,
			PublicBaseURL: "https://bazaar.test",
			Now:           clock.Now,
		},
		refunds: &RefundEngine{
			Tx: s, Accounts: s, Credits: memCredits{s}, Purchases: memPurchases{s}, Wallets: memWallets{s},
			Notifier: n, Revenue: testRevenue, Period: 7 * 24 * time.Hour,
			Now: clock.Now,
		},
		payouts: &PayoutEngine{
			Tx: s, Wallets: memWallets{s}, Payouts: memPayouts{s}, Notifier: n,
			Config: config.PayoutConfig{MinimumAmount: 1000, FixedFee: 250, ProcessingDays: 5},
			Now:    clock.Now,
		},
	}
}

func (env *testEnv) releaser(after time.Duration) *WalletReleaser {
	return &WalletReleaser{
		Tx: env.store, Purchases: memPurchases{env.store}, Wallets: memWallets{env.store},
		After: after, Now: env.clock.Now,
	}
}

func (env *testEnv) reconciler() *Reconciler {
	return &Reconciler{
		Purchases: memPurchases{env.store}, Settlement: env.settlement,
		PendingTTL: env.settlement.PendingTTL, Now: env.clock.Now,
	}
}
