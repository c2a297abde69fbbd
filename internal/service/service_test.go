package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/adekunle-oj/wallet-core/internal/config"
	"github.com/adekunle-oj/wallet-core/internal/guard"
	"github.com/adekunle-oj/wallet-core/internal/model"
	"github.com/adekunle-oj/wallet-core/internal/normalize"
	"github.com/adekunle-oj/wallet-core/internal/repository"
	"github.com/adekunle-oj/wallet-core/internal/signature"
)

type stubRepo struct {
	mu       sync.Mutex
	users    map[string]bool
	entries  map[string]model.LedgerEntry
	balances map[string]int64
	intents  map[string]string
	pending  map[string]model.EntryStatus
	orphans  []model.OrphanEvent

	insertErr  error
	lookupErr  error
	orphanErr  error
	updateErr  error
	insertHook func(ctx context.Context)
}

func newStubRepo(users ...string) *stubRepo {
	r := &stubRepo{
		users:    make(map[string]bool),
		entries:  make(map[string]model.LedgerEntry),
		balances: make(map[string]int64),
		intents:  make(map[string]string),
		pending:  make(map[string]model.EntryStatus),
	}
	for _, u := range users {
		r.users[u] = true
	}
	return r
}

func (r *stubRepo) Close() error { return nil }

func (r *stubRepo) InsertLedgerEntryAndCreditWallet(ctx context.Context, entry model.LedgerEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.insertHook != nil {
		r.insertHook(ctx)
	}
	if r.insertErr != nil {
		return false, r.insertErr
	}
	if _, ok := r.entries[entry.Reference]; ok {
		return false, nil
	}
	if !r.users[entry.UserID] {
		return false, fmt.Errorf("%w: %s", repository.ErrUnknownUser, entry.UserID)
	}

	r.entries[entry.Reference] = entry
	r.balances[entry.UserID] += entry.AmountMinor
	return true, nil
}

func (r *stubRepo) LookupLedgerEntryByReference(ctx context.Context, reference string) (*model.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	if e, ok := r.entries[reference]; ok {
		return &e, nil
	}
	return nil, repository.ErrEntryNotFound
}

func (r *stubRepo) UpdateLedgerEntryStatus(ctx context.Context, reference string, status model.EntryStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.updateErr != nil {
		return false, r.updateErr
	}
	if cur, ok := r.pending[reference]; ok && cur == model.EntryStatusPending {
		r.pending[reference] = status
		return true, nil
	}
	return false, nil
}

func (r *stubRepo) LookupIntentUser(ctx context.Context, reference string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.intents[reference]; ok {
		return u, nil
	}
	return "", repository.ErrIntentNotFound
}

func (r *stubRepo) SaveOrphanEvent(ctx context.Context, ev model.OrphanEvent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.orphanErr != nil {
		return "", r.orphanErr
	}
	r.orphans = append(r.orphans, ev)
	return "orphan-1", nil
}

func (r *stubRepo) GetWallet(ctx context.Context, userID string) (*model.WalletAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.users[userID] {
		return nil, repository.ErrWalletNotFound
	}
	return &model.WalletAccount{UserID: userID, BalanceMinor: r.balances[userID]}, nil
}

func (r *stubRepo) GetLedgerEntriesByUser(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.LedgerEntry
	for _, e := range r.entries {
		if e.UserID == userID {
			res = append(res, e)
		}
	}
	return res, nil
}

func (r *stubRepo) ListOrphanEvents(ctx context.Context, limit int) ([]model.OrphanEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.OrphanEvent(nil), r.orphans...), nil
}

type stubNotifier struct {
	refs chan string
}

func (n *stubNotifier) NotifyBalanceChange(ctx context.Context, userID string, amountMinor int64, currency, reference, entryType string) error {
	n.refs <- reference
	return nil
}

func devService(t *testing.T, repo *stubRepo, notify Notifier) *Service {
	t.Helper()

	verifiers, err := signature.NewSet(&config.Config{DevMode: true})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	g := guard.New(repo, nil, zap.NewNop())
	return NewService(repo, g, verifiers, notify, zap.NewNop())
}

func paystackBody(reference, userID string, amount int64) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"charge.success","data":{"id":99001,"reference":"%s","amount":%d,"currency":"NGN","status":"success","metadata":{"user_id":"%s"},"customer":{"email":"ada@example.com"}}}`,
		reference, amount, userID,
	))
}

func TestProcessWebhookApplied(t *testing.T) {
	repo := newStubRepo("u1")
	notify := &stubNotifier{refs: make(chan string, 1)}
	svc := devService(t, repo, notify)

	outcome, err := svc.ProcessWebhook(context.Background(), model.ProviderPaystack, paystackBody("TX-1", "u1", 50000), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}

	if repo.balances["u1"] != 50000 {
		t.Errorf("expected balance 50000, got %d", repo.balances["u1"])
	}

	entry := repo.entries["TX-1"]
	if entry.Type != model.EntryTypeDeposit || entry.Status != model.EntryStatusSuccessful {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if len(entry.Metadata) == 0 {
		t.Error("expected raw payload retained in entry metadata")
	}

	select {
	case ref := <-notify.refs:
		if ref != "TX-1" {
			t.Errorf("notified wrong reference %s", ref)
		}
	case <-time.After(2 * time.Second):
		t.Error("expected balance-change notification")
	}
}

func TestProcessWebhookReplayIsDuplicate(t *testing.T) {
	repo := newStubRepo("u1")
	svc := devService(t, repo, nil)

	body := paystackBody("TX-1", "u1", 50000)

	if _, err := svc.ProcessWebhook(context.Background(), model.ProviderPaystack, body, ""); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	for i := 0; i < 5; i++ {
		outcome, err := svc.ProcessWebhook(context.Background(), model.ProviderPaystack, body, "")
		if err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
		if outcome != OutcomeDuplicate {
			t.Fatalf("replay %d: expected duplicate, got %s", i, outcome)
		}
	}

	if repo.balances["u1"] != 50000 {
		t.Errorf("balance must be credited exactly once, got %d", repo.balances["u1"])
	}
	if len(repo.entries) != 1 {
		t.Errorf("expected exactly one ledger entry, got %d", len(repo.entries))
	}
}

func TestProcessWebhookConcurrentDeliveries(t *testing.T) {
	repo := newStubRepo("u1")
	svc := devService(t, repo, nil)

	body := paystackBody("TX-RACE", "u1", 25000)

	const n = 32
	outcomes := make(chan Outcome, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := svc.ProcessWebhook(context.Background(), model.ProviderPaystack, body, "")
			if err != nil {
				t.Errorf("concurrent delivery: %v", err)
				return
			}
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	applied := 0
	for o := range outcomes {
		if o == OutcomeApplied {
			applied++
		}
	}

	if applied != 1 {
		t.Errorf("exactly one delivery must apply, got %d", applied)
	}
	if repo.balances["u1"] != 25000 {
		t.Errorf("balance must increase exactly once, got %d", repo.balances["u1"])
	}
	if len(repo.entries) != 1 {
		t.Errorf("expected one ledger entry, got %d", len(repo.entries))
	}
}

func TestProcessWebhookCancelledRequestStillCommits(t *testing.T) {
	repo := newStubRepo("u1")
	svc := devService(t, repo, nil)

	// The provider hanging up must not abort the credit mid-flight: the
	// apply runs on a detached context so the write either completes or
	// never starts.
	var insertCtxErr error
	repo.insertHook = func(ctx context.Context) {
		insertCtxErr = ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := svc.ProcessWebhook(ctx, model.ProviderPaystack, paystackBody("TX-CANCEL", "u1", 3000), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
	if insertCtxErr != nil {
		t.Errorf("apply context must not inherit request cancellation, got %v", insertCtxErr)
	}
	if repo.balances["u1"] != 3000 {
		t.Errorf("expected credit despite cancelled request, got %d", repo.balances["u1"])
	}
}

func TestProcessWebhookDistinctReferencesAreNeverMerged(t *testing.T) {
	repo := newStubRepo("u1")
	svc := devService(t, repo, nil)

	// Two providers reporting the same logical payment under different
	// references each credit once; merging them is an operational concern,
	// not this subsystem's.
	psBody := paystackBody("PS-REF-1", "u1", 10000)
	fwBody := []byte(`{"event":"charge.completed","data":{"id":8,"tx_ref":"FW-REF-1","flw_ref":"F8","amount":100,"currency":"NGN","status":"successful","meta":{"user_id":"u1"}}}`)

	if _, err := svc.ProcessWebhook(context.Background(), model.ProviderPaystack, psBody, ""); err != nil {
		t.Fatalf("paystack delivery: %v", err)
	}
	if _, err := svc.ProcessWebhook(context.Background(), model.ProviderFlutterwave, fwBody, ""); err != nil {
		t.Fatalf("flutterwave delivery: %v", err)
	}

	if len(repo.entries) != 2 {
		t.Errorf("expected two distinct ledger entries, got %d", len(repo.entries))
	}
	if repo.balances["u1"] != 20000 {
		t.Errorf("expected both references credited, got %d", repo.balances["u1"])
	}
}

func TestProcessWebhookNonSuccessfulIsIgnored(t *testing.T) {
	repo := newStubRepo("u2")
	svc := devService(t, repo, nil)

	body := []byte(`{"event":"charge.completed","data":{"id":1,"tx_ref":"TX-2","flw_ref":"F1","amount":100,"currency":"NGN","status":"pending","meta":{"user_id":"u2"}}}`)

	outcome, err := svc.ProcessWebhook(context.Background(), model.ProviderFlutterwave, body, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", outcome)
	}
	if repo.balances["u2"] != 0 {
		t.Errorf("balance must not change for non-successful events, got %d", repo.balances["u2"])
	}
}

func TestProcessWebhookFailedEventMarksPendingEntry(t *testing.T) {
	repo := newStubRepo("u2")
	repo.pending["TX-3"] = model.EntryStatusPending
	svc := devService(t, repo, nil)

	body := []byte(`{"event":"charge.completed","data":{"id":1,"tx_ref":"TX-3","flw_ref":"F3","amount":100,"currency":"NGN","status":"failed","meta":{"user_id":"u2"}}}`)

	outcome, err := svc.ProcessWebhook(context.Background(), model.ProviderFlutterwave, body, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", outcome)
	}
	if repo.pending["TX-3"] != model.EntryStatusFailed {
		t.Errorf("expected pending entry marked failed, got %s", repo.pending["TX-3"])
	}
	if repo.balances["u2"] != 0 {
		t.Errorf("failed event must not move money, got %d", repo.balances["u2"])
	}
}

func TestProcessWebhookUnsupportedEventIsAcknowledged(t *testing.T) {
	repo := newStubRepo()
	svc := devService(t, repo, nil)

	outcome, err := svc.ProcessWebhook(context.Background(), model.ProviderPaystack,
		[]byte(`{"event":"transfer.success","data":{}}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", outcome)
	}
}

func TestProcessWebhookMalformedPayload(t *testing.T) {
	repo := newStubRepo()
	svc := devService(t, repo, nil)

	_, err := svc.ProcessWebhook(context.Background(), model.ProviderPaystack,
		[]byte(`{"event":"charge.success","data":{"id":1,"reference":"TX-4","amount":0,"currency":"NGN"}}`), "")
	if !errors.Is(err, normalize.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	if len(repo.entries) != 0 {
		t.Error("malformed payload must never reach the applier")
	}
}

func TestProcessWebhookBadSignature(t *testing.T) {
	repo := newStubRepo("u1")

	verifiers, err := signature.NewSet(&config.Config{
		PaystackSecret:    "sk_test_ps",
		FlutterwaveSecret: "fw-hash",
		VTPassSecret:      "sk_test_vt",
	})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	g := guard.New(repo, nil, zap.NewNop())
	svc := NewService(repo, g, verifiers, nil, zap.NewNop())

	body := paystackBody("TX-5", "u1", 1000)

	mac := hmac.New(sha512.New, []byte("wrong-secret"))
	mac.Write(body)
	badSig := hex.EncodeToString(mac.Sum(nil))

	_, err = svc.ProcessWebhook(context.Background(), model.ProviderPaystack, body, badSig)
	if !errors.Is(err, signature.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if len(repo.entries) != 0 {
		t.Error("unauthenticated payload must never reach the applier")
	}

	mac = hmac.New(sha512.New, []byte("sk_test_ps"))
	mac.Write(body)
	goodSig := hex.EncodeToString(mac.Sum(nil))

	outcome, err := svc.ProcessWebhook(context.Background(), model.ProviderPaystack, body, goodSig)
	if err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
}

func TestProcessWebhookSubjectFromIntent(t *testing.T) {
	repo := newStubRepo("u7")
	repo.intents["TX-6"] = "u7"
	svc := devService(t, repo, nil)

	body := []byte(`{"event":"charge.success","data":{"id":2,"reference":"TX-6","amount":7000,"currency":"NGN"}}`)

	outcome, err := svc.ProcessWebhook(context.Background(), model.ProviderPaystack, body, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
	if repo.balances["u7"] != 7000 {
		t.Errorf("expected intent-resolved credit of 7000, got %d", repo.balances["u7"])
	}
}

func TestProcessWebhookUnresolvedSubjectIsRetained(t *testing.T) {
	repo := newStubRepo()
	svc := devService(t, repo, nil)

	body := []byte(`{"event":"charge.success","data":{"id":3,"reference":"TX-7","amount":1000,"currency":"NGN"}}`)

	outcome, err := svc.ProcessWebhook(context.Background(), model.ProviderPaystack, body, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeOrphaned {
		t.Fatalf("expected orphaned, got %s", outcome)
	}
	if len(repo.orphans) != 1 {
		t.Fatalf("expected one retained orphan event, got %d", len(repo.orphans))
	}
	if len(repo.orphans[0].Payload) == 0 {
		t.Error("orphan event must retain the raw payload")
	}
	if len(repo.entries) != 0 {
		t.Error("unresolved subject must not produce a ledger entry")
	}
}

func TestProcessWebhookUnknownUserIsRetained(t *testing.T) {
	repo := newStubRepo() // no wallet rows at all
	svc := devService(t, repo, nil)

	body := paystackBody("TX-8", "ghost", 1000)

	outcome, err := svc.ProcessWebhook(context.Background(), model.ProviderPaystack, body, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeOrphaned {
		t.Fatalf("expected orphaned, got %s", outcome)
	}
	if len(repo.orphans) != 1 {
		t.Fatalf("expected one retained orphan event, got %d", len(repo.orphans))
	}
}

func TestProcessWebhookOrphanRetentionFailureIsNotAcknowledged(t *testing.T) {
	repo := newStubRepo()
	repo.orphanErr = errors.New("storage down")
	svc := devService(t, repo, nil)

	body := []byte(`{"event":"charge.success","data":{"id":4,"reference":"TX-9","amount":1000,"currency":"NGN"}}`)

	_, err := svc.ProcessWebhook(context.Background(), model.ProviderPaystack, body, "")
	if err == nil {
		t.Fatal("retention failure must surface so the provider redelivers")
	}
}

func TestProcessWebhookStorageFailureSurfaces(t *testing.T) {
	repo := newStubRepo("u1")
	repo.insertErr = errors.New("connection reset by peer")
	svc := devService(t, repo, nil)

	_, err := svc.ProcessWebhook(context.Background(), model.ProviderPaystack, paystackBody("TX-10", "u1", 100), "")
	if err == nil {
		t.Fatal("storage failure must surface as an error")
	}
}
