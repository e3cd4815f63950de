package checkout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/imagebot/backend/internal/domain/asset"
	"github.com/imagebot/backend/internal/domain/messaging"
	"github.com/imagebot/backend/internal/domain/payment"
	"github.com/imagebot/backend/internal/domain/shared"
	"github.com/imagebot/backend/internal/infrastructure/scheduler"
	"github.com/imagebot/backend/internal/infrastructure/session"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// ---------------------------------------------------------------------------
// Mock Gateway
// ---------------------------------------------------------------------------

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreatePayment(ctx context.Context, req *payment.CreatePaymentRequest) (*payment.Payment, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockGateway) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetOrCreate(ctx context.Context, telegramID int64, username, firstName string) (*payment.User, error) {
	args := m.Called(ctx, telegramID, username, firstName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.User), args.Error(1)
}

func (m *MockUserRepository) Stats(ctx context.Context, now time.Time) (*payment.UserStats, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.UserStats), args.Error(1)
}

// ---------------------------------------------------------------------------
// Fake Gateway
// ---------------------------------------------------------------------------

// fakeGateway issues sequential payment ids and serves statuses set by the test.
type fakeGateway struct {
	mu         sync.Mutex
	seq        int
	tokens     []string
	createErrs []error
	statuses   map[string]payment.GatewayStatus
	polls      atomic.Int32

	// entered/hold let a test park CreatePayment mid-call
	entered chan struct{}
	hold    chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]payment.GatewayStatus)}
}

func (g *fakeGateway) CreatePayment(ctx context.Context, req *payment.CreatePaymentRequest) (*payment.Payment, error) {
	g.mu.Lock()
	g.tokens = append(g.tokens, req.IdempotencyKey)
	if len(g.createErrs) > 0 {
		err := g.createErrs[0]
		g.createErrs = g.createErrs[1:]
		if err != nil {
			g.mu.Unlock()
			return nil, err
		}
	}
	entered, hold := g.entered, g.hold
	g.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if hold != nil {
		<-hold
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("pay-%d", g.seq)
	g.statuses[id] = payment.GatewayStatusPending
	return &payment.Payment{
		ID:              id,
		Status:          payment.GatewayStatusPending,
		Amount:          req.Amount,
		Currency:        req.Currency,
		ConfirmationURL: "https://pay.example.com/" + id,
		Metadata:        req.Metadata,
	}, nil
}

func (g *fakeGateway) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	g.polls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.statuses[paymentID]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	return &payment.Payment{ID: paymentID, Status: st, Paid: st.IsSuccess()}, nil
}

func (g *fakeGateway) setStatus(id string, st payment.GatewayStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[id] = st
}

func (g *fakeGateway) allTokens() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.tokens...)
}

func (g *fakeGateway) created() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// ---------------------------------------------------------------------------
// Fake Transport
// ---------------------------------------------------------------------------

type sent struct {
	op       string
	chatID   int64
	ref      messaging.MessageRef
	text     string
	file     string
	keyboard *messaging.Keyboard
}

type fakeTransport struct {
	mu      sync.Mutex
	nextID  int64
	calls   []sent
	sendErr error
}

func (f *fakeTransport) record(s sent) messaging.MessageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if s.ref.IsZero() {
		s.ref = messaging.MessageRef{ChatID: s.chatID, MessageID: f.nextID}
	}
	f.calls = append(f.calls, s)
	return s.ref
}

func (f *fakeTransport) SendText(ctx context.Context, chatID int64, text string, kb *messaging.Keyboard) (messaging.MessageRef, error) {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return messaging.MessageRef{}, err
	}
	return f.record(sent{op: "text", chatID: chatID, text: text, keyboard: kb}), nil
}

func (f *fakeTransport) SendPhoto(ctx context.Context, chatID int64, photo messaging.File, caption string, kb *messaging.Keyboard, replyTo int64) (messaging.MessageRef, error) {
	return f.record(sent{op: "photo", chatID: chatID, text: caption, file: photo.Name, keyboard: kb}), nil
}

func (f *fakeTransport) SendDocument(ctx context.Context, chatID int64, doc messaging.File, caption string, kb *messaging.Keyboard) (messaging.MessageRef, error) {
	return f.record(sent{op: "document", chatID: chatID, text: caption, file: doc.Name, keyboard: kb}), nil
}

func (f *fakeTransport) EditText(ctx context.Context, ref messaging.MessageRef, text string) error {
	f.record(sent{op: "edit_text", chatID: ref.ChatID, ref: ref, text: text})
	return nil
}

func (f *fakeTransport) EditKeyboard(ctx context.Context, ref messaging.MessageRef, kb *messaging.Keyboard) error {
	f.record(sent{op: "edit_keyboard", chatID: ref.ChatID, ref: ref, keyboard: kb})
	return nil
}

func (f *fakeTransport) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	f.record(sent{op: "answer", text: text})
	return nil
}

func (f *fakeTransport) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return nil, nil
}

func (f *fakeTransport) ops(op string) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTransport) withText(op, text string) int {
	n := 0
	for _, c := range f.ops(op) {
		if c.text == text {
			n++
		}
	}
	return n
}

func (f *fakeTransport) lastKeyboard(ref messaging.MessageRef) *messaging.Keyboard {
	var kb *messaging.Keyboard
	for _, c := range f.ops("edit_keyboard") {
		if c.ref == ref {
			kb = c.keyboard
		}
	}
	return kb
}

// ---------------------------------------------------------------------------
// In-memory Invoice Repository
// ---------------------------------------------------------------------------

type memInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[string]payment.Invoice
	order    []string
}

func newMemInvoiceRepo() *memInvoiceRepo {
	return &memInvoiceRepo{invoices: make(map[string]payment.Invoice)}
}

func (r *memInvoiceRepo) Save(ctx context.Context, inv *payment.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[inv.ID]; ok {
		return nil
	}
	r.invoices[inv.ID] = *inv
	r.order = append(r.order, inv.ID)
	return nil
}

func (r *memInvoiceRepo) FindByID(ctx context.Context, id string) (*payment.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &inv, nil
}

func (r *memInvoiceRepo) UpdateStatus(ctx context.Context, id string, status payment.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return shared.ErrNotFound
	}
	inv.Status = status
	r.invoices[id] = inv
	return nil
}

func (r *memInvoiceRepo) Resolve(ctx context.Context, id string, resolution payment.Resolution, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok || inv.IsResolved() {
		return nil
	}
	inv.Resolution = resolution
	inv.ResolvedAt = &at
	r.invoices[id] = inv
	return nil
}

func (r *memInvoiceRepo) FindUnresolved(ctx context.Context, limit int) ([]*payment.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*payment.Invoice
	for _, id := range r.order {
		inv := r.invoices[id]
		if !inv.IsResolved() && len(out) < limit {
			out = append(out, &inv)
		}
	}
	return out, nil
}

func (r *memInvoiceRepo) get(id string) payment.Invoice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invoices[id]
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

const (
	testUserID = int64(42)
	testChatID = int64(4242)
)

type harness struct {
	clk       *clock.Mock
	store     *session.MemoryStore
	gateway   *fakeGateway
	transport *fakeTransport
	invoices  *memInvoiceRepo
	client    *InvoiceClient
	watcher   *scheduler.InvoiceWatcher
	delivery  *DeliveryCoordinator
	svc       *Service
	logs      *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewMock()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	h := &harness{
		clk:       clk,
		store:     session.NewMemoryStore(session.Config{Retention: 24 * time.Hour, CleanupInterval: time.Hour}, clk, logger),
		gateway:   newFakeGateway(),
		transport: &fakeTransport{},
		invoices:  newMemInvoiceRepo(),
		logs:      logs,
	}
	price := decimal.NewFromInt(490)

	h.client = NewInvoiceClient(InvoiceClientConfig{
		Price:      price,
		ReturnURL:  "https://t.me/imagebot",
		RetryDelay: time.Millisecond,
	}, InvoiceClientDeps{Gateway: h.gateway, Invoices: h.invoices, Clock: clk, Logger: logger})
	h.watcher = scheduler.NewInvoiceWatcher(scheduler.WatcherConfig{
		PollInterval:   10 * time.Second,
		ResolveTimeout: 5 * time.Second,
	}, h.client, clk, logger)
	h.delivery = NewDeliveryCoordinator(DeliveryDeps{
		Store:     h.store,
		Transport: h.transport,
		Invoices:  h.invoices,
		Price:     price,
		Clock:     clk,
		Logger:    logger,
	})
	h.svc = NewService(Config{
		Price:          price,
		InvoiceTTL:     10 * time.Minute,
		ReservationTTL: time.Minute,
	}, Deps{
		Store:     h.store,
		Invoicer:  h.client,
		Watcher:   h.watcher,
		Delivery:  h.delivery,
		Transport: h.transport,
		Invoices:  h.invoices,
		Clock:     clk,
		Logger:    logger,
	})

	t.Cleanup(func() {
		_ = h.watcher.Stop(context.Background())
		_ = h.store.Close()
	})
	return h
}

func (h *harness) submit(t *testing.T) asset.Record {
	t.Helper()
	rec, err := h.svc.SubmitAsset(context.Background(), SubmitRequest{
		UserID:      testUserID,
		ChatID:      testChatID,
		ReplyTo:     7,
		Deliverable: []byte("clean"),
		Preview:     []byte("watermarked"),
	})
	require.NoError(t, err)
	return rec
}

func (h *harness) record(t *testing.T, key string) asset.Record {
	t.Helper()
	rec, err := h.store.Get(context.Background(), key)
	require.NoError(t, err)
	return rec
}

// tick advances the clock by one poll interval and waits until the watcher
// has polled at least want times overall.
func (h *harness) tick(t *testing.T, want int32) {
	t.Helper()
	h.clk.Add(10 * time.Second)
	require.Eventually(t, func() bool { return h.gateway.polls.Load() >= want }, time.Second, time.Millisecond)
}

func (h *harness) eventuallyState(t *testing.T, key string, want asset.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, err := h.store.Get(context.Background(), key)
		return err == nil && rec.State == want
	}, 2*time.Second, time.Millisecond)
}
