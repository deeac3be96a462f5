package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/topasig/PolicyBroker/internal/db"
	"github.com/topasig/PolicyBroker/internal/models"
	"github.com/topasig/PolicyBroker/internal/provider"
	"github.com/topasig/PolicyBroker/internal/provider/qrpay"
	"github.com/topasig/PolicyBroker/internal/settings"
	"github.com/topasig/PolicyBroker/internal/tasks"
	"gorm.io/gorm"
)

func openPaymentTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func createToken(t *testing.T, store *Store, uuid string, status models.PaymentTokenStatus) *models.PaymentToken {
	t.Helper()
	token := &models.PaymentToken{
		UUID:       uuid,
		OrderID:    "order-" + uuid,
		Kind:       models.QRKindDynamic,
		AmountType: models.AmountTypeFixed,
		Amount:     decimal.RequireFromString("150.00"),
		Currency:   "MDL",
		Status:     status,
	}
	if errCreate := store.Create(context.Background(), nil, token); errCreate != nil {
		t.Fatalf("create token: %v", errCreate)
	}
	return token
}

func TestConsumeRequiresPaidAndUnused(t *testing.T) {
	conn := openPaymentTestDB(t)
	store := NewStore(conn, 15*time.Minute)
	createToken(t, store, "active", models.PaymentTokenActive)
	paid := createToken(t, store, "paid", models.PaymentTokenPaid)

	consume := func(uuid string) (*models.PaymentToken, time.Time, error) {
		var token *models.PaymentToken
		var paymentDate time.Time
		errTx := conn.Transaction(func(tx *gorm.DB) error {
			var errConsume error
			token, paymentDate, errConsume = store.Consume(tx, uuid)
			return errConsume
		})
		return token, paymentDate, errTx
	}

	if _, _, errConsume := consume("missing"); !errors.Is(errConsume, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", errConsume)
	}
	if _, _, errConsume := consume("active"); !errors.Is(errConsume, ErrNotPaid) {
		t.Fatalf("expected ErrNotPaid, got %v", errConsume)
	}
	token, paymentDate, errConsume := consume("paid")
	if errConsume != nil {
		t.Fatalf("consume paid: %v", errConsume)
	}
	if !token.IsUsed || token.ID != paid.ID {
		t.Fatalf("unexpected token %+v", token)
	}
	if paymentDate.IsZero() {
		t.Fatalf("expected payment date")
	}
	if _, _, errConsume = consume("paid"); !errors.Is(errConsume, ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed, got %v", errConsume)
	}
}

func TestConsumeRollsBackWithTransaction(t *testing.T) {
	conn := openPaymentTestDB(t)
	store := NewStore(conn, 15*time.Minute)
	createToken(t, store, "paid", models.PaymentTokenPaid)

	errSubmit := errors.New("provider rejected")
	errTx := conn.Transaction(func(tx *gorm.DB) error {
		if _, _, errConsume := store.Consume(tx, "paid"); errConsume != nil {
			return errConsume
		}
		return errSubmit
	})
	if !errors.Is(errTx, errSubmit) {
		t.Fatalf("expected submit error, got %v", errTx)
	}
	token, errFind := store.FindByUUID(context.Background(), "paid")
	if errFind != nil {
		t.Fatalf("find: %v", errFind)
	}
	if token.IsUsed {
		t.Fatalf("expected token to stay unused after rollback")
	}
}

func TestConsumeConcurrentOnlyOneWins(t *testing.T) {
	conn := openPaymentTestDB(t)
	store := NewStore(conn, 15*time.Minute)
	createToken(t, store, "paid", models.PaymentTokenPaid)

	const attempts = 5
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- conn.Transaction(func(tx *gorm.DB) error {
				_, _, errConsume := store.Consume(tx, "paid")
				return errConsume
			})
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for errConsume := range results {
		switch {
		case errConsume == nil:
			wins++
		case errors.Is(errConsume, ErrAlreadyUsed):
		default:
			t.Fatalf("unexpected error %v", errConsume)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one consumption, got %d", wins)
	}
}

func TestPaymentDatePrefersPaidAt(t *testing.T) {
	conn := openPaymentTestDB(t)
	store := NewStore(conn, 15*time.Minute)
	token := createToken(t, store, "qr-1", models.PaymentTokenActive)

	paidAt := token.CreatedAt.Add(2 * time.Minute)
	if _, errReconcile := store.Reconcile(context.Background(), token, models.PaymentTokenPaid, nil, paidAt); errReconcile != nil {
		t.Fatalf("reconcile: %v", errReconcile)
	}
	var paymentDate time.Time
	errTx := conn.Transaction(func(tx *gorm.DB) error {
		var errConsume error
		_, paymentDate, errConsume = store.Consume(tx, "qr-1")
		return errConsume
	})
	if errTx != nil {
		t.Fatalf("consume: %v", errTx)
	}
	if !paymentDate.Equal(paidAt.UTC()) {
		t.Fatalf("expected payment date %v, got %v", paidAt.UTC(), paymentDate)
	}
}

func TestReconcileTransitions(t *testing.T) {
	conn := openPaymentTestDB(t)
	store := NewStore(conn, 15*time.Minute)
	ctx := context.Background()

	active := createToken(t, store, "active", models.PaymentTokenActive)
	result, errReconcile := store.Reconcile(ctx, active, models.PaymentTokenPaid, nil, active.CreatedAt.Add(time.Minute))
	if errReconcile != nil || result != ResultUpdated {
		t.Fatalf("expected updated, got %s %v", result, errReconcile)
	}
	reloaded, _ := store.FindByUUID(ctx, "active")
	if reloaded.Status != models.PaymentTokenPaid || reloaded.PaidAt == nil {
		t.Fatalf("expected paid with paid_at, got %+v", reloaded)
	}

	result, errReconcile = store.Reconcile(ctx, reloaded, models.PaymentTokenPaid, nil, reloaded.CreatedAt.Add(time.Minute))
	if errReconcile != nil || result != ResultNotChanged {
		t.Fatalf("expected not_changed, got %s %v", result, errReconcile)
	}

	result, errReconcile = store.Reconcile(ctx, reloaded, models.PaymentTokenActive, nil, reloaded.CreatedAt.Add(time.Minute))
	if errReconcile != nil || result != ResultNotChanged {
		t.Fatalf("expected not_changed for regression, got %s %v", result, errReconcile)
	}
	again, _ := store.FindByUUID(ctx, "active")
	if again.Status != models.PaymentTokenPaid {
		t.Fatalf("status regressed to %s", again.Status)
	}
}

func TestReconcileExpiresStaleTokens(t *testing.T) {
	conn := openPaymentTestDB(t)
	store := NewStore(conn, 15*time.Minute)
	ctx := context.Background()

	polled := createToken(t, store, "polled", models.PaymentTokenActive)
	result, errReconcile := store.Reconcile(ctx, polled, models.PaymentTokenActive, nil, polled.CreatedAt.Add(20*time.Minute))
	if errReconcile != nil || result != ResultUpdated {
		t.Fatalf("expected updated, got %s %v", result, errReconcile)
	}
	if polled.Status != models.PaymentTokenExpired {
		t.Fatalf("expected expired, got %s", polled.Status)
	}

	unreachable := createToken(t, store, "unreachable", models.PaymentTokenActive)
	errPoll := &provider.TransportError{Provider: "victoria", Op: "status", Err: errors.New("timeout")}
	result, errReconcile = store.Reconcile(ctx, unreachable, "", errPoll, unreachable.CreatedAt.Add(20*time.Minute))
	if result != ResultFailed || !provider.IsTransport(errReconcile) {
		t.Fatalf("expected failed transport result, got %s %v", result, errReconcile)
	}
	reloaded, _ := store.FindByUUID(ctx, "unreachable")
	if reloaded.Status != models.PaymentTokenExpired {
		t.Fatalf("expected expiry despite poll failure, got %s", reloaded.Status)
	}

	fresh := createToken(t, store, "fresh", models.PaymentTokenActive)
	result, _ = store.Reconcile(ctx, fresh, "", errPoll, fresh.CreatedAt.Add(time.Minute))
	if result != ResultFailed {
		t.Fatalf("expected failed, got %s", result)
	}
	reloaded, _ = store.FindByUUID(ctx, "fresh")
	if reloaded.Status != models.PaymentTokenActive {
		t.Fatalf("expected token inside window to stay active, got %s", reloaded.Status)
	}

	late := createToken(t, store, "late", models.PaymentTokenActive)
	result, _ = store.Reconcile(ctx, late, models.PaymentTokenPaid, nil, late.CreatedAt.Add(time.Hour))
	if result != ResultUpdated || late.Status != models.PaymentTokenPaid {
		t.Fatalf("expected gateway Paid to win over expiry, got %s %s", result, late.Status)
	}
}

func TestListActive(t *testing.T) {
	conn := openPaymentTestDB(t)
	store := NewStore(conn, 15*time.Minute)
	createToken(t, store, "a", models.PaymentTokenActive)
	createToken(t, store, "b", models.PaymentTokenPaid)
	createToken(t, store, "c", models.PaymentTokenActive)

	active, errList := store.ListActive(context.Background())
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if len(active) != 2 || active[0].UUID != "a" || active[1].UUID != "c" {
		t.Fatalf("unexpected active tokens %+v", active)
	}
}

type fakeGateway struct {
	created *qrpay.CreateResponse
	status  string
	errPoll error
	event   *qrpay.CallbackEvent
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateQR(ctx context.Context, req qrpay.CreateRequest) (*qrpay.CreateResponse, error) {
	return g.created, nil
}

func (g *fakeGateway) Status(ctx context.Context, qrUUID string) (*qrpay.StatusResponse, error) {
	if g.errPoll != nil {
		return nil, g.errPoll
	}
	return &qrpay.StatusResponse{UUID: qrUUID, Status: g.status, Raw: json.RawMessage(`{"status":"` + g.status + `"}`)}, nil
}

func (g *fakeGateway) Cancel(ctx context.Context, qrUUID string) error { return nil }

func (g *fakeGateway) VerifyCallback(body []byte) (*qrpay.CallbackEvent, error) {
	if string(body) == "forged" {
		return nil, qrpay.ErrInvalidSignature
	}
	return g.event, nil
}

type fakeArtifacts struct {
	saved map[string][]byte
}

func (f *fakeArtifacts) SaveArtifact(ctx context.Context, externalID string, docType models.DocumentType, filename, contentType string, data []byte, meta json.RawMessage) (*models.IssuedDocument, error) {
	if f.saved == nil {
		f.saved = make(map[string][]byte)
	}
	f.saved[externalID] = data
	return &models.IssuedDocument{ID: 7, ExternalID: externalID, Type: docType, Name: filename}, nil
}

type recordingEnqueuer struct {
	tasks []tasks.Task
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, task tasks.Task) (tasks.Task, error) {
	r.tasks = append(r.tasks, task)
	return task, nil
}

func sampleRequest() qrpay.CreateRequest {
	return qrpay.CreateRequest{
		Header: qrpay.Header{QRType: qrpay.QRTypeDynamic, AmountType: models.AmountTypeFixed, PmtContext: "e"},
		Extension: qrpay.Extension{
			Amount: qrpay.MoneyDTO{Sum: decimal.RequireFromString("150.00"), Currency: "MDL"},
			TTL:    qrpay.TTL{Length: 15, Units: "mm"},
		},
	}
}

func TestServiceCreateQRStoresTokenAndImage(t *testing.T) {
	conn := openPaymentTestDB(t)
	store := NewStore(conn, 15*time.Minute)
	gateway := &fakeGateway{created: &qrpay.CreateResponse{
		QRHeaderUUID: "qr-uuid",
		QRAsText:     "https://pay.example/qr-uuid",
		QRAsImage:    "aW1hZ2U=",
		Status:       "Active",
		Raw:          json.RawMessage(`{"qrHeaderUUID":"qr-uuid"}`),
	}}
	artifacts := &fakeArtifacts{}
	enqueuer := &recordingEnqueuer{}
	service := NewService(store, gateway, artifacts, enqueuer, Options{Debug: true, DebugPaidDelay: 30 * time.Second})

	created, errCreate := service.CreateQR(context.Background(), sampleRequest())
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if created.QRHeaderUUID != "qr-uuid" || created.OrderID == "" || created.QRCode != "qr-uuid" {
		t.Fatalf("unexpected created %+v", created)
	}
	if string(artifacts.saved["qr-uuid"]) != "image" {
		t.Fatalf("expected decoded image stored, got %q", artifacts.saved["qr-uuid"])
	}
	token, errFind := store.FindByUUID(context.Background(), "qr-uuid")
	if errFind != nil {
		t.Fatalf("find: %v", errFind)
	}
	if token.FileID == nil || *token.FileID != 7 {
		t.Fatalf("expected file link, got %+v", token.FileID)
	}
	if token.PaymentContext == nil || *token.PaymentContext != "e" || !token.Amount.Equal(decimal.RequireFromString("150")) {
		t.Fatalf("unexpected token fields %+v", token)
	}
	if len(enqueuer.tasks) != 1 || enqueuer.tasks[0].Type != tasks.TypeMarkPaid {
		t.Fatalf("expected debug payment task, got %+v", enqueuer.tasks)
	}

	if errRun := service.MarkPaidTask(context.Background(), enqueuer.tasks[0]); errRun != nil {
		t.Fatalf("mark paid task: %v", errRun)
	}
	token, _ = store.FindByUUID(context.Background(), "qr-uuid")
	if token.Status != models.PaymentTokenPaid || token.PaidAt == nil {
		t.Fatalf("expected paid token, got %+v", token)
	}
}

func TestServiceRefresh(t *testing.T) {
	conn := openPaymentTestDB(t)
	store := NewStore(conn, 15*time.Minute)
	createToken(t, store, "qr-1", models.PaymentTokenActive)
	gateway := &fakeGateway{status: "Paid"}
	service := NewService(store, gateway, nil, nil, Options{})

	view, errRefresh := service.Refresh(context.Background(), "qr-1")
	if errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}
	if view.Status != "Paid" || view.Result != ResultUpdated || view.PaidAt == nil {
		t.Fatalf("unexpected view %+v", view)
	}

	if _, errRefresh = service.Refresh(context.Background(), "missing"); !errors.Is(errRefresh, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", errRefresh)
	}

	gateway.errPoll = &provider.TransportError{Provider: "fake", Op: "status", Err: errors.New("down")}
	createToken(t, store, "qr-2", models.PaymentTokenActive)
	if _, errRefresh = service.Refresh(context.Background(), "qr-2"); !provider.IsTransport(errRefresh) {
		t.Fatalf("expected transport error, got %v", errRefresh)
	}
}

func TestServiceHandleCallback(t *testing.T) {
	conn := openPaymentTestDB(t)
	store := NewStore(conn, 15*time.Minute)
	createToken(t, store, "qr-1", models.PaymentTokenActive)
	gateway := &fakeGateway{event: &qrpay.CallbackEvent{OrderID: "order-qr-1", Status: models.PaymentTokenPaid}}
	service := NewService(store, gateway, nil, nil, Options{})

	if _, errCallback := service.HandleCallback(context.Background(), []byte("forged")); !errors.Is(errCallback, qrpay.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", errCallback)
	}
	result, errCallback := service.HandleCallback(context.Background(), []byte(`{}`))
	if errCallback != nil || result != ResultUpdated {
		t.Fatalf("expected updated, got %s %v", result, errCallback)
	}
	token, _ := store.FindByUUID(context.Background(), "qr-1")
	if token.Status != models.PaymentTokenPaid {
		t.Fatalf("expected paid, got %s", token.Status)
	}
}

func TestExpiryWindowFollowsStoredSetting(t *testing.T) {
	conn := openPaymentTestDB(t)
	store := NewStore(conn, 15*time.Minute)
	t.Cleanup(func() { settings.StoreDBConfig(time.Time{}, nil) })

	if errPut := settings.Put(context.Background(), conn, settings.QRExpiryMinutesKey, 5); errPut != nil {
		t.Fatalf("put expiry: %v", errPut)
	}
	if got := store.ExpiryWindow(); got != 5*time.Minute {
		t.Fatalf("expected 5m expiry window, got %s", got)
	}
}
