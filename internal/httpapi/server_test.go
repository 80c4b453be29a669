package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy/internal/applications"
	"academy/internal/attendance"
	"academy/internal/auth"
	"academy/internal/feed"
	"academy/internal/gateway"
	"academy/internal/ledger"
	"academy/internal/logger"
	"academy/internal/model"
	"academy/internal/payment"
	"academy/internal/realtime"
	"academy/internal/recordstore"
	"academy/internal/students"
)

const (
	keySecret     = "rzp_test_secret"
	webhookSecret = "whsec_test"
	defaultFee    = int64(500000)
	evening       = "6:00pm - 7:00pm"
)

type harness struct {
	router  *gin.Engine
	store   recordstore.Store
	admin   string
	student string
	signer  auth.Signer
}

func startMirror[T realtime.Record](t *testing.T, ctx context.Context, s recordstore.Store, c recordstore.Collection) *realtime.Mirror[T] {
	t.Helper()
	m := realtime.NewMirror[T](s, c, logger.Discard(), realtime.WithBackoff(5*time.Millisecond, 50*time.Millisecond))
	go func() { _ = m.Run(ctx) }()
	select {
	case <-m.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("mirror %s never became ready", c)
	}
	return m
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := recordstore.NewMemory(feed.NewInMemory(256))
	_, err := store.Insert(ctx, recordstore.Students, model.Student{ID: "s1", Name: "Asha", Email: "asha@example.com", Fee: model.Ptr(defaultFee)})
	require.NoError(t, err)

	roster := startMirror[model.Student](t, ctx, store, recordstore.Students)
	fees := startMirror[model.FeeRecord](t, ctx, store, recordstore.FeeRecords)
	att := startMirror[model.AttendanceRecord](t, ctx, store, recordstore.Attendance)

	log := logger.Discard()
	gw := gateway.New(gateway.Config{KeySecret: keySecret, WebhookSecret: webhookSecret, Skip: true})
	pay := payment.NewService(payment.Options{
		Store:   store,
		Gateway: gw,
		Ledger:  ledger.NewService(ledger.StoreSource{Store: store}, defaultFee),
		Log:     log,
	})
	signer := auth.Signer{Key: "test-key", Issuer: "academy", AccessTTL: time.Hour, RefreshTTL: time.Hour}

	router := NewRouter(Deps{
		Attendance:   attendance.NewService(attendance.NewRepository(store), log),
		Students:     students.NewService(store, log),
		Applications: applications.NewService(store, log),
		Ledger:       ledger.NewService(ledger.MirrorSource{Roster: roster, Fees: fees}, defaultFee),
		Payments:     pay,
		Views: realtime.Registry{
			recordstore.Students:   roster,
			recordstore.FeeRecords: fees,
			recordstore.Attendance: att,
		},
		Signer: signer,
		Health: map[string]HealthCheck{"store": func(context.Context) bool { return true }},
		Log:    log,
	})

	admin, err := signer.Issue("ops", auth.RoleAdmin)
	require.NoError(t, err)
	student, err := signer.Issue("s1", auth.RoleStudent)
	require.NoError(t, err)
	return &harness{router: router, store: store, admin: admin.AccessToken, student: student.AccessToken, signer: signer}
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHealthAndAuth(t *testing.T) {
	h := newHarness(t)

	w, body := h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["store"])

	w, _ = h.do(t, http.MethodGet, "/api/students", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = h.do(t, http.MethodGet, "/api/students", h.student, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = h.do(t, http.MethodGet, "/api/students/s2", h.student, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = h.do(t, http.MethodGet, "/api/students/s1", h.student, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAttendanceEndpoints(t *testing.T) {
	h := newHarness(t)

	w, body := h.do(t, http.MethodPost, "/api/attendance/mark", h.admin, map[string]any{
		"student_id": "s1", "date": "2024-03-01", "timing": evening, "status": "present", "session_name": "Theory",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["ok"])

	w, body = h.do(t, http.MethodPost, "/api/attendance/mark", h.admin, map[string]any{
		"student_id": "s1", "date": "2024-03-01", "timing": evening,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", body["code"])

	w, _ = h.do(t, http.MethodPost, "/api/attendance/mark", h.admin, map[string]any{
		"student_id": "s1", "date": "2024-03-01", "timing": "noon",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = h.do(t, http.MethodPost, "/api/attendance/sessions", h.admin, map[string]any{
		"date": "2024-03-02", "timing": evening, "name": "Scales", "student_ids": []string{"s1", "ghost"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["created"], 1)
	assert.Len(t, body["failed"], 1)

	w, body = h.do(t, http.MethodGet, "/api/attendance/sessions", h.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["sessions"], 2)

	// students only ever see their own rows
	w, body = h.do(t, http.MethodGet, "/api/attendance", h.student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["records"], 2)
	w, _ = h.do(t, http.MethodGet, "/api/attendance?student_id=s2", h.student, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, body = h.do(t, http.MethodGet, "/api/attendance?month=2024-03&q=scales", h.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["records"], 1)
	w, _ = h.do(t, http.MethodGet, "/api/attendance?month=03-2024", h.admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = h.do(t, http.MethodGet, "/api/attendance/stats/s1", h.student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["present"])

	w, body = h.do(t, http.MethodPatch, "/api/attendance/sessions", h.admin, map[string]any{
		"date": "2024-03-01", "timing": evening, "new_name": "Harmony",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["updated"])
}

func TestPaymentFlow(t *testing.T) {
	h := newHarness(t)

	w, body := h.do(t, http.MethodPost, "/api/payment/create-order", h.student, map[string]any{"student_id": "s1", "amount": 200000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])
	orderID := body["order"].(map[string]any)["id"].(string)

	w, body = h.do(t, http.MethodPost, "/api/payment/create-order", h.student, map[string]any{"student_id": "s1", "amount": 900000})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, body["success"])

	paymentID := gateway.FakePaymentID(orderID, "a")
	bad := map[string]any{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
		"razorpay_signature":  gateway.CheckoutSignature("wrong", orderID, paymentID),
	}
	w, body = h.do(t, http.MethodPost, "/api/payment/verify-payment", h.student, bad)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["success"])

	good := map[string]any{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
		"razorpay_signature":  gateway.CheckoutSignature(keySecret, orderID, paymentID),
	}
	w, body = h.do(t, http.MethodPost, "/api/payment/verify-payment", h.student, good)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["duplicate"])

	w, body = h.do(t, http.MethodPost, "/api/payment/verify-payment", h.student, good)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["duplicate"])

	assert.Eventually(t, func() bool {
		w, body := h.do(t, http.MethodGet, "/api/fees/s1", h.student, nil)
		if w.Code != http.StatusOK {
			return false
		}
		bal := body["balance"].(map[string]any)
		return bal["pending"] == float64(300000)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookSignature(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", strings.NewReader(`{"event":"payment.captured"}`))
	req.Header.Set("X-Razorpay-Signature", "deadbeef")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := []byte(`{"event":"order.paid","payload":{}}`)
	req = httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", gateway.Sign(webhookSecret, body))
	w = httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStudentsAndApplications(t *testing.T) {
	h := newHarness(t)

	w, body := h.do(t, http.MethodPost, "/api/students", h.admin, map[string]any{"name": "Ravi", "email": "ravi@example.com", "fee": 300000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := body["id"].(string)

	w, _ = h.do(t, http.MethodPost, "/api/students", h.admin, map[string]any{"name": "Dup", "email": "ravi@example.com"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = h.do(t, http.MethodPatch, "/api/students/"+id, h.admin, map[string]any{"reset_fee": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, body["fee"])

	w, _ = h.do(t, http.MethodDelete, "/api/students/"+id, h.admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = h.do(t, http.MethodGet, "/api/students/"+id, h.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = h.do(t, http.MethodPost, "/api/applications", "", map[string]any{"name": "Meera", "email": "meera@example.com", "phone": "98450", "course": "Vocals"})
	require.Equal(t, http.StatusCreated, w.Code)
	appID := body["id"].(string)

	w, _ = h.do(t, http.MethodGet, "/api/applications", h.student, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, body = h.do(t, http.MethodPatch, "/api/applications/"+appID, h.admin, map[string]any{"status": "approved"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "approved", body["status"])
}

func TestRealtimeSSE(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/realtime/students?access_token="+h.admin, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event:"); ok {
				events <- strings.TrimSpace(name)
			}
		}
		close(events)
	}()

	next := func() string {
		select {
		case e, ok := <-events:
			require.True(t, ok, "stream closed")
			return e
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
			return ""
		}
	}
	require.Equal(t, "snapshot", next())

	_, err = h.store.Insert(context.Background(), recordstore.Students, model.Student{ID: "s2", Name: "Ravi", Email: "ravi@example.com"})
	require.NoError(t, err)
	for e := next(); e != "insert"; e = next() {
		require.Contains(t, []string{"ping", "resync"}, e)
	}
}

func TestRealtimeWebSocket(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/realtime/fee_records/ws?access_token=" + h.admin
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.JSONEq(t, `[]`, string(msg.Record))

	_, err = h.store.Insert(context.Background(), recordstore.FeeRecords, model.FeeRecord{StudentID: "s1", Amount: 1000, Status: model.FeePaid, PaymentID: model.Ptr("pay_manual")})
	require.NoError(t, err)
	for {
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "insert" {
			break
		}
	}
	var rec model.FeeRecord
	require.NoError(t, json.Unmarshal(msg.Record, &rec))
	assert.Equal(t, int64(1000), rec.Amount)

	w, _ := h.do(t, http.MethodGet, "/api/realtime/payment_orders", h.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
