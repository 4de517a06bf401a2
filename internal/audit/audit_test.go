package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/expiry-discount/internal/common"
	"github.com/noah-isme/expiry-discount/internal/obs"
)

var fixedNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func TestServiceRecord(t *testing.T) {
	store := NewMemoryStore(10)
	svc := Service{Store: store, Enabled: true, SamplingRate: 1, Now: func() time.Time { return fixedNow }}
	userID := "ops-1"

	req := httptest.NewRequest(http.MethodPatch, "https://api.test/api/v1/rules/R1?dry=1", nil)
	req.Header.Set("User-Agent", "tester")
	req.Header.Set("X-Request-ID", "req-123")
	req.RemoteAddr = "10.0.0.2:54321"
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/rules/{ruleID}"))

	err := svc.Record(context.Background(), Actor{Kind: ActorKindUser, UserID: &userID}, "", "", "R1", req, http.StatusOK, nil)
	require.NoError(t, err)

	rows, err := store.ListAuditLogs(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	got := rows[0]
	require.Equal(t, "PATCH /api/v1/rules/{ruleID}", got.Action)
	require.Equal(t, "rules.{ruleID}", got.ResourceType)
	require.Equal(t, "R1", *got.ResourceID)
	require.Equal(t, "user", got.ActorKind)
	require.Equal(t, "ops-1", *got.ActorUserID)
	require.Equal(t, "10.0.0.2", *got.IP)
	require.Equal(t, "req-123", *got.RequestID)
	require.JSONEq(t, `{"query":"dry=1"}`, string(got.Metadata))
	require.Equal(t, fixedNow, got.CreatedAt)
}

func TestServiceRecordDisabledAndMisconfigured(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products", nil)
	require.NoError(t, Service{}.Record(context.Background(), Actor{}, "", "", "", req, 201, nil))
	require.Error(t, Service{Enabled: true}.Record(context.Background(), Actor{}, "", "", "", req, 201, nil))
	require.Error(t, Service{Enabled: true, Store: NewMemoryStore(1)}.Record(context.Background(), Actor{}, "", "", "", nil, 201, nil))
}

func TestMemoryStoreKeepsNewest(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.InsertAuditLog(ctx, Entry{ID: id}))
	}
	rows, err := store.ListAuditLogs(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, []string{rows[0].ID, rows[1].ID})

	rows, err = store.ListAuditLogs(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "b", rows[0].ID)

	rows, err = store.ListAuditLogs(ctx, 10, 5)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestHTTPRecorderWrites(t *testing.T) {
	store := NewMemoryStore(10)
	recorder := HTTPRecorder{Service: &Service{Store: store, Enabled: true}}

	r := chi.NewRouter()
	r.Use(recorder.Writes)
	r.Get("/api/v1/rules", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Post("/api/v1/rules", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) })

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		req := httptest.NewRequest(method, "/api/v1/rules", nil)
		req = req.WithContext(common.WithUserID(req.Context(), "ops-2"))
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	rows, err := store.ListAuditLogs(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, http.MethodPost, rows[0].Method)
	require.Equal(t, http.StatusCreated, rows[0].Status)
	require.Equal(t, "ops-2", *rows[0].ActorUserID)
}

func TestHTTPRecorderReportsStoreErrors(t *testing.T) {
	var captured error
	recorder := HTTPRecorder{
		Service: &Service{Store: failingStore{}, Enabled: true},
		OnError: func(err error) { captured = err },
	}
	handler := recorder.Middleware(HTTPConfig{Action: "discount.calculate", ResourceType: "discount_run"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/discounts/calculate", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Error(t, captured)
}

func TestHandlerList(t *testing.T) {
	store := NewMemoryStore(10)
	require.NoError(t, store.InsertAuditLog(context.Background(), Entry{ID: "e1", Action: "POST /api/v1/rules"}))

	rr := httptest.NewRecorder()
	Handler{Store: store}.List(rr, httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs?limit=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Data []Entry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	require.Equal(t, "e1", body.Data[0].ID)

	rr = httptest.NewRecorder()
	Handler{Store: store}.List(rr, httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs?limit=500", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "limit")

	rr = httptest.NewRecorder()
	Handler{Store: store}.List(rr, httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs?offset=-1", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	Handler{}.List(rr, httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

type failingStore struct{}

func (failingStore) InsertAuditLog(context.Context, Entry) error {
	return errors.New("db down")
}

func (failingStore) ListAuditLogs(context.Context, int, int) ([]Entry, error) {
	return nil, errors.New("db down")
}
