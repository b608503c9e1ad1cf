package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/gateway/simulator"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/ledger"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/metrics"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/queue"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/syncer"
)

type api struct {
	t       *testing.T
	handler http.Handler
	sim     *simulator.Simulator
}

func newAPI(t *testing.T) *api {
	t.Helper()
	store := memory.NewMemoryLedgerStore()
	sim := simulator.New()
	q := queue.New(store, queue.Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute})
	l := ledger.NewLedger(store, q, ledger.DefaultConfig(), ledger.WithGateway(sim), ledger.WithAddressProvider(sim))
	m := metrics.New()
	eng := syncer.NewEngine(store, l, q, sim, syncer.Config{Workers: 2}, syncer.WithMetrics(m))
	srv := New(Config{Addr: ":0"}, l, eng, m, zerolog.Nop())
	return &api{t: t, handler: srv.Handler(), sim: sim}
}

func (a *api) do(method, path string, body any, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

type setup struct {
	group  models.Group
	member models.Member
}

func (a *api) setup() setup {
	a.t.Helper()
	var s setup
	require.Equal(a.t, http.StatusCreated, a.do("POST", "/groups", map[string]string{"name": "Ntinda Traders"}, &s.group))
	require.Equal(a.t, http.StatusCreated, a.do("POST", "/members", map[string]string{"display_name": "Mugisha Ivan", "phone": "256752111222"}, &s.member))
	require.Equal(a.t, http.StatusNoContent, a.do("POST", "/groups/"+s.group.ID+"/members", map[string]string{"member_id": s.member.ID}, nil))
	return s
}

func TestContributionSyncAndSummary(t *testing.T) {
	a := newAPI(t)
	s := a.setup()

	var entry models.LedgerEntry
	code := a.do("POST", "/contributions", map[string]string{
		"group_id": s.group.ID, "member_id": s.member.ID, "amount": "100000", "currency": "ugx",
	}, &entry)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, int64(1_000), entry.Commission)
	assert.Equal(t, models.StatePending, entry.State)
	assert.Equal(t, "256752111222", entry.Destination)

	var report syncer.Report
	require.Equal(t, http.StatusOK, a.do("POST", "/sync", nil, &report))
	assert.Equal(t, 1, report.Confirmed)

	var got models.LedgerEntry
	require.Equal(t, http.StatusOK, a.do("GET", "/entries/"+entry.ID, nil, &got))
	assert.Equal(t, models.StateConfirmed, got.State)

	var summary ledger.SavingsSummary
	require.Equal(t, http.StatusOK, a.do("GET", "/groups/"+s.group.ID+"/summary", nil, &summary))
	require.Len(t, summary.Balances, 1)
	assert.Equal(t, int64(99_000), summary.Balances[0].Balance)

	var list []models.LedgerEntry
	require.Equal(t, http.StatusOK, a.do("GET", "/entries?state=confirmed&group_id="+s.group.ID, nil, &list))
	assert.Len(t, list, 1)

	var commission ledger.CommissionSummary
	require.Equal(t, http.StatusOK, a.do("GET", "/commission", nil, &commission))
	require.Len(t, commission.Totals, 1)
	assert.Equal(t, int64(1_000), commission.Totals[0].Accrued)

	var transfer ledger.TransferResult
	require.Equal(t, http.StatusOK, a.do("POST", "/commission/transfer", map[string]string{"currency": "UGX"}, &transfer))
	assert.Equal(t, int64(1_000), transfer.Amount)
	assert.Equal(t, http.StatusConflict, a.do("POST", "/commission/transfer", map[string]string{"currency": "UGX"}, nil))
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t)
	s := a.setup()

	var body errorBody
	code := a.do("POST", "/contributions", map[string]string{
		"group_id": s.group.ID, "member_id": s.member.ID, "amount": "10.5", "currency": "UGX",
	}, &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "amount", body.Field)

	assert.Equal(t, http.StatusBadRequest, a.do("POST", "/payouts", `{"amount":`, nil))
	assert.Equal(t, http.StatusBadRequest, a.do("GET", "/entries?state=lost", nil, nil))
	assert.Equal(t, http.StatusNotFound, a.do("GET", "/entries/missing", nil, nil))
	assert.Equal(t, http.StatusNotFound, a.do("GET", "/nowhere", nil, nil))

	var entry models.LedgerEntry
	require.Equal(t, http.StatusCreated, a.do("POST", "/payouts", map[string]string{
		"group_id": s.group.ID, "member_id": s.member.ID, "amount": "50000", "currency": "UGX", "destination": "256752111222",
	}, &entry))
	assert.Equal(t, http.StatusConflict, a.do("POST", "/entries/"+entry.ID+"/transition", map[string]string{"state": "reversed"}, nil))
	assert.Equal(t, http.StatusOK, a.do("POST", "/entries/"+entry.ID+"/cancel", nil, nil))
	assert.Equal(t, http.StatusOK, a.do("POST", "/entries/"+entry.ID+"/retry", nil, nil))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&models.ValidationError{Field: "gross"}, http.StatusBadRequest},
		{fmt.Errorf("load: %w", models.ErrNotFound), http.StatusNotFound},
		{&models.InvalidTransitionError{}, http.StatusConflict},
		{models.ErrInFlight, http.StatusConflict},
		{&models.DefinitiveGatewayError{Reason: "no"}, http.StatusUnprocessableEntity},
		{&models.TransientGatewayError{Err: errors.New("down")}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestGatewayWebhook(t *testing.T) {
	a := newAPI(t)
	s := a.setup()

	var entry models.LedgerEntry
	require.Equal(t, http.StatusCreated, a.do("POST", "/contributions", map[string]string{
		"group_id": s.group.ID, "member_id": s.member.ID, "amount": "20000", "currency": "UGX",
	}, &entry))

	var res map[string]string
	code := a.do("POST", "/webhooks/gateway", map[string]string{
		"idempotency_key": entry.IdempotencyKey, "remote_ref": "MM-5", "status": "success",
	}, &res)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "applied", res["result"])

	code = a.do("POST", "/webhooks/gateway", map[string]string{"idempotency_key": "nobody", "status": "failed"}, &res)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "dead_letter", res["result"])

	var letters []models.DeadLetter
	require.Equal(t, http.StatusOK, a.do("GET", "/dead-letters", nil, &letters))
	assert.Len(t, letters, 1)

	var review []models.ReviewItem
	require.Equal(t, http.StatusOK, a.do("GET", "/review", nil, &review))
	assert.Empty(t, review)

	assert.Equal(t, http.StatusBadRequest, a.do("POST", "/webhooks/gateway", `{"status":"success"}`, nil))
}

func TestHealthMetricsAndRequestID(t *testing.T) {
	a := newAPI(t)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report syncer.Report
	require.Equal(t, http.StatusOK, a.do("POST", "/sync?connectivity=offline", nil, &report))
	assert.True(t, report.Skipped)

	assert.Equal(t, http.StatusNotFound, a.do("POST", "/connectivity", map[string]string{"state": "online"}, nil), "disabled without a sink")

	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil).WithContext(context.Background()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ajo_sync_passes_total")
}

func TestReportConnectivity(t *testing.T) {
	signals := make(chan syncer.Connectivity, 1)
	srv := New(Config{}, nil, nil, nil, zerolog.Nop(), WithConnectivity(signals))
	a := &api{t: t, handler: srv.Handler()}

	assert.Equal(t, http.StatusAccepted, a.do("POST", "/connectivity", map[string]string{"state": "offline"}, nil))
	assert.Equal(t, syncer.Offline, <-signals)
	assert.Equal(t, http.StatusBadRequest, a.do("POST", "/connectivity", map[string]string{"state": "flaky"}, nil))
	assert.Equal(t, http.StatusBadRequest, a.do("POST", "/connectivity", map[string]string{}, nil))
}
