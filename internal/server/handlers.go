package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models/events"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/syncer"
)

const maxBody = 1 << 20

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case models.IsInvalidTransition(err), errors.Is(err, models.ErrInFlight),
		errors.Is(err, models.ErrDuplicate), errors.Is(err, models.ErrNothingToTransfer):
		return http.StatusConflict
	case models.IsDefinitive(err):
		return http.StatusUnprocessableEntity
	case models.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var v *models.ValidationError
	if errors.As(err, &v) {
		body.Field = v.Field
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &models.ValidationError{Field: "body", Reason: "malformed JSON", Err: err}
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) registerMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
		Phone       string `json:"phone"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.ledger.RegisterMember(r.Context(), req.DisplayName, req.Phone)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) getMember(w http.ResponseWriter, r *http.Request) {
	m, err := s.ledger.GetMember(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deactivateMember(w http.ResponseWriter, r *http.Request) {
	m, err := s.ledger.DeactivateMember(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.ledger.CreateGroup(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) closeGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.ledger.CloseGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) addGroupMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID string `json:"member_id"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.AddMemberToGroup(r.Context(), mux.Vars(r)["id"], req.MemberID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listGroupMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.ledger.ListGroupMembers(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) savingsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.SavingsSummary(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// entryRequest carries the amount in major units ("25.5" USDT); it is
// converted to smallest units before it reaches the ledger.
type entryRequest struct {
	GroupID     string          `json:"group_id"`
	MemberID    string          `json:"member_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Destination string          `json:"destination,omitempty"`
}

func (s *Server) recordEntry(kind models.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req entryRequest
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		c, err := models.ParseCurrency(req.Currency)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		gross, err := c.ToMinor(req.Amount)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		e, err := s.ledger.CreateEntry(r.Context(), models.EntryRequest{
			Kind:        kind,
			GroupID:     req.GroupID,
			MemberID:    req.MemberID,
			Gross:       gross,
			Currency:    c,
			Destination: req.Destination,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}

func parseFilter(r *http.Request) (models.EntryFilter, error) {
	q := r.URL.Query()
	f := models.EntryFilter{
		GroupID:  q.Get("group_id"),
		MemberID: q.Get("member_id"),
		State:    models.EntryState(q.Get("state")),
		Kind:     models.EntryKind(q.Get("kind")),
	}
	if f.State != "" && !f.State.Valid() {
		return f, &models.ValidationError{Field: "state", Reason: fmt.Sprintf("unknown state %q", f.State)}
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return f, &models.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", f.Kind)}
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, &models.ValidationError{Field: p.name, Reason: "expected RFC 3339 time", Err: err}
			}
			*p.dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, &models.ValidationError{Field: "limit", Reason: "expected a non-negative integer"}
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.ledger.ListEntries(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.ledger.GetEntry(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) transitionEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State     models.EntryState `json:"state"`
		RemoteRef string            `json:"remote_ref,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.ledger.TransitionEntry(r.Context(), mux.Vars(r)["id"], req.State, req.RemoteRef)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) reverseEntry(w http.ResponseWriter, r *http.Request) {
	orig, offset, err := s.ledger.Reverse(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.LedgerEntry{"reversed": orig, "offset": offset})
}

func (s *Server) retryEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.ledger.Retry(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) cancelEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.ledger.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func parseConnectivity(v string) (syncer.Connectivity, error) {
	switch v {
	case "", "online":
		return syncer.Online, nil
	case "offline":
		return syncer.Offline, nil
	}
	return syncer.Offline, &models.ValidationError{Field: "connectivity", Reason: "expected online or offline"}
}

func (s *Server) reportConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State string `json:"state"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.State == "" {
		s.writeError(w, r, &models.ValidationError{Field: "state", Reason: "state is required"})
		return
	}
	conn, err := parseConnectivity(req.State)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	select {
	case s.signals <- conn:
		w.WriteHeader(http.StatusAccepted)
	case <-r.Context().Done():
		s.writeError(w, r, &models.TransientGatewayError{Op: "connectivity", Err: r.Context().Err()})
	}
}

// triggerSync runs one pass. The caller states connectivity; it defaults
// to online since the request itself reached us.
func (s *Server) triggerSync(w http.ResponseWriter, r *http.Request) {
	conn, err := parseConnectivity(r.URL.Query().Get("connectivity"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.sync.Trigger(r.Context(), conn)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) commissionSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.CommissionSummary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) transferCommission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Currency string `json:"currency"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := models.ParseCurrency(req.Currency)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.TransferCommission(r.Context(), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) reviewItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.ledger.ReviewItems(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.ReviewItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) deadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := s.ledger.DeadLetters(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if letters == nil {
		letters = []models.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, letters)
}

// gatewayWebhook acknowledges every well-formed notification, including
// ones that matched nothing and were dead-lettered, so the gateway stops
// redelivering them.
func (s *Server) gatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.writeError(w, r, &models.ValidationError{Field: "body", Reason: "unreadable body", Err: err})
		return
	}
	n, err := events.DecodeNotification(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.sync.HandleNotification(r.Context(), n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]syncer.NotificationResult{"result": result})
}
