package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"medipay/internal/auth"
	"medipay/internal/blob"
	"medipay/internal/core"
	"medipay/internal/projection"
	"medipay/internal/statements"
)

// artifactURLExpiry bounds presigned statement download links.
const artifactURLExpiry = 5 * time.Minute

// userView is the public shape of a user; the password hash never leaves the service.
type userView struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name"`
	AutoPayEnabled bool      `json:"autopay_enabled"`
	CreatedAt      time.Time `json:"created_at"`
}

func viewUser(u core.User) userView {
	return userView{ID: u.ID, Email: u.Email, FullName: u.FullName, AutoPayEnabled: u.AutoPayEnabled, CreatedAt: u.CreatedAt}
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userView  `json:"user"`
}

func viewSession(s auth.Session) sessionResponse {
	return sessionResponse{Token: s.Token, ExpiresAt: s.ExpiresAt, User: viewUser(s.User)}
}

// decodeJSON strictly decodes a JSON request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			WriteJSONError(w, http.StatusBadRequest, "invalid_json", "request body required")
			return false
		}
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func currentUser(r *http.Request) core.User {
	u, _ := UserFromContext(r.Context())
	return u
}

func (a *API) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

func (a *API) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := a.auth.Register(r.Context(), req.Email, req.FullName, req.Password)
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewSession(session))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(session))
}

func (a *API) meHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": viewUser(currentUser(r))})
}

func (a *API) listPrescriptionsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.ListPrescriptions(r.Context(), currentUser(r).ID)
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	if list.Prescriptions == nil {
		list.Prescriptions = []core.Prescription{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) addPrescriptionHandler(w http.ResponseWriter, r *http.Request) {
	var in core.PrescriptionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	out, err := a.svc.AddPrescription(r.Context(), currentUser(r).ID, in)
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

type previewRequest struct {
	MonthlyCost *float64 `json:"monthly_cost"`
}

type previewResponse struct {
	Projection projection.Result   `json:"projection"`
	Insights   projection.Insights `json:"insights"`
}

func (a *API) previewHandler(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MonthlyCost == nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "monthly_cost is required")
		return
	}
	result, insights, err := a.svc.Preview(r.Context(), *req.MonthlyCost)
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Projection: result, Insights: insights})
}

type latestPredictionResponse struct {
	Prediction *core.CostPrediction `json:"prediction"`
	Insights   *projection.Insights `json:"insights,omitempty"`
}

func (a *API) latestPredictionHandler(w http.ResponseWriter, r *http.Request) {
	latest, ok, err := a.svc.LatestPrediction(r.Context(), currentUser(r).ID)
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	var resp latestPredictionResponse
	if ok {
		insights := projection.Describe(latest.AnnualCost, latest.MonthlyEMI)
		resp = latestPredictionResponse{Prediction: &latest, Insights: &insights}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	d, err := a.svc.Dashboard(r.Context(), currentUser(r).ID)
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) listAlertsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteJSONError(w, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	alerts, err := a.svc.ListAlerts(r.Context(), currentUser(r).ID, limit)
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	if alerts == nil {
		alerts = []core.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) markAlertReadHandler(w http.ResponseWriter, r *http.Request) {
	alert, err := a.svc.MarkAlertRead(r.Context(), currentUser(r).ID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alert": alert})
}

func (a *API) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	payments, err := a.svc.ListPayments(r.Context(), currentUser(r).ID)
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	if payments == nil {
		payments = []core.Payment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) makePaymentHandler(w http.ResponseWriter, r *http.Request) {
	receipt, err := a.svc.MakePayment(r.Context(), currentUser(r).ID)
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) paymentSummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := a.svc.PaymentSummary(r.Context(), currentUser(r).ID)
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type autoPayRequest struct {
	Enabled *bool `json:"enabled"`
}

func (a *API) autoPayHandler(w http.ResponseWriter, r *http.Request) {
	var req autoPayRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "enabled is required")
		return
	}
	user, err := a.svc.SetAutoPay(r.Context(), currentUser(r).ID, *req.Enabled)
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": viewUser(user)})
}

type statementRequest struct {
	Formats []string `json:"formats"`
}

func (a *API) createStatementHandler(w http.ResponseWriter, r *http.Request) {
	var req statementRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	formats := make([]statements.Format, 0, len(req.Formats))
	for _, f := range req.Formats {
		formats = append(formats, statements.Format(strings.ToLower(strings.TrimSpace(f))))
	}
	record, err := a.exports.Enqueue(r.Context(), currentUser(r).ID, formats)
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"export": record})
}

func (a *API) getStatementHandler(w http.ResponseWriter, r *http.Request) {
	record, ok := a.exports.Get(currentUser(r).ID, r.PathValue("id"))
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "not_found", "statement export not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export": record})
}

// artifactHandler redirects to a presigned URL when the blob backend can sign
// one and streams the artifact through the API otherwise.
func (a *API) artifactHandler(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r).ID
	id := r.PathValue("id")
	format := statements.Format(strings.ToLower(r.PathValue("format")))

	url, err := a.exports.ArtifactURL(r.Context(), userID, id, format, artifactURLExpiry)
	if err == nil {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	if !errors.Is(err, blob.ErrUnsupported) {
		writeServiceError(w, r, a.logger, err)
		return
	}

	artifact, body, err := a.exports.OpenArtifact(r.Context(), userID, id, format)
	if err != nil {
		writeServiceError(w, r, a.logger, err)
		return
	}
	defer func() { _ = body.Close() }()
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"statement-%s.%s\"", id, artifact.Format))
	if artifact.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(artifact.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		a.logger.Warn("artifact_stream_failed", "export_id", id, "format", format, "error", err)
	}
}
