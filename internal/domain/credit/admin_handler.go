package credit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mwork/credits-api/internal/middleware"
	"github.com/mwork/credits-api/internal/pkg/response"
)

// AdminHandler serves /admin/credits. Routes are mounted behind Auth and
// RequireAdmin.
type AdminHandler struct {
	svc       *Service
	retention time.Duration
	driftScan int
}

// NewAdminHandler creates the admin credit handler. retention is the
// default cleanup threshold; driftScan bounds the drift report.
func NewAdminHandler(svc *Service, retention time.Duration, driftScan int) *AdminHandler {
	return &AdminHandler{svc: svc, retention: retention, driftScan: driftScan}
}

func urlUUID(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.BadRequest(w, "Invalid "+label)
		return uuid.Nil, false
	}
	return id, true
}

// UserSummary handles GET /admin/credits/users/{id}
func (h *AdminHandler) UserSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := urlUUID(w, r, "id", "user ID")
	if !ok {
		return
	}

	summary, err := h.svc.GetUserSummary(r.Context(), userID)
	if err != nil {
		writeError(w, r, "admin user summary", err)
		return
	}
	response.OK(w, summary)
}

// Grant handles POST /admin/credits/users/{id}/grant
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, true)
}

// Deduct handles POST /admin/credits/users/{id}/deduct
func (h *AdminHandler) Deduct(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, false)
}

func (h *AdminHandler) adjust(w http.ResponseWriter, r *http.Request, grant bool) {
	userID, ok := urlUUID(w, r, "id", "user ID")
	if !ok {
		return
	}

	var req AdminAdjustRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	adminID := middleware.GetUserID(r.Context())
	adjust := h.svc.AdminDeductCredits
	if grant {
		adjust = h.svc.AdminAddCredits
	}

	txn, bal, err := adjust(r.Context(), adminID, userID, req.Amount, req.Reason)
	if err != nil {
		writeError(w, r, "admin adjust credits", err)
		return
	}
	response.OK(w, MutationResponse{Transaction: txn, Balance: bal.TotalCredits})
}

// Recalculate handles POST /admin/credits/users/{id}/recalculate
func (h *AdminHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	userID, ok := urlUUID(w, r, "id", "user ID")
	if !ok {
		return
	}

	bal, err := h.svc.RecalculateUserBalance(r.Context(), userID)
	if err != nil {
		writeError(w, r, "recalculate balance", err)
		return
	}
	response.OK(w, BalanceResponseFrom(bal))
}

// UserAnalytics handles GET /admin/credits/users/{id}/analytics
func (h *AdminHandler) UserAnalytics(w http.ResponseWriter, r *http.Request) {
	userID, ok := urlUUID(w, r, "id", "user ID")
	if !ok {
		return
	}
	serveAnalytics(w, r, h.svc, userID)
}

// SearchTransactions handles GET /admin/credits/transactions
func (h *AdminHandler) SearchTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := SearchFilters{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	if v := q.Get("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(w, "Invalid user_id")
			return
		}
		filters.UserID = &id
	}
	if v := q.Get("type"); v != "" {
		t := TransactionType(v)
		filters.Type = &t
	}
	if v := q.Get("status"); v != "" {
		st := TransactionStatus(v)
		filters.Status = &st
	}
	if v := q.Get("reference_id"); v != "" {
		filters.ReferenceID = &v
	}
	from, ok := queryTime(r, "from")
	if !ok {
		response.BadRequest(w, "Invalid 'from' date")
		return
	}
	to, ok := queryTime(r, "to")
	if !ok {
		response.BadRequest(w, "Invalid 'to' date")
		return
	}
	filters.DateFrom, filters.DateTo = from, to

	txs, err := h.svc.SearchTransactions(r.Context(), filters)
	if err != nil {
		writeError(w, r, "search transactions", err)
		return
	}
	response.OK(w, txs)
}

// Refund handles POST /admin/credits/transactions/{id}/refund
func (h *AdminHandler) Refund(w http.ResponseWriter, r *http.Request) {
	txID, ok := urlUUID(w, r, "id", "transaction ID")
	if !ok {
		return
	}

	var req RefundRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}

	refund, bal, err := h.svc.RefundTransaction(r.Context(), middleware.GetUserID(r.Context()), txID, req.Reason)
	if err != nil {
		writeError(w, r, "refund transaction", err)
		return
	}
	response.OK(w, MutationResponse{Transaction: refund, Balance: bal.TotalCredits})
}

// UpdatePrice handles PATCH /admin/credits/products/{id}/price
func (h *AdminHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	productID, ok := urlUUID(w, r, "id", "product ID")
	if !ok {
		return
	}

	var req UpdatePriceRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	p, err := h.svc.AdminUpdateProductPrice(r.Context(), productID, *req.Price, req.LocalizedPrice)
	if err != nil {
		writeError(w, r, "update product price", err)
		return
	}
	response.OK(w, p)
}

// SetActive handles PATCH /admin/credits/products/{id}/active
func (h *AdminHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	productID, ok := urlUUID(w, r, "id", "product ID")
	if !ok {
		return
	}

	var req SetActiveRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	p, err := h.svc.AdminSetProductActive(r.Context(), productID, *req.Active)
	if err != nil {
		writeError(w, r, "set product active", err)
		return
	}
	response.OK(w, p)
}

// Cleanup handles POST /admin/credits/maintenance/cleanup
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}

	retention := h.retention
	if req.RetentionHours > 0 {
		retention = time.Duration(req.RetentionHours) * time.Hour
	}

	deleted, err := h.svc.CleanupExpiredTransactions(r.Context(), retention)
	if err != nil {
		writeError(w, r, "cleanup transactions", err)
		return
	}

	log.Info().
		Str("admin_id", middleware.GetUserID(r.Context()).String()).
		Int64("deleted", deleted).
		Msg("manual transaction cleanup")
	response.OK(w, map[string]interface{}{"deleted": deleted})
}

// Drift handles GET /admin/credits/maintenance/drift?fix=true
func (h *AdminHandler) Drift(w http.ResponseWriter, r *http.Request) {
	fix, _ := strconv.ParseBool(r.URL.Query().Get("fix"))

	drift, err := h.svc.ScanBalanceDrift(r.Context(), queryInt(r, "limit", h.driftScan), fix)
	if err != nil {
		writeError(w, r, "scan balance drift", err)
		return
	}
	response.OK(w, map[string]interface{}{"drift": drift, "fixed": fix})
}

// Receipt handles GET /admin/credits/receipts/{platform}/{transaction_id}
func (h *AdminHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	platform := Platform(chi.URLParam(r, "platform"))
	transactionID := chi.URLParam(r, "transaction_id")

	data, err := h.svc.GetArchivedReceipt(r.Context(), platform, transactionID)
	if err != nil {
		writeError(w, r, "get archived receipt", err)
		return
	}
	response.OK(w, map[string]interface{}{
		"platform":       platform,
		"transaction_id": transactionID,
		"receipt_data":   string(data),
	})
}

// Routes mounts the admin routes behind the given middlewares.
func (h *AdminHandler) Routes(authMiddleware, adminOnly func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(adminOnly)

	r.Get("/users/{id}", h.UserSummary)
	r.Post("/users/{id}/grant", h.Grant)
	r.Post("/users/{id}/deduct", h.Deduct)
	r.Post("/users/{id}/recalculate", h.Recalculate)
	r.Get("/users/{id}/analytics", h.UserAnalytics)

	r.Get("/transactions", h.SearchTransactions)
	r.Post("/transactions/{id}/refund", h.Refund)

	r.Patch("/products/{id}/price", h.UpdatePrice)
	r.Patch("/products/{id}/active", h.SetActive)

	r.Get("/receipts/{platform}/{transaction_id}", h.Receipt)

	r.Post("/maintenance/cleanup", h.Cleanup)
	r.Get("/maintenance/drift", h.Drift)

	return r
}
