package credit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mwork/credits-api/internal/middleware"
	"github.com/mwork/credits-api/internal/pkg/errorhandler"
	"github.com/mwork/credits-api/internal/pkg/response"
	"github.com/mwork/credits-api/internal/pkg/validator"
)

// Handler serves the user-facing credit routes.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// writeError maps a credit error to its HTTP response by Kind.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch KindOf(err) {
	case KindInvalidInput:
		response.BadRequest(w, err.Error())
	case KindNotFound:
		response.NotFound(w, err.Error())
	case KindInsufficientCredits:
		response.Error(w, http.StatusPaymentRequired, response.CodePaymentRequired, err.Error())
	case KindAlreadyProcessed:
		response.Error(w, http.StatusConflict, response.CodeAlreadyProcessed, err.Error())
	case KindVerificationFailed:
		response.Error(w, http.StatusUnprocessableEntity, response.CodeVerificationFailed, err.Error())
	case KindConflict:
		response.Conflict(w, err.Error())
	case KindNotEligible:
		response.Error(w, http.StatusConflict, response.CodeNotEligible, err.Error())
	default:
		errorhandler.Internal(r.Context(), w, op, err)
	}
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return false
	}
	if errs := validator.Validate(dst); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return false
	}
	return true
}

func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return uuid.Nil, false
	}
	return userID, true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

func queryTime(r *http.Request, key string) (*time.Time, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if d, derr := time.Parse("2006-01-02", raw); derr == nil {
			return &d, true
		}
		return nil, false
	}
	return &t, true
}

// Balance handles GET /credits/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	bal, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, r, "get balance", err)
		return
	}
	response.OK(w, BalanceResponseFrom(bal))
}

// ListTransactions handles GET /credits/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	txs, total, err := h.svc.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, r, "list transactions", err)
		return
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	response.WithMeta(w, txs, response.NewMeta(total, limit, offset))
}

// GetTransaction handles GET /credits/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid transaction ID")
		return
	}

	txn, err := h.svc.GetTransaction(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, "get transaction", err)
		return
	}
	response.OK(w, txn)
}

// Deduct handles POST /credits/deduct
func (h *Handler) Deduct(w http.ResponseWriter, r *http.Request) {
	h.debit(w, r, h.svc.DeductCredits)
}

// Spend handles POST /credits/spend
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	h.debit(w, r, h.svc.SpendCredits)
}

type debitFunc func(ctx context.Context, userID uuid.UUID, amount int, reason string, metadata Metadata) (Transaction, Balance, error)

func (h *Handler) debit(w http.ResponseWriter, r *http.Request, fn debitFunc) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req DeductRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	txn, bal, err := fn(r.Context(), userID, req.Amount, req.Reason, req.Metadata)
	if err != nil {
		writeError(w, r, "debit credits", err)
		return
	}
	response.OK(w, MutationResponse{Transaction: txn, Balance: bal.TotalCredits})
}

// DailyBonusStatus handles GET /credits/daily-bonus
func (h *Handler) DailyBonusStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	status, err := h.svc.GetDailyBonusStatus(r.Context(), userID)
	if err != nil {
		writeError(w, r, "daily bonus status", err)
		return
	}
	response.OK(w, status)
}

// ClaimDailyBonus handles POST /credits/daily-bonus/claim
func (h *Handler) ClaimDailyBonus(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	result, err := h.svc.ClaimDailyBonus(r.Context(), userID)
	if err != nil {
		writeError(w, r, "claim daily bonus", err)
		return
	}
	response.OK(w, result)
}

// ListProducts handles GET /credits/products?platform=ios
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	platform := Platform(r.URL.Query().Get("platform"))
	if platform == "" {
		platform = PlatformWeb
	}

	products, err := h.svc.ListProducts(r.Context(), platform)
	if err != nil {
		writeError(w, r, "list products", err)
		return
	}
	response.OK(w, productResponses(products))
}

// Purchase handles POST /credits/purchases
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req PurchaseBody
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.svc.ProcessPurchase(r.Context(), PurchaseRequest{
		UserID:        userID,
		ProductID:     req.ProductID,
		Platform:      Platform(req.Platform),
		TransactionID: req.TransactionID,
		Receipt:       req.Receipt,
	})
	if err != nil {
		writeError(w, r, "process purchase", err)
		return
	}
	response.Created(w, result)
}

// ReferralCode handles GET /credits/referral-code
func (h *Handler) ReferralCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	code, err := h.svc.GetReferralCode(r.Context(), userID)
	if err != nil {
		writeError(w, r, "get referral code", err)
		return
	}
	response.OK(w, code)
}

// Referral handles POST /credits/referrals; the caller is the referee.
func (h *Handler) Referral(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req ReferralBody
	if !decodeAndValidate(w, r, &req) {
		return
	}
	refType := ReferralType(req.ReferralType)
	if refType == "" {
		refType = ReferralTypeSignup
	}

	out, err := h.svc.ProcessReferral(r.Context(), ReferralRequest{
		RefereeUserID: userID,
		ReferralCode:  req.ReferralCode,
		ReferralType:  refType,
	})
	if err != nil {
		writeError(w, r, "process referral", err)
		return
	}
	response.Created(w, ReferralResponse{
		Referral:      out.Referral,
		CreditsEarned: out.Referral.RefereeCredits,
		Balance:       out.RefereeBalance.TotalCredits,
	})
}

// Analytics handles GET /credits/analytics?from=&to=&include_admin=
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	serveAnalytics(w, r, h.svc, userID)
}

func serveAnalytics(w http.ResponseWriter, r *http.Request, svc *Service, userID uuid.UUID) {
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
	includeAdmin, _ := strconv.ParseBool(r.URL.Query().Get("include_admin"))

	result, err := svc.GetCreditAnalytics(r.Context(), AnalyticsRequest{
		UserID:       userID,
		From:         from,
		To:           to,
		IncludeAdmin: includeAdmin,
	})
	if err != nil {
		writeError(w, r, "credit analytics", err)
		return
	}
	response.OK(w, result)
}

// Routes mounts the user routes. Mutating routes go through mutationLimit.
func (h *Handler) Routes(authMiddleware, mutationLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/balance", h.Balance)
	r.Get("/transactions", h.ListTransactions)
	r.Get("/transactions/{id}", h.GetTransaction)
	r.Get("/daily-bonus", h.DailyBonusStatus)
	r.Get("/products", h.ListProducts)
	r.Get("/referral-code", h.ReferralCode)
	r.Get("/analytics", h.Analytics)

	r.Group(func(r chi.Router) {
		if mutationLimit != nil {
			r.Use(mutationLimit)
		}
		r.Post("/deduct", h.Deduct)
		r.Post("/spend", h.Spend)
		r.Post("/daily-bonus/claim", h.ClaimDailyBonus)
		r.Post("/purchases", h.Purchase)
		r.Post("/referrals", h.Referral)
	})

	return r
}
