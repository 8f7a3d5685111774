package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"possale/m/internal/fee"
	"possale/m/internal/logger"
	"possale/m/internal/recipe"
	"possale/m/internal/report"
	"possale/m/internal/sale"
	"possale/m/internal/session"
	"possale/m/internal/stock"
)

// saleAttempts bounds in-process retries of transient sale failures.
const saleAttempts = 3

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db       *sqlx.DB
	secret   string
	engine   *sale.Engine
	sessions *session.Manager
	log      *zap.Logger
}

// New constructs a Handler.
func New(db *sqlx.DB, secret string, engine *sale.Engine, log *zap.Logger) *Handler {
	return &Handler{db: db, secret: secret, engine: engine, sessions: session.NewManager(db), log: log}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.openSession)
			r.Get("/{id}", h.getSession)
			r.Post("/{id}/close", h.closeSession)
		})

		pr.Post("/sales", h.createSale)

		pr.Route("/reports", func(r chi.Router) {
			r.Get("/sales/daily", h.dailySales)
			r.Get("/fees", h.feeReconciliation)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type balanceRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := h.sessions.Open(r.Context(), userIDFromContext(r), req.Balance)
	switch {
	case errors.Is(err, session.ErrAlreadyOpen):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondJSON(w, http.StatusCreated, s)
	}
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	s, err := h.sessions.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load session")
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	var req balanceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := h.sessions.Close(r.Context(), id, req.Balance)
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrNotOpen):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, "unable to close session")
	default:
		respondJSON(w, http.StatusOK, s)
	}
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var req sale.Request
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.engine.ProcessSaleRetrying(r.Context(), req, saleAttempts)
	if err != nil {
		h.respondSaleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// respondSaleError maps engine failures onto status codes. Insufficient
// stock carries the entity and quantities so clients can show what is left.
func (h *Handler) respondSaleError(w http.ResponseWriter, err error) {
	var (
		insufficient *stock.InsufficientStockError
		missing      *stock.NotFoundError
		notFound     *recipe.NotFoundError
		cycle        *recipe.CycleError
		cfgErr       *fee.ConfigurationError
	)
	switch {
	case sale.IsValidation(err), errors.Is(err, fee.ErrUnknownMethod):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sale.ErrInvalidSession):
		respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &insufficient):
		respondJSON(w, http.StatusConflict, map[string]any{
			"error":       err.Error(),
			"entity_kind": insufficient.Kind,
			"entity_id":   insufficient.EntityID,
			"available":   insufficient.Available,
			"requested":   insufficient.Requested,
		})
	case errors.As(err, &missing), errors.As(err, &notFound):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &cycle), errors.Is(err, recipe.ErrMalformedItem):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &cfgErr):
		h.log.Error("fee configuration defect", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "payment fee configuration error")
	case sale.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "sale could not acquire stock locks, retry")
	default:
		h.log.Error("sale failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to process sale")
	}
}

// Reports
func (h *Handler) dailySales(w http.ResponseWriter, r *http.Request) {
	day := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	s, err := report.DailySales(r.Context(), h.db, day)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch daily sales")
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (h *Handler) feeReconciliation(w http.ResponseWriter, r *http.Request) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	from, to := today, today.AddDate(0, 0, 1)
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse("2006-01-02", raw); err != nil {
			respondError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse("2006-01-02", raw); err != nil {
			respondError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
	}
	if !to.After(from) {
		respondError(w, http.StatusBadRequest, "to must be after from")
		return
	}
	rec, err := report.FeeReconciliation(r.Context(), h.db, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to reconcile fees")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"from":         rec.From.Format("2006-01-02"),
		"to":           rec.To.Format("2006-01-02"),
		"sale_fees":    rec.SaleFees,
		"fee_expenses": rec.FeeExpenses,
		"difference":   rec.Difference(),
		"balanced":     rec.Balanced(),
	})
}

func decodeJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
