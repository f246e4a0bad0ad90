package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	appcases "github.com/bryanwahyu/casegate/internal/application/cases"
	domain "github.com/bryanwahyu/casegate/internal/domain/cases"
	"github.com/bryanwahyu/casegate/internal/middleware"
)

const (
	maxJSONBody = 64 << 10
	// room for multipart boundaries and the text fields on top of the image
	multipartOverhead = 64 << 10
)

// Options wires the optional pieces of the router
type Options struct {
	APIKey         string
	AllowedOrigins []string
	// MaxUploadBytes bounds the whole submit body; the image ceiling itself is
	// enforced by the case service.
	MaxUploadBytes int64
	StaleAfter     time.Duration

	Limiter        *middleware.RateLimiter
	Metrics        *middleware.MetricsBuilder
	MetricsHandler http.Handler
	Checks         map[string]middleware.HealthChecker
}

type Router struct {
	cases *appcases.Service
	opts  Options
}

func NewRouter(svc *appcases.Service, opts Options) http.Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = appcases.DefaultMaxUploadBytes
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	r := &Router{cases: svc, opts: opts}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID, chimw.RealIP, middleware.LoggingMiddleware, chimw.Recoverer)
	if opts.Metrics != nil {
		mux.Use(opts.Metrics.Build())
	}

	mux.Get("/health", middleware.LivenessHandler)

	mux.Group(func(pub chi.Router) {
		pub.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
		if opts.Limiter != nil {
			pub.Use(opts.Limiter.Middleware)
		}
		pub.Post("/submit_case", r.wrap(r.handleSubmit, true))
		pub.Get("/result/{id}", r.wrap(r.handleResult, true))
		// preflight only reaches the cors handler through a matched route
		pub.Options("/submit_case", noContent)
		pub.Options("/result/{id}", noContent)
	})

	mux.Route("/internal", func(in chi.Router) {
		in.Use(middleware.APIKeyAuth(opts.APIKey))
		in.Post("/claim", r.wrap(r.handleClaim, false))
		in.Post("/confirm", r.wrap(r.handleConfirm, false))
		in.Post("/abort", r.wrap(r.handleAbort, false))
		in.Post("/result", r.wrap(r.handleUpdateResult, false))
		in.Post("/sweep", r.wrap(r.handleSweep, false))
		in.Get("/stats", r.wrap(r.handleStats, false))
		in.Get("/healthz", middleware.HealthHandler(opts.Checks))
		if opts.MetricsHandler != nil {
			in.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
		}
	})

	return mux
}

func noContent(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

type handlerFunc func(http.ResponseWriter, *http.Request) error

// statusOf maps the case error taxonomy onto HTTP
func statusOf(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig), errors.Is(err, domain.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrReceiptMismatch):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrResultRecorded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrQuarantined):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// wrap renders handler errors. Public responses never echo internal detail.
func (r *Router) wrap(h handlerFunc, public bool) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		code := statusOf(err)
		if code == http.StatusInternalServerError {
			log.Printf("error: method=%s path=%s err=%v", req.Method, req.URL.Path, err)
		}
		msg := err.Error()
		if public {
			switch code {
			case http.StatusBadRequest:
			case http.StatusNotFound:
				msg = "not found"
			case http.StatusRequestEntityTooLarge:
				msg = "image too large"
			default:
				msg = "error"
			}
		}
		http.Error(w, msg, code)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, req *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxJSONBody)).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func caseID(raw string) (domain.ID, error) {
	if err := middleware.ValidateCaseID(raw); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return domain.ID(raw), nil
}

//
// ==== PUBLIC ====
//

// POST /submit_case
// multipart: name, phone, handle, image. Text fields must precede the image
// so the image can be streamed straight to disk.
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, r.opts.MaxUploadBytes+multipartOverhead)
	mr, err := req.MultipartReader()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	fields := map[string]string{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return fmt.Errorf("%w: image is required", domain.ErrInvalidInput)
		}
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return err
			}
			return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}

		switch name := part.FormName(); name {
		case "name", "phone", "handle":
			b, err := io.ReadAll(io.LimitReader(part, middleware.MaxFieldLen*4+1))
			part.Close()
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
			}
			v := middleware.SanitizeString(string(b))
			if err := middleware.ValidateField(name, v); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
			}
			fields[name] = v
		case "image":
			defer part.Close()
			id, err := r.cases.Submit(req.Context(), appcases.SubmitCommand{
				Name:   fields["name"],
				Phone:  fields["phone"],
				Handle: fields["handle"],
				Image:  part,
			})
			if err != nil {
				return err
			}
			return writeJSON(w, http.StatusOK, map[string]string{
				"id":      string(id),
				"message": "case received",
			})
		default:
			part.Close()
		}
	}
}

// GET /result/{id}
func (r *Router) handleResult(w http.ResponseWriter, req *http.Request) error {
	id, err := caseID(chi.URLParam(req, "id"))
	if err != nil {
		return domain.ErrNotFound
	}
	view, err := r.cases.Result(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, view)
}

//
// ==== INTERNAL ====
//

type receiptBody struct {
	ID      string `json:"id"`
	Receipt string `json:"receipt"`
	Reason  string `json:"reason,omitempty"`
}

type resultBody struct {
	ID           string   `json:"id"`
	Receipt      string   `json:"receipt"`
	AILevel      *int     `json:"ai_level"`
	AIProb       *float64 `json:"ai_prob"`
	AISuggestion string   `json:"ai_suggestion"`
}

type statusResponse struct {
	Status   string   `json:"status"`
	Already  bool     `json:"already_confirmed,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// POST /internal/claim
func (r *Router) handleClaim(w http.ResponseWriter, req *http.Request) error {
	res, err := r.cases.Claim(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// POST /internal/confirm {"id","receipt"}
func (r *Router) handleConfirm(w http.ResponseWriter, req *http.Request) error {
	var body receiptBody
	if err := decodeJSON(w, req, &body); err != nil {
		return err
	}
	id, err := caseID(body.ID)
	if err != nil {
		return err
	}
	res, err := r.cases.Confirm(req.Context(), id, body.Receipt)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Already: res.Already, Warnings: res.Warnings})
}

// POST /internal/abort {"id","receipt","reason"}
func (r *Router) handleAbort(w http.ResponseWriter, req *http.Request) error {
	var body receiptBody
	if err := decodeJSON(w, req, &body); err != nil {
		return err
	}
	id, err := caseID(body.ID)
	if err != nil {
		return err
	}
	if err := r.cases.Abort(req.Context(), id, body.Receipt, middleware.SanitizeString(body.Reason)); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// POST /internal/result {"id","receipt","ai_level","ai_prob","ai_suggestion"}
func (r *Router) handleUpdateResult(w http.ResponseWriter, req *http.Request) error {
	var body resultBody
	if err := decodeJSON(w, req, &body); err != nil {
		return err
	}
	id, err := caseID(body.ID)
	if err != nil {
		return err
	}
	if body.AILevel == nil || body.AIProb == nil {
		return fmt.Errorf("%w: ai_level and ai_prob are required", domain.ErrInvalidInput)
	}
	a := domain.Assessment{
		Level:      *body.AILevel,
		Prob:       *body.AIProb,
		Suggestion: strings.TrimSpace(body.AISuggestion),
	}
	if err := r.cases.UpdateResult(req.Context(), id, body.Receipt, a); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// POST /internal/sweep {"older_than":"30m"} (body optional)
func (r *Router) handleSweep(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		OlderThan string `json:"older_than"`
	}
	if req.ContentLength != 0 {
		if err := decodeJSON(w, req, &body); err != nil {
			return err
		}
	}
	olderThan := r.opts.StaleAfter
	if body.OlderThan != "" {
		d, err := time.ParseDuration(body.OlderThan)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: older_than must be a positive duration", domain.ErrInvalidInput)
		}
		olderThan = d
	}
	if olderThan <= 0 {
		return fmt.Errorf("%w: no lease duration configured", domain.ErrInvalidInput)
	}
	n, err := r.cases.SweepStale(req.Context(), olderThan)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]int{"swept": n})
}

// GET /internal/stats
func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) error {
	d, err := r.cases.Depth(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, d)
}
