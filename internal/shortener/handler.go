package shortener

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"github.com/sundayezeilo/shortspace/internal/errx"
	"github.com/sundayezeilo/shortspace/internal/httpx"
)

const (
	CodeInvalidRequest = "invalid_request"

	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

// HTTPCreateLinkRequest represents the JSON request body for creating a link.
type HTTPCreateLinkRequest struct {
	URL        string `json:"url"`
	CustomSlug string `json:"custom_slug,omitempty"`
	Host       string `json:"host,omitempty"` // defaults to the request Host header
}

// LinkResponse represents a link in JSON responses.
type LinkResponse struct {
	ID             string `json:"id"`
	Slug           string `json:"slug"`
	ShortURL       string `json:"short_url"`
	DestinationURL string `json:"destination_url"`
	Namespace      string `json:"namespace"`
	Clicks         int64  `json:"clicks"`
	CreatedAt      string `json:"created_at"`
}

// NamespaceResponse describes a namespace for UIs that offer a host picker.
type NamespaceResponse struct {
	ID          string   `json:"id"`
	Hosts       []string `json:"hosts"`
	SlugPrefix  string   `json:"slug_prefix,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Description string   `json:"description,omitempty"`
}

// HealthResponse is served on the health endpoint.
type HealthResponse struct {
	Status  string      `json:"status"`
	Service string      `json:"service,omitempty"`
	Version string      `json:"version,omitempty"`
	Store   string      `json:"store"`
	Clicks  *ClickStats `json:"clicks,omitempty"`
}

// Handler provides HTTP handlers for the URL shortener service.
type Handler struct {
	service     Service
	logger      *slog.Logger
	clickStats  func() ClickStats
	serviceName string
	version     string
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service     Service
	Logger      *slog.Logger
	ClickStats  func() ClickStats // optional, reported on health
	ServiceName string
	Version     string
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		service:     cfg.Service,
		logger:      logger,
		clickStats:  cfg.ClickStats,
		serviceName: cfg.ServiceName,
		version:     cfg.Version,
	}
}

// CreateLink handles POST requests to create a new short link.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	req, err := httpx.DecodeJSON[HTTPCreateLinkRequest](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request", "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), nil)
		return
	}

	host := req.Host
	if host == "" {
		host = r.Host
	}

	info, err := h.service.Create(ctx, CreateLinkRequest{
		Host:           host,
		DestinationURL: strings.TrimSpace(req.URL),
		DesiredSlug:    req.CustomSlug,
	})
	if err != nil {
		h.writeFailure(ctx, w, logger.With("target_host", host, "custom_slug", req.CustomSlug), err)
		return
	}

	logger.InfoContext(ctx, "link created successfully",
		"link_id", info.Link.ID.String(),
		"namespace", info.Link.NamespaceID,
		"slug", info.Link.Slug,
		"custom_slug", req.CustomSlug != "",
	)

	httpx.WriteJSON(w, http.StatusCreated, toLinkResponse(info))
}

// Redirect handles GET /{slug}: it answers 302 with the stored destination or
// a JSON error.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")
	logger := h.requestLogger(r).With("slug", slug)

	target, err := h.service.Redirect(ctx, r.Host, slug)
	out := OutcomeOf(target, err)
	if out.Kind != OutcomeRedirect {
		h.logOutcome(ctx, logger, out, err)
		httpx.WriteError(w, out.Status, out.Code, out.Message, nil)
		return
	}

	logger.InfoContext(ctx, "slug resolved successfully",
		"destination_url", target,
		"referer", r.Referer(),
	)
	http.Redirect(w, r, out.URL, out.Status)
}

// GetLink handles GET /api/links/{slug}.
func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")
	logger := h.requestLogger(r).With("slug", slug)

	info, err := h.service.Lookup(ctx, targetHost(r), slug)
	if err != nil {
		h.writeFailure(ctx, w, logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toLinkResponse(info))
}

// ListLinks handles GET /api/links, the newest links of the host's namespace.
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	infos, err := h.service.Recent(ctx, targetHost(r), limit)
	if err != nil {
		h.writeFailure(ctx, w, logger, err)
		return
	}

	resp := make([]LinkResponse, 0, len(infos))
	for _, info := range infos {
		resp = append(resp, toLinkResponse(info))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"links": resp})
}

// LinkQRCode handles GET /api/links/{slug}/qr and serves a PNG encoding the
// short URL.
func (h *Handler) LinkQRCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")
	logger := h.requestLogger(r).With("slug", slug)

	size := defaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < minQRSize || n > maxQRSize {
			httpx.WriteError(w, http.StatusBadRequest, CodeInvalidRequest,
				"size must be an integer between 64 and 1024", nil)
			return
		}
		size = n
	}

	info, err := h.service.Lookup(ctx, targetHost(r), slug)
	if err != nil {
		h.writeFailure(ctx, w, logger, err)
		return
	}

	png, err := qrcode.Encode(info.ShortURL, qrcode.Medium, size)
	if err != nil {
		h.writeFailure(ctx, w, logger, errx.E("shortener.Handler.LinkQRCode", errx.Internal, err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		logger.DebugContext(ctx, "failed to write qr code", "error", err.Error())
	}
}

// ListNamespaces handles GET /api/namespaces.
func (h *Handler) ListNamespaces(w http.ResponseWriter, _ *http.Request) {
	namespaces := h.service.Namespaces()
	resp := make([]NamespaceResponse, 0, len(namespaces))
	for _, ns := range namespaces {
		resp = append(resp, NamespaceResponse{
			ID:          ns.ID,
			Hosts:       ns.Hosts,
			SlugPrefix:  ns.SlugPrefix,
			DisplayName: ns.DisplayName,
			Description: ns.Description,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"namespaces": resp})
}

// Health reports store connectivity and click recorder counters.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := HealthResponse{
		Status:  "ok",
		Service: h.serviceName,
		Version: h.version,
		Store:   "ok",
	}
	if h.clickStats != nil {
		stats := h.clickStats()
		resp.Clicks = &stats
	}

	status := http.StatusOK
	if err := h.service.Ping(ctx); err != nil {
		h.requestLogger(r).WarnContext(ctx, "store ping failed", "error", err.Error())
		resp.Status = "degraded"
		resp.Store = "unreachable"
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, resp)
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(
		"request_id", httpx.GetRequestID(r.Context()),
		"method", r.Method,
		"host", r.Host,
		"path", r.URL.Path,
	)
}

func (h *Handler) writeFailure(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	out := OutcomeOf("", err)
	h.logOutcome(ctx, logger, out, err)
	httpx.WriteError(w, out.Status, out.Code, out.Message, nil)
}

// logOutcome logs failures at a level matching who is at fault: misses are
// routine, client mistakes are warnings, only server faults are errors.
func (h *Handler) logOutcome(ctx context.Context, logger *slog.Logger, out Outcome, err error) {
	attrs := []any{
		"error", err.Error(),
		"error_kind", errx.KindOf(err),
		"operation", errx.OpOf(err),
		"outcome", out.Kind.String(),
	}

	switch out.Kind {
	case OutcomeNotFound:
		logger.InfoContext(ctx, "short link not found", attrs...)
	case OutcomeInvalidInput, OutcomeConflict, OutcomeForbidden:
		logger.WarnContext(ctx, "request rejected", attrs...)
	default:
		if errors.Is(err, context.Canceled) {
			logger.InfoContext(ctx, "request canceled", attrs...)
			return
		}
		logger.ErrorContext(ctx, "request failed", attrs...)
	}
}

// targetHost lets API callers on one host inspect another namespace.
func targetHost(r *http.Request) string {
	if host := r.URL.Query().Get("host"); host != "" {
		return host
	}
	return r.Host
}

func toLinkResponse(info LinkInfo) LinkResponse {
	return LinkResponse{
		ID:             info.Link.ID.String(),
		Slug:           info.Link.Slug,
		ShortURL:       info.ShortURL,
		DestinationURL: info.Link.DestinationURL,
		Namespace:      info.Link.NamespaceID,
		Clicks:         info.Link.Clicks,
		CreatedAt:      info.Link.CreatedAt.UTC().Format(time.RFC3339),
	}
}
