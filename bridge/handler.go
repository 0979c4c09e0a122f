package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/mcpgate/mcpgate/internal/logctx"
	"github.com/mcpgate/mcpgate/oauth"
)

const maxRequestBody = 4 << 20

var jsonMediaType = contenttype.NewMediaType("application/json")

// Handler is the bridge's HTTP entry point. It owns routing, CORS,
// request-scoped logging context, the bearer gate and the backend
// runner.
type Handler struct {
	cfg      Config
	auth     *oauth.Server
	callback http.Handler
	log      *slog.Logger
	mux      *http.ServeMux
}

// Option customizes a Handler.
type Option func(*Handler)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithCallbackHandler mounts the federated identity provider callback
// at /oauth/entra/callback. Without it the route answers 404.
func WithCallbackHandler(cb http.Handler) Option {
	return func(h *Handler) {
		h.callback = cb
	}
}

// New builds the bridge Handler around an authorization server.
func New(cfg Config, auth *oauth.Server, opts ...Option) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, fmt.Errorf("bridge: authorization server is required")
	}

	h := &Handler{
		cfg:  cfg,
		auth: auth,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleRoot)
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/.well-known/oauth-authorization-server", h.auth.HandleMetadata)
	mux.HandleFunc("/oauth/authorize", h.auth.HandleAuthorize)
	mux.HandleFunc("/oauth/token", h.auth.HandleToken)
	mux.HandleFunc("/oauth/entra/callback", h.handleCallback)
	mux.HandleFunc("/mcp", h.handleMCP)
	h.mux = mux

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)

	if h.cfg.CORSAllowOrigin != "" {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", h.cfg.CORSAllowOrigin)
		hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		hdr.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		hdr.Set("Access-Control-Max-Age", "86400")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	// ServeMux routes every unregistered path here.
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "mcpgate: POST /mcp")
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if h.callback == nil {
		http.NotFound(w, r)
		return
	}
	h.callback.ServeHTTP(w, r)
}

func (h *Handler) handleMCP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := h.auth.Store().PurgeExpired(ctx); err != nil {
		h.log.ErrorContext(ctx, "store.purge.fail", slog.String("err", err.Error()))
	}

	if h.cfg.RequireAuth {
		rec, err := h.auth.ValidateBearer(r)
		if err != nil {
			h.log.ErrorContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			h.writeJSONError(w, http.StatusInternalServerError, "server_error")
			return
		}
		if rec == nil {
			h.log.InfoContext(ctx, "auth.check.unauthorized")
			issuer := h.auth.Issuer(r)
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(
				"Bearer realm=%q, resource_metadata=%q",
				issuer, issuer+"/.well-known/oauth-authorization-server"))
			h.writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	if ctype, err := contenttype.GetMediaType(r); err == nil && !ctype.Matches(jsonMediaType) {
		h.writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		h.writeJSONError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	h.log.InfoContext(ctx, "http.post.start", slog.Int("bytes", len(body)))

	stdout, runErr := h.runBackend(ctx, body)
	output := bytes.TrimSpace(stdout)

	if runErr != nil {
		h.log.ErrorContext(ctx, "backend.run.fail", slog.String("err", runErr.Error()))
		h.writeJSONError(w, http.StatusInternalServerError, "mcp_backend_failed")
		return
	}

	if len(output) == 0 {
		// Notifications get no reply lines, so an empty stdout with a
		// clean exit is the expected outcome for them.
		if notificationOnly(body) {
			h.log.InfoContext(ctx, "http.post.notification")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.log.ErrorContext(ctx, "backend.run.empty")
		h.writeJSONError(w, http.StatusInternalServerError, "mcp_backend_failed")
		return
	}

	h.log.InfoContext(ctx, "http.post.ok", slog.Int("bytes", len(output)))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(output)
	_, _ = w.Write([]byte("\n"))
}

func (h *Handler) writeJSONError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// notificationOnly reports whether every JSON-RPC message in the
// payload lacks an "id" member. Unparseable lines count as requests so
// the caller still surfaces backend silence as a failure.
func notificationOnly(payload []byte) bool {
	sawMessage := false
	for _, line := range bytes.Split(payload, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var msg map[string]json.RawMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return false
		}
		sawMessage = true
		if _, ok := msg["id"]; ok {
			return false
		}
	}
	return sawMessage
}
