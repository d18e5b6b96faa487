// Package track exposes the public tracking endpoints. Every handler obeys
// one contract: the response the recipient's mail client or browser sees is
// the same whether recording worked, failed, or the token was garbage. A
// broken pixel or redirect would itself reveal that the email is
// instrumented.
package track

import (
	"context"
	_ "embed"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/ignite/phishtrack/internal/pkg/httputil"
	"github.com/ignite/phishtrack/internal/pkg/logger"
	"github.com/ignite/phishtrack/internal/recorder"
	"github.com/ignite/phishtrack/internal/token"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

//go:embed beacon.js
var beaconJS []byte

// maxSubmitBody caps the submit beacon's JSON body. The whitelisted meta is
// tiny; anything bigger is junk or an exfiltration attempt.
const maxSubmitBody = 4 << 10

// Recorder is the interaction engine the handlers delegate to.
type Recorder interface {
	Record(ctx context.Context, tok string, kind recorder.EventKind, meta recorder.Meta) error
}

// Handler serves the tracking endpoints.
type Handler struct {
	rec     Recorder
	pub     *Publisher
	webBase *url.URL
}

// NewHandler creates the tracking handler. webBase is the site's public
// base URL; relative click targets resolve against it and it is the safe
// redirect default. pub may be nil to disable event fan-out.
func NewHandler(rec Recorder, webBase string, pub *Publisher) (*Handler, error) {
	base, err := url.Parse(strings.TrimRight(webBase, "/") + "/")
	if err != nil {
		return nil, err
	}
	return &Handler{rec: rec, pub: pub, webBase: base}, nil
}

// Routes mounts the tracking endpoints. The submit and report beacons run
// from landing pages that may live on lookalike domains, so those routes
// allow cross-origin calls.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(Contain)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	r.Get("/t/o/{token}.gif", h.HandleOpen)
	r.Get("/t/c/{token}", h.HandleClick)
	r.Post("/t/s/{token}", h.HandleSubmit)
	r.Get("/t/r/{token}", h.HandleReport)
	r.Get("/t/beacon.js", h.HandleBeaconScript)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen serves the open pixel. The pixel goes out no matter what.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	h.attempt(r, tok, recorder.KindOpened, nil)
	h.servePixel(w)
}

// HandleClick records the click and forwards the recipient to the original
// destination. Missing or unusable targets land on the web base rather
// than an error page.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	h.attempt(r, tok, recorder.KindClicked, nil)
	http.Redirect(w, r, h.resolveTarget(r.URL.Query().Get("u")), http.StatusFound)
}

// submitRequest is the only shape the submit beacon may send. Field values
// from the phished form never appear here.
type submitRequest struct {
	PageSlug string `json:"pageSlug"`
}

// HandleSubmit acknowledges a form submission beacon. 404 only when the
// token is structurally not a token at all; an unknown-but-well-formed
// token still gets {ok:true} so probing cannot distinguish live tokens.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	if !token.Valid(tok) {
		httputil.JSON(w, http.StatusNotFound, map[string]bool{"ok": false})
		return
	}

	var req submitRequest
	body := http.MaxBytesReader(w, r.Body, maxSubmitBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		// Malformed body still counts as a submission signal.
		req.PageSlug = ""
	}

	meta := recorder.Meta{"submitted": true}
	if req.PageSlug != "" {
		meta["pageSlug"] = req.PageSlug
	}
	h.attempt(r, tok, recorder.KindSubmitted, meta)
	httputil.OK(w, map[string]bool{"ok": true})
}

// HandleReport records that the recipient reported the email as phishing.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	h.attempt(r, tok, recorder.KindReported, nil)
	httputil.NoContent(w)
}

// HandleBeaconScript serves the landing-page beacon.
func (h *Handler) HandleBeaconScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(beaconJS)
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// attempt runs the recording step with full error containment: storage
// failures and panics are logged and swallowed so the caller's response
// path stays unconditional. Each parsed hit is also fanned out to the
// events queue for downstream reporting.
func (h *Handler) attempt(r *http.Request, tok string, kind recorder.EventKind, meta recorder.Meta) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic during recording", "kind", string(kind), "panic", rec)
		}
	}()

	if err := h.rec.Record(r.Context(), tok, kind, meta); err != nil {
		logger.Warn("recording failed",
			"kind", string(kind),
			"token", tok,
			"error", err.Error(),
		)
		return
	}

	logger.Info("tracking hit",
		"kind", string(kind),
		"token", tok,
		"ip", realIP(r),
	)

	if h.pub != nil {
		h.pub.Publish(r.Context(), Event{
			Kind:       kind,
			Token:      tok,
			Meta:       recorder.SanitizeMeta(meta),
			IPAddress:  realIP(r),
			UserAgent:  r.UserAgent(),
			OccurredAt: time.Now().UTC(),
		})
	}
}

// resolveTarget turns the raw u parameter into a safe absolute redirect.
// Absolute http(s) URLs pass through; relative paths resolve against the
// web base (email clients have no origin to resolve against); everything
// else falls back to the web base root.
func (h *Handler) resolveTarget(raw string) string {
	if raw == "" {
		return h.webBase.String()
	}
	u, err := url.Parse(raw)
	if err != nil {
		return h.webBase.String()
	}
	switch {
	case u.Scheme == "http" || u.Scheme == "https":
		return u.String()
	case u.Scheme == "" && u.Host == "":
		return h.webBase.ResolveReference(u).String()
	default:
		// javascript:, data:, file: and friends never pass through.
		return h.webBase.String()
	}
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Content-Length", strconv.Itoa(len(pixelGIF)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
