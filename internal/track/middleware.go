package track

import (
	"net/http"

	"github.com/ignite/phishtrack/internal/pkg/logger"
)

// Contain is the outermost guard on every tracking route: if a handler
// panics before writing anything, the client still gets a 200 instead of
// the default 500. Recording errors never get this far (the handlers
// swallow them); this catches programming errors in the response path
// itself.
func Contain(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cw := &containedWriter{ResponseWriter: w}
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic in tracking handler", "path", r.URL.Path, "panic", rec)
				if !cw.wrote {
					cw.WriteHeader(http.StatusOK)
				}
			}
		}()
		next.ServeHTTP(cw, r)
	})
}

type containedWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *containedWriter) WriteHeader(status int) {
	w.wrote = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *containedWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}
