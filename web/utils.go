package web

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// CustomResponseWriter allows to store current status code of ResponseWriter.
type CustomResponseWriter struct {
	http.ResponseWriter
	Status int
}

func (w *CustomResponseWriter) WriteHeader(statusCode int) {
	// set w.Status then forward to inner ResposeWriter
	w.Status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Hijack forwards to the inner ResponseWriter, websocket upgrades need it.
func (w *CustomResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("inner ResponseWriter doesn't implement http.Hijacker")
	}
	return h.Hijack()
}

func NilHandler(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte{})
}

func WrapCustomRW(wr http.ResponseWriter) http.ResponseWriter {
	if _, ok := wr.(*CustomResponseWriter); !ok {
		return &CustomResponseWriter{
			ResponseWriter: wr,
			Status:         http.StatusOK, // defaults to ok, some handlers never call WriteHeader
		}
	}
	return wr
}

// Logger logs each request served by handler at debug level,
// or info level when verbose.
func Logger(handler http.Handler, name string, verbose bool, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		w = WrapCustomRW(w)
		handler.ServeHTTP(w, r)
		ev := log.Debug()
		if verbose {
			ev = log.Info()
		}
		ev.Str("handler", name).
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Int("status", w.(*CustomResponseWriter).Status).
			Str("remote", r.RemoteAddr).
			Str("agent", r.Header.Get("User-Agent")).
			Dur("took", time.Since(t0)).
			Msg("http")
	})
}
