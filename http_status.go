package dhtkit

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
)

const httpTimeoutsMs = 3000
const tokenHeader = "dhtkit-token"

// StatusServer serves sensor reports over HTTP.
type StatusServer struct {
	Addr  string
	Token string

	sensors map[string]*ClimateSensor
	order   []string
	server  *http.Server
}

func NewStatusServer(addr string, token string, sensors []*ClimateSensor) *StatusServer {
	ss := &StatusServer{
		Addr:    addr,
		Token:   token,
		sensors: make(map[string]*ClimateSensor),
	}
	for _, cs := range sensors {
		ss.sensors[cs.Id] = cs
		ss.order = append(ss.order, cs.Id)
	}
	return ss
}

func (ss *StatusServer) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/sensors", ss.authorized(ss.handleList))
	router.GET("/sensors/:id", ss.authorized(ss.handleGet))
	router.POST("/sensors/:id/reset", ss.authorized(ss.handleReset))
	return router
}

func (ss *StatusServer) authorized(handle httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if len(ss.Token) > 0 && r.Header.Get(tokenHeader) != ss.Token {
			http.Error(w, "token mismatch", http.StatusUnauthorized)
			return
		}
		handle(w, r, p)
	}
}

func writeJson(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (ss *StatusServer) handleList(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	reports := make([]Report, 0, len(ss.order))
	for _, id := range ss.order {
		reports = append(reports, ss.sensors[id].Report())
	}
	writeJson(w, http.StatusOK, reports)
}

func (ss *StatusServer) handleGet(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	cs, found := ss.sensors[p.ByName("id")]
	if !found {
		http.Error(w, "sensor not found", http.StatusNotFound)
		return
	}
	writeJson(w, http.StatusOK, cs.Report())
}

func (ss *StatusServer) handleReset(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	cs, found := ss.sensors[p.ByName("id")]
	if !found {
		http.Error(w, "sensor not found", http.StatusNotFound)
		return
	}
	cs.Reset()
	writeJson(w, http.StatusOK, cs.Report())
}

// ListenAndServe blocks until ctx is done or the server fails.
func (ss *StatusServer) ListenAndServe(ctx context.Context) error {
	httpTimeout := httpTimeoutsMs * time.Millisecond

	ss.server = &http.Server{
		Addr:              ss.Addr,
		Handler:           ss.Handler(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- ss.server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return errors.Wrapf(err, "status server on %s", ss.Addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		return ss.server.Shutdown(shutdownCtx)
	}
}
