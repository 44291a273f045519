package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tablestore/internal/api"
	"tablestore/internal/wal"
)

// RequestIDHeader carries the request id over HTTP.
const RequestIDHeader = "X-Request-Id"

const maxBodyBytes = 1 << 20

// Gateway serves the HTTP routes of a TableStore service.
type Gateway struct {
	service api.TableStoreServer
	ready   func() bool
	logger  *log.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithReadiness makes /health report 503 until ready returns true.
func WithReadiness(ready func() bool) Option {
	return func(g *Gateway) { g.ready = ready }
}

// WithLogger sets the gateway logger.
func WithLogger(logger *log.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// New creates a gateway in front of service.
func New(service api.TableStoreServer, opts ...Option) *Gateway {
	g := &Gateway{
		service: service,
		ready:   func() bool { return true },
		logger:  log.New(os.Stderr, "[gateway] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler returns the HTTP handler for every route.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register_table", g.handleRegisterTable)
	mux.HandleFunc("POST /create", g.handleCreate)
	mux.HandleFunc("GET /read/{table}/{pkey}/{skey}", g.handleRead)
	mux.HandleFunc("DELETE /delete/{table}/{pkey}/{skey}", g.handleDelete)
	mux.HandleFunc("GET /exists/{table}/{pkey}/{skey}", g.handleExists)
	mux.HandleFunc("GET /fetch", g.handleFetch)
	mux.HandleFunc("GET /status", g.handleStatus)
	mux.HandleFunc("GET /health", g.handleHealth)
	return g.withRequestID(mux)
}

func (g *Gateway) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := api.WithRequestID(r.Context(), r.Header.Get(RequestIDHeader))
		w.Header().Set(RequestIDHeader, api.RequestID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gateway) handleRegisterTable(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterTableRequest
	if !g.decode(w, r, &req) {
		return
	}
	resp, err := g.service.RegisterTable(r.Context(), &req)
	if err != nil {
		g.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (g *Gateway) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateRequest
	if !g.decode(w, r, &req) {
		return
	}
	resp, err := g.service.Create(r.Context(), &req)
	if err != nil {
		g.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func itemFromPath(r *http.Request) *api.ItemRequest {
	return &api.ItemRequest{
		TableName:    r.PathValue("table"),
		PartitionKey: r.PathValue("pkey"),
		SortKey:      r.PathValue("skey"),
	}
}

func (g *Gateway) handleRead(w http.ResponseWriter, r *http.Request) {
	resp, err := g.service.Read(r.Context(), itemFromPath(r))
	if err != nil {
		g.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	resp, err := g.service.Delete(r.Context(), itemFromPath(r))
	if err != nil {
		g.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleExists(w http.ResponseWriter, r *http.Request) {
	resp, err := g.service.Exists(r.Context(), itemFromPath(r))
	if err != nil {
		g.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFetch returns the records as a bare JSON array.
func (g *Gateway) handleFetch(w http.ResponseWriter, r *http.Request) {
	var from uint64
	if s := r.URL.Query().Get("from_offset"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid from_offset"})
			return
		}
		from = n
	}

	resp, err := g.service.Fetch(r.Context(), &api.FetchRequest{FromOffset: from})
	if err != nil {
		g.writeError(w, err)
		return
	}
	records := resp.Records
	if records == nil {
		records = []wal.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := g.service.Status(r.Context(), &api.StatusRequest{})
	if err != nil {
		g.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !g.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into v, answering 400 on failure.
func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON"})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

// HTTPStatus maps a service error to an HTTP status code.
func HTTPStatus(err error) int {
	switch status.Code(err) {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	code := HTTPStatus(err)
	msg := err.Error()
	if st, ok := status.FromError(err); ok {
		msg = st.Message()
	}
	if code >= http.StatusInternalServerError {
		g.logger.Printf("request failed: %v", err)
	}
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
