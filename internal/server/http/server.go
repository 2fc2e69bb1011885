package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/orderpipe/orderpipe/internal/queue"
	"github.com/orderpipe/orderpipe/internal/runtime"
)

type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener
}

func New(rt *runtime.Runtime) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/orders/publish", s.handlePublish)
	mux.HandleFunc("/v1/orders/get", s.handleOrderGet)
	mux.HandleFunc("/v1/queues/stats", s.handleStats)
	mux.HandleFunc("/v1/queues/inspect", s.handleInspect)
	mux.HandleFunc("/v1/queues/requeue", s.handleRequeue)
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_serving"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handlePublish accepts a raw order event body and fans it out to every
// subscribed queue.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 || !json.Valid(body) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.rt.Publisher().Publish(r.Context(), body); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleOrderGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	record, found, err := s.rt.Orders().Get(r.Context(), orderID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(record)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var out []queue.Stats
	for _, name := range s.rt.QueueNames() {
		q, err := s.rt.Queue(name)
		if err != nil {
			continue
		}
		st, err := q.Stats(0)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		out = append(out, st)
	}
	_ = json.NewEncoder(w).Encode(out)
}

// handleInspect lists queue messages without leasing them. An optional CEL
// filter expression narrows the result.
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q, err := s.rt.Queue(r.URL.Query().Get("queue"))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	opts := queue.InspectOptions{
		Filter:        r.URL.Query().Get("filter"),
		IncludeParked: r.URL.Query().Get("parked") == "true",
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	msgs, err := q.Inspect(r.Context(), opts, 0)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(msgs)
}

type requeueReq struct {
	Queue string `json:"queue"`
	ID    string `json:"id"`
	To    string `json:"to"`
}

// handleRequeue moves one message, live or parked, from a source queue onto
// a destination queue with fresh delivery state.
func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req requeueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	src, err := s.rt.Queue(req.Queue)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	dst, err := s.rt.Queue(req.To)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := src.Requeue(r.Context(), req.ID, dst, 0); err != nil {
		if err == queue.ErrNotFound {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
