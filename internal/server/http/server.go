package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rzbill/flume/internal/runtime"
	"github.com/rzbill/flume/internal/server/http/controllers"
	ingestsvc "github.com/rzbill/flume/internal/services/ingest"
)

// Server owns the HTTP listener and the ingest service behind it.
type Server struct {
	rt  *runtime.Runtime
	svc *ingestsvc.Service
	srv *http.Server
	lis net.Listener
}

// New constructs the server and its ingest pipelines. A destination that
// fails to build (bad schema, bad filter) fails here.
func New(rt *runtime.Runtime) (*Server, error) {
	svc, err := ingestsvc.New(rt)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	controllers.NewControllerRegistry(rt, svc).RegisterAllRoutes(mux)
	return &Server{rt: rt, svc: svc, srv: &http.Server{Handler: cors(mux)}}, nil
}

// ListenAndServe binds to addr and serves until ctx is done.
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

// Handler exposes the routed handler for in-process tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Close stops accepting connections.
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
