// Package web is the liveness responder: a tiny HTTP server whose only
// job is to answer uptime pings so the hosting platform keeps the
// process awake. It deliberately knows nothing about gateway state —
// it attests that the process is alive, not that the gateway is
// connected.
package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

const aliveBody = "alive\n"

type Server struct {
	addr string
	srv  *http.Server
}

func New(host string, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		addr: fmt.Sprintf("%s:%d", host, port),
	}
	mux.HandleFunc("/", s.handleAlive)
	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleAlive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, aliveBody)
}

// ListenAndServe binds the listener and serves until ctx is cancelled.
// A bind failure is returned immediately so the caller can report it;
// the gateway keeps running either way.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("liveness responder: bind %s: %w", s.addr, err)
	}
	log.Printf("liveness responder listening on %s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
