// Package dummy runs a local target for exercising the engine: HTTP
// endpoints with controlled latency and failure behavior, plus TCP and UDP
// echo responders for the socket probes.
package dummy

import (
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

type ServerConfig struct {
	HTTPPort int
	TCPPort  int
	UDPPort  int

	// LimitedRPS is the request budget per second for /limited before it
	// starts answering 429.
	LimitedRPS int
}

type Server struct {
	cfg ServerConfig
	log *zap.Logger

	http *http.Server
	tcp  net.Listener
	udp  net.PacketConn
}

func New(cfg ServerConfig, log *zap.Logger) *Server {
	if cfg.LimitedRPS <= 0 {
		cfg.LimitedRPS = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{cfg: cfg, log: log}
}

// Start brings up all three listeners and returns immediately.
func (s *Server) Start() error {
	if err := s.startHTTP(); err != nil {
		return err
	}
	if err := s.startTCP(); err != nil {
		s.Stop()
		return err
	}
	if err := s.startUDP(); err != nil {
		s.Stop()
		return err
	}
	return nil
}

func (s *Server) Stop() {
	if s.http != nil {
		s.http.Close()
	}
	if s.tcp != nil {
		s.tcp.Close()
	}
	if s.udp != nil {
		s.udp.Close()
	}
}

func (s *Server) startHTTP() error {
	mux := http.NewServeMux()

	// Fast endpoint (10-50ms)
	mux.HandleFunc("/fast", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(rand.Intn(40)+10) * time.Millisecond)
		w.Write([]byte("fast response"))
	})

	// Slow endpoint (1-2s), good for timeout and latency-threshold testing
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(rand.Intn(1000)+1000) * time.Millisecond)
		w.Write([]byte("slow response"))
	})

	// Error endpoint: random 500s
	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		if rand.Float32() < 0.3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("internal error"))
			return
		}
		w.Write([]byte("ok"))
	})

	// Rate-limited endpoint: a simple per-second budget, then 429s with
	// rate-limit headers. Exercises the controller's backoff path.
	var (
		mu     sync.Mutex
		window time.Time
		used   int
	)
	mux.HandleFunc("/limited", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		now := time.Now()
		if now.Sub(window) >= time.Second {
			window = now
			used = 0
		}
		used++
		over := used > s.cfg.LimitedRPS
		remaining := s.cfg.LimitedRPS - used
		if remaining < 0 {
			remaining = 0
		}
		mu.Unlock()

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", s.cfg.LimitedRPS))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		if over {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("too many requests"))
			return
		}
		w.Write([]byte("ok"))
	})

	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.HTTPPort),
		Handler: mux,
	}

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}

	s.log.Info("dummy HTTP server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Strings("endpoints", []string{"/fast", "/slow", "/error", "/limited"}))

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("dummy HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) startTCP() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.TCPPort))
	if err != nil {
		return err
	}
	s.tcp = ln
	s.log.Info("dummy TCP echo listening", zap.String("addr", ln.Addr().String()))

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 1024)
				n, err := c.Read(buf)
				if err != nil {
					return
				}
				c.Write(buf[:n])
			}(conn)
		}
	}()
	return nil
}

func (s *Server) startUDP() error {
	pc, err := net.ListenPacket("udp", fmt.Sprintf(":%d", s.cfg.UDPPort))
	if err != nil {
		return err
	}
	s.udp = pc
	s.log.Info("dummy UDP echo listening", zap.String("addr", pc.LocalAddr().String()))

	go func() {
		buf := make([]byte, 1024)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			pc.WriteTo(buf[:n], addr)
		}
	}()
	return nil
}
