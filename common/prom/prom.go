// Package prom serves the prometheus metrics and the json shard status of
// a running node.
package prom

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("p", "prom")

// Server listens on the first free port of PortRange
type Server struct {
	Host      string
	PortRange string

	// StatusFunc returns the value served as json on /status
	StatusFunc func() interface{}

	listener net.Listener
	srv      *http.Server
}

func NewServer(host, portRange string, status func() interface{}) *Server {
	return &Server{
		Host:       host,
		PortRange:  portRange,
		StatusFunc: status,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.StatusFunc == nil {
		http.Error(w, "no status available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	err := jsoniter.NewEncoder(w).Encode(s.StatusFunc())
	if err != nil {
		logger.WithError(err).Error("failed encoding status")
	}
}

// Listen binds the first port in the range that is free
func (s *Server) Listen() error {
	ports, err := ParseRange(s.PortRange)
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		return errors.NewPlain("no ports to listen on")
	}

	for _, p := range ports {
		listenAddr := net.JoinHostPort(s.Host, strconv.Itoa(p))
		logger.Infof("Attempting to start prom server on %s", listenAddr)

		l, err := net.Listen("tcp", listenAddr)
		if err != nil {
			logger.WithError(err).Warn("failed starting prom server, trying another port")
			continue
		}

		s.listener = l
		return nil
	}

	return errors.Errorf("no free port in range %s", s.PortRange)
}

// Addr returns the bound address, nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run serves until ctx is done, Listen is called first if needed
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	err := s.srv.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ParseRange parses "6001-6100" or a single port
func ParseRange(in string) ([]int, error) {
	in = strings.TrimSpace(in)
	if in == "" {
		return nil, nil
	}

	if !strings.Contains(in, "-") {
		n, err := strconv.Atoi(in)
		if err != nil {
			return nil, errors.WithStackIf(err)
		}

		return []int{n}, nil
	}

	split := strings.SplitN(in, "-", 2)
	parsedStart, err := strconv.Atoi(split[0])
	if err != nil {
		return nil, errors.WithStackIf(err)
	}

	parsedEnd, err := strconv.Atoi(split[1])
	if err != nil {
		return nil, errors.WithStackIf(err)
	}

	if parsedEnd < parsedStart {
		return nil, errors.Errorf("invalid port range %q", in)
	}

	result := make([]int, 0, parsedEnd-parsedStart+1)
	for i := parsedStart; i <= parsedEnd; i++ {
		result = append(result, i)
	}

	return result, nil
}
