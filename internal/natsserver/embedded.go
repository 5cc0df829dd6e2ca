// Package natsserver runs the bus broker inside the node process, so a
// single binary serves installations without external infrastructure.
package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/aloudlabs/aloud-core/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// Server is the in-process broker. A nil Server is valid and means the
// node talks to an external bus instead.
type Server struct {
	ns  *server.Server
	log *slog.Logger
}

// Start launches the embedded broker when the config asks for one and
// blocks until it accepts connections. JetStream is on; status events and
// chat traffic from other devices persist across restarts.
func Start(cfg config.BusConfig, logger *slog.Logger) (*Server, error) {
	if !cfg.Embedded {
		return nil, nil
	}
	log := logger.With(slog.String("component", "embedded-bus"))

	opts := &server.Options{
		Host:      "0.0.0.0",
		Port:      cfg.Port,
		JetStream: true,
		StoreDir:  cfg.StoreDir,
		NoSigs:    true,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("build embedded bus: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded bus not ready after %s", readyTimeout)
	}

	log.Info("embedded bus ready",
		slog.Int("port", cfg.Port),
		slog.String("store_dir", cfg.StoreDir))
	return &Server{ns: ns, log: log}, nil
}

// ClientURL reports the address clients should dial, resolving the real
// port when the broker was started with a random one. Empty on nil.
func (s *Server) ClientURL() string {
	if s == nil || s.ns == nil {
		return ""
	}
	return s.ns.ClientURL()
}

// Shutdown stops the broker and waits for it to wind down. Safe on nil.
func (s *Server) Shutdown() {
	if s == nil || s.ns == nil {
		return
	}
	s.log.Info("stopping embedded bus")
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
