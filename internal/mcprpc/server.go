package mcprpc

import (
	"bufio"
	"io"
	"log/slog"
	"os"

	"reposcope/internal/audit"
	"reposcope/internal/bm25"
	"reposcope/internal/bundler"
	"reposcope/internal/config"
	"reposcope/internal/index"
	"reposcope/internal/references"
	"reposcope/internal/sandbox"
	"reposcope/internal/symbols"
)

// Server is the single-process, single-repo RPC loop: one Index Store, one
// audit log writer, one Sandbox, shared across every tool call. There is no
// per-request goroutine; requests are served strictly in arrival order,
// which is what makes repeated identical calls deterministic.
type Server struct {
	stdin  io.Reader
	stdout io.Writer

	sb       *sandbox.Sandbox
	cfg      *config.Config
	store    *index.Store
	search   *bm25.Engine
	registry *symbols.Registry
	refs     *references.Engine
	bundler  *bundler.Builder
	auditLog *audit.Writer
	logger   *slog.Logger

	tools map[string]toolFunc
}

// New assembles a Server over an already-opened index store and sandbox.
func New(sb *sandbox.Sandbox, cfg *config.Config, store *index.Store, auditLog *audit.Writer, logger *slog.Logger) *Server {
	registry := symbols.NewRegistry()
	s := &Server{
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		sb:       sb,
		cfg:      cfg,
		store:    store,
		search:   bm25.New(store, sb),
		registry: registry,
		refs:     references.New(sb, cfg.Discovery),
		bundler:  bundler.New(sb, store, cfg),
		auditLog: auditLog,
		logger:   logger,
	}
	s.tools = s.buildToolset()
	return s
}

// SetIO overrides stdin/stdout, used by tests.
func (s *Server) SetIO(stdin io.Reader, stdout io.Writer) {
	s.stdin = stdin
	s.stdout = stdout
}

// Serve runs the read-dispatch-write loop until stdin is exhausted.
func (s *Server) Serve() error {
	scanner := bufio.NewScanner(s.stdin)
	scanner.Buffer(make([]byte, MaxMessageSize), MaxMessageSize)

	for {
		req, err := readRequest(scanner)
		if err != nil {
			if err == io.EOF {
				s.logger.Info("stdin closed, shutting down")
				return nil
			}
			s.logger.Error("failed to read request", "error", err.Error())
			continue
		}

		resp := s.handle(req)
		if err := writeResponse(s.stdout, resp); err != nil {
			s.logger.Error("failed to write response", "error", err.Error())
		}
	}
}
