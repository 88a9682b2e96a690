// Package control exposes the engine over JSON-RPC 2.0.
//
// The endpoint binds to loopback by default and requires a bearer token.
// An empty token disables the endpoint entirely.
package control

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"

	"postpulse/internal/publisher"
	"postpulse/internal/storage"
	logx "postpulse/pkg/logx"
)

// Custom JSON-RPC error codes for queue operations.
const (
	codePostNotFound  = jrpc2.Code(-32001)
	codeConstraint    = jrpc2.Code(-32002)
	codeInvalidParams = jrpc2.Code(-32602)
)

var errUnknownStatus = errors.New("unknown status")

// Config holds configuration for the JSON-RPC endpoint.
type Config struct {
	Enabled bool
	Addr    string // listen address; empty means 127.0.0.1:7399
	Token   string // auth token (required, empty means control disabled)
	Version string
}

// Server manages the JSON-RPC 2.0 bridge and method handlers.
type Server struct {
	cfg    Config
	pub    *publisher.Service
	log    logx.Logger
	bridge jhttp.Bridge

	mu      sync.Mutex
	httpSrv *http.Server
	ln      net.Listener
}

func NewServer(cfg Config, pub *publisher.Service, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7399"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, pub: pub, log: log}

	methods := handler.Map{
		"post.create":      handler.New(s.postCreate),
		"post.get":         handler.New(s.postGet),
		"post.list":        handler.New(s.postList),
		"post.update":      handler.New(s.postUpdate),
		"post.delete":      handler.New(s.postDelete),
		"slot.next":        handler.New(s.slotNext),
		"publish.now":      handler.New(s.publishNow),
		"publish.run":      handler.New(s.publishRun),
		"alarm.sync":       handler.New(s.alarmSync),
		"scheduler.pause":  handler.New(s.schedulerPause),
		"scheduler.resume": handler.New(s.schedulerResume),
		"status":           handler.New(s.status),
	}
	s.bridge = jhttp.NewBridge(methods, nil)
	return s
}

// Start binds the listener and serves the bridge. No-op when the control
// surface is disabled.
func (s *Server) Start() error {
	if !s.cfg.Enabled || s.cfg.Token == "" {
		s.log.Info("control endpoint disabled")
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc", requireToken(s.cfg.Token, s.bridge))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.mu.Lock()
	s.httpSrv = srv
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control server failed", logx.Err(err))
		}
	}()
	s.log.Info("control endpoint listening", logx.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts down the HTTP server and the jrpc2 bridge.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.ln = nil
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.bridge.Close()
	return err
}

// Handler exposes the authenticated bridge for in-process tests.
func (s *Server) Handler() http.Handler {
	return requireToken(s.cfg.Token, s.bridge)
}

// rpcError maps engine errors onto JSON-RPC error codes.
func rpcError(err error) error {
	if ce, ok := publisher.AsConstraintError(err); ok {
		return &jrpc2.Error{Code: codeConstraint, Message: ce.Error()}
	}
	if errors.Is(err, storage.ErrNotFound) {
		return &jrpc2.Error{Code: codePostNotFound, Message: "post not found"}
	}
	return err
}

func invalidParams(err error) error {
	return &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
}

func (s *Server) postCreate(ctx context.Context, p *CreateParams) (*PostPayload, error) {
	if err := p.Validate(); err != nil {
		return nil, invalidParams(err)
	}
	out, err := s.pub.Create(ctx, storage.ScheduledPost{
		DestinationID:   p.DestinationID,
		DestinationSlug: p.DestinationSlug,
		DestinationName: p.DestinationName,
		Title:           p.Title,
		Body:            p.Body,
		MediaURL:        p.MediaURL,
		ScheduledAt:     p.ScheduledAt,
		Status:          storage.StatusScheduled,
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return toPayload(out), nil
}

func (s *Server) postGet(ctx context.Context, p *IDParam) (*PostPayload, error) {
	if err := p.Validate(); err != nil {
		return nil, invalidParams(err)
	}
	out, err := s.pub.Get(ctx, p.ID)
	if err != nil {
		return nil, rpcError(err)
	}
	return toPayload(out), nil
}

func (s *Server) postList(ctx context.Context, p *ListParams) (*ListResult, error) {
	posts, err := s.pub.List(ctx)
	if err != nil {
		return nil, rpcError(err)
	}
	out := make([]*PostPayload, 0, len(posts))
	for _, post := range posts {
		if p.Status != "" && string(post.Status) != p.Status {
			continue
		}
		out = append(out, toPayload(post))
	}
	return &ListResult{Posts: out}, nil
}

func (s *Server) postUpdate(ctx context.Context, p *UpdateParams) (*PostPayload, error) {
	if err := p.Validate(); err != nil {
		return nil, invalidParams(err)
	}
	out, err := s.pub.Update(ctx, p.ID, p.patch())
	if err != nil {
		return nil, rpcError(err)
	}
	return toPayload(out), nil
}

func (s *Server) postDelete(ctx context.Context, p *IDParam) (*EmptyResult, error) {
	if err := p.Validate(); err != nil {
		return nil, invalidParams(err)
	}
	if err := s.pub.Delete(ctx, p.ID); err != nil {
		return nil, rpcError(err)
	}
	return &EmptyResult{}, nil
}

func (s *Server) slotNext(ctx context.Context, p *SlotParams) (*SlotResult, error) {
	if err := p.Validate(); err != nil {
		return nil, invalidParams(err)
	}
	at, err := s.pub.NextSlot(ctx, p.Preferred)
	if err != nil {
		return nil, rpcError(err)
	}
	return &SlotResult{At: at}, nil
}

func (s *Server) publishNow(ctx context.Context, p *PublishNowParams) (*AttemptResult, error) {
	if err := p.Validate(); err != nil {
		return nil, invalidParams(err)
	}
	res, err := s.pub.PostNow(ctx, p.DestinationSlug, p.Title, p.Body, p.MediaURL)
	if err != nil {
		return nil, rpcError(err)
	}
	return &AttemptResult{Success: res.Success(), Code: res.Code, Message: res.Message}, nil
}

func (s *Server) publishRun(ctx context.Context, p *IDParam) (*AttemptResult, error) {
	if err := p.Validate(); err != nil {
		return nil, invalidParams(err)
	}
	res, err := s.pub.RunScheduled(ctx, p.ID)
	if err != nil {
		return nil, rpcError(err)
	}
	return &AttemptResult{Success: res.Success(), Code: res.Code, Message: res.Message}, nil
}

func (s *Server) alarmSync(ctx context.Context) (*EmptyResult, error) {
	if err := s.pub.SyncTimer(ctx); err != nil {
		return nil, rpcError(err)
	}
	return &EmptyResult{}, nil
}

func (s *Server) schedulerPause(ctx context.Context) (*EmptyResult, error) {
	if err := s.pub.Pause(ctx); err != nil {
		return nil, rpcError(err)
	}
	return &EmptyResult{}, nil
}

func (s *Server) schedulerResume(ctx context.Context) (*EmptyResult, error) {
	if err := s.pub.Resume(ctx); err != nil {
		return nil, rpcError(err)
	}
	return &EmptyResult{}, nil
}

func (s *Server) status(ctx context.Context) (*StatusResult, error) {
	st, err := s.pub.Status(ctx)
	if err != nil {
		return nil, rpcError(err)
	}
	return &StatusResult{
		Version:    s.cfg.Version,
		Paused:     st.Paused,
		NextWakeAt: st.NextWakeAt,
		Counts:     st.Counts,
	}, nil
}
