// Package server answers resolve requests from a long-lived host process over
// a JSON-lines stream, reloading the compilation database when it changes on
// disk.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/ycmflags/internal/compdb"
	"github.com/phobologic/ycmflags/internal/config"
	"github.com/phobologic/ycmflags/internal/model"
	"github.com/phobologic/ycmflags/internal/resolve"
)

const maxLineSize = 1 << 20

// Server owns the current resolver and swaps it on database reloads.
type Server struct {
	cfg *config.Config
	log logrus.FieldLogger

	mu       sync.RWMutex
	resolver *resolve.Resolver

	// reloaded is signalled after every reload attempt; tests wait on it.
	reloaded chan struct{}
}

// New creates a Server answering with db (which may be nil).
func New(cfg *config.Config, db *compdb.Database, log logrus.FieldLogger) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		resolver: resolve.New(cfg, resolve.WithDatabase(db), resolve.WithLogger(log)),
		reloaded: make(chan struct{}, 1),
	}
}

// Resolve answers a single request against the current database.
func (s *Server) Resolve(req model.Request) model.Result {
	s.mu.RLock()
	r := s.resolver
	s.mu.RUnlock()
	return r.Resolve(req.Filename, req.Language)
}

// Reload re-reads the compilation database. On error the previous database
// stays in use.
func (s *Server) Reload() error {
	defer func() {
		select {
		case s.reloaded <- struct{}{}:
		default:
		}
	}()

	db, err := compdb.Load(s.cfg.DatabaseFolder)
	if err != nil {
		return err
	}
	r := resolve.New(s.cfg, resolve.WithDatabase(db), resolve.WithLogger(s.log))

	s.mu.Lock()
	s.resolver = r
	s.mu.Unlock()

	s.log.WithField("entries", db.Len()).Info("compilation database reloaded")
	return nil
}

// Serve reads one JSON request per line from r and writes one JSON result
// per line to w until r is exhausted or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.loop(ctx, r, w)
	})
	if s.cfg.DatabaseFolder != "" {
		g.Go(func() error {
			return s.watch(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) loop(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("reading requests: %w", err)
					}
				default:
				}
				return nil
			}
			if len(line) == 0 {
				continue
			}
			if err := enc.Encode(s.handle(line)); err != nil {
				return fmt.Errorf("writing response: %w", err)
			}
		}
	}
}

func (s *Server) handle(line []byte) model.Result {
	var req model.Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.log.WithError(err).Warn("malformed request")
		return model.Result{}
	}
	return s.Resolve(req)
}

func (s *Server) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.cfg.DatabaseFolder); err != nil {
		s.log.WithError(err).WithField("folder", s.cfg.DatabaseFolder).Warn("not watching compilation database")
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != compdb.FileName {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.log.WithError(err).Warn("keeping previous compilation database")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.WithError(err).Warn("watch error")
		}
	}
}
