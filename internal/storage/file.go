package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "postpulse/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// The whole state (posts + pause flag) lives in memory and is rewritten to
// a single JSON snapshot on every mutation via tmp-file + atomic rename.
// Queue sizes here are tiny (a handful of pending posts), so rewriting the
// snapshot is cheaper than maintaining a journal.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string

	posts  map[string]ScheduledPost
	paused bool
}

type fileSnapshot struct {
	Posts  []ScheduledPost `json:"posts"`
	Paused bool            `json:"paused"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path, posts: map[string]ScheduledPost{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, p := range snap.Posts {
		s.posts[p.ID] = p
	}
	s.paused = snap.Paused
	return nil
}

func (s *fileStore) persistLocked() error {
	snap := fileSnapshot{Posts: s.sortedLocked(), Paused: s.paused}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) sortedLocked() []ScheduledPost {
	out := make([]ScheduledPost, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) List(ctx context.Context) ([]ScheduledPost, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked(), nil
}

func (s *fileStore) Get(ctx context.Context, id string) (ScheduledPost, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return ScheduledPost{}, ErrNotFound
	}
	return p, nil
}

func (s *fileStore) Create(ctx context.Context, post ScheduledPost) (ScheduledPost, error) {
	_ = ctx
	post = withCreateDefaults(post)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[post.ID] = post
	if err := s.persistLocked(); err != nil {
		delete(s.posts, post.ID)
		return ScheduledPost{}, err
	}
	return post, nil
}

func (s *fileStore) Update(ctx context.Context, id string, patch Patch) (ScheduledPost, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[id]
	if !ok {
		return ScheduledPost{}, ErrNotFound
	}
	prev := post
	patch.apply(&post, time.Now().UTC())
	s.posts[id] = post
	if err := s.persistLocked(); err != nil {
		s.posts[id] = prev
		return ScheduledPost{}, err
	}
	return post, nil
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.posts[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.posts, id)
	if err := s.persistLocked(); err != nil {
		s.posts[id] = prev
		return err
	}
	return nil
}

func (s *fileStore) Paused(ctx context.Context) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, nil
}

func (s *fileStore) SetPaused(ctx context.Context, paused bool) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.paused
	s.paused = paused
	if err := s.persistLocked(); err != nil {
		s.paused = prev
		return err
	}
	return nil
}
