// Package registry manages per-mission databases with LRU caching.
package registry

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"optiontree/service"
	"optiontree/store"
)

var (
	ErrMissionNotFound = errors.New("mission not found")
	ErrMissionExists   = errors.New("mission already exists")
	ErrInvalidMission  = errors.New("invalid mission name")
	ErrMissionBusy     = errors.New("mission has requests in flight")
)

var missionNameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ValidMission reports whether name can be used as a mission directory.
func ValidMission(name string) bool {
	return missionNameRegexp.MatchString(name)
}

// Handle is an open mission database and the service bound to it.
type Handle struct {
	Mission string
	Path    string
	DB      *store.DB
	Service *service.Service

	lastUsed time.Time
	active   int32
	mu       sync.Mutex
	element  *list.Element
}

// Config configures the registry.
type Config struct {
	DataDir string        // Base directory for all missions
	MaxOpen int           // Maximum number of open databases (LRU capacity)
	IdleTTL time.Duration // Close databases idle longer than this
	Service service.Options
	Logger  *slog.Logger
}

// Registry opens mission databases on demand and closes idle ones.
type Registry struct {
	cfg      Config
	mu       sync.RWMutex
	missions map[string]*Handle
	lru      *list.List
	stop     chan struct{}
	done     chan struct{}
}

// New creates a registry and starts its idle reaper.
func New(cfg Config) *Registry {
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 256
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Service.Logger == nil {
		cfg.Service.Logger = cfg.Logger
	}

	r := &Registry{
		cfg:      cfg,
		missions: make(map[string]*Handle),
		lru:      list.New(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

func (r *Registry) dbPath(mission string) string {
	return filepath.Join(r.cfg.DataDir, mission, store.DBFileName)
}

// Acquire returns the handle of an existing mission, opening it if needed,
// and marks it in use so it cannot be evicted or deleted. Callers must
// Release it.
func (r *Registry) Acquire(ctx context.Context, mission string) (*Handle, error) {
	if !ValidMission(mission) {
		return nil, ErrInvalidMission
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.missions[mission]
	if !ok {
		exists, err := r.Exists(ctx, mission)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrMissionNotFound
		}
		if h, err = r.openLocked(mission); err != nil {
			return nil, err
		}
	}
	// the increment happens under r.mu, which eviction also holds
	h.mu.Lock()
	h.active++
	h.mu.Unlock()
	r.touchLocked(h)
	return h, nil
}

// Create creates the database of a new mission.
func (r *Registry) Create(ctx context.Context, mission string) (*Handle, error) {
	if !ValidMission(mission) {
		return nil, ErrInvalidMission
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.missions[mission]; ok {
		return nil, ErrMissionExists
	}
	exists, err := r.Exists(ctx, mission)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrMissionExists
	}
	h, err := r.openLocked(mission)
	if err != nil {
		return nil, err
	}
	r.cfg.Logger.InfoContext(ctx, "created mission", "mission", mission, "path", h.Path)
	return h, nil
}

// Exists checks if a mission database exists.
func (r *Registry) Exists(ctx context.Context, mission string) (bool, error) {
	if !ValidMission(mission) {
		return false, nil
	}
	_, err := os.Stat(r.dbPath(mission))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns every mission with a database, sorted by name.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.cfg.DataDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var missions []string
	for _, e := range entries {
		if !e.IsDir() || !ValidMission(e.Name()) {
			continue
		}
		if _, err := os.Stat(r.dbPath(e.Name())); err == nil {
			missions = append(missions, e.Name())
		}
	}
	sort.Strings(missions)
	return missions, nil
}

// Delete closes a mission and soft-deletes its directory. It fails with
// ErrMissionBusy while the mission is acquired.
func (r *Registry) Delete(ctx context.Context, mission string) error {
	if !ValidMission(mission) {
		return ErrInvalidMission
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.missions[mission]; ok {
		if h.inUse() {
			return ErrMissionBusy
		}
		r.closeLocked(h)
	}

	dir := filepath.Join(r.cfg.DataDir, mission)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return ErrMissionNotFound
	}
	deleted := fmt.Sprintf("%s.deleted.%d", dir, time.Now().Unix())
	if err := os.Rename(dir, deleted); err != nil {
		return fmt.Errorf("deleting mission: %w", err)
	}
	r.cfg.Logger.InfoContext(ctx, "deleted mission", "mission", mission)
	return nil
}

// Release marks a handle returned by Acquire as no longer in use.
func (r *Registry) Release(h *Handle) {
	h.mu.Lock()
	h.active--
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

func (h *Handle) inUse() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active > 0
}

// Open returns the number of open mission databases.
func (r *Registry) Open() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.missions)
}

// Close stops the reaper and closes every open database.
func (r *Registry) Close() error {
	close(r.stop)
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.missions {
		r.closeLocked(h)
	}
	return nil
}

func (r *Registry) openLocked(mission string) (*Handle, error) {
	for len(r.missions) >= r.cfg.MaxOpen {
		if !r.evictOneLocked() {
			break
		}
	}

	db, err := store.OpenMissionDB(r.cfg.DataDir, mission)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		Mission:  mission,
		Path:     filepath.Join(r.cfg.DataDir, mission),
		DB:       db,
		Service:  service.New(db, r.cfg.Service),
		lastUsed: time.Now(),
	}
	h.element = r.lru.PushFront(mission)
	r.missions[mission] = h
	return h, nil
}

func (r *Registry) closeLocked(h *Handle) {
	if h.DB != nil {
		if err := h.DB.Close(); err != nil {
			r.cfg.Logger.Warn("closing mission database", "mission", h.Mission, "error", err)
		}
	}
	if h.element != nil {
		r.lru.Remove(h.element)
	}
	delete(r.missions, h.Mission)
}

func (r *Registry) touchLocked(h *Handle) {
	h.mu.Lock()
	h.lastUsed = time.Now()
	h.mu.Unlock()
	if h.element != nil {
		r.lru.MoveToFront(h.element)
	}
}

// evictOneLocked closes the least recently used idle database.
func (r *Registry) evictOneLocked() bool {
	for e := r.lru.Back(); e != nil; e = e.Prev() {
		h := r.missions[e.Value.(string)]
		if !h.inUse() {
			r.closeLocked(h)
			return true
		}
	}
	return false
}

func (r *Registry) reapLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.IdleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.reapIdle(time.Now())
		}
	}
}

func (r *Registry) reapIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.cfg.IdleTTL)
	closed := 0
	for _, h := range r.missions {
		h.mu.Lock()
		idle := h.active == 0 && h.lastUsed.Before(cutoff)
		h.mu.Unlock()
		if idle {
			r.closeLocked(h)
			closed++
		}
	}
	if closed > 0 {
		r.cfg.Logger.Debug("closed idle missions", "count", closed)
	}
	return closed
}
