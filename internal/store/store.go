// Package store is the ModelStore/ModelCache: durable persistence of
// TaskRecord as one JSON document per task, with per-file fault isolation
// and cooldown on repeat decode failures. It takes the place of the
// teacher's SaveState/LoadState/DeleteState CRUD layer from
// internal/engine/state (here Update/LoadAll/Delete) but trades the sqlite-backed table pair for the plain JSON-file layout
// §4.2 specifies, since the spec's persisted-file external interface
// (`<id>_download.json`, sibling cookies/thumbnail, unknown-field
// round-trip) has no row-oriented shape to map onto.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aio-downloader/aiocore/internal/cookiejar"
	"github.com/aio-downloader/aiocore/internal/logging"
	"github.com/aio-downloader/aiocore/internal/model"
)

const (
	modelSuffix     = "_download.json"
	cookiesSuffix   = "_cookies.txt"
	thumbnailSuffix = "_download.jpg"

	cooldownWindow = 30 * time.Second
	loadConcurrency = 10
)

// Store is the on-disk ModelStore rooted at a single internal directory.
type Store struct {
	dir string

	writeMu sync.Mutex
	locks   map[int64]*sync.Mutex

	cooldownMu sync.Mutex
	cooldown   map[int64]time.Time
}

// New constructs a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	return &Store{
		dir:      dir,
		locks:    make(map[int64]*sync.Mutex),
		cooldown: make(map[int64]time.Time),
	}, nil
}

func (s *Store) modelPath(id int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d%s", id, modelSuffix))
}

func (s *Store) cookiesPath(id int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d%s", id, cookiesSuffix))
}

func (s *Store) thumbnailPath(id int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d%s", id, thumbnailSuffix))
}

func (s *Store) idLock(id int64) *sync.Mutex {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Update atomically writes record's JSON (write-temp-then-rename), then,
// if a cookie string is present and the cookies file is missing or
// override is true, emits the Netscape cookie file alongside it. Writes
// for a given id are serialised.
func (s *Store) Update(record *model.TaskRecord, overrideCookies bool) error {
	lock := s.idLock(record.ID)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding task %d: %w", record.ID, err)
	}

	path := s.modelPath(record.ID)
	if err := atomicWrite(path, data); err != nil {
		return fmt.Errorf("writing task %d: %w", record.ID, err)
	}

	record.RLock()
	cookieString := record.CookieString
	record.RUnlock()

	if cookieString != "" {
		cpath := s.cookiesPath(record.ID)
		_, statErr := os.Stat(cpath)
		missing := os.IsNotExist(statErr)
		if missing || overrideCookies {
			if err := atomicWrite(cpath, []byte(cookiejar.WriteNetscape(cookieString))); err != nil {
				return fmt.Errorf("writing cookies for task %d: %w", record.ID, err)
			}
		}
	}

	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Delete removes the JSON, cookies file, thumbnail, any files in the
// internal folder whose name starts with extractorTempPrefix, and
// (when deleteDestination is true, i.e. the record's snapshot pointed at
// the private area) the destination file itself. Missing files are not
// errors.
func (s *Store) Delete(id int64, destPath, extractorTempPrefix string, deleteDestination bool) error {
	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	removeIfExists(s.modelPath(id))
	removeIfExists(s.cookiesPath(id))
	removeIfExists(s.thumbnailPath(id))

	if extractorTempPrefix != "" {
		entries, err := os.ReadDir(s.dir)
		if err == nil {
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), extractorTempPrefix) {
					removeIfExists(filepath.Join(s.dir, e.Name()))
				}
			}
		}
	}

	if deleteDestination && destPath != "" {
		removeIfExists(destPath)
	}

	return nil
}

func removeIfExists(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// LoadAll enumerates `_download.json` files (excluding any whose name
// contains "temp"), decodes them in bounded-parallel chunks of at most
// loadConcurrency, and returns the successfully hydrated records keyed by
// id. Decode failures delete the offending file and enter a 30s cooldown;
// a failed id is skipped if it's still within cooldown from a prior call.
func (s *Store) LoadAll(ctx context.Context) (map[int64]*model.TaskRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading store dir: %w", err)
	}

	var candidates []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, modelSuffix) {
			continue
		}
		if strings.Contains(name, "temp") {
			continue
		}
		candidates = append(candidates, name)
	}

	result := make(map[int64]*model.TaskRecord)
	var resultMu sync.Mutex

	sem := make(chan struct{}, loadConcurrency)
	var wg sync.WaitGroup

	for _, name := range candidates {
		id, ok := idFromFilename(name)
		if !ok {
			continue
		}
		if s.inCooldown(id) {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(id int64, name string) {
			defer wg.Done()
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				return
			default:
			}

			path := filepath.Join(s.dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				s.markFailed(id)
				return
			}

			record := &model.TaskRecord{}
			if err := json.Unmarshal(data, record); err != nil {
				logging.L().Warn().Int64("id", id).Err(err).Msg("corrupt task record, quarantining")
				_ = os.Remove(path)
				s.markFailed(id)
				return
			}

			resultMu.Lock()
			result[id] = record
			resultMu.Unlock()
		}(id, name)
	}

	wg.Wait()
	return result, nil
}

func idFromFilename(name string) (int64, bool) {
	base := strings.TrimSuffix(name, modelSuffix)
	id, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Store) markFailed(id int64) {
	s.cooldownMu.Lock()
	defer s.cooldownMu.Unlock()
	s.cooldown[id] = time.Now()
}

func (s *Store) inCooldown(id int64) bool {
	s.cooldownMu.Lock()
	defer s.cooldownMu.Unlock()
	until, ok := s.cooldown[id]
	if !ok {
		return false
	}
	if time.Since(until) > cooldownWindow {
		delete(s.cooldown, id)
		return false
	}
	return true
}

// ValidateAgainstFiles removes from cache any id whose file no longer
// exists and reports which cooled-down ids are now eligible for re-load
// (their cooldown has elapsed).
func (s *Store) ValidateAgainstFiles(cache map[int64]*model.TaskRecord) (expiredCooldowns []int64) {
	for id := range cache {
		if _, err := os.Stat(s.modelPath(id)); os.IsNotExist(err) {
			delete(cache, id)
		}
	}

	s.cooldownMu.Lock()
	defer s.cooldownMu.Unlock()
	for id, until := range s.cooldown {
		if time.Since(until) > cooldownWindow {
			expiredCooldowns = append(expiredCooldowns, id)
			delete(s.cooldown, id)
		}
	}
	return expiredCooldowns
}
