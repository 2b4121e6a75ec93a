// Package registry tracks every session the gateway knows about, whether
// currently active in memory or only discoverable on disk. Disk is
// authoritative for history; this package holds no persistent state of its
// own beyond the active-session map.
package registry

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kandev/acp-gateway/internal/session/history"
	"github.com/kandev/acp-gateway/internal/session/model"
)

// agentOnlyPrefix marks a JSONL file as belonging to a sub-agent session
// that should never surface in a user-facing listing.
const agentOnlyPrefix = "agent-"

// Registry owns the set of active session records. It consults the
// filesystem for sessions it did not create itself.
type Registry struct {
	mu           sync.RWMutex
	active       map[string]*model.ActiveSession
	projectsRoot string
}

// New creates a Registry rooted at the given projects directory
// (conventionally $HOME/.claude/projects).
func New(projectsRoot string) *Registry {
	return &Registry{
		active:       make(map[string]*model.ActiveSession),
		projectsRoot: projectsRoot,
	}
}

// PathKey derives the agent's filesystem-safe encoding of a working
// directory: canonicalize, then replace every '/' and '_' with '-'. This is
// not invertible — directories containing '_' cannot round-trip, and this
// is a documented, deliberate asymmetry, not a bug.
func PathKey(cwd string) (string, error) {
	canonical, err := filepath.EvalSymlinks(cwd)
	if err != nil {
		// Fall back to the absolute (non-canonical) path so listing still
		// works for a cwd that does not yet exist on disk.
		abs, absErr := filepath.Abs(cwd)
		if absErr != nil {
			return "", err
		}
		canonical = abs
	}
	replacer := strings.NewReplacer("/", "-", "_", "-")
	return replacer.Replace(canonical), nil
}

// Register records a newly created or resumed active session.
func (r *Registry) Register(id, cwd string, modes *model.Modes, models map[string]interface{}) *model.ActiveSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	session := &model.ActiveSession{
		ID:           id,
		Cwd:          cwd,
		CreatedAt:    now,
		LastActivity: now,
		Modes:        modes,
		Models:       models,
	}
	r.active[id] = session
	return session
}

// Unregister drops the active record without touching disk.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

// UpdateActivity refreshes last_activity for an active session.
func (r *Registry) UpdateActivity(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.active[id]; ok {
		s.LastActivity = time.Now()
	}
}

// UpdateModes replaces the modes snapshot for an active session.
func (r *Registry) UpdateModes(id string, modes *model.Modes) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.active[id]; ok {
		s.Modes = modes
	}
}

// ListResult is the paginated response to List.
type ListResult struct {
	Sessions []model.SessionInfo
	HasMore  bool
	Total    int
}

// List merges active sessions with on-disk discovery, optionally filtered
// to one cwd, sorted by last_activity descending and paginated.
func (r *Registry) List(cwdFilter string, limit, offset int) (ListResult, error) {
	merged, err := r.discover(cwdFilter)
	if err != nil {
		return ListResult{}, err
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].LastActivity.After(merged[j].LastActivity)
	})

	total := len(merged)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	return ListResult{
		Sessions: merged[offset:end],
		HasMore:  end < total,
		Total:    total,
	}, nil
}

// discover unions the active map with on-disk *.jsonl files under
// projectsRoot, optionally restricted to the path key of cwdFilter.
func (r *Registry) discover(cwdFilter string) ([]model.SessionInfo, error) {
	r.mu.RLock()
	activeCopy := make(map[string]*model.ActiveSession, len(r.active))
	for k, v := range r.active {
		activeCopy[k] = v
	}
	r.mu.RUnlock()

	onDisk, err := r.scanDisk(cwdFilter)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.SessionInfo, len(onDisk))
	for _, info := range onDisk {
		byID[info.SessionID] = info
	}

	for id, s := range activeCopy {
		if cwdFilter != "" && s.Cwd != cwdFilter {
			continue
		}
		info, ok := byID[id]
		if !ok {
			info = model.SessionInfo{SessionID: id, Cwd: s.Cwd}
		}
		// Active-session identity wins; on-disk metadata only supplements.
		info.Cwd = s.Cwd
		info.LastActivity = s.LastActivity
		byID[id] = info
	}

	result := make([]model.SessionInfo, 0, len(byID))
	for _, info := range byID {
		if info.MessageCount == 0 {
			continue
		}
		result = append(result, info)
	}
	return result, nil
}

func (r *Registry) scanDisk(cwdFilter string) ([]model.SessionInfo, error) {
	var dirs []string
	if cwdFilter != "" {
		key, err := PathKey(cwdFilter)
		if err != nil {
			return nil, nil
		}
		dirs = []string{filepath.Join(r.projectsRoot, key)}
	} else {
		entries, err := os.ReadDir(r.projectsRoot)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(r.projectsRoot, e.Name()))
			}
		}
	}

	var infos []model.SessionInfo
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
				continue
			}
			base := strings.TrimSuffix(e.Name(), ".jsonl")
			if strings.HasPrefix(base, agentOnlyPrefix) {
				continue
			}
			info, err := history.LoadInfo(filepath.Join(dir, e.Name()), base)
			if err != nil {
				continue
			}
			infos = append(infos, *info)
		}
	}
	return infos, nil
}

// FindSessionFile scans every project directory for <id>.jsonl.
func (r *Registry) FindSessionFile(id string) (string, bool) {
	entries, err := os.ReadDir(r.projectsRoot)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(r.projectsRoot, e.Name(), id+".jsonl")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// Delete removes the active record and unlinks the on-disk file if found.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()

	if path, ok := r.FindSessionFile(id); ok {
		return os.Remove(path)
	}
	return nil
}

// GetSessionInfo returns the active-or-disk record for one session.
func (r *Registry) GetSessionInfo(id string) (*model.SessionInfo, bool) {
	r.mu.RLock()
	active, isActive := r.active[id]
	r.mu.RUnlock()

	path, found := r.FindSessionFile(id)
	if !found {
		if !isActive {
			return nil, false
		}
		return &model.SessionInfo{SessionID: id, Cwd: active.Cwd, LastActivity: active.LastActivity}, true
	}

	info, err := history.LoadInfo(path, id)
	if err != nil {
		return nil, false
	}
	if isActive {
		info.Cwd = active.Cwd
		info.LastActivity = active.LastActivity
	}
	return info, true
}
