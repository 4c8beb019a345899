package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/print-resume/backend/internal/config"
	"github.com/print-resume/backend/internal/gcode"
	"github.com/print-resume/backend/internal/logging"
	"github.com/print-resume/backend/internal/models"
	"github.com/print-resume/backend/internal/resume"
)

// DefaultMaxSessions limits how many sessions are kept in memory.
const DefaultMaxSessions = 20

// SessionKeepAliveWindow is how long to keep sessions that are actively being used
const SessionKeepAliveWindow = 5 * time.Minute

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

var sessionLog = logging.New("Manager")

// FileStore is the part of the file storage the manager needs.
type FileStore interface {
	Get(id string) (*models.FileInfo, error)
	GetFilePath(id string) (string, error)
	SaveGenerated(name, sourceID string, r io.Reader) (*models.FileInfo, error)
}

// Options configure a Manager.
type Options struct {
	MaxSessions int
	Resume      config.ResumeDefaults
	// Index receives the layer index computed by each run. May be nil.
	Index *IndexStore
}

// Manager runs resume sessions in the background.
type Manager struct {
	sessions map[string]*SessionState
	mu       sync.RWMutex
	store    FileStore
	opts     Options
}

// SessionState holds a session and what its run produced.
type SessionState struct {
	Session      *models.ResumeSession
	Result       *resume.Result
	OutputName   string
	CreatedAt    time.Time
	LastAccessed time.Time
	done         chan struct{}
}

// NewManager creates a session manager.
func NewManager(store FileStore, opts Options) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.Resume.LayerHeight <= 0 {
		opts.Resume = config.DefaultResume()
	}
	return &Manager{
		sessions: make(map[string]*SessionState),
		store:    store,
		opts:     opts,
	}
}

// Defaults returns the resume defaults used to complete requests.
func (m *Manager) Defaults() config.ResumeDefaults {
	return m.opts.Resume
}

// Index returns the layer index store, or nil.
func (m *Manager) Index() *IndexStore {
	return m.opts.Index
}

// OutputName derives the name of a resumed file: "part.gcode" becomes
// "part_resumed.gcode".
func OutputName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_resumed" + ext
}

// StartSession validates cfg and begins a resume run over a stored file.
func (m *Manager) StartSession(fileID string, cfg models.ResumeConfig) (*models.ResumeSession, error) {
	if err := resume.Validate(cfg); err != nil {
		return nil, err
	}
	info, err := m.store.Get(fileID)
	if err != nil {
		return nil, err
	}

	m.cleanupOldSessionsIfNeeded()

	sessionID := uuid.New().String()
	session := models.NewResumeSession(sessionID, fileID, cfg)
	session.Status = models.SessionStatusProcessing

	now := time.Now()
	state := &SessionState{
		Session:      session,
		OutputName:   OutputName(info.Name),
		CreatedAt:    now,
		LastAccessed: now,
		done:         make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[sessionID] = state
	m.mu.Unlock()

	go m.run(state)

	return m.snapshot(state), nil
}

func (m *Manager) run(state *SessionState) {
	id := state.Session.ID
	fileID := state.Session.FileID
	cfg := state.Session.Config
	logger := logging.New("Session", id)

	defer close(state.done)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("PANIC recovered: %v", r)
			m.updateSessionError(id, fmt.Sprintf("resume panicked: %v", r))
		}
	}()

	start := time.Now()

	path, err := m.store.GetFilePath(fileID)
	if err != nil {
		m.updateSessionError(id, err.Error())
		return
	}

	m.setStage(id, "loading file", 5)
	doc, err := gcode.LoadDocument(path)
	if err != nil {
		logger.Errorf("failed to load %s: %v", path, err)
		m.updateSessionError(id, fmt.Sprintf("failed to load file: %v", err))
		return
	}
	logger.Infof("loaded %d lines, target height %.2fmm", doc.Len(), cfg.TargetHeight)

	engine := resume.NewEngine(resume.Options{
		KeepPrefixes:     m.opts.Resume.KeepPrefixes,
		PauseCommand:     m.opts.Resume.PauseCommand,
		TemperatureLines: m.opts.Resume.TemperatureLines,
		OnStage: func(stage string, progress float64) {
			// The engine's 0-100 maps onto 10-80; the rest is loading and saving.
			m.setStage(id, stage, 10+progress*0.7)
		},
	})
	res, err := engine.Run(doc, cfg)
	if err != nil {
		m.updateSessionError(id, err.Error())
		return
	}

	if idx := m.opts.Index; idx != nil && !idx.Has(fileID) {
		err := idx.Put(context.Background(), &models.LayerIndex{
			FileID:  fileID,
			Lines:   doc.Len(),
			Markers: res.Markers,
			Motion:  res.Motion,
		})
		if err != nil {
			logger.Warnf("failed to store layer index: %v", err)
		}
	}

	m.setStage(id, "saving output", 85)
	info, err := m.saveOutput(state.OutputName, fileID, res.Output)
	if err != nil {
		logger.Errorf("failed to save output: %v", err)
		m.updateSessionError(id, fmt.Sprintf("failed to save output: %v", err))
		return
	}

	elapsed := time.Since(start).Milliseconds()
	logger.Infof("resuming at line %d (%s), %d output lines in %dms",
		res.Point.LineIndex, res.Point.Strategy, res.Output.Len(), elapsed)
	for _, w := range res.Warnings {
		logger.Warn(w)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	point, temps := res.Point, res.Temperatures
	state.Result = res
	state.Session.Status = models.SessionStatusComplete
	state.Session.Stage = "done"
	state.Session.Progress = 100
	state.Session.ResumePoint = &point
	state.Session.Temperatures = &temps
	state.Session.OutputFileID = info.ID
	state.Session.OutputLines = res.Output.Len()
	state.Session.ProcessingTimeMs = elapsed
	state.Session.Warnings = res.Warnings
}

// saveOutput streams the output document into the file store.
func (m *Manager) saveOutput(name, sourceID string, doc *models.OutputDocument) (*models.FileInfo, error) {
	pr, pw := io.Pipe()
	go func() {
		_, err := resume.WriteDocument(pw, doc)
		pw.CloseWithError(err)
	}()
	info, err := m.store.SaveGenerated(name, sourceID, pr)
	pr.Close()
	return info, err
}

func (m *Manager) setStage(sessionID, stage string, progress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.sessions[sessionID]; ok {
		state.Session.Stage = stage
		state.Session.Progress = progress
	}
}

func (m *Manager) updateSessionError(sessionID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[sessionID]
	if !ok {
		return
	}

	state.Session.Status = models.SessionStatusError
	state.Session.Errors = append(state.Session.Errors, models.SessionError{
		Reason: reason,
	})
}

// cleanupOldSessionsIfNeeded removes the oldest finished sessions if at capacity
func (m *Manager) cleanupOldSessionsIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) < m.opts.MaxSessions {
		return
	}

	var finished []*SessionState
	for _, state := range m.sessions {
		if state.Session.Done() {
			finished = append(finished, state)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].LastAccessed.Before(finished[j].LastAccessed)
	})

	toFree := len(m.sessions) - m.opts.MaxSessions + 1
	for i := 0; i < toFree && i < len(finished); i++ {
		id := finished[i].Session.ID
		delete(m.sessions, id)
		sessionLog.Debugf("evicted session %s", logging.ShortID(id))
	}
}

// CleanupOldSessions removes finished sessions older than maxAge,
// but keeps sessions that have been accessed within SessionKeepAliveWindow.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-SessionKeepAliveWindow)

	removed := 0
	for id, state := range m.sessions {
		if !state.Session.Done() || state.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		if state.LastAccessed.Before(cutoff) {
			delete(m.sessions, id)
			removed++
			sessionLog.Infof("cleaned up aged session %s (last accessed %s ago)",
				logging.ShortID(id), now.Sub(state.LastAccessed).Round(time.Second))
		}
	}
	return removed
}

// StartCleanup runs CleanupOldSessions every interval until ctx is done.
func (m *Manager) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupOldSessions(maxAge)
			}
		}
	}()
}

// GetSession returns a copy of a session.
func (m *Manager) GetSession(id string) (*models.ResumeSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return m.snapshotLocked(state), true
}

// GetResult returns the engine result and output file name of a completed
// session.
func (m *Manager) GetResult(id string) (*resume.Result, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok || state.Result == nil {
		return nil, "", false
	}
	return state.Result, state.OutputName, true
}

// TouchSession updates the LastAccessed timestamp for a session.
// This should be called whenever a session is actively being used
// to prevent it from being cleaned up.
func (m *Manager) TouchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// Wait blocks until a session finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (*models.ResumeSession, error) {
	m.mu.RLock()
	state, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	select {
	case <-state.done:
		s, _ := m.GetSession(id)
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Count returns the number of sessions held.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) snapshot(state *SessionState) *models.ResumeSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(state)
}

func (m *Manager) snapshotLocked(state *SessionState) *models.ResumeSession {
	s := *state.Session
	s.Warnings = append([]string(nil), state.Session.Warnings...)
	s.Errors = append([]models.SessionError(nil), state.Session.Errors...)
	return &s
}
