package bridge

import (
	"context"
	"sync"
)

// session is one ACP conversation, identified by the agent-assigned
// sessionId (spec.md §3). It holds no reference to its owning connection,
// only the bookkeeping needed to cancel an in-flight prompt and its
// pending permission relays — sessions never own the WebSocket or the agent transport
// directly, matching spec.md §9's "avoid ownership cycles" design note.
type session struct {
	id string

	mu         sync.Mutex
	cancelled  bool
	promptDone chan struct{}

	// promptCancel cancels the context passed to the in-flight
	// acpConn.Prompt call for this session, if any. Guarded by mu
	// independently of the prompt's own lifecycle, mirroring the teacher's
	// session_host.go promptCancelMu split (CancelPrompt must never block
	// on HandlePrompt finishing).
	promptCancel context.CancelFunc

	// pendingPermissions are permission-relay round trips issued for this
	// session that are still awaiting a controller reply. session/cancel
	// resolves every one of them locally as "cancelled" (spec.md §4.3,
	// §5 Cancellation).
	pendingPermissions map[string]chan permissionReply
}

func newSession(id string) *session {
	return &session{
		id:                 id,
		pendingPermissions: make(map[string]chan permissionReply),
	}
}

// beginPrompt records the cancel function for a new in-flight prompt. It
// returns false if a prompt is already running for this session — the
// wire protocol is one prompt at a time per session.
func (s *session) beginPrompt(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.promptCancel != nil {
		return false
	}
	s.promptCancel = cancel
	s.promptDone = make(chan struct{})
	return true
}

func (s *session) endPrompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptCancel = nil
	if s.promptDone != nil {
		close(s.promptDone)
		s.promptDone = nil
	}
}

// cancel flips the session's cancellation flag, cancels any in-flight
// prompt context, and resolves every pending permission relay as
// cancelled (spec.md §4.3 session/cancel semantics).
func (s *session) cancel() {
	s.mu.Lock()
	s.cancelled = true
	cancelFn := s.promptCancel
	pending := make([]chan permissionReply, 0, len(s.pendingPermissions))
	for id, ch := range s.pendingPermissions {
		pending = append(pending, ch)
		delete(s.pendingPermissions, id)
	}
	s.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
	}
	for _, ch := range pending {
		select {
		case ch <- permissionReply{cancelled: true}:
		default:
		}
	}
}

func (s *session) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// active reports whether a prompt is currently in flight for this session.
// Used by the cancellation grace-period timer to decide whether the agent
// needs to be force-stopped.
func (s *session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptCancel != nil
}

func (s *session) registerPermission(reqID string, ch chan permissionReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPermissions[reqID] = ch
}

func (s *session) resolvePermission(reqID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingPermissions, reqID)
}

// sessionTable is the connection-owned registry of live sessions, keyed by
// sessionId. Looked up by inbound agent traffic (session/request_permission,
// fs/write_text_file calls scoped to a session) and by controller-issued
// session/prompt, session/cancel and fs/write_text_file calls.
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*session)}
}

func (t *sessionTable) add(s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[s.id] = s
}

func (t *sessionTable) get(id string) (*session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

// cancelAll cancels every live session, used when the owning connection
// dies (spec.md §3 invariant: if a connection dies, all its sessions are
// terminated).
func (t *sessionTable) cancelAll() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.sessions {
		s.cancel()
	}
}
