package server

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/muxserver/internal/mux"
)

// Socket operations used by the registry, swapped out in tests.
var (
	acceptConn = mux.Accept
	closeConn  = mux.Close
)

// watcher is the subset of mux.Multiplexer the registry mutates.
type watcher interface {
	Add(fd int) error
	Remove(fd int)
}

type removal struct {
	id ConnID
	// The descriptor was reported invalid and must not be closed again.
	invalid bool
}

// Registry tracks the open connections of one server and stages every change
// to the watched set discovered during a round so that the set is only
// mutated between rounds, never while it is being scanned.
type Registry struct {
	listenFD       int
	watcher        watcher
	handler        Handler
	sender         Sender
	logger         *logrus.Logger
	name           string
	maxConnections int

	// Connections currently in the watched set.
	watched map[ConnID]struct{}

	// Per-round staging, in the order the changes were discovered.
	additions []ConnID
	pending   map[ConnID]struct{}
	removals  []removal
	removing  map[ConnID]struct{}
}

func newRegistry(listenFD int, w watcher, h Handler, s Sender, logger *logrus.Logger, name string, maxConnections int) *Registry {
	return &Registry{
		listenFD:       listenFD,
		watcher:        w,
		handler:        h,
		sender:         s,
		logger:         logger,
		name:           name,
		maxConnections: maxConnections,
		watched:        make(map[ConnID]struct{}),
		pending:        make(map[ConnID]struct{}),
		removing:       make(map[ConnID]struct{}),
	}
}

// Begin starts a new round by discarding whatever was staged in the last one.
func (r *Registry) Begin() {
	r.additions = r.additions[:0]
	r.removals = r.removals[:0]
	for id := range r.pending {
		delete(r.pending, id)
	}
	for id := range r.removing {
		delete(r.removing, id)
	}
}

// Accept takes one pending connection off the listening socket and stages it
// for addition. The Handler is notified immediately even though the new
// connection will not be watched until the round is committed.
func (r *Registry) Accept() (ConnID, bool) {
	fd, ok, err := acceptConn(r.listenFD)
	if err != nil {
		r.logger.Warnf("[%s] failed to accept connection: %v", r.name, err)
		return 0, false
	} else if !ok {
		return 0, false
	}
	id := ConnID(fd)

	if r.maxConnections > 0 && r.Len() >= r.maxConnections {
		r.logger.Infof("[%s] rejected connection %d: server is full (%d connections)", r.name, id, r.Len())
		if err := closeConn(fd); err != nil {
			r.logger.Warnf("[%s] failed to close rejected connection %d: %v", r.name, id, err)
		}
		return 0, false
	}

	r.additions = append(r.additions, id)
	r.pending[id] = struct{}{}

	r.logger.Infof("[%s] accepted connection %d", r.name, id)
	r.handler.OnConnect(r.sender, id)
	return id, true
}

// MarkForRemoval stages a watched connection to be closed when the round is
// committed. Marking the same connection more than once in a round has no
// additional effect. Descriptors that are not watched connections (including
// the listening socket) are ignored.
func (r *Registry) MarkForRemoval(id ConnID, invalid bool) bool {
	if int(id) == r.listenFD {
		return false
	}
	if _, ok := r.watched[id]; !ok {
		r.logger.Debugf("[%s] ignoring removal of unwatched descriptor %d", r.name, id)
		return false
	}
	if _, ok := r.removing[id]; ok {
		return true
	}

	r.removing[id] = struct{}{}
	r.removals = append(r.removals, removal{id: id, invalid: invalid})
	return true
}

// Commit applies the round's staged changes: removals first, then additions.
func (r *Registry) Commit() {
	for _, rm := range r.removals {
		r.disconnect(rm.id, rm.invalid)
	}

	for _, id := range r.additions {
		delete(r.pending, id)

		if err := r.watcher.Add(int(id)); err != nil {
			r.logger.Warnf("[%s] unable to watch connection %d: %v", r.name, id, err)
			if err := closeConn(int(id)); err != nil {
				r.logger.Warnf("[%s] failed to close connection %d: %v", r.name, id, err)
			}
			r.handler.OnDisconnect(r.sender, id)
			continue
		}
		r.watched[id] = struct{}{}
	}
}

// disconnect closes a connection, notifies the Handler, and stops watching it.
// The ID is no longer open by the time the Handler sees it.
func (r *Registry) disconnect(id ConnID, invalid bool) {
	if !invalid {
		if err := closeConn(int(id)); err != nil {
			r.logger.Warnf("[%s] failed to close connection %d: %v", r.name, id, err)
		}
	}
	delete(r.watched, id)

	r.handler.OnDisconnect(r.sender, id)
	r.watcher.Remove(int(id))

	r.logger.Infof("[%s] disconnected connection %d", r.name, id)
}

// IsOpen reports whether id refers to a connection that has been accepted and
// not yet closed.
func (r *Registry) IsOpen(id ConnID) bool {
	if _, ok := r.watched[id]; ok {
		return true
	}
	_, ok := r.pending[id]
	return ok
}

// Len returns the number of open connections.
func (r *Registry) Len() int {
	return len(r.watched) + len(r.pending)
}

// Connections returns the open connections in ascending order.
func (r *Registry) Connections() []ConnID {
	ids := make([]ConnID, 0, r.Len())
	for id := range r.watched {
		ids = append(ids, id)
	}
	for id := range r.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CloseAll disconnects every open connection, including ones still staged
// for addition.
func (r *Registry) CloseAll() {
	for _, id := range r.Connections() {
		delete(r.pending, id)
		r.disconnect(id, false)
	}
	r.Begin()
}
