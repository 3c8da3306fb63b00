// Package listeners provides the network listeners which accept client
// connections and hand them to the broker's session layer.
package listeners

import (
	"crypto/tls"
	"net"
	"sync"

	"github.com/inyotech/mqtt-broker/listeners/auth"
	"github.com/inyotech/mqtt-broker/system"
)

// Config contains configuration values for a listener.
type Config struct {
	// Auth controller containing the connect and topic access policy for
	// clients arriving on this listener.
	Auth auth.Controller

	// TLSConfig is an optional tls.Config to wrap the listener with.
	TLSConfig *tls.Config
}

// EstablishFunc is a callback for establishing new client sessions.
type EstablishFunc func(id string, c net.Conn, ac auth.Controller) error

// CloseFunc is a callback for closing all of a listener's clients.
type CloseFunc func(id string)

// Listener is an interface for network listeners. A network listener waits
// for incoming client connections and calls the establish function for each.
type Listener interface {
	SetConfig(*Config)           // set the listener config.
	Listen(s *system.Info) error // open the network address.
	Serve(EstablishFunc)         // start actively accepting new connections.
	ID() string                  // return the id of the listener.
	Close(CloseFunc)             // stop and close the listener.
}

// Listeners contains the network listeners attached to a broker.
type Listeners struct {
	wg       sync.WaitGroup      // waits for all listeners to finish serving.
	internal map[string]Listener // active listeners keyed on id.
	system   *system.Info        // shared broker system counters.
	sync.RWMutex
}

// New returns a new instance of Listeners.
func New(s *system.Info) *Listeners {
	return &Listeners{
		internal: map[string]Listener{},
		system:   s,
	}
}

// Add adds a new listener to the listeners map, keyed on id.
func (l *Listeners) Add(val Listener) {
	l.Lock()
	l.internal[val.ID()] = val
	l.Unlock()
}

// Get returns the value of a listener if it exists.
func (l *Listeners) Get(id string) (Listener, bool) {
	l.RLock()
	val, ok := l.internal[id]
	l.RUnlock()
	return val, ok
}

// Len returns the length of the listeners map.
func (l *Listeners) Len() int {
	l.RLock()
	val := len(l.internal)
	l.RUnlock()
	return val
}

// Delete removes a listener from the internal map.
func (l *Listeners) Delete(id string) {
	l.Lock()
	delete(l.internal, id)
	l.Unlock()
}

// Serve starts a listener serving from the internal map.
func (l *Listeners) Serve(id string, establisher EstablishFunc) {
	l.RLock()
	listener := l.internal[id]
	l.RUnlock()

	l.wg.Add(1)
	go func(e EstablishFunc) {
		defer l.wg.Done()
		listener.Serve(e)
	}(establisher)
}

// ServeAll starts all listeners serving from the internal map.
func (l *Listeners) ServeAll(establisher EstablishFunc) {
	l.RLock()
	ids := make([]string, 0, len(l.internal))
	for id := range l.internal {
		ids = append(ids, id)
	}
	l.RUnlock()

	for _, id := range ids {
		l.Serve(id, establisher)
	}
}

// Close stops a listener from the internal map.
func (l *Listeners) Close(id string, closer CloseFunc) {
	l.RLock()
	listener := l.internal[id]
	l.RUnlock()
	if listener != nil {
		listener.Close(closer)
	}
}

// CloseAll iterates and closes all registered listeners.
func (l *Listeners) CloseAll(closer CloseFunc) {
	l.RLock()
	ids := make([]string, 0, len(l.internal))
	for id := range l.internal {
		ids = append(ids, id)
	}
	l.RUnlock()

	for _, id := range ids {
		l.Close(id, closer)
	}
	l.wg.Wait()
}
