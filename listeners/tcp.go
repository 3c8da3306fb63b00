package listeners

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"

	"github.com/inyotech/mqtt-broker/listeners/auth"
	"github.com/inyotech/mqtt-broker/system"
)

// TCP is a listener accepting client connections on plain TCP.
type TCP struct {
	sync.RWMutex
	id       string       // the internal id of the listener.
	protocol string       // the TCP protocol to use.
	address  string       // the network address to bind to.
	config   *Config      // configuration values for the listener.
	listen   net.Listener // a net.Listener which will listen for new clients.
	end      int32        // ensure the close methods are only called once.
}

// NewTCP initialises and returns a new TCP listener, listening on an address.
func NewTCP(id, address string) *TCP {
	return &TCP{
		id:       id,
		protocol: "tcp",
		address:  address,
		config: &Config{
			Auth: new(auth.Allow),
		},
	}
}

// SetConfig sets the configuration values for the listener.
func (l *TCP) SetConfig(config *Config) {
	l.Lock()
	if config != nil {
		l.config = config

		// A config passed without an auth controller may be a mistake, so
		// disallow all traffic.
		if l.config.Auth == nil {
			l.config.Auth = new(auth.Disallow)
		}
	}
	l.Unlock()
}

// ID returns the id of the listener.
func (l *TCP) ID() string {
	l.RLock()
	id := l.id
	l.RUnlock()
	return id
}

// Listen starts listening on the listener's network address.
func (l *TCP) Listen(s *system.Info) error {
	var err error

	if l.config.TLSConfig != nil {
		l.listen, err = tls.Listen(l.protocol, l.address, l.config.TLSConfig)
	} else {
		l.listen, err = net.Listen(l.protocol, l.address)
	}

	return err
}

// Addr returns the bound network address, useful when listening on port 0.
func (l *TCP) Addr() net.Addr {
	l.RLock()
	defer l.RUnlock()
	if l.listen == nil {
		return nil
	}
	return l.listen.Addr()
}

// Serve accepts new TCP connections and calls the establish callback for
// each, one goroutine per connection.
func (l *TCP) Serve(establish EstablishFunc) {
	for {
		if atomic.LoadInt32(&l.end) == 1 {
			return
		}

		conn, err := l.listen.Accept()
		if err != nil {
			return
		}

		if atomic.LoadInt32(&l.end) == 0 {
			go establish(l.id, conn, l.config.Auth)
		}
	}
}

// Close closes the listener and any client connections.
func (l *TCP) Close(closeClients CloseFunc) {
	l.Lock()
	defer l.Unlock()

	if atomic.CompareAndSwapInt32(&l.end, 0, 1) {
		closeClients(l.id)
	}

	if l.listen != nil {
		l.listen.Close()
	}
}
