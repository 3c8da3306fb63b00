package listeners

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inyotech/mqtt-broker/listeners/auth"
	"github.com/inyotech/mqtt-broker/system"
)

// HTTPStats is a listener presenting the broker runtime counters on a JSON
// http endpoint.
type HTTPStats struct {
	sync.RWMutex
	id      string       // the internal id of the listener.
	address string       // the network address to bind to.
	config  *Config      // configuration values for the listener.
	system  *system.Info // the broker system counters.
	listen  *http.Server // the http server.
	end     uint32       // ensure the close methods are only called once.
}

// NewHTTPStats initialises and returns a new HTTP listener, listening on an
// address.
func NewHTTPStats(id, address string) *HTTPStats {
	return &HTTPStats{
		id:      id,
		address: address,
		config: &Config{
			Auth: new(auth.Allow),
		},
	}
}

// SetConfig sets the configuration values for the listener.
func (l *HTTPStats) SetConfig(config *Config) {
	l.Lock()
	if config != nil {
		l.config = config
		if l.config.Auth == nil {
			l.config.Auth = new(auth.Disallow)
		}
	}
	l.Unlock()
}

// ID returns the id of the listener.
func (l *HTTPStats) ID() string {
	l.RLock()
	id := l.id
	l.RUnlock()
	return id
}

// Listen prepares the http server on the listener's network address.
func (l *HTTPStats) Listen(s *system.Info) error {
	l.system = s

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.jsonHandler)
	l.listen = &http.Server{
		Addr:      l.address,
		Handler:   mux,
		TLSConfig: l.config.TLSConfig,
	}

	return nil
}

// Serve starts listening for new connections and serving responses.
func (l *HTTPStats) Serve(establish EstablishFunc) {
	if l.listen.TLSConfig != nil {
		l.listen.ListenAndServeTLS("", "")
	} else {
		l.listen.ListenAndServe()
	}
}

// Close closes the listener and any client connections.
func (l *HTTPStats) Close(closeClients CloseFunc) {
	l.Lock()
	defer l.Unlock()

	if atomic.CompareAndSwapUint32(&l.end, 0, 1) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.listen.Shutdown(ctx)
	}

	closeClients(l.id)
}

// jsonHandler writes the system counters out as a JSON document.
func (l *HTTPStats) jsonHandler(w http.ResponseWriter, req *http.Request) {
	info := *l.system
	info.Uptime = time.Now().Unix() - info.Started

	out, err := json.MarshalIndent(info, "", "\t")
	if err != nil {
		io.WriteString(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}
