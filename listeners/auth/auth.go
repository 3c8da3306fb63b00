// Package auth provides the connection authorization hook consulted by the
// broker when a client connects, publishes, or subscribes.
package auth

// Controller is the policy hook for incoming connections and topic access.
type Controller interface {
	// Authenticate returns true if the supplied username and password are
	// allowed to connect.
	Authenticate(user, password []byte) bool

	// ACL returns true if a user has access permissions to read (write=false)
	// or write (write=true) on a topic.
	ACL(user []byte, topic string, write bool) bool
}

// Allow is an auth controller which allows access to all connections and topics.
type Allow struct{}

// Authenticate returns true for all users.
func (a *Allow) Authenticate(user, password []byte) bool {
	return true
}

// ACL returns true for all topics.
func (a *Allow) ACL(user []byte, topic string, write bool) bool {
	return true
}

// Disallow is an auth controller which disallows access to all connections
// and topics.
type Disallow struct{}

// Authenticate returns false for all users.
func (d *Disallow) Authenticate(user, password []byte) bool {
	return false
}

// ACL returns false for all topics.
func (d *Disallow) ACL(user []byte, topic string, write bool) bool {
	return false
}
