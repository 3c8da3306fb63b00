// Package system provides runtime counters describing broker activity,
// suitable for serving through an introspection listener.
package system

// Info contains atomic counters for various broker statistics. All fields
// are updated with sync/atomic and must remain 64-bit aligned.
type Info struct {
	Started             int64  `json:"started"`              // the time the server started in unix seconds.
	Uptime              int64  `json:"uptime"`               // the number of seconds the server has been online.
	BytesRecv           int64  `json:"bytes_recv"`           // total number of bytes received.
	BytesSent           int64  `json:"bytes_sent"`           // total number of bytes sent.
	ClientsConnected    int64  `json:"clients_connected"`    // number of currently connected clients.
	ClientsDisconnected int64  `json:"clients_disconnected"` // number of dormant persisted sessions.
	ClientsMax          int64  `json:"clients_max"`          // maximum number of simultaneously connected clients.
	ClientsTotal        int64  `json:"clients_total"`        // number of new persistent sessions created; clean sessions are not counted.
	ConnectionsTotal    int64  `json:"connections_total"`    // total number of connections ever accepted.
	MessagesRecv        int64  `json:"messages_recv"`        // total number of packets received.
	MessagesSent        int64  `json:"messages_sent"`        // total number of packets sent.
	PublishRecv         int64  `json:"publish_recv"`         // total number of inbound publish packets.
	PublishSent         int64  `json:"publish_sent"`         // total number of outbound publish packets.
	Inflight            int64  `json:"inflight"`             // number of messages currently in pending queues.
	Subscriptions       int64  `json:"subscriptions"`        // total number of filter subscriptions.
	Version             string `json:"version"`              // the broker version.
}
