package listeners

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inyotech/mqtt-broker/listeners/auth"
	"github.com/inyotech/mqtt-broker/system"
)

func TestNewListeners(t *testing.T) {
	sys := new(system.Info)
	l := New(sys)
	require.NotNil(t, l.internal)
	require.Equal(t, sys, l.system)
}

func TestListenersAddGetDelete(t *testing.T) {
	l := New(nil)

	l.Add(NewMockListener("t1", ":1882"))
	require.Equal(t, 1, l.Len())

	mock, ok := l.Get("t1")
	require.True(t, ok)
	require.Equal(t, "t1", mock.ID())

	_, ok = l.Get("t2")
	require.False(t, ok)

	l.Delete("t1")
	require.Equal(t, 0, l.Len())
}

func TestListenersServeAndCloseAll(t *testing.T) {
	l := New(nil)

	m1 := NewMockListener("t1", ":1882")
	m2 := NewMockListener("t2", ":1883")
	l.Add(m1)
	l.Add(m2)
	require.NoError(t, m1.Listen(nil))
	require.NoError(t, m2.Listen(nil))

	l.ServeAll(MockEstablisher)
	require.Eventually(t, func() bool {
		return m1.IsServing() && m2.IsServing()
	}, time.Second, 5*time.Millisecond)

	closed := make(map[string]bool)
	l.CloseAll(func(id string) {
		closed[id] = true
	})
	require.True(t, closed["t1"])
	require.True(t, closed["t2"])
	require.False(t, m1.IsServing())
	require.False(t, m2.IsServing())
}

func TestMockListenerListenFailure(t *testing.T) {
	m := NewMockListener("t1", ":1882")
	m.ErrListen = true
	require.Error(t, m.Listen(nil))
}

func TestConfigWithoutAuthDisallows(t *testing.T) {
	l := NewTCP("t1", ":0")
	l.SetConfig(&Config{})
	require.IsType(t, new(auth.Disallow), l.config.Auth)

	l.SetConfig(&Config{Auth: new(auth.Allow)})
	require.IsType(t, new(auth.Allow), l.config.Auth)
}
