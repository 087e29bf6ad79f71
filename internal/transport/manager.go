package transport

import (
	"context"
	"sync"

	"member_comms/pkg/logger"
)

// Connector opens one underlying connection.
type Connector func(ctx context.Context) (Transport, error)

// Manager owns the lifecycle of a shared connection. It connects when the
// first holder arrives and closes when the last one leaves, so components
// receive it explicitly instead of reaching for a process-wide socket.
type Manager struct {
	connect Connector
	log     logger.Logger

	mu       sync.Mutex
	conn     Transport
	refs     int
	connects int
}

type ManagerState struct {
	Connected bool
	Refs      int
	Connects  int
}

func NewManager(connect Connector, log logger.Logger) *Manager {
	return &Manager{connect: connect, log: log}
}

// Shared returns a Connector over a transport owned by the caller. The
// Manager's close is a no-op on t, so it can reconnect to it later.
func Shared(t Transport) Connector {
	return func(context.Context) (Transport, error) {
		return sharedTransport{t}, nil
	}
}

type sharedTransport struct {
	Transport
}

func (sharedTransport) Close() error { return nil }

// Acquire takes a reference on the connection, dialing if needed.
func (m *Manager) Acquire(ctx context.Context) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.ensureLocked(ctx); err != nil {
		return nil, err
	}
	m.refs++

	var once sync.Once
	return func() { once.Do(m.release) }, nil
}

func (m *Manager) ensureLocked(ctx context.Context) (Transport, error) {
	if m.conn != nil {
		return m.conn, nil
	}
	conn, err := m.connect(ctx)
	if err != nil {
		m.log.Error("Failed to open transport", "error", err)
		return nil, err
	}
	m.conn = conn
	m.connects++
	if m.connects > 1 {
		m.log.Info("Transport reconnected", "connects", m.connects)
	}
	return conn, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs--
	if m.refs > 0 || m.conn == nil {
		return
	}
	if err := m.conn.Close(); err != nil {
		m.log.Warn("Failed to close transport", "error", err)
	}
	m.conn = nil
}

// Publish uses the current connection. Publishing without any holder
// fails with ErrNotConnected.
func (m *Manager) Publish(ctx context.Context, topic string, ev Event) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Publish(ctx, topic, ev)
}

// Subscribe holds a reference for as long as the subscription is open.
func (m *Manager) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	m.mu.Lock()
	conn, err := m.ensureLocked(ctx)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	sub, err := conn.Subscribe(ctx, topic)
	if err != nil {
		if m.refs == 0 {
			conn.Close()
			m.conn = nil
		}
		m.mu.Unlock()
		return nil, err
	}
	m.refs++
	m.mu.Unlock()

	return &managedSub{Subscription: sub, m: m}, nil
}

func (m *Manager) State() ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ManagerState{Connected: m.conn != nil, Refs: m.refs, Connects: m.connects}
}

type managedSub struct {
	Subscription
	m    *Manager
	once sync.Once
}

func (s *managedSub) Close() error {
	var err error
	s.once.Do(func() {
		err = s.Subscription.Close()
		s.m.release()
	})
	return err
}
