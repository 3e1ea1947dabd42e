package dbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/dooshek/keymon/internal/indicator"
	"github.com/dooshek/keymon/internal/logger"
)

const (
	dbusServiceName = "com.dooshek.keymon"
	dbusObjectPath  = "/com/dooshek/keymon/Indicators"
	dbusInterface   = "com.dooshek.keymon.Indicators"

	callTimeout = 2 * time.Second
)

// Controller is the part of the poll loop the bus methods reach.
type Controller interface {
	Inject(ctx context.Context, name string, pressed bool) error
	Snapshot(ctx context.Context) ([]indicator.SlotState, error)
	Counters() indicator.Counters
}

// Server exposes injection and state over the session bus and emits a
// SlotChanged signal for every slot change, so it doubles as a renderer.
type Server struct {
	ctl    Controller
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *dbus.Conn
}

func NewServer(ctl Controller) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{ctl: ctl, ctx: ctx, cancel: cancel}
}

// Start starts the D-Bus server
func (s *Server) Start() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(dbusServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("name already taken")
	}

	if err := conn.Export(s, dbusObjectPath, dbusInterface); err != nil {
		conn.Close()
		return fmt.Errorf("failed to export object: %w", err)
	}

	err = conn.Export(introspect.NewIntrospectable(introspectNode()), dbusObjectPath, "org.freedesktop.DBus.Introspectable")
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to export introspectable: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	logger.Infof("🔌 D-Bus service started: %s", dbusServiceName)
	return nil
}

func introspectNode() *introspect.Node {
	return &introspect.Node{
		Name: dbusObjectPath,
		Interfaces: []introspect.Interface{{
			Name: dbusInterface,
			Methods: []introspect.Method{
				{
					Name: "Inject",
					Args: []introspect.Arg{
						{Name: "name", Type: "s", Direction: "in"},
						{Name: "pressed", Type: "b", Direction: "in"},
					},
				},
				{
					Name: "GetSlots",
					Args: []introspect.Arg{
						{Name: "slots", Type: "a(ssb)", Direction: "out"},
					},
				},
				{
					Name: "GetStats",
					Args: []introspect.Arg{
						{Name: "stats", Type: "a{st}", Direction: "out"},
					},
				},
			},
			Signals: []introspect.Signal{
				{
					Name: "SlotChanged",
					Args: []introspect.Arg{
						{Name: "slot", Type: "s"},
						{Name: "symbol", Type: "s"},
						{Name: "active", Type: "b"},
					},
				},
			},
		}},
	}
}

// Stop stops the D-Bus server
func (s *Server) Stop() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	logger.Infof("🔌 D-Bus service stopped")
}

// Wait waits for the server context to be cancelled
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// Inject feeds a synthetic press or release (D-Bus method)
func (s *Server) Inject(name string, pressed bool) *dbus.Error {
	logger.Debugf("D-Bus: Inject %s pressed=%v", name, pressed)

	ctx, cancel := context.WithTimeout(s.ctx, callTimeout)
	defer cancel()
	if err := s.ctl.Inject(ctx, name, pressed); err != nil {
		if errors.Is(err, indicator.ErrUnknownKey) {
			return dbus.NewError(dbusInterface+".UnknownKey", []interface{}{err.Error()})
		}
		return dbus.MakeFailedError(err)
	}
	return nil
}

// SlotInfo is one GetSlots entry.
type SlotInfo struct {
	ID     string
	Symbol string
	Active bool
}

// GetSlots returns what every slot shows (D-Bus method)
func (s *Server) GetSlots() ([]SlotInfo, *dbus.Error) {
	ctx, cancel := context.WithTimeout(s.ctx, callTimeout)
	defer cancel()
	states, err := s.ctl.Snapshot(ctx)
	if err != nil {
		return nil, dbus.MakeFailedError(err)
	}
	out := make([]SlotInfo, len(states))
	for i, st := range states {
		out[i] = SlotInfo{ID: st.ID, Symbol: st.Symbol, Active: !st.Idle}
	}
	return out, nil
}

// GetStats returns the machine counters (D-Bus method)
func (s *Server) GetStats() (map[string]uint64, *dbus.Error) {
	c := s.ctl.Counters()
	return map[string]uint64{
		"events":     c.Events,
		"keys":       c.Keys,
		"buttons":    c.Buttons,
		"scrolls":    c.Scrolls,
		"moves":      c.Moves,
		"unresolved": c.Unresolved,
		"suppressed": c.Suppressed,
		"injected":   c.Injected,
		"displays":   c.Displays,
		"clears":     c.Clears,
	}, nil
}

func (s *Server) Display(slot, symbol string) {
	s.emitSignal("SlotChanged", slot, symbol, true)
}

func (s *Server) Clear(slot string) {
	s.emitSignal("SlotChanged", slot, "", false)
}

func (s *Server) MovePointer(x, y int) {}

// emitSignal emits a D-Bus signal. Before Start it is a no-op.
func (s *Server) emitSignal(name string, args ...interface{}) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	err := conn.Emit(dbus.ObjectPath(dbusObjectPath), dbusInterface+"."+name, args...)
	if err != nil {
		logger.Errorf("D-Bus: Failed to emit signal %s", err, name)
	}
}
