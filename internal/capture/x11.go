package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/record"
	"github.com/jezek/xgb/xproto"

	"github.com/dooshek/keymon/internal/logger"
)

// X11Source records device events from every client with the RECORD
// extension.
type X11Source struct {
	display     string
	dialTimeout time.Duration

	mu      sync.Mutex
	ctrl    *xgb.Conn
	data    net.Conn
	context record.Context
	opened  bool

	keysyms atomic.Pointer[keysymTable]
}

func NewX11Source(display string) *X11Source {
	return &X11Source{display: display, dialTimeout: 5 * time.Second}
}

func (s *X11Source) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}

	ctrl, err := xgb.NewConnDisplay(s.display)
	if err != nil {
		return fmt.Errorf("failed to connect to X display %q: %w", s.display, err)
	}
	fail := func(err error) error {
		ctrl.Close()
		return err
	}

	if err := record.Init(ctrl); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrExtensionMissing, err))
	}
	ver, err := record.QueryVersion(ctrl, 1, 13).Reply()
	if err != nil {
		return fail(fmt.Errorf("failed to query RECORD version: %w", err))
	}
	logger.Debugf("RECORD extension version %d.%d", ver.MajorVersion, ver.MinorVersion)

	if err := s.loadKeysyms(ctrl); err != nil {
		logger.Warnf("Could not read keyboard mapping, observed names disabled: %v", err)
	}

	rc, err := record.NewContextId(ctrl)
	if err != nil {
		return fail(fmt.Errorf("failed to allocate record context: %w", err))
	}
	ranges := []record.Range{{
		DeviceEvents: record.Range8{First: xproto.KeyPress, Last: xproto.MotionNotify},
	}}
	err = record.CreateContextChecked(ctrl, rc, 0, 1, uint32(len(ranges)),
		[]record.ClientSpec{record.CsAllClients}, ranges).Check()
	if err != nil {
		return fail(fmt.Errorf("failed to create record context: %w", err))
	}

	ctrl.ExtLock.RLock()
	opcode, ok := ctrl.Extensions["RECORD"]
	ctrl.ExtLock.RUnlock()
	if !ok {
		record.FreeContext(ctrl, rc)
		return fail(ErrExtensionMissing)
	}

	data, err := dialData(s.display, s.dialTimeout)
	if err != nil {
		record.FreeContext(ctrl, rc)
		return fail(fmt.Errorf("failed to open record data connection: %w", err))
	}
	if err := enableContext(data, opcode, uint32(rc)); err != nil {
		data.Close()
		record.FreeContext(ctrl, rc)
		return fail(fmt.Errorf("failed to enable record context: %w", err))
	}

	s.ctrl, s.data, s.context, s.opened = ctrl, data, rc, true
	go s.watchMapping(ctrl)
	logger.Infof("Recording X11 input events on display %q", s.display)
	return nil
}

func (s *X11Source) loadKeysyms(c *xgb.Conn) error {
	setup := xproto.Setup(c)
	min, max := setup.MinKeycode, setup.MaxKeycode
	reply, err := xproto.GetKeyboardMapping(c, min, byte(max-min+1)).Reply()
	if err != nil {
		return err
	}
	s.keysyms.Store(newKeysymTable(byte(min), reply.KeysymsPerKeycode, reply.Keysyms))
	return nil
}

// watchMapping refreshes the keysym table when the keyboard mapping changes.
// It exits when the control connection is closed.
func (s *X11Source) watchMapping(c *xgb.Conn) {
	for {
		ev, err := c.WaitForEvent()
		if ev == nil && err == nil {
			return
		}
		if err != nil {
			logger.Debugf("X control connection error: %v", err)
			continue
		}
		if m, ok := ev.(xproto.MappingNotifyEvent); ok && m.Request == xproto.MappingKeyboard {
			if err := s.loadKeysyms(c); err != nil {
				logger.Error("Failed to refresh keyboard mapping", err)
				continue
			}
			logger.Debug("Keyboard mapping changed, keysym table refreshed")
		}
	}
}

func (s *X11Source) Read(ctx context.Context, emit func(RawEvent)) error {
	s.mu.Lock()
	data := s.data
	s.mu.Unlock()
	if data == nil {
		return errors.New("x11 source is not open")
	}

	names := func(keycode byte) string {
		return s.keysyms.Load().lookup(keycode)
	}
	for {
		reply, err := readRecordReply(data)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("record stream: %w", err)
		}

		switch reply.category {
		case recordStartOfData:
			logger.Debug("Record stream started")
		case recordFromServer:
			events, err := decodeDeviceEvents(reply.data, time.Now(), names)
			if err != nil {
				logger.Warnf("Skipping malformed record: %v", err)
			}
			for _, ev := range events {
				emit(ev)
			}
		case recordEndOfData:
			if ctx.Err() != nil {
				return nil
			}
			return errors.New("record context ended")
		}
	}
}

// Close disables the record context and drops both connections.
func (s *X11Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	s.opened = false

	var errs []error
	if err := record.DisableContextChecked(s.ctrl, s.context).Check(); err != nil {
		errs = append(errs, err)
	}
	if err := s.data.Close(); err != nil {
		errs = append(errs, err)
	}
	record.FreeContext(s.ctrl, s.context)
	s.ctrl.Close()
	s.ctrl, s.data = nil, nil
	return errors.Join(errs...)
}
