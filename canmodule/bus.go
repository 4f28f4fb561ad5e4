package canmodule

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
	"golang.org/x/sys/unix"
)

// standard frame identifiers are 11 bits
const sffMask = unix.CAN_SFF_MASK

// recvRetryInterval throttles the receive loop while the socket keeps failing.
const recvRetryInterval = 10 * time.Millisecond

type sender interface {
	Send(frame canbus.Frame) (int, error)
	Close() error
}

type receiver interface {
	Recv() (canbus.Frame, error)
	Close() error
}

// FrameBus is what modules and the gyro need from a CAN bus.
type FrameBus interface {
	Send(frame canbus.Frame) error
	// Status returns the latest frame received with id, failing when none arrived
	// within maxAge.
	Status(id uint32, maxAge time.Duration) (canbus.Frame, error)
}

type stamped struct {
	frame canbus.Frame
	at    time.Time
}

// Bus sends setpoint frames and keeps the latest telemetry frame per ID, updated by a
// background receive worker.
type Bus struct {
	logger logging.Logger
	clock  clock.Clock

	txMu sync.Mutex
	tx   sender
	rx   receiver

	mu     sync.RWMutex
	latest map[uint32]stamped

	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// Open binds a send socket and a receive socket filtered to statusIDs on channel,
// e.g. "can0".
func Open(channel string, statusIDs []uint32, clk clock.Clock, logger logging.Logger) (*Bus, error) {
	socketSend, err := canbus.New()
	if err != nil {
		return nil, err
	}
	if err := socketSend.Bind(channel); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "binding %s", channel), socketSend.Close())
	}

	socketRecv, err := canbus.New()
	if err != nil {
		return nil, multierr.Combine(err, socketSend.Close())
	}
	filters := make([]unix.CanFilter, 0, len(statusIDs))
	for _, id := range statusIDs {
		filters = append(filters, unix.CanFilter{Id: id, Mask: unix.CAN_SFF_MASK})
	}
	if err := socketRecv.SetFilters(filters); err != nil {
		return nil, multierr.Combine(err, socketSend.Close(), socketRecv.Close())
	}
	if err := socketRecv.Bind(channel); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "binding %s", channel), socketSend.Close(), socketRecv.Close())
	}

	return newBus(socketSend, socketRecv, clk, logger), nil
}

func newBus(tx sender, rx receiver, clk clock.Clock, logger logging.Logger) *Bus {
	cancelCtx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		logger: logger,
		clock:  clk,
		tx:     tx,
		rx:     rx,
		latest: map[uint32]stamped{},
		cancel: cancel,
	}
	b.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		b.receiveThread(cancelCtx)
	}, b.activeBackgroundWorkers.Done)
	return b
}

// receiveThread stores every received frame until ctx is done.
func (b *Bus) receiveThread(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := b.rx.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Errorw("CAN Rx error", "error", err)
			if !utils.SelectContextOrWait(ctx, recvRetryInterval) {
				return
			}
			continue
		}
		b.handle(frame)
	}
}

func (b *Bus) handle(frame canbus.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest[frame.ID] = stamped{frame: frame, at: b.clock.Now()}
}

// Send transmits frame immediately.
func (b *Bus) Send(frame canbus.Frame) error {
	b.txMu.Lock()
	defer b.txMu.Unlock()
	if _, err := b.tx.Send(frame); err != nil {
		return errors.Wrapf(err, "sending frame 0x%x", frame.ID)
	}
	return nil
}

// Status implements FrameBus.
func (b *Bus) Status(id uint32, maxAge time.Duration) (canbus.Frame, error) {
	b.mu.RLock()
	s, ok := b.latest[id]
	b.mu.RUnlock()
	if !ok {
		return canbus.Frame{}, errors.Errorf("no status received from 0x%x", id)
	}
	if age := b.clock.Since(s.at); maxAge > 0 && age > maxAge {
		return canbus.Frame{}, errors.Errorf("status from 0x%x is %v old", id, age)
	}
	return s.frame, nil
}

// Close stops the receive worker and closes both sockets.
func (b *Bus) Close() error {
	b.cancel()
	// closing the receive socket unblocks Recv
	err := b.rx.Close()
	b.activeBackgroundWorkers.Wait()
	b.txMu.Lock()
	defer b.txMu.Unlock()
	return multierr.Combine(err, b.tx.Close())
}
