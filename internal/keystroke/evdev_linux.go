//go:build linux

package keystroke

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Event types and codes from linux/input-event-codes.h.
const (
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03

	relX = 0x00
	relY = 0x01
	absX = 0x00
	absY = 0x01

	evBitKey = 1 << evKey
	evBitRel = 1 << evRel
	evBitRep = 1 << 0x14

	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2

	btnMisc = 0x100
)

var (
	timevalSize = int(unsafe.Sizeof(unix.Timeval{}))
	eventSize   = timevalSize + 8
)

// evdevSource reads keyboards and mice from /dev/input/event*.
// All devices are multiplexed with poll(2) on one goroutine, so the handler
// is never called concurrently.
type evdevSource struct {
	baseSource
	opts   Options
	log    *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	fds    []int

	mods modifierState
	x, y float64
}

func newPlatformSource(opts Options) Source {
	return &evdevSource{opts: opts}
}

// inputDevice is one entry of /proc/bus/input/devices.
type inputDevice struct {
	Name     string
	Path     string
	Keyboard bool
	Mouse    bool
}

// parseDevices reads the /proc/bus/input/devices format.
func parseDevices(r io.Reader) []inputDevice {
	var (
		devices  []inputDevice
		cur      inputDevice
		handlers []string
		evBits   uint64
	)

	flush := func() {
		if cur.Path != "" {
			hasKbd, hasMouse := false, false
			for _, h := range handlers {
				if h == "kbd" {
					hasKbd = true
				}
				if strings.HasPrefix(h, "mouse") {
					hasMouse = true
				}
			}
			cur.Keyboard = hasKbd && evBits&evBitKey != 0 && evBits&evBitRep != 0
			cur.Mouse = hasMouse && evBits&evBitRel != 0
			if cur.Keyboard || cur.Mouse {
				devices = append(devices, cur)
			}
		}
		cur, handlers, evBits = inputDevice{}, nil, 0
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "N: Name="):
			cur.Name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)
		case strings.HasPrefix(line, "H: Handlers="):
			handlers = strings.Fields(strings.TrimPrefix(line, "H: Handlers="))
			for _, h := range handlers {
				if strings.HasPrefix(h, "event") {
					cur.Path = "/dev/input/" + h
				}
			}
		case strings.HasPrefix(line, "B: EV="):
			evBits, _ = strconv.ParseUint(strings.TrimPrefix(line, "B: EV="), 16, 64)
		}
	}
	flush()
	return devices
}

func (s *evdevSource) devicePaths() ([]string, error) {
	if len(s.opts.Devices) > 0 {
		return s.opts.Devices, nil
	}

	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var paths []string
	for _, d := range parseDevices(f) {
		if d.Keyboard || (s.opts.Mouse && d.Mouse) {
			paths = append(paths, d.Path)
		}
	}
	return paths, nil
}

// Available checks if we can read at least one input device.
func (s *evdevSource) Available() (bool, string) {
	paths, err := s.devicePaths()
	if err != nil {
		return false, fmt.Sprintf("cannot enumerate input devices: %v", err)
	}
	if len(paths) == 0 {
		return false, "no keyboard devices found"
	}

	for _, p := range paths {
		fd, err := unix.Open(p, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err == nil {
			unix.Close(fd)
			return true, fmt.Sprintf("reading %d input device(s)", len(paths))
		}
	}
	return false, "cannot read input devices (need to be in 'input' group or run as root)"
}

// Start opens every device and begins delivering events.
func (s *evdevSource) Start(ctx context.Context, handler Handler) error {
	if s.IsRunning() {
		return ErrAlreadyRunning
	}

	paths, err := s.devicePaths()
	if err != nil || len(paths) == 0 {
		return ErrNotAvailable
	}

	s.log = s.opts.Logger
	if s.log == nil {
		s.log = slog.Default()
	}

	var denied bool
	s.fds = s.fds[:0]
	for _, p := range paths {
		fd, err := unix.Open(p, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
				denied = true
			}
			s.log.Debug("skip input device", "path", p, "error", err)
			continue
		}
		s.fds = append(s.fds, fd)
	}
	if len(s.fds) == 0 {
		if denied {
			return ErrPermissionDenied
		}
		return ErrNotAvailable
	}

	if err := s.begin(handler); err != nil {
		s.closeFDs()
		return err
	}

	var loopCtx context.Context
	loopCtx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.readLoop(loopCtx)

	s.log.Info("input hook installed", "devices", len(s.fds))
	return nil
}

func (s *evdevSource) readLoop(ctx context.Context) {
	defer close(s.done)

	pfds := make([]unix.PollFd, len(s.fds))
	for i, fd := range s.fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}
	buf := make([]byte, eventSize*64)
	live := len(pfds)

	for live > 0 {
		if ctx.Err() != nil {
			return
		}

		n, err := unix.Poll(pfds, 250)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			s.log.Error("poll input devices", "error", err)
			return
		}
		if n == 0 {
			continue
		}

		for i := range pfds {
			re := pfds[i].Revents
			if re == 0 || pfds[i].Fd < 0 {
				continue
			}
			if re&unix.POLLIN != 0 {
				s.drain(int(pfds[i].Fd), buf)
			}
			if re&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
				s.log.Warn("input device went away", "fd", pfds[i].Fd)
				pfds[i].Fd = -1
				live--
			}
		}
	}
}

func (s *evdevSource) drain(fd int, buf []byte) {
	for {
		n, err := unix.Read(fd, buf)
		if err != nil || n <= 0 {
			return
		}
		for off := 0; off+eventSize <= n; off += eventSize {
			s.process(decodeEvent(buf[off : off+eventSize]))
		}
	}
}

// kernelEvent is a decoded struct input_event.
type kernelEvent struct {
	Time  time.Time
	Type  uint16
	Code  uint16
	Value int32
}

func decodeEvent(b []byte) kernelEvent {
	var sec, usec int64
	if timevalSize == 16 {
		sec = int64(binary.LittleEndian.Uint64(b[0:8]))
		usec = int64(binary.LittleEndian.Uint64(b[8:16]))
	} else {
		sec = int64(int32(binary.LittleEndian.Uint32(b[0:4])))
		usec = int64(int32(binary.LittleEndian.Uint32(b[4:8])))
	}
	t := b[timevalSize:]
	return kernelEvent{
		Time:  time.Unix(sec, usec*int64(time.Microsecond)),
		Type:  binary.LittleEndian.Uint16(t[0:2]),
		Code:  binary.LittleEndian.Uint16(t[2:4]),
		Value: int32(binary.LittleEndian.Uint32(t[4:8])),
	}
}

// process turns one kernel event into zero or one RawEvent.
func (s *evdevSource) process(ev kernelEvent) {
	switch ev.Type {
	case evRel:
		switch ev.Code {
		case relX:
			s.x = max(0, s.x+float64(ev.Value))
		case relY:
			s.y = max(0, s.y+float64(ev.Value))
		}

	case evAbs:
		switch ev.Code {
		case absX:
			s.x = float64(ev.Value)
		case absY:
			s.y = float64(ev.Value)
		}

	case evKey:
		code := int(ev.Code)
		if code == BtnLeft || code == BtnRight {
			if ev.Value != keyPress || !s.opts.Mouse {
				return
			}
			kind := LeftClick
			if code == BtnRight {
				kind = RightClick
			}
			x, y := s.x, s.y
			s.deliver(RawEvent{Kind: kind, Timestamp: ev.Time, Modifiers: s.mods.current(), X: &x, Y: &y})
			return
		}
		if code >= btnMisc || ev.Value == keyRepeat {
			return
		}

		down := ev.Value == keyPress
		s.mods.apply(code, down)

		raw := RawEvent{Kind: KeyUp, Code: code, Timestamp: ev.Time, Modifiers: s.mods.current()}
		if down {
			raw.Kind = KeyDown
			if ModifierFor(code) == 0 {
				raw.Char, _ = CharFor(code, raw.Modifiers)
			}
		}
		s.deliver(raw)
	}
}

// Stop removes the hook and waits for the read loop to exit.
func (s *evdevSource) Stop() error {
	if !s.IsRunning() {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.closeFDs()
	s.end()
	return nil
}

func (s *evdevSource) closeFDs() {
	for _, fd := range s.fds {
		unix.Close(fd)
	}
	s.fds = nil
}
