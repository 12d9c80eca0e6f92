//go:build linux

package keystroke

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"
)

const procDevices = `I: Bus=0011 Vendor=0001 Product=0001 Version=ab41
N: Name="AT Translated Set 2 keyboard"
P: Phys=isa0060/serio0/input0
H: Handlers=sysrq kbd leds event3
B: PROP=0
B: EV=120013
B: KEY=402000000 3803078f800d001 feffffdfffefffff fffffffffffffffe

I: Bus=0003 Vendor=046d Product=c077 Version=0111
N: Name="Logitech USB Optical Mouse"
H: Handlers=mouse0 event5
B: PROP=0
B: EV=17
B: KEY=70000 0 0 0 0
B: REL=903

I: Bus=0019 Vendor=0000 Product=0001 Version=0000
N: Name="Power Button"
H: Handlers=kbd event0
B: PROP=0
B: EV=3
B: KEY=10000000000000 0
`

func TestParseDevices(t *testing.T) {
	devices := parseDevices(strings.NewReader(procDevices))
	if len(devices) != 2 {
		t.Fatalf("expected keyboard and mouse, got %+v", devices)
	}

	kbd := devices[0]
	if kbd.Path != "/dev/input/event3" || !kbd.Keyboard || kbd.Mouse {
		t.Errorf("keyboard parsed as %+v", kbd)
	}
	if kbd.Name != "AT Translated Set 2 keyboard" {
		t.Errorf("name = %q", kbd.Name)
	}

	mouse := devices[1]
	if mouse.Path != "/dev/input/event5" || !mouse.Mouse || mouse.Keyboard {
		t.Errorf("mouse parsed as %+v", mouse)
	}
}

func encodeEvent(sec, usec int64, typ, code uint16, value int32) []byte {
	b := make([]byte, eventSize)
	if timevalSize == 16 {
		binary.LittleEndian.PutUint64(b[0:8], uint64(sec))
		binary.LittleEndian.PutUint64(b[8:16], uint64(usec))
	} else {
		binary.LittleEndian.PutUint32(b[0:4], uint32(sec))
		binary.LittleEndian.PutUint32(b[4:8], uint32(usec))
	}
	t := b[timevalSize:]
	binary.LittleEndian.PutUint16(t[0:2], typ)
	binary.LittleEndian.PutUint16(t[2:4], code)
	binary.LittleEndian.PutUint32(t[4:8], uint32(value))
	return b
}

func TestDecodeEvent(t *testing.T) {
	ev := decodeEvent(encodeEvent(1700000000, 250000, evKey, 30, keyPress))

	if ev.Type != evKey || ev.Code != 30 || ev.Value != keyPress {
		t.Errorf("decoded %+v", ev)
	}
	want := time.Unix(1700000000, 250000*1000)
	if !ev.Time.Equal(want) {
		t.Errorf("time = %v, want %v", ev.Time, want)
	}

	rel := decodeEvent(encodeEvent(1, 0, evRel, relX, -7))
	if rel.Value != -7 {
		t.Errorf("negative value decoded as %d", rel.Value)
	}
}

func newTestSource(mouse bool) (*evdevSource, *recorder) {
	s := &evdevSource{opts: Options{Mouse: mouse}}
	rec := &recorder{}
	s.handler = rec.handle
	s.running = true
	return s, rec
}

func TestProcessKeys(t *testing.T) {
	s, rec := newTestSource(false)
	at := time.Unix(100, 0)

	s.process(kernelEvent{Time: at, Type: evKey, Code: KeyLeftShift, Value: keyPress})
	s.process(kernelEvent{Time: at, Type: evKey, Code: 35, Value: keyPress})
	s.process(kernelEvent{Time: at, Type: evKey, Code: 35, Value: keyRepeat})
	s.process(kernelEvent{Time: at, Type: evKey, Code: 35, Value: keyRelease})
	s.process(kernelEvent{Time: at, Type: evKey, Code: KeyLeftShift, Value: keyRelease})

	events := rec.snapshot()
	if len(events) != 4 {
		t.Fatalf("expected 4 events (repeat dropped), got %d", len(events))
	}
	if events[0].Kind != KeyDown || events[0].Char != "" || !events[0].Modifiers.Has(ModShift) {
		t.Errorf("shift down %+v", events[0])
	}
	if events[1].Char != "H" || events[1].Code != 35 {
		t.Errorf("H down %+v", events[1])
	}
	if events[2].Kind != KeyUp || events[2].Char != "" {
		t.Errorf("H up %+v", events[2])
	}
	if events[3].Modifiers.Has(ModShift) {
		t.Errorf("shift still held after release: %+v", events[3])
	}
}

func TestProcessClicks(t *testing.T) {
	s, rec := newTestSource(true)
	at := time.Unix(100, 0)

	s.process(kernelEvent{Time: at, Type: evRel, Code: relX, Value: 30})
	s.process(kernelEvent{Time: at, Type: evRel, Code: relY, Value: 12})
	s.process(kernelEvent{Time: at, Type: evRel, Code: relY, Value: -50})
	s.process(kernelEvent{Time: at, Type: evKey, Code: BtnLeft, Value: keyPress})
	s.process(kernelEvent{Time: at, Type: evKey, Code: BtnLeft, Value: keyRelease})
	s.process(kernelEvent{Time: at, Type: evAbs, Code: absX, Value: 640})
	s.process(kernelEvent{Time: at, Type: evKey, Code: BtnRight, Value: keyPress})

	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 clicks, got %d", len(events))
	}
	if events[0].Kind != LeftClick || *events[0].X != 30 || *events[0].Y != 0 {
		t.Errorf("left click %+v x=%v y=%v", events[0], *events[0].X, *events[0].Y)
	}
	if events[1].Kind != RightClick || *events[1].X != 640 {
		t.Errorf("right click %+v", events[1])
	}
	if events[0].Code != 0 {
		t.Error("clicks carry no key code")
	}
}

func TestProcessClicksIgnoredWithoutMouse(t *testing.T) {
	s, rec := newTestSource(false)
	s.process(kernelEvent{Type: evKey, Code: BtnLeft, Value: keyPress})
	if len(rec.snapshot()) != 0 {
		t.Error("clicks should be ignored when mouse capture is off")
	}
}

func TestStartWithMissingDevice(t *testing.T) {
	s := &evdevSource{opts: Options{Devices: []string{"/nonexistent/event99"}}}
	if err := s.Start(t.Context(), func(RawEvent) {}); err != ErrNotAvailable {
		t.Errorf("Start = %v, want ErrNotAvailable", err)
	}
	if ok, _ := s.Available(); ok {
		t.Error("Available should be false for a missing device")
	}
}
