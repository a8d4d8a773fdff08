package evreactor

import (
	"testing"

	"golang.org/x/sys/unix"
)

func noopCallback(int, Flag, any) {}

func TestValidateFlags(t *testing.T) {
	cases := []struct {
		name string
		f    Flag
		want bool
	}{
		{"read only", Read, true},
		{"write only", Write, true},
		{"read and write", Read | Write, true},
		{"signal only", Signal, true},
		{"timer only", Timer, true},
		{"no kind bits", Persist, false},
		{"two kinds", Read | Signal, false},
		{"signal and timer", Signal | Timer, false},
		{"reserved err set", Read | Err, false},
		{"reserved canceled set", Signal | Canceled, false},
		{"read write persist", Read | Write | Persist, true},
		{"signal edge trigger ignored at this layer", Signal | EdgeTrigger, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := validateFlags(c.f); got != c.want {
				t.Errorf("validateFlags(%v) = %v, want %v", c.f, got, c.want)
			}
		})
	}
}

func TestEvent_KindDerivation(t *testing.T) {
	cases := []struct {
		f    Flag
		want Kind
	}{
		{Read, KindIO},
		{Write, KindIO},
		{Read | Write, KindIO},
		{Signal, KindSignal},
		{Timer, KindTimer},
		{0, KindUnknown},
	}
	for _, c := range cases {
		ev := &Event{Flags: c.f}
		if got := ev.Kind(); got != c.want {
			t.Errorf("Event{Flags: %v}.Kind() = %v, want %v", c.f, got, c.want)
		}
	}
}

func TestEvent_ValidateIO(t *testing.T) {
	if err := (&Event{Flags: Read, Target: -1, Callback: noopCallback}).validate(); err == nil {
		t.Error("negative fd should fail validation")
	}
	if err := (&Event{Flags: Read, Target: 0, Callback: noopCallback}).validate(); err != nil {
		t.Errorf("fd 0 should validate, got %v", err)
	}
}

func TestEvent_ValidateSignal(t *testing.T) {
	if err := (&Event{Flags: Signal, Target: -1, Callback: noopCallback}).validate(); err == nil {
		t.Error("negative signal number should fail validation")
	}
	if err := (&Event{Flags: Signal, Target: numSignals, Callback: noopCallback}).validate(); err == nil {
		t.Error("signal number == numSignals should fail validation")
	}
	if err := (&Event{Flags: Signal, Target: int(unix.SIGUSR1), Callback: noopCallback}).validate(); err != nil {
		t.Errorf("SIGUSR1 should validate, got %v", err)
	}
}

func TestEvent_ValidateTimer(t *testing.T) {
	cases := []struct {
		name    string
		sec     int64
		nsec    int64
		wantErr bool
	}{
		{"zero deadline", 0, 0, true},
		{"zero seconds non-positive nanos", 0, -1, true},
		{"negative seconds", -1, 500, true},
		{"positive seconds", 1, 0, false},
		{"zero seconds positive nanos", 0, 1, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ev := &Event{Flags: Timer, Deadline: unix.Timespec{Sec: c.sec, Nsec: c.nsec}, Callback: noopCallback}
			err := ev.validate()
			if c.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !c.wantErr && err != nil {
				t.Errorf("expected no validation error, got %v", err)
			}
		})
	}
}

func TestEvent_ValidateNilCallback(t *testing.T) {
	ev := &Event{Flags: Read, Target: 0}
	if err := ev.validate(); err == nil {
		t.Error("nil callback should fail validation")
	}
}

func TestNewTimerEvent(t *testing.T) {
	deadline := unix.Timespec{Sec: 1, Nsec: 0}
	ev := NewTimerEvent(deadline, noopCallback, "ctx")
	if ev.Kind() != KindTimer {
		t.Errorf("NewTimerEvent kind = %v, want KindTimer", ev.Kind())
	}
	if ev.Target != -1 {
		t.Errorf("NewTimerEvent Target = %d, want -1", ev.Target)
	}
	if ev.Deadline != deadline {
		t.Errorf("NewTimerEvent Deadline = %v, want %v", ev.Deadline, deadline)
	}
	if ev.UserContext != "ctx" {
		t.Errorf("NewTimerEvent UserContext = %v, want ctx", ev.UserContext)
	}
	if err := ev.validate(); err != nil {
		t.Errorf("NewTimerEvent result should validate, got %v", err)
	}
}

func TestEvent_BoundAndUnboundOps(t *testing.T) {
	ev := &Event{Flags: Read, Callback: noopCallback}
	if ev.Bound() {
		t.Error("freshly constructed event should not be Bound")
	}
	if err := ev.Del(); err == nil || err.Code != NOT_EXISTS {
		t.Errorf("Del on unbound event = %v, want NOT_EXISTS", err)
	}
	if err := ev.Cancel(); err == nil || err.Code != NOT_EXISTS {
		t.Errorf("Cancel on unbound event = %v, want NOT_EXISTS", err)
	}
}
