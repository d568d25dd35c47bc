package pwmbox

import (
	"errors"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"handshake", HandshakeRequest(), "^?,@\n"},
		{"info", InfoRequest(), "^?,i\n"},
		{"password get", PasswordRequest(), "^?,c\n"},
		{"slots", SlotsRequest(), "^?,s\n"},
		{"password set", PasswordSet(Password{1, 2, 3}), "^!,c,1,2,3\n"},
		{"default", DefaultSet(4), "^!,d,4\n"},
		{"count", SlotCountAnnounce(3), "^!,n,3\n"},
		{"slot name", SlotNameAnnounce(2, "evening"), "^!,s,2,evening\n"},
		{"channel", ChannelAnnounce(7, NewChannel("fan", PWM, 12.5, 40, -10)), "^!,p,7,fan,1,125,40,-10\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestChannelRoundTrip(t *testing.T) {
	ch := NewChannel("beacon", PWM, 123.46, 55, -25)
	line := ChannelAnnounce(3, ch)
	if line != "^!,p,3,beacon,1,1235,55,-25\n" {
		t.Fatalf("announce = %q", line)
	}
	idx, got, err := DecodeChannel(line)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 3 {
		t.Errorf("index = %d, want 3", idx)
	}
	want := NewChannel("beacon", PWM, 123.5, 55, -25)
	if got != want {
		t.Errorf("decoded %v, want %v", got, want)
	}
}

func TestIsHandshakeAck(t *testing.T) {
	for line, want := range map[string]bool{
		"^!,@":         true,
		"^!,@\r\n":     true,
		"garbage^!,@":  true,
		"^?,@":         false,
		"":             false,
		"^!,ERR2":      false,
		"hello world!": false,
	} {
		if got := IsHandshakeAck(line); got != want {
			t.Errorf("IsHandshakeAck(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestDecodeInfo(t *testing.T) {
	info, err := DecodeInfo("^!,i,1001,2.1,1.0,n,10\n")
	if err != nil {
		t.Fatal(err)
	}
	want := Info{SerialNumber: 1001, HardwareVersion: 2.1, SoftwareVersion: 1.0, DefaultPreset: NoDefault, MaxPresets: 10}
	if info != want {
		t.Errorf("got %+v, want %+v", info, want)
	}
	if info.HasDefault() {
		t.Error("HasDefault() should be false")
	}

	info, err = DecodeInfo("^!,i,77,2.3,2.0,4,15")
	if err != nil {
		t.Fatal(err)
	}
	if !info.HasDefault() || info.DefaultPreset != 4 || info.MaxPresets != 15 {
		t.Errorf("got %+v", info)
	}
}

func TestDecodePassword(t *testing.T) {
	p, err := DecodePassword("^!,c,n,0,0\n")
	if err != nil {
		t.Fatal(err)
	}
	if p != UnsetPassword || p.IsSet() {
		t.Errorf("got %v, want unset", p)
	}

	p, err = DecodePassword("^!,c,3,1,4")
	if err != nil {
		t.Fatal(err)
	}
	if p != (Password{3, 1, 4}) || !p.IsSet() {
		t.Errorf("got %v", p)
	}
}

func TestDecodeSlots(t *testing.T) {
	n, err := DecodeSlotCount("^!,n,3\n")
	if err != nil || n != 3 {
		t.Errorf("DecodeSlotCount = %d, %v", n, err)
	}

	idx, name, err := DecodeSlotHeader("^!,s,2,a,b\n")
	if err != nil {
		t.Fatal(err)
	}
	if idx != 2 || name != "a,b" {
		t.Errorf("DecodeSlotHeader = %d, %q", idx, name)
	}

	_, name, err = DecodeSlotHeader("^!,s,0,")
	if err != nil || name != "" {
		t.Errorf("empty name: %q, %v", name, err)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		decode func() error
	}{
		{"info wrong command", func() error { _, err := DecodeInfo("^!,c,n,0,0"); return err }},
		{"info missing field", func() error { _, err := DecodeInfo("^!,i,1,2.1,1.0,n"); return err }},
		{"info bad serial", func() error { _, err := DecodeInfo("^!,i,x,2.1,1.0,n,10"); return err }},
		{"info bad version", func() error { _, err := DecodeInfo("^!,i,1,v2,1.0,n,10"); return err }},
		{"password bad digit", func() error { _, err := DecodePassword("^!,c,1,x,3"); return err }},
		{"count request direction", func() error { _, err := DecodeSlotCount("^?,n,3"); return err }},
		{"count negative", func() error { _, err := DecodeSlotCount("^!,n,-1"); return err }},
		{"count no start char", func() error { _, err := DecodeSlotCount("!,n,3"); return err }},
		{"slot header no name", func() error { _, _, err := DecodeSlotHeader("^!,s,1"); return err }},
		{"channel too many fields", func() error { _, _, err := DecodeChannel("^!,p,0,a,b,1,100,50,0"); return err }},
		{"channel bad frequency", func() error { _, _, err := DecodeChannel("^!,p,0,a,1,12.5,50,0"); return err }},
		{"channel is slot", func() error { _, _, err := DecodeChannel("^!,s,0,a"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode()
			var derr *DecodeError
			if !errors.As(err, &derr) {
				t.Fatalf("expected *DecodeError, got %v", err)
			}
			if errors.Is(err, ErrReadTimeout) {
				t.Error("decode error must not be a timeout")
			}
		})
	}
}

func TestDecodeDeviceError(t *testing.T) {
	_, err := DecodeInfo("^!,ERR2\n")
	var derr *DeviceError
	if !errors.As(err, &derr) {
		t.Fatalf("expected *DeviceError, got %v", err)
	}
	if derr.Code != 2 {
		t.Errorf("code = %d, want 2", derr.Code)
	}
}
