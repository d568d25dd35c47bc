package simulator

import (
	"strings"
	"testing"
	"time"
)

// exchange writes line and returns everything the device answered.
func exchange(t *testing.T, d *Device, line string) string {
	t.Helper()
	if _, err := d.Write([]byte(line + "\n")); err != nil {
		t.Fatal(err)
	}
	var out []byte
	buf := make([]byte, 64)
	for {
		n, err := d.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			return string(out)
		}
		out = append(out, buf[:n]...)
	}
}

func openTimed(t *testing.T) *Device {
	d := New().Open()
	if err := d.SetReadTimeout(time.Millisecond); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestQueries(t *testing.T) {
	d := openTimed(t)
	tests := []struct {
		in, out string
	}{
		{"^?,@", "^!,@\n"},
		{"^?,i", "^!,i,77,2.3,2.0,n,15\n"},
		{"^?,c", "^!,c,n,0,0\n"},
		{"^?,s", "^!,n,0\n"},
		{"^?,x", "^!,ERR2\n"},
		{"^?,ii", "^!,ERR3\n"},
		{"^#,i", "^!,ERR1\n"},
		{"garbage", ""},
	}
	for _, test := range tests {
		if got := exchange(t, d, test.in); got != test.out {
			t.Errorf("%q: expected %q, got %q", test.in, test.out, got)
		}
	}
}

func TestSets(t *testing.T) {
	d := openTimed(t)
	lines := []string{
		"^!,c,1,2,3",
		"^!,d,1",
		"^!,n,2",
		"^!,s,0,first",
	}
	for i := 0; i < NumPWMs; i++ {
		lines = append(lines, "^!,p,"+string(rune('0'+i))+",a,1,125,50,-10")
	}
	lines = append(lines, "^!,s,1,second")
	for _, l := range lines {
		if got := exchange(t, d, l); got != "" {
			t.Fatalf("%q: unexpected reply %q", l, got)
		}
	}
	if len(d.Slots()) != 0 {
		t.Fatal("slots committed before the last pwm of the last slot")
	}
	for i := 0; i < NumPWMs; i++ {
		exchange(t, d, "^!,p,"+string(rune('0'+i))+",b,2,0,100,0")
	}

	if d.Password() != [3]int{1, 2, 3} || d.DefaultSlot() != 1 {
		t.Errorf("unexpected password %v or default %d", d.Password(), d.DefaultSlot())
	}
	slots := d.Slots()
	if len(slots) != 2 || slots[0].Name != "first" || slots[1].Name != "second" {
		t.Fatalf("unexpected slots %+v", slots)
	}
	if p := slots[0].PWMs[7]; p != (PWM{Name: "a", Mode: 1, Frq: 125, Dty: 50, Phs: -10}) {
		t.Errorf("unexpected pwm %+v", p)
	}

	reply := exchange(t, d, "^?,s")
	if n := strings.Count(reply, "\n"); n != 1+2*(1+NumPWMs) {
		t.Errorf("expected %d lines, got %d", 1+2*(1+NumPWMs), n)
	}
	if !strings.HasPrefix(reply, "^!,n,2\n^!,s,0,first\n^!,p,0,a,1,125,50,-10\n") {
		t.Errorf("unexpected slots reply %q", reply)
	}
}

func TestMuteAndClose(t *testing.T) {
	d := openTimed(t)
	d.Mute = true
	if got := exchange(t, d, "^?,@"); got != "" {
		t.Errorf("muted device replied %q", got)
	}
	if r := d.Received(); len(r) != 1 || r[0] != "^?,@" {
		t.Errorf("unexpected received lines %q", r)
	}

	d.Close()
	if _, err := d.Write([]byte("^?,@\n")); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if d.Open(); d.Closed() || d.Opened() != 2 {
		t.Error("expected device to be open again")
	}
}

func TestAtoi(t *testing.T) {
	for in, out := range map[string]int{"12": 12, "-3": -3, "7x": 7, "x": 0, "": 0, " 4": 4} {
		if got := atoi(in); got != out {
			t.Errorf("atoi(%q): expected %d, got %d", in, out, got)
		}
	}
}
