package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/granasat/gopwmbox/pwmbox"
	"github.com/granasat/gopwmbox/pwmbox/simulator"
	"github.com/rkjdid/util"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

func simBox(t *testing.T, dev *simulator.Device, hub *Hub) *pwmbox.PWMBox {
	t.Helper()
	cfg := pwmbox.NewConfig()
	cfg.BootDelay = 0
	cfg.WriteDelay = 0
	cfg.HandshakeTimeout = util.Duration(10 * time.Millisecond)
	box, err := pwmbox.NewPWMBox(cfg,
		pwmbox.WithLogger(zerolog.Nop()),
		pwmbox.WithProgress(hub.Publish),
		pwmbox.WithPortLister(func() ([]pwmbox.PortInfo, error) {
			return []pwmbox.PortInfo{{Name: "sim0", Description: "USB Serial"}}, nil
		}),
		pwmbox.WithPortOpener(func(string, *serial.Mode) (pwmbox.Port, error) {
			return dev.Open(), nil
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { box.Close() })
	return box
}

func testServer(t *testing.T, dev *simulator.Device) (*Server, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	cfg := DefaultConfig
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	srv := NewServer("test", simBox(t, dev, hub), hub, &cfg, cfgPath)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func testSlots() []simulator.Slot {
	slots := make([]simulator.Slot, 2)
	for i := range slots {
		slots[i].Name = []string{"morning", "night"}[i]
		for j := range slots[i].PWMs {
			slots[i].PWMs[j] = simulator.PWM{Name: "led", Mode: 1, Frq: 500, Dty: 50}
		}
	}
	return slots
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestInfo(t *testing.T) {
	dev := simulator.New()
	dev.SetSlots(testSlots())
	_, ts := testServer(t, dev)

	resp, err := http.Get(ts.URL + "/info")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var info InfoResponse
	decode(t, resp, &info)
	if info.State != pwmbox.Bound {
		t.Errorf("expected Bound, got %s", info.State)
	}
	if info.Port != "sim0" || info.Slots != 2 {
		t.Errorf("unexpected info %+v", info)
	}
	if info.Info.SerialNumber != dev.SerialNumber || info.Info.MaxPresets != dev.MaxSlots {
		t.Errorf("unexpected device info %+v", info.Info)
	}
}

func TestUnbound(t *testing.T) {
	dev := simulator.New()
	dev.Mute = true
	_, ts := testServer(t, dev)

	for _, path := range []string{"/password", "/default"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, resp.StatusCode)
		}
	}
	resp, err := http.Post(ts.URL+"/presets/reload", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("reload: expected 503, got %d", resp.StatusCode)
	}
}

func TestPasswordAndDefault(t *testing.T) {
	dev := simulator.New()
	dev.SetSlots(testSlots())
	_, ts := testServer(t, dev)

	resp, err := http.Post(ts.URL+"/password", "application/json", strings.NewReader("[4,5,6]"))
	if err != nil {
		t.Fatal(err)
	}
	var p pwmbox.Password
	decode(t, resp, &p)
	if p != (pwmbox.Password{4, 5, 6}) || dev.Password() != [3]int{4, 5, 6} {
		t.Errorf("password not set: got %v, device has %v", p, dev.Password())
	}

	resp, err = http.Post(ts.URL+"/default", "application/json", strings.NewReader(`{"Default": 1}`))
	if err != nil {
		t.Fatal(err)
	}
	var d DefaultRequest
	decode(t, resp, &d)
	if d.Default != 1 || dev.DefaultSlot() != 1 {
		t.Errorf("default not set: got %d, device has %d", d.Default, dev.DefaultSlot())
	}

	resp, err = http.Post(ts.URL+"/default", "application/json", strings.NewReader(`{"Default": 99}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for out of range slot, got %d", resp.StatusCode)
	}
}

func TestPresets(t *testing.T) {
	dev := simulator.New()
	dev.SetSlots(testSlots())
	srv, ts := testServer(t, dev)

	resp, err := http.Get(ts.URL + "/presets")
	if err != nil {
		t.Fatal(err)
	}
	var doc pwmbox.PresetsDocument
	decode(t, resp, &doc)
	if len(doc.Slots) != 2 || doc.Slots[1].Name != "night" {
		t.Fatalf("unexpected document %+v", doc)
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/progress", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	doc.Slots[0].Name = "evening"
	doc.Slots[0].Channels[3].Frq = 12.5
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	resp, err = http.Post(ts.URL+"/presets", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var m pwmbox.SyncMessage
		if err := ws.ReadJSON(&m); err != nil {
			t.Fatal(err)
		}
		if m.Final {
			if m.Erronous || m.Type != pwmbox.SyncWrite {
				t.Fatalf("unexpected final message %+v", m)
			}
			break
		}
	}
	srv.Wait()

	slots := dev.Slots()
	if len(slots) != 2 || slots[0].Name != "evening" || slots[0].PWMs[3].Frq != 125 {
		t.Errorf("device not written: %+v", slots)
	}

	resp, err = http.Post(ts.URL+"/presets/reload", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	var reloaded pwmbox.PresetsDocument
	decode(t, resp, &reloaded)
	if len(reloaded.Slots) != 2 || reloaded.Slots[0].Name != "evening" {
		t.Errorf("unexpected reload %+v", reloaded)
	}
}

func TestPresets_Invalid(t *testing.T) {
	dev := simulator.New()
	dev.SetSlots(testSlots())
	_, ts := testServer(t, dev)
	dev.ResetReceived()

	invalid := pwmbox.PresetsToDocument([]pwmbox.Preset{{}})
	invalid.Slots[0].Channels[2].Frq = 900
	b, err := json.Marshal(invalid)
	if err != nil {
		t.Fatal(err)
	}
	for _, body := range []string{`{"num_slots": 1}`, string(b)} {
		resp, err := http.Post(ts.URL+"/presets", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("%s: expected 422, got %d", body, resp.StatusCode)
		}
	}
	if n := len(dev.Received()); n != 0 {
		t.Errorf("nothing should have been sent, got %d lines", n)
	}
}

func TestConfig(t *testing.T) {
	dev := simulator.New()
	srv, ts := testServer(t, dev)

	resp, err := http.Post(ts.URL+"/config", "application/json", strings.NewReader(`{"DescriptionPattern": "cp210x"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := srv.PWMBox.Config().DescriptionPattern; got != "cp210x" {
		t.Errorf("session config not updated: %q", got)
	}

	var saved Config
	if err := util.ReadTomlFile(&saved, srv.cfgPath); err != nil {
		t.Fatal(err)
	}
	if saved.PWMBox.DescriptionPattern != "cp210x" || saved.PWMBox.BaudRate != 115200 {
		t.Errorf("unexpected saved config %+v", saved.PWMBox)
	}

	resp, err = http.Post(ts.URL+"/config", "application/json", strings.NewReader(`{"DescriptionPattern": "("}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for invalid pattern, got %d", resp.StatusCode)
	}
}

func TestHub(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	for i := 0; i < 100; i++ {
		hub.Publish(pwmbox.SyncMessage{Done: i})
	}
	if len(ch) != cap(ch) {
		t.Errorf("expected a full buffer, got %d/%d", len(ch), cap(ch))
	}
	if m := <-ch; m.Done != 0 {
		t.Errorf("expected first message, got %+v", m)
	}
	hub.Unsubscribe(ch)
	hub.Publish(pwmbox.SyncMessage{})
	if len(ch) != cap(ch)-1 {
		t.Error("unsubscribed channel received a message")
	}
}

func TestPresets_Busy(t *testing.T) {
	dev := simulator.New()
	dev.SetSlots(testSlots())
	srv, ts := testServer(t, dev)

	resp, err := http.Get(ts.URL + "/presets")
	if err != nil {
		t.Fatal(err)
	}
	var doc pwmbox.PresetsDocument
	decode(t, resp, &doc)
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}

	dev.ResetReceived()
	atomic.StoreInt32(&srv.writing, 1)
	for _, path := range []string{"/presets", "/presets/reload"} {
		resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(string(body)))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("%s: expected 409, got %d", path, resp.StatusCode)
		}
	}
	if n := len(dev.Received()); n != 0 {
		t.Errorf("nothing should have been sent, got %d lines", n)
	}

	atomic.StoreInt32(&srv.writing, 0)
	resp, err = http.Post(ts.URL+"/presets/reload", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&srv.writing) != 0 {
		t.Error("reload didn't release the write flag")
	}
}
