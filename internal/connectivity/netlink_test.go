package connectivity

import (
	"context"
	"testing"

	"github.com/pilebones/go-udev/netlink"
)

func TestNetlinkTriggerNilSafety(t *testing.T) {
	var m *netlinkTrigger
	if m.Running() {
		t.Error("expected Running() to return false for nil trigger")
	}
	m.Stop()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil trigger should return nil, got: %v", err)
	}
}

func TestNetlinkTriggerStopBeforeStart(t *testing.T) {
	m := newNetlinkTrigger(nil, nil)
	m.Stop()
	m.Stop()
	if m.Running() {
		t.Error("expected trigger not running")
	}
}

func TestBuildMatcherSelectsNetworkEvents(t *testing.T) {
	matcher := buildMatcher()

	cases := []struct {
		name  string
		event netlink.UEvent
		want  bool
	}{
		{"interface added", netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "net", "INTERFACE": "wlan0"}}, true},
		{"interface changed", netlink.UEvent{Action: netlink.CHANGE, Env: map[string]string{"SUBSYSTEM": "net"}}, true},
		{"interface removed", netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{"SUBSYSTEM": "net"}}, false},
		{"block device", netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "block"}}, false},
	}
	for _, tc := range cases {
		if got := matcher.Evaluate(tc.event); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestHandleEventFires(t *testing.T) {
	fired := 0
	m := newNetlinkTrigger(nil, func() { fired++ })
	m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"INTERFACE": "eth0"}})
	if fired != 1 {
		t.Fatalf("expected one trigger, got %d", fired)
	}
}
