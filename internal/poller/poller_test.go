package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/thinq/internal/catalog"
	"github.com/joshp123/thinq/internal/model"
	"github.com/joshp123/thinq/internal/session"
	"github.com/joshp123/thinq/internal/thinq"
)

const testDescriptor = `{
	"Info": {"modelName": "F4V9RWP2E", "productType": "WM"},
	"MonitoringValue": {
		"state": {"dataType": "Enum", "valueMapping": {
			"RUNNING": {"index": 1, "label": "@WM_STATE_RUNNING_W"}
		}}
	}
}`

type fakeSource struct {
	mu        sync.Mutex
	responses map[string][]response
	calls     map[string]int
}

type response struct {
	payload string
	err     error
}

func (f *fakeSource) GetDeviceState(_ context.Context, deviceID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[deviceID]++

	queue := f.responses[deviceID]
	if len(queue) == 0 {
		return nil, errors.New("no scripted response")
	}
	// Consume entries one by one; the last repeats forever.
	r := queue[0]
	if len(queue) > 1 {
		f.responses[deviceID] = queue[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return json.RawMessage(r.payload), nil
}

func (f *fakeSource) count(deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[deviceID]
}

type fakeLoader struct {
	mu         sync.Mutex
	capability *model.Capability
	err        error
	// errCount limits how many calls fail; zero means every call while
	// err is set.
	errCount int
	calls    int
}

func (f *fakeLoader) Get(_ context.Context, _ model.Ref) (*model.Capability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil && (f.errCount == 0 || f.calls <= f.errCount) {
		return nil, f.err
	}
	return f.capability, nil
}

func testCapability(t *testing.T) *model.Capability {
	t.Helper()
	c, err := model.ParseCapability([]byte(testDescriptor), nil)
	if err != nil {
		t.Fatalf("parse capability: %v", err)
	}
	return c
}

type collector struct {
	mu     sync.Mutex
	states []DeviceState
	signal chan struct{}
}

func newCollector() *collector {
	return &collector{signal: make(chan struct{}, 64)}
}

func (c *collector) publish(s DeviceState) {
	c.mu.Lock()
	c.states = append(c.states, s)
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []DeviceState {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		if len(c.states) >= n {
			out := append([]DeviceState(nil), c.states...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d published states", n)
		}
	}
}

func testDevice(id string) catalog.Device {
	return catalog.Device{
		ID:        id,
		Alias:     "Washer " + id,
		Type:      catalog.DeviceTypeWasher,
		ModelName: "F4V9RWP2E",
	}
}

func TestPollPublishesDecodedState(t *testing.T) {
	source := &fakeSource{responses: map[string][]response{
		"dev-1": {{payload: `{"washerDryer":{"state":"RUNNING"}}`}},
	}}
	sink := newCollector()
	mgr := NewManager(source, &fakeLoader{capability: testCapability(t)}, "en-US",
		Config{Interval: 10 * time.Millisecond, BackoffMax: 80 * time.Millisecond}, sink.publish)
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Watch(ctx, testDevice("dev-1"))

	states := sink.wait(t, 1)
	got := states[0]
	if got.DeviceID != "dev-1" || !got.Online || got.RawOnly {
		t.Fatalf("unexpected state: %+v", got)
	}
	if v, _ := got.Snapshot.Attribute("state"); v.Text != "Running" {
		t.Fatalf("state attribute: %+v", v)
	}
}

func TestPollRawModeWithoutCapability(t *testing.T) {
	source := &fakeSource{responses: map[string][]response{
		"dev-1": {{payload: `{"state":"RUNNING","mystery":1}`}},
	}}
	sink := newCollector()
	mgr := NewManager(source, &fakeLoader{err: model.ErrUnsupportedModel}, "en-US",
		Config{Interval: 10 * time.Millisecond}, sink.publish)
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Watch(ctx, testDevice("dev-1"))

	got := sink.wait(t, 1)[0]
	if !got.RawOnly {
		t.Fatalf("expected raw-only state: %+v", got)
	}
	if v, ok := got.Snapshot.Attribute("mystery"); !ok || v.Supported {
		t.Fatalf("expected unsupported passthrough: %+v", v)
	}
}

func TestPollOfflineDevicePublishesOfflineMarker(t *testing.T) {
	source := &fakeSource{responses: map[string][]response{
		"dev-1": {{err: thinq.ErrDeviceNotConnected}},
	}}
	sink := newCollector()
	mgr := NewManager(source, &fakeLoader{capability: testCapability(t)}, "en-US",
		Config{Interval: 10 * time.Millisecond}, sink.publish)
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Watch(ctx, testDevice("dev-1"))

	got := sink.wait(t, 1)[0]
	if got.Online {
		t.Fatalf("expected offline marker: %+v", got)
	}
}

func TestPollFailureIsolation(t *testing.T) {
	source := &fakeSource{responses: map[string][]response{
		"bad":  {{err: &thinq.TransportError{Op: "get", Err: errors.New("boom")}}},
		"good": {{payload: `{"state":"RUNNING"}`}},
	}}
	sink := newCollector()
	mgr := NewManager(source, &fakeLoader{capability: testCapability(t)}, "en-US",
		Config{Interval: 10 * time.Millisecond, BackoffMax: 40 * time.Millisecond}, sink.publish)
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Watch(ctx, testDevice("bad"))
	mgr.Watch(ctx, testDevice("good"))

	// The healthy device keeps publishing while the other fails.
	states := sink.wait(t, 3)
	for _, s := range states {
		if s.DeviceID == "bad" {
			t.Fatalf("failing device must not publish: %+v", s)
		}
	}
	if source.count("bad") == 0 {
		t.Fatalf("failing device was never polled")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	source := &fakeSource{responses: map[string][]response{
		"dev-1": {{err: &thinq.TransportError{Op: "get", Err: errors.New("down")}}},
	}}
	sink := newCollector()
	interval := 10 * time.Millisecond
	mgr := NewManager(source, &fakeLoader{capability: testCapability(t)}, "en-US",
		Config{Interval: interval, BackoffMax: 40 * time.Millisecond}, sink.publish)
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Watch(ctx, testDevice("dev-1"))

	// Waits between failing polls: 20, 40, 40, 40... ms. Five cycles need
	// at least 140ms; give the loop room and then compare attempt counts.
	time.Sleep(150 * time.Millisecond)
	calls := source.count("dev-1")
	if calls < 2 || calls > 6 {
		t.Fatalf("expected backed-off cadence, got %d calls in 150ms", calls)
	}
}

func TestUnwatchCancelsLoop(t *testing.T) {
	source := &fakeSource{responses: map[string][]response{
		"dev-1": {{payload: `{"state":"RUNNING"}`}},
	}}
	sink := newCollector()
	mgr := NewManager(source, &fakeLoader{capability: testCapability(t)}, "en-US",
		Config{Interval: 10 * time.Millisecond}, sink.publish)
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Watch(ctx, testDevice("dev-1"))
	sink.wait(t, 1)

	mgr.Unwatch("dev-1")
	calls := source.count("dev-1")
	time.Sleep(50 * time.Millisecond)
	if after := source.count("dev-1"); after > calls+1 {
		t.Fatalf("loop kept polling after Unwatch: %d -> %d", calls, after)
	}
}

func TestAuthFailurePublishesUnavailableMarker(t *testing.T) {
	source := &fakeSource{responses: map[string][]response{
		"dev-1": {{err: &session.AuthError{Reason: session.ReasonSocialAccount, Code: "MS.001.03"}}},
	}}
	sink := newCollector()
	mgr := NewManager(source, &fakeLoader{capability: testCapability(t)}, "en-US",
		Config{Interval: 10 * time.Millisecond, BackoffMax: time.Minute}, sink.publish)
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Watch(ctx, testDevice("dev-1"))

	got := sink.wait(t, 1)[0]
	if got.Online {
		t.Fatalf("expected unavailable marker: %+v", got)
	}
	if got.Reason != string(session.ReasonSocialAccount) {
		t.Fatalf("expected auth reason on marker, got %q", got.Reason)
	}

	// The loop jumps straight to the backoff ceiling: no second poll
	// while the account failure stands.
	time.Sleep(60 * time.Millisecond)
	if calls := source.count("dev-1"); calls != 1 {
		t.Fatalf("expected 1 poll against a failed account, got %d", calls)
	}
}

func TestCapabilityLoadRetriesAfterTransientFailure(t *testing.T) {
	source := &fakeSource{responses: map[string][]response{
		"dev-1": {{payload: `{"washerDryer":{"state":"RUNNING"}}`}},
	}}
	// Fails at startup and on the first cycle's retry, then serves the
	// descriptor: the first publish is raw, the second decoded.
	loader := &fakeLoader{
		capability: testCapability(t),
		err:        &thinq.TransportError{Op: "get descriptor", Err: errors.New("down")},
		errCount:   2,
	}
	sink := newCollector()
	mgr := NewManager(source, loader, "en-US",
		Config{Interval: 10 * time.Millisecond}, sink.publish)
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Watch(ctx, testDevice("dev-1"))

	states := sink.wait(t, 2)
	if !states[0].RawOnly {
		t.Fatalf("expected raw-only first publish: %+v", states[0])
	}
	if states[1].RawOnly {
		t.Fatalf("capability never recovered: %+v", states[1])
	}
	if v, _ := states[1].Snapshot.Attribute("state"); v.Text != "Running" {
		t.Fatalf("decoded publish lost labels: %+v", states[1].Snapshot)
	}
}
