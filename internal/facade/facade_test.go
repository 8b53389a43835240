package facade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/thinq/internal/catalog"
	"github.com/joshp123/thinq/internal/command"
	"github.com/joshp123/thinq/internal/model"
	"github.com/joshp123/thinq/internal/poller"
	"github.com/joshp123/thinq/internal/state"
)

const washerDescriptor = `{
	"Info": {"modelName": "F4V9RWP2E", "productType": "WM"},
	"MonitoringValue": {
		"state": {"dataType": "Enum", "valueMapping": {
			"RUNNING": {"index": 1, "label": "@WM_STATE_RUNNING_W"}
		}}
	},
	"Course": {
		"COTTON": {"name": "@WM_COURSE_COTTON_W", "function": [
			{"value": "temp", "default": "TEMP_40", "selectable": ["TEMP_40"]}
		]}
	}
}`

type fakePoster struct {
	paths    []string
	payloads []any
	err      error
}

func (f *fakePoster) PostJSON(_ context.Context, path string, payload, _ any) error {
	f.paths = append(f.paths, path)
	f.payloads = append(f.payloads, payload)
	return f.err
}

type fakeLoader struct {
	capability *model.Capability
	err        error
}

func (f *fakeLoader) Get(_ context.Context, _ model.Ref) (*model.Capability, error) {
	return f.capability, f.err
}

func newTestFacade(t *testing.T) (*Facade, *fakePoster) {
	t.Helper()
	capability, err := model.ParseCapability([]byte(washerDescriptor), nil)
	if err != nil {
		t.Fatalf("parse capability: %v", err)
	}
	poster := &fakePoster{}
	f := New(poster, &fakeLoader{capability: capability}, "en-US")
	f.SetDevices([]catalog.Device{
		{ID: "dev-1", Alias: "Washer", Type: catalog.DeviceTypeWasher, ModelName: "F4V9RWP2E"},
	})
	return f, poster
}

func runningState(deviceID string) poller.DeviceState {
	return poller.DeviceState{
		DeviceID: deviceID,
		Alias:    "Washer",
		Online:   true,
		Snapshot: state.Snapshot{Attributes: map[string]state.Value{
			"state": {Raw: "RUNNING", Text: "Running", Supported: true},
		}},
		UpdatedAt: time.Now(),
	}
}

func TestGetState(t *testing.T) {
	f, _ := newTestFacade(t)

	if _, err := f.GetState("nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
	if _, err := f.GetState("dev-1"); !errors.Is(err, ErrNoState) {
		t.Fatalf("expected ErrNoState, got %v", err)
	}

	f.Publish(runningState("dev-1"))
	got, err := f.GetState("dev-1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if v, _ := got.Snapshot.Attribute("state"); v.Text != "Running" {
		t.Fatalf("unexpected snapshot: %+v", got.Snapshot)
	}
}

func TestOfflineMarkerKeepsLastSnapshot(t *testing.T) {
	f, _ := newTestFacade(t)
	f.Publish(runningState("dev-1"))
	f.Publish(poller.DeviceState{DeviceID: "dev-1", Alias: "Washer", Online: false, UpdatedAt: time.Now()})

	got, err := f.GetState("dev-1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.Online {
		t.Fatalf("expected offline flag")
	}
	if v, _ := got.Snapshot.Attribute("state"); v.Text != "Running" {
		t.Fatalf("last snapshot lost: %+v", got.Snapshot)
	}
}

func TestSubscribeLatestWins(t *testing.T) {
	f, _ := newTestFacade(t)
	ch, cancel := f.Subscribe("dev-1")
	defer cancel()

	// Two publishes without a read: only the latest survives.
	first := runningState("dev-1")
	f.Publish(first)
	second := runningState("dev-1")
	second.Online = false
	second.Snapshot = first.Snapshot
	f.Publish(second)

	select {
	case got := <-ch:
		if got.Online {
			t.Fatalf("expected the later update, got %+v", got)
		}
	default:
		t.Fatalf("expected a pending update")
	}

	select {
	case got := <-ch:
		t.Fatalf("expected a single pending update, got %+v", got)
	default:
	}

	cancel()
	f.Publish(runningState("dev-1"))
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("cancelled subscription still receives updates")
		}
	default:
	}
}

func TestSubmitCommand(t *testing.T) {
	f, poster := newTestFacade(t)

	dropped, err := f.SubmitCommand(context.Background(), "dev-1", command.PendingCommand{
		Course:  "COTTON",
		Options: map[string]string{"steam": "STEAM_ON"},
	})
	if err != nil {
		t.Fatalf("SubmitCommand: %v", err)
	}
	if len(dropped) != 1 || dropped[0].Key != "steam" {
		t.Fatalf("expected steam dropped, got %+v", dropped)
	}
	if len(poster.paths) != 1 || poster.paths[0] != "service/devices/dev-1/control-sync" {
		t.Fatalf("unexpected control path: %v", poster.paths)
	}

	encoded, ok := poster.payloads[0].(command.Encoded)
	if !ok {
		t.Fatalf("unexpected payload type %T", poster.payloads[0])
	}
	if encoded.DataSet()["course"] != "COTTON" {
		t.Fatalf("unexpected payload: %+v", encoded)
	}

	// Validation failures must not reach the wire.
	_, err = f.SubmitCommand(context.Background(), "dev-1", command.PendingCommand{Course: "NOPE"})
	var unknownErr *command.UnknownCourseError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownCourseError, got %v", err)
	}
	if len(poster.paths) != 1 {
		t.Fatalf("invalid command reached the wire: %v", poster.paths)
	}

	if _, err := f.SubmitCommand(context.Background(), "ghost", command.PendingCommand{Course: "COTTON"}); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
}

func TestPublishConcurrentWithSubscribe(t *testing.T) {
	f, _ := newTestFacade(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				f.Publish(runningState("dev-1"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				ch, cancel := f.Subscribe("dev-1")
				select {
				case <-ch:
				default:
				}
				cancel()
			}
		}()
	}
	wg.Wait()

	if _, err := f.GetState("dev-1"); err != nil {
		t.Fatalf("GetState after churn: %v", err)
	}
}
