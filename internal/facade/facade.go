package facade

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/joshp123/thinq/internal/catalog"
	"github.com/joshp123/thinq/internal/command"
	"github.com/joshp123/thinq/internal/model"
	"github.com/joshp123/thinq/internal/poller"
)

var ErrUnknownDevice = errors.New("unknown device")

// ErrNoState means the device is known but has not completed a poll yet.
var ErrNoState = errors.New("no state published yet")

type controlPoster interface {
	PostJSON(ctx context.Context, path string, payload, out any) error
}

type capabilitySource interface {
	Get(ctx context.Context, ref model.Ref) (*model.Capability, error)
}

// Facade is the consumer surface: device inventory, last published state,
// command submission, and change subscriptions. It sits between the HTTP
// server (or an embedding program) and the polling machinery.
type Facade struct {
	client   controlPoster
	loader   capabilitySource
	language string

	mu        sync.RWMutex
	devices   map[string]catalog.Device
	order     []string
	latest    map[string]poller.DeviceState
	subs      map[string]map[int]chan poller.DeviceState
	nextSubID int

	publisher *StatePublisher
}

func New(client controlPoster, loader capabilitySource, language string) *Facade {
	return &Facade{
		client:   client,
		loader:   loader,
		language: language,
		devices:  make(map[string]catalog.Device),
		latest:   make(map[string]poller.DeviceState),
		subs:     make(map[string]map[int]chan poller.DeviceState),
	}
}

// SetPublisher attaches an optional MQTT mirror for published states.
func (f *Facade) SetPublisher(p *StatePublisher) {
	f.publisher = p
}

// SetDevices replaces the device inventory, keeping catalog order.
func (f *Facade) SetDevices(devices []catalog.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = make(map[string]catalog.Device, len(devices))
	f.order = f.order[:0]
	for _, dev := range devices {
		f.devices[dev.ID] = dev
		f.order = append(f.order, dev.ID)
	}
}

// Devices lists the known devices in catalog order.
func (f *Facade) Devices() []catalog.Device {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]catalog.Device, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.devices[id])
	}
	return out
}

// GetState returns the last published state for a device. A failed poll
// never clears it; consumers keep seeing the last good snapshot.
func (f *Facade) GetState(deviceID string) (poller.DeviceState, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, known := f.devices[deviceID]; !known {
		return poller.DeviceState{}, ErrUnknownDevice
	}
	state, ok := f.latest[deviceID]
	if !ok {
		return poller.DeviceState{}, ErrNoState
	}
	return state, nil
}

// Publish stores a new state and fans it out. This is the poller's sink.
func (f *Facade) Publish(state poller.DeviceState) {
	f.mu.Lock()
	if state.Snapshot.Attributes == nil && !state.Online {
		// Offline marker: keep the previous snapshot, flip the flag.
		if prev, ok := f.latest[state.DeviceID]; ok {
			state.Snapshot = prev.Snapshot
			state.RawOnly = prev.RawOnly
		}
	}
	f.latest[state.DeviceID] = state
	// Snapshot the subscriber channels before unlocking: Subscribe and
	// cancel mutate the inner map, so ranging it outside the lock races.
	channels := make([]chan poller.DeviceState, 0, len(f.subs[state.DeviceID]))
	for _, ch := range f.subs[state.DeviceID] {
		channels = append(channels, ch)
	}
	f.mu.Unlock()

	for _, ch := range channels {
		// Latest-wins: a sleeping subscriber loses intermediate states,
		// never blocks the poller.
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}

	if f.publisher != nil {
		f.publisher.Publish(state)
	}
}

// Subscribe returns a channel carrying state updates for one device, and a
// cancel function. The channel holds at most one pending update.
func (f *Facade) Subscribe(deviceID string) (<-chan poller.DeviceState, func()) {
	ch := make(chan poller.DeviceState, 1)

	f.mu.Lock()
	if f.subs[deviceID] == nil {
		f.subs[deviceID] = make(map[int]chan poller.DeviceState)
	}
	id := f.nextSubID
	f.nextSubID++
	f.subs[deviceID][id] = ch
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		delete(f.subs[deviceID], id)
		f.mu.Unlock()
	}
	return ch, cancel
}

// SubmitCommand validates, encodes, and sends a remote-start command. The
// returned drop list names overrides the course rejected; the command still
// went out without them. Validation failures send nothing.
func (f *Facade) SubmitCommand(ctx context.Context, deviceID string, cmd command.PendingCommand) ([]command.Dropped, error) {
	f.mu.RLock()
	dev, known := f.devices[deviceID]
	f.mu.RUnlock()
	if !known {
		return nil, ErrUnknownDevice
	}

	capability, err := f.loader.Get(ctx, model.Ref{
		ModelName:   dev.ModelName,
		Language:    f.language,
		ModelURI:    dev.ModelJSONURI,
		LangPackURI: dev.LangPackURI,
	})
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", deviceID, err)
	}

	encoded, dropped, err := command.ValidateAndEncode(cmd, capability)
	if err != nil {
		return nil, err
	}

	path := "service/devices/" + deviceID + "/control-sync"
	if err := f.client.PostJSON(ctx, path, encoded, nil); err != nil {
		return dropped, fmt.Errorf("send command to %s: %w", deviceID, err)
	}
	return dropped, nil
}
