package poller

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/joshp123/thinq/internal/catalog"
	"github.com/joshp123/thinq/internal/model"
	"github.com/joshp123/thinq/internal/session"
	"github.com/joshp123/thinq/internal/state"
	"github.com/joshp123/thinq/internal/thinq"
)

// DeviceState is one published poll result: a full replacement snapshot plus
// device identity. RawOnly marks passthrough snapshots decoded without a
// model capability. Reason is set when the device went unavailable because
// the account session failed, naming the classified failure.
type DeviceState struct {
	DeviceID  string         `json:"device_id"`
	Alias     string         `json:"alias"`
	Type      string         `json:"type"`
	Online    bool           `json:"online"`
	RawOnly   bool           `json:"raw_only,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Snapshot  state.Snapshot `json:"snapshot"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type stateSource interface {
	GetDeviceState(ctx context.Context, deviceID string) (json.RawMessage, error)
}

type capabilitySource interface {
	Get(ctx context.Context, ref model.Ref) (*model.Capability, error)
}

// Config bounds the poll cadence. Interval is the steady-state spacing,
// BackoffMax caps the exponential error backoff.
type Config struct {
	Interval   time.Duration
	BackoffMax time.Duration
}

// Manager runs one polling goroutine per watched device. Cycles on a device
// are strictly sequential; a slow request delays the next cycle instead of
// overlapping it. Devices fail independently.
type Manager struct {
	source   stateSource
	loader   capabilitySource
	language string
	cfg      Config
	publish  func(DeviceState)

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	warned  map[string]map[string]bool
	wg      sync.WaitGroup
}

func NewManager(source stateSource, loader capabilitySource, language string, cfg Config, publish func(DeviceState)) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BackoffMax < cfg.Interval {
		cfg.BackoffMax = cfg.Interval
	}
	return &Manager{
		source:   source,
		loader:   loader,
		language: language,
		cfg:      cfg,
		publish:  publish,
		cancels:  make(map[string]context.CancelFunc),
		warned:   make(map[string]map[string]bool),
	}
}

// Watch starts polling a device. Watching an already-watched device is a
// no-op; the running loop keeps its cadence.
func (m *Manager) Watch(ctx context.Context, dev catalog.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.cancels[dev.ID]; running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancels[dev.ID] = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(runCtx, dev)
	}()
}

// Unwatch cancels a device's poll loop, aborting any in-flight request.
func (m *Manager) Unwatch(deviceID string) {
	m.mu.Lock()
	cancel, ok := m.cancels[deviceID]
	if ok {
		delete(m.cancels, deviceID)
	}
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close stops every loop and waits for in-flight cycles to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	for id, cancel := range m.cancels {
		cancel()
		delete(m.cancels, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, dev catalog.Device) {
	capability, capRetry := m.loadCapability(ctx, dev)

	delay := m.cfg.Interval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// A descriptor fetch that failed transiently at startup should not
		// pin the device to raw decoding forever; try again each cycle
		// until it loads or reports unsupported.
		if capRetry {
			capability, capRetry = m.loadCapability(ctx, dev)
		}

		if err := m.poll(ctx, dev, capability); err != nil {
			if ctx.Err() != nil {
				return
			}
			pollFailure.WithLabelValues(dev.ID).Inc()
			var authErr *session.AuthError
			if errors.As(err, &authErr) {
				// Terminal account failure: no device-side change fixes
				// it. Mark the device unavailable with the reason and go
				// straight to the backoff ceiling instead of hammering
				// the token endpoint.
				deviceOnline.WithLabelValues(dev.ID).Set(0)
				m.publish(DeviceState{
					DeviceID:  dev.ID,
					Alias:     dev.Alias,
					Type:      dev.Type.String(),
					Online:    false,
					Reason:    string(authErr.Reason),
					RawOnly:   capability == nil,
					UpdatedAt: time.Now(),
				})
				delay = m.cfg.BackoffMax
			} else {
				delay = min(delay*2, m.cfg.BackoffMax)
			}
			log.Printf("poller: %s (%s): %v, next poll in %s", dev.Alias, dev.ID, err, delay)
			timer.Reset(delay)
			continue
		}

		pollSuccess.WithLabelValues(dev.ID).Inc()
		delay = m.cfg.Interval
		timer.Reset(delay)
	}
}

// loadCapability fetches the device's model descriptor. The second return
// reports whether a failed load is worth retrying on a later cycle:
// unsupported models never are, transient fetch failures are.
func (m *Manager) loadCapability(ctx context.Context, dev catalog.Device) (*model.Capability, bool) {
	capability, err := m.loader.Get(ctx, model.Ref{
		ModelName:   dev.ModelName,
		Language:    m.language,
		ModelURI:    dev.ModelJSONURI,
		LangPackURI: dev.LangPackURI,
	})
	if err != nil {
		if errors.Is(err, model.ErrUnsupportedModel) {
			log.Printf("poller: no descriptor for model %s, %s polls raw", dev.ModelName, dev.Alias)
			return nil, false
		}
		log.Printf("poller: capability for %s: %v, polling raw", dev.Alias, err)
		return nil, true
	}
	return capability, false
}

func (m *Manager) poll(ctx context.Context, dev catalog.Device, capability *model.Capability) error {
	raw, err := m.source.GetDeviceState(ctx, dev.ID)
	if err != nil {
		if errors.Is(err, thinq.ErrDeviceNotConnected) {
			// The appliance is unplugged or off-network. Publish the
			// offline marker; the facade keeps the last good snapshot.
			deviceOnline.WithLabelValues(dev.ID).Set(0)
			m.publish(DeviceState{
				DeviceID:  dev.ID,
				Alias:     dev.Alias,
				Type:      dev.Type.String(),
				Online:    false,
				RawOnly:   capability == nil,
				UpdatedAt: time.Now(),
			})
			return nil
		}
		return err
	}

	snapshot, err := state.Decode(raw, capability)
	if err != nil {
		return err
	}
	m.warnUnknownCodes(dev, snapshot)

	deviceOnline.WithLabelValues(dev.ID).Set(1)
	m.publish(DeviceState{
		DeviceID:  dev.ID,
		Alias:     dev.Alias,
		Type:      dev.Type.String(),
		Online:    true,
		RawOnly:   capability == nil,
		Snapshot:  snapshot,
		UpdatedAt: time.Now(),
	})
	return nil
}

// warnUnknownCodes logs each undeclared enum code once per device. New
// firmware grows codes faster than descriptors; steady-state spam helps
// nobody.
func (m *Manager) warnUnknownCodes(dev catalog.Device, snapshot state.Snapshot) {
	for key, value := range snapshot.Attributes {
		if !value.Unknown {
			continue
		}
		decodeUnknownCodes.WithLabelValues(dev.ID).Inc()

		m.mu.Lock()
		warned := m.warned[dev.ID]
		if warned == nil {
			warned = make(map[string]bool)
			m.warned[dev.ID] = warned
		}
		code := key + "=" + value.Text
		if s, ok := value.Raw.(string); ok {
			code = key + "=" + s
		}
		seen := warned[code]
		warned[code] = true
		m.mu.Unlock()

		if !seen {
			log.Printf("poller: %s reports undeclared %s code %v", dev.Alias, key, value.Raw)
		}
	}
}
