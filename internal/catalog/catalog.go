package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joshp123/thinq/internal/thinq"
)

const (
	dashboardPath = "service/application/dashboard"
	devicePath    = "service/devices/"
)

// ErrNoDevices means the account has no registered appliances. Distinct from
// a fetch failure so callers can tell "register one in the app" from "retry".
var ErrNoDevices = errors.New("no devices registered on account")

// Device is one dashboard entry. Snapshot carries the last state the backend
// cached for the device; it decodes with the same rules as polled state.
type Device struct {
	ID           string
	Alias        string
	Type         DeviceType
	ModelName    string
	ModelJSONURI string
	LangPackURI  string
	Online       bool
	Platform     string
	Snapshot     json.RawMessage
}

// Fetcher lists the account's registered appliances.
type Fetcher struct {
	client *thinq.Client
}

func NewFetcher(client *thinq.Client) *Fetcher {
	return &Fetcher{client: client}
}

// ListDevices fetches the dashboard and normalizes each entry. Entries with
// no device ID are skipped; an empty dashboard is ErrNoDevices.
func (f *Fetcher) ListDevices(ctx context.Context) ([]Device, error) {
	var result struct {
		Item []struct {
			DeviceID     string          `json:"deviceId"`
			Alias        string          `json:"alias"`
			DeviceType   int             `json:"deviceType"`
			ModelName    string          `json:"modelName"`
			ModelJSONURI string          `json:"modelJsonUri"`
			LangPackURI  string          `json:"langPackProductTypeUri"`
			Online       bool            `json:"online"`
			PlatformType string          `json:"platformType"`
			Snapshot     json.RawMessage `json:"snapshot"`
		} `json:"item"`
	}
	if err := f.client.GetJSON(ctx, dashboardPath, &result); err != nil {
		return nil, fmt.Errorf("fetch dashboard: %w", err)
	}

	devices := make([]Device, 0, len(result.Item))
	for _, item := range result.Item {
		if item.DeviceID == "" {
			continue
		}
		alias := item.Alias
		if alias == "" {
			alias = item.ModelName
		}
		devices = append(devices, Device{
			ID:           item.DeviceID,
			Alias:        alias,
			Type:         DeviceType(item.DeviceType),
			ModelName:    item.ModelName,
			ModelJSONURI: item.ModelJSONURI,
			LangPackURI:  item.LangPackURI,
			Online:       item.Online,
			Platform:     item.PlatformType,
			Snapshot:     item.Snapshot,
		})
	}

	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return devices, nil
}

// GetDeviceState fetches the current state snapshot for one device. The
// payload stays raw here; decoding is the state package's business.
func (f *Fetcher) GetDeviceState(ctx context.Context, deviceID string) (json.RawMessage, error) {
	var result struct {
		Snapshot json.RawMessage `json:"snapshot"`
	}
	if err := f.client.GetJSON(ctx, devicePath+deviceID, &result); err != nil {
		return nil, fmt.Errorf("fetch device %s: %w", deviceID, err)
	}
	if len(result.Snapshot) == 0 {
		return nil, fmt.Errorf("device %s: %w", deviceID, thinq.ErrDeviceNotConnected)
	}
	return result.Snapshot, nil
}
