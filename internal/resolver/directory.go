package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
)

// Provider is one candidate metadata endpoint retained by a refresh.
type Provider struct {
	Name string
	Uri  string
}

type providerMonitor struct {
	Uptime float64 `json:"uptime"`
	Down   bool    `json:"down"`
}

type providerInfo struct {
	Uri     string           `json:"uri"`
	Monitor *providerMonitor `json:"monitor"`
}

// directoryEntry decodes the upstream listing's [name, info] tuple pairs.
type directoryEntry struct {
	Name string
	Info providerInfo
}

func (e *directoryEntry) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}

	if err := json.Unmarshal(tuple[0], &e.Name); err != nil {
		return err
	}

	return json.Unmarshal(tuple[1], &e.Info)
}

const minUptime = 70.0

// Directory holds the current provider snapshot. Refresh replaces the
// snapshot wholesale; readers always see a complete list, never a
// partially updated one.
type Directory struct {
	listingUrl string
	client     *http.Client
	logger     *slog.Logger
	snapshot   atomic.Pointer[[]Provider]
}

func NewDirectory(listingUrl string, client *http.Client, logger *slog.Logger) *Directory {
	d := &Directory{
		listingUrl: listingUrl,
		client:     client,
		logger:     logger,
	}
	d.snapshot.Store(&[]Provider{})

	return d
}

// Providers returns the snapshot taken by the most recent refresh.
func (d *Directory) Providers() []Provider {
	return *d.snapshot.Load()
}

// Refresh fetches the upstream listing and retains only entries that are
// not flagged down, have uptime strictly above the threshold and use an
// http(s) scheme.
func (d *Directory) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.listingUrl, nil)
	if err != nil {
		return fmt.Errorf("failed to build listing request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch provider listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider listing returned status %d", resp.StatusCode)
	}

	var entries []directoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode provider listing: %w", err)
	}

	providers := make([]Provider, 0, len(entries))
	for _, e := range entries {
		if !usable(e) {
			continue
		}
		providers = append(providers, Provider{Name: e.Name, Uri: e.Info.Uri})
	}

	d.snapshot.Store(&providers)
	d.logger.InfoContext(ctx, "provider directory refreshed", "providers", len(providers), "listed", len(entries))

	return nil
}

func usable(e directoryEntry) bool {
	if e.Info.Monitor == nil || e.Info.Monitor.Down || e.Info.Monitor.Uptime <= minUptime {
		return false
	}

	u, err := url.Parse(e.Info.Uri)
	if err != nil {
		return false
	}

	return u.Scheme == "http" || u.Scheme == "https"
}
