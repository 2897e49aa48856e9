package coordinator

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/halcyonbio/biosync-core/internal/events"
)

// NetworkMode classifies the host's current connectivity, probed in
// order of preference: cloud, then a local sync endpoint, then any
// direct link at all, then offline.
type NetworkMode string

// Network modes.
const (
	ModeCloud   NetworkMode = "cloud"
	ModeLocal   NetworkMode = "local"
	ModeDirect  NetworkMode = "direct"
	ModeOffline NetworkMode = "offline"
)

const defaultProbeTimeout = 5 * time.Second

// prober answers reachability questions for network-mode detection.
// Tests substitute a fake.
type prober interface {
	CloudReachable(ctx context.Context) bool
	LocalReachable(ctx context.Context) bool
	DirectLinkPresent() bool
}

type proberConfig struct {
	cloudURL string
	localURL string
	timeout  time.Duration
}

// httpProber probes reachability with cheap HEAD requests.
type httpProber struct {
	cloudURL string
	localURL string
	client   *http.Client
}

func newHTTPProber(cfg proberConfig) *httpProber {
	timeout := cfg.timeout
	if timeout == 0 {
		timeout = defaultProbeTimeout
	}
	return &httpProber{
		cloudURL: cfg.cloudURL,
		localURL: cfg.localURL,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *httpProber) CloudReachable(ctx context.Context) bool {
	return p.reachable(ctx, p.cloudURL)
}

func (p *httpProber) LocalReachable(ctx context.Context) bool {
	return p.reachable(ctx, p.localURL)
}

func (p *httpProber) reachable(ctx context.Context, url string) bool {
	if url == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close() //nolint:errcheck // Reachability probe only
	return resp.StatusCode < 500
}

// DirectLinkPresent reports whether any non-loopback interface carries an
// address, which covers device-hosted AP links without internet access.
func (p *httpProber) DirectLinkPresent() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ipNet.IP.To4() != nil || ipNet.IP.To16() != nil {
			return true
		}
	}
	return false
}

// NetworkMode returns the most recently detected mode.
func (c *Coordinator) NetworkMode() NetworkMode {
	c.modeMu.RLock()
	defer c.modeMu.RUnlock()
	return c.mode
}

// RemoteReachable reports whether a sync endpoint is reachable in the
// current mode. The sync engine consults this before attempting a pass.
func (c *Coordinator) RemoteReachable() bool {
	mode := c.NetworkMode()
	return mode == ModeCloud || mode == ModeLocal
}

// NotifyConnectivityChange re-runs mode detection. Callers invoke it when
// the platform signals an interface change; the sync engine subscribes to
// the resulting event to trigger an offline-to-online sync pass.
func (c *Coordinator) NotifyConnectivityChange(ctx context.Context) NetworkMode {
	return c.detectNetworkMode(ctx)
}

// detectNetworkMode probes in preference order and publishes a
// network-mode-changed event on transitions.
func (c *Coordinator) detectNetworkMode(ctx context.Context) NetworkMode {
	mode := ModeOffline
	switch {
	case c.probe.CloudReachable(ctx):
		mode = ModeCloud
	case c.probe.LocalReachable(ctx):
		mode = ModeLocal
	case c.probe.DirectLinkPresent():
		mode = ModeDirect
	}

	c.modeMu.Lock()
	prev := c.mode
	c.mode = mode
	c.modeMu.Unlock()

	if mode != prev {
		c.logger.Info("network mode changed", "from", prev, "to", mode)
		c.bus.Publish(events.Event{
			Type: events.TypeNetworkModeChanged,
			Data: map[string]any{
				"previous": string(prev),
				"current":  string(mode),
			},
		})
	}

	return mode
}
