package netmon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/perimeter-sentinel/internal/bus"
	"github.com/oshokin/perimeter-sentinel/internal/config"
	"github.com/oshokin/perimeter-sentinel/internal/domain/event"
	"github.com/oshokin/perimeter-sentinel/internal/domain/status"
	"github.com/oshokin/perimeter-sentinel/internal/logger"
)

// DefaultSysfsRoot is where the kernel exposes interface link state.
const DefaultSysfsRoot = "/sys/class/net"

// Monitor polls interface link state and keeps one interface selected in
// configured priority order, wired first. The remote link binds to the
// selection and reports heartbeat results back; enough consecutive
// failures force a switchover even when the kernel still reports the
// link up.
type Monitor struct {
	cfg      *config.Store
	statuses *status.Store
	bus      *bus.Bus
	root     string
	clientID string

	mu       sync.Mutex
	selected string
	link     status.LinkStatus
	failures int
	suspect  string
	changes  chan string
}

// New creates a monitor reading link state under root (DefaultSysfsRoot
// on the device; tests point it at a fake tree).
func New(cfg *config.Store, statuses *status.Store, b *bus.Bus, root string) *Monitor {
	return &Monitor{
		cfg:      cfg,
		statuses: statuses,
		bus:      b,
		root:     root,
		clientID: cfg.Current().System.ClientID,
		link:     status.LinkDown,
		changes:  make(chan string, 1),
	}
}

// Selected returns the currently selected interface, empty when none is
// healthy.
func (m *Monitor) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.selected
}

// Changes delivers the new selection after every switchover. The channel
// holds one pending notification; an unread value is replaced, so the
// consumer always sees the latest selection.
func (m *Monitor) Changes() <-chan string {
	return m.changes
}

// ReportRemoteOK resets the consecutive heartbeat failure counter. The
// remote link calls this after every successful heartbeat exchange.
func (m *Monitor) ReportRemoteOK() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures = 0
	m.suspect = ""
}

// ReportRemoteFailure counts one heartbeat failure on the selected
// interface. Reaching the configured threshold marks the interface
// suspect, so the next evaluation prefers an alternative even though the
// kernel still reports the link up.
func (m *Monitor) ReportRemoteFailure(ctx context.Context) {
	threshold := m.cfg.Current().Network.FailureThreshold

	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures++
	if m.failures < threshold || m.selected == "" || m.suspect == m.selected {
		return
	}

	m.suspect = m.selected
	logger.WarnKV(logger.WithName(ctx, "netmon"),
		"Heartbeat failure threshold reached, interface marked suspect",
		"interface", m.selected, "failures", m.failures)
}

// Run evaluates the selection on the probe interval until the context is
// canceled.
func (m *Monitor) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "netmon")

	m.evaluate(ctx)
	logger.InfoKV(ctx, "Network monitor started",
		"interfaces", m.cfg.Current().Network.Interfaces, "selected", m.Selected())

	ticker := time.NewTicker(m.cfg.Current().Network.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.evaluate(ctx)
		}
	}
}

// evaluate probes every configured interface and switches the selection
// when the current one is unhealthy, suspect, or a higher-priority
// interface has recovered.
func (m *Monitor) evaluate(ctx context.Context) {
	interfaces := m.cfg.Current().Network.Interfaces

	// Probe sysfs before taking the lock so Selected() and the heartbeat
	// reports never wait on file I/O.
	healthy := make(map[string]bool, len(interfaces))
	for _, name := range interfaces {
		healthy[name] = m.healthy(name)
	}

	m.mu.Lock()

	var (
		pick        string
		pickPrio    = -1
		healthySeen bool
	)

	for prio, name := range interfaces {
		if !healthy[name] {
			continue
		}

		healthySeen = true

		if name == m.suspect {
			continue
		}

		pick = name
		pickPrio = prio

		break
	}

	// Everything except the suspect is down: better a flaky link than none.
	if pick == "" && healthySeen {
		pick = m.suspect
		m.suspect = ""

		for prio, name := range interfaces {
			if name == pick {
				pickPrio = prio
			}
		}
	}

	link := status.LinkDown

	switch {
	case pick != "" && pickPrio == 0:
		link = status.LinkUp
	case pick != "":
		// Running on a backup interface.
		link = status.LinkDegraded
	}

	changed := pick != m.selected || link != m.link
	previous := m.selected
	m.selected = pick
	m.link = link

	if changed && pick != previous {
		m.failures = 0
	}

	m.mu.Unlock()

	if !changed {
		return
	}

	remote := m.statuses.Snapshot().Connectivity.RemoteStatus
	m.statuses.SetConnectivity(status.ConnectivityState{
		SelectedInterface: pick,
		LinkStatus:        link,
		RemoteStatus:      remote,
	})

	if pick != previous {
		// Coalesce: only the latest selection matters to the remote link.
		select {
		case <-m.changes:
		default:
		}
		m.changes <- pick
	}

	logger.WarnKV(ctx, "Network selection changed",
		"previous", previous, "selected", pick, "link", link)

	m.bus.Publish(ctx, event.New(event.SourceHardware, event.CategoryConnectivity, event.ConnectivityPayload{
		Interface:    pick,
		LinkStatus:   string(link),
		RemoteStatus: string(remote),
	}, m.clientID))
}

// healthy reads operstate and carrier for one interface. An interface is
// usable when the carrier is present and the kernel does not report it
// administratively down.
func (m *Monitor) healthy(name string) bool {
	operstate, err := os.ReadFile(filepath.Join(m.root, name, "operstate"))
	if err != nil {
		return false
	}

	state := strings.TrimSpace(string(operstate))
	if state != "up" && state != "unknown" {
		return false
	}

	carrier, err := os.ReadFile(filepath.Join(m.root, name, "carrier"))
	if err != nil {
		// Reading carrier on a down interface fails with EINVAL.
		return false
	}

	return strings.TrimSpace(string(carrier)) == "1"
}
