package manager

import (
	"context"
	"fmt"

	"gamevault/internal/storage"
)

// Health classifies the persistence layer's condition.
type Health string

const (
	Healthy   Health = "healthy"
	Degraded  Health = "degraded"
	Unhealthy Health = "unhealthy"
)

// Usage thresholds: above degradedUsage the report suggests freeing space;
// above unhealthyUsage it flags the store as unhealthy.
const (
	degradedUsage  = 0.75
	unhealthyUsage = 0.90
)

// HealthReport is the result of a live round-trip probe plus capacity and
// switch-state checks. Diagnostics carry actionable suggestions rather than
// raw errors.
type HealthReport struct {
	Status        Health
	Provider      string
	UsedPercent   float64
	ItemCount     int
	PendingSwitch bool
	Diagnostics   []string
}

// HealthCheck probes the active provider with a write/read/delete round trip
// and checks storage usage against the 75%/90% thresholds.
func (m *Manager) HealthCheck(ctx context.Context) (*HealthReport, error) {
	p, err := m.active()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	pending := m.pendingSwitch
	m.mu.Unlock()

	report := &HealthReport{
		Status:        Healthy,
		Provider:      p.Name(),
		PendingSwitch: pending,
	}
	if pending {
		report.Status = Degraded
		report.Diagnostics = append(report.Diagnostics,
			"a previous provider switch did not complete; verify your data or re-run the switch")
	}

	if err := m.probe(ctx, p); err != nil {
		report.Status = Unhealthy
		report.Diagnostics = append(report.Diagnostics,
			fmt.Sprintf("storage round trip failed (%v); try switching providers or resetting data", err))
		return report, nil
	}

	info, err := p.Info(ctx)
	if err != nil {
		report.Status = Unhealthy
		report.Diagnostics = append(report.Diagnostics,
			fmt.Sprintf("storage accounting failed (%v)", err))
		return report, nil
	}

	report.ItemCount = info.ItemCount
	if info.TotalBytes > 0 {
		report.UsedPercent = float64(info.UsedBytes) / float64(info.TotalBytes)
	}

	switch {
	case report.UsedPercent > unhealthyUsage:
		report.Status = Unhealthy
		report.Diagnostics = append(report.Diagnostics,
			"storage is over 90% full; delete unused data or switch to a larger provider")
	case report.UsedPercent > degradedUsage:
		if report.Status == Healthy {
			report.Status = Degraded
		}
		report.Diagnostics = append(report.Diagnostics,
			"storage is over 75% full; consider freeing space")
	}

	return report, nil
}

// probe writes, reads back, and deletes a throwaway key.
func (m *Manager) probe(ctx context.Context, p storage.Provider) error {
	key := "health:probe-" + m.deps.IDs.New()
	want := m.deps.Clock.Now().UnixMilli()

	if err := p.SetItem(ctx, key, want, storage.Options{}); err != nil {
		return fmt.Errorf("probe write: %w", err)
	}
	var got int64
	found, err := p.GetItem(ctx, key, &got)
	if err != nil {
		return fmt.Errorf("probe read: %w", err)
	}
	if !found || got != want {
		return fmt.Errorf("probe read back wrong value")
	}
	if err := p.RemoveItem(ctx, key); err != nil {
		return fmt.Errorf("probe delete: %w", err)
	}
	return nil
}
