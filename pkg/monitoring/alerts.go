package monitoring

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AlertCallback is invoked when spend crosses an alert threshold. It receives
// the current cost and the budget the threshold is a fraction of.
type AlertCallback func(cost, budget float64)

// Alert is one budget threshold. Thresholds are fractions of budget in [0, 1].
type Alert struct {
	Threshold   float64
	Triggered   bool
	TriggerTime time.Time
	callback    AlertCallback
}

// AlertManager fires budget threshold alerts. Each alert fires at most once
// until ResetAlerts; callbacks that panic are recovered and logged so a bad
// callback cannot take down the request path.
type AlertManager struct {
	mu     sync.Mutex
	alerts []*Alert
	logger zerolog.Logger
}

// NewAlertManager creates an alert manager.
func NewAlertManager(logger zerolog.Logger) *AlertManager {
	return &AlertManager{logger: logger.With().Str("component", "alerts").Logger()}
}

// AddAlert registers a threshold callback. Threshold must be within [0, 1].
func (m *AlertManager) AddAlert(threshold float64, cb AlertCallback) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("alert threshold %.2f outside [0, 1]", threshold)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, &Alert{Threshold: threshold, callback: cb})
	sort.SliceStable(m.alerts, func(i, j int) bool {
		return m.alerts[i].Threshold < m.alerts[j].Threshold
	})
	return nil
}

// CheckAlerts fires every crossed, not-yet-triggered alert in ascending
// threshold order and returns snapshots of the alerts that fired on this
// call. A budget of zero or less disables alerting entirely.
func (m *AlertManager) CheckAlerts(cost, budget float64) []Alert {
	if budget <= 0 {
		return nil
	}
	fraction := cost / budget

	m.mu.Lock()
	var due []*Alert
	for _, a := range m.alerts {
		if !a.Triggered && fraction >= a.Threshold {
			a.Triggered = true
			a.TriggerTime = time.Now()
			due = append(due, a)
		}
	}
	triggered := make([]Alert, len(due))
	for i, a := range due {
		triggered[i] = *a
	}
	m.mu.Unlock()

	// Callbacks run outside the lock; they may call back into the session.
	for _, a := range due {
		m.fire(a, cost, budget)
	}
	return triggered
}

func (m *AlertManager) fire(a *Alert, cost, budget float64) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Float64("threshold", a.Threshold).
				Interface("panic", r).
				Msg("alert callback panicked")
		}
	}()
	m.logger.Info().
		Float64("threshold", a.Threshold).
		Float64("cost", cost).
		Float64("budget", budget).
		Msg("budget alert triggered")
	if a.callback != nil {
		a.callback(cost, budget)
	}
}

// Alerts returns a snapshot of the registered alerts in threshold order.
func (m *AlertManager) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	for i, a := range m.alerts {
		out[i] = *a
	}
	return out
}

// ResetAlerts re-arms every alert.
func (m *AlertManager) ResetAlerts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		a.Triggered = false
		a.TriggerTime = time.Time{}
	}
}
