package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"nifty-etl/internal/alerting"
)

// SimulateAlert sends a synthetic DQ failure alert for tickers through the
// configured channel, bypassing the min_failures and cooldown gate.
func (a *App) SimulateAlert(ctx context.Context, tickers []string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}
	if len(tickers) == 0 {
		tickers = a.Config.Pipeline.Tickers
	}

	note := alerting.Notification{
		RunID:       "simulated-" + uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Total:       len(tickers),
	}
	for _, ticker := range tickers {
		note.Failures = append(note.Failures, alerting.Failure{
			Ticker:  ticker,
			Outcome: "simulated",
			Reasons: []string{"Simulated alert"},
		})
	}
	return notifier.Notify(ctx, note)
}
