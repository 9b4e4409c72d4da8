package main

import (
	"github.com/rs/zerolog"

	"github.com/cloudx-io/sealedauction/core"
)

// logNotifier writes every auction event to the structured log.
type logNotifier struct {
	logger zerolog.Logger
}

func (n logNotifier) Notify(e core.Event) {
	level := zerolog.InfoLevel
	if e.Type == core.EventTransferFailed {
		level = zerolog.WarnLevel
	}
	ev := n.logger.WithLevel(level).
		Str("auction", e.AuctionID.String()).
		Uint64("seq", e.Seq).
		Str("event", string(e.Type)).
		Time("at", e.At)
	if e.Participant != "" {
		ev = ev.Str("participant", e.Participant)
	}
	if e.Amount != 0 {
		ev = ev.Int64("amount", e.Amount)
	}
	if !e.EndTime.IsZero() {
		ev = ev.Time("end_time", e.EndTime)
	}
	if e.Detail != "" {
		ev = ev.Str("detail", e.Detail)
	}
	ev.Msg("auction event")
}

// newHostNotifier logs each event and counts it by type.
func newHostNotifier(logger zerolog.Logger, metrics *hostMetrics) core.Notifier {
	return core.MultiNotifier{
		logNotifier{logger: logger},
		core.NotifierFunc(func(e core.Event) {
			metrics.events.WithLabelValues(string(e.Type)).Inc()
		}),
	}
}
