package trading

import "trader-engine/internal/logger"

// Notifier delivers user-facing trade alerts. Implementations decide
// the channel; the engine only cares that urgent conditions (entries,
// exits, unprotected positions) reach the account owner.
type Notifier interface {
	Notify(userID int64, message string)
}

// LogNotifier writes notifications to the session log. It is the
// default when no external channel is wired up.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(userID int64, message string) {
	n.log.Info("notify user %d: %s", userID, message)
}
