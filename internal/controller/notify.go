package controller

import (
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// Notification is one user-visible report of a failed remote operation.
type Notification struct {
	Kind    types.ErrorKind
	Op      string
	Message string
}

// Notifier surfaces notifications to the user.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to a zap logger at error level.
type LogNotifier struct {
	Log *zap.Logger
}

// Notify logs n.
func (l LogNotifier) Notify(n Notification) {
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Error(n.Message, zap.String("op", n.Op), zap.Stringer("kind", n.Kind))
}
