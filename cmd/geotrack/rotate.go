package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type rotator interface {
	Rotate() error
}

// rotateOnSignal rotates the audit log each time a signal arrives, until ctx
// ends. Operators send SIGHUP after moving the file aside.
func rotateOnSignal(ctx context.Context, signals <-chan os.Signal, r rotator, log logrus.FieldLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			if err := r.Rotate(); err != nil {
				log.WithError(err).WithField("signal", sig.String()).Warn("Audit log rotation failed")
				continue
			}
			log.WithField("signal", sig.String()).Info("Audit log rotated")
		}
	}
}
