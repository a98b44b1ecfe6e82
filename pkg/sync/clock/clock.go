// Package clock estimates the offset between the local clock and the server's
// clock using Cristian's algorithm.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/boxsync/pkg/errors"
)

// PingSamples is the number of pings used to estimate the minimum one-way
// delay to the server.
const PingSamples = 4

// TimeSource is the server being synchronized with.
type TimeSource interface {
	// ServerTime returns the server's time in milliseconds since the epoch.
	ServerTime() (int64, error)
	Ping() error
}

// Offset is the estimated difference between the local clock and the
// server's clock.
type Offset struct {
	// Millis is the local time minus the server time.
	Millis int64

	// ErrorMillis bounds the error of the estimate.
	ErrorMillis int64
}

// Duration returns the offset as a time.Duration.
func (o Offset) Duration() time.Duration {
	return time.Duration(o.Millis) * time.Millisecond
}

type sample struct {
	serverTime int64
	received   int64
	rtt        int64
}

// ComputeOffset samples the server's time `maxAttempts` times, and computes
// the offset from the sample with the smallest round trip. Failed samples
// are skipped. An error is only returned if every sample fails.
func ComputeOffset(src TimeSource, clock clockwork.Clock, maxAttempts int) (Offset, error) {
	var best *sample
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		t0 := millis(clock.Now())
		serverTime, err := src.ServerTime()
		t1 := millis(clock.Now())
		if err != nil {
			log.WithError(err).WithField("attempt", i).Debug("Failed to sample server time")
			lastErr = err
			continue
		}

		s := sample{serverTime: serverTime, received: t1, rtt: t1 - t0}
		if best == nil || s.rtt < best.rtt {
			best = &s
		}
	}

	if best == nil {
		if lastErr == nil {
			lastErr = errors.New("no samples")
		}
		if !errors.IsTransient(lastErr) {
			lastErr = errors.RemoteFailure{Err: lastErr}
		}
		return Offset{}, errors.WithContext(lastErr, "sample server time")
	}

	minDelay := minOneWayDelay(src, clock)
	serverTimeAtReceipt := best.serverTime + best.rtt/2
	offset := Offset{
		Millis:      best.received - serverTimeAtReceipt,
		ErrorMillis: best.rtt/2 - minDelay,
	}
	log.WithFields(log.Fields{
		"offsetMillis": offset.Millis,
		"errorMillis":  offset.ErrorMillis,
		"rttMillis":    best.rtt,
	}).Debug("Computed clock offset")
	return offset, nil
}

// minOneWayDelay returns half of the fastest ping, or zero if every ping
// failed.
func minOneWayDelay(src TimeSource, clock clockwork.Clock) int64 {
	var minDelay int64 = -1
	for i := 0; i < PingSamples; i++ {
		t0 := millis(clock.Now())
		if err := src.Ping(); err != nil {
			log.WithError(err).Debug("Ping failed")
			continue
		}

		delay := (millis(clock.Now()) - t0) / 2
		if minDelay < 0 || delay < minDelay {
			minDelay = delay
		}
	}

	if minDelay < 0 {
		return 0
	}
	return minDelay
}

func millis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
