package authclient

import (
	"encoding/json"

	"go.uber.org/zap"

	"novapharm/m/internal/events"
)

// HandleRevocation drops the held session when ev names it. Token rotation
// by Refresh is ignored. It reports whether the session was dropped.
func (c *Client) HandleRevocation(ev events.SessionRevoked) bool {
	if ev.Reason == "refreshed" || ev.SessionID == "" {
		return false
	}
	if c.dropSession(ev.SessionID) {
		c.log.Info("session revoked remotely", zap.String("reason", ev.Reason))
		return true
	}
	return false
}

// DecodeRevocation parses a payload published on TopicSessionRevoked.
func DecodeRevocation(payload []byte) (events.SessionRevoked, error) {
	var ev events.SessionRevoked
	err := json.Unmarshal(payload, &ev)
	return ev, err
}

// WatchRevocations decodes revocations published on sub and passes each to
// apply until stop is called.
func WatchRevocations(sub events.Subscriber, logger *zap.Logger, apply func(events.SessionRevoked)) (stop func(), err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ch, cancel, err := sub.Subscribe(events.TopicSessionRevoked)
	if err != nil {
		return nil, err
	}
	go func() {
		for payload := range ch {
			ev, err := DecodeRevocation(payload)
			if err != nil {
				logger.Warn("decode revocation", zap.Error(err))
				continue
			}
			apply(ev)
		}
	}()
	return cancel, nil
}
