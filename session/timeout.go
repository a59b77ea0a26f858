package session

import "time"

// RegistrationTimer signals on C when the registration window (§4.2)
// expires; it only reports expiry and sends nothing itself. The
// session task is expected to call Stop once registration completes.
type RegistrationTimer struct {
	t *time.Timer
}

// NewRegistrationTimer replaces a d below MinRegistrationTimeout with
// DefaultRegistrationTimeout, so a misconfigured value of zero doesn't
// kill every connection instantly.
func NewRegistrationTimer(d time.Duration) *RegistrationTimer {
	if d < MinRegistrationTimeout {
		d = DefaultRegistrationTimeout
	}
	return &RegistrationTimer{t: time.NewTimer(d)}
}

func (r *RegistrationTimer) C() <-chan time.Time { return r.t.C }

func (r *RegistrationTimer) Stop() { r.t.Stop() }
