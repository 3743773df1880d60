package packet

import "math"

const ReplayProtectionBufferSize = 256

const emptyEntry = math.MaxUint64

// ReplayProtection remembers the most recent ReplayProtectionBufferSize sequence numbers received from a peer.
// Anything older than the window, or already seen inside it, is a replay.
type ReplayProtection struct {
	mostRecent uint64
	received   [ReplayProtectionBufferSize]uint64
}

func NewReplayProtection() *ReplayProtection {
	r := new(ReplayProtection)
	r.Reset()
	return r
}

func (r *ReplayProtection) Reset() {
	r.mostRecent = 0
	for i := range r.received {
		r.received[i] = emptyEntry
	}
}

func (r *ReplayProtection) AlreadyReceived(sequence uint64) bool {
	if r.mostRecent >= ReplayProtectionBufferSize && sequence <= r.mostRecent-ReplayProtectionBufferSize {
		return true
	}
	entry := r.received[sequence%ReplayProtectionBufferSize]
	if entry == emptyEntry {
		return false
	}
	return entry >= sequence
}

// Advance records sequence as received. Only call it once the packet has been authenticated.
func (r *ReplayProtection) Advance(sequence uint64) {
	if sequence > r.mostRecent {
		r.mostRecent = sequence
	}
	r.received[sequence%ReplayProtectionBufferSize] = sequence
}
