// Package adaptive implements the AdaptiveStreamManager of §4.8: the
// ordered set of video profiles STREAMINFO advertises, and tracking
// which one is current as adaptive_stream_index values arrive on
// incoming video packets.
package adaptive

import "sync"

// paddingSize is the fixed suffix every profile's video header carries,
// required by downstream decoders regardless of the codec (§4.8).
const paddingSize = 64

// Profile is one STREAMINFO resolution entry, generalized with its
// padded video header ready to hand to the receiver (§4.8, §6).
type Profile struct {
	Width, Height int32
	VideoHeader   []byte // raw SPS/PPS (or equivalent), with the 64-byte padding suffix appended
}

// padHeader appends paddingSize zero bytes to raw, the fixed suffix
// downstream decoders require.
func padHeader(raw []byte) []byte {
	out := make([]byte, len(raw)+paddingSize)
	copy(out, raw)
	return out
}

// Manager is the AdaptiveStreamManager of §4.8.
type Manager struct {
	mu       sync.Mutex
	profiles []Profile
	current  int // index into profiles; -1 if unset
}

// NewManager builds an empty Manager; call SetProfiles once STREAMINFO
// arrives.
func NewManager() *Manager {
	return &Manager{current: -1}
}

// SetProfiles installs the ordered profile vector from a STREAMINFO
// message's resolution list, padding each raw video header to the fixed
// suffix length downstream decoders require. The first profile becomes
// current.
func (m *Manager) SetProfiles(resolutions []struct {
	Width, Height int32
	VideoHeader   []byte
}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = m.profiles[:0]
	for _, r := range resolutions {
		m.profiles = append(m.profiles, Profile{Width: r.Width, Height: r.Height, VideoHeader: padHeader(r.VideoHeader)})
	}
	if len(m.profiles) > 0 {
		m.current = 0
	} else {
		m.current = -1
	}
}

// Current returns the active profile, or false if none has been set yet.
func (m *Manager) Current() (Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current < 0 {
		return Profile{}, false
	}
	return m.profiles[m.current], true
}

// Observe is called once per incoming video packet with its
// adaptive_stream_index. If the index names a different profile than
// the current one, that profile becomes current and is returned so the
// receiver can be re-initialised with its header; otherwise Observe
// returns false (§4.8).
func (m *Manager) Observe(adaptiveStreamIndex uint8) (Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := int(adaptiveStreamIndex)
	if idx < 0 || idx >= len(m.profiles) {
		return Profile{}, false
	}
	if idx == m.current {
		return Profile{}, false
	}
	m.current = idx
	return m.profiles[idx], true
}
