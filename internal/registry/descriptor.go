// Package registry tracks the desired set of camera streams. The desired
// state comes from a remote equipment registry polled over HTTP, with a
// local fallback file used until the first successful remote fetch.
package registry

// Transport selects how a source pipeline pulls media from the camera.
type Transport string

// Supported transport hints for upstream RTSP sources.
const (
	TransportTCP  Transport = "tcp"
	TransportUDP  Transport = "udp"
	TransportAuto Transport = "auto"
)

// Valid reports whether t is a known transport value.
func (t Transport) Valid() bool {
	switch t {
	case TransportTCP, TransportUDP, TransportAuto:
		return true
	}
	return false
}

// StreamDescriptor describes one camera stream the gateway should serve.
// It is a plain comparable value so reconciliation can detect changed
// descriptors with ==.
type StreamDescriptor struct {
	ID           string
	SourceURL    string
	Username     string
	Password     string
	Transport    Transport
	DisableAudio bool
}

// MountPath returns the RTSP mount path clients use for this stream.
func (d StreamDescriptor) MountPath() string {
	return "/" + d.ID
}

// Defaults holds per-stream settings applied when the registry entry
// does not specify them.
type Defaults struct {
	Transport    Transport
	DisableAudio bool
}

// registryEntry is the wire format shared by the remote registry
// response and the fallback file.
type registryEntry struct {
	EquipID      string `json:"equipId"`
	SourceURL    string `json:"sourceUrl"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	Transport    string `json:"transport,omitempty"`
	DisableAudio *bool  `json:"disableAudio,omitempty"`
}

// toDescriptor converts a wire entry to a descriptor, filling gaps from
// defaults. Returns false when the entry is unusable.
func (e registryEntry) toDescriptor(defaults Defaults) (StreamDescriptor, bool) {
	if e.EquipID == "" || e.SourceURL == "" {
		return StreamDescriptor{}, false
	}

	d := StreamDescriptor{
		ID:           e.EquipID,
		SourceURL:    e.SourceURL,
		Username:     e.Username,
		Password:     e.Password,
		Transport:    defaults.Transport,
		DisableAudio: defaults.DisableAudio,
	}
	if t := Transport(e.Transport); t.Valid() {
		d.Transport = t
	}
	if e.DisableAudio != nil {
		d.DisableAudio = *e.DisableAudio
	}
	return d, true
}
