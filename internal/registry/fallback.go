package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

// fallbackFile is the on-disk format of the local stream list: an
// object under "streams" keyed by stream id, unlike the remote
// registry's array form.
type fallbackFile struct {
	Streams map[string]registryEntry `json:"streams"`
}

// LoadFallback reads the local fallback stream list. The map key is the
// stream id; entries without a sourceUrl are dropped silently, and
// per-entry transport and disableAudio override the defaults.
func LoadFallback(path string, defaults Defaults) ([]StreamDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fallback file: %w", err)
	}

	var file fallbackFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse fallback file %s: %w", path, err)
	}

	descriptors := make([]StreamDescriptor, 0, len(file.Streams))
	for id, entry := range file.Streams {
		entry.EquipID = id
		if d, ok := entry.toDescriptor(defaults); ok {
			descriptors = append(descriptors, d)
		}
	}
	return descriptors, nil
}
