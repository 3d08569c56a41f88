package media

import (
	"fmt"
	"maps"
	"sort"
	"strings"
)

// Well-known tag names.
const (
	TagTitle        = "title"
	TagVideoCodec   = "video-codec"
	TagAudioCodec   = "audio-codec"
	TagBitrate      = "bitrate"
	TagContainer    = "container-format"
	TagLanguageCode = "language-code"
)

// TagList is a set of metadata key/value pairs travelling in tag events.
type TagList map[string]any

// Copy returns a shallow copy.
func (t TagList) Copy() TagList {
	if t == nil {
		return nil
	}
	return maps.Clone(t)
}

// Merge returns a new list holding t overlaid with o. Keys in o win.
func (t TagList) Merge(o TagList) TagList {
	out := make(TagList, len(t)+len(o))
	maps.Copy(out, t)
	maps.Copy(out, o)
	return out
}

func (t TagList) String() string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, t[k])
	}
	return "taglist, " + strings.Join(parts, ", ")
}
