// Package catalog fetches the Vertex AI publisher-model catalog and turns it
// into OpenAI-style model entries.
package catalog

import (
	"strings"
	"time"
)

const (
	ObjectModel = "model"
	OwnedBy     = "google"

	// UnknownID stands in for records whose name yields no usable id.
	UnknownID = "unknown"
)

var includedStages = map[string]struct{}{
	"GA":             {},
	"PUBLIC_PREVIEW": {},
}

// PublisherModel is one record of the upstream publisherModels array. Fields
// the gateway does not use are ignored when decoding.
type PublisherModel struct {
	Name               string `json:"name"`
	VersionID          string `json:"versionId,omitempty"`
	LaunchStage        string `json:"launchStage,omitempty"`
	OpenSourceCategory string `json:"openSourceCategory,omitempty"`
}

type ListResponse struct {
	PublisherModels []PublisherModel `json:"publisherModels"`
}

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelID maps a resource name such as "publishers/google/models/gemini-pro"
// to "google/gemini-pro". Names with fewer than four segments use their last
// segment.
func ModelID(name string) string {
	parts := strings.Split(name, "/")
	if len(parts) >= 4 {
		return parts[1] + "/" + parts[3]
	}
	last := parts[len(parts)-1]
	if last == "" {
		return UnknownID
	}
	return last
}

// Include reports whether a record belongs in the public model list.
func Include(m PublisherModel) bool {
	if !strings.Contains(m.Name, "gemini") {
		return false
	}
	_, ok := includedStages[m.LaunchStage]
	return ok
}

// Translate filters records and converts them in upstream order. Every entry
// gets now as its creation time.
func Translate(records []PublisherModel, now time.Time) []Model {
	out := make([]Model, 0, len(records))
	created := now.Unix()
	for _, r := range records {
		if !Include(r) {
			continue
		}
		out = append(out, Model{
			ID:      ModelID(r.Name),
			Object:  ObjectModel,
			Created: created,
			OwnedBy: OwnedBy,
		})
	}
	return out
}
