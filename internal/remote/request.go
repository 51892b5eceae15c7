package remote

import "genfetch/internal/batch"

// NewRequest projects a normalized spec onto the wire. referenceIDs are the
// asset ids of uploaded references, empty for quotes.
func NewRequest(spec batch.Spec, traceID string, referenceIDs []string) Request {
	return Request{
		Kind:           spec.Kind.String(),
		Prompt:         spec.Prompt,
		Model:          spec.Model,
		Variations:     spec.Variations,
		Channels:       append([]string(nil), spec.Channels...),
		ReferenceCount: len(spec.References),
		ReferenceIDs:   referenceIDs,
		Seed:           spec.Seed,
		TraceID:        traceID,
	}
}
