package batch

import (
	"fmt"
	"strings"

	"genfetch/internal/services"
)

// Reference is a local file uploaded alongside a generation request.
type Reference struct {
	Name string
	Path string
}

// Spec describes a prospective generation, used for both quotes and submissions.
type Spec struct {
	Kind       Kind
	Prompt     string
	Model      string
	Variations int
	Channels   []string
	References []Reference
	Seed       *int64
}

// Limits bounds what a Spec may request.
type Limits struct {
	MaxVariations   int
	DefaultChannels []string
}

// Normalize validates parameter combinations without touching the network and
// fills defaults. Violations wrap services.ErrUnsupportedCombination.
func (s Spec) Normalize(limits Limits) (Spec, error) {
	unsupported := func(format string, args ...any) error {
		return services.Wrap(services.ErrUnsupportedCombination, "request", "normalize", fmt.Sprintf(format, args...), nil)
	}

	if s.Kind == "" {
		s.Kind = KindImage
	}
	if _, ok := kindTraits[s.Kind]; !ok {
		return Spec{}, unsupported("unknown kind %q", s.Kind)
	}
	traits := s.Kind.Traits()
	s.Prompt = strings.TrimSpace(s.Prompt)
	s.Model = strings.TrimSpace(s.Model)

	if s.Variations == 0 {
		s.Variations = 1
	}
	maxVariations := traits.MaxVariations
	if limits.MaxVariations > 0 && limits.MaxVariations < maxVariations {
		maxVariations = limits.MaxVariations
	}
	if s.Variations < 1 || s.Variations > maxVariations {
		return Spec{}, unsupported("%s supports 1-%d variations, got %d", s.Kind, maxVariations, s.Variations)
	}
	if s.Prompt == "" && len(s.References) == 0 {
		return Spec{}, unsupported("a prompt or at least one reference is required")
	}

	if traits.MultiChannel {
		if len(s.Channels) == 0 {
			s.Channels = append([]string(nil), limits.DefaultChannels...)
		}
		if len(s.Channels) == 0 {
			return Spec{}, unsupported("%s requires at least one channel", s.Kind)
		}
		seen := make(map[string]struct{}, len(s.Channels))
		channels := make([]string, 0, len(s.Channels))
		for _, channel := range s.Channels {
			channel = strings.ToLower(strings.TrimSpace(channel))
			if channel == "" {
				return Spec{}, unsupported("empty channel tag")
			}
			if _, ok := seen[channel]; ok {
				return Spec{}, unsupported("channel %q requested twice", channel)
			}
			seen[channel] = struct{}{}
			channels = append(channels, channel)
		}
		s.Channels = channels
	} else {
		if len(s.Channels) > 0 && !(len(s.Channels) == 1 && s.Channels[0] == ChannelPrimary) {
			return Spec{}, unsupported("%s does not support channels", s.Kind)
		}
		s.Channels = []string{ChannelPrimary}
	}

	if len(s.References) > 0 && !traits.References {
		return Spec{}, unsupported("%s does not accept reference uploads", s.Kind)
	}
	for _, ref := range s.References {
		if strings.TrimSpace(ref.Path) == "" {
			return Spec{}, unsupported("reference %q has no path", ref.Name)
		}
	}
	if s.Seed != nil {
		if !traits.CustomSeed {
			return Spec{}, unsupported("%s does not support custom seeds", s.Kind)
		}
		if s.Variations > 1 {
			return Spec{}, unsupported("a custom seed requires a single variation")
		}
	}
	return s, nil
}
