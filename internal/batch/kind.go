package batch

import (
	"fmt"
	"strings"
)

// Kind identifies which artifact family a generation produces.
type Kind string

const (
	KindImage     Kind = "image"
	KindAnimation Kind = "animation"
	KindMaterial  Kind = "material"
	KindAudio     Kind = "audio"
)

// ChannelPrimary is the only channel of single-artifact kinds.
const ChannelPrimary = "primary"

// KindTraits parameterizes the shared engine per artifact family.
type KindTraits struct {
	Extension     string
	MultiChannel  bool
	References    bool
	CustomSeed    bool
	MaxVariations int
}

var kindTraits = map[Kind]KindTraits{
	KindImage:     {Extension: ".png", References: true, CustomSeed: true, MaxVariations: 4},
	KindAnimation: {Extension: ".mp4", References: true, CustomSeed: true, MaxVariations: 2},
	KindMaterial:  {Extension: ".png", MultiChannel: true, References: true, CustomSeed: true, MaxVariations: 4},
	KindAudio:     {Extension: ".wav", MaxVariations: 4},
}

// ParseKind validates a user-supplied kind name.
func ParseKind(value string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := kindTraits[kind]; !ok {
		return "", fmt.Errorf("unknown artifact kind %q (want image, animation, material or audio)", value)
	}
	return kind, nil
}

// Traits returns the engine parameters for k. Unknown kinds get image traits.
func (k Kind) Traits() KindTraits {
	if traits, ok := kindTraits[k]; ok {
		return traits
	}
	return kindTraits[KindImage]
}

func (k Kind) String() string { return string(k) }
