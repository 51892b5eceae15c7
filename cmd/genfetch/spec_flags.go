package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"genfetch/internal/batch"
)

// specFlags collects the generation parameters shared by quote and generate.
type specFlags struct {
	kind       string
	prompt     string
	model      string
	variations int
	channels   []string
	references []string
	seed       int64
}

func (f *specFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.kind, "kind", "k", string(batch.KindImage), "Artifact kind: image, animation, material or audio")
	flags.StringVarP(&f.prompt, "prompt", "p", "", "Text prompt")
	flags.StringVarP(&f.model, "model", "m", "", "Model name (service default when empty)")
	flags.IntVarP(&f.variations, "variations", "n", 1, "Number of variations to generate")
	flags.StringSliceVar(&f.channels, "channels", nil, "Material channels (default from config)")
	flags.StringSliceVarP(&f.references, "ref", "r", nil, "Reference file to upload (repeatable)")
	flags.Int64Var(&f.seed, "seed", 0, "Custom seed (single variation only)")
}

func (f *specFlags) spec(cmd *cobra.Command) (batch.Spec, error) {
	kind, err := batch.ParseKind(f.kind)
	if err != nil {
		return batch.Spec{}, err
	}
	spec := batch.Spec{
		Kind:       kind,
		Prompt:     f.prompt,
		Model:      f.model,
		Variations: f.variations,
		Channels:   f.channels,
	}
	for _, ref := range f.references {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		abs, err := filepath.Abs(ref)
		if err != nil {
			return batch.Spec{}, fmt.Errorf("resolve reference %s: %w", ref, err)
		}
		spec.References = append(spec.References, batch.Reference{Name: filepath.Base(abs), Path: abs})
	}
	if cmd.Flags().Changed("seed") {
		seed := f.seed
		spec.Seed = &seed
	}
	return spec, nil
}
