// Package drift compares an existing jail's container against what the
// planner would produce today. It is purely an observer plus a prompt:
// it never mutates state.
package drift

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cyrinux/jail-ai/internal/layers"
	"github.com/cyrinux/jail-ai/internal/runtime"
)

// ImageDrift pairs the container's current image reference with the
// reference the planner would assign today.
type ImageDrift struct {
	Current  string
	Expected string
}

// Advisory is the structured result of a drift check.
type Advisory struct {
	// OutdatedLayers names recipes whose image metadata no longer
	// matches the current recipe hash.
	OutdatedLayers []string
	// ImageDrift is non-nil when the container runs a different
	// terminal reference than today's plan.
	ImageDrift *ImageDrift
}

// Empty reports whether no drift was found.
func (a Advisory) Empty() bool {
	return len(a.OutdatedLayers) == 0 && a.ImageDrift == nil
}

// Prompter decides whether a drift advisory should trigger a rebuild.
type Prompter interface {
	Confirm(a Advisory) bool
}

// Deny is the non-interactive default: never rebuild.
type Deny struct{}

func (Deny) Confirm(Advisory) bool { return false }

// Terminal prompts on a terminal with a yes/no question.
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

func (t Terminal) Confirm(a Advisory) bool {
	if len(a.OutdatedLayers) > 0 {
		fmt.Fprintf(t.Out, "Outdated layers: %s\n", strings.Join(a.OutdatedLayers, ", "))
	}
	if a.ImageDrift != nil {
		fmt.Fprintf(t.Out, "Container image drift: %s -> %s\n", a.ImageDrift.Current, a.ImageDrift.Expected)
	}
	fmt.Fprint(t.Out, "Rebuild and recreate the jail? [y/N] ")

	line, err := bufio.NewReader(t.In).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// Detector performs the two independent drift checks.
type Detector struct {
	rt     runtime.Runtime
	logger *log.Logger
}

// NewDetector creates a detector over the given runtime.
func NewDetector(rt runtime.Runtime, logger *log.Logger) *Detector {
	return &Detector{rt: rt, logger: logger}
}

// Check compares each planned layer's recorded recipe hash against the
// current hash, and the container's image reference against the plan's
// terminal reference. baseRecipe carries the user's base overlay bytes;
// customRecipe the workspace recipe bytes (nil when absent).
func (d *Detector) Check(ctx context.Context, plan *layers.Plan, containerImage string, baseRecipe, customRecipe []byte) (Advisory, error) {
	var adv Advisory

	for _, layer := range plan.Shared {
		recipe := layer.Recipe
		var want string
		if recipe == "base" && len(baseRecipe) > 0 {
			want = layers.HashRecipe(baseRecipe)
		} else {
			h, ok := layers.RecipeHash(recipe)
			if !ok {
				continue
			}
			want = h
		}
		outdated, err := d.layerOutdated(ctx, layer.Ref, want)
		if err != nil {
			return Advisory{}, err
		}
		if outdated {
			adv.OutdatedLayers = append(adv.OutdatedLayers, recipe)
		}
	}

	if plan.Custom != nil && len(customRecipe) > 0 {
		outdated, err := d.layerOutdated(ctx, plan.Custom.Ref, layers.HashRecipe(customRecipe))
		if err != nil {
			return Advisory{}, err
		}
		if outdated {
			adv.OutdatedLayers = append(adv.OutdatedLayers, plan.Custom.Recipe)
		}
	}

	if plan.Terminal.Recipe != "" {
		if want, ok := layers.RecipeHash(plan.Terminal.Recipe); ok {
			outdated, err := d.layerOutdated(ctx, plan.Terminal.Ref, want)
			if err != nil {
				return Advisory{}, err
			}
			if outdated {
				adv.OutdatedLayers = append(adv.OutdatedLayers, plan.Terminal.Recipe)
			}
		}
	}

	if containerImage != "" && containerImage != plan.Terminal.Ref {
		adv.ImageDrift = &ImageDrift{Current: containerImage, Expected: plan.Terminal.Ref}
	}

	return adv, nil
}

// layerOutdated reports whether the image at ref is missing its recipe
// hash label or carries a stale one. A missing image counts as outdated:
// a rebuild is what brings it into existence.
func (d *Detector) layerOutdated(ctx context.Context, ref, want string) (bool, error) {
	info, err := d.rt.InspectImage(ctx, ref)
	if err != nil {
		if runtime.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}
	return info.Labels[layers.LabelRecipeHash] != want, nil
}
