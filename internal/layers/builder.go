package layers

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cyrinux/jail-ai/internal/classify"
	"github.com/cyrinux/jail-ai/internal/runtime"
)

// existenceCacheSize bounds the image-existence cache.
const existenceCacheSize = 256

// BuildError reports a failed layer build with the layer name attached.
type BuildError struct {
	Layer string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build layer %s: %v", e.Layer, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Options tunes one Ensure walk.
type Options struct {
	// Force rebuilds every layer regardless of freshness (the drift
	// "yes" path and explicit upgrades).
	Force bool
	// ForceLayers rebuilds the named layers regardless of freshness;
	// the layers above them follow because their parent digest changes.
	ForceLayers []string
	// Parallel builds independent language layers concurrently, each
	// against the base layer. The default is the sequential chain.
	Parallel bool
	// Output receives streamed build progress. Nil discards it.
	Output io.Writer
	// BaseRecipe overrides the embedded base recipe with the user's
	// writable overlay from the configuration directory.
	BaseRecipe []byte
}

func (o Options) forced(layer string) bool {
	if o.Force {
		return true
	}
	for _, l := range o.ForceLayers {
		if l == layer {
			return true
		}
	}
	return false
}

// Builder walks a plan from base to terminal, building exactly the
// layers whose recorded identity no longer matches.
type Builder struct {
	rt     runtime.Runtime
	logger *log.Logger

	mu     sync.Mutex
	exists *lru.Cache[string, bool]
}

// NewBuilder creates a builder over the given runtime.
func NewBuilder(rt runtime.Runtime, logger *log.Logger) *Builder {
	cache, _ := lru.New[string, bool](existenceCacheSize)
	return &Builder{rt: rt, logger: logger, exists: cache}
}

// Ensure makes every layer of the plan present and fresh, returning the
// terminal image reference. Two consecutive calls with unchanged inputs
// perform no builds on the second call.
func (b *Builder) Ensure(ctx context.Context, plan *Plan, opts Options) (string, error) {
	base := plan.Shared[0]
	parent, err := b.ensureLayer(ctx, base.Recipe, base.Ref, built{}, opts.BaseRecipe, "", opts)
	if err != nil {
		return "", err
	}

	langs := plan.Shared[1:]
	if opts.Parallel && len(langs) > 1 {
		parent, err = b.ensureLangsParallel(ctx, langs, parent, opts)
	} else {
		for _, layer := range langs {
			parent, err = b.ensureShared(ctx, layer, parent, opts)
			if err != nil {
				break
			}
		}
	}
	if err != nil {
		return "", err
	}

	if plan.Custom != nil {
		parent, err = b.ensureCustom(ctx, plan, parent, opts)
		if err != nil {
			return "", err
		}
	}

	if plan.Terminal.Recipe == "" {
		if err := b.ensureAlias(ctx, parent.ref, plan.Terminal.Ref, opts); err != nil {
			return "", err
		}
		return plan.Terminal.Ref, nil
	}

	if _, err := b.ensureLayer(ctx, plan.Terminal.Recipe, plan.Terminal.Ref, parent, nil, "", opts); err != nil {
		return "", err
	}
	return plan.Terminal.Ref, nil
}

// built identifies a resolved layer: its reference and content digest.
type built struct {
	ref    string
	digest string
}

func (b *Builder) ensureShared(ctx context.Context, layer Layer, parent built, opts Options) (built, error) {
	return b.ensureLayer(ctx, layer.Recipe, layer.Ref, parent, nil, "", opts)
}

// ensureLangsParallel fans out one build task per language layer, all
// against the base image, and awaits the group. The returned parent for
// downstream layers is the last language in build order.
func (b *Builder) ensureLangsParallel(ctx context.Context, langs []Layer, base built, opts Options) (built, error) {
	results := make([]built, len(langs))
	g, gctx := errgroup.WithContext(ctx)
	for i, layer := range langs {
		g.Go(func() error {
			res, err := b.ensureLayer(gctx, layer.Recipe, layer.Ref, base, nil, "", opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return built{}, err
	}
	return results[len(results)-1], nil
}

func (b *Builder) ensureCustom(ctx context.Context, plan *Plan, parent built, opts Options) (built, error) {
	path := filepath.Join(plan.Workspace, classify.CustomContainerfile)
	recipe, err := os.ReadFile(path)
	if err != nil {
		return built{}, &BuildError{Layer: classify.TagCustom, Err: err}
	}
	return b.ensureLayer(ctx, classify.TagCustom, plan.Custom.Ref, parent, recipe, plan.Workspace, opts)
}

// ensureLayer reuses the image at ref when its recorded recipe hash and
// parent digest both match the current plan; otherwise it builds.
// recipe overrides the embedded recipe bytes (the custom layer).
func (b *Builder) ensureLayer(ctx context.Context, recipeName, ref string, parent built, recipe []byte, contextDir string, opts Options) (built, error) {
	if recipe == nil {
		embedded, ok := Recipe(recipeName)
		if !ok {
			return built{}, &BuildError{Layer: recipeName, Err: fmt.Errorf("no embedded recipe")}
		}
		recipe = embedded
	}
	hash := HashRecipe(recipe)

	if !opts.forced(recipeName) {
		if info, fresh := b.freshImage(ctx, ref, hash, parent.digest); fresh {
			b.logger.Printf("layer %s is up to date (%s)", recipeName, ref)
			return built{ref: ref, digest: info.ID}, nil
		}
	}

	b.logger.Printf("building layer %s -> %s", recipeName, ref)
	err := b.rt.BuildImage(ctx, runtime.BuildSpec{
		Recipe:     recipe,
		ContextDir: contextDir,
		Parent:     parent.ref,
		Tag:        ref,
		Labels: map[string]string{
			LabelRecipeHash:   hash,
			LabelParentDigest: parent.digest,
		},
		Output: opts.Output,
	})
	if err != nil {
		return built{}, &BuildError{Layer: recipeName, Err: err}
	}
	b.invalidate(ref)

	info, err := b.rt.InspectImage(ctx, ref)
	if err != nil {
		return built{}, &BuildError{Layer: recipeName, Err: err}
	}
	return built{ref: ref, digest: info.ID}, nil
}

// ensureAlias tags src with the terminal reference when the alias is
// missing or stale. A tag failure is non-fatal if the reference already
// resolves to the source image.
func (b *Builder) ensureAlias(ctx context.Context, src, dst string, opts Options) error {
	if !opts.Force {
		srcInfo, err := b.rt.InspectImage(ctx, src)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", src, err)
		}
		if dstInfo, err := b.rt.InspectImage(ctx, dst); err == nil && dstInfo.ID == srcInfo.ID {
			return nil
		}
	}
	if err := b.rt.TagImage(ctx, src, dst); err != nil {
		if info, ierr := b.rt.InspectImage(ctx, dst); ierr == nil && info.ID != "" {
			b.logger.Printf("tag %s failed but reference exists: %v", dst, err)
			return nil
		}
		return err
	}
	b.invalidate(dst)
	return nil
}

// freshImage reports whether ref exists and carries the expected recipe
// hash and parent digest. An empty wantParent (the base layer) skips the
// parent comparison.
func (b *Builder) freshImage(ctx context.Context, ref, wantHash, wantParent string) (runtime.ImageInfo, bool) {
	if !b.imageExists(ctx, ref) {
		return runtime.ImageInfo{}, false
	}
	info, err := b.rt.InspectImage(ctx, ref)
	if err != nil {
		return runtime.ImageInfo{}, false
	}
	if info.Labels[LabelRecipeHash] != wantHash {
		return runtime.ImageInfo{}, false
	}
	if wantParent != "" && info.Labels[LabelParentDigest] != wantParent {
		return runtime.ImageInfo{}, false
	}
	return info, true
}

func (b *Builder) imageExists(ctx context.Context, ref string) bool {
	b.mu.Lock()
	if exists, ok := b.exists.Get(ref); ok {
		b.mu.Unlock()
		return exists
	}
	b.mu.Unlock()

	exists, err := b.rt.ImageExists(ctx, ref)
	if err != nil {
		return false
	}

	b.mu.Lock()
	b.exists.Add(ref, exists)
	b.mu.Unlock()
	return exists
}

// invalidate drops a reference from the existence cache. The builder's
// own builds and tag writes are the only mutation points.
func (b *Builder) invalidate(ref string) {
	b.mu.Lock()
	b.exists.Remove(ref)
	b.mu.Unlock()
}
