package jail

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/cyrinux/jail-ai/internal/classify"
	"github.com/cyrinux/jail-ai/internal/config"
	"github.com/cyrinux/jail-ai/internal/drift"
	"github.com/cyrinux/jail-ai/internal/egress"
	"github.com/cyrinux/jail-ai/internal/layers"
	"github.com/cyrinux/jail-ai/internal/runtime"
)

// Session wires the classifier, planner, builder, drift detector, jail
// manager, and egress filter into the typical invocation flow.
type Session struct {
	RT       runtime.Runtime
	Builder  *layers.Builder
	Manager  *Manager
	Detector *drift.Detector
	Prompt   drift.Prompter
	Egress   *egress.Filter
	Logger   *log.Logger
	// BuildOutput receives streamed image-build progress.
	BuildOutput io.Writer
}

// RunOptions tunes one session entry.
type RunOptions struct {
	// ForceRebuild rebuilds every layer and recreates the container.
	ForceRebuild bool
	// ForceLayers rebuilds the named layers regardless of freshness
	// (and, through the changed parent digest, the layers above them).
	ForceLayers []string
	// Parallel enables concurrent builds of independent language
	// layers.
	Parallel bool
}

// NewSession assembles a session over the given runtime.
func NewSession(rt runtime.Runtime, logger *log.Logger, prompt drift.Prompter, verbose bool) *Session {
	return &Session{
		RT:          rt,
		Builder:     layers.NewBuilder(rt, logger),
		Manager:     NewManager(rt, logger),
		Detector:    drift.NewDetector(rt, logger),
		Prompt:      prompt,
		Egress:      egress.NewFilter(logger, verbose),
		Logger:      logger,
		BuildOutput: os.Stderr,
	}
}

// Plan classifies the workspace and produces today's layer plan for the
// configuration.
func (s *Session) Plan(cfg *Config) (*layers.Plan, []byte, error) {
	tags, err := classify.Workspace(cfg.Workspace, classify.Options{NoNix: cfg.NoNix})
	if err != nil {
		return nil, nil, err
	}

	var customRecipe []byte
	for _, t := range tags {
		if t == classify.TagCustom {
			customRecipe, err = os.ReadFile(filepath.Join(cfg.Workspace, classify.CustomContainerfile))
			if err != nil {
				return nil, nil, err
			}
		}
	}

	plan, err := layers.PlanStack(layers.Input{
		Workspace:    cfg.Workspace,
		Tags:         tags,
		Agent:        cfg.AgentOrNone(),
		Isolated:     cfg.Isolated,
		CustomRecipe: customRecipe,
	})
	if err != nil {
		return nil, nil, err
	}
	return plan, customRecipe, nil
}

// Up brings the jail to a running container backed by a fresh terminal
// image: plan, drift-check any existing container, build what is
// missing, create or upgrade the container, start it, and attach the
// egress filter when requested. Returns the terminal image reference.
func (s *Session) Up(ctx context.Context, cfg *Config, opts RunOptions) (string, error) {
	if err := cfg.Normalize(); err != nil {
		return "", err
	}

	plan, customRecipe, err := s.Plan(cfg)
	if err != nil {
		return "", err
	}

	baseRecipe, err := config.BaseRecipe()
	if err != nil {
		return "", err
	}
	if err := config.WriteHashTable(); err != nil {
		s.Logger.Printf("recipe hash table: %v", err)
	}

	force := opts.ForceRebuild
	recreate := force

	existing, err := s.Manager.Inspect(ctx, cfg.Name)
	if err == nil && existing.Labels[LabelBlockHost] == "true" {
		// The persisted label is authoritative for host blocking: the
		// flag need not be repeated on later invocations, and a
		// recreated container keeps it.
		cfg.BlockHost = true
	}
	switch {
	case err == nil && !force:
		// Reusing a container: surface drift before touching anything.
		adv, derr := s.Detector.Check(ctx, plan, existing.Image, baseRecipe, customRecipe)
		if derr != nil {
			return "", derr
		}
		if !adv.Empty() && s.Prompt.Confirm(adv) {
			force = true
			recreate = true
		}
		if !recreate {
			// Declined (or no drift): the existing container is used
			// unchanged.
			if err := s.Manager.Start(ctx, cfg.Name); err != nil {
				return "", err
			}
			s.maybeAttachEgress(ctx, cfg)
			return existing.Image, nil
		}
	case err != nil && !runtime.IsNotFound(err):
		return "", err
	}

	image, err := s.Builder.Ensure(ctx, plan, layers.Options{
		Force:       force,
		ForceLayers: opts.ForceLayers,
		Parallel:    opts.Parallel,
		Output:      s.BuildOutput,
		BaseRecipe:  baseRecipe,
	})
	if err != nil {
		return "", err
	}

	if recreate && existing.Name != "" {
		if err := s.Manager.Upgrade(ctx, cfg, image); err != nil {
			return "", err
		}
	} else {
		if err := s.Manager.Create(ctx, cfg, image); err != nil {
			return "", err
		}
		if err := s.Manager.Start(ctx, cfg.Name); err != nil {
			return "", err
		}
	}

	s.maybeAttachEgress(ctx, cfg)
	return image, nil
}

// Enter runs Up and then executes the agent command (or an interactive
// shell) inside the jail, returning the command's exit code.
func (s *Session) Enter(ctx context.Context, cfg *Config, opts RunOptions) (int, error) {
	if _, err := s.Up(ctx, cfg, opts); err != nil {
		return -1, err
	}

	argv := []string{"/usr/bin/zsh", "-l"}
	if a := cfg.AgentOrNone(); a != "" {
		argv = a.Command()
	}
	return s.Manager.Exec(ctx, cfg.Name, argv, true)
}

// Reattach re-establishes the egress filter for an already-running jail
// when its metadata asks for host blocking. Start, exec, and join all
// pass through here so a restarted container gets its filter back.
func (s *Session) Reattach(ctx context.Context, name string) {
	info, err := s.Manager.Inspect(ctx, name)
	if err != nil || !info.Running {
		return
	}
	if info.Labels[LabelBlockHost] != "true" {
		return
	}
	cfg := &Config{Name: name, BlockHost: true}
	s.maybeAttachEgress(ctx, cfg)
}

// maybeAttachEgress attaches the filter and degrades to fail-open on
// any error: the container continues without filtering.
func (s *Session) maybeAttachEgress(ctx context.Context, cfg *Config) {
	if !cfg.BlockHost {
		return
	}
	cgroupPath, err := s.Manager.CgroupPath(ctx, cfg.Name)
	if err != nil {
		s.Logger.Printf("egress filter: cannot resolve cgroup for %s: %v", cfg.Name, err)
		return
	}
	if err := s.Egress.EnsureAttached(ctx, cgroupPath); err != nil {
		var herr *egress.HelperError
		if errors.As(err, &herr) && herr.Category != "" {
			s.Logger.Printf("egress filter failed open for %s: %s", cfg.Name, herr.Category)
		} else {
			s.Logger.Printf("egress filter failed open for %s: %v", cfg.Name, err)
		}
	}
}
