package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cyrinux/jail-ai/internal/config"
	"github.com/cyrinux/jail-ai/internal/jail"
	"github.com/cyrinux/jail-ai/internal/runtime"
)

// jailFlags collects the flags shared by create and the default entry.
type jailFlags struct {
	name        string
	agent       string
	workspace   string
	mounts      []string
	env         []string
	memory      int64
	cpu         int
	network     string
	blockHost   bool
	isolated    bool
	noNix       bool
	noWorkspace bool
	workspaceRO bool
	gitConfig   bool
	sshAgent    bool
	layers      []string
	rebuild     bool
	parallel    bool
}

func (f *jailFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "jail name (derived from the workspace if empty)")
	cmd.Flags().StringVarP(&f.agent, "agent", "a", "", "agent to install and run (claude, copilot, cursor, gemini, codex, jules)")
	cmd.Flags().StringVarP(&f.workspace, "workspace", "w", "", "workspace directory (default: current directory)")
	cmd.Flags().StringArrayVarP(&f.mounts, "mount", "m", nil, "extra mount source:target[:ro]")
	cmd.Flags().StringArrayVarP(&f.env, "env", "e", nil, "extra environment KEY=VALUE")
	cmd.Flags().Int64Var(&f.memory, "memory", 0, "memory limit in MiB")
	cmd.Flags().IntVar(&f.cpu, "cpu", 0, "CPU limit as a percentage of one core")
	cmd.Flags().StringVar(&f.network, "network", "", "network mode (bridge, none, host)")
	cmd.Flags().BoolVar(&f.blockHost, "block-host", false, "block outbound connections to host addresses")
	cmd.Flags().BoolVar(&f.isolated, "isolated", false, "tag the terminal image per workspace instead of per layer stack")
	cmd.Flags().BoolVar(&f.noNix, "no-nix", false, "ignore flake.nix and keep language layers")
	cmd.Flags().BoolVar(&f.noWorkspace, "no-workspace", false, "do not mount the workspace")
	cmd.Flags().BoolVar(&f.workspaceRO, "workspace-ro", false, "mount the workspace read-only")
	cmd.Flags().BoolVar(&f.gitConfig, "git-config", false, "mount the host git configuration read-only")
	cmd.Flags().BoolVar(&f.sshAgent, "ssh-agent", false, "mount the SSH agent socket")
	cmd.Flags().StringSliceVar(&f.layers, "layers", nil, "force rebuild of the named layers")
	cmd.Flags().BoolVar(&f.rebuild, "rebuild", false, "force rebuild of every layer and recreate the container")
	cmd.Flags().BoolVar(&f.parallel, "parallel", false, "build independent language layers concurrently")
}

func (f *jailFlags) config() (*jail.Config, error) {
	workspace := f.workspace
	if workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve current directory: %w", err)
		}
		workspace = cwd
	}

	cfg := &jail.Config{
		Name:        f.name,
		Workspace:   workspace,
		Agent:       f.agent,
		MemoryMiB:   f.memory,
		CPUPercent:  f.cpu,
		Network:     f.network,
		BlockHost:   f.blockHost,
		Isolated:    f.isolated,
		NoNix:       f.noNix,
		NoWorkspace: f.noWorkspace,
		WorkspaceRO: f.workspaceRO,
		GitConfig:   f.gitConfig,
		SSHAgent:    f.sshAgent,
		Env:         map[string]string{},
	}

	for _, m := range f.mounts {
		mount, err := parseMount(m)
		if err != nil {
			return nil, err
		}
		cfg.Mounts = append(cfg.Mounts, mount)
	}
	for _, e := range f.env {
		k, v, ok := strings.Cut(e, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid environment entry %q, want KEY=VALUE", e)
		}
		cfg.Env[k] = v
	}
	return cfg, nil
}

func (f *jailFlags) runOptions() jail.RunOptions {
	return jail.RunOptions{
		ForceRebuild: f.rebuild,
		ForceLayers:  f.layers,
		Parallel:     f.parallel,
	}
}

// parseMount parses the source:target[:ro] triple.
func parseMount(s string) (runtime.Mount, error) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 2:
		return runtime.Mount{Source: parts[0], Target: parts[1]}, nil
	case 3:
		if parts[2] != "ro" && parts[2] != "rw" {
			return runtime.Mount{}, fmt.Errorf("invalid mount mode %q in %q", parts[2], s)
		}
		return runtime.Mount{Source: parts[0], Target: parts[1], ReadOnly: parts[2] == "ro"}, nil
	}
	return runtime.Mount{}, fmt.Errorf("invalid mount %q, want source:target[:ro]", s)
}

func newRootCmd() *cobra.Command {
	var verbose bool
	flags := &jailFlags{}

	root := &cobra.Command{
		Use:           "jail-ai",
		Short:         "Per-workspace container sandboxes for AI coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(verbose)
			if err != nil {
				return err
			}
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			code, err := s.Enter(cmd.Context(), cfg, flags.runOptions())
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.register(root)

	root.AddCommand(
		newCreateCmd(&verbose),
		newStartCmd(&verbose),
		newStopCmd(&verbose),
		newExecCmd(&verbose),
		newJoinCmd(&verbose),
		newRemoveCmd(&verbose),
		newListCmd(&verbose),
		newInspectCmd(&verbose),
		newSaveCmd(&verbose),
		newLoadCmd(&verbose),
		newUpgradeCmd(&verbose),
	)
	return root
}

func newCreateCmd(verbose *bool) *cobra.Command {
	flags := &jailFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the jail and build its image stack without entering it",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(*verbose)
			if err != nil {
				return err
			}
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			image, err := s.Up(cmd.Context(), cfg, flags.runOptions())
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", cfg.Name, image)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// resolveName picks the jail name from args or derives it from the
// current directory.
func resolveName(args []string, agentName string) (string, error) {
	if len(args) > 0 {
		return args[0], jail.ValidateName(args[0])
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve current directory: %w", err)
	}
	cfg := &jail.Config{Workspace: cwd, Agent: agentName}
	if err := cfg.Normalize(); err != nil {
		return "", err
	}
	return cfg.Name, nil
}

func newStartCmd(verbose *bool) *cobra.Command {
	var agentName string
	cmd := &cobra.Command{
		Use:   "start [name]",
		Short: "Start a stopped jail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(*verbose)
			if err != nil {
				return err
			}
			name, err := resolveName(args, agentName)
			if err != nil {
				return err
			}
			if err := s.Manager.Start(cmd.Context(), name); err != nil {
				return err
			}
			s.Reattach(cmd.Context(), name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "agent used when deriving the jail name")
	return cmd
}

func newStopCmd(verbose *bool) *cobra.Command {
	var agentName string
	cmd := &cobra.Command{
		Use:   "stop [name]",
		Short: "Stop a running jail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(*verbose)
			if err != nil {
				return err
			}
			name, err := resolveName(args, agentName)
			if err != nil {
				return err
			}
			return s.Manager.Stop(cmd.Context(), name)
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "agent used when deriving the jail name")
	return cmd
}

func newExecCmd(verbose *bool) *cobra.Command {
	var agentName string
	var interactive bool
	cmd := &cobra.Command{
		Use:   "exec [name] -- command [args...]",
		Short: "Run a command inside a running jail",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(*verbose)
			if err != nil {
				return err
			}

			name := ""
			argv := args
			if cmd.ArgsLenAtDash() == 1 {
				name = args[0]
				argv = args[1:]
			}
			if name == "" {
				name, err = resolveName(nil, agentName)
				if err != nil {
					return err
				}
			}
			if len(argv) == 0 {
				return fmt.Errorf("no command given")
			}

			s.Reattach(cmd.Context(), name)
			code, err := s.Manager.Exec(cmd.Context(), name, argv, interactive)
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "agent used when deriving the jail name")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "attach a terminal")
	return cmd
}

func newJoinCmd(verbose *bool) *cobra.Command {
	var agentName string
	cmd := &cobra.Command{
		Use:   "join [name]",
		Short: "Attach an interactive shell to a running jail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(*verbose)
			if err != nil {
				return err
			}
			name, err := resolveName(args, agentName)
			if err != nil {
				return err
			}
			s.Reattach(cmd.Context(), name)
			code, err := s.Manager.Join(cmd.Context(), name)
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "agent used when deriving the jail name")
	return cmd
}

func newRemoveCmd(verbose *bool) *cobra.Command {
	var agentName string
	var removeVolume bool
	cmd := &cobra.Command{
		Use:     "rm [name]",
		Aliases: []string{"remove"},
		Short:   "Remove a jail (the home volume is retained by default)",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(*verbose)
			if err != nil {
				return err
			}
			name, err := resolveName(args, agentName)
			if err != nil {
				return err
			}
			return s.Manager.Remove(cmd.Context(), &jail.Config{Name: name}, removeVolume)
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "agent used when deriving the jail name")
	cmd.Flags().BoolVar(&removeVolume, "volume", false, "also remove the persistent home volume")
	return cmd
}

func newListCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List jails",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(*verbose)
			if err != nil {
				return err
			}
			names, err := s.Manager.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}

func newInspectCmd(verbose *bool) *cobra.Command {
	var agentName string
	cmd := &cobra.Command{
		Use:   "inspect [name]",
		Short: "Show a jail's container state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(*verbose)
			if err != nil {
				return err
			}
			name, err := resolveName(args, agentName)
			if err != nil {
				return err
			}
			info, err := s.Manager.Inspect(cmd.Context(), name)
			if err != nil {
				return err
			}
			state := "stopped"
			if info.Running {
				state = "running"
			}
			fmt.Printf("name:\t%s\nimage:\t%s\nstate:\t%s\npid:\t%d\n",
				info.Name, info.Image, state, info.Pid)
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "agent used when deriving the jail name")
	return cmd
}

func newSaveCmd(verbose *bool) *cobra.Command {
	flags := &jailFlags{}
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Serialize the jail configuration to the config directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			if err := cfg.Normalize(); err != nil {
				return err
			}
			dir, err := config.JailsDir()
			if err != nil {
				return err
			}
			if err := cfg.Save(dir); err != nil {
				return err
			}
			fmt.Println(cfg.Name)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newLoadCmd(verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load name",
		Short: "Create a jail from a saved configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(*verbose)
			if err != nil {
				return err
			}
			dir, err := config.JailsDir()
			if err != nil {
				return err
			}
			cfg, err := jail.LoadConfig(dir, args[0])
			if err != nil {
				return err
			}
			image, err := s.Up(cmd.Context(), cfg, jail.RunOptions{})
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", cfg.Name, image)
			return nil
		},
	}
	return cmd
}

func newUpgradeCmd(verbose *bool) *cobra.Command {
	flags := &jailFlags{}
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Rebuild outdated layers and recreate the container (home volume preserved)",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(*verbose)
			if err != nil {
				return err
			}
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			opts := flags.runOptions()
			opts.ForceRebuild = true
			image, err := s.Up(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", cfg.Name, image)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
