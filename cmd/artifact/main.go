// Command artifact manages manifest-declared binary artifacts: resolving
// them into the local cache and maintaining manifest entries.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meigma/artifact"
	"github.com/meigma/artifact/archive"
)

// errExistsFalse signals a clean "not cached" result from the exists
// command. It maps to exit code 1 without an error message.
var errExistsFalse = errors.New("artifact is not cached")

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if !errors.Is(err, errExistsFalse) {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return 1
}

type globalOptions struct {
	manifestPath string
	cacheDir     string
	verbose      bool
}

func (g *globalOptions) logger() *slog.Logger {
	if !g.verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (g *globalOptions) open() (*artifact.Manager, error) {
	opts := []artifact.Option{artifact.WithLogger(g.logger())}
	if g.cacheDir != "" {
		opts = append(opts, artifact.WithCacheDir(g.cacheDir))
	}
	return artifact.Open(g.manifestPath, opts...)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "artifact",
		Short:         "Manifest-driven artifact cache",
		Long:          "artifact maintains a local content-addressable cache of binary assets\ndeclared in a manifest, fetching and verifying them on demand.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.manifestPath, "manifest", "m", "Artifacts.toml", "path to the artifact manifest")
	root.PersistentFlags().StringVar(&opts.cacheDir, "cache-dir", "", "cache root (default: the per-user cache directory)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline activity to stderr")

	root.AddCommand(
		newGetPathCmd(opts),
		newExistsCmd(opts),
		newClearCmd(opts),
		newListCmd(opts),
		newCreateCmd(opts),
		newBindCmd(opts),
		newUnbindCmd(opts),
		newAddSourceCmd(opts),
		newAddCmd(opts),
	)
	return root
}

func newGetPathCmd(g *globalOptions) *cobra.Command {
	var noFetch bool
	cmd := &cobra.Command{
		Use:   "get-path <name>",
		Short: "Resolve an artifact and print its cache directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := g.open()
			if err != nil {
				return err
			}
			var resolveOpts []artifact.ResolveOption
			if noFetch {
				resolveOpts = append(resolveOpts, artifact.NoFetch())
			}
			path, err := m.Resolve(cmd.Context(), args[0], resolveOpts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noFetch, "no-fetch", false, "fail instead of downloading when not cached")
	return cmd
}

func newExistsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <name>",
		Short: "Report whether an artifact is cached (never touches the network)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := g.open()
			if err != nil {
				return err
			}
			if !m.Exists(args[0]) {
				fmt.Fprintln(cmd.OutOrStdout(), "false")
				return errExistsFalse
			}
			fmt.Fprintln(cmd.OutOrStdout(), "true")
			return nil
		},
	}
}

func newClearCmd(g *globalOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clear [name]",
		Short: "Remove cached artifact directories",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := g.open()
			if err != nil {
				return err
			}
			if all {
				return m.ClearAll()
			}
			if len(args) != 1 {
				return fmt.Errorf("provide an artifact name or --all")
			}
			return m.Clear(args[0])
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "clear every artifact in the manifest")
	return cmd
}

func newListCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List artifacts in the manifest and their cache state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := g.open()
			if err != nil {
				return err
			}
			for _, name := range m.Names() {
				state := "absent"
				if m.Exists(name) {
					state = "cached"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, state)
			}
			return nil
		},
	}
}

func newCreateCmd(g *globalOptions) *cobra.Command {
	var compression, output string
	cmd := &cobra.Command{
		Use:   "create <directory>",
		Short: "Archive a directory and print its hashes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comp, err := archive.ParseCompression(compression)
			if err != nil {
				return err
			}
			opts := []artifact.CreateOption{artifact.CreateWithCompression(comp)}
			if output != "" {
				opts = append(opts, artifact.CreateWithOutput(output))
			}
			info, err := artifact.CreateArchive(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archive:     %s\n", info.Path)
			fmt.Fprintf(cmd.OutOrStdout(), "tree-digest: %s\n", info.TreeDigest)
			fmt.Fprintf(cmd.OutOrStdout(), "sha256:      %s\n", info.SHA256)
			return nil
		},
	}
	cmd.Flags().StringVarP(&compression, "compression", "c", "xz", "compression: none, gz, bz2, xz, or zst")
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive output path")
	return cmd
}

func newBindCmd(g *globalOptions) *cobra.Command {
	var sha256, treeDigest string
	var lazy, force bool
	cmd := &cobra.Command{
		Use:   "bind <name> <url>",
		Short: "Bind an artifact entry with known hashes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []artifact.BindOption{artifact.WithLazy(lazy)}
			if force {
				opts = append(opts, artifact.WithForce())
			}
			return artifact.Bind(g.manifestPath, args[0], treeDigest, args[1], sha256, opts...)
		},
	}
	cmd.Flags().StringVar(&treeDigest, "tree-digest", "", "content hash of the extracted artifact")
	cmd.Flags().StringVar(&sha256, "sha256", "", "expected sha256 of the download")
	cmd.Flags().BoolVar(&lazy, "lazy", true, "mark the artifact lazy")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing entry")
	return cmd
}

func newUnbindCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unbind <name>",
		Short: "Remove an artifact entry from the manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := artifact.Unbind(g.manifestPath, args[0])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not bound\n", args[0])
			}
			return nil
		},
	}
}

func newAddSourceCmd(g *globalOptions) *cobra.Command {
	var sha256 string
	cmd := &cobra.Command{
		Use:   "add-source <name> <url>",
		Short: "Append a mirror URL to an existing entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return artifact.AddSource(g.manifestPath, args[0], args[1], sha256)
		},
	}
	cmd.Flags().StringVar(&sha256, "sha256", "", "expected sha256 of the download")
	return cmd
}

func newAddCmd(g *globalOptions) *cobra.Command {
	var lazy, force bool
	cmd := &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Download an archive, compute its hashes, and bind it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []artifact.AddOption{
				artifact.AddWithLazy(lazy),
				artifact.AddWithLogger(g.logger()),
			}
			if force {
				opts = append(opts, artifact.AddWithForce())
			}
			info, err := artifact.Add(cmd.Context(), g.manifestPath, args[0], args[1], opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tree-digest: %s\n", info.TreeDigest)
			fmt.Fprintf(cmd.OutOrStdout(), "sha256:      %s\n", info.SHA256)
			return nil
		},
	}
	cmd.Flags().BoolVar(&lazy, "lazy", true, "mark the artifact lazy")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing entry")
	return cmd
}
