package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nanogit/gitcore-cli/internal/auth"
	"github.com/nanogit/gitcore-cli/internal/client"
	"github.com/nanogit/gitcore-cli/internal/gitdir"
	"github.com/nanogit/gitcore-cli/internal/output"
	"github.com/nanogit/gitcore/fetch"
	"github.com/nanogit/gitcore/pack"
)

var (
	fetchRemote    string
	fetchDepth     int
	fetchTags      bool
	fetchPrune     bool
	fetchPruneTags bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url> <destination>",
	Short: "Update a local repository's remote-tracking refs from a remote",
	Long: `Fetch new objects and refs from a remote into destination/.git, updating
remote-tracking refs under refs/remotes/<remote>/ and recording FETCH_HEAD.

Objects already present in destination's packs are offered to the server as
haves, so repeated fetches only transfer what changed.

Examples:
  nanogit fetch https://github.com/nanogit/gitcore /tmp/repo
  nanogit fetch https://github.com/nanogit/gitcore /tmp/repo --depth 1
  nanogit fetch https://github.com/nanogit/gitcore /tmp/repo --tags --prune`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := args[0]
		gitDir := filepath.Join(args[1], ".git")

		authConfig := auth.FromEnvironment()
		authConfig.Merge(token, username, password)

		ctx := context.Background()
		backend, err := client.New(ctx, url, authConfig)
		if err != nil {
			return err
		}
		defer backend.Close()

		if err := os.MkdirAll(gitDir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", gitDir, err)
		}
		store, err := gitdir.Open(ctx, gitDir, pack.NewIndexCache())
		if err != nil {
			return fmt.Errorf("opening %s: %w", gitDir, err)
		}

		result, err := fetch.Fetch(ctx, backend, store, store, fetch.Options{
			Refspecs:  []string{"+refs/heads/*:refs/remotes/" + fetchRemote + "/*"},
			Depth:     fetchDepth,
			Tags:      fetchTags,
			Prune:     fetchPrune,
			PruneTags: fetchPruneTags,
			Remote:    fetchRemote,
			URL:       url,
			Shallow:   store,
		})
		if err != nil {
			return fmt.Errorf("fetching from %s: %w", url, err)
		}

		if err := writePack(args[1], result); err != nil {
			return fmt.Errorf("writing pack: %w", err)
		}
		if len(result.FetchHead) > 0 {
			if err := os.WriteFile(filepath.Join(gitDir, "FETCH_HEAD"), []byte(result.FormatFetchHead()), 0o644); err != nil {
				return fmt.Errorf("writing FETCH_HEAD: %w", err)
			}
		}

		formatter := output.Get(getOutputFormat())
		return formatter.FormatFetchResult(result)
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchRemote, "remote", "origin", "Remote name for refs/remotes/<remote>/ tracking refs")
	fetchCmd.Flags().IntVar(&fetchDepth, "depth", 0, "Create a shallow fetch truncated to this many commits")
	fetchCmd.Flags().BoolVar(&fetchTags, "tags", false, "Also fetch all tags")
	fetchCmd.Flags().BoolVar(&fetchPrune, "prune", false, "Remove tracking refs the remote no longer advertises")
	fetchCmd.Flags().BoolVar(&fetchPruneTags, "prune-tags", false, "Remove local tags the remote no longer advertises (with --tags)")
	rootCmd.AddCommand(fetchCmd)
}
