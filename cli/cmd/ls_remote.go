package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nanogit/gitcore-cli/internal/auth"
	"github.com/nanogit/gitcore-cli/internal/client"
	"github.com/nanogit/gitcore-cli/internal/output"
	"github.com/nanogit/gitcore/fetch"
)

var (
	lsRemoteHeads bool
	lsRemoteTags  bool
)

var lsRemoteCmd = &cobra.Command{
	Use:   "ls-remote <url>",
	Short: "List references in a remote repository",
	Long: `List references (branches and tags) in a remote repository.

Examples:
  # List all references
  nanogit ls-remote https://github.com/nanogit/gitcore

  # List only branches
  nanogit ls-remote https://github.com/nanogit/gitcore --heads

  # List only tags
  nanogit ls-remote https://github.com/nanogit/gitcore --tags

  # JSON output
  nanogit ls-remote https://github.com/nanogit/gitcore --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := args[0]

		authConfig := auth.FromEnvironment()
		authConfig.Merge(token, username, password)

		ctx := context.Background()
		backend, err := client.New(ctx, url, authConfig)
		if err != nil {
			return err
		}
		defer backend.Close()

		_, refs, err := fetch.ListRemoteRefs(ctx, backend)
		if err != nil {
			return err
		}

		if lsRemoteHeads || lsRemoteTags {
			filtered := refs[:0]
			for _, ref := range refs {
				if lsRemoteHeads && strings.HasPrefix(ref.RefName, "refs/heads/") {
					filtered = append(filtered, ref)
				} else if lsRemoteTags && strings.HasPrefix(ref.RefName, "refs/tags/") {
					filtered = append(filtered, ref)
				}
			}
			refs = filtered
		}

		formatter := output.Get(getOutputFormat())
		return formatter.FormatRefs(refs)
	},
}

func init() {
	lsRemoteCmd.Flags().BoolVar(&lsRemoteHeads, "heads", false, "Show only branches (refs/heads/)")
	lsRemoteCmd.Flags().BoolVar(&lsRemoteTags, "tags", false, "Show only tags (refs/tags/)")
	rootCmd.AddCommand(lsRemoteCmd)
}
