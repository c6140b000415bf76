package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nanogit/gitcore-cli/internal/auth"
	"github.com/nanogit/gitcore-cli/internal/client"
	"github.com/nanogit/gitcore-cli/internal/gitdir"
	"github.com/nanogit/gitcore/pack"
	"github.com/nanogit/gitcore/push"
	"github.com/nanogit/gitcore/storage"
)

var (
	pushRemote string
	pushForce  bool
	pushDelete bool
)

// graphStore pairs the disk-backed object store with the generic commit
// graph walker, satisfying push's combined port.
type graphStore struct {
	*gitdir.Store
	storage.Graph
}

var pushCmd = &cobra.Command{
	Use:   "push <url> <repository> <refname>",
	Short: "Update a remote ref to match a local one",
	Long: `Push the objects reachable from refname in repository/.git to the remote
and ask it to update its copy of the ref. Without --force, the remote ref
must fast-forward.

Examples:
  nanogit push https://github.com/nanogit/gitcore /tmp/repo refs/heads/main
  nanogit push https://github.com/nanogit/gitcore /tmp/repo refs/heads/topic --force
  nanogit push https://github.com/nanogit/gitcore /tmp/repo refs/heads/old --delete`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := args[0]
		gitDir := filepath.Join(args[1], ".git")
		refName := args[2]

		authConfig := auth.FromEnvironment()
		authConfig.Merge(token, username, password)

		ctx := context.Background()
		backend, err := client.New(ctx, url, authConfig)
		if err != nil {
			return err
		}
		defer backend.Close()

		store, err := gitdir.Open(ctx, gitDir, pack.NewIndexCache())
		if err != nil {
			return fmt.Errorf("opening %s: %w", gitDir, err)
		}

		opts := push.Options{
			LocalRef:  refName,
			RemoteRef: refName,
			Delete:    pushDelete,
			Force:     pushForce,
			Remote:    pushRemote,
			Refs:      store,
		}
		if !pushDelete {
			oid, ok, err := store.Resolve(ctx, refName)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", refName, err)
			}
			if !ok {
				return fmt.Errorf("no local ref %s", refName)
			}
			opts.OID = oid
		}

		result, err := push.Push(ctx, backend, graphStore{Store: store, Graph: storage.Graph{Objects: store}}, opts)
		if err != nil {
			return fmt.Errorf("pushing to %s: %w", url, err)
		}

		for _, r := range result.Refs {
			if r.OK {
				fmt.Printf("ok\t%s\n", r.RefName)
			} else {
				fmt.Printf("ng\t%s\t%s\n", r.RefName, r.Error)
			}
		}
		return nil
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushRemote, "remote", "origin", "Remote name for the refs/remotes/<remote>/ tracking update")
	pushCmd.Flags().BoolVar(&pushForce, "force", false, "Skip the fast-forward and tag-overwrite guards")
	pushCmd.Flags().BoolVar(&pushDelete, "delete", false, "Delete the remote ref instead of updating it")
	rootCmd.AddCommand(pushCmd)
}
