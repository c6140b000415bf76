package cmd

import (
	"context"
	"crypto"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nanogit/gitcore-cli/internal/auth"
	"github.com/nanogit/gitcore-cli/internal/client"
	"github.com/nanogit/gitcore-cli/internal/output"
	"github.com/nanogit/gitcore-cli/internal/refparse"
	"github.com/nanogit/gitcore/fetch"
	"github.com/nanogit/gitcore/storage"
)

var cloneRef string

var cloneCmd = &cobra.Command{
	Use:   "clone <url> <destination>",
	Short: "Fetch a repository's objects and refs into a local pack",
	Long: `Fetch a complete copy of a remote repository's history at --ref into
destination/.git/objects/pack/, without checking out a working tree.

The --ref argument can be:
  - A branch name (e.g., "main") - tried as refs/heads/main
  - A tag name (e.g., "v1.0.0") - tried as refs/tags/v1.0.0
  - A full reference path (e.g., "refs/heads/main")

Examples:
  nanogit clone https://github.com/nanogit/gitcore /tmp/repo
  nanogit clone https://github.com/nanogit/gitcore /tmp/repo --ref develop
  nanogit clone https://github.com/nanogit/gitcore /tmp/repo --json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := args[0]
		destination := args[1]

		authConfig := auth.FromEnvironment()
		authConfig.Merge(token, username, password)

		ctx := context.Background()
		backend, err := client.New(ctx, url, authConfig)
		if err != nil {
			return err
		}
		defer backend.Close()

		if getOutputFormat() != "json" {
			fmt.Printf("Cloning %s...\n", url)
		}

		_, advertised, err := fetch.ListRemoteRefs(ctx, backend)
		if err != nil {
			return fmt.Errorf("listing remote refs: %w", err)
		}

		refName, _, err := refparse.Resolve(advertised, cloneRef)
		if err != nil {
			return fmt.Errorf("resolving ref %s: %w", cloneRef, err)
		}

		objects := storage.NewMemory(ctx)
		refs := storage.NewMemory(ctx)

		result, err := fetch.Fetch(ctx, backend, objects, refs, fetch.Options{
			Refspecs: []string{refName + ":refs/remotes/origin/" + filepath.Base(refName)},
		})
		if err != nil {
			return fmt.Errorf("fetching repository: %w", err)
		}

		if err := writePack(destination, result); err != nil {
			return fmt.Errorf("writing pack to %s: %w", destination, err)
		}

		formatter := output.Get(getOutputFormat())
		return formatter.FormatFetchResult(result)
	},
}

// writePack persists a fetch result's packfile and index under
// destination/.git/objects/pack/, named after the pack's trailer checksum,
// matching how git itself names pack files. The pack is written before the
// index so no reader ever observes an index without its pack.
func writePack(destination string, result *fetch.Result) error {
	if result.Index == nil {
		return nil
	}
	packDir := filepath.Join(destination, ".git", "objects", "pack")
	if err := os.MkdirAll(packDir, 0o755); err != nil {
		return err
	}

	name := "pack-" + hex.EncodeToString(result.Index.PackSHA)
	packPath := filepath.Join(packDir, name+".pack")
	if err := os.WriteFile(packPath, result.PackData, 0o644); err != nil {
		return err
	}

	idxFile, err := os.Create(filepath.Join(packDir, name+".idx"))
	if err != nil {
		return err
	}
	defer idxFile.Close()
	algo := crypto.SHA1
	if result.Index.OIDSize == crypto.SHA256.Size() {
		algo = crypto.SHA256
	}
	return result.Index.WriteV2(idxFile, algo)
}

func init() {
	cloneCmd.Flags().StringVar(&cloneRef, "ref", "main", "Branch or tag to clone")
	rootCmd.AddCommand(cloneCmd)
}
