// Command manifest-compare normalizes the ConfigMaps of two rendered Helm
// manifests so a plain diff shows only real configuration changes.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/enterprise-rag/internal/manifest"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var summary bool

	root := &cobra.Command{
		Use:          "manifest-compare <manifest> <upgrade> <manifest_out> <upgrade_out>",
		Short:        "Extract and normalize ConfigMaps from two manifests for diffing",
		Args:         cobra.ExactArgs(4),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := extractFile(args[0])
			if err != nil {
				return err
			}
			after, err := extractFile(args[1])
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[2], []byte(manifest.Render(before)), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", args[2], err)
			}
			if err := os.WriteFile(args[3], []byte(manifest.Render(after)), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", args[3], err)
			}

			if summary {
				d := manifest.Compare(before, after)
				if d.Empty() {
					cmd.Println("no configmap changes")
				}
				printKeys(cmd, "removed", d.Removed)
				printKeys(cmd, "added", d.Added)
				printKeys(cmd, "changed", d.Changed)
			}
			cmd.Println("Files processed successfully")
			return nil
		},
	}
	root.Flags().BoolVar(&summary, "summary", false, "print added, removed and changed configmap keys")

	root.AddCommand(newVersionsCmd())
	return root
}

// newVersionsCmd prints the upgrade mode between two chart versions as JSON.
// Versions come from the arguments or from DEPLOYED_VERSION and
// INSTALLING_VERSION. Failures print {"error": ..., "mode": "invalid"}.
func newVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "versions [deployed] [installing]",
		Short:        "Classify moving from the deployed chart version to the installing one",
		Args:         cobra.MaximumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			deployed, installing := os.Getenv("DEPLOYED_VERSION"), os.Getenv("INSTALLING_VERSION")
			if len(args) > 0 {
				deployed = args[0]
			}
			if len(args) > 1 {
				installing = args[1]
			}
			if deployed == "" || installing == "" {
				return printInvalid(cmd, "Missing DEPLOYED_VERSION or INSTALLING_VERSION environment variable")
			}

			plan, err := manifest.ClassifyUpgrade(deployed, installing)
			if err != nil {
				return printInvalid(cmd, "Invalid version format: "+err.Error())
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(plan)
		},
	}
}

func printInvalid(cmd *cobra.Command, msg string) error {
	cmd.SilenceErrors = true
	out := struct {
		Error string `json:"error"`
		Mode  string `json:"mode"`
	}{Error: msg, Mode: "invalid"}
	if err := json.NewEncoder(cmd.OutOrStdout()).Encode(out); err != nil {
		return err
	}
	return errors.New("versions: " + strings.ToLower(msg[:1]) + msg[1:])
}

func extractFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := manifest.Extract(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

func printKeys(cmd *cobra.Command, label string, keys []string) {
	if len(keys) == 0 {
		return
	}
	cmd.Printf("%s: %s\n", label, strings.Join(keys, ", "))
}
