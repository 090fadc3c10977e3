package main

import (
	"fmt"
	"path/filepath"

	"slugstate/pkg/codec"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyRotateCmd)
	keyCmd.AddCommand(keyShowCmd)
}

func generatedKey() (*codec.GeneratedKeyProvider, string, error) {
	dir, err := configDir()
	if err != nil {
		return nil, "", err
	}
	path := filepath.Join(dir, "keys.json")
	return codec.GeneratedKey(codec.NewFileKeyStore(path)), path, nil
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the generated encryption key",
	Long:  "Tokens encrypted without a passphrase use a key generated on first use and kept in\n~/.slugctl/keys.json. Losing that file makes those tokens unreadable.",
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show where the generated key lives and how many keys it holds",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, path, err := generatedKey()
		if err != nil {
			return err
		}
		count, err := keys.KeyCount()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Key file: %s\nKeys:     %d\n", path, count)
		return nil
	},
}

var keyRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Add a new primary key; older keys still decrypt existing tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, path, err := generatedKey()
		if err != nil {
			return err
		}
		if err := keys.Rotate(); err != nil {
			return fmt.Errorf("failed to rotate key: %w", err)
		}
		count, err := keys.KeyCount()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rotated key in %s (%d keys kept)\n", path, count)
		return nil
	},
}
