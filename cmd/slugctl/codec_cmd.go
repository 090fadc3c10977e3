package main

import (
	"fmt"

	"slugstate/pkg/autoconfig"
	"slugstate/pkg/codec"

	"github.com/spf13/cobra"
)

var (
	encodeCompress  bool
	encodeEncrypt   bool
	encodeAlgorithm string
	encodeMode      string
	encodeExplain   bool
)

func init() {
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(inspectCmd)

	encodeCmd.Flags().BoolVar(&encodeCompress, "compress", false, "compress the token (default: decided by the policy)")
	encodeCmd.Flags().BoolVar(&encodeEncrypt, "encrypt", false, "encrypt the token (default: decided by the policy)")
	encodeCmd.Flags().StringVar(&encodeAlgorithm, "algorithm", "", "compression algorithm: fast or strong")
	encodeCmd.Flags().StringVar(&encodeMode, "mode", "", "auto-config mode: defaults or advisory")
	encodeCmd.Flags().BoolVar(&encodeExplain, "explain", false, "print the plan reasoning to stderr")
}

// localCodec builds a codec over the generated key without opening the
// record store.
func localCodec() (*codec.Codec, *Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	keys, _, err := generatedKey()
	if err != nil {
		return nil, nil, err
	}
	return codec.New(codec.Options{Keys: keys}), cfg, nil
}

var encodeCmd = &cobra.Command{
	Use:   "encode <json|->",
	Short: "Encode a JSON value into a state token",
	Long:  "Encode a JSON value into a URL-safe state token. Flags that are not given fall back to\nthe codec section of the config file and then to the auto-config policy.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := readValue(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}

		c, cfg, err := localCodec()
		if err != nil {
			return err
		}

		settings, mode, err := codecSettings(cfg)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("compress") {
			settings.Compress = autoconfig.Bool(encodeCompress)
		}
		if flags.Changed("encrypt") {
			settings.Encrypt = autoconfig.Bool(encodeEncrypt)
		}
		if flags.Changed("algorithm") {
			if settings.Algorithm, err = codec.ParseAlgorithm(encodeAlgorithm); err != nil {
				return err
			}
		}
		if flags.Changed("mode") {
			if mode, err = autoconfig.ParseMode(encodeMode); err != nil {
				return err
			}
		}

		policy, err := loadPolicy(cfg)
		if err != nil {
			return err
		}
		plan, err := policy.AnalyzeSchema(value, c.SchemaVersion())
		if err != nil {
			return err
		}
		effective := autoconfig.Compose(settings, plan, mode)

		token, err := c.Encode(value, effective.EncodeOptions(resolvePassphrase()))
		if err != nil {
			return err
		}

		if encodeExplain {
			errOut := cmd.ErrOrStderr()
			fmt.Fprintf(errOut, "compress=%t algorithm=%s encrypt=%t\n", effective.Compress, effective.Algorithm, effective.Encrypt)
			for _, reason := range plan.Reasoning {
				fmt.Fprintf(errOut, "  - %s\n", reason)
			}
			if !codec.FitsInURL(token, policy.URLBudget) {
				fmt.Fprintf(errOut, "warning: token is %d characters, over the URL budget of %d\n", len(token), policy.URLBudget)
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode <token>",
	Short: "Decode a state token back into JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := localCodec()
		if err != nil {
			return err
		}

		value, err := c.Decode(args[0], codec.DecodeOptions{Password: resolvePassphrase()})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), value)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <json|->",
	Short: "Show the auto-config plan for a JSON value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := readValue(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		policy, err := loadPolicy(cfg)
		if err != nil {
			return err
		}

		plan, err := policy.Analyze(value)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), plan)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <token>",
	Short: "Print the envelope header of a token without decoding it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := codec.Inspect(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Format version: %d\n", info.Version)
		fmt.Fprintf(out, "Flags:          %s\n", info.Flags)
		fmt.Fprintf(out, "Token length:   %d\n", info.TokenLength)
		fmt.Fprintf(out, "Payload size:   %d\n", info.PayloadSize)
		fmt.Fprintf(out, "Fits in URL:    %t\n", codec.FitsInURL(args[0], 0))
		fmt.Fprintf(out, "Fingerprint:    %s\n", codec.Fingerprint(args[0]))
		return nil
	},
}
