// Command ssotool encodes, decodes and signs sys_auth_old values from the
// command line. Operators use it to reproduce links issued by the PHP peer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tm-acme-shop/acme-ops-portal/internal/sso"
)

const (
	envSysKey   = "SSO_SYS_KEY"
	envSalt     = "SSO_SALT"
	envSignMode = "SSO_SIGN_MODE"
)

type rootOptions struct {
	sysKey string
	salt   string
	mode   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "ssotool",
		Short:        "Work with sys_auth_old payloads and syn_login links",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.sysKey, "key", os.Getenv(envSysKey), "shared sys_key (default $"+envSysKey+")")
	flags.StringVar(&opts.salt, "salt", os.Getenv(envSalt), "shared signature salt (default $"+envSalt+")")
	flags.StringVar(&opts.mode, "mode", os.Getenv(envSignMode), "signature mode: encoded or plain (default $"+envSignMode+")")

	root.AddCommand(
		newEncodeCmd(opts),
		newDecodeCmd(opts),
		newSignCmd(opts),
		newURLCmd(opts),
		newParseCmd(opts),
	)
	return root
}

func (o *rootOptions) codec() (*sso.Codec, error) {
	mode, ok := sso.ParseSignatureMode(o.mode)
	if !ok {
		return nil, fmt.Errorf("unknown signature mode %q", o.mode)
	}
	return sso.NewCodec(sso.SharedSecret{SysKey: o.sysKey, Salt: o.salt}, sso.WithSignatureMode(mode))
}

func newEncodeCmd(opts *rootOptions) *cobra.Command {
	var expiry int64

	cmd := &cobra.Command{
		Use:   "encode <plaintext>",
		Short: "Encode a value the way the peer does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := opts.codec()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), codec.Encode(args[0], expiry))
			return nil
		},
	}
	cmd.Flags().Int64Var(&expiry, "expiry", 0, "seconds until the payload expires, 0 for never")
	return cmd
}

func newDecodeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <encoded>",
		Short: "Decode and integrity-check an encoded value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := opts.codec()
			if err != nil {
				return err
			}
			plaintext, err := codec.Decode(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plaintext)
			return nil
		},
	}
}

func newSignCmd(opts *rootOptions) *cobra.Command {
	var userAgent string

	cmd := &cobra.Command{
		Use:   "sign <identifier>",
		Short: "Compute the auth signature for an identifier and browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := opts.codec()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), codec.Sign(args[0], userAgent))
			return nil
		},
	}
	cmd.Flags().StringVar(&userAgent, "ua", sso.DefaultUserAgent, "browser User-Agent the signature is bound to")
	return cmd
}

func newURLCmd(opts *rootOptions) *cobra.Command {
	var userAgent string

	cmd := &cobra.Command{
		Use:   "url <target-url> <username>",
		Short: "Generate a syn_login link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := opts.codec()
			if err != nil {
				return err
			}
			link, err := codec.GenerateSSOURL(args[0], args[1], userAgent)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		},
	}
	cmd.Flags().StringVar(&userAgent, "ua", sso.DefaultUserAgent, "browser User-Agent the link is bound to")
	return cmd
}

func newParseCmd(opts *rootOptions) *cobra.Command {
	var userAgent string

	cmd := &cobra.Command{
		Use:   "parse <auth> <u>",
		Short: "Verify the auth and u parameters of a syn_login request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := opts.codec()
			if err != nil {
				return err
			}
			result := codec.ParseSSORequest(args[0], args[1], userAgent)
			if !result.OK {
				return fmt.Errorf("%s: %w", result.Reason, result.Err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&userAgent, "ua", sso.DefaultUserAgent, "browser User-Agent of the request")
	return cmd
}
