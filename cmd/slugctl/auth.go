package main

import (
	"fmt"

	"slugstate/internal/domain"
	"slugstate/internal/transport"

	"github.com/spf13/cobra"
)

var (
	accountUsername string
	accountEmail    string
	accountPassword string
)

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)

	registerCmd.Flags().StringVar(&accountUsername, "username", "", "account username")
	registerCmd.MarkFlagRequired("username")

	for _, cmd := range []*cobra.Command{registerCmd, loginCmd} {
		cmd.Flags().StringVar(&accountEmail, "email", "", "account email")
		cmd.Flags().StringVar(&accountPassword, "password", "", "account password")
		cmd.MarkFlagRequired("email")
		cmd.MarkFlagRequired("password")
	}
}

func serverTransport(cfg *Config) (*transport.HTTPTransport, error) {
	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("no server configured. Run 'slugctl config set server.url <url>' first")
	}
	return transport.NewHTTPTransport(cfg.Server.URL, nil), nil
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account on the state server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		tr, err := serverTransport(cfg)
		if err != nil {
			return err
		}

		err = tr.Register(cmd.Context(), &domain.RegisterRequest{
			Username: accountUsername,
			Email:    accountEmail,
			Password: accountPassword,
		})
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s. Run 'slugctl login' to start syncing.\n", accountEmail)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the session in ~/.slugctl/config.toml",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		tr, err := serverTransport(cfg)
		if err != nil {
			return err
		}

		login, err := tr.Login(cmd.Context(), &domain.LoginRequest{
			Email:    accountEmail,
			Password: accountPassword,
			DeviceID: cfg.Server.DeviceID,
		})
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		cfg.Auth.Email = accountEmail
		cfg.Auth.AccessToken = login.AccessToken
		cfg.Auth.RefreshToken = login.RefreshToken
		cfg.Server.DeviceID = login.DeviceID

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (device %s)\n", login.User.Username, login.DeviceID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session; local records are kept",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		tr := newTransport(cfg)
		if tr == nil {
			return fmt.Errorf("not logged in. Run 'slugctl login' first")
		}

		account, err := tr.Account(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "User:     %s <%s>\n", account.User.Username, account.User.Email)
		fmt.Fprintf(out, "Server:   %s\n", cfg.Server.URL)
		fmt.Fprintf(out, "Device:   %s\n", cfg.Server.DeviceID)
		fmt.Fprintf(out, "Keys:     %d (%d token bytes)\n", account.Keys, account.TokenBytes)
		fmt.Fprintf(out, "Devices:  %d (%d revoked)\n", account.Devices, account.Revoked)
		return nil
	},
}
