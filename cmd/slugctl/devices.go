package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.AddCommand(devicesRevokeCmd)
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices that sync this account",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		tr := newTransport(cfg)
		if tr == nil {
			return fmt.Errorf("not logged in. Run 'slugctl login' first")
		}

		devices, err := tr.Devices(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, d := range devices {
			marker := " "
			if d.ID == cfg.Server.DeviceID {
				marker = "*"
			}
			status := "active"
			if d.Revoked {
				status = "revoked"
			}
			fmt.Fprintf(out, "%s %-36s %-8s last active %s\n", marker, d.ID, status, d.LastActive.Local().Format(time.DateTime))
		}
		return nil
	},
}

var devicesRevokeCmd = &cobra.Command{
	Use:   "revoke <device-id>",
	Short: "Block a device from logging in and pushing state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		tr := newTransport(cfg)
		if tr == nil {
			return fmt.Errorf("not logged in. Run 'slugctl login' first")
		}

		if err := tr.RevokeDevice(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", args[0])
		return nil
	},
}
