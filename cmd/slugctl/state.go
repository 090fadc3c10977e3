package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slugstate/internal/domain"
	"slugstate/internal/service"
	"slugstate/internal/transport"

	"github.com/spf13/cobra"
)

var (
	setNoSync    bool
	getSync      bool
	rmRemote     bool
	listRemote   bool
	printRecords bool
)

func init() {
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)

	setCmd.Flags().BoolVar(&setNoSync, "no-sync", false, "only write the local record")
	getCmd.Flags().BoolVar(&getSync, "sync", false, "sync the key before reading it")
	rmCmd.Flags().BoolVar(&rmRemote, "remote", false, "also delete the key on the server")
	listCmd.Flags().BoolVar(&listRemote, "remote", false, "list the server manifest instead of local records")
	statusCmd.Flags().BoolVar(&printRecords, "records", false, "list records that are dirty or in conflict")
}

var setCmd = &cobra.Command{
	Use:   "set <key> <json|->",
	Short: "Store a value locally and sync it when a server is configured",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value, err := readValue(args[1], cmd.InOrStdin())
		if err != nil {
			return err
		}

		cl, err := newClient(cmd.Context())
		if err != nil {
			return err
		}

		result, err := cl.engine.SetState(cmd.Context(), key, value)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: version %d, %d characters (compress=%t encrypt=%t)\n",
			key, result.Version, len(result.Token), result.Config.Compress, result.Config.Encrypt)
		if !result.FitsInURL {
			fmt.Fprintln(out, "note: token does not fit in a URL")
		}

		if setNoSync || cl.transport == nil {
			return nil
		}
		if err := cl.engine.Sync(cmd.Context(), key); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "sync failed, change kept locally: %v\n", err)
			return nil
		}
		return printRecordState(cmd, cl, key)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the local value of a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		cl, err := newClient(cmd.Context())
		if err != nil {
			return err
		}

		if getSync {
			if err := cl.engine.Sync(cmd.Context(), key); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "sync failed, showing local value: %v\n", err)
			}
		}

		value, err := cl.engine.GetState(cmd.Context(), key)
		if err != nil {
			if errors.Is(err, service.ErrStateNotFound) {
				return fmt.Errorf("no state stored under %q", key)
			}
			return err
		}
		return printJSON(cmd.OutOrStdout(), value)
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <key>",
	Short: "Delete the local record of a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		cl, err := newClient(cmd.Context())
		if err != nil {
			return err
		}

		if rmRemote {
			if cl.transport == nil {
				return fmt.Errorf("not logged in. Run 'slugctl login' first")
			}
			var apiErr *transport.APIError
			if err := cl.transport.Delete(cmd.Context(), key); err != nil && !(errors.As(err, &apiErr) && apiErr.StatusCode == 404) {
				return fmt.Errorf("failed to delete remote state: %w", err)
			}
		}

		if err := cl.engine.Clear(cmd.Context(), key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", key)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local records",
	RunE: func(cmd *cobra.Command, args []string) error {
		cl, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if listRemote {
			if cl.transport == nil {
				return fmt.Errorf("not logged in. Run 'slugctl login' first")
			}
			manifest, err := cl.transport.Manifest(cmd.Context())
			if err != nil {
				return err
			}
			for _, entry := range manifest.Entries {
				fmt.Fprintf(out, "%-32s v%-4d %s  %s\n", entry.Key, entry.Version, entry.UpdatedAt.Local().Format(time.DateTime), entry.ContentHash[:min(12, len(entry.ContentHash))])
			}
			return nil
		}

		records, err := cl.engine.Records(cmd.Context())
		if err != nil {
			return err
		}
		for _, record := range records {
			fmt.Fprintf(out, "%-32s v%-4d base %-4d %-8s %s\n", record.Key, record.Version, record.BaseVersion, record.State, record.UpdatedAt.Local().Format(time.DateTime))
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [key...]",
	Short: "Sync the given keys, or every pending change",
	RunE: func(cmd *cobra.Command, args []string) error {
		cl, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		if cl.transport == nil {
			return fmt.Errorf("not logged in. Run 'slugctl login' first")
		}

		if len(args) == 0 {
			err = cl.engine.SyncAll(cmd.Context())
		} else {
			var errs []error
			for _, key := range args {
				errs = append(errs, cl.engine.Sync(cmd.Context(), key))
			}
			err = errors.Join(errs...)
		}

		printStatus(cmd, cl.engine.Status())
		return err
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <key> <strategy>",
	Short: "Settle a conflicted key with merge, client-wins, server-wins or timestamp",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		strategy, err := domain.ParseResolutionStrategy(args[1])
		if err != nil {
			return err
		}
		if strategy == domain.ResolutionCustom {
			return errCustomStrategy
		}

		cl, err := newClient(cmd.Context())
		if err != nil {
			return err
		}

		if err := cl.engine.Resolve(cmd.Context(), key, strategy); err != nil {
			if errors.Is(err, service.ErrNoConflict) {
				return fmt.Errorf("%s is not in conflict", key)
			}
			return err
		}
		return printRecordState(cmd, cl, key)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cl, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Server:    %s\n", valueOrDefault(cl.cfg.Server.URL, "(not set)"))
		fmt.Fprintf(out, "  Device:    %s\n", cl.cfg.Server.DeviceID)
		fmt.Fprintf(out, "  Strategy:  %s\n", valueOrDefault(cl.cfg.Sync.Strategy, string(domain.ResolutionMerge)))
		fmt.Fprintf(out, "  Store:     %s\n", valueOrDefault(cl.cfg.Sync.Store, "file"))
		if cl.cfg.Auth.AccessToken != "" {
			fmt.Fprintf(out, "  Session:   %s (%s)\n", valueOrDefault(cl.cfg.Auth.Email, "(unknown)"), maskToken(cl.cfg.Auth.AccessToken))
		} else {
			fmt.Fprintln(out, "  Session:   (not logged in)")
		}
		fmt.Fprintln(out)

		printStatus(cmd, cl.engine.Status())

		if !printRecords {
			return nil
		}
		records, err := cl.engine.Records(cmd.Context())
		if err != nil {
			return err
		}
		for _, record := range records {
			if record.Dirty || record.InConflict() {
				fmt.Fprintf(out, "  %-32s %s\n", record.Key, record.State)
			}
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep syncing in the foreground until interrupted",
	Long:  "Sync pending changes on an interval and pull keys as soon as other devices announce them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cl, err := newClient(ctx)
		if err != nil {
			return err
		}
		if cl.transport == nil {
			return fmt.Errorf("not logged in. Run 'slugctl login' first")
		}

		updates, unsubscribe := cl.engine.Subscribe()
		defer unsubscribe()

		if err := cl.engine.SyncAll(ctx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "initial sync: %v\n", err)
		}

		cl.engine.Start(ctx)
		defer cl.engine.Stop()

		watcher := transport.NewWatcher(cl.transport, cl.cfg.Server.DeviceID)
		go cl.engine.Watch(ctx, watcher.Watch(ctx))

		fmt.Fprintln(cmd.OutOrStdout(), "Watching for changes, press Ctrl+C to stop")
		var last domain.Status
		for {
			select {
			case status := <-updates:
				if status.PendingChanges != last.PendingChanges || status.ConflictCount != last.ConflictCount || status.LastError != last.LastError || !status.LastSync.Equal(last.LastSync) {
					printStatus(cmd, status)
				}
				last = status
			case <-ctx.Done():
				return nil
			}
		}
	},
}

func printStatus(cmd *cobra.Command, status domain.Status) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Sync:")
	fmt.Fprintf(out, "  Online:    %t\n", status.Online)
	fmt.Fprintf(out, "  Pending:   %d\n", status.PendingChanges)
	fmt.Fprintf(out, "  Conflicts: %d\n", status.ConflictCount)
	if !status.LastSync.IsZero() {
		fmt.Fprintf(out, "  Last sync: %s\n", status.LastSync.Local().Format(time.DateTime))
	}
	if status.LastError != "" {
		fmt.Fprintf(out, "  Error:     %s\n", status.LastError)
	}
}

func printRecordState(cmd *cobra.Command, cl *client, key string) error {
	record, err := cl.engine.Record(cmd.Context(), key)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (remote version %d)\n", key, record.State, record.BaseVersion)
	return nil
}
