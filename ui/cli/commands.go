// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/toeirei/doorkeeper/client"
	"github.com/toeirei/doorkeeper/internal/config"
	"github.com/toeirei/doorkeeper/internal/db"
	"github.com/toeirei/doorkeeper/internal/i18n"
)

// runner is implemented by clients that host the background tasks.
type runner interface {
	Run(ctx context.Context) error
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until interrupted",
		Long: `Connects to the device broker and the database, records access events,
expires credentials on schedule and replays pending divergences. Stops on
SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withClient(cmd, func(_ context.Context, c client.Client) error {
				r, ok := c.(runner)
				if !ok {
					return errors.New("client cannot run background tasks")
				}
				printf(cmd.OutOrStdout(), "cli.serve_started", appConfig.Transport.Type, appConfig.Database.Type)
				err := r.Run(ctx)
				printf(cmd.OutOrStdout(), "cli.serve_stopped")
				return err
			})
		},
	}
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: credential id must be a positive integer, got %q", client.ErrValidation, s)
	}
	return id, nil
}

// validUntilFrom reads --valid-until (RFC3339) or --valid-for (duration).
// Both unset yields nil.
func validUntilFrom(cmd *cobra.Command) (*time.Time, error) {
	until, _ := cmd.Flags().GetString("valid-until")
	forDur, _ := cmd.Flags().GetDuration("valid-for")
	switch {
	case until != "" && forDur != 0:
		return nil, fmt.Errorf("%w: use either --valid-until or --valid-for", client.ErrValidation)
	case until != "":
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return nil, fmt.Errorf("%w: --valid-until: %v", client.ErrValidation, err)
		}
		return &t, nil
	case forDur != 0:
		t := time.Now().Add(forDur)
		return &t, nil
	}
	return nil, nil
}

func addValidityFlags(cmd *cobra.Command) {
	cmd.Flags().String("valid-until", "", "Authorize until this RFC3339 time")
	cmd.Flags().Duration("valid-for", 0, "Authorize for this long from now (e.g. 720h)")
}

func descriptorFrom(cmd *cobra.Command, args []string) (client.Descriptor, error) {
	id, err := parseID(args[0])
	if err != nil {
		return client.Descriptor{}, err
	}
	d := client.Descriptor{ID: id, Name: args[1]}
	if owner, _ := cmd.Flags().GetString("owner"); owner != "" {
		d.OwnerID = &owner
	}
	if d.ValidUntil, err = validUntilFrom(cmd); err != nil {
		return client.Descriptor{}, err
	}
	return d, nil
}

func newEnrollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enroll <id> <name>",
		Short: "Store a fingerprint on the sensor and record it",
		Long: `Sends the create command to the sensor and waits for its reply. The
credential is recorded only after the sensor accepted it. With a validity
it starts active, otherwise pending.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := descriptorFrom(cmd, args)
			if err != nil {
				return localize(err)
			}
			return withClient(cmd, func(ctx context.Context, c client.Client) error {
				cred, err := c.Enroll(ctx, d)
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "cli.enrolled", cred.String())
				return nil
			})
		},
	}
	cmd.Flags().String("owner", "", "Owner (user id) of the credential")
	addValidityFlags(cmd)
	return cmd
}

func newRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <id> <name>",
		Short: "Record a fingerprint the sensor already holds",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := descriptorFrom(cmd, args)
			if err != nil {
				return localize(err)
			}
			return withClient(cmd, func(ctx context.Context, c client.Client) error {
				cred, err := c.Register(ctx, d)
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "cli.registered", cred.String())
				return nil
			})
		},
	}
	cmd.Flags().String("owner", "", "Owner (user id) of the credential")
	addValidityFlags(cmd)
	return cmd
}

func newRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete a fingerprint from the sensor and the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return localize(err)
			}
			return withClient(cmd, func(ctx context.Context, c client.Client) error {
				if err := c.Revoke(ctx, id); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "cli.revoked", id)
				return nil
			})
		},
	}
}

func newEnableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enable <id>",
		Short: "Authorize a credential until a point in time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return localize(err)
			}
			vu, err := validUntilFrom(cmd)
			if err != nil {
				return localize(err)
			}
			if vu == nil {
				return localize(fmt.Errorf("%w: --valid-until or --valid-for is required", client.ErrValidation))
			}
			return withClient(cmd, func(ctx context.Context, c client.Client) error {
				cred, err := c.Enable(ctx, id, *vu)
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "cli.enabled", cred.String())
				return nil
			})
		},
	}
	addValidityFlags(cmd)
	return cmd
}

func newDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Withdraw a credential's authorization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return localize(err)
			}
			return withClient(cmd, func(ctx context.Context, c client.Client) error {
				cred, err := c.Disable(ctx, id)
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "cli.disabled", cred.String())
				return nil
			})
		},
	}
}

func renderCredentials(creds []client.Credential) string {
	headers := strings.Split(i18n.T("cli.list_header"), "\t")
	t := table.New().Border(lipgloss.NormalBorder()).Headers(headers...)
	for _, c := range creds {
		owner, until := "-", "-"
		if c.OwnerID != nil {
			owner = *c.OwnerID
		}
		if c.ValidUntil != nil {
			until = c.ValidUntil.UTC().Format(time.RFC3339)
		}
		t.Row(strconv.Itoa(c.ID), c.Name, owner, string(c.Status), until)
	}
	return t.String()
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			return withClient(cmd, func(ctx context.Context, c client.Client) error {
				var creds []client.Credential
				var err error
				if owner != "" {
					creds, err = c.ListByOwner(ctx, owner)
				} else {
					creds, err = c.ListAll(ctx)
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(creds) == 0 {
					printf(out, "cli.list_empty")
					return nil
				}
				fmt.Fprintln(out, renderCredentials(creds))
				counts, err := c.Counts(ctx)
				if err != nil {
					return err
				}
				printf(out, "cli.counts", counts[client.StatusPending], counts[client.StatusActive], counts[client.StatusInactive])
				return nil
			})
		},
	}
	cmd.Flags().String("owner", "", "Only list credentials of this owner")
	return cmd
}

func fireAndForget(use, short, doneID string, send func(client.Client, context.Context, []byte) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := cmd.Flags().GetString("payload")
			return withClient(cmd, func(ctx context.Context, c client.Client) error {
				if err := send(c, ctx, []byte(payload)); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), doneID)
				return nil
			})
		},
	}
	cmd.Flags().String("payload", "", "JSON payload forwarded to the sensor (default {})")
	return cmd
}

func newScanCmd() *cobra.Command {
	return fireAndForget("scan", "Put the sensor into enrollment mode", "cli.scan_requested", client.Client.RequestScan)
}

func newCancelScanCmd() *cobra.Command {
	return fireAndForget("cancel-scan", "Abort an enrollment in progress", "cli.scan_cancelled", client.Client.CancelScan)
}

func newUnlockCmd() *cobra.Command {
	return fireAndForget("unlock", "Open the door attached to the sensor", "cli.unlocked", client.Client.Unlock)
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue credentials now and broadcast the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c client.Client) error {
				delta, err := c.Sweep(ctx)
				printf(cmd.OutOrStdout(), "cli.sweep_done", len(delta.List), delta.List)
				return err
			})
		},
	}
}

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay commands the sensor applied but the database missed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listOnly, _ := cmd.Flags().GetBool("list")
			return withClient(cmd, func(ctx context.Context, c client.Client) error {
				out := cmd.OutOrStdout()
				pending, err := c.Divergences(ctx)
				if err != nil {
					return err
				}
				for _, d := range pending {
					printf(out, "cli.reconcile_entry", d.ID, d.Kind, d.CredentialID, d.Attempts, d.Error)
				}
				if listOnly {
					return nil
				}
				resolved, err := c.Reconcile(ctx)
				printf(out, "cli.reconcile_done", resolved, len(pending)-resolved)
				return err
			})
		},
	}
	cmd.Flags().Bool("list", false, "Only list pending divergences")
	return cmd
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file.json.zst]",
		Short: "Write all credentials to a compressed JSON snapshot",
		Long: `Exports every credential as Zstandard-compressed JSON. Without a file
name, doorkeeper-backup-YYYY-MM-DD.json.zst is written to the current
directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("doorkeeper-backup-%s.json.zst", time.Now().Format("2006-01-02"))
			if len(args) > 0 {
				path = args[0]
			}
			return withClient(cmd, func(ctx context.Context, c client.Client) error {
				f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return err
				}
				n, err := c.Export(ctx, f)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "cli.export_done", n, path)
				return nil
			})
		},
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json.zst>",
		Short: "Add credentials from a snapshot, skipping existing ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c client.Client) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				res, err := c.Import(ctx, f)
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "cli.import_done", res.Imported, res.Skipped)
				return nil
			})
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			system, _ := cmd.Flags().GetBool("system")
			path, _ := cmd.Flags().GetString("path")
			var err error
			if path != "" {
				err = config.WriteConfigFileTo(&appConfig, path)
			} else {
				path, err = config.WriteConfigFile(&appConfig, system)
			}
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "cli.config_written", path)
			return nil
		},
	}
	initCmd.Flags().Bool("system", false, "Write the system-wide file instead of the user file")
	initCmd.Flags().String("path", "", "Write to this path")
	cmd.AddCommand(initCmd)
	return cmd
}

func newDBMaintainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db-maintain",
		Short: "Run database maintenance (VACUUM/OPTIMIZE) for the configured DB",
		Long:  `Runs engine-specific maintenance tasks (VACUUM, OPTIMIZE TABLE, PRAGMA optimize).`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			if err := db.RunDBMaintenance(ctx, appConfig.Database.Type, appConfig.Database.Dsn); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "cli.maintenance_done")
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 0, "Timeout for maintenance (0 means the built-in limit)")
	return cmd
}
