// Command warden is the end-user CLI for the Warden daemon.
//
// Warden supervises registered client processes: it admits or rejects them
// against the whitelist/blacklist in warden.ini, runs hook scripts when the
// first client arrives and the last one leaves, and reaps clients whose
// processes have died.
//
// Usage:
//
//	warden status                    - Show daemon status
//	warden list                      - List registered clients
//	warden config                    - Show the loaded configuration
//	warden check <name>              - Test a client name against the filters
//	warden reload                    - Ask the daemon to reload warden.ini
//	warden run [--] <cmd> [args...]  - Run a command under supervision
//	warden init                      - Write a commented sample warden.ini
//
// Machine-readable output is available on the read commands with
// --output json or --output yaml.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mjs/warden/internal/buildinfo"
	"github.com/mjs/warden/internal/filesys"
	"github.com/mjs/warden/pkg/client"
)

const defaultSocketPath = "/var/run/wardend.socket"

const sampleConfig = `; warden.ini - Warden daemon configuration
;
; Looked up in the daemon's working directory first,
; then in /etc/warden/.

[filter]
; Clients allowed to register. Substring match against the executable
; name; an empty whitelist allows everything. Repeat the key to add
; more entries (32 max, 255 bytes each).
;whitelist=game
;whitelist=bench

; Clients always refused, checked after the whitelist.
;blacklist=crawler

[general]
; Seconds between liveness sweeps of registered clients. Must be a
; positive integer; default 5.
;reaper_freq=5

[custom]
; Commands run via /bin/sh -c when the first client registers (start)
; and when the last one leaves (end). Repeat the keys for more commands.
;start=/usr/bin/notify-send "warden on"
;end=/usr/bin/notify-send "warden off"
`

func main() {
	var (
		socketPath string
		output     string
	)

	root := &cobra.Command{
		Use:   "warden",
		Short: "Warden client-supervision CLI",
		Long: `Warden supervises registered client processes. The daemon admits or
rejects clients against the filter lists in warden.ini, runs lifecycle hook
scripts, and reaps clients whose processes have died.`,
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", defaultSocketPath, "daemon control socket")
	root.PersistentFlags().StringVarP(&output, "output", "o", "", "output format: json or yaml")

	cli := func() *client.Client { return client.New(socketPath) }

	// ---- version command ----
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("version: %s\n", buildinfo.Version)
			fmt.Printf("commit: %s\n", buildinfo.Commit)
		},
	}

	// ---- status command ----
	statusCmd := &cobra.Command{
		Use:     "status",
		Short:   "Show daemon status",
		Example: "warden status",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			st, err := cli().Status(ctx)
			if err != nil {
				return err
			}
			if done, err := emit(output, st); done || err != nil {
				return err
			}

			color.New(color.Bold).Println("WARDEN DAEMON STATUS:")
			fmt.Printf("  clients:          %d\n", st.Clients)
			fmt.Printf("  config loads:     %d\n", st.Loads)
			fmt.Printf("  reaper frequency: %s\n", st.ReaperFrequency)
			fmt.Printf("  uptime:           %s\n", st.Uptime.Round(time.Second))
			fmt.Printf("  version:          %s (%s)\n", st.Version, st.Commit)
			return nil
		},
	}

	// ---- reload command ----
	reloadCmd := &cobra.Command{
		Use:     "reload",
		Short:   "Ask the daemon to reload warden.ini",
		Example: "warden reload",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			if err := cli().Reload(ctx); err != nil {
				return err
			}
			color.Green("✓ Reload queued")
			return nil
		},
	}

	// ---- list command ----
	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "List registered clients",
		Example: "warden list",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			registered, err := cli().Clients(ctx)
			if err != nil {
				return err
			}
			if done, err := emit(output, registered); done || err != nil {
				return err
			}
			if len(registered) == 0 {
				color.Yellow("No registered clients.")
				return nil
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"PID", "Name", "Session ID", "Registered"})
			table.SetHeaderColor(
				tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor},
				tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor},
				tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor},
				tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor},
			)
			table.SetBorder(false)
			table.SetColumnColor(
				tablewriter.Colors{tablewriter.FgHiWhiteColor},
				tablewriter.Colors{tablewriter.FgGreenColor},
				tablewriter.Colors{tablewriter.FgHiWhiteColor},
				tablewriter.Colors{tablewriter.FgHiWhiteColor},
			)

			for _, c := range registered {
				table.Append([]string{
					fmt.Sprintf("%d", c.PID),
					c.Name,
					c.ID,
					c.RegisteredAt.Format(time.RFC3339),
				})
			}

			color.New(color.Bold).Println("REGISTERED CLIENTS:")
			table.Render()
			return nil
		},
	}

	// ---- config command ----
	configCmd := &cobra.Command{
		Use:     "config",
		Short:   "Show the daemon's loaded configuration",
		Example: "warden config",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			cfg, err := cli().Config(ctx)
			if err != nil {
				return err
			}
			if done, err := emit(output, cfg); done || err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Setting", "Value"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)
			appendList := func(name string, entries []string) {
				if len(entries) == 0 {
					table.Append([]string{name, color.YellowString("(empty)")})
					return
				}
				for _, e := range entries {
					table.Append([]string{name, e})
				}
			}
			appendList("whitelist", cfg.Whitelist)
			appendList("blacklist", cfg.Blacklist)
			appendList("start script", cfg.StartScripts)
			appendList("end script", cfg.EndScripts)
			table.Append([]string{"reaper frequency", cfg.ReaperFrequency.String()})

			color.New(color.Bold).Println("LOADED CONFIGURATION:")
			table.Render()
			return nil
		},
	}

	// ---- check command ----
	checkCmd := &cobra.Command{
		Use:     "check <name>",
		Short:   "Test a client name against the filter lists",
		Example: "warden check mygame",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			res, err := cli().Check(ctx, args[0])
			if err != nil {
				return err
			}
			if done, err := emit(output, res); done || err != nil {
				return err
			}

			switch {
			case res.Blacklisted:
				color.New(color.FgHiRed, color.Bold).Printf("✗ %s is blacklisted\n", res.Client)
			case !res.Whitelisted:
				color.New(color.FgYellow).Printf("✗ %s is not whitelisted\n", res.Client)
			default:
				color.New(color.FgGreen, color.Bold).Printf("✓ %s would be admitted\n", res.Client)
			}
			return nil
		},
	}

	// ---- run command ----
	runCmd := &cobra.Command{
		Use:   "run [--] <command> [args...]",
		Short: "Run a command under daemon supervision",
		Long: `Run a command, register its pid with the daemon, and unregister it when
the command exits. If the daemon refuses or is unreachable the command still
runs, just unsupervised.`,
		Example: "warden run -- ./mygame --fullscreen",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			child := exec.Command(args[0], args[1:]...)
			child.Stdin = os.Stdin
			child.Stdout = os.Stdout
			child.Stderr = os.Stderr
			if err := child.Start(); err != nil {
				return fmt.Errorf("starting %q: %w", args[0], err)
			}
			pid := child.Process.Pid

			regCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			reg, regErr := cli().Register(regCtx, pid)
			cancel()
			if regErr != nil {
				color.Yellow("warning: running unsupervised: %v", regErr)
			} else {
				color.Green("✓ Registered pid %d as %s", pid, reg.ID)
			}

			waitErr := child.Wait()

			if regErr == nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := cli().Unregister(ctx, pid); err != nil {
					color.Yellow("warning: unregister failed: %v", err)
				}
			}

			if waitErr != nil {
				var exitErr *exec.ExitError
				if errors.As(waitErr, &exitErr) {
					os.Exit(exitErr.ExitCode())
				}
				return waitErr
			}
			return nil
		},
	}

	// ---- init command ----
	initCmd := &cobra.Command{
		Use:     "init",
		Short:   "Write a commented sample warden.ini to the current directory",
		Example: "warden init",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := os.Stat("warden.ini"); err == nil {
				return fmt.Errorf("warden.ini already exists, refusing to overwrite")
			}
			if err := filesys.AtomicWrite(filesys.OS(), "warden.ini", []byte(sampleConfig), 0o644); err != nil {
				return fmt.Errorf("writing warden.ini: %w", err)
			}
			color.Green("✓ Wrote warden.ini")
			return nil
		},
	}

	root.AddCommand(statusCmd, reloadCmd, listCmd, configCmd, checkCmd, runCmd, initCmd, versionCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// emit writes v in the requested machine format. It reports whether output
// was handled so callers can skip their human rendering.
func emit(format string, v any) (bool, error) {
	switch format {
	case "":
		return false, nil
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return true, enc.Encode(v)
	default:
		return true, fmt.Errorf("unknown output format %q", format)
	}
}
