package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/database"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/transcode"
	"github.com/spf13/cobra"
)

var commandCmd = &cobra.Command{
	Use:   "command [name]",
	Short: "Run one-time command (migrate, migrate-create, seed, check-config, ffmpeg-args)",
	RunE:  runCommand,
}

func init() {
	rootCmd.AddCommand(commandCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		fmt.Fprintln(out, "available: migrate, migrate-create, seed, check-config, ffmpeg-args")
		return nil
	}
	switch args[0] {
	case "migrate":
		return runMigrateUp(cmd, nil)
	case "seed":
		return runSeed(cmd, nil)
	case "migrate-create":
		name := ""
		if len(args) > 1 {
			name = args[1]
		} else {
			fmt.Fprint(out, "Enter migration name: ")
			_, _ = fmt.Fscanln(cmd.InOrStdin(), &name)
		}
		if name == "" {
			return errors.New("migration name required")
		}
		return database.CreateMigration(name)
	case "check-config":
		return checkConfig(cmd)
	case "ffmpeg-args":
		if len(args) < 3 {
			return errors.New("usage: command ffmpeg-args <session-id> <input-url>")
		}
		return printFFmpegArgs(cmd, model.ID(args[1]), args[2])
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func checkConfig(cmd *cobra.Command) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "env=%s addr=%s db=%s\n", cfg.AppEnv, cfg.Addr(), cfg.DB.Driver)
	fmt.Fprintf(out, "heartbeat=%s rate=%d/%s capacity=%d\n",
		cfg.Relay.HeartbeatInterval, cfg.Relay.RateLimitMax, cfg.Relay.RateLimitWindow, cfg.Relay.SessionCapacity)
	fmt.Fprintf(out, "transcode=%t output=%s\n", cfg.Transcode.Enabled, cfg.Transcode.OutputDir)
	return nil
}

// printFFmpegArgs shows the encoder command line per tier without running it.
func printFFmpegArgs(cmd *cobra.Command, sessionID model.ID, input string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	l, err := transcode.NewFFmpegLauncher(cfg.Transcode.FFmpegPath, cfg.Transcode.ExtraArgs, cfg.Transcode.SegmentSeconds, log)
	if err != nil {
		return err
	}
	for _, t := range transcode.Tiers {
		job := transcode.Job{
			SessionID: sessionID,
			Tier:      t,
			Input:     input,
			OutputDir: filepath.Join(cfg.Transcode.OutputDir, sessionID.String(), t.Name),
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s\n", t.Name, cfg.Transcode.FFmpegPath, strings.Join(l.Args(job), " "))
	}
	return nil
}
