package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiURL  string
	token   string
	speedup float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fairfuel-replay",
		Short: "Replay recorded drives against a FairFuel API",
		Long: `Feeds a recorded drive back into a running FairFuel server through
the ingest endpoints, preserving the original timing between
observations. Useful for exercising session detection without a car.`,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8080", "Base URL of the FairFuel API")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token from a paired device")
	rootCmd.PersistentFlags().Float64Var(&speedup, "speedup", 1.0, "Replay speed multiplier")

	rootCmd.AddCommand(driveCmd())
	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(endCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func driveCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Replay a JSON-lines drive recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open recording: %w", err)
			}
			defer f.Close()

			records, err := ReadRecording(f)
			if err != nil {
				return fmt.Errorf("parse recording: %w", err)
			}
			if len(records) == 0 {
				return fmt.Errorf("recording is empty")
			}

			client := NewClient(apiURL, token)
			fmt.Printf("Replaying %d observations at %.1fx\n", len(records), speedup)

			start := time.Now()
			sent := 0
			for i, rec := range records {
				if i > 0 {
					time.Sleep(replayDelay(records[i-1].At, rec.At, speedup))
				}
				if err := client.Send(rec); err != nil {
					fmt.Printf("  %s: %v\n", rec.Type, err)
					continue
				}
				sent++
			}

			fmt.Printf("Sent %d/%d observations in %v\n", sent, len(records), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "drive.jsonl", "Recording file (JSON lines)")
	return cmd
}

func tagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tag [payload]",
		Short: "Simulate an NFC tag read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewClient(apiURL, token)
			snap, err := client.StartByTag(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Session state: %s\n", snap.State)
			return nil
		},
	}
}

func endCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "End the running session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewClient(apiURL, token)
			snap, err := client.EndSession()
			if err != nil {
				return err
			}
			fmt.Printf("Session state: %s\n", snap.State)
			return nil
		},
	}
}

// replayDelay scales the recorded gap between two observations. Gaps
// collapse to zero when the recording is out of order.
func replayDelay(prev, next time.Time, speedup float64) time.Duration {
	if speedup <= 0 {
		speedup = 1
	}
	gap := next.Sub(prev)
	if gap < 0 {
		return 0
	}
	return time.Duration(float64(gap) / speedup)
}
