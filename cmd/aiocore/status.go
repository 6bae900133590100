package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show the full record for one download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid task id %q: %w", args[0], err)
		}
		record, err := fetchTask(id)
		if err != nil {
			return err
		}
		fmt.Printf("id:       %d\n", record.ID)
		fmt.Printf("url:      %s\n", record.URL)
		fmt.Printf("file:     %s\n", displayName(record))
		fmt.Printf("status:   %s\n", record.Status)
		if record.StatusInfo != "" {
			fmt.Printf("info:     %s\n", record.StatusInfo)
		}
		fmt.Printf("progress: %.1f%% (%d / %d bytes)\n", record.ProgressPercent, record.DownloadedBytes, record.FileSize)
		fmt.Printf("speed:    %s (avg %s)\n", humanizeBps(record.RealtimeBps), humanizeBps(record.AverageBps))
		if record.IsExtractorError {
			fmt.Printf("error:    %s\n", record.ExtractorErrorMessage)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
