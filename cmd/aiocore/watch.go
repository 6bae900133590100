package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live status and finish events from the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := daemonBaseURL()
		if err != nil {
			return err
		}

		resp, err := http.Get(base + "/events")
		if err != nil {
			return fmt.Errorf("connecting to daemon: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var ev struct {
				Type   string `json:"type"`
				Record struct {
					ID              int64   `json:"id"`
					FileName        string  `json:"fileName"`
					Status          string  `json:"status"`
					ProgressPercent float64 `json:"progressPercent"`
				} `json:"record"`
			}
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			fmt.Printf("[%s] #%d %s %s %.1f%%\n", ev.Type, ev.Record.ID, ev.Record.FileName, ev.Record.Status, ev.Record.ProgressPercent)
		}
		return scanner.Err()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
