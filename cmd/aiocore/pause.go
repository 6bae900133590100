package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause [id]",
	Short: "Pause one download, or every download with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all {
			if err := apiPost("/tasks/pause", nil, nil); err != nil {
				return err
			}
			fmt.Println("paused all downloads")
			return nil
		}
		if len(args) != 1 {
			return fmt.Errorf("provide a task id or --all")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid task id %q: %w", args[0], err)
		}
		if err := apiPost(fmt.Sprintf("/tasks/%d/pause", id), nil, nil); err != nil {
			return err
		}
		fmt.Printf("paused task %d\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	pauseCmd.Flags().Bool("all", false, "pause every download")
}
