package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [id]",
	Short: "Resume one download, or every download with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all {
			if err := apiPost("/tasks/resume", nil, nil); err != nil {
				return err
			}
			fmt.Println("resumed all downloads")
			return nil
		}
		if len(args) != 1 {
			return fmt.Errorf("provide a task id or --all")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid task id %q: %w", args[0], err)
		}
		if err := apiPost(fmt.Sprintf("/tasks/%d/resume", id), nil, nil); err != nil {
			return err
		}
		fmt.Printf("resumed task %d\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().Bool("all", false, "resume every download")
}
