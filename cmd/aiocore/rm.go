package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:     "rm [id]",
	Aliases: []string{"clear"},
	Short:   "Remove a download's persisted record (keeps the file on disk)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid task id %q: %w", args[0], err)
		}
		deleteFile, _ := cmd.Flags().GetBool("delete")

		path := fmt.Sprintf("/tasks/%d", id)
		if deleteFile {
			if err := apiDelete(path, nil); err != nil {
				return err
			}
			fmt.Printf("deleted task %d and its destination file\n", id)
			return nil
		}
		if err := apiPost(path+"/clear", nil, nil); err != nil {
			return err
		}
		fmt.Printf("cleared task %d\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().Bool("delete", false, "also delete the destination file on disk")
}
