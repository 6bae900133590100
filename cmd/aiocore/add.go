package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aio-downloader/aiocore/internal/model"
	"github.com/aio-downloader/aiocore/internal/server"
)

var addCmd = &cobra.Command{
	Use:     "add [url]",
	Aliases: []string{"get"},
	Short:   "Add a download to the running aiocore daemon",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		directory, _ := cmd.Flags().GetString("output")
		referer, _ := cmd.Flags().GetString("referer")
		cookie, _ := cmd.Flags().GetString("cookie")
		extractor, _ := cmd.Flags().GetBool("extractor")

		if directory == "" {
			var err error
			directory, err = os.Getwd()
			if err != nil {
				return err
			}
		}

		kind := model.KindHttp
		if extractor {
			kind = model.KindMediaExtractor
		}

		req := server.AddRequest{
			URL:          args[0],
			Kind:         kind,
			Directory:    directory,
			Referer:      referer,
			CookieString: cookie,
		}

		var record model.TaskRecord
		if err := apiPost("/tasks", req, &record); err != nil {
			return err
		}
		fmt.Printf("added task %d -> %s\n", record.ID, directory)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringP("output", "o", "", "destination directory (default: current directory)")
	addCmd.Flags().String("referer", "", "referer header to send with range requests")
	addCmd.Flags().String("cookie", "", "cookie header to send with range requests")
	addCmd.Flags().Bool("extractor", false, "treat the URL as a media page for yt-dlp extraction")
}
