package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aio-downloader/aiocore/internal/model"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List downloads known to the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		records, err := fetchTasks()
		if err != nil {
			return err
		}
		sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

		if jsonOutput {
			data, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(records) == 0 {
			fmt.Println("no downloads")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFILENAME\tSTATUS\tPROGRESS\tSPEED")
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\t%.1f%%\t%s\n",
				r.ID, displayName(r), r.Status, r.ProgressPercent, humanizeBps(r.RealtimeBps))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().Bool("json", false, "output JSON instead of a table")
}

func displayName(r *model.TaskRecord) string {
	if r.FileName != "" {
		return r.FileName
	}
	return r.URL
}

func humanizeBps(bps float64) string {
	if bps <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f KB/s", bps/1024)
}
