package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "status IDENT",
		Short: "Show the current state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Job        map[string]any `json:"job"`
				State      string         `json:"state"`
				StatusText string         `json:"status_text"`
				Error      string         `json:"error"`
			}
			status, err := getJSON(cmd.Context(), serverURL+"/v1/jobs/"+args[0]+"/status", &resp)
			if err != nil {
				return err
			}
			switch status {
			case http.StatusOK:
				cmd.Println(resp.StatusText)
				if verbose {
					for _, key := range []string{"url", "queued_at", "started_at", "items_downloaded", "bytes_downloaded", "error_count"} {
						if v, ok := resp.Job[key]; ok {
							cmd.Printf("  %s: %v\n", key, v)
						}
					}
				}
				return nil
			case http.StatusNotFound:
				return fmt.Errorf("job %s not found", args[0])
			default:
				return fmt.Errorf("status failed: %s", resp.Error)
			}
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print job details")
	return cmd
}
