package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort IDENT",
		Short: "Request that a running job stop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Status string `json:"status"`
				Error  string `json:"error"`
			}
			status, err := postJSON(cmd.Context(), serverURL+"/v1/jobs/"+args[0]+"/abort", struct{}{}, &resp)
			if err != nil {
				return err
			}
			switch status {
			case http.StatusOK:
				cmd.Printf("%s: %s\n", args[0], resp.Status)
				return nil
			case http.StatusNotFound:
				return fmt.Errorf("job %s not found", args[0])
			default:
				return fmt.Errorf("abort failed: %s", resp.Error)
			}
		},
	}
}
