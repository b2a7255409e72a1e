package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newArchiveCmd() *cobra.Command {
	var (
		shallow     bool
		destination string
		startedBy   string
		startedIn   string
		userAgent   string
	)
	cmd := &cobra.Command{
		Use:   "archive URL",
		Short: "Register a URL for archiving and queue it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			depth := "inf"
			if shallow {
				depth = "shallow"
			}
			payload := map[string]string{
				"url":         args[0],
				"depth":       depth,
				"started_by":  startedBy,
				"started_in":  startedIn,
				"user_agent":  userAgent,
				"destination": destination,
			}
			var resp struct {
				Ident string `json:"ident"`
				Error string `json:"error"`
			}
			status, err := postJSON(cmd.Context(), serverURL+"/v1/jobs", payload, &resp)
			if err != nil {
				return err
			}
			switch status {
			case http.StatusAccepted:
				cmd.Printf("queued %s as %s\n", args[0], resp.Ident)
				return nil
			case http.StatusConflict:
				cmd.Printf("%s is already queued or in progress (%s)\n", args[0], resp.Ident)
				return nil
			default:
				return fmt.Errorf("archive failed: %s", resp.Error)
			}
		},
	}
	cmd.Flags().BoolVar(&shallow, "shallow", false, "fetch the page and its requisites only")
	cmd.Flags().StringVar(&destination, "destination", "", "named pipeline queue to target")
	cmd.Flags().StringVar(&startedBy, "user", "", "who requested the job")
	cmd.Flags().StringVar(&startedIn, "channel", "", "where the job was requested")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "user agent for the crawl")
	return cmd
}
