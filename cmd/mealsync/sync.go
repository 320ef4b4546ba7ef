package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run sync passes against the remote backend",
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload today's analyzed, unsynced entries now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.srv.Scheduler().ForceNow(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Push completed")
		return nil
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Merge remote entries missing from the local diary",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.srv.Orchestrator().PullNow(cmd.Context())
		if err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
		fmt.Printf("Pulled %d new entries\n", n)
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the outcome of the last pull and push",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.srv.Orchestrator().Status(cmd.Context())
		if jsonOutput {
			return printJSON(st)
		}
		fmt.Printf("user:    %s\n", a.srv.Entries().UserID())
		fmt.Printf("remote:  %v\n", a.srv.Gateway().Configured())
		for _, s := range []struct {
			name string
			last string
			ok   string
			err  string
		}{
			{"pull", fmtTime(st.Pull.LastAttempt), fmtTime(st.Pull.LastSuccess), st.Pull.LastError},
			{"push", fmtTime(st.Push.LastAttempt), fmtTime(st.Push.LastSuccess), st.Push.LastError},
		} {
			fmt.Printf("%s:    last attempt %s, last success %s", s.name, s.last, s.ok)
			if s.err != "" {
				fmt.Printf(", error: %s", s.err)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncPushCmd, syncPullCmd, syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}
