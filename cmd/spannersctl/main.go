package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/graphworks/spanners/pkg/mgmt"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var (
	socketPath string
	replyPath  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "spannersctl",
	Short: "Control a running spanners server",
	Long: `spannersctl talks to the local management socket of a running
spanners server to inspect and administer users, jobs and the scheduler.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("spannersctl version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", mgmt.DefaultServerPath, "Management socket of the server")
	rootCmd.PersistentFlags().StringVar(&replyPath, "reply-socket", mgmt.DefaultClientPath, "Local socket for replies")

	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(schedulerCmd)
}

// send performs one request/reply exchange and prints the reply message as
// indented JSON. Non-ok replies become errors so the exit code reflects
// them.
func send(reqType, cmd string, arg any) error {
	client, err := mgmt.NewClient(socketPath, replyPath)
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := client.Command(reqType, cmd, arg)
	if err != nil {
		return err
	}
	if reply.Status != mgmt.StatusOK {
		return fmt.Errorf("%s: %s", reply.Status, reply.Error)
	}
	if reply.Message == nil {
		fmt.Println("ok")
		return nil
	}
	out, err := json.MarshalIndent(reply.Message, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// User commands
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send("user", "list", nil)
	},
}

var userInfoCmd = &cobra.Command{
	Use:   "info NAME|ID",
	Short: "Show a user and their jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send("user", "info", args[0])
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete NAME|ID",
	Short: "Delete a user and all their jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send("user", "delete", args[0])
	},
}

var userBlockCmd = &cobra.Command{
	Use:   "block NAME|ID",
	Short: "Block a user from authenticating",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send("user", "block", args[0])
	},
}

var userUnblockCmd = &cobra.Command{
	Use:   "unblock NAME|ID",
	Short: "Unblock a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send("user", "unblock", args[0])
	},
}

func init() {
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userInfoCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userBlockCmd)
	userCmd.AddCommand(userUnblockCmd)
}

// Job commands
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage jobs",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send("job", "list", nil)
	},
}

var jobInfoCmd = &cobra.Command{
	Use:   "info NAME|ID",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send("job", "info", args[0])
	},
}

var jobStopCmd = &cobra.Command{
	Use:   "stop NAME|ID",
	Short: "Abort a waiting or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send("job", "stop", args[0])
	},
}

var jobDeleteCmd = &cobra.Command{
	Use:   "delete NAME|ID",
	Short: "Delete a job and its payloads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send("job", "delete", args[0])
	},
}

func init() {
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobInfoCmd)
	jobCmd.AddCommand(jobStopCmd)
	jobCmd.AddCommand(jobDeleteCmd)
}

// Scheduler commands. With no argument each command reads the current
// value; with one it sets it first.
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Inspect and tune the scheduler",
}

func schedulerSubCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " [VALUE]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return send("scheduler", name, nil)
			}
			return send("scheduler", name, json.RawMessage(args[0]))
		},
	}
}

func init() {
	schedulerCmd.AddCommand(schedulerSubCmd("time-limit", "Per-job wall clock limit in ms (0 = unlimited)"))
	schedulerCmd.AddCommand(schedulerSubCmd("resource-limit", "Per-worker memory limit in bytes (0 = unlimited)"))
	schedulerCmd.AddCommand(schedulerSubCmd("process-limit", "Maximum concurrent worker processes"))
	schedulerCmd.AddCommand(schedulerSubCmd("sleep", "Scheduler poll interval in ms"))
}
