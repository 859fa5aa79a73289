package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/illuc-dev/illuc/internal/apiclient"
	"github.com/illuc-dev/illuc/internal/config"
)

func clientFromConfig() *apiclient.Client {
	home, err := config.Dir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error resolving home directory: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(home)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	return apiclient.New(cfg.SocketPath())
}

func main() {
	root := &cobra.Command{
		Use:   "illuc",
		Short: "drive concurrent, isolated coding-agent sessions",
		Long:  "illuc manages one git worktree and one agent CLI session per task, talking to illucd over a local socket.",
	}

	root.AddCommand(
		repoCmd(),
		taskCmd(),
		openCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func repoCmd() *cobra.Command {
	repo := &cobra.Command{
		Use:   "repo",
		Short: "inspect a base repository",
	}

	repo.AddCommand(&cobra.Command{
		Use:   "select [path]",
		Short: "validate a directory as a base repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFromConfig()
			r, err := c.SelectBaseRepo(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("path:    %s\nbranch:  %s\nhead:    %s\n", r.CanonicalPath, r.CurrentBranch, r.Head)
			return nil
		},
	})

	repo.AddCommand(&cobra.Command{
		Use:   "branches [path]",
		Short: "list local branches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFromConfig()
			branches, err := c.ListBranches(args[0])
			if err != nil {
				return err
			}
			for _, b := range branches {
				fmt.Println(b)
			}
			return nil
		},
	})

	return repo
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "manage agent tasks",
	}

	var (
		title      string
		baseRef    string
		agentFlag  string
		rows, cols int
		resume     string
		message    string
		stageAll   bool
		remote     string
		branch     string
		setUpstream bool
		ignoreWS   bool
		diffMode   string
	)

	task.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list known tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFromConfig()
			tasks, err := c.ListTasks()
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("no tasks")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tAGENT\tBRANCH\tTITLE")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Agent, t.Branch, t.Title)
			}
			w.Flush()
			return nil
		},
	})

	createCmd := &cobra.Command{
		Use:   "create [repo-path] [branch-name]",
		Short: "create a new task and worktree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFromConfig()
			t, err := c.CreateTask(apiclient.CreateTaskRequest{
				BaseRepoPath: args[0],
				BranchName:   args[1],
				TaskTitle:    title,
				BaseRef:      baseRef,
				Agent:        agentFlag,
			})
			if err != nil {
				return err
			}
			fmt.Printf("created: %s (%s)\n", t.ID, t.Title)
			return nil
		},
	}
	createCmd.Flags().StringVar(&title, "title", "", "human-readable task title")
	createCmd.Flags().StringVar(&baseRef, "base-ref", "", "ref to branch from (default HEAD)")
	createCmd.Flags().StringVar(&agentFlag, "agent", "", "agent kind: codex or copilot")
	task.AddCommand(createCmd)

	startCmd := &cobra.Command{
		Use:   "start [task-id]",
		Short: "spawn a task's agent session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFromConfig()
			t, err := c.StartTask(args[0], apiclient.StartTaskRequest{
				Rows: rows, Cols: cols, Agent: agentFlag, ResumeHint: resume,
			})
			if err != nil {
				return err
			}
			fmt.Printf("started: %s (%s)\n", t.ID, t.Status)
			return nil
		},
	}
	startCmd.Flags().IntVar(&rows, "rows", 0, "terminal rows")
	startCmd.Flags().IntVar(&cols, "cols", 0, "terminal columns")
	startCmd.Flags().StringVar(&agentFlag, "agent", "", "agent kind override")
	startCmd.Flags().StringVar(&resume, "resume", "", "resume hint (e.g. a Copilot session id)")
	task.AddCommand(startCmd)

	task.AddCommand(&cobra.Command{
		Use:   "stop [task-id]",
		Short: "stop a running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFromConfig()
			t, err := c.StopTask(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("stopped: %s\n", t.ID)
			return nil
		},
	})

	task.AddCommand(&cobra.Command{
		Use:   "discard [task-id]",
		Short: "stop a task and remove its worktree and branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFromConfig()
			if err := c.DiscardTask(args[0]); err != nil {
				return err
			}
			fmt.Printf("discarded: %s\n", args[0])
			return nil
		},
	})

	task.AddCommand(&cobra.Command{
		Use:   "load-existing [repo-path]",
		Short: "adopt unregistered worktrees under a repository's .illuc directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFromConfig()
			tasks, err := c.LoadExisting(args[0], agentFlag)
			if err != nil {
				return err
			}
			fmt.Printf("loaded %d task(s)\n", len(tasks))
			return nil
		},
	})

	diffCmd := &cobra.Command{
		Use:   "diff [task-id]",
		Short: "print a task's unified diff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFromConfig()
			d, err := c.GetDiff(args[0], ignoreWS, diffMode)
			if err != nil {
				return err
			}
			fmt.Print(d.UnifiedDiff)
			return nil
		},
	}
	diffCmd.Flags().BoolVar(&ignoreWS, "ignore-whitespace", false, "ignore whitespace-only changes")
	diffCmd.Flags().StringVar(&diffMode, "mode", "worktree", "diff mode: worktree or branch")
	task.AddCommand(diffCmd)

	commitCmd := &cobra.Command{
		Use:   "commit [task-id]",
		Short: "commit a task's pending changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFromConfig()
			if err := c.Commit(args[0], message, stageAll); err != nil {
				return err
			}
			fmt.Println("committed")
			return nil
		},
	}
	commitCmd.Flags().StringVar(&message, "message", "", "commit message")
	commitCmd.Flags().BoolVar(&stageAll, "stage-all", true, "stage every pending change before committing")
	task.AddCommand(commitCmd)

	pushCmd := &cobra.Command{
		Use:   "push [task-id]",
		Short: "push a task's branch upstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFromConfig()
			if err := c.Push(args[0], remote, branch, setUpstream); err != nil {
				return err
			}
			fmt.Println("pushed")
			return nil
		},
	}
	pushCmd.Flags().StringVar(&remote, "remote", "", "remote name (default origin)")
	pushCmd.Flags().StringVar(&branch, "branch", "", "branch name (default the task's own)")
	pushCmd.Flags().BoolVar(&setUpstream, "set-upstream", true, "set the branch's upstream tracking ref")
	task.AddCommand(pushCmd)

	return task
}

func openCmd() *cobra.Command {
	open := &cobra.Command{
		Use:   "open",
		Short: "open a path in an external application",
	}
	open.AddCommand(&cobra.Command{
		Use:   "vscode [path]",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientFromConfig().OpenVSCode(args[0])
		},
	})
	open.AddCommand(&cobra.Command{
		Use:   "terminal [path]",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientFromConfig().OpenTerminal(args[0])
		},
	})
	open.AddCommand(&cobra.Command{
		Use:   "explorer [path]",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientFromConfig().OpenExplorer(args[0])
		},
	})
	return open
}
