package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/dispatchd/internal/registry"
)

var (
	createKind     string
	createPriority string
	createTags     []string
	createBody     string

	listStatus   string
	listKind     string
	listPriority string
	listTags     []string
)

func init() {
	createCmd.Flags().StringVar(&createKind, "kind", "ad-hoc", "unit kind: finding, plan-step or ad-hoc")
	createCmd.Flags().StringVar(&createPriority, "priority", "P2", "priority: P1, P2 or P3")
	createCmd.Flags().StringSliceVar(&createTags, "tag", nil, "tags (repeatable)")
	createCmd.Flags().StringVar(&createBody, "body", "", "description body; use - to read stdin")

	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listKind, "kind", "", "filter by kind")
	listCmd.Flags().StringVar(&listPriority, "priority", "", "filter by priority")
	listCmd.Flags().StringSliceVar(&listTags, "tag", nil, "filter by tag (repeatable)")
}

var createCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a work unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		body := createBody
		if body == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			body = string(data)
		}

		unit, err := a.registry.Create(cmd.Context(), &registry.WorkUnit{
			Title:    args[0],
			Kind:     registry.Kind(createKind),
			Priority: registry.Priority(createPriority),
			Tags:     createTags,
			Body:     body,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s)\n", unit.ID, unit.Status)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List work units",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		units, err := a.registry.List(registry.Filter{
			Status:   registry.Status(listStatus),
			Kind:     registry.Kind(listKind),
			Priority: registry.Priority(listPriority),
			Tags:     listTags,
		})
		if err != nil {
			return err
		}
		if len(units) == 0 {
			fmt.Println("no matching units")
			return nil
		}
		for _, u := range units {
			tags := ""
			if len(u.Tags) > 0 {
				tags = " [" + strings.Join(u.Tags, ",") + "]"
			}
			fmt.Printf("%s  %-11s %s %-9s %s%s\n", u.ID, u.Status, u.Priority, u.Kind, u.Title, tags)
		}
		return nil
	},
}

var readyCmd = &cobra.Command{
	Use:   "ready <id>...",
	Short: "Mark work units ready for execution",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		for _, id := range args {
			if _, err := a.registry.Transition(cmd.Context(), id, registry.StatusReady, "marked ready"); err != nil {
				return err
			}
			fmt.Printf("%s ready\n", id)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one work unit with its work log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		u, err := a.registry.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", u.ID, u.Title)
		fmt.Printf("  kind: %s  priority: %s  status: %s\n", u.Kind, u.Priority, u.Status)
		if len(u.Tags) > 0 {
			fmt.Printf("  tags: %s\n", strings.Join(u.Tags, ", "))
		}
		if u.ClaimedBy != "" {
			fmt.Printf("  claimed by: %s\n", u.ClaimedBy)
		}
		if u.Body != "" {
			fmt.Printf("\n%s\n", u.Body)
		}
		if len(u.Log) > 0 {
			fmt.Println("work log:")
			for _, e := range u.Log {
				line := fmt.Sprintf("  %s  %s -> %s", e.At.Format("2006-01-02 15:04:05"), e.From, e.To)
				if e.Note != "" {
					line += ": " + e.Note
				}
				fmt.Println(line)
			}
		}
		return nil
	},
}
