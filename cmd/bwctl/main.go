// Package main implements bwctl, a terminal client for the boardwalk API.
// It talks to a running server over HTTP; it never touches stores directly.
package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bucketworks/boardwalk/model"
)

var rootCmd = &cobra.Command{
	Use:   "bwctl",
	Short: "Boardwalk CLI",
	Long: `bwctl drives a boardwalk server from the terminal.
Concepts:
- Project: a shared container of actions with a member list (owner/editor/viewer).
- Board: the project's actions grouped into workflow columns; also viewable as a flat list.
- Action: one card. Every write presents the card's last_event_id; a stale
  token is rejected with the current record so you can retry deliberately.
- Backfill: an idempotent import of the project's pre-collaboration task list,
  run automatically on first board load or explicitly via 'bwctl backfill'.

Authentication uses a bearer token from --token or BOARDWALK_TOKEN.`,
}

// transitionReply mirrors the server's transition and move response body.
type transitionReply struct {
	Action model.ProjectAction `json:"action"`
	Moved  bool                `json:"moved"`
}

// viewReply mirrors the server's view-state response body.
type viewReply struct {
	ViewState model.ViewState `json:"view_state"`
	Query     string          `json:"query"`
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BOARDWALK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("server", "s", "http://127.0.0.1:8080", "server base URL")
	rootCmd.PersistentFlags().String("token", "", "bearer token")
	rootCmd.PersistentFlags().StringP("project", "p", "", "project id")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(backfillCmd())
	rootCmd.AddCommand(viewCmd())
}

// --- project ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectUpdateCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects you are a member of",
		RunE: func(cmd *cobra.Command, args []string) error {
			var projects []model.Project
			if err := newClient().do(cmd.Context(), "GET", "/api/v1/projects", nil, &projects); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(projects)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "Name", "Status", "Due"})
			for _, p := range projects {
				tw.AppendRow(table.Row{p.ID, p.Name, p.Status, formatDue(p.DueAt)})
			}
			tw.Render()
			return nil
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var name, outcome, due string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project (you become its owner)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dueAt, err := parseDue(due)
			if err != nil {
				return err
			}
			input := model.ProjectInput{Name: name, DesiredOutcome: outcome, DueAt: dueAt}
			var p model.Project
			if err := newClient().do(cmd.Context(), "POST", "/api/v1/projects", input, &p); err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&outcome, "outcome", "", "desired outcome")
	cmd.Flags().StringVar(&due, "due", "", "due date (2006-01-02 or RFC3339)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, outcome, status string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update project fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			input := model.ProjectInput{
				Name:           name,
				DesiredOutcome: outcome,
				Status:         model.ProjectStatus(status),
			}
			var p model.Project
			if err := newClient().do(cmd.Context(), "PATCH", "/api/v1/projects/"+projectID, input, &p); err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&outcome, "outcome", "", "desired outcome")
	cmd.Flags().StringVar(&status, "status", "", "status (active, completed, on_hold)")
	return cmd
}

// --- board ---

func boardCmd() *cobra.Command {
	var view, tag string
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the project board",
		Long:  "Loads the board view: actions grouped into workflow columns, with your stored presentation mode and any tag filter applied. The first load of a legacy project runs the backfill.",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			q := url.Values{}
			if view != "" {
				q.Set("view", view)
			}
			if tag != "" {
				q.Set("tag", tag)
			}
			path := "/api/v1/projects/" + projectID + "/board"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var board model.BoardView
			if err := newClient().do(cmd.Context(), "GET", path, nil, &board); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(board)
			}

			fmt.Printf("Project: %s (%s)\n", board.Project.Name, board.Project.Status)
			fmt.Printf("View: %s", board.ViewState.Mode)
			if board.ViewState.Tag != "" {
				fmt.Printf("  tag=%s", board.ViewState.Tag)
			}
			fmt.Printf("  query: %s\n", board.Query)
			if bf := board.Backfill; bf != nil && bf.Ran {
				fmt.Printf("Backfill: created %d, already present %d, skipped %d\n",
					bf.Created, bf.AlreadyPresent, bf.Skipped)
			}

			tw := newTable()
			tw.AppendHeader(table.Row{"Column", "ID", "Name", "Owner", "Due", "Comments", "Version"})
			for _, col := range board.Columns {
				for _, a := range col.Actions {
					tw.AppendRow(table.Row{
						col.Label, a.ID, a.Name, a.Owner,
						formatDue(a.DueAt), a.CommentCount, a.LastEventID,
					})
				}
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&view, "view", "", "presentation mode for this load (list, board)")
	cmd.Flags().StringVar(&tag, "tag", "", "tag filter")
	return cmd
}

// --- action ---

func actionCmd() *cobra.Command {
	act := &cobra.Command{
		Use:   "action",
		Short: "Manage actions",
		Long:  "Actions are the cards on a board. Updates and transitions carry the card's version token (last_event_id); when another collaborator got there first the server answers with the current record instead of applying your write.",
	}
	act.AddCommand(actionShowCmd())
	act.AddCommand(actionCreateCmd())
	act.AddCommand(actionUpdateCmd())
	act.AddCommand(actionTransitionCmd())
	act.AddCommand(actionMoveCmd())
	return act
}

func actionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <action-id>",
		Short: "Show a card with its thread and timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			var detail model.DetailView
			path := "/api/v1/projects/" + projectID + "/actions/" + args[0]
			if err := newClient().do(cmd.Context(), "GET", path, nil, &detail); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(detail)
			}

			a := detail.Action
			fmt.Printf("%s  %s [%s] v%d\n", a.ID, a.Name, a.ActionStatus, a.LastEventID)
			if a.Owner != "" {
				fmt.Printf("Owner: %s\n", a.Owner)
			}
			if a.DueAt != nil {
				fmt.Printf("Due: %s\n", formatDue(a.DueAt))
			}
			if len(a.Tags) > 0 {
				fmt.Printf("Tags: %s\n", strings.Join(a.Tags, ", "))
			}
			if a.Description != "" {
				fmt.Printf("\n%s\n", a.Description)
			}
			if detail.Draft != nil {
				fmt.Printf("\n(unsaved draft from %s)\n", detail.Draft.UpdatedAt.Format(time.RFC3339))
			}

			if roots := detail.Thread["root"]; len(roots) > 0 {
				fmt.Println("\nComments:")
				for _, c := range roots {
					printCommentTree(detail.Thread, c, "  ")
				}
			}

			if len(detail.Timeline) > 0 {
				fmt.Println("\nTimeline:")
				for _, e := range detail.Timeline {
					fmt.Printf("  %s  %-10s %s\n", e.Timestamp.Format("2006-01-02 15:04"), e.Kind, e.Label)
				}
			}
			return nil
		},
	}
}

func actionCreateCmd() *cobra.Command {
	var name, description, status, owner, due string
	var tags []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a card",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			dueAt, err := parseDue(due)
			if err != nil {
				return err
			}
			input := model.CreateActionInput{
				Name:         name,
				Description:  description,
				ActionStatus: model.Status(status),
				OwnerText:    owner,
				DueAt:        dueAt,
				Tags:         tags,
			}
			var a model.ProjectAction
			path := "/api/v1/projects/" + projectID + "/actions"
			if err := newClient().do(cmd.Context(), "POST", path, input, &a); err != nil {
				return err
			}
			return printJSONOrTable(a)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "card name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "initial status (defaults to the workflow default)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner text")
	cmd.Flags().StringVar(&due, "due", "", "due date (2006-01-02 or RFC3339)")
	cmd.Flags().StringArrayVar(&tags, "tag", []string{}, "tag (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func actionUpdateCmd() *cobra.Command {
	var name, description, owner, due string
	var tags []string
	var expected int64
	cmd := &cobra.Command{
		Use:   "update <action-id>",
		Short: "Patch card fields",
		Long:  "Patches only the flags you pass. --expected pins the version the patch applies to; 0 uses the version the server last showed you.",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			input := model.UpdateActionInput{ExpectedLastEventID: expected}
			if cmd.Flags().Changed("name") {
				input.Name = &name
			}
			if cmd.Flags().Changed("description") {
				input.Description = &description
			}
			if cmd.Flags().Changed("owner") {
				input.Owner = &owner
			}
			if cmd.Flags().Changed("due") {
				dueAt, err := parseDue(due)
				if err != nil {
					return err
				}
				input.DueAt = dueAt
			}
			if cmd.Flags().Changed("tag") {
				input.Tags = &tags
			}
			var a model.ProjectAction
			path := "/api/v1/projects/" + projectID + "/actions/" + args[0]
			if err := newClient().do(cmd.Context(), "PATCH", path, input, &a); err != nil {
				return err
			}
			return printJSONOrTable(a)
		},
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&name, "name", "", "card name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&owner, "owner", "", "owner text (empty clears)")
	cmd.Flags().StringVar(&due, "due", "", "due date (2006-01-02 or RFC3339)")
	cmd.Flags().StringArrayVar(&tags, "tag", []string{}, "replacement tag set (repeatable)")
	cmd.Flags().Int64Var(&expected, "expected", 0, "expected last_event_id")
	return cmd
}

func actionTransitionCmd() *cobra.Command {
	var toStatus string
	cmd := &cobra.Command{
		Use:   "transition <action-id>",
		Short: "Move a card to a status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			body := map[string]string{"to_status": toStatus}
			var reply transitionReply
			path := "/api/v1/projects/" + projectID + "/actions/" + args[0] + "/transition"
			if err := newClient().do(cmd.Context(), "POST", path, body, &reply); err != nil {
				return err
			}
			return printMoveReply(reply)
		},
	}
	cmd.Flags().StringVar(&toStatus, "to", "", "target status")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func actionMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <action-id> <left|right>",
		Short: "Move a card one column left or right",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			var direction int
			switch args[1] {
			case "left":
				direction = -1
			case "right":
				direction = 1
			default:
				return fmt.Errorf("direction must be left or right, got %q", args[1])
			}
			body := map[string]int{"direction": direction}
			var reply transitionReply
			path := "/api/v1/projects/" + projectID + "/actions/" + args[0] + "/move"
			if err := newClient().do(cmd.Context(), "POST", path, body, &reply); err != nil {
				return err
			}
			return printMoveReply(reply)
		},
	}
}

// --- comment ---

func commentCmd() *cobra.Command {
	var body, replyTo string
	cmd := &cobra.Command{
		Use:   "comment <action-id>",
		Short: "Comment on a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			input := model.CommentInput{Body: body, ParentCommentID: replyTo}
			var c model.Comment
			path := "/api/v1/projects/" + projectID + "/actions/" + args[0] + "/comments"
			if err := newClient().do(cmd.Context(), "POST", path, input, &c); err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "comment text")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "parent comment id")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

// --- member ---

func memberCmd() *cobra.Command {
	mem := &cobra.Command{Use: "member", Short: "Manage project members"}
	mem.AddCommand(memberListCmd())
	mem.AddCommand(memberAddCmd())
	mem.AddCommand(memberRemoveCmd())
	return mem
}

func memberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List project members",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			var members []model.Member
			path := "/api/v1/projects/" + projectID + "/members"
			if err := newClient().do(cmd.Context(), "GET", path, nil, &members); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(members)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "Subject", "Name", "Email", "Role"})
			for _, m := range members {
				tw.AppendRow(table.Row{m.ID, m.SubjectID, m.DisplayName, m.Email, m.Role})
			}
			tw.Render()
			return nil
		},
	}
}

func memberAddCmd() *cobra.Command {
	var subject, name, email, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			input := model.MemberInput{
				SubjectID:   subject,
				DisplayName: name,
				Email:       email,
				Role:        model.MemberRole(role),
			}
			var m model.Member
			path := "/api/v1/projects/" + projectID + "/members"
			if err := newClient().do(cmd.Context(), "POST", path, input, &m); err != nil {
				return err
			}
			return printJSONOrTable(m)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject id from the identity provider")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&role, "role", "editor", "role (owner, editor, viewer)")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func memberRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <member-id>",
		Short: "Remove a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			path := "/api/v1/projects/" + projectID + "/members/" + args[0]
			if err := newClient().do(cmd.Context(), "DELETE", path, nil, nil); err != nil {
				return err
			}
			fmt.Println("removed")
			return nil
		},
	}
}

// --- backfill ---

func backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Run the legacy backfill for a project",
		Long:  "Evaluates the backfill gate and, when the project has legacy tasks and no native actions yet, imports them. Safe to run repeatedly; a project that already ran reports without importing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			var outcome model.BackfillOutcome
			path := "/api/v1/projects/" + projectID + "/backfill"
			if err := newClient().do(cmd.Context(), "POST", path, nil, &outcome); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(outcome)
			}
			if !outcome.Ran {
				fmt.Println("backfill not needed")
				return nil
			}
			fmt.Printf("created %d, already present %d, skipped %d\n",
				outcome.Created, outcome.AlreadyPresent, outcome.Skipped)
			if outcome.Error != "" {
				fmt.Printf("aborted: %s\n", outcome.Error)
			}
			return nil
		},
	}
}

// --- view ---

func viewCmd() *cobra.Command {
	v := &cobra.Command{Use: "view", Short: "Manage your presentation state"}
	v.AddCommand(viewSetCmd())
	return v
}

func viewSetCmd() *cobra.Command {
	var tag, open string
	cmd := &cobra.Command{
		Use:   "set <list|board>",
		Short: "Store your presentation mode for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			state := model.ViewState{
				Mode:         model.PresentationMode(args[0]),
				Tag:          tag,
				OpenActionID: open,
			}
			var reply viewReply
			path := "/api/v1/projects/" + projectID + "/view"
			if err := newClient().do(cmd.Context(), "PUT", path, state, &reply); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(reply)
			}
			fmt.Printf("mode: %s  query: %s\n", reply.ViewState.Mode, reply.Query)
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "tag filter for the query echo")
	cmd.Flags().StringVar(&open, "open", "", "open card id for the query echo")
	return cmd
}

// --- helpers ---

func requireProject() (string, error) {
	projectID := strings.TrimSpace(viper.GetString("project"))
	if projectID == "" {
		return "", fmt.Errorf("project id required; use --project or set BOARDWALK_PROJECT")
	}
	return projectID, nil
}

func printMoveReply(reply transitionReply) error {
	if viper.GetBool("json") {
		return printJSON(reply)
	}
	a := reply.Action
	if !reply.Moved {
		fmt.Printf("no move: %s stays in %s (v%d)\n", a.ID, a.ActionStatus, a.LastEventID)
		return nil
	}
	fmt.Printf("%s -> %s (v%d)\n", a.ID, a.ActionStatus, a.LastEventID)
	return nil
}

func printCommentTree(thread map[string][]model.Comment, c model.Comment, indent string) {
	fmt.Printf("%s%s (%s): %s\n", indent, c.Author, c.CreatedAt.Format("2006-01-02 15:04"), c.Body)
	for _, child := range thread[c.ID] {
		printCommentTree(thread, child, indent+"  ")
	}
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDue(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("cannot parse due date %q (want 2006-01-02 or RFC3339)", s)
}

func formatDue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
