package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/salesdojo/internal/config"
	"github.com/kalambet/salesdojo/internal/profile"
	"github.com/kalambet/salesdojo/internal/roleplay"
	"github.com/kalambet/salesdojo/internal/storage"
	"github.com/kalambet/salesdojo/internal/trainer"
)

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List industries, personas and difficulty descriptors",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/catalog")
		if err != nil {
			return err
		}
		var cat roleplay.Catalog
		if err := decodeJSON(resp, &cat); err != nil {
			return err
		}

		fmt.Fprintln(stdout, colorize(colorBold, "Industries"))
		for _, ind := range cat.Industries {
			fmt.Fprintf(stdout, "  %-18s %s\n", colorize(colorCyan, ind.Key), ind.Name)
		}
		fmt.Fprintln(stdout, colorize(colorBold, "\nDifficulty descriptors"))
		for _, d := range cat.Difficulties {
			fmt.Fprintf(stdout, "  %-10s %s\n", d.Label, d.Description)
		}
		fmt.Fprintf(stdout, "\n%d personas available\n", len(cat.Personas))
		return nil
	},
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start, continue and grade practice sessions",
}

func addStartFlags(cmd *cobra.Command) {
	cmd.Flags().String("industry", "", "industry key (see `salesdojo catalog`)")
	cmd.Flags().Int("difficulty", 2, "difficulty tier 1-5")
	cmd.Flags().String("persona", "", "prospect persona (default: random)")
	cmd.Flags().String("label", "", "difficulty descriptor, e.g. skeptical (default: random)")
	cmd.Flags().String("company", "", "company id to register under if you have no profile yet")
	cmd.Flags().String("name", "", "display name to register with")
	cmd.MarkFlagRequired("industry")
}

func startRequestFromFlags(cmd *cobra.Command) trainer.StartRequest {
	industry, _ := cmd.Flags().GetString("industry")
	difficulty, _ := cmd.Flags().GetInt("difficulty")
	persona, _ := cmd.Flags().GetString("persona")
	label, _ := cmd.Flags().GetString("label")
	company, _ := cmd.Flags().GetString("company")
	name, _ := cmd.Flags().GetString("name")
	return trainer.StartRequest{
		Industry:        industry,
		Difficulty:      difficulty,
		Persona:         persona,
		DifficultyLabel: label,
		CompanyID:       company,
		DisplayName:     name,
	}
}

func startSession(ctx context.Context, client *apiClient, req trainer.StartRequest) (storage.Session, error) {
	resp, err := client.post(ctx, "/sessions", req)
	if err != nil {
		return storage.Session{}, err
	}
	var sess storage.Session
	if err := decodeJSON(resp, &sess); err != nil {
		return storage.Session{}, err
	}
	return sess, nil
}

func takeTurn(ctx context.Context, client *apiClient, sessionID, message string) (roleplay.Turn, error) {
	resp, err := client.post(ctx, "/sessions/"+sessionID+"/turns", trainer.TurnRequest{Message: message})
	if err != nil {
		return roleplay.Turn{}, err
	}
	var turn roleplay.Turn
	if err := decodeJSON(resp, &turn); err != nil {
		return roleplay.Turn{}, err
	}
	return turn, nil
}

func gradeSession(ctx context.Context, client *apiClient, sessionID string) (trainer.GradeResult, error) {
	resp, err := client.post(ctx, "/sessions/"+sessionID+"/grade", nil)
	if err != nil {
		return trainer.GradeResult{}, err
	}
	var res trainer.GradeResult
	if err := decodeJSON(resp, &res); err != nil {
		return trainer.GradeResult{}, err
	}
	return res, nil
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new practice session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		sess, err := startSession(cmd.Context(), client, startRequestFromFlags(cmd))
		if err != nil {
			return err
		}

		printSuccess("Session %s started", sess.ID)
		printStatus("Industry", "%s", sess.Industry)
		printStatus("Difficulty", "%d (%s)", sess.Difficulty, sess.DifficultyLabel)
		printStatus("Prospect", "%s", sess.Persona)
		fmt.Fprintln(stdout, sess.ID)
		return nil
	},
}

var sessionSayCmd = &cobra.Command{
	Use:   "say <session-id> <message>",
	Short: "Say something to the prospect",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		turn, err := takeTurn(cmd.Context(), client, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}

		printProspect(stdout, turn.Text)
		if turn.Done {
			printOutcome(stdout, turn.Outcome)
		}
		return nil
	},
}

var sessionGradeCmd = &cobra.Command{
	Use:   "grade <session-id>",
	Short: "Grade a session and collect XP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		res, err := gradeSession(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printGradeResult(stdout, res)
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session transcript and its score report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sessions/"+args[0])
		if err != nil {
			return err
		}
		var d trainer.SessionDetail
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		}

		printStatus("Session", "%s", d.Session.ID)
		printStatus("Industry", "%s, difficulty %d (%s)", d.Session.Industry, d.Session.Difficulty, d.Session.DifficultyLabel)
		printStatus("Prospect", "%s", d.Session.Persona)
		fmt.Fprintln(stdout)
		for _, m := range d.Messages {
			printMessage(stdout, m)
		}
		if d.Report != nil {
			fmt.Fprintln(stdout)
			printScoreReport(stdout, *d.Report)
			fmt.Fprintf(stdout, "  %d XP earned\n", d.Report.XPEarned)
		}
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/sessions?limit=%d", limit))
		if err != nil {
			return err
		}
		var sessions []storage.Session
		if err := decodeJSON(resp, &sessions); err != nil {
			return err
		}

		if len(sessions) == 0 {
			fmt.Fprintln(stdout, "No sessions yet.")
			return nil
		}
		for _, s := range sessions {
			state := colorize(colorYellow, "open")
			if s.Ended() {
				state = colorize(colorGreen, "graded")
			}
			fmt.Fprintf(stdout, "%s  %s  %-16s d%d  %s\n",
				colorize(colorCyan, shortID(s.ID)),
				s.CreatedAt.Format("2006-01-02 15:04"),
				s.Industry,
				s.Difficulty,
				state,
			)
		}
		return nil
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "Close a graded session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sessions/"+args[0]+"/end", nil)
		if err != nil {
			return err
		}
		var sess storage.Session
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}
		printSuccess("Session %s closed", sess.ID)
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	addStartFlags(sessionStartCmd)
	sessionListCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	sessionShowCmd.Flags().Bool("json", false, "print the raw JSON")

	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionSayCmd)
	sessionCmd.AddCommand(sessionGradeCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionEndCmd)
}

// --- practice ---

var practiceCmd = &cobra.Command{
	Use:   "practice",
	Short: "Run an interactive practice conversation, then grade it",
	Long: `Run an interactive practice conversation, then grade it.

Type your lines at the prompt. The session is graded when the prospect ends
the conversation, when you type /done, or at end of input.

Examples:
  salesdojo practice --industry pest --difficulty 3
  salesdojo practice --industry solar --difficulty 5 --label hostile`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runPractice(cmd.Context(), client, startRequestFromFlags(cmd), os.Stdin, stdout)
	},
}

func init() {
	addStartFlags(practiceCmd)
}

const practiceDoneCommand = "/done"

func runPractice(ctx context.Context, client *apiClient, req trainer.StartRequest, in io.Reader, out io.Writer) error {
	sess, err := startSession(ctx, client, req)
	if err != nil {
		return err
	}
	printStep("You are calling on a %s prospect (%s). Type %s to finish.", sess.Industry, sess.DifficultyLabel, practiceDoneCommand)

	turns := 0
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, colorize(colorBold, "You: "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == practiceDoneCommand {
			break
		}

		turn, err := takeTurn(ctx, client, sess.ID, line)
		if err != nil {
			printError("%v", err)
			continue
		}
		turns++
		printProspect(out, turn.Text)
		if turn.Done {
			printOutcome(out, turn.Outcome)
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	if turns == 0 {
		printWarning("No turns taken; session %s left open and ungraded.", sess.ID)
		return nil
	}

	printStep("Grading...")
	res, err := gradeSession(ctx, client, sess.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	printGradeResult(out, res)
	return nil
}

// --- leaderboard ---

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show your company's leaderboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/leaderboard?limit=%d", limit))
		if err != nil {
			return err
		}
		var entries []storage.LeaderboardEntry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		printLeaderboard(stdout, entries, client.userID)
		return nil
	},
}

func printLeaderboard(w io.Writer, entries []storage.LeaderboardEntry, self string) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No one on the board yet.")
		return
	}
	for i, e := range entries {
		name := e.DisplayName
		if name == "" {
			name = e.UserID
		}
		line := fmt.Sprintf("%3d. %-24s L%-3d %6d XP", i+1, name, e.Level, e.TotalXP)
		if e.UserID == self {
			line = colorize(colorBold, line+"  ← you")
		}
		fmt.Fprintln(w, line)
	}
}

func init() {
	leaderboardCmd.Flags().Int("limit", 0, "maximum number of entries (default: server setting)")
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or register your profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show your level and XP",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profile")
		if err != nil {
			return err
		}
		var st profile.Standing
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		printStanding(stdout, st)
		return nil
	},
}

func printStanding(w io.Writer, st profile.Standing) {
	fmt.Fprintf(w, "%s (%s) at %s\n", colorize(colorBold, st.DisplayName), st.UserID, st.CompanyID)
	fmt.Fprintf(w, "  Level %d, %d XP\n", st.Level, st.TotalXP)
	if st.MaxLevel {
		fmt.Fprintln(w, "  Top level reached.")
		return
	}
	fmt.Fprintf(w, "  %d XP to level %d\n", st.XPToNextLevel, st.NextLevel)
}

var profileRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create your profile in a company",
	RunE: func(cmd *cobra.Command, args []string) error {
		company, _ := cmd.Flags().GetString("company")
		name, _ := cmd.Flags().GetString("name")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/profile", map[string]string{
			"company_id":   company,
			"display_name": name,
		})
		if err != nil {
			return err
		}
		created := resp.StatusCode == 201
		var st profile.Standing
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		if created {
			printSuccess("Registered %s in %s", st.UserID, st.CompanyID)
		} else {
			printWarning("Profile %s already exists", st.UserID)
		}
		printStanding(stdout, st)
		return nil
	},
}

func init() {
	profileRegisterCmd.Flags().String("company", "", "company id")
	profileRegisterCmd.Flags().String("name", "", "display name")
	profileRegisterCmd.MarkFlagRequired("company")
	profileRegisterCmd.MarkFlagRequired("name")

	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileRegisterCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(stdout, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
