package trainer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/salesdojo/internal/apperr"
	"github.com/kalambet/salesdojo/internal/engine"
	"github.com/kalambet/salesdojo/internal/grading"
	"github.com/kalambet/salesdojo/internal/roleplay"
	"github.com/kalambet/salesdojo/internal/storage"
)

// scriptedCompleter answers roleplay requests with the next queued reply and
// grading requests (those carrying a schema) with gradeReply.
type scriptedCompleter struct {
	mu         sync.Mutex
	replies    []string
	gradeReply string
	err        error

	turnCalls  int
	gradeCalls int
}

func (c *scriptedCompleter) Name() string { return "scripted" }

func (c *scriptedCompleter) Complete(_ context.Context, req engine.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	if req.Schema != nil {
		c.gradeCalls++
		return c.gradeReply, nil
	}
	c.turnCalls++
	if len(c.replies) == 0 {
		return "Uh huh.", nil
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r, nil
}

const report14 = `{"scores":{"opener":3,"discovery":2,"objections":4,"confidence":3,"close":2},"summary":"Good handling of the objection."}`

var (
	ctx      = context.Background()
	fixedNow = time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T, c *scriptedCompleter) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	seed := []storage.Profile{
		{UserID: "rep-a", CompanyID: "acme", DisplayName: "Ana", Level: 1},
		{UserID: "rival", CompanyID: "globex", DisplayName: "Rita", Level: 1},
	}
	for _, p := range seed {
		if _, _, err := store.EnsureProfile(ctx, p); err != nil {
			t.Fatalf("seeding profile %s: %v", p.UserID, err)
		}
	}

	svc := New(Config{
		Store:        store,
		Engine:       c,
		ChatModel:    "chat",
		GradingModel: "grader",
		Selector:     roleplay.FixedSelector(0),
		Now:          func() time.Time { return fixedNow },
	})
	return svc, store
}

func mustStart(t *testing.T, svc *Service, userID string, req StartRequest) storage.Session {
	t.Helper()
	sess, err := svc.StartSession(ctx, userID, req)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return sess
}

func mustTurn(t *testing.T, svc *Service, userID, sessionID, msg string) roleplay.Turn {
	t.Helper()
	turn, err := svc.TakeTurn(ctx, userID, sessionID, TurnRequest{Message: msg})
	if err != nil {
		t.Fatalf("TakeTurn(%q): %v", msg, err)
	}
	return turn
}

func TestFullSessionFlow(t *testing.T) {
	c := &scriptedCompleter{
		replies:    []string{"Who are you with?", "Fine, sign me up. [[END:sale]]"},
		gradeReply: report14,
	}
	svc, _ := newTestService(t, c)

	sess := mustStart(t, svc, "rep-a", StartRequest{Industry: "pest", Difficulty: 3})
	if sess.CompanyID != "acme" {
		t.Errorf("CompanyID = %q, want acme", sess.CompanyID)
	}

	t1 := mustTurn(t, svc, "rep-a", sess.ID, "Hi, I'm with Bug Busters.")
	if t1.Done {
		t.Error("first turn ended the conversation")
	}
	if t1.Persona != sess.Persona {
		t.Errorf("Persona = %q, want pinned %q", t1.Persona, sess.Persona)
	}

	t2 := mustTurn(t, svc, "rep-a", sess.ID, "We guarantee no ants in 30 days.")
	if !t2.Done || t2.Outcome != roleplay.OutcomeSale || t2.Text != "Fine, sign me up." {
		t.Errorf("second turn = %+v", t2.Reply)
	}

	res, err := svc.Grade(ctx, "rep-a", sess.ID)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.XPEarned != 35 || res.NewTotalXP != 35 || res.NewLevel != 1 {
		t.Errorf("grade = xp %d total %d level %d, want 35/35/1", res.XPEarned, res.NewTotalXP, res.NewLevel)
	}
	if res.AlreadyGraded {
		t.Error("AlreadyGraded = true on first grade")
	}
	if res.Report.ID == 0 {
		t.Error("Report.ID = 0, want stored id")
	}

	detail, err := svc.GetSession(ctx, "rep-a", sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if detail.Session.EndedAt == nil || !detail.Session.EndedAt.Equal(fixedNow) {
		t.Errorf("EndedAt = %v, want %v", detail.Session.EndedAt, fixedNow)
	}
	if len(detail.Messages) != 4 {
		t.Errorf("len(Messages) = %d, want 4", len(detail.Messages))
	}
	if detail.Report == nil || detail.Report.XPEarned != 35 {
		t.Errorf("Report = %+v, want stored report with 35 XP", detail.Report)
	}

	standing, err := svc.Profile(ctx, "rep-a")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if standing.TotalXP != 35 || standing.XPToNextLevel != 65 {
		t.Errorf("standing = total %d, to next %d; want 35, 65", standing.TotalXP, standing.XPToNextLevel)
	}

	// Turns on an ended session conflict.
	if _, err := svc.TakeTurn(ctx, "rep-a", sess.ID, TurnRequest{Message: "One more thing"}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("turn after grade: error = %v, want ErrConflict", err)
	}

	// Re-grading returns the stored report without credit or a provider call.
	again, err := svc.Grade(ctx, "rep-a", sess.ID)
	if err != nil {
		t.Fatalf("second Grade: %v", err)
	}
	if !again.AlreadyGraded || again.NewTotalXP != 35 {
		t.Errorf("regrade = %+v, want stored report and total 35", again)
	}
	if c.gradeCalls != 1 {
		t.Errorf("grade calls = %d, want 1", c.gradeCalls)
	}

	// End is an idempotent no-op after evaluation.
	ended, err := svc.EndSession(ctx, "rep-a", sess.ID)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if !ended.EndedAt.Equal(fixedNow) {
		t.Errorf("EndedAt after End = %v, want %v", ended.EndedAt, fixedNow)
	}
}

func TestGrade_LevelUp(t *testing.T) {
	c := &scriptedCompleter{gradeReply: report14}
	svc, store := newTestService(t, c)
	if _, _, err := store.EnsureProfile(ctx, storage.Profile{UserID: "vet", CompanyID: "acme", DisplayName: "Vic", TotalXP: 90, Level: 1}); err != nil {
		t.Fatalf("seeding profile: %v", err)
	}

	sess := mustStart(t, svc, "vet", StartRequest{Industry: "solar", Difficulty: 3})
	mustTurn(t, svc, "vet", sess.ID, "Hello!")

	res, err := svc.Grade(ctx, "vet", sess.ID)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.NewTotalXP != 125 || res.NewLevel != 2 || !res.LeveledUp {
		t.Errorf("grade = total %d level %d leveled %v, want 125/2/true", res.NewTotalXP, res.NewLevel, res.LeveledUp)
	}
}

func TestGrade_DegradedCreditsNothing(t *testing.T) {
	c := &scriptedCompleter{gradeReply: "You did great, 10/10!"}
	svc, _ := newTestService(t, c)

	sess := mustStart(t, svc, "rep-a", StartRequest{Industry: "pest", Difficulty: 5})
	mustTurn(t, svc, "rep-a", sess.ID, "Hi")

	res, err := svc.Grade(ctx, "rep-a", sess.ID)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if !res.Report.Degraded || res.Report.Summary != grading.FallbackSummary {
		t.Errorf("report = %+v, want degraded fallback", res.Report)
	}
	if res.XPEarned != 0 || res.NewTotalXP != 0 {
		t.Errorf("credited xp %d total %d, want 0/0", res.XPEarned, res.NewTotalXP)
	}

	detail, err := svc.GetSession(ctx, "rep-a", sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !detail.Session.Ended() {
		t.Error("degraded evaluation did not end the session")
	}
}

func TestGrade_ProviderErrorLeavesSessionOpen(t *testing.T) {
	c := &scriptedCompleter{gradeReply: report14}
	svc, _ := newTestService(t, c)

	sess := mustStart(t, svc, "rep-a", StartRequest{Industry: "pest", Difficulty: 2})
	mustTurn(t, svc, "rep-a", sess.ID, "Hi")

	c.err = errors.New("upstream 503")
	if _, err := svc.Grade(ctx, "rep-a", sess.ID); !apperr.IsProvider(err) {
		t.Fatalf("error = %v, want ProviderError", err)
	}

	detail, err := svc.GetSession(ctx, "rep-a", sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if detail.Session.Ended() || detail.Report != nil {
		t.Errorf("failed grade wrote state: ended %v report %+v", detail.Session.Ended(), detail.Report)
	}

	// Retry succeeds once the provider recovers.
	c.err = nil
	res, err := svc.Grade(ctx, "rep-a", sess.ID)
	if err != nil {
		t.Fatalf("retry Grade: %v", err)
	}
	if res.XPEarned != 31 {
		t.Errorf("XPEarned = %d, want 31", res.XPEarned)
	}
}

func TestGrade_EmptyTranscript(t *testing.T) {
	c := &scriptedCompleter{gradeReply: report14}
	svc, _ := newTestService(t, c)

	sess := mustStart(t, svc, "rep-a", StartRequest{Industry: "pest", Difficulty: 1})

	if _, err := svc.Grade(ctx, "rep-a", sess.ID); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
	if c.gradeCalls != 0 {
		t.Errorf("grade calls = %d, want 0", c.gradeCalls)
	}
}

func TestCrossTenantAccessForbidden(t *testing.T) {
	c := &scriptedCompleter{gradeReply: report14}
	svc, _ := newTestService(t, c)

	sess := mustStart(t, svc, "rep-a", StartRequest{Industry: "pest", Difficulty: 1})

	if _, err := svc.TakeTurn(ctx, "rival", sess.ID, TurnRequest{Message: "Hi"}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("TakeTurn: error = %v, want ErrForbidden", err)
	}
	if _, err := svc.Grade(ctx, "rival", sess.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Grade: error = %v, want ErrForbidden", err)
	}
	if _, err := svc.GetSession(ctx, "rival", sess.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("GetSession: error = %v, want ErrForbidden", err)
	}
	if _, err := svc.EndSession(ctx, "rival", sess.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("EndSession: error = %v, want ErrForbidden", err)
	}
	if c.turnCalls != 0 {
		t.Errorf("turn calls = %d, want 0", c.turnCalls)
	}
}

func TestForeignCallerDoesNotWaitOnOwnerLock(t *testing.T) {
	c := &scriptedCompleter{gradeReply: report14}
	svc, _ := newTestService(t, c)

	sess := mustStart(t, svc, "rep-a", StartRequest{Industry: "pest", Difficulty: 1})

	// The owner is mid-turn.
	unlock, err := svc.sessions.Lock(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()

	if _, err := svc.TakeTurn(waitCtx, "rival", sess.ID, TurnRequest{Message: "Hi"}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("TakeTurn: error = %v, want ErrForbidden", err)
	}
	if _, err := svc.Grade(waitCtx, "rival", sess.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Grade: error = %v, want ErrForbidden", err)
	}
	if _, err := svc.EndSession(waitCtx, "rival", sess.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("EndSession: error = %v, want ErrForbidden", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("foreign calls took %v, want immediate refusal", elapsed)
	}
}

func TestTakeTurn_PersonaOverride(t *testing.T) {
	c := &scriptedCompleter{}
	svc, _ := newTestService(t, c)

	sess := mustStart(t, svc, "rep-a", StartRequest{Industry: "solar", Difficulty: 2, Persona: "retired electrician"})

	if turn := mustTurn(t, svc, "rep-a", sess.ID, "Hi"); turn.Persona != "retired electrician" {
		t.Errorf("Persona = %q, want pinned persona", turn.Persona)
	}

	turn, err := svc.TakeTurn(ctx, "rep-a", sess.ID, TurnRequest{Message: "Hello?", Persona: "curious teenager"})
	if err != nil {
		t.Fatalf("TakeTurn: %v", err)
	}
	if turn.Persona != "curious teenager" {
		t.Errorf("Persona = %q, want override", turn.Persona)
	}
}

func TestTakeTurn_ConcurrentCallsAreSerialized(t *testing.T) {
	c := &scriptedCompleter{}
	svc, store := newTestService(t, c)

	sess := mustStart(t, svc, "rep-a", StartRequest{Industry: "pest", Difficulty: 1})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.TakeTurn(ctx, "rep-a", sess.ID, TurnRequest{Message: "knock knock"})
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("TakeTurn %d: %v", i, err)
		}
	}

	msgs, err := store.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 8 {
		t.Fatalf("len(msgs) = %d, want 8", len(msgs))
	}
	for i, m := range msgs {
		wantRole := storage.RoleUser
		if i%2 == 1 {
			wantRole = storage.RoleAssistant
		}
		if m.Sequence != i+1 || m.Role != wantRole {
			t.Errorf("msgs[%d] = seq %d role %s, want seq %d role %s", i, m.Sequence, m.Role, i+1, wantRole)
		}
	}
}

func TestLeaderboard_Ordering(t *testing.T) {
	svc, store := newTestService(t, &scriptedCompleter{})
	for _, p := range []storage.Profile{
		{UserID: "p400", CompanyID: "wonka", DisplayName: "Dana", TotalXP: 400, Level: 3},
		{UserID: "p500", CompanyID: "wonka", DisplayName: "Eli", TotalXP: 500, Level: 3},
		{UserID: "p10", CompanyID: "wonka", DisplayName: "Fay", TotalXP: 10, Level: 4},
		{UserID: "other", CompanyID: "acme2", DisplayName: "Gus", TotalXP: 9000, Level: 10},
	} {
		if _, _, err := store.EnsureProfile(ctx, p); err != nil {
			t.Fatalf("seeding profile %s: %v", p.UserID, err)
		}
	}

	got, err := svc.Leaderboard(ctx, "wonka", 0)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	want := []storage.LeaderboardEntry{
		{UserID: "p10", DisplayName: "Fay", TotalXP: 10, Level: 4},
		{UserID: "p500", DisplayName: "Eli", TotalXP: 500, Level: 3},
		{UserID: "p400", DisplayName: "Dana", TotalXP: 400, Level: 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Leaderboard mismatch (-want +got):\n%s", diff)
	}

	top, err := svc.Leaderboard(ctx, "wonka", 2)
	if err != nil {
		t.Fatalf("Leaderboard(limit 2): %v", err)
	}
	if diff := cmp.Diff(want[:2], top); diff != "" {
		t.Errorf("Leaderboard(limit 2) mismatch (-want +got):\n%s", diff)
	}

	if _, err := svc.Leaderboard(ctx, "", 10); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("empty company: error = %v, want ErrInvalidArgument", err)
	}
}

func TestCallerLeaderboard_UsesCallerTenant(t *testing.T) {
	svc, _ := newTestService(t, &scriptedCompleter{})

	board, err := svc.CallerLeaderboard(ctx, "rival", 0)
	if err != nil {
		t.Fatalf("CallerLeaderboard: %v", err)
	}
	if len(board) != 1 || board[0].UserID != "rival" {
		t.Errorf("board = %+v, want only rival", board)
	}

	if _, err := svc.CallerLeaderboard(ctx, "nobody", 0); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown caller: error = %v, want ErrNotFound", err)
	}
}

func TestRegisterProfile(t *testing.T) {
	svc, _ := newTestService(t, &scriptedCompleter{})

	st, created, err := svc.RegisterProfile(ctx, "fresh", "acme", "Fran")
	if err != nil {
		t.Fatalf("RegisterProfile: %v", err)
	}
	if !created || st.Level != 1 || st.XPToNextLevel != 100 {
		t.Errorf("standing = %+v created %v, want new level 1 with 100 to next", st, created)
	}

	sess := mustStart(t, svc, "fresh", StartRequest{Industry: "health_insurance", Difficulty: 4})
	if sess.CompanyID != "acme" {
		t.Errorf("CompanyID = %q, want acme", sess.CompanyID)
	}

	list, err := svc.ListSessions(ctx, "fresh", 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 1 || list[0].ID != sess.ID {
		t.Errorf("list = %+v, want the one session", list)
	}
}
