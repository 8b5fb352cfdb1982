// Package roleplay drives the simulated prospect: it composes the directive,
// calls the completion backend and parses the termination tag out of the
// reply before the turn pair is persisted.
package roleplay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/salesdojo/internal/apperr"
	"github.com/kalambet/salesdojo/internal/engine"
	"github.com/kalambet/salesdojo/internal/storage"
)

const defaultTimeout = 60 * time.Second

// prospectTemperature keeps prospect replies varied between sessions.
var prospectTemperature = 0.8

// TurnStore persists a rep message and the prospect reply as one unit.
type TurnStore interface {
	AppendTurn(ctx context.Context, sessionID string, afterSeq int, rep, reply string, at time.Time) ([]storage.Message, error)
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Model    string
	Timeout  time.Duration
	Selector Selector
	Now      func() time.Time
}

// Engine runs one roleplay turn at a time.
type Engine struct {
	completer engine.Engine
	store     TurnStore
	catalog   *Catalog
	model     string
	timeout   time.Duration
	selector  Selector
	now       func() time.Time
}

// NewEngine creates an Engine. A nil catalog selects DefaultCatalog.
func NewEngine(completer engine.Engine, store TurnStore, catalog *Catalog, opts Options) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	e := &Engine{
		completer: completer,
		store:     store,
		catalog:   catalog,
		model:     opts.Model,
		timeout:   opts.Timeout,
		selector:  opts.Selector,
		now:       opts.Now,
	}
	if e.timeout <= 0 {
		e.timeout = defaultTimeout
	}
	if e.selector == nil {
		e.selector = RandomSelector
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Catalog returns the catalog the engine composes directives from.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Turn is the result of one rep message.
type Turn struct {
	Reply
	Persona         string            `json:"persona"`
	DifficultyLabel string            `json:"difficulty_label"`
	Messages        []storage.Message `json:"messages"`
}

// TakeTurn sends repMessage to the prospect and persists the pair. transcript
// must be the session's full history in sequence order. Empty persona or
// difficultyLabel are chosen with the engine's Selector.
//
// A failed or timed-out completion returns *apperr.ProviderError and writes
// nothing. A failed write after a successful completion returns
// *apperr.PersistError carrying the clean reply.
func (e *Engine) TakeTurn(ctx context.Context, sess storage.Session, transcript []storage.Message, repMessage, persona, difficultyLabel string) (Turn, error) {
	if strings.TrimSpace(repMessage) == "" {
		return Turn{}, apperr.Invalid("message is required")
	}
	ind, ok := e.catalog.Industry(sess.Industry)
	if !ok {
		return Turn{}, apperr.Invalid("unknown industry %q", sess.Industry)
	}
	if persona == "" {
		persona = e.catalog.PickPersona(e.selector)
	}
	if difficultyLabel == "" {
		difficultyLabel = e.catalog.PickDifficulty(e.selector)
	}

	req := engine.Request{
		Model:       e.model,
		System:      BuildDirective(ind, persona, difficultyLabel, e.catalog.DifficultyDescription(difficultyLabel)),
		Messages:    toEngineMessages(transcript, repMessage),
		Temperature: &prospectTemperature,
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	raw, err := e.completer.Complete(callCtx, req)
	cancel()
	if err != nil {
		return Turn{}, &apperr.ProviderError{Op: "roleplay turn", Err: err}
	}

	reply := ParseReply(raw)

	afterSeq := 0
	if n := len(transcript); n > 0 {
		afterSeq = transcript[n-1].Sequence
	}

	msgs, err := e.store.AppendTurn(ctx, sess.ID, afterSeq, repMessage, reply.Text, e.now())
	if err != nil {
		slog.Warn("turn reply not persisted", "session_id", sess.ID, "reply", reply.Text, "error", err)
		return Turn{}, &apperr.PersistError{SessionID: sess.ID, Output: reply.Text, Err: translateStoreErr(err)}
	}

	slog.Debug("turn recorded", "session_id", sess.ID, "sequence", msgs[len(msgs)-1].Sequence, "done", reply.Done, "outcome", reply.Outcome)
	return Turn{
		Reply:           reply,
		Persona:         persona,
		DifficultyLabel: difficultyLabel,
		Messages:        msgs,
	}, nil
}

func toEngineMessages(transcript []storage.Message, repMessage string) []engine.Message {
	msgs := make([]engine.Message, 0, len(transcript)+1)
	for _, m := range transcript {
		msgs = append(msgs, engine.Message{Role: m.Role, Content: m.Content})
	}
	return append(msgs, engine.Message{Role: engine.RoleUser, Content: repMessage})
}

func translateStoreErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%w: session changed or ended while the turn was in flight", apperr.ErrConflict)
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound("session")
	default:
		return err
	}
}
