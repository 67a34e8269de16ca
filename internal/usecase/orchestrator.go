package usecase

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/i2y/nlquery/internal/domain"
)

// OrchestratorState is the position of the conversation loop.
type OrchestratorState int32

const (
	OrchestratorIdle OrchestratorState = iota
	OrchestratorAwaitingQuestion
	OrchestratorTranslating
	OrchestratorInvoking
	OrchestratorExplaining
	OrchestratorStopped
)

func (s OrchestratorState) String() string {
	switch s {
	case OrchestratorIdle:
		return "idle"
	case OrchestratorAwaitingQuestion:
		return "awaiting_question"
	case OrchestratorTranslating:
		return "translating"
	case OrchestratorInvoking:
		return "invoking"
	case OrchestratorExplaining:
		return "explaining"
	case OrchestratorStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// QuestionPrompt is written before every question is read.
const QuestionPrompt = "\nEnter your question (q to quit): "

var quitWords = map[string]struct{}{"q": {}, "quit": {}, "exit": {}}

// Answer is the outcome of one question.
type Answer struct {
	Question    string
	SQL         string
	Result      domain.ToolResult
	Explanation string
}

// Orchestrator runs the question → SQL → result → explanation loop over an
// open session.
type Orchestrator struct {
	client   CapabilityClient
	reasoner Reasoner
	in       io.Reader
	out      io.Writer
	state    atomic.Int32
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator reading questions from in and
// writing answers to out.
func NewOrchestrator(client CapabilityClient, reasoner Reasoner, in io.Reader, out io.Writer, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		client:   client,
		reasoner: reasoner,
		in:       in,
		out:      out,
		logger:   logger.With("usecase", "Orchestrator"),
	}
}

// State returns the current loop state.
func (o *Orchestrator) State() OrchestratorState {
	return OrchestratorState(o.state.Load())
}

func (o *Orchestrator) setState(s OrchestratorState) {
	o.state.Store(int32(s))
	o.logger.Debug("Orchestrator state changed", slog.String("state", s.String()))
}

// Run logs the schema and tool catalog, then answers questions until the
// user quits, input ends or ctx is cancelled (all return nil). It returns an
// error only when the session dies.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.setState(OrchestratorIdle)
	defer o.setState(OrchestratorStopped)

	if err := o.logCatalog(ctx); err != nil && IsSessionFatal(err) {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(o.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		o.setState(OrchestratorAwaitingQuestion)
		fmt.Fprint(o.out, QuestionPrompt)

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			o.logger.Info("Context cancelled, stopping")
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			o.logger.Info("Input closed, stopping")
			return nil
		}

		question := strings.TrimSpace(line)
		if _, quit := quitWords[strings.ToLower(question)]; quit {
			o.logger.Info("Quit requested")
			return nil
		}
		if question == "" {
			continue
		}

		answer, err := o.Ask(ctx, question)
		if err != nil {
			if IsSessionFatal(err) {
				o.logger.Error("Session lost, stopping", slog.Any("error", err))
				fmt.Fprintf(o.out, "Session lost: %v\n", err)
				return err
			}
			o.logger.Warn("Question failed", slog.String("question", question), slog.Any("error", err))
			fmt.Fprintf(o.out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintf(o.out, "SQL: %s\n%s\n", answer.SQL, answer.Explanation)
	}
}

// Ask runs one full iteration for question.
func (o *Orchestrator) Ask(ctx context.Context, question string) (Answer, error) {
	log := o.logger.With(slog.String("question", question))
	log.Info("User question")

	tools, err := o.client.ListTools(ctx)
	if err != nil {
		return Answer{}, fmt.Errorf("failed to list tools: %w", err)
	}

	prompt, err := o.client.GetPrompt(ctx, SQLPromptName, map[string]string{QuestionArgName: question})
	if err != nil {
		return Answer{}, fmt.Errorf("failed to get prompt %s: %w", SQLPromptName, err)
	}
	log.Debug("Got SQL prompt", slog.String("prompt", prompt))

	o.setState(OrchestratorTranslating)
	call, err := o.reasoner.Translate(ctx, prompt, tools, QueryToolName)
	if err != nil {
		return Answer{}, err
	}
	sql, _ := call.Arguments[SQLArgName].(string)
	log.Info("Generated SQL", slog.String("sql", sql))

	o.setState(OrchestratorInvoking)
	result, err := o.client.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		return Answer{}, fmt.Errorf("failed to call tool %s: %w", call.Name, err)
	}
	log.Info("Query result", slog.String("content", result.Content), slog.Bool("is_error", result.IsError))

	o.setState(OrchestratorExplaining)
	explanation, err := o.reasoner.Explain(ctx, question, result.Content)
	if err != nil {
		return Answer{}, fmt.Errorf("failed to explain result: %w", err)
	}

	return Answer{Question: question, SQL: sql, Result: result, Explanation: explanation}, nil
}

func (o *Orchestrator) logCatalog(ctx context.Context) error {
	seq, err := o.client.ReadResource(ctx, SchemaURI)
	if err != nil {
		o.logger.Warn("Failed to read database schema", slog.Any("error", err))
		return err
	}
	var schema []string
	for line, err := range seq {
		if err != nil {
			o.logger.Warn("Database schema read incomplete", slog.Any("error", err))
			return err
		}
		schema = append(schema, line)
	}
	o.logger.Info("Database schema:\n" + strings.Join(schema, "\n"))

	tools, err := o.client.ListTools(ctx)
	if err != nil {
		o.logger.Warn("Failed to list tools", slog.Any("error", err))
		return err
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	o.logger.Info("Available tools", slog.Any("tools", names))
	return nil
}

// IsSessionFatal reports whether err means the session can no longer serve
// requests.
func IsSessionFatal(err error) bool {
	return errors.Is(err, domain.ErrTransport) ||
		errors.Is(err, domain.ErrCancelled) ||
		errors.Is(err, domain.ErrConnection)
}
