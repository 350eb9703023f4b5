package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"stockripper/internal/domain"
)

// Toolbox is the per-task view handed to skill handlers: the provider pool,
// the peer client, and a logger bound with the task's correlation id.
// No ambient globals; everything a handler may touch arrives here.
type Toolbox struct {
	Tools  domain.ToolInvoker
	Peers  domain.PeerCaller
	Logger *slog.Logger
}

// Handler implements one agent skill. It may call tools and peers any number
// of times; whatever it returns or raises is converted into the task's
// terminal state by the processor.
type Handler func(ctx context.Context, tb *Toolbox, task *domain.Task) (string, error)

// Processor is the per-task state machine. It receives a task in Received,
// moves it through Processing, and always resolves it to Completed or Failed.
// No error, panic included, crosses the task-processing boundary unconverted.
type Processor struct {
	tools    domain.ToolInvoker
	peers    domain.PeerCaller
	logger   *slog.Logger
	handlers map[string]Handler
	fallback Handler
}

// NewProcessor builds a processor over the given pool and peer client.
func NewProcessor(tools domain.ToolInvoker, peers domain.PeerCaller, logger *slog.Logger) *Processor {
	return &Processor{
		tools:    tools,
		peers:    peers,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a skill name. Not safe to call once tasks flow;
// registration happens during startup wiring only.
func (p *Processor) Register(skill string, h Handler) {
	p.handlers[skill] = h
}

// RegisterDefault binds the handler used when a task names no skill or an
// unregistered one.
func (p *Processor) RegisterDefault(h Handler) {
	p.fallback = h
}

// Skills returns the registered skill names.
func (p *Processor) Skills() []string {
	out := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		out = append(out, name)
	}
	return out
}

// Process runs the task to a terminal state. The returned task is the same
// pointer, always Completed or Failed on return.
func (p *Processor) Process(ctx context.Context, task *domain.Task) *domain.Task {
	log := p.logger.With("task_id", task.ID, "correlation_id", task.CorrelationID, "skill", task.Skill)

	task.Status = domain.TaskProcessing
	log.Info("task processing started")

	handler := p.handlers[task.Skill]
	if handler == nil {
		handler = p.fallback
	}
	if handler == nil {
		task.Fail(domain.NewDomainError("Processor.Process", domain.ErrNoHandler, task.Skill).Error())
		log.Warn("task failed", "error", task.Error)
		return task
	}

	tb := &Toolbox{Tools: p.tools, Peers: p.peers, Logger: log}
	result, err := p.run(ctx, handler, tb, task)
	if err != nil {
		task.Fail(err.Error())
		log.Warn("task failed", "error", task.Error, "code", domain.ErrorCodeOf(err))
		return task
	}

	task.Complete(result)
	log.Info("task completed")
	return task
}

// run invokes the handler with panic containment: a panicking handler yields
// a Failed task, never an unhandled fault in the transport layer.
func (p *Processor) run(ctx context.Context, h Handler, tb *Toolbox, task *domain.Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			tb.Logger.Error("task handler panicked", "panic", r, "stack", string(debug.Stack()))
			err = domain.NewDomainError("Processor.run", domain.ErrTaskHandlerFailed,
				fmt.Sprintf("panic: %v", r))
		}
	}()
	return h(ctx, tb, task)
}
