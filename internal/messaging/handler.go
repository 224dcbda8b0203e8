package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
)

// perPhoneQueueSize bounds the backlog of one customer's messages.
const perPhoneQueueSize = 16

// Runner executes the conversation pipeline for one inbound message.
type Runner interface {
	Run(ctx context.Context, in models.InboundMessage) (string, error)
}

// Handler consumes inbound messages from a transport and feeds them to
// the pipeline. Messages from the same phone number are processed
// strictly in arrival order; different customers run concurrently.
type Handler struct {
	service Service
	runner  Runner

	mu     sync.Mutex
	queues map[string]chan models.Response
	wg     sync.WaitGroup
}

// NewHandler creates a handler draining service into runner.
func NewHandler(service Service, runner Runner) *Handler {
	return &Handler{
		service: service,
		runner:  runner,
		queues:  make(map[string]chan models.Response),
	}
}

// Start consumes the transport's responses until the context is
// cancelled or the channel closes.
func (h *Handler) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-h.service.Responses():
				if !ok {
					return
				}
				h.dispatch(ctx, resp)
			}
		}
	}()
}

// Wait blocks until all workers have drained after cancellation.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// dispatch routes a message onto its phone's serialized queue, spawning
// the per-phone worker on first contact.
func (h *Handler) dispatch(ctx context.Context, resp models.Response) {
	h.mu.Lock()
	queue, ok := h.queues[resp.From]
	if !ok {
		queue = make(chan models.Response, perPhoneQueueSize)
		h.queues[resp.From] = queue
		h.wg.Add(1)
		go h.worker(ctx, resp.From, queue)
	}
	h.mu.Unlock()

	select {
	case queue <- resp:
	default:
		slog.Warn("Handler.dispatch: per-phone queue full, dropping message", "from", resp.From)
	}
}

// worker drains one customer's queue sequentially, preserving the
// arrival order the history append invariant depends on.
func (h *Handler) worker(ctx context.Context, phone string, queue chan models.Response) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case resp := <-queue:
			h.process(ctx, resp)
		}
	}
}

func (h *Handler) process(ctx context.Context, resp models.Response) {
	in := models.InboundMessage{
		Phone:    resp.From,
		Text:     resp.Body,
		MediaURL: resp.MediaURL,
	}
	reply, err := h.runner.Run(ctx, in)
	if err != nil {
		slog.Error("Handler.process: pipeline run failed", "error", err, "from", resp.From)
		return
	}
	slog.Debug("Handler.process: run complete", "from", resp.From, "replied", reply != "")
}
