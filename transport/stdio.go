package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/aetherpro/fabric/gateway/capability"
	"github.com/aetherpro/fabric/shared"
	"go.uber.org/zap"
)

// StdioFront is the local JSON front: line-delimited {id, name, arguments}
// requests on one stream, line-delimited response bodies on another. The
// caller is local, so no credentials are required.
type StdioFront struct {
	pipeline *capability.FabricCapability
	logger   *zap.Logger

	writeMu sync.Mutex
}

func NewStdioFront(pipeline *capability.FabricCapability, logger *zap.Logger) *StdioFront {
	return &StdioFront{pipeline: pipeline, logger: logger}
}

type stdioRequest struct {
	ID        any            `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type stdioResponse struct {
	ID any `json:"id,omitempty"`
	*shared.Response
}

type stdioEvent struct {
	ID    any              `json:"id,omitempty"`
	Event shared.EventKind `json:"event"`
	Data  map[string]any   `json:"data"`
}

// Run consumes requests until EOF or context cancellation. Requests are
// handled concurrently; response lines are serialized on the writer.
func (s *StdioFront) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("Starting local JSON front")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)

	var wg sync.WaitGroup
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req stdioRequest
		if err := json.Unmarshal(line, &req); err != nil {
			trace := shared.NewTrace("", nil)
			s.writeLine(out, stdioResponse{Response: shared.FailResponse(trace,
				shared.NewError(shared.ErrBadInput, "malformed request line"))})
			continue
		}

		wg.Add(1)
		go func(req stdioRequest) {
			defer wg.Done()
			s.handleOne(ctx, req, out)
		}(req)
	}
	wg.Wait()

	if err := scanner.Err(); err != nil {
		s.logger.Error("Local front read error", zap.Error(err))
		return err
	}
	s.logger.Info("Local JSON front stopped")
	return nil
}

func (s *StdioFront) handleOne(ctx context.Context, req stdioRequest, out io.Writer) {
	auth := shared.AuthContext{Mode: shared.AuthModeNone, PrincipalID: "local"}
	if req.Arguments != nil {
		auth = MergePassport(auth, req.Arguments)
	}

	outcome := s.pipeline.Handle(ctx, req.Name, req.Arguments, auth)

	if outcome.Events != nil {
		// Streamed events become one line each, terminated by the final.
		for ev := range outcome.Events {
			s.writeLine(out, stdioEvent{ID: req.ID, Event: ev.Event, Data: ev.Data})
		}
		return
	}
	if outcome.Degraded {
		final := shared.FinalEvent(outcome.Response)
		s.writeLine(out, stdioEvent{ID: req.ID, Event: final.Event, Data: final.Data})
		return
	}
	s.writeLine(out, stdioResponse{ID: req.ID, Response: outcome.Response})
}

func (s *StdioFront) writeLine(out io.Writer, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("Failed to encode response line", zap.Error(err))
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	out.Write(append(payload, '\n'))
}
