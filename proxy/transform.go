package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/agentorch/agentserver/modelclient"
	"github.com/agentorch/agentserver/telemetry"
)

// transformProxy decodes an Anthropic-shaped request, translates it to the
// provider-agnostic modelclient.Request, and calls through to the upstream
// modelclient.Client (OpenAI or Bedrock), translating the result back
// (spec.md §4.8, api_format "openai"/"bedrock").
type transformProxy struct {
	client        modelclient.Client
	upstreamModel string
	logger        telemetry.Logger
}

func newTransformProxy(cfg Config, logger telemetry.Logger) http.Handler {
	return &transformProxy{
		client:        cfg.Client,
		upstreamModel: cfg.UpstreamModel,
		logger:        logger,
	}
}

func (p *transformProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var wireReq anthropicRequest
	if err := json.NewDecoder(r.Body).Decode(&wireReq); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	req := wireReq.toRequest(p.upstreamModel)
	p.logger.Info(ctx, "proxy transform request", "model", req.Model, "stream", wireReq.Stream)

	if !wireReq.Stream {
		p.completeOnce(w, r, req)
		return
	}
	p.completeStream(w, r, req)
}

func (p *transformProxy) completeOnce(w http.ResponseWriter, r *http.Request, req modelclient.Request) {
	res, err := p.client.Complete(r.Context(), req)
	if err != nil {
		p.logger.Error(r.Context(), "proxy transform upstream call failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	wire := responseFromResult(req.Model, res)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(wire)
}

func (p *transformProxy) completeStream(w http.ResponseWriter, r *http.Request, req modelclient.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	stream, err := p.client.Stream(r.Context(), req)
	if err != nil {
		p.logger.Error(r.Context(), "proxy transform stream start failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			p.logger.Warn(r.Context(), "proxy transform stream interrupted", "error", err)
			return
		}
		eventName, payload := chunkToWireEvent(chunk)
		frame, err := sseEvent(eventName, payload)
		if err != nil {
			p.logger.Warn(r.Context(), "proxy transform stream encode failed", "error", err)
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		flusher.Flush()
		if chunk.Type == modelclient.ChunkStop {
			return
		}
	}
}
