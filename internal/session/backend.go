package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelnet-labs/modelnet/internal/protocol"
)

// EchoBackend is a development backend that fabricates a completion without
// touching any model. Real deployments wire the inference collaborator here.
type EchoBackend struct{}

// Infer returns a canned completion derived from the prompt.
func (EchoBackend) Infer(_ context.Context, req *protocol.InferenceRequest) (*protocol.InferenceResponse, error) {
	tokens := req.MaxTokens
	if tokens <= 0 {
		tokens = len(strings.Fields(req.Prompt))
	}
	return &protocol.InferenceResponse{
		ModelID:         req.ModelID,
		Text:            fmt.Sprintf("[%s] %s", req.ModelID, req.Prompt),
		TokensGenerated: tokens,
	}, nil
}
