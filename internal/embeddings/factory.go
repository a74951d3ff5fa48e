package embeddings

import (
	"fmt"

	"github.com/wednesday-solutions/my-memories-sub001/internal/embeddings/ollama"
	"github.com/wednesday-solutions/my-memories-sub001/internal/embeddings/server"
)

// NewProvider builds the provider named by kind ("server" or "ollama").
func NewProvider(kind, baseURL, model string) (Provider, error) {
	switch kind {
	case "server":
		return server.New(baseURL, model, 32), nil
	case "ollama":
		return ollama.New(baseURL, model), nil
	default:
		return nil, fmt.Errorf("unsupported embed provider %q", kind)
	}
}
