// Package anp_resolver resolves did:wba identifiers to DID documents.
// Resolution tries the local user-data root first (the fast path when caller
// and resolver share a process), then falls back to fetching the document
// from the host embedded in the DID.
package anp_resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"

	"github.com/openanp/anp-runtime/anp_auth"
)

// ErrNotFound is returned when no document exists for the DID.
var ErrNotFound = errors.New("DID document not found")

// Resolver resolves a DID to its document.
type Resolver interface {
	Resolve(ctx context.Context, did string) (*anp_auth.DIDWBADocument, error)
}

// LocalResolver walks a user-data root. Every user directory is expected to
// contain a did_document.json; the first whose id matches wins.
type LocalResolver struct {
	Root string
}

// NewLocalResolver creates a resolver over the given user-data root.
func NewLocalResolver(root string) *LocalResolver {
	return &LocalResolver{Root: root}
}

// Resolve implements Resolver.
func (r *LocalResolver) Resolve(ctx context.Context, did string) (*anp_auth.DIDWBADocument, error) {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read user root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		docPath := filepath.Join(r.Root, entry.Name(), "did_document.json")
		data, err := os.ReadFile(docPath)
		if err != nil {
			continue
		}

		var doc anp_auth.DIDWBADocument
		if err := sonic.Unmarshal(data, &doc); err != nil {
			continue
		}
		if doc.ID == did {
			return &doc, nil
		}
	}

	return nil, ErrNotFound
}

// HTTPResolver fetches the document from the DID's own host.
type HTTPResolver struct {
	Client *http.Client
}

// NewHTTPResolver creates a resolver with the default 10 second timeout.
func NewHTTPResolver() *HTTPResolver {
	return &HTTPResolver{
		Client: &http.Client{Timeout: anp_auth.DefaultResolveTimeout},
	}
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context, did string) (*anp_auth.DIDWBADocument, error) {
	parsed, err := anp_auth.ParseDID(did)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.DocumentURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: anp_auth.DefaultResolveTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch DID document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch DID document: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read DID document: %w", err)
	}

	var doc anp_auth.DIDWBADocument
	if err := sonic.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode DID document: %w", err)
	}

	if doc.ID != did {
		return nil, fmt.Errorf("DID document ID mismatch: got %q", doc.ID)
	}

	return &doc, nil
}

// ChainResolver tries each resolver in order. A resolver that reports
// ErrNotFound hands over to the next; transport errors get one retry against
// the remaining resolvers before surfacing.
type ChainResolver struct {
	resolvers []Resolver
}

// NewChainResolver builds the standard local-then-HTTP chain.
func NewChainResolver(resolvers ...Resolver) *ChainResolver {
	return &ChainResolver{resolvers: resolvers}
}

// Resolve implements Resolver.
func (c *ChainResolver) Resolve(ctx context.Context, did string) (*anp_auth.DIDWBADocument, error) {
	var lastErr error = ErrNotFound
	for _, r := range c.resolvers {
		doc, err := r.Resolve(ctx, did)
		if err == nil {
			return doc, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, lastErr
}

// Func adapts a Resolver into the verifier's resolution callback.
func Func(r Resolver) anp_auth.ResolveDIDDocumentFunc {
	return func(ctx context.Context, did string) (*anp_auth.DIDWBADocument, error) {
		return r.Resolve(ctx, did)
	}
}

// ResolveWithTimeout resolves with an explicit deadline, for callers that do
// not carry a context of their own.
func ResolveWithTimeout(r Resolver, did string, timeout time.Duration) (*anp_auth.DIDWBADocument, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return r.Resolve(ctx, did)
}
