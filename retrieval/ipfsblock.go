package retrieval

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/evalgo/spprobe/archive"
	"github.com/evalgo/spprobe/probetransport"
)

// IPFSBlockPriority runs after Direct-SP.
const IPFSBlockPriority = 10

// ipfsBlockAccept is the mediatype the gateway expects for a raw-block
// fetch, per spec.md §4.4/§6.
const ipfsBlockAccept = "application/vnd.ipld.raw"

// NewIPFSBlockStrategy builds the "ipfs-block" strategy: a GET against
// <serviceURL>/ipfs/<rootCID>?format=raw, whose Validate step traverses
// the whole DAG from the declared root with a bounded-concurrency pool,
// verifying every block's CID against its own content the way
// archive.ValidateCarContentStream verifies a linear archive.
func NewIPFSBlockStrategy(client *probetransport.Client) Strategy {
	return Strategy{
		StrategyName:     "ipfs-block",
		StrategyPriority: IPFSBlockPriority,
		CanHandle: func(ctx StrategyContext) bool {
			return ctx.ServiceURL != "" && ctx.RootCID != ""
		},
		ConstructURL: func(ctx StrategyContext) string {
			return fmt.Sprintf("%s/ipfs/%s?format=raw", ctx.ServiceURL, ctx.RootCID)
		},
		Validate: func(ctx context.Context, body io.Reader, sctx StrategyContext) (ValidationOutcome, error) {
			rootCID, err := archive.ParseCID(sctx.RootCID)
			if err != nil {
				return ValidationOutcome{}, fmt.Errorf("retrieval: ipfs-block parse root cid: %w", err)
			}
			rootBlock, err := io.ReadAll(body)
			if err != nil {
				return ValidationOutcome{}, fmt.Errorf("retrieval: ipfs-block read root block: %w", err)
			}

			concurrency := sctx.IPFSBlockFetchConcurrency
			if concurrency <= 0 {
				concurrency = 6
			}
			return validateDAG(ctx, client, sctx.ServiceURL, rootCID, rootBlock, concurrency)
		},
		Retry:    DefaultRetryConfig(),
		Expected: ExpectedMetrics{},
	}
}

// dagValidator traverses a block DAG from a known root, bounded by a
// worker pool of size concurrency. It owns the visited set and byte
// counters so the pool's goroutines never race on shared state outside
// the mutex.
type dagValidator struct {
	client      *probetransport.Client
	serviceURL  string
	concurrency int

	mu        sync.Mutex
	visited   map[archive.CID]bool
	bytesRead int64
	firstTTFB time.Duration
	sawFirst  bool
	invalid   bool
	failedAt  string
}

func validateDAG(ctx context.Context, client *probetransport.Client, serviceURL string, rootCID archive.CID, rootBlock []byte, concurrency int) (ValidationOutcome, error) {
	v := &dagValidator{
		client:      client,
		serviceURL:  serviceURL,
		concurrency: concurrency,
		visited:     make(map[archive.CID]bool),
	}

	if !v.verifyBlock(rootCID, rootBlock) {
		return ValidationOutcome{
			IsValid: false,
			Method:  "ipfs-block-dag",
			Details: fmt.Sprintf("root block %s failed hash/codec verification", rootCID),
		}, nil
	}
	v.visited[rootCID] = true
	v.bytesRead += int64(len(rootBlock))

	links, err := archive.Links(rootCID.Codec, rootBlock)
	if err != nil {
		return ValidationOutcome{}, fmt.Errorf("retrieval: ipfs-block decode root links: %w", err)
	}

	if err := v.traverse(ctx, links); err != nil {
		return ValidationOutcome{}, err
	}

	if v.invalid {
		return ValidationOutcome{
			IsValid:   false,
			Method:    "ipfs-block-dag",
			Details:   fmt.Sprintf("block %s failed hash/codec verification", v.failedAt),
			BytesRead: v.bytesRead,
			TTFB:      v.firstTTFB,
		}, nil
	}

	return ValidationOutcome{
		IsValid:   true,
		Method:    "ipfs-block-dag",
		BytesRead: v.bytesRead,
		TTFB:      v.firstTTFB,
	}, nil
}

// traverse processes one BFS layer of links with up to v.concurrency
// fetches in flight at once, then recurses into whatever links those
// blocks reveal, until the frontier is empty.
func (v *dagValidator) traverse(ctx context.Context, frontier []archive.Link) error {
	for len(frontier) > 0 {
		var next []archive.Link
		var nextMu sync.Mutex
		var wg sync.WaitGroup
		sem := make(chan struct{}, v.concurrency)
		errCh := make(chan error, len(frontier))

		for _, link := range frontier {
			v.mu.Lock()
			already := v.visited[link.CID]
			if !already {
				v.visited[link.CID] = true
			}
			v.mu.Unlock()
			if already {
				continue
			}

			link := link
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}

				block, ttfb, err := fetchBlock(ctx, v.client, v.serviceURL, link.CID)
				if err != nil {
					errCh <- err
					return
				}

				v.mu.Lock()
				if !v.sawFirst {
					v.firstTTFB = ttfb
					v.sawFirst = true
				}
				v.bytesRead += int64(len(block))
				if !v.verifyBlockLocked(link.CID, block) {
					v.invalid = true
					v.failedAt = link.CID.String()
					v.mu.Unlock()
					return
				}
				v.mu.Unlock()

				childLinks, err := archive.Links(link.CID.Codec, block)
				if err != nil {
					errCh <- err
					return
				}
				nextMu.Lock()
				next = append(next, childLinks...)
				nextMu.Unlock()
			}()
		}

		wg.Wait()
		close(errCh)
		for err := range errCh {
			if err != nil {
				return err
			}
		}
		if v.invalid {
			return nil
		}
		frontier = next
	}
	return nil
}

func (v *dagValidator) verifyBlock(cid archive.CID, block []byte) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.verifyBlockLocked(cid, block)
}

func (v *dagValidator) verifyBlockLocked(cid archive.CID, block []byte) bool {
	if !archive.SupportedCodec(cid.Codec) {
		return false
	}
	return cid.Verify(block)
}

// fetchBlock issues one GET for cid's raw bytes.
func fetchBlock(ctx context.Context, client *probetransport.Client, serviceURL string, cid archive.CID) ([]byte, time.Duration, error) {
	url := fmt.Sprintf("%s/ipfs/%s?format=raw", serviceURL, cid.String())
	result, err := client.Get(ctx, url, map[string]string{"Accept": ipfsBlockAccept}, false)
	if err != nil {
		return nil, 0, fmt.Errorf("retrieval: fetch block %s: %w", cid, err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("retrieval: read block %s: %w", cid, err)
	}
	return body, result.TTFB, nil
}
