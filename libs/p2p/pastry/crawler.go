package pastry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/lianxiangcloud/ringroute/libs/log"
)

const (
	defaultCrawlTimeout  = 5 * time.Second
	defaultCrawlParallel = 16
)

var errNoAnswer = errors.New("no leaf set received")

// CrawlResult is the leaf set one node reported.
type CrawlResult struct {
	Node    NeighborInfo
	LeafSet []NeighborInfo // ring order
	Err     error
}

// Crawler walks the ring by asking every node it hears of for its leaf
// set. It owns the transport's handler while it runs.
type Crawler struct {
	tr       Transport
	logger   log.Logger
	Timeout  time.Duration
	Parallel int

	mu      sync.Mutex
	waiting map[Addr]chan *LeafSetChanged
}

// NewCrawler installs itself as tr's handler.
func NewCrawler(tr Transport, logger log.Logger) *Crawler {
	c := &Crawler{
		tr:       tr,
		logger:   logger,
		Timeout:  defaultCrawlTimeout,
		Parallel: defaultCrawlParallel,
		waiting:  make(map[Addr]chan *LeafSetChanged),
	}
	tr.SetHandler(c.handle)
	return c
}

func (c *Crawler) handle(from Addr, msg Message) {
	m, ok := msg.(*LeafSetChanged)
	if !ok {
		return
	}
	c.mu.Lock()
	ch := c.waiting[from]
	delete(c.waiting, from)
	c.mu.Unlock()
	if ch != nil {
		ch <- m
	}
}

// Crawl queries gateway, then every node named in the answers, until no
// new node turns up. Unreachable nodes are reported with Err set; the
// returned error is only ever the context's.
func (c *Crawler) Crawl(ctx context.Context, gateway Addr) ([]CrawlResult, error) {
	var (
		mu      sync.Mutex
		results []CrawlResult
		seen    = map[Addr]bool{gateway: true}
	)
	frontier := []Addr{gateway}
	for len(frontier) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		sem := make(chan struct{}, c.Parallel)
		var next []Addr
		for _, addr := range frontier {
			addr := addr
			g.Go(func() error {
				select {
				case sem <- struct{}{}:
				case <-gctx.Done():
					return gctx.Err()
				}
				defer func() { <-sem }()

				res, err := c.query(gctx, addr)
				if err == context.Canceled || err == context.DeadlineExceeded {
					return err
				}
				if err != nil {
					c.logger.Debug("Crawl query failed", "addr", addr, "err", err)
				}
				mu.Lock()
				defer mu.Unlock()
				results = append(results, res)
				for _, ni := range res.LeafSet {
					if !seen[ni.Addr] {
						seen[ni.Addr] = true
						next = append(next, ni.Addr)
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return results, err
		}
		frontier = next
	}
	// Ring order; nodes that never answered have a zero id and come first.
	sort.Slice(results, func(i, j int) bool {
		if c := results[i].Node.ID.Cmp(results[j].Node.ID); c != 0 {
			return c < 0
		}
		return results[i].Node.Addr < results[j].Node.Addr
	})
	return results, nil
}

func (c *Crawler) query(ctx context.Context, addr Addr) (CrawlResult, error) {
	res := CrawlResult{Node: NeighborInfo{Addr: addr}}
	ch := make(chan *LeafSetChanged, 1)
	c.mu.Lock()
	c.waiting[addr] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.waiting[addr] == ch {
			delete(c.waiting, addr)
		}
		c.mu.Unlock()
	}()

	failed := make(chan error, 1)
	c.tr.Send(addr, &LeafSetReq{}, c.Timeout, func(_ time.Duration, err error) {
		if err != nil {
			failed <- err
		}
	})

	timer := time.NewTimer(2 * c.Timeout)
	defer timer.Stop()
	select {
	case m := <-ch:
		res.Node.ID = m.ID
		res.LeafSet = m.LeafSet
	case err := <-failed:
		res.Err = errors.Wrapf(err, "query %s", addr)
	case <-timer.C:
		res.Err = errors.Wrapf(errNoAnswer, "query %s", addr)
	case <-ctx.Done():
		return res, ctx.Err()
	}
	return res, res.Err
}

// Inconsistent returns the answering nodes whose leaf set misses their
// ring predecessor or successor among the answering nodes.
func Inconsistent(results []CrawlResult) []NeighborInfo {
	var ring []NeighborInfo
	for _, res := range results {
		if res.Err == nil {
			ring = append(ring, res.Node)
		}
	}
	if len(ring) < 2 {
		return nil
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].ID.Cmp(ring[j].ID) < 0 })
	leafSets := make(map[NeighborInfo][]NeighborInfo, len(results))
	for _, res := range results {
		leafSets[res.Node] = res.LeafSet
	}

	var bad []NeighborInfo
	for i, ni := range ring {
		pred := ring[(i+len(ring)-1)%len(ring)]
		succ := ring[(i+1)%len(ring)]
		if !containsNeighbor(leafSets[ni], pred) || !containsNeighbor(leafSets[ni], succ) {
			bad = append(bad, ni)
		}
	}
	return bad
}

func containsNeighbor(ns []NeighborInfo, ni NeighborInfo) bool {
	for _, n := range ns {
		if n == ni {
			return true
		}
	}
	return false
}
