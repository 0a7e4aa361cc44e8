// Package graph derives counterparty relationships and multi-hop transfer
// paths from raw transaction history, with hard bounds on traversal work.
package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

// DataSource supplies the transactions touching an address inside a window,
// both directions, in no particular order.
type DataSource interface {
	TransactionsByAddress(ctx context.Context, address string, from, to time.Time) ([]models.TransactionEvent, error)
}

// Relationship summarizes the flow between an address and one counterparty.
type Relationship struct {
	Address      string          `json:"address"`
	Counterparty string          `json:"counterparty"`
	Depth        int             `json:"depth"`
	TxCount      int             `json:"tx_count"`
	OutboundTxs  int             `json:"outbound_txs"`
	InboundTxs   int             `json:"inbound_txs"`
	TotalVolume  decimal.Decimal `json:"total_volume"`
	FirstSeen    time.Time       `json:"first_seen"`
	LastSeen     time.Time       `json:"last_seen"`

	// Score blends interaction frequency and volume share, in [0,1].
	Score float64 `json:"score"`
}

// Path is an ordered chain of transfers between distinct addresses.
type Path struct {
	Addresses    []string                  `json:"addresses"`
	Transactions []models.TransactionEvent `json:"transactions"`
	Hops         int                       `json:"hops"`
	InputValue   decimal.Decimal           `json:"input_value"`
	OutputValue  decimal.Decimal           `json:"output_value"`
	Preservation float64                   `json:"preservation"`
	Duration     time.Duration             `json:"duration"`
	IsCycle      bool                      `json:"is_cycle"`

	Score float64 `json:"score"`
}

const (
	maxRelationships = 50
	maxExpandedNodes = 50
	maxExploredPaths = 50
	maxRankedPaths   = 20
)

// Provider builds relationship and path views over a DataSource. It is
// stateless apart from per-call memoization and safe for concurrent use.
type Provider struct {
	source DataSource
	logger *zap.SugaredLogger
}

func NewProvider(source DataSource, logger *zap.SugaredLogger) *Provider {
	return &Provider{source: source, logger: logger}
}

// Relationships walks the counterparty graph breadth-first from an address,
// at most depth hops out, and returns up to 50 relationships, strongest
// first. Every address is visited once, so dense graphs terminate, and the
// expansion itself is capped. Ordering is deterministic: score descending,
// then counterparty address ascending.
func (p *Provider) Relationships(ctx context.Context, address string, depth int, from, to time.Time) ([]Relationship, error) {
	if depth < 1 {
		depth = 1
	}
	origin := strings.ToLower(address)
	visited := map[string]bool{origin: true}
	frontier := []string{origin}
	expanded := 0

	var all []Relationship
	for level := 1; level <= depth && len(frontier) > 0; level++ {
		var next []string
		for _, node := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if expanded >= maxExpandedNodes {
				break
			}
			expanded++
			rels, err := p.counterparties(ctx, node, from, to)
			if err != nil {
				return nil, err
			}
			for _, rel := range rels {
				if visited[rel.Counterparty] {
					continue
				}
				visited[rel.Counterparty] = true
				rel.Depth = level
				all = append(all, rel)
				next = append(next, rel.Counterparty)
			}
		}
		frontier = next
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].Counterparty < all[j].Counterparty
	})
	if len(all) > maxRelationships {
		all = all[:maxRelationships]
	}
	return all, nil
}

// counterparties aggregates the direct counterparties of one node, ordered
// score descending then address ascending.
func (p *Provider) counterparties(ctx context.Context, node string, from, to time.Time) ([]Relationship, error) {
	txs, err := p.source.TransactionsByAddress(ctx, node, from, to)
	if err != nil {
		return nil, fmt.Errorf("relationships for %s: %w", node, err)
	}

	byPeer := make(map[string]*Relationship)
	totalVolume := decimal.Zero
	for _, tx := range txs {
		peer := strings.ToLower(tx.ToAddress)
		outbound := true
		if peer == node {
			peer = strings.ToLower(tx.FromAddress)
			outbound = false
		}
		if peer == node || peer == "" {
			// self transfers and contract creations are not relationships
			continue
		}
		rel, ok := byPeer[peer]
		if !ok {
			rel = &Relationship{Address: node, Counterparty: peer, TotalVolume: decimal.Zero, FirstSeen: tx.Timestamp, LastSeen: tx.Timestamp}
			byPeer[peer] = rel
		}
		rel.TxCount++
		if outbound {
			rel.OutboundTxs++
		} else {
			rel.InboundTxs++
		}
		rel.TotalVolume = rel.TotalVolume.Add(tx.Value.Abs())
		totalVolume = totalVolume.Add(tx.Value.Abs())
		if tx.Timestamp.Before(rel.FirstSeen) {
			rel.FirstSeen = tx.Timestamp
		}
		if tx.Timestamp.After(rel.LastSeen) {
			rel.LastSeen = tx.Timestamp
		}
	}

	total := len(txs)
	rels := make([]Relationship, 0, len(byPeer))
	for _, rel := range byPeer {
		freq := float64(rel.TxCount) / float64(total)
		volShare := 0.0
		if totalVolume.IsPositive() {
			volShare, _ = rel.TotalVolume.Div(totalVolume).Float64()
		}
		rel.Score = 0.5*freq + 0.5*volShare
		rels = append(rels, *rel)
	}
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].Score != rels[j].Score {
			return rels[i].Score > rels[j].Score
		}
		return rels[i].Counterparty < rels[j].Counterparty
	})
	return rels, nil
}

// FindPaths walks outbound transfer chains from origin up to maxHops deep
// and returns completed paths, strongest first. At most 50 paths are
// explored and at most 20 returned. A hop back into the origin closes the
// path as a cycle; revisiting any other address on the path prunes the
// branch. Results are deterministic for a given data set.
func (p *Provider) FindPaths(ctx context.Context, origin string, maxHops int, from, to time.Time) ([]Path, error) {
	if maxHops < 1 {
		return nil, nil
	}
	w := &pathWalk{
		provider: p,
		origin:   strings.ToLower(origin),
		maxHops:  maxHops,
		from:     from,
		to:       to,
		memo:     make(map[string][]models.TransactionEvent),
	}
	if err := w.walk(ctx, w.origin, nil, nil); err != nil {
		return nil, err
	}

	paths := w.found
	for i := range paths {
		paths[i].finalize()
	}
	sort.Slice(paths, func(i, j int) bool {
		if paths[i].Score != paths[j].Score {
			return paths[i].Score > paths[j].Score
		}
		return paths[i].Transactions[0].Hash < paths[j].Transactions[0].Hash
	})
	if len(paths) > maxRankedPaths {
		paths = paths[:maxRankedPaths]
	}
	if p.logger != nil {
		p.logger.Debugw("path search finished",
			"origin", origin, "explored", w.explored, "returned", len(paths))
	}
	return paths, nil
}

type pathWalk struct {
	provider *Provider
	origin   string
	maxHops  int
	from, to time.Time

	memo     map[string][]models.TransactionEvent
	found    []Path
	explored int
}

func (w *pathWalk) outbound(ctx context.Context, address string) ([]models.TransactionEvent, error) {
	if txs, ok := w.memo[address]; ok {
		return txs, nil
	}
	all, err := w.provider.source.TransactionsByAddress(ctx, address, w.from, w.to)
	if err != nil {
		return nil, fmt.Errorf("outbound transfers of %s: %w", address, err)
	}
	out := make([]models.TransactionEvent, 0, len(all))
	for _, tx := range all {
		if strings.EqualFold(tx.FromAddress, address) && !tx.IsSelfTransfer() {
			out = append(out, tx)
		}
	}
	// deterministic expansion order
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Hash < out[j].Hash
	})
	w.memo[address] = out
	return out, nil
}

func (w *pathWalk) walk(ctx context.Context, current string, visited []string, chain []models.TransactionEvent) error {
	if w.explored >= maxExploredPaths {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(chain) >= w.maxHops {
		return nil
	}

	txs, err := w.outbound(ctx, current)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if w.explored >= maxExploredPaths {
			return nil
		}
		// hops must move forward in time along the chain
		if len(chain) > 0 && tx.Timestamp.Before(chain[len(chain)-1].Timestamp) {
			continue
		}
		next := strings.ToLower(tx.ToAddress)
		nextChain := append(append([]models.TransactionEvent(nil), chain...), tx)

		if next == w.origin {
			if len(nextChain) >= 2 {
				w.explored++
				w.found = append(w.found, newPath(w.origin, nextChain, true))
			}
			continue
		}
		if containsAddr(visited, next) {
			continue
		}
		if len(nextChain) == w.maxHops {
			w.explored++
			w.found = append(w.found, newPath(w.origin, nextChain, false))
			continue
		}
		if err := w.walk(ctx, next, append(append([]string(nil), visited...), next), nextChain); err != nil {
			return err
		}
	}
	return nil
}

func containsAddr(addrs []string, addr string) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

func newPath(origin string, chain []models.TransactionEvent, cycle bool) Path {
	addrs := make([]string, 0, len(chain)+1)
	addrs = append(addrs, origin)
	for _, tx := range chain {
		addrs = append(addrs, strings.ToLower(tx.ToAddress))
	}
	return Path{
		Addresses:    addrs,
		Transactions: chain,
		Hops:         len(chain),
		InputValue:   chain[0].Value,
		OutputValue:  chain[len(chain)-1].Value,
		IsCycle:      cycle,
	}
}

func (p *Path) finalize() {
	if p.InputValue.IsPositive() {
		ratio, _ := p.OutputValue.Div(p.InputValue).Float64()
		if ratio > 1 {
			ratio = 1
		}
		if ratio < 0 {
			ratio = 0
		}
		p.Preservation = ratio
	}
	p.Duration = p.Transactions[len(p.Transactions)-1].Timestamp.Sub(p.Transactions[0].Timestamp)

	// cycles that keep their value and complete quickly rank first
	score := 0.6 * p.Preservation
	if p.IsCycle {
		score += 0.2
	}
	if p.Duration <= time.Hour {
		score += 0.2 * (1 - p.Duration.Seconds()/3600)
	}
	p.Score = score
}
