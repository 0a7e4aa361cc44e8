package graph

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

type memorySource struct {
	txs []models.TransactionEvent
}

func (m *memorySource) TransactionsByAddress(_ context.Context, address string, from, to time.Time) ([]models.TransactionEvent, error) {
	var out []models.TransactionEvent
	for _, tx := range m.txs {
		if !strings.EqualFold(tx.FromAddress, address) && !strings.EqualFold(tx.ToAddress, address) {
			continue
		}
		if tx.Timestamp.Before(from) || tx.Timestamp.After(to) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func tx(hash, from, to string, value int64, at time.Time) models.TransactionEvent {
	return models.TransactionEvent{
		Hash:        hash,
		FromAddress: from,
		ToAddress:   to,
		Value:       decimal.NewFromInt(value),
		Timestamp:   at,
	}
}

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestRelationshipsAggregatesBothDirections(t *testing.T) {
	src := &memorySource{txs: []models.TransactionEvent{
		tx("0xa1", "0xAAA", "0xBBB", 100, t0),
		tx("0xa2", "0xBBB", "0xAAA", 90, t0.Add(5*time.Minute)),
		tx("0xa3", "0xAAA", "0xCCC", 10, t0.Add(10*time.Minute)),
		tx("0xa4", "0xAAA", "0xAAA", 500, t0.Add(12*time.Minute)), // self, ignored
	}}
	p := NewProvider(src, nil)

	rels, err := p.Relationships(context.Background(), "0xaaa", 1, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rels, 2)

	assert.Equal(t, "0xaaa", rels[0].Address)
	assert.Equal(t, "0xbbb", rels[0].Counterparty)
	assert.Equal(t, 1, rels[0].Depth)
	assert.Equal(t, 2, rels[0].TxCount)
	assert.Equal(t, 1, rels[0].OutboundTxs)
	assert.Equal(t, 1, rels[0].InboundTxs)
	assert.True(t, rels[0].TotalVolume.Equal(decimal.NewFromInt(190)))
	assert.Greater(t, rels[0].Score, rels[1].Score)
}

func TestRelationshipsCappedAtFifty(t *testing.T) {
	src := &memorySource{}
	for i := 0; i < 80; i++ {
		src.txs = append(src.txs, tx(fmt.Sprintf("0xh%d", i), "0xAAA", fmt.Sprintf("0xpeer%02d", i), int64(i+1), t0.Add(time.Duration(i)*time.Minute)))
	}
	p := NewProvider(src, nil)

	rels, err := p.Relationships(context.Background(), "0xaaa", 1, t0.Add(-time.Hour), t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Len(t, rels, 50)
	// highest volume peers survive the cut
	assert.Equal(t, "0xpeer79", rels[0].Counterparty)
}

func TestRelationshipsDepthBoundedTraversal(t *testing.T) {
	src := &memorySource{txs: []models.TransactionEvent{
		tx("0xg1", "0xAAA", "0xBBB", 100, t0),
		tx("0xg2", "0xBBB", "0xCCC", 90, t0.Add(time.Minute)),
		tx("0xg3", "0xCCC", "0xDDD", 80, t0.Add(2*time.Minute)),
	}}
	p := NewProvider(src, nil)

	shallow, err := p.Relationships(context.Background(), "0xaaa", 1, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, shallow, 1)
	assert.Equal(t, "0xbbb", shallow[0].Counterparty)

	two, err := p.Relationships(context.Background(), "0xaaa", 2, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, two, 2)
	peers := map[string]int{}
	for _, rel := range two {
		peers[rel.Counterparty] = rel.Depth
	}
	assert.Equal(t, 1, peers["0xbbb"])
	assert.Equal(t, 2, peers["0xccc"])
	assert.NotContains(t, peers, "0xddd", "third hop must stay out at depth 2")
	assert.NotContains(t, peers, "0xaaa", "origin never reappears as a counterparty")
}

func TestRelationshipsRevisitSafeOnCycles(t *testing.T) {
	// a tight A-B-C triangle, traversal must terminate and report each
	// address once
	src := &memorySource{txs: []models.TransactionEvent{
		tx("0xh1", "0xAAA", "0xBBB", 100, t0),
		tx("0xh2", "0xBBB", "0xCCC", 95, t0.Add(time.Minute)),
		tx("0xh3", "0xCCC", "0xAAA", 90, t0.Add(2*time.Minute)),
	}}
	p := NewProvider(src, nil)

	rels, err := p.Relationships(context.Background(), "0xaaa", 5, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)

	seen := map[string]int{}
	for _, rel := range rels {
		seen[rel.Counterparty]++
	}
	for peer, n := range seen {
		assert.Equal(t, 1, n, "peer %s reported more than once", peer)
	}
	assert.Len(t, rels, 2)
}

func TestFindPathsDetectsCycle(t *testing.T) {
	src := &memorySource{txs: []models.TransactionEvent{
		tx("0xb1", "0xAAA", "0xBBB", 1000, t0),
		tx("0xb2", "0xBBB", "0xCCC", 980, t0.Add(2*time.Minute)),
		tx("0xb3", "0xCCC", "0xAAA", 960, t0.Add(4*time.Minute)),
	}}
	p := NewProvider(src, nil)

	paths, err := p.FindPaths(context.Background(), "0xAAA", 5, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	cycle := paths[0]
	assert.True(t, cycle.IsCycle)
	assert.Equal(t, []string{"0xaaa", "0xbbb", "0xccc", "0xaaa"}, cycle.Addresses)
	assert.Equal(t, 3, cycle.Hops)
	assert.InDelta(t, 0.96, cycle.Preservation, 1e-9)
}

func TestFindPathsRespectsTimeOrdering(t *testing.T) {
	// the return leg happens before the outbound leg, so no cycle exists
	src := &memorySource{txs: []models.TransactionEvent{
		tx("0xc1", "0xAAA", "0xBBB", 1000, t0.Add(10*time.Minute)),
		tx("0xc2", "0xBBB", "0xAAA", 990, t0),
	}}
	p := NewProvider(src, nil)

	paths, err := p.FindPaths(context.Background(), "0xAAA", 3, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	for _, path := range paths {
		assert.False(t, path.IsCycle)
	}
}

func TestFindPathsPrunesRevisits(t *testing.T) {
	src := &memorySource{txs: []models.TransactionEvent{
		tx("0xd1", "0xAAA", "0xBBB", 100, t0),
		tx("0xd2", "0xBBB", "0xCCC", 95, t0.Add(time.Minute)),
		tx("0xd3", "0xCCC", "0xBBB", 93, t0.Add(2*time.Minute)), // back into BBB, pruned
	}}
	p := NewProvider(src, nil)

	paths, err := p.FindPaths(context.Background(), "0xAAA", 4, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	for _, path := range paths {
		seen := map[string]int{}
		for _, a := range path.Addresses {
			seen[a]++
		}
		for addr, n := range seen {
			if addr == "0xaaa" {
				continue
			}
			assert.Equal(t, 1, n, "intermediate %s revisited", addr)
		}
	}
}

func TestFindPathsBoundsExploration(t *testing.T) {
	// a dense fan-out graph; traversal must stop at the exploration cap
	src := &memorySource{}
	for i := 0; i < 30; i++ {
		mid := fmt.Sprintf("0xmid%02d", i)
		src.txs = append(src.txs, tx(fmt.Sprintf("0xe%d", i), "0xAAA", mid, 100, t0))
		for j := 0; j < 10; j++ {
			src.txs = append(src.txs,
				tx(fmt.Sprintf("0xe%d_%d", i, j), mid, fmt.Sprintf("0xleaf%02d_%02d", i, j), 95, t0.Add(time.Minute)))
		}
	}
	p := NewProvider(src, nil)

	paths, err := p.FindPaths(context.Background(), "0xAAA", 2, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(paths), 20)
}

func TestFindPathsDeterministic(t *testing.T) {
	src := &memorySource{txs: []models.TransactionEvent{
		tx("0xf1", "0xAAA", "0xBBB", 500, t0),
		tx("0xf2", "0xAAA", "0xCCC", 500, t0),
		tx("0xf3", "0xBBB", "0xAAA", 490, t0.Add(time.Minute)),
		tx("0xf4", "0xCCC", "0xAAA", 480, t0.Add(time.Minute)),
	}}
	p := NewProvider(src, nil)

	first, err := p.FindPaths(context.Background(), "0xAAA", 3, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	second, err := p.FindPaths(context.Background(), "0xAAA", 3, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
