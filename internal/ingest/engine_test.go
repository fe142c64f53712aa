package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeChain struct {
	networkID int64
	head      uint64
	logs      []domain.Log

	// available maps auction+":"+fromToken to the contract's available()
	// answer for reconciliation reads.
	available map[string]*big.Int

	filterCalls [][]string
}

func (c *fakeChain) NetworkID() int64 { return c.networkID }

func (c *fakeChain) HeadBlock(ctx context.Context) (uint64, error) { return c.head, nil }

func (c *fakeChain) FilterLogs(ctx context.Context, from, to uint64, addresses []string) ([]domain.Log, error) {
	c.filterCalls = append(c.filterCalls, addresses)
	addrSet := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		addrSet[a] = true
	}
	var out []domain.Log
	for _, l := range c.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to && addrSet[l.Address] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (c *fakeChain) BlockTime(ctx context.Context, block uint64) (time.Time, error) {
	return time.Unix(1_700_000_000+int64(block)*12, 0).UTC(), nil
}

func (c *fakeChain) TokenDecimals(ctx context.Context, token string) (uint8, error) {
	return 18, nil
}

func (c *fakeChain) AuctionAvailable(ctx context.Context, auction, fromToken string) (*big.Int, error) {
	if v, ok := c.available[auction+":"+fromToken]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

type fakeCursors struct {
	cursors map[string]domain.IngestionCursor
}

func (s *fakeCursors) Get(ctx context.Context, networkID int64, source string) (domain.IngestionCursor, bool, error) {
	c, ok := s.cursors[source]
	return c, ok, nil
}

type fakeAuctions struct{}

func (fakeAuctions) GetByAddress(ctx context.Context, networkID int64, address string) (domain.Auction, error) {
	return domain.Auction{}, domain.ErrNotFound
}
func (fakeAuctions) ListByNetwork(ctx context.Context, networkID int64) ([]domain.Auction, error) {
	return nil, nil
}
func (fakeAuctions) Count(ctx context.Context) (int64, error) { return 0, nil }

type remainingWrite struct {
	roundID   int64
	remaining float64
}

// fakeRounds serves Latest per (auction, fromToken) and records every
// SetRemaining write.
type fakeRounds struct {
	latest map[string]domain.Round
	writes []remainingWrite
}

func (r *fakeRounds) Get(ctx context.Context, networkID int64, auction string, roundID int64) (domain.Round, error) {
	return domain.Round{}, domain.ErrNotFound
}
func (r *fakeRounds) Latest(ctx context.Context, networkID int64, auction, fromToken string) (domain.Round, error) {
	round, ok := r.latest[auction+":"+fromToken]
	if !ok {
		return domain.Round{}, domain.ErrNotFound
	}
	return round, nil
}
func (r *fakeRounds) ListActive(ctx context.Context, networkID int64, now time.Time) ([]domain.Round, error) {
	return nil, nil
}
func (r *fakeRounds) SetRemaining(ctx context.Context, networkID int64, auction string, roundID int64, remaining float64) error {
	r.writes = append(r.writes, remainingWrite{roundID: roundID, remaining: remaining})
	return nil
}

// fakeWriter records applied batches and, like the real writer, advances the
// cursor only when the batch commits.
type fakeWriter struct {
	batches []domain.IngestBatch
	cursors *fakeCursors
	err     error
}

func (w *fakeWriter) ApplyBatch(ctx context.Context, batch domain.IngestBatch) error {
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, batch)
	w.cursors.cursors[batch.SourceAddress] = domain.IngestionCursor{
		NetworkID:          batch.NetworkID,
		SourceAddress:      batch.SourceAddress,
		LastProcessedBlock: batch.ToBlock,
	}
	return nil
}

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

const sourceAddr = "0x5555555555555555555555555555555555555555"

func modernDeployLog(block uint64, logIndex uint) domain.Log {
	data := uintWord(big.NewInt(60))
	data = append(data, uintWord(wadInt(0.0075))...)
	data = append(data, uintWord(big.NewInt(3600))...)
	data = append(data, uintWord(wadInt(2.5))...)
	return domain.Log{
		Address: sourceAddr,
		Topics: []string{
			crypto.Keccak256Hash([]byte(sigDeployModern)).Hex(),
			addrTopic(auctionAddr),
			addrTopic(wantAddr),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      "0xdeploytx",
		LogIndex:    logIndex,
	}
}

func kickLog(block uint64, logIndex uint) domain.Log {
	return domain.Log{
		Address: auctionAddr,
		Topics: []string{
			crypto.Keccak256Hash([]byte(sigKick)).Hex(),
			addrTopic(fromAddr),
		},
		Data:        uintWord(wadInt(1000)),
		BlockNumber: block,
		TxHash:      "0xkicktx",
		LogIndex:    logIndex,
	}
}

func takeLog(block uint64, logIndex uint) domain.Log {
	return domain.Log{
		Address: auctionAddr,
		Topics: []string{
			crypto.Keccak256Hash([]byte(sigTake)).Hex(),
			addrTopic(fromAddr),
			addrTopic(takerAddr),
		},
		Data:        append(uintWord(wadInt(10)), uintWord(wadInt(25))...),
		BlockNumber: block,
		TxHash:      "0xtaketx",
		LogIndex:    logIndex,
	}
}

func newTestEngine(chain *fakeChain, cursors *fakeCursors, writer *fakeWriter, cfg EngineConfig) *Engine {
	return newTestEngineRounds(chain, cursors, writer, &fakeRounds{}, cfg)
}

func newTestEngineRounds(chain *fakeChain, cursors *fakeCursors, writer *fakeWriter, rounds *fakeRounds, cfg EngineConfig) *Engine {
	src := domain.Source{
		NetworkID:  chain.networkID,
		Address:    sourceAddr,
		Version:    domain.SchemaModern,
		StartBlock: 100,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(chain, []domain.Source{src}, cursors, fakeAuctions{}, rounds, writer, cfg, log)
}

func defaultCfg() EngineConfig {
	return EngineConfig{
		MaxBlockRange:     1000,
		PollInterval:      time.Second,
		ConfirmationDepth: 10,
	}
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestProcessSourceDiscoversAndScansSameRange(t *testing.T) {
	chain := &fakeChain{
		networkID: 1,
		head:      200,
		logs: []domain.Log{
			modernDeployLog(105, 0),
			kickLog(108, 1),
			takeLog(110, 2),
		},
	}
	cursors := &fakeCursors{cursors: map[string]domain.IngestionCursor{}}
	writer := &fakeWriter{cursors: cursors}
	e := newTestEngine(chain, cursors, writer, defaultCfg())

	if err := e.processSource(context.Background(), e.sources[0]); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(writer.batches) != 1 {
		t.Fatalf("%d batches, want 1", len(writer.batches))
	}
	batch := writer.batches[0]
	if batch.FromBlock != 100 || batch.ToBlock != 190 {
		t.Fatalf("range [%d,%d], want [100,190]", batch.FromBlock, batch.ToBlock)
	}
	if len(batch.Auctions) != 1 {
		t.Fatalf("%d auctions, want 1", len(batch.Auctions))
	}
	// The kick and take happened after the deploy within the same scanned
	// range; discovery must pick them up via the second filter pass.
	if len(batch.Rounds) != 1 || len(batch.Takes) != 1 {
		t.Fatalf("rounds=%d takes=%d, want 1/1", len(batch.Rounds), len(batch.Takes))
	}
	if len(batch.Events) != 3 {
		t.Fatalf("%d outbox events, want 3", len(batch.Events))
	}
	if len(chain.filterCalls) != 2 {
		t.Fatalf("%d filter calls, want 2 (source pass + discovery pass)", len(chain.filterCalls))
	}

	a := batch.Auctions[0]
	if a.Address != auctionAddr || a.AuctionLength != 3600 {
		t.Fatalf("auction = %+v", a)
	}
	r := batch.Rounds[0]
	if r.InitialQuantity != 1000 || r.RemainingQuantity != 1000 {
		t.Fatalf("round quantities = %v/%v, want 1000/1000", r.InitialQuantity, r.RemainingQuantity)
	}
	if want := r.OpenedAt.Add(3600 * time.Second); !r.ClosesAt.Equal(want) {
		t.Fatalf("closes_at = %v, want %v", r.ClosesAt, want)
	}
	tk := batch.Takes[0]
	if tk.QtyIn != 10 || tk.QtyOut != 25 || tk.Price != 2.5 {
		t.Fatalf("take = %+v", tk)
	}
	if want := domain.UniqKey(1, "0xtaketx", 2); batch.Events[2].UniqKey != want {
		t.Fatalf("take uniq key = %q, want %q", batch.Events[2].UniqKey, want)
	}
}

func TestProcessSourceCapsBlockRange(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxBlockRange = 500

	chain := &fakeChain{networkID: 1, head: 10_000}
	cursors := &fakeCursors{cursors: map[string]domain.IngestionCursor{}}
	writer := &fakeWriter{cursors: cursors}
	e := newTestEngine(chain, cursors, writer, cfg)

	if err := e.processSource(context.Background(), e.sources[0]); err != nil {
		t.Fatalf("process: %v", err)
	}
	batch := writer.batches[0]
	if batch.FromBlock != 100 || batch.ToBlock != 599 {
		t.Fatalf("range [%d,%d], want [100,599]", batch.FromBlock, batch.ToBlock)
	}

	// The next tick resumes where the committed batch ended.
	if err := e.processSource(context.Background(), e.sources[0]); err != nil {
		t.Fatalf("process: %v", err)
	}
	batch = writer.batches[1]
	if batch.FromBlock != 600 || batch.ToBlock != 1099 {
		t.Fatalf("range [%d,%d], want [600,1099]", batch.FromBlock, batch.ToBlock)
	}
}

func TestProcessSourceRespectsConfirmationDepth(t *testing.T) {
	chain := &fakeChain{networkID: 1, head: 150}
	cursors := &fakeCursors{cursors: map[string]domain.IngestionCursor{}}
	writer := &fakeWriter{cursors: cursors}
	e := newTestEngine(chain, cursors, writer, defaultCfg())

	if err := e.processSource(context.Background(), e.sources[0]); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := writer.batches[0].ToBlock; got != 140 {
		t.Fatalf("to = %d, want head-depth = 140", got)
	}
}

func TestProcessSourceNothingNew(t *testing.T) {
	chain := &fakeChain{networkID: 1, head: 200}
	cursors := &fakeCursors{cursors: map[string]domain.IngestionCursor{
		sourceAddr: {NetworkID: 1, SourceAddress: sourceAddr, LastProcessedBlock: 190},
	}}
	writer := &fakeWriter{cursors: cursors}
	e := newTestEngine(chain, cursors, writer, defaultCfg())

	if err := e.processSource(context.Background(), e.sources[0]); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(writer.batches) != 0 {
		t.Fatalf("no batch expected when head-depth <= cursor, got %d", len(writer.batches))
	}
}

func TestProcessSourceFailedBatchLeavesStateUntouched(t *testing.T) {
	chain := &fakeChain{
		networkID: 1,
		head:      200,
		logs:      []domain.Log{modernDeployLog(105, 0)},
	}
	cursors := &fakeCursors{cursors: map[string]domain.IngestionCursor{}}
	writer := &fakeWriter{cursors: cursors, err: errors.New("deadlock detected")}
	e := newTestEngine(chain, cursors, writer, defaultCfg())

	if err := e.processSource(context.Background(), e.sources[0]); err == nil {
		t.Fatal("expected batch failure to propagate")
	}
	if len(e.known[sourceAddr]) != 0 {
		t.Fatal("rolled-back auctions must not enter the in-memory filter")
	}
	if _, ok := cursors.cursors[sourceAddr]; ok {
		t.Fatal("cursor must not advance on a failed batch")
	}

	// Recovery: the same range is rescanned and commits cleanly.
	writer.err = nil
	if err := e.processSource(context.Background(), e.sources[0]); err != nil {
		t.Fatalf("retry: %v", err)
	}
	batch := writer.batches[0]
	if batch.FromBlock != 100 {
		t.Fatalf("retry from = %d, want 100", batch.FromBlock)
	}
	if len(batch.Auctions) != 1 {
		t.Fatalf("retry found %d auctions, want 1", len(batch.Auctions))
	}
	if len(e.known[sourceAddr]) != 1 {
		t.Fatal("committed auction must enter the in-memory filter")
	}
}

func TestReconcileTargetsRoundOfEachToken(t *testing.T) {
	tokenB := "0x6666666666666666666666666666666666666666"
	chain := &fakeChain{
		networkID: 1,
		available: map[string]*big.Int{
			auctionAddr + ":" + fromAddr: wadInt(900),
			auctionAddr + ":" + tokenB:   wadInt(400),
		},
	}
	cursors := &fakeCursors{cursors: map[string]domain.IngestionCursor{}}
	writer := &fakeWriter{cursors: cursors}
	rounds := &fakeRounds{latest: map[string]domain.Round{
		auctionAddr + ":" + fromAddr: {RoundID: 1, FromToken: fromAddr, RemainingQuantity: 950},
		auctionAddr + ":" + tokenB:   {RoundID: 2, FromToken: tokenB, RemainingQuantity: 400},
	}}
	e := newTestEngineRounds(chain, cursors, writer, rounds, defaultCfg())

	e.reconcile(context.Background(), map[reconcileKey]bool{
		{auction: auctionAddr, fromToken: fromAddr}: true,
		{auction: auctionAddr, fromToken: tokenB}:   true,
	})

	// Token B's round already matches the contract read; only token A's
	// round drifted, and the correction must land on that round.
	if len(rounds.writes) != 1 {
		t.Fatalf("%d remaining writes, want 1: %+v", len(rounds.writes), rounds.writes)
	}
	w := rounds.writes[0]
	if w.roundID != 1 || !approx(w.remaining, 900) {
		t.Fatalf("write = %+v, want round 1 set to 900", w)
	}
}
