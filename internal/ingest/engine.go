package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

// EngineConfig holds the operator-tunable ingestion parameters.
type EngineConfig struct {
	MaxBlockRange      uint64
	PollInterval       time.Duration
	ConfirmationDepth  uint64
	ReconcileAvailable bool
}

// Engine advances every source of one network from its cursor to the chain
// head, discovering auctions and recording rounds and takes exactly once.
// Domain rows, outbox rows, and the cursor advance for one scanned range are
// committed in a single transaction by the batch writer; any failure rolls
// the whole range back so the next tick reprocesses it.
type Engine struct {
	client   domain.ChainClient
	sources  []domain.Source
	cursors  domain.CursorStore
	auctions domain.AuctionStore
	rounds   domain.RoundStore
	writer   domain.BatchWriter
	cfg      EngineConfig
	logger   *slog.Logger

	// known maps lowercase auction address -> auction, per source. Loaded
	// from the store at startup and extended as deploys are committed.
	known map[string]map[string]domain.Auction

	// tokenDecimals caches ERC-20 decimals reads by token address.
	tokenDecimals map[string]uint8
}

// NewEngine creates an ingestion engine for one network's sources.
func NewEngine(
	client domain.ChainClient,
	sources []domain.Source,
	cursors domain.CursorStore,
	auctions domain.AuctionStore,
	rounds domain.RoundStore,
	writer domain.BatchWriter,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		client:        client,
		sources:       sources,
		cursors:       cursors,
		auctions:      auctions,
		rounds:        rounds,
		writer:        writer,
		cfg:           cfg,
		logger:        logger.With(slog.String("component", "ingest"), slog.Int64("network_id", client.NetworkID())),
		known:         make(map[string]map[string]domain.Auction),
		tokenDecimals: make(map[string]uint8),
	}
}

// Run executes the polling loop until ctx is cancelled. Each tick processes
// every source independently: one source's failure never blocks another, and
// a failed batch leaves its cursor unchanged for the next tick.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.loadKnown(ctx); err != nil {
		return fmt.Errorf("ingest: load known auctions: %w", err)
	}

	e.logger.InfoContext(ctx, "ingestion engine starting",
		slog.Int("sources", len(e.sources)),
		slog.Duration("poll_interval", e.cfg.PollInterval),
	)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		e.tick(ctx)

		select {
		case <-ctx.Done():
			e.logger.Info("ingestion engine stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick processes every source once, logging and continuing on per-source
// errors.
func (e *Engine) tick(ctx context.Context) {
	for _, src := range e.sources {
		if ctx.Err() != nil {
			return
		}
		if err := e.processSource(ctx, src); err != nil {
			e.logger.ErrorContext(ctx, "source batch failed",
				slog.String("source", src.Address),
				slog.String("error", err.Error()),
			)
		}
	}
}

// loadKnown warms the in-memory auction sets from the store so restart
// resumes with the full address filter.
func (e *Engine) loadKnown(ctx context.Context) error {
	all, err := e.auctions.ListByNetwork(ctx, e.client.NetworkID())
	if err != nil {
		return err
	}
	for _, a := range all {
		e.rememberAuction(a)
	}
	return nil
}

func (e *Engine) rememberAuction(a domain.Auction) {
	set := e.known[a.SourceAddress]
	if set == nil {
		set = make(map[string]domain.Auction)
		e.known[a.SourceAddress] = set
	}
	set[strings.ToLower(a.Address)] = a
}

// processSource advances one source by at most MaxBlockRange blocks.
func (e *Engine) processSource(ctx context.Context, src domain.Source) error {
	networkID := e.client.NetworkID()

	cursor, ok, err := e.cursors.Get(ctx, networkID, src.Address)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	last := cursor.LastProcessedBlock
	if !ok {
		// First run: the start block itself must be scanned.
		if src.StartBlock > 0 {
			last = src.StartBlock - 1
		} else {
			last = 0
		}
	}

	head, err := e.client.HeadBlock(ctx)
	if err != nil {
		return fmt.Errorf("head block: %w", err)
	}
	if head > e.cfg.ConfirmationDepth {
		head -= e.cfg.ConfirmationDepth
	} else {
		head = 0
	}
	if head <= last {
		return nil
	}

	from := last + 1
	to := head
	if to-from+1 > e.cfg.MaxBlockRange {
		to = from + e.cfg.MaxBlockRange - 1
	}

	batch, reconcile, err := e.scanRange(ctx, src, from, to)
	if err != nil {
		return err
	}

	if err := e.writer.ApplyBatch(ctx, batch); err != nil {
		return fmt.Errorf("apply batch [%d,%d]: %w", from, to, err)
	}

	// Only remember auctions once their rows are committed; a rolled-back
	// batch must leave the in-memory state untouched.
	for _, a := range batch.Auctions {
		e.rememberAuction(a)
	}

	if !batch.Empty() {
		e.logger.InfoContext(ctx, "batch committed",
			slog.String("source", src.Address),
			slog.Uint64("from", from),
			slog.Uint64("to", to),
			slog.Int("auctions", len(batch.Auctions)),
			slog.Int("rounds", len(batch.Rounds)),
			slog.Int("takes", len(batch.Takes)),
		)
	}

	if e.cfg.ReconcileAvailable {
		e.reconcile(ctx, reconcile)
	}
	return nil
}

// reconcileKey identifies one (auction, fromToken) pair whose latest round
// should be checked against the contract's available() view.
type reconcileKey struct {
	auction   string
	fromToken string
}

// scanRange fetches and decodes one block range for one source and assembles
// the ingest batch. Decode errors are permanent for the offending log: it is
// skipped and logged, and never blocks the rest of the batch.
func (e *Engine) scanRange(ctx context.Context, src domain.Source, from, to uint64) (domain.IngestBatch, map[reconcileKey]bool, error) {
	networkID := e.client.NetworkID()
	batch := domain.IngestBatch{
		NetworkID:     networkID,
		SourceAddress: src.Address,
		FromBlock:     from,
		ToBlock:       to,
	}
	reconcile := make(map[reconcileKey]bool)

	known := e.known[src.Address]
	addresses := make([]string, 0, len(known)+1)
	addresses = append(addresses, src.Address)
	for addr := range known {
		addresses = append(addresses, addr)
	}

	logs, err := e.client.FilterLogs(ctx, from, to, addresses)
	if err != nil {
		return batch, nil, fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
	}

	// Deploys first: an auction deployed and kicked inside the same range
	// was not in the address filter, so newly discovered auctions get a
	// second pass over the identical range.
	var auctionLogs []domain.Log
	discovered := make(map[string]domain.Auction)
	for _, l := range logs {
		if l.Address != src.Address {
			auctionLogs = append(auctionLogs, l)
			continue
		}
		ev, err := DecodeDeploy(src.Version, l)
		if err != nil {
			e.skipLog(ctx, l, err)
			continue
		}
		a := e.buildAuction(ctx, src, ev)
		batch.Auctions = append(batch.Auctions, a)
		discovered[a.Address] = a
		batch.Events = append(batch.Events, e.deployOutboxEvent(ctx, a, ev))
	}

	if len(discovered) > 0 {
		newAddrs := make([]string, 0, len(discovered))
		for addr := range discovered {
			newAddrs = append(newAddrs, addr)
		}
		extra, err := e.client.FilterLogs(ctx, from, to, newAddrs)
		if err != nil {
			return batch, nil, fmt.Errorf("filter discovered logs [%d,%d]: %w", from, to, err)
		}
		auctionLogs = append(auctionLogs, extra...)
	}

	for _, l := range auctionLogs {
		auction, ok := known[l.Address]
		if !ok {
			auction, ok = discovered[l.Address]
		}
		if !ok {
			// A log from an address the filter no longer recognizes;
			// nothing to associate it with.
			continue
		}

		decoded, err := DecodeAuctionLog(l)
		if err != nil {
			e.skipLog(ctx, l, err)
			continue
		}

		switch ev := decoded.(type) {
		case KickEvent:
			round, err := e.buildRound(ctx, auction, ev)
			if err != nil {
				return batch, nil, err
			}
			batch.Rounds = append(batch.Rounds, round)
			batch.Events = append(batch.Events, e.kickOutboxEvent(auction, round))
		case TakeEvent:
			take, err := e.buildTake(ctx, auction, ev)
			if err != nil {
				return batch, nil, err
			}
			batch.Takes = append(batch.Takes, take)
			batch.Events = append(batch.Events, e.takeOutboxEvent(auction, take))
			reconcile[reconcileKey{auction: auction.Address, fromToken: take.FromToken}] = true
		}
	}

	return batch, reconcile, nil
}

// skipLog records a permanently undecodable log. Poison logs are never
// retried: the cursor still advances past them.
func (e *Engine) skipLog(ctx context.Context, l domain.Log, err error) {
	e.logger.WarnContext(ctx, "skipping undecodable log",
		slog.String("address", l.Address),
		slog.Uint64("block", l.BlockNumber),
		slog.String("tx_hash", l.TxHash),
		slog.Uint64("log_index", uint64(l.LogIndex)),
		slog.String("error", err.Error()),
	)
}

// buildAuction converts a deploy event into an auction row, caching the want
// token's decimals for later quantity conversion. A failed decimals read
// falls back to 18; the common case by far, and reconciliation corrects any
// resulting drift.
func (e *Engine) buildAuction(ctx context.Context, src domain.Source, ev DeployEvent) domain.Auction {
	decimals, err := e.decimalsOf(ctx, ev.Want)
	if err != nil {
		e.logger.WarnContext(ctx, "want token decimals read failed, assuming 18",
			slog.String("token", ev.Want),
			slog.String("error", err.Error()),
		)
		decimals = 18
	}

	discoveredAt, err := e.client.BlockTime(ctx, ev.Raw.BlockNumber)
	if err != nil {
		discoveredAt = time.Now().UTC()
	}

	return domain.Auction{
		Address:        ev.Auction,
		NetworkID:      src.NetworkID,
		SourceAddress:  src.Address,
		Version:        src.Version,
		WantToken:      ev.Want,
		WantDecimals:   decimals,
		UpdateInterval: ev.UpdateInterval,
		StepDecayRate:  ev.StepDecayRate,
		AuctionLength:  ev.AuctionLength,
		StartingPrice:  ev.StartingPrice,
		DeployBlock:    ev.Raw.BlockNumber,
		DeployTxHash:   ev.Raw.TxHash,
		DiscoveredAt:   discoveredAt,
	}
}

// buildRound converts a kick event into a round row. RoundID is assigned by
// the batch writer inside the transaction.
func (e *Engine) buildRound(ctx context.Context, auction domain.Auction, ev KickEvent) (domain.Round, error) {
	openedAt, err := e.client.BlockTime(ctx, ev.Raw.BlockNumber)
	if err != nil {
		return domain.Round{}, fmt.Errorf("block time %d: %w", ev.Raw.BlockNumber, err)
	}

	fromDecimals, err := e.decimalsOf(ctx, ev.FromToken)
	if err != nil {
		e.logger.WarnContext(ctx, "from token decimals read failed, assuming 18",
			slog.String("token", ev.FromToken),
			slog.String("error", err.Error()),
		)
		fromDecimals = 18
	}
	initial := ToQuantity(ev.AvailableRaw, fromDecimals)

	return domain.Round{
		AuctionAddress:    auction.Address,
		NetworkID:         auction.NetworkID,
		FromToken:         ev.FromToken,
		OpenedAt:          openedAt,
		ClosesAt:          openedAt.Add(time.Duration(auction.AuctionLength) * time.Second),
		InitialQuantity:   initial,
		RemainingQuantity: initial,
		KickBlock:         ev.Raw.BlockNumber,
		KickTxHash:        ev.Raw.TxHash,
		KickLogIndex:      ev.Raw.LogIndex,
	}, nil
}

// buildTake converts a take event into a take row. RoundID and Seq are
// assigned by the batch writer inside the transaction.
func (e *Engine) buildTake(ctx context.Context, auction domain.Auction, ev TakeEvent) (domain.Take, error) {
	ts, err := e.client.BlockTime(ctx, ev.Raw.BlockNumber)
	if err != nil {
		return domain.Take{}, fmt.Errorf("block time %d: %w", ev.Raw.BlockNumber, err)
	}

	fromDecimals, err := e.decimalsOf(ctx, ev.FromToken)
	if err != nil {
		fromDecimals = 18
	}

	qtyIn := ToQuantity(ev.AmountTakenRaw, fromDecimals)
	qtyOut := ToQuantity(ev.AmountPaidRaw, auction.WantDecimals)
	price := 0.0
	if qtyIn > 0 {
		price = qtyOut / qtyIn
	}

	return domain.Take{
		AuctionAddress: auction.Address,
		NetworkID:      auction.NetworkID,
		Taker:          ev.Taker,
		FromToken:      ev.FromToken,
		QtyIn:          qtyIn,
		QtyOut:         qtyOut,
		Price:          price,
		BlockNumber:    ev.Raw.BlockNumber,
		TxHash:         ev.Raw.TxHash,
		LogIndex:       ev.Raw.LogIndex,
		Timestamp:      ts,
	}, nil
}

// decimalsOf reads a token's decimals through the per-engine cache.
func (e *Engine) decimalsOf(ctx context.Context, token string) (uint8, error) {
	token = strings.ToLower(token)
	if d, ok := e.tokenDecimals[token]; ok {
		return d, nil
	}
	d, err := e.client.TokenDecimals(ctx, token)
	if err != nil {
		return 0, err
	}
	e.tokenDecimals[token] = d
	return d, nil
}

// reconcile corrects remaining_quantity drift on the latest round of each
// taken auction using the contract's available() view. Failures are logged
// and skipped; the next take triggers another attempt.
func (e *Engine) reconcile(ctx context.Context, keys map[reconcileKey]bool) {
	networkID := e.client.NetworkID()
	for key := range keys {
		avail, err := e.client.AuctionAvailable(ctx, key.auction, key.fromToken)
		if err != nil {
			e.logger.WarnContext(ctx, "available() reconciliation read failed",
				slog.String("auction", key.auction),
				slog.String("error", err.Error()),
			)
			continue
		}

		fromDecimals, err := e.decimalsOf(ctx, key.fromToken)
		if err != nil {
			continue
		}

		round, err := e.rounds.Latest(ctx, networkID, key.auction, key.fromToken)
		if err != nil {
			continue
		}

		remaining := ToQuantity(avail, fromDecimals)
		if remaining == round.RemainingQuantity {
			continue
		}
		if err := e.rounds.SetRemaining(ctx, networkID, key.auction, round.RoundID, remaining); err != nil {
			e.logger.WarnContext(ctx, "reconciliation write failed",
				slog.String("auction", key.auction),
				slog.Int64("round_id", round.RoundID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ---------------------------------------------------------------------------
// Outbox event assembly. One outbox row per accepted log, written in the same
// transaction as the domain rows.
// ---------------------------------------------------------------------------

func (e *Engine) deployOutboxEvent(ctx context.Context, a domain.Auction, ev DeployEvent) domain.OutboxEvent {
	payload, _ := json.Marshal(map[string]interface{}{
		"auction":         a.Address,
		"want":            a.WantToken,
		"schema_version":  string(a.Version),
		"update_interval": a.UpdateInterval,
		"step_decay_rate": a.StepDecayRate,
		"auction_length":  a.AuctionLength,
		"starting_price":  a.StartingPrice,
	})
	return e.outboxEvent(domain.EventAuctionDeployed, ev.Raw, domain.EventEnvelope{
		AuctionAddress: a.Address,
		WantToken:      a.WantToken,
		Timestamp:      a.DiscoveredAt,
		Payload:        payload,
	})
}

func (e *Engine) kickOutboxEvent(a domain.Auction, round domain.Round) domain.OutboxEvent {
	payload, _ := json.Marshal(map[string]interface{}{
		"auction":          a.Address,
		"from_token":       round.FromToken,
		"initial_quantity": round.InitialQuantity,
		"closes_at":        round.ClosesAt.UTC().Format(time.RFC3339),
	})
	raw := domain.Log{
		Address:     a.Address,
		BlockNumber: round.KickBlock,
		TxHash:      round.KickTxHash,
		LogIndex:    round.KickLogIndex,
	}
	return e.outboxEvent(domain.EventRoundKicked, raw, domain.EventEnvelope{
		AuctionAddress: a.Address,
		FromToken:      round.FromToken,
		WantToken:      a.WantToken,
		Timestamp:      round.OpenedAt,
		Payload:        payload,
	})
}

func (e *Engine) takeOutboxEvent(a domain.Auction, take domain.Take) domain.OutboxEvent {
	payload, _ := json.Marshal(map[string]interface{}{
		"auction":    a.Address,
		"from_token": take.FromToken,
		"taker":      take.Taker,
		"qty_in":     take.QtyIn,
		"qty_out":    take.QtyOut,
		"price":      take.Price,
	})
	raw := domain.Log{
		Address:     a.Address,
		BlockNumber: take.BlockNumber,
		TxHash:      take.TxHash,
		LogIndex:    take.LogIndex,
	}
	return e.outboxEvent(domain.EventTake, raw, domain.EventEnvelope{
		AuctionAddress: a.Address,
		FromToken:      take.FromToken,
		WantToken:      a.WantToken,
		Timestamp:      take.Timestamp,
		Payload:        payload,
	})
}

// outboxEvent fills the envelope's common fields from the raw log and wraps
// it into an outbox row keyed by network_id:tx_hash:log_index.
func (e *Engine) outboxEvent(typ domain.EventType, raw domain.Log, env domain.EventEnvelope) domain.OutboxEvent {
	networkID := e.client.NetworkID()
	env.Type = typ
	env.NetworkID = networkID
	env.BlockNumber = raw.BlockNumber
	env.TxHash = raw.TxHash
	env.LogIndex = raw.LogIndex
	env.UniqKey = domain.UniqKey(networkID, raw.TxHash, raw.LogIndex)
	env.Version = domain.EnvelopeVersion

	payload, _ := json.Marshal(env)
	return domain.OutboxEvent{
		Type:        typ,
		NetworkID:   networkID,
		BlockNumber: raw.BlockNumber,
		TxHash:      raw.TxHash,
		LogIndex:    raw.LogIndex,
		Payload:     payload,
		UniqKey:     env.UniqKey,
	}
}
