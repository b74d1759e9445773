package catalog

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/pulse/internal/common"
	"github.com/bobmcallan/pulse/internal/interfaces"
	"github.com/bobmcallan/pulse/internal/models"
)

// Key fallbacks for the polymorphic catalog payloads.
var (
	childKeys = []string{"childList", "child_list", "children"}
	topicKeys = []string{"topicId", "topic_id"}
	chainKeys = []string{"chainId", "chain_id"}
)

// walker holds the state of one catalog walk. Circuit breakers and
// lookup memos are per walk; a new refresh starts clean.
type walker struct {
	client interfaces.VenueClient
	logger *common.Logger
	emit   func(*models.Stream)

	pageSize    int
	pageWorkers int

	detail *breaker
	multi  *breaker

	detailMemo map[string]lookupResult
	multiMemo  map[string]lookupResult
}

// lookupResult memoizes one endpoint lookup. Negative outcomes are
// memoized too, so each topic hits each endpoint at most once per walk.
type lookupResult struct {
	payload models.Payload
	ok      bool
}

func newWalker(client interfaces.VenueClient, logger *common.Logger, cfg *common.MonitorConfig, emit func(*models.Stream)) *walker {
	return &walker{
		client:      client,
		logger:      logger,
		emit:        emit,
		pageSize:    cfg.PageSize,
		pageWorkers: cfg.PageWorkers,
		detail:      &breaker{name: "detail", stop: cfg.DetailNotFoundStop},
		multi:       &breaker{name: "multi", stop: cfg.MultiNotFoundStop},
		detailMemo:  make(map[string]lookupResult),
		multiMemo:   make(map[string]lookupResult),
	}
}

// breaker disables an endpoint for the remainder of a walk after a run
// of consecutive topic not-found responses. Other errors leave the
// counter untouched; any success resets it.
type breaker struct {
	name    string
	stop    int
	misses  int
	tripped bool
}

func (b *breaker) allow() bool {
	return !b.tripped
}

// record consumes one lookup outcome and reports whether this outcome
// tripped the breaker.
func (b *breaker) record(err error) bool {
	if err == nil {
		b.misses = 0
		return false
	}
	if !interfaces.IsTopicNotFound(err) {
		return false
	}
	b.misses++
	if !b.tripped && b.misses >= b.stop {
		b.tripped = true
		return true
	}
	return false
}

// pageResult carries one fetched catalog page.
type pageResult struct {
	page    int
	entries []models.Payload
	total   int
	err     error
}

// run walks the catalog from page 1 until a termination condition:
// an empty page, the reported total reached, or a short page when no
// total is known. Pages are fetched in batches of pageWorkers; entries
// are reconciled sequentially in page order so breaker and memo state
// need no locks.
func (w *walker) run(ctx context.Context) error {
	for start := 1; ; start += w.pageWorkers {
		if err := ctx.Err(); err != nil {
			return err
		}

		results := w.fetchBatch(ctx, start)
		failed := 0

		for _, pr := range results {
			if pr.err != nil {
				failed++
				w.logger.Warn().Int("page", pr.page).Err(pr.err).Msg("Catalog page fetch failed")
				continue
			}
			if len(pr.entries) == 0 {
				return nil
			}

			for _, entry := range pr.entries {
				w.reconcile(ctx, entry)
			}

			if pr.total > 0 {
				lastPage := (pr.total + w.pageSize - 1) / w.pageSize
				if pr.page >= lastPage {
					return nil
				}
			} else if len(pr.entries) < w.pageSize {
				return nil
			}
		}

		// A single failed page is skipped, but a batch with no surviving
		// page cannot make progress.
		if failed == len(results) {
			return fmt.Errorf("all %d pages in batch starting at %d failed", failed, start)
		}
	}
}

// fetchBatch fetches pageWorkers consecutive pages concurrently.
func (w *walker) fetchBatch(ctx context.Context, start int) []pageResult {
	results := make([]pageResult, w.pageWorkers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.pageWorkers; i++ {
		i := i
		g.Go(func() error {
			pageNo := start + i
			page, err := w.client.ListTopics(gctx, pageNo, w.pageSize)
			if err != nil {
				results[i] = pageResult{page: pageNo, err: err}
				return nil
			}
			results[i] = pageResult{page: pageNo, entries: page.Entries, total: page.Total}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// reconcile normalizes one catalog entry: children are attached from
// the multi endpoint when the list entry has none, activation is
// refined via the detail endpoint when the entry alone cannot decide,
// and multi parents on an alternate chain are emitted as markets of
// their own.
func (w *walker) reconcile(ctx context.Context, entry models.Payload) {
	now := w.client.Now(ctx)
	topicID := entry.Str(topicKeys...)

	children := entry.List(childKeys...)
	authoritative := entry
	alternateChain := false

	if len(children) == 0 && topicID != "" {
		if multi, ok := w.lookup(ctx, w.multi, w.multiMemo, w.client.GetMultiDetail, topicID); ok {
			if multiChildren := multi.List(childKeys...); len(multiChildren) > 0 {
				authoritative = multi
				children = multiChildren

				entryChain, _ := entry.Int(chainKeys...)
				multiChain, _ := multi.Int(chainKeys...)
				alternateChain = multiChain != entryChain
			}
		}
	}

	if alternateChain {
		// The venue reuses topicId across chains: the list entry and
		// the multi parent are distinct markets.
		if w.entryActive(ctx, entry, topicID, now) {
			if s := normalizeStream(entry, false, now); s != nil {
				w.emit(s)
			}
		}
		if parent := normalizeStream(authoritative, true, now); parent != nil {
			w.emit(parent)
			w.reconcileChildren(children, authoritative, parent, now)
		}
		return
	}

	if len(children) > 0 {
		if parent := normalizeStream(entry, true, now); parent != nil {
			w.emit(parent)
			w.reconcileChildren(children, authoritative, parent, now)
		}
		return
	}

	if w.entryActive(ctx, entry, topicID, now) {
		if s := normalizeStream(entry, false, now); s != nil {
			w.emit(s)
		}
	}
}

// reconcileChildren emits the active children of a multi parent. The
// parent's statusEnum stands in for children that carry no status of
// their own, and children inherit the parent's chain and topic when
// they lack them.
func (w *walker) reconcileChildren(children []models.Payload, parent models.Payload, parentStream *models.Stream, now int64) {
	parentID := payloadMarketID(parent)
	if parentID == 0 {
		parentID = parentStream.MarketID
	}
	parentStatus := parent.Str("statusEnum", "status_enum")
	parentChain, _ := parent.Int(chainKeys...)
	parentTopic := parent.Str(topicKeys...)

	for _, child := range children {
		active, decided := activity(child, parentStatus, now)
		if !decided || !active {
			continue
		}
		s := normalizeStream(child, false, now)
		if s == nil {
			continue
		}
		s.ParentMarketID = parentID
		if s.ChainID == 0 {
			s.ChainID = parentChain
		}
		if s.TopicID == "" {
			s.TopicID = parentTopic
		}
		w.emit(s)
	}
}

// entryActive decides the list entry's own activation, spending one
// detail lookup when the entry carries no status signal.
func (w *walker) entryActive(ctx context.Context, entry models.Payload, topicID string, now int64) bool {
	active, decided := activity(entry, "", now)
	if decided {
		return active
	}
	if topicID == "" {
		return false
	}
	detail, ok := w.lookup(ctx, w.detail, w.detailMemo, w.client.GetTopicDetail, topicID)
	if !ok {
		return false
	}
	active, _ = activity(detail, "", now)
	return active
}

// lookup queries one endpoint through its breaker and memo.
func (w *walker) lookup(ctx context.Context, b *breaker, memo map[string]lookupResult, fetch func(context.Context, string) (models.Payload, error), topicID string) (models.Payload, bool) {
	if r, seen := memo[topicID]; seen {
		return r.payload, r.ok
	}
	if !b.allow() {
		return nil, false
	}

	payload, err := fetch(ctx, topicID)
	if tripped := b.record(err); tripped {
		w.logger.Warn().Str("endpoint", b.name).Int("misses", b.misses).Msg("Endpoint disabled for remainder of walk")
	}
	if err != nil {
		if interfaces.IsTopicNotFound(err) {
			w.logger.Debug().Str("topic_id", topicID).Str("endpoint", b.name).Msg("Topic not found")
		} else {
			w.logger.Warn().Str("topic_id", topicID).Str("endpoint", b.name).Err(err).Msg("Topic lookup failed")
		}
		memo[topicID] = lookupResult{}
		return nil, false
	}

	memo[topicID] = lookupResult{payload: payload, ok: true}
	return payload, true
}

// activity evaluates whether a payload describes a currently active
// market: an Activated status (numeric status 2 and the inherited
// fallback also qualify) with neither resolvedAt nor cutoffAt in the
// past. decided is false when the payload carries no status signal.
func activity(p models.Payload, fallbackStatus string, now int64) (active, decided bool) {
	status := p.Str("statusEnum", "status_enum")
	statusNum, hasNum := p.Int("status")

	switch {
	case status != "":
		active = status == "Activated"
	case hasNum:
		active = statusNum == 2
	case fallbackStatus != "":
		active = fallbackStatus == "Activated"
	default:
		return false, false
	}
	if !active {
		return false, true
	}

	if v, ok := p.Float("resolvedAt", "resolved_at"); ok {
		if ms := common.EpochToMillis(v); ms > 0 && ms <= now {
			return false, true
		}
	}
	if v, ok := p.Float("cutoffAt", "cutoff_at"); ok {
		if ms := common.EpochToMillis(v); ms > 0 && ms <= now {
			return false, true
		}
	}
	return true, true
}

// normalizeStream maps a raw catalog payload onto a Stream. hasChildren
// forces the multi-parent market type regardless of the payload's own
// type fields. Entries that resolve to neither a token nor a
// multi-parent placeholder are dropped.
func normalizeStream(p models.Payload, hasChildren bool, now int64) *models.Stream {
	marketID := payloadMarketID(p)
	if marketID == 0 {
		return nil
	}

	marketType := 0
	if hasChildren {
		marketType = models.MarketTypeMultiParent
	} else if t, ok := p.Int("marketType", "market_type"); ok {
		marketType = int(t)
	} else if t, ok := p.Int("topicType", "topic_type"); ok {
		marketType = int(t)
	}

	token := p.Str("yesTokenId", "yes_token_id", "yesPos", "yes_pos")
	if token == "" {
		if marketType != models.MarketTypeMultiParent {
			return nil
		}
		token = models.MultiParentTokenID(marketID)
	}

	title := p.Str("marketTitle", "market_title", "title")
	if title == "" {
		title = fmt.Sprintf("market-%d", marketID)
	}

	chainID, _ := p.Int(chainKeys...)

	var cutoff int64
	if v, ok := p.Float("cutoffAt", "cutoff_at"); ok {
		cutoff = common.EpochToMillis(v)
	}

	return &models.Stream{
		MarketID:   marketID,
		YesTokenID: token,
		Title:      title,
		TopicID:    p.Str(topicKeys...),
		MarketType: marketType,
		ChainID:    chainID,
		CutoffAt:   cutoff,
		UpdatedAt:  now,
	}
}

// payloadMarketID extracts the market id, falling back to the numeric
// topic id for parents keyed only by topic.
func payloadMarketID(p models.Payload) int64 {
	if id, ok := p.Int("marketId", "market_id"); ok && id != 0 {
		return id
	}
	if id, ok := p.Int(topicKeys...); ok && id > 0 {
		return id
	}
	return 0
}
