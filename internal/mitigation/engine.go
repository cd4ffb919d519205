package mitigation

import (
	"fmt"
	"math"
	"math/rand"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ddosguard/internal/logger"
	"ddosguard/pkg/models"
)

// BlockStore persists BlockRecords. Implementations must fail fast; the
// engine logs store errors and keeps its in-memory state authoritative.
type BlockStore interface {
	Upsert(rec *models.BlockRecord) error
	Get(sourceID string) (*models.BlockRecord, error)
	ListActive(now time.Time) ([]*models.BlockRecord, error)
	Delete(sourceID string) error
}

const (
	// decayFactor ages a source's stored score between sightings.
	decayFactor = 0.85
	// minSourceIDLen rejects obviously malformed source identifiers.
	minSourceIDLen = 7
	// rateLimitEscalation: more than this many rate limits escalates to
	// challenge.
	rateLimitEscalation = 5
	// challengeEscalationScore / challengeEscalationCount: a challenged
	// source past either bound is blocked at medium severity.
	challengeEscalationScore = 0.7
	challengeEscalationCount = 10
	// pruneProbability samples queue pruning so inserts stay O(log n).
	pruneProbability = 0.05
	// Co-activity linking: sources scoring at least hotScore within
	// hotWindow of each other are connected in the relationship graph.
	hotScore   = 0.5
	hotWindow  = 10 * time.Second
	hotFanout  = 16
	actionsCap = 1000
	// idleStateAge bounds the per-source escalation-state map.
	idleStateAge = time.Hour
)

// Config controls the escalation engine.
type Config struct {
	LightThreshold     float64
	MediumThreshold    float64
	SevereThreshold    float64
	CacheCapacity      int
	GlobalWindow       time.Duration
	SourceWindow       time.Duration
	QueueMaxAge        time.Duration
	QueueHardLimit     int
	LowTrustRanges     []string
	LowTrustMultiplier float64
	BlockDurations     BlockDurations
}

// BlockDurations maps severity to block duration; zero means permanent.
type BlockDurations struct {
	Light  time.Duration
	Medium time.Duration
	Severe time.Duration
}

// rateState holds the authoritative per-source escalation counters.
type rateState struct {
	rateLimitCount int
	decayedScore   float64
	lastSeen       time.Time
}

type hotSource struct {
	sourceID string
	ts       time.Time
}

// Engine owns all mitigation state and drives the per-source escalation
// state machine. All exported methods are safe for concurrent use.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	cache     *RecencyCache
	graph     *RelationshipGraph
	queue     *ThreatQueue
	global    *WindowCounter
	perSource *KeyedWindowCounter

	rates  map[string]*rateState
	blocks map[string]*models.BlockRecord
	hot    []hotSource

	actions           []*models.MitigationAction
	activeMitigations uint64

	lowTrust      []netip.Prefix
	sessionActive bool

	store BlockStore

	now       func() time.Time
	randFloat func() float64
}

// NewEngine creates an engine. store may be nil for in-memory-only
// operation.
func NewEngine(cfg Config, store BlockStore) (*Engine, error) {
	if cfg.LightThreshold <= 0 {
		cfg.LightThreshold = 0.4
	}
	if cfg.MediumThreshold <= 0 {
		cfg.MediumThreshold = 0.6
	}
	if cfg.SevereThreshold <= 0 {
		cfg.SevereThreshold = 0.8
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = 1000
	}
	if cfg.GlobalWindow <= 0 {
		cfg.GlobalWindow = 300 * time.Second
	}
	if cfg.SourceWindow <= 0 {
		cfg.SourceWindow = 60 * time.Second
	}
	if cfg.QueueMaxAge <= 0 {
		cfg.QueueMaxAge = time.Hour
	}
	if cfg.QueueHardLimit <= 0 {
		cfg.QueueHardLimit = 10000
	}
	if cfg.LowTrustMultiplier <= 0 || cfg.LowTrustMultiplier > 1 {
		cfg.LowTrustMultiplier = 0.85
	}
	if cfg.BlockDurations == (BlockDurations{}) {
		cfg.BlockDurations = BlockDurations{
			Light:  10 * time.Minute,
			Medium: time.Hour,
			Severe: 24 * time.Hour,
		}
	}

	lowTrust := make([]netip.Prefix, 0, len(cfg.LowTrustRanges))
	for _, raw := range cfg.LowTrustRanges {
		p, err := netip.ParsePrefix(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("parse low-trust range %q: %w", raw, err)
		}
		lowTrust = append(lowTrust, p)
	}

	return &Engine{
		cfg:       cfg,
		cache:     NewRecencyCache(cfg.CacheCapacity),
		graph:     NewRelationshipGraph(),
		queue:     NewThreatQueue(),
		global:    NewWindowCounter(cfg.GlobalWindow),
		perSource: NewKeyedWindowCounter(cfg.SourceWindow),
		rates:     make(map[string]*rateState),
		blocks:    make(map[string]*models.BlockRecord),
		lowTrust:  lowTrust,
		store:     store,
		now:       time.Now,
		randFloat: rand.Float64,
	}, nil
}

// Mitigate processes one (source, anomaly score) update and returns the
// action to apply plus the newly recorded audit entry. The entry is nil when
// nothing was recorded: for ActionNone, and for the already-blocked
// short-circuit, which repeats the standing decision without appending to the
// audit log. Malformed source ids yield ActionNone without mutating state.
func (e *Engine) Mitigate(sourceID string, anomalyScore float64) (models.Action, *models.MitigationAction) {
	sourceID = strings.TrimSpace(sourceID)
	if len(sourceID) < minSourceIDLen {
		logger.Warnf("mitigation: rejected invalid source id %q", sourceID)
		return models.ActionNone, nil
	}
	anomalyScore = clamp01(anomalyScore)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.global.Add(now)
	e.perSource.Add(sourceID, now)
	perRate := e.perSource.Rate(sourceID, now)

	st := e.rates[sourceID]
	if st == nil {
		st = &rateState{}
		e.rates[sourceID] = st
	}
	st.decayedScore = math.Max(anomalyScore, st.decayedScore*decayFactor)
	st.lastSeen = now

	node := e.graph.Observe(sourceID, anomalyScore, now)
	e.linkHotSources(sourceID, anomalyScore, now)

	e.cache.Put(CacheEntry{
		SourceID:      sourceID,
		LastScore:     anomalyScore,
		LastSeen:      now,
		RequestRate:   perRate,
		TotalRequests: e.perSource.Count(sourceID, now),
	})

	e.queue.Push(node.ThreatScore, now, sourceID)
	if e.randFloat() < pruneProbability || e.queue.Len() > e.cfg.QueueHardLimit {
		e.queue.Prune(now.Add(-e.cfg.QueueMaxAge))
	}

	if e.activeBlockLocked(sourceID, now) != nil {
		return models.ActionBlock, nil
	}

	level := e.combinedThreatLocked(sourceID, anomalyScore, perRate, node, st, now)

	light, medium, severe := e.cfg.LightThreshold, e.cfg.MediumThreshold, e.cfg.SevereThreshold
	if e.isLowTrust(sourceID) {
		light *= e.cfg.LowTrustMultiplier
		medium *= e.cfg.LowTrustMultiplier
		severe *= e.cfg.LowTrustMultiplier
	}

	var action models.Action
	var severity models.Severity
	switch {
	case level >= severe:
		severity = models.SeveritySevere
		e.blockLocked(sourceID, severity, level, now)
		action = models.ActionBlock
	case level >= medium:
		action, severity = e.challengeLocked(sourceID, st, level, now)
	case level >= light:
		st.rateLimitCount++
		if st.rateLimitCount > rateLimitEscalation {
			action, severity = e.challengeLocked(sourceID, st, level, now)
		} else {
			action = models.ActionRateLimit
		}
	default:
		return models.ActionNone, nil
	}

	return action, e.recordActionLocked(sourceID, action, severity, level, now)
}

// challengeLocked issues a challenge, escalating to a medium block when the
// source's decayed score or rate-limit count is already past bounds.
func (e *Engine) challengeLocked(sourceID string, st *rateState, level float64, now time.Time) (models.Action, models.Severity) {
	if st.decayedScore > challengeEscalationScore || st.rateLimitCount > challengeEscalationCount {
		e.blockLocked(sourceID, models.SeverityMedium, level, now)
		return models.ActionBlock, models.SeverityMedium
	}
	return models.ActionChallenge, ""
}

// blockLocked upserts the block record. Expiry is only ever extended;
// severity is only ever raised.
func (e *Engine) blockLocked(sourceID string, severity models.Severity, level float64, now time.Time) {
	var expires *time.Time
	if d := e.blockDuration(severity); d > 0 {
		t := now.Add(d)
		expires = &t
	}

	rec := e.blocks[sourceID]
	if rec != nil && rec.Active(now) {
		if rec.Severity.Rank() > severity.Rank() {
			severity = rec.Severity
		}
		if rec.ExpiresAt == nil {
			expires = nil
		} else if expires != nil && rec.ExpiresAt.After(*expires) {
			expires = rec.ExpiresAt
		}
	}

	rec = &models.BlockRecord{
		SourceID:  sourceID,
		Severity:  severity,
		BlockedAt: now,
		ExpiresAt: expires,
		Reason:    fmt.Sprintf("combined threat level %.2f", level),
	}
	e.blocks[sourceID] = rec
	logger.Infof("mitigation: blocked %s severity=%s expires=%v", sourceID, severity, expires)

	if e.store != nil {
		if err := e.store.Upsert(rec); err != nil {
			logger.Warnf("mitigation: block store upsert for %s failed: %v", sourceID, err)
		}
	}
}

func (e *Engine) blockDuration(severity models.Severity) time.Duration {
	switch severity {
	case models.SeveritySevere:
		return e.cfg.BlockDurations.Severe
	case models.SeverityMedium:
		return e.cfg.BlockDurations.Medium
	default:
		return e.cfg.BlockDurations.Light
	}
}

// activeBlockLocked returns the unexpired block for the source, lazily
// dropping an expired one.
func (e *Engine) activeBlockLocked(sourceID string, now time.Time) *models.BlockRecord {
	rec := e.blocks[sourceID]
	if rec == nil {
		return nil
	}
	if rec.Active(now) {
		return rec
	}
	delete(e.blocks, sourceID)
	if e.store != nil {
		if err := e.store.Delete(sourceID); err != nil {
			logger.Warnf("mitigation: block store delete for %s failed: %v", sourceID, err)
		}
	}
	return nil
}

func (e *Engine) combinedThreatLocked(sourceID string, anomalyScore, perRate float64, node *SourceNode, st *rateState, now time.Time) float64 {
	rateFactor := 0.0
	if active := e.perSource.ActiveKeys(now); active > 0 {
		if globalRate := e.global.Rate(now); globalRate > 0 {
			avg := globalRate / float64(active)
			rateFactor = math.Min(1, perRate/(3*avg))
		}
	}

	graphFactor := 0.0
	if node != nil {
		graphFactor = math.Min(1, (float64(len(node.Connections))/10+node.Weight)/2)
	}

	historyFactor := math.Min(1, st.decayedScore)

	return clamp01(0.5*anomalyScore + 0.2*rateFactor + 0.2*graphFactor + 0.1*historyFactor)
}

// linkHotSources connects sources that score high within a short window of
// each other, so coordinated floods form connected components.
func (e *Engine) linkHotSources(sourceID string, score float64, now time.Time) {
	if score < hotScore {
		return
	}
	cutoff := now.Add(-hotWindow)
	kept := e.hot[:0]
	for _, h := range e.hot {
		if !h.ts.After(cutoff) {
			continue
		}
		kept = append(kept, h)
		if h.sourceID != sourceID {
			e.graph.Connect(sourceID, h.sourceID)
		}
	}
	e.hot = kept

	for i, h := range e.hot {
		if h.sourceID == sourceID {
			e.hot[i].ts = now
			return
		}
	}
	e.hot = append(e.hot, hotSource{sourceID: sourceID, ts: now})
	if len(e.hot) > hotFanout {
		e.hot = e.hot[len(e.hot)-hotFanout:]
	}
}

func (e *Engine) recordActionLocked(sourceID string, action models.Action, severity models.Severity, level float64, now time.Time) *models.MitigationAction {
	e.activeMitigations++
	rec := &models.MitigationAction{
		ID:        uuid.NewString(),
		Timestamp: now,
		SourceID:  sourceID,
		Action:    action,
		Severity:  severity,
		Threat:    level,
	}
	e.actions = append(e.actions, rec)
	if len(e.actions) > actionsCap {
		e.actions = e.actions[len(e.actions)-actionsCap:]
	}
	return rec
}

func (e *Engine) isLowTrust(sourceID string) bool {
	if len(e.lowTrust) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(sourceID)
	if err != nil {
		return false
	}
	for _, p := range e.lowTrust {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// RecentActions returns up to n most recent logged actions, newest last.
func (e *Engine) RecentActions(n int) []*models.MitigationAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.actions) {
		n = len(e.actions)
	}
	out := make([]*models.MitigationAction, n)
	copy(out, e.actions[len(e.actions)-n:])
	return out
}

// GetBlocked returns all blocks active at the given time, newest first.
// Expired records are dropped lazily.
func (e *Engine) GetBlocked(now time.Time) []models.BlockRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.BlockRecord, 0, len(e.blocks))
	for id := range e.blocks {
		if rec := e.activeBlockLocked(id, now); rec != nil {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockedAt.After(out[j].BlockedAt) })
	return out
}

// SetSessionActive flags whether a traffic-generation session is running;
// Cleanup only purges low-trust state while no session is active. The flag
// defaults to false (purges enabled) and is set by external generators via
// the engine's owner, or from the mitigation.session_active config key at
// startup.
func (e *Engine) SetSessionActive(active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionActive = active
}

// Cleanup purges expired blocks and, when no generation session is active,
// low-trust-range blocks and their escalation state. Idempotent and safe to
// call concurrently with ingestion. Returns the number of blocks removed.
func (e *Engine) Cleanup() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	removed := 0
	for id, rec := range e.blocks {
		purge := !rec.Active(now)
		if !purge && !e.sessionActive && e.isLowTrust(id) {
			purge = true
		}
		if !purge {
			continue
		}
		delete(e.blocks, id)
		removed++
		if e.store != nil {
			if err := e.store.Delete(id); err != nil {
				logger.Warnf("mitigation: block store delete for %s failed: %v", id, err)
			}
		}
	}

	if !e.sessionActive {
		for id := range e.rates {
			if e.isLowTrust(id) {
				delete(e.rates, id)
				e.cache.Remove(id)
			}
		}
	}
	for id, st := range e.rates {
		if now.Sub(st.lastSeen) > idleStateAge {
			delete(e.rates, id)
		}
	}

	if removed > 0 {
		logger.Infof("mitigation: cleanup removed %d block(s)", removed)
	}
	return removed
}

// Status is the diagnostic snapshot returned by GetStatus.
type Status struct {
	ActiveMitigations  uint64                     `json:"active_mitigations"`
	BlockedSources     int                        `json:"blocked_sources"`
	RateLimitedSources int                        `json:"rate_limited_sources"`
	RecentActions      []*models.MitigationAction `json:"recent_actions,omitempty"`
	Cache              CacheStats                 `json:"cache"`
	Graph              GraphStats                 `json:"graph"`
	Queue              QueueStats                 `json:"queue"`
	Traffic            TrafficStats               `json:"traffic"`
}

// CacheStats summarizes the recency cache.
type CacheStats struct {
	Size        int     `json:"size"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"`
}

// GraphStats summarizes the relationship graph.
type GraphStats struct {
	Nodes          int        `json:"nodes"`
	AvgConnections float64    `json:"avg_connections"`
	TopWeighted    []NodeStat `json:"top_weighted,omitempty"`
}

// QueueStats summarizes the threat queue.
type QueueStats struct {
	Size       int           `json:"size"`
	TopThreats []ThreatEntry `json:"top_threats,omitempty"`
}

// TrafficStats summarizes the window counters.
type TrafficStats struct {
	GlobalRequests int     `json:"global_requests"`
	GlobalRate     float64 `json:"global_rate"`
	ActiveSources  int     `json:"active_sources"`
}

// GetStatus returns aggregate counters and structure introspection. This is
// diagnostic state, not decision input.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	rateLimited := 0
	for _, st := range e.rates {
		if st.rateLimitCount > 0 {
			rateLimited++
		}
	}

	recent := e.actions
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	recentCopy := make([]*models.MitigationAction, len(recent))
	copy(recentCopy, recent)

	blocked := 0
	for _, rec := range e.blocks {
		if rec.Active(now) {
			blocked++
		}
	}

	return Status{
		ActiveMitigations:  e.activeMitigations,
		BlockedSources:     blocked,
		RateLimitedSources: rateLimited,
		RecentActions:      recentCopy,
		Cache: CacheStats{
			Size:        e.cache.Len(),
			Capacity:    e.cache.Capacity(),
			Utilization: e.cache.Utilization(),
		},
		Graph: GraphStats{
			Nodes:          e.graph.Len(),
			AvgConnections: e.graph.AvgConnections(),
			TopWeighted:    e.graph.TopWeighted(5),
		},
		Queue: QueueStats{
			Size:       e.queue.Len(),
			TopThreats: e.queue.TopK(5),
		},
		Traffic: TrafficStats{
			GlobalRequests: e.global.Count(now),
			GlobalRate:     e.global.Rate(now),
			ActiveSources:  e.perSource.ActiveKeys(now),
		},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
