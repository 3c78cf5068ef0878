package flowtable

import (
	"Go2NetIDS/internal/clock"
	"Go2NetIDS/internal/metrics"
	"Go2NetIDS/internal/model"
	"container/list"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultShardCount = 256

// Phase is the lifecycle position of a flow.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseBuffering
	PhaseReady
	PhaseClassified
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "NEW"
	case PhaseBuffering:
		return "BUFFERING"
	case PhaseReady:
		return "READY"
	case PhaseClassified:
		return "CLASSIFIED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Config is the lifecycle policy of a Table.
type Config struct {
	// ReadyThreshold is the packet count that makes a flow ready.
	ReadyThreshold int
	// IdleTimeout releases a partial flow that has seen no packet for this long.
	IdleTimeout time.Duration
	// ActiveTimeout releases a partial flow this long after its first packet.
	ActiveTimeout time.Duration
	// MaxFlows bounds the number of live flows.
	MaxFlows  int
	NumShards uint32
}

// EmitFunc receives every snapshot that leaves the table. It is called
// without any shard lock held and must not block.
type EmitFunc func(model.FlowSnapshot)

type flow struct {
	key       model.FlowKey
	initiator model.Endpoint
	responder model.Endpoint
	packets   []model.PacketInfo
	count     uint64
	firstSeen time.Time
	lastSeen  time.Time
	createdAt time.Time
	touchedAt time.Time
	touchSeq  uint64
	phase     Phase
	elem      *list.Element
}

// shard holds its flows in a map for lookup and in a list ordered by last
// activity, least recent first.
type shard struct {
	mu    sync.Mutex
	flows map[model.FlowKey]*flow
	lru   *list.List
}

// Table is the sharded bidirectional flow table. A key always maps to the
// same shard, so packets for one flow are applied by one writer at a time
// while flows in other shards proceed in parallel.
type Table struct {
	cfg        Config
	shards     []*shard
	shardCount uint32
	clock      clock.Clock
	emit       EmitFunc
	active     atomic.Int64
	evicted    atomic.Uint64
	touches    atomic.Uint64
	logger     *zap.Logger
}

// New creates a flow table. Snapshots are delivered to emit.
func New(cfg Config, clk clock.Clock, emit EmitFunc, logger *zap.Logger) *Table {
	if cfg.NumShards == 0 {
		cfg.NumShards = defaultShardCount
	}
	if cfg.ReadyThreshold < 1 {
		cfg.ReadyThreshold = 1
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Table{
		cfg:        cfg,
		shards:     make([]*shard, cfg.NumShards),
		shardCount: cfg.NumShards,
		clock:      clk,
		emit:       emit,
		logger:     logger,
	}
	for i := range t.shards {
		t.shards[i] = &shard{
			flows: make(map[model.FlowKey]*flow),
			lru:   list.New(),
		}
	}
	return t
}

func (t *Table) getShard(key model.FlowKey) *shard {
	hasher := fnv.New32a()
	var port [2]byte
	hasher.Write([]byte{key.Protocol})
	for _, ep := range [2]model.Endpoint{key.A, key.B} {
		hasher.Write(ep.IP.AsSlice())
		binary.BigEndian.PutUint16(port[:], ep.Port)
		hasher.Write(port[:])
	}
	return t.shards[hasher.Sum32()%t.shardCount]
}

// Add applies one packet to its flow. When the packet brings the flow to the
// ready threshold the flow leaves the table and its snapshot is emitted; the
// next packet on the same connection starts a new flow.
func (t *Table) Add(pkt *model.PacketInfo) {
	key, _ := model.NewFlowKey(pkt.FiveTuple)
	now := t.clock.Now()

	s := t.getShard(key)
	s.mu.Lock()
	f, ok := s.flows[key]
	created := false
	if !ok {
		f = &flow{
			key:       key,
			initiator: pkt.SourceEndpoint(),
			responder: pkt.DestinationEndpoint(),
			packets:   make([]model.PacketInfo, 0, t.cfg.ReadyThreshold),
			firstSeen: pkt.Timestamp,
			createdAt: now,
			phase:     PhaseNew,
		}
		f.elem = s.lru.PushBack(f)
		s.flows[key] = f
		created = true
	} else {
		s.lru.MoveToBack(f.elem)
	}

	if len(f.packets) < t.cfg.ReadyThreshold {
		f.packets = append(f.packets, *pkt)
	}
	f.count++
	f.lastSeen = pkt.Timestamp
	f.touchedAt = now
	f.touchSeq = t.touches.Add(1)
	f.phase = PhaseBuffering

	var snap model.FlowSnapshot
	ready := f.count >= uint64(t.cfg.ReadyThreshold)
	if ready {
		t.removeLocked(s, f)
		snap = t.snapshot(f, model.ReasonThreshold)
	}
	s.mu.Unlock()

	if created {
		n := t.active.Add(1)
		metrics.FlowsActive.Inc()
		if int(n) > t.cfg.MaxFlows && t.cfg.MaxFlows > 0 {
			t.evictOldestIdle(f)
		}
	}
	if ready {
		t.release(snap)
	}
}

// removeLocked unlinks f from s. The caller holds s.mu and is responsible
// for the active counter when f was counted.
func (t *Table) removeLocked(s *shard, f *flow) {
	delete(s.flows, f.key)
	s.lru.Remove(f.elem)
	f.elem = nil
	f.phase = PhaseReady
}

func (t *Table) snapshot(f *flow, reason model.ReadyReason) model.FlowSnapshot {
	return model.FlowSnapshot{
		Key:         f.key,
		Initiator:   f.initiator,
		Responder:   f.responder,
		Packets:     f.packets,
		PacketCount: f.count,
		FirstSeen:   f.firstSeen,
		LastSeen:    f.lastSeen,
		Degraded:    f.count < uint64(t.cfg.ReadyThreshold),
		Reason:      reason,
	}
}

// release accounts for a flow that left the table and hands it on.
func (t *Table) release(snap model.FlowSnapshot) {
	t.active.Add(-1)
	metrics.FlowsActive.Dec()
	metrics.FlowsReady.WithLabelValues(string(snap.Reason)).Inc()
	if t.emit != nil {
		t.emit(snap)
	}
}

// evictOldestIdle removes the least recently active flow across all shards,
// never the flow that is being created. Equal touch times fall back to touch
// order. Shards are inspected one at a time so no two shard locks are ever
// held together; the chosen flow is re-checked before removal.
func (t *Table) evictOldestIdle(creating *flow) {
	for attempt := 0; attempt < 3; attempt++ {
		var (
			victim      *flow
			victimShard *shard
		)
		for _, s := range t.shards {
			s.mu.Lock()
			for e := s.lru.Front(); e != nil; e = e.Next() {
				f := e.Value.(*flow)
				if f == creating {
					continue
				}
				if victim == nil || olderThan(f, victim) {
					victim, victimShard = f, s
				}
				break
			}
			s.mu.Unlock()
		}
		if victim == nil {
			return
		}

		victimShard.mu.Lock()
		if cur, ok := victimShard.flows[victim.key]; !ok || cur != victim {
			victimShard.mu.Unlock()
			continue
		}
		t.removeLocked(victimShard, victim)
		snap := t.snapshot(victim, model.ReasonEvicted)
		victimShard.mu.Unlock()

		t.evicted.Add(1)
		t.logger.Warn("flow table at capacity, evicting oldest idle flow",
			zap.String("flow", victim.key.String()),
			zap.Uint64("packets", snap.PacketCount),
			zap.Error(model.ErrCapacityExceeded))
		t.release(snap)
		return
	}
}

func olderThan(a, b *flow) bool {
	if !a.touchedAt.Equal(b.touchedAt) {
		return a.touchedAt.Before(b.touchedAt)
	}
	return a.touchSeq < b.touchSeq
}

// Sweep releases every partial flow that has been idle for IdleTimeout or
// alive for ActiveTimeout. It returns the number of flows released.
func (t *Table) Sweep() int {
	now := t.clock.Now()
	var expired []model.FlowSnapshot
	for _, s := range t.shards {
		s.mu.Lock()
		for _, f := range s.flows {
			idle := t.cfg.IdleTimeout > 0 && now.Sub(f.touchedAt) >= t.cfg.IdleTimeout
			aged := t.cfg.ActiveTimeout > 0 && now.Sub(f.createdAt) >= t.cfg.ActiveTimeout
			if idle || aged {
				reason := model.ReasonIdle
				if !idle {
					reason = model.ReasonActive
				}
				t.removeLocked(s, f)
				expired = append(expired, t.snapshot(f, reason))
			}
		}
		s.mu.Unlock()
	}
	for _, snap := range expired {
		t.release(snap)
	}
	if len(expired) > 0 {
		t.logger.Debug("swept expired flows", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Flush releases every live flow regardless of age. It is used on shutdown.
func (t *Table) Flush() int {
	var all []model.FlowSnapshot
	for _, s := range t.shards {
		s.mu.Lock()
		for _, f := range s.flows {
			t.removeLocked(s, f)
			all = append(all, t.snapshot(f, model.ReasonShutdown))
		}
		s.mu.Unlock()
	}
	for _, snap := range all {
		t.release(snap)
	}
	return len(all)
}

// Len returns the number of live flows.
func (t *Table) Len() int {
	return int(t.active.Load())
}

// Evicted returns how many flows were released because of the capacity bound.
func (t *Table) Evicted() uint64 {
	return t.evicted.Load()
}

// FlowInfo is a read-only view of a live flow.
type FlowInfo struct {
	Key       model.FlowKey
	Initiator model.Endpoint
	Packets   uint64
	Buffered  int
	Phase     Phase
}

// Lookup returns a view of the live flow for key, if any.
func (t *Table) Lookup(key model.FlowKey) (FlowInfo, bool) {
	s := t.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[key]
	if !ok {
		return FlowInfo{}, false
	}
	return FlowInfo{
		Key:       f.key,
		Initiator: f.initiator,
		Packets:   f.count,
		Buffered:  len(f.packets),
		Phase:     f.phase,
	}, true
}
