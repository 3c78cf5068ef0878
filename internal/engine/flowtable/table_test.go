package flowtable

import (
	"Go2NetIDS/internal/clock"
	"Go2NetIDS/internal/model"
	"net"
	"sync"
	"testing"
	"time"
)

type collector struct {
	mu    sync.Mutex
	snaps []model.FlowSnapshot
}

func (c *collector) emit(s model.FlowSnapshot) {
	c.mu.Lock()
	c.snaps = append(c.snaps, s)
	c.mu.Unlock()
}

func (c *collector) all() []model.FlowSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.FlowSnapshot(nil), c.snaps...)
}

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func packet(src string, sport uint16, dst string, dport uint16, ts time.Time) *model.PacketInfo {
	return &model.PacketInfo{
		Timestamp: ts,
		FiveTuple: model.FiveTuple{
			SrcIP:    net.ParseIP(src),
			DstIP:    net.ParseIP(dst),
			SrcPort:  sport,
			DstPort:  dport,
			Protocol: 6,
		},
		Length: 60,
	}
}

func newTable(clk clock.Clock, c *collector, maxFlows int) *Table {
	return New(Config{
		ReadyThreshold: 5,
		IdleTimeout:    30 * time.Second,
		ActiveTimeout:  2 * time.Minute,
		MaxFlows:       maxFlows,
		NumShards:      16,
	}, clk, c.emit, nil)
}

func TestTable_ReadyOnThresholdBothDirections(t *testing.T) {
	clk := clock.NewVirtual(base)
	c := &collector{}
	table := newTable(clk, c, 1000)

	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i) * time.Millisecond)
		if i%2 == 0 {
			table.Add(packet("10.0.0.1", 40000, "10.0.0.2", 80, ts))
		} else {
			table.Add(packet("10.0.0.2", 80, "10.0.0.1", 40000, ts))
		}
		if i == 3 && len(c.all()) != 0 {
			t.Fatalf("flow became ready before the 5th packet")
		}
		if i == 4 && len(c.all()) != 1 {
			t.Fatalf("expected the flow to be ready on the 5th packet, got %d snapshots", len(c.all()))
		}
	}

	snaps := c.all()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots for 10 packets, got %d", len(snaps))
	}
	first := snaps[0]
	if first.Degraded || first.Reason != model.ReasonThreshold {
		t.Errorf("unexpected first snapshot state: degraded=%v reason=%s", first.Degraded, first.Reason)
	}
	if len(first.Packets) != 5 || first.PacketCount != 5 {
		t.Errorf("expected 5 buffered packets, got %d (count %d)", len(first.Packets), first.PacketCount)
	}
	if first.Initiator.String() != "10.0.0.1:40000" {
		t.Errorf("expected initiator 10.0.0.1:40000, got %s", first.Initiator)
	}
	if snaps[0].Key != snaps[1].Key {
		t.Errorf("both directions should share one key")
	}
	if table.Len() != 0 {
		t.Errorf("expected empty table, got %d", table.Len())
	}
}

func TestTable_LookupPhase(t *testing.T) {
	clk := clock.NewVirtual(base)
	c := &collector{}
	table := newTable(clk, c, 1000)

	p := packet("10.0.0.1", 1234, "10.0.0.2", 22, base)
	table.Add(p)
	key, _ := model.NewFlowKey(p.FiveTuple)
	info, ok := table.Lookup(key)
	if !ok {
		t.Fatal("expected flow to be tracked")
	}
	if info.Phase != PhaseBuffering || info.Packets != 1 {
		t.Errorf("expected BUFFERING with 1 packet, got %s with %d", info.Phase, info.Packets)
	}
}

func TestTable_IdleFlowYieldsOneDegradedSnapshot(t *testing.T) {
	clk := clock.NewVirtual(base)
	c := &collector{}
	table := newTable(clk, c, 1000)

	table.Add(packet("10.0.0.1", 5000, "10.0.0.9", 53, base))
	table.Add(packet("10.0.0.9", 53, "10.0.0.1", 5000, base.Add(time.Millisecond)))

	clk.Advance(29 * time.Second)
	if n := table.Sweep(); n != 0 {
		t.Fatalf("flow released before idle timeout: %d", n)
	}

	clk.Advance(2 * time.Second)
	if n := table.Sweep(); n != 1 {
		t.Fatalf("expected 1 flow released, got %d", n)
	}
	if n := table.Sweep(); n != 0 {
		t.Fatalf("flow released twice")
	}

	snaps := c.all()
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if !snaps[0].Degraded || snaps[0].Reason != model.ReasonIdle || len(snaps[0].Packets) != 2 {
		t.Errorf("unexpected snapshot: degraded=%v reason=%s packets=%d",
			snaps[0].Degraded, snaps[0].Reason, len(snaps[0].Packets))
	}
}

func TestTable_ActiveTimeout(t *testing.T) {
	clk := clock.NewVirtual(base)
	c := &collector{}
	table := New(Config{
		ReadyThreshold: 5,
		IdleTimeout:    30 * time.Second,
		ActiveTimeout:  time.Minute,
		MaxFlows:       1000,
	}, clk, c.emit, nil)

	// A trickle that never goes idle is still released after the active timeout.
	for i := 0; i < 3; i++ {
		table.Add(packet("10.0.0.1", 5000, "10.0.0.9", 443, base))
		clk.Advance(20 * time.Second)
		n := table.Sweep()
		if i < 2 && n != 0 {
			t.Fatalf("flow released early at step %d", i)
		}
	}
	snaps := c.all()
	if len(snaps) != 1 {
		t.Fatalf("expected the long-lived partial flow to be released once, got %d", len(snaps))
	}
	if snaps[0].Reason != model.ReasonActive || !snaps[0].Degraded || snaps[0].PacketCount != 3 {
		t.Errorf("unexpected snapshot: %+v", snaps[0])
	}
}

func TestTable_EvictsOldestIdleAtCapacity(t *testing.T) {
	clk := clock.NewVirtual(base)
	c := &collector{}
	table := newTable(clk, c, 3)

	table.Add(packet("10.0.0.1", 1001, "10.0.1.1", 80, base))
	clk.Advance(time.Second)
	table.Add(packet("10.0.0.2", 1002, "10.0.1.1", 80, base))
	clk.Advance(time.Second)
	table.Add(packet("10.0.0.3", 1003, "10.0.1.1", 80, base))
	clk.Advance(time.Second)
	// Touch the first flow so the second becomes the oldest idle.
	table.Add(packet("10.0.0.1", 1001, "10.0.1.1", 80, base))
	clk.Advance(time.Second)
	table.Add(packet("10.0.0.4", 1004, "10.0.1.1", 80, base))

	if table.Len() != 3 {
		t.Fatalf("expected table to stay at capacity 3, got %d", table.Len())
	}
	snaps := c.all()
	if len(snaps) != 1 {
		t.Fatalf("expected exactly one eviction, got %d", len(snaps))
	}
	if snaps[0].Reason != model.ReasonEvicted || !snaps[0].Degraded {
		t.Errorf("unexpected eviction snapshot: %+v", snaps[0])
	}
	if snaps[0].Initiator.String() != "10.0.0.2:1002" {
		t.Errorf("expected 10.0.0.2:1002 to be evicted, got %s", snaps[0].Initiator)
	}
	if table.Evicted() != 1 {
		t.Errorf("expected evicted counter 1, got %d", table.Evicted())
	}
}

func TestTable_EvictionSparesNewFlowOnTies(t *testing.T) {
	clk := clock.NewVirtual(base)
	c := &collector{}
	table := newTable(clk, c, 2)

	// The clock never moves, so every flow has the same touch time.
	for i := 0; i < 40; i++ {
		table.Add(packet("10.0.0.1", uint16(2000+i), "10.0.1.1", 80, base))
	}

	snaps := c.all()
	if len(snaps) != 38 {
		t.Fatalf("expected 38 evictions, got %d", len(snaps))
	}
	for i, s := range snaps {
		want := uint16(2000 + i)
		if s.Initiator.Port != want {
			t.Fatalf("eviction %d: expected oldest flow port %d, got %d", i, want, s.Initiator.Port)
		}
	}
	for i := 38; i < 40; i++ {
		key, _ := model.NewFlowKey(packet("10.0.0.1", uint16(2000+i), "10.0.1.1", 80, base).FiveTuple)
		if _, ok := table.Lookup(key); !ok {
			t.Errorf("expected newest flow on port %d to stay live", 2000+i)
		}
	}
}

func TestTable_Flush(t *testing.T) {
	clk := clock.NewVirtual(base)
	c := &collector{}
	table := newTable(clk, c, 1000)

	table.Add(packet("10.0.0.1", 1, "10.0.0.2", 2, base))
	table.Add(packet("10.0.0.3", 3, "10.0.0.4", 4, base))
	if n := table.Flush(); n != 2 {
		t.Fatalf("expected 2 flushed flows, got %d", n)
	}
	for _, s := range c.all() {
		if s.Reason != model.ReasonShutdown {
			t.Errorf("expected shutdown reason, got %s", s.Reason)
		}
	}
	if table.Len() != 0 {
		t.Errorf("expected empty table after flush")
	}
}

func TestTable_ConcurrentFlows(t *testing.T) {
	c := &collector{}
	table := New(Config{ReadyThreshold: 5, IdleTimeout: time.Minute, MaxFlows: 100000}, nil, c.emit, nil)

	const flows = 200
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < flows; i += 4 {
				src := net.IPv4(10, 1, byte(i>>8), byte(i)).String()
				for j := 0; j < 5; j++ {
					table.Add(packet(src, 2000, "10.2.0.1", 443, time.Now()))
				}
			}
		}(w)
	}
	wg.Wait()

	snaps := c.all()
	if len(snaps) != flows {
		t.Fatalf("expected %d snapshots, got %d", flows, len(snaps))
	}
	seen := make(map[model.FlowKey]bool)
	for _, s := range snaps {
		if seen[s.Key] {
			t.Fatalf("flow %s emitted twice", s.Key)
		}
		seen[s.Key] = true
		if s.PacketCount != 5 {
			t.Errorf("flow %s has %d packets", s.Key, s.PacketCount)
		}
	}
}
