package manager

import (
	"Go2NetIDS/internal/clock"
	"Go2NetIDS/internal/config"
	"Go2NetIDS/internal/engine/features"
	"Go2NetIDS/internal/model"
	"context"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"
)

// recordingExtractor wraps the real extractor and keeps every vector by flow.
type recordingExtractor struct {
	inner   *features.Extractor
	mu      sync.Mutex
	vectors map[model.FlowKey]model.FeatureVector
}

func newRecordingExtractor() *recordingExtractor {
	return &recordingExtractor{
		inner:   features.NewExtractor(nil),
		vectors: make(map[model.FlowKey]model.FeatureVector),
	}
}

func (r *recordingExtractor) Extract(s *model.FlowSnapshot) (model.FeatureVector, error) {
	v, err := r.inner.Extract(s)
	if err == nil {
		r.mu.Lock()
		r.vectors[s.Key] = v
		r.mu.Unlock()
	}
	return v, err
}

// bytesScorer alerts on flows that moved more than 1000 bytes.
type bytesScorer struct {
	block chan struct{}
}

func (b *bytesScorer) Score(v model.FeatureVector) (float64, error) {
	if b.block != nil {
		<-b.block
	}
	if v[4]+v[5] > 1000 {
		return 0.9, nil
	}
	return 0.1, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Pipeline.NumWorkers = 4
	cfg.Pipeline.QueueSize = 1000
	cfg.Pipeline.DrainTimeout = config.Duration(5 * time.Second)
	cfg.Flow.SweepInterval = config.Duration(time.Hour)
	return cfg
}

func flowPackets(i int) []*model.PacketInfo {
	client := net.IPv4(10, 1, byte(i>>8), byte(i))
	server := net.IPv4(10, 9, 0, 1)
	base := time.Unix(1700000000, 0)
	pkts := make([]*model.PacketInfo, 5)
	for j := range pkts {
		ft := model.FiveTuple{SrcIP: client, DstIP: server, SrcPort: uint16(30000 + i), DstPort: 443, Protocol: 6}
		if j%2 == 1 {
			ft = model.FiveTuple{SrcIP: server, DstIP: client, SrcPort: 443, DstPort: uint16(30000 + i), Protocol: 6}
		}
		pkts[j] = &model.PacketInfo{
			Timestamp: base.Add(time.Duration(j) * time.Millisecond),
			FiveTuple: ft,
			Length:    60 + i*10 + j,
			TCPFlags:  model.FlagACK,
		}
	}
	return pkts
}

func TestManager_ConcurrentFlowsYieldOneVerdictEach(t *testing.T) {
	ext := newRecordingExtractor()
	m, err := NewManager(Options{Config: testConfig(), Extractor: ext, Scorer: &bytesScorer{}})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	var observed sync.Map
	m.Subscribe(func(v model.Verdict) { observed.Store(v.ID, v) })
	m.Start()

	const flows = 100
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < flows; i += 4 {
				for _, p := range flowPackets(i) {
					m.Process(p)
				}
			}
		}(w)
	}
	wg.Wait()

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := m.History().Total(); got != flows {
		t.Fatalf("expected %d verdicts, got %d", flows, got)
	}
	count := 0
	observed.Range(func(_, _ any) bool { count++; return true })
	if count != flows {
		t.Errorf("expected observers to see %d verdicts, got %d", flows, count)
	}

	// Every vector must match a single-threaded extraction of the same flow.
	single := features.NewExtractor(nil)
	for i := 0; i < flows; i++ {
		pkts := flowPackets(i)
		snap := model.FlowSnapshot{
			Initiator:   pkts[0].SourceEndpoint(),
			Responder:   pkts[0].DestinationEndpoint(),
			PacketCount: 5,
		}
		snap.Key, _ = model.NewFlowKey(pkts[0].FiveTuple)
		for _, p := range pkts {
			snap.Packets = append(snap.Packets, *p)
		}
		want, err := single.Extract(&snap)
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if got := ext.vectors[snap.Key]; !reflect.DeepEqual(got, want) {
			t.Fatalf("flow %d: vector mismatch\n got %v\nwant %v", i, got, want)
		}
	}

	s := m.History().Snapshot()
	if s.AlertCount == 0 || s.AlertCount == flows {
		t.Errorf("expected a mix of alerts, got %d of %d", s.AlertCount, flows)
	}
}

func TestManager_ShedsOldestWhenWorkersStall(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.NumWorkers = 1
	cfg.Pipeline.QueueSize = 2
	cfg.Pipeline.DrainTimeout = config.Duration(5 * time.Second)

	scorer := &bytesScorer{block: make(chan struct{})}
	m, err := NewManager(Options{Config: cfg, Extractor: features.NewExtractor(nil), Scorer: scorer})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			for _, p := range flowPackets(i) {
				m.Process(p)
			}
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("capture blocked on a stalled worker pool")
	}

	st := m.Status()
	if st.QueueDepth > 2 {
		t.Errorf("queue grew past its bound: %d", st.QueueDepth)
	}
	if st.ReadyShed < 17 {
		t.Errorf("expected at least 17 shed flows, got %d", st.ReadyShed)
	}

	close(scorer.block)
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if total := m.History().Total(); total < 1 || total > 3 {
		t.Errorf("expected between 1 and 3 verdicts, got %d", total)
	}
}

func TestManager_StopIsBoundedByDrainTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.NumWorkers = 1
	cfg.Pipeline.DrainTimeout = config.Duration(100 * time.Millisecond)

	scorer := &bytesScorer{block: make(chan struct{})}
	defer close(scorer.block)
	m, err := NewManager(Options{Config: cfg, Extractor: features.NewExtractor(nil), Scorer: scorer})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.Start()
	for i := 0; i < 5; i++ {
		for _, p := range flowPackets(i) {
			m.Process(p)
		}
	}

	start := time.Now()
	err = m.Stop(context.Background())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Stop took %s", elapsed)
	}
	if err == nil {
		t.Error("expected an incomplete drain to be reported")
	}
}

func TestManager_FlushesPartialFlowsOnStop(t *testing.T) {
	m, err := NewManager(Options{Config: testConfig(), Extractor: features.NewExtractor(nil), Scorer: &bytesScorer{}})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.Start()
	pkts := flowPackets(1)
	m.Process(pkts[0])
	m.Process(pkts[1])

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	recent := m.History().Recent(1)
	if len(recent) != 1 || !recent[0].Degraded || recent[0].Packets != 2 {
		t.Fatalf("expected one degraded verdict for the partial flow, got %+v", recent)
	}
}

type memWriter struct {
	mu       sync.Mutex
	verdicts []model.Verdict
	closed   bool
}

func (w *memWriter) Write(v []model.Verdict) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.verdicts = append(w.verdicts, v...)
	return nil
}
func (w *memWriter) GetInterval() time.Duration { return time.Hour }
func (w *memWriter) Close() error               { w.closed = true; return nil }

func TestManager_FinalWriterFlush(t *testing.T) {
	w := &memWriter{}
	m, err := NewManager(Options{Config: testConfig(), Extractor: features.NewExtractor(nil), Scorer: &bytesScorer{}, Writers: []model.Writer{w}})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.Start()
	for i := 0; i < 3; i++ {
		for _, p := range flowPackets(i) {
			m.Process(p)
		}
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(w.verdicts) != 3 || !w.closed {
		t.Errorf("expected 3 persisted verdicts and a closed writer, got %d (closed=%v)", len(w.verdicts), w.closed)
	}
}

func TestManager_WritersKeepVerdictsBeyondHistory(t *testing.T) {
	cfg := testConfig()
	cfg.History.MaxHistory = 10
	cfg.Pipeline.WriterBuffer = 1000
	w := &memWriter{}
	m, err := NewManager(Options{Config: cfg, Extractor: features.NewExtractor(nil), Scorer: &bytesScorer{}, Writers: []model.Writer{w}})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.Start()
	for i := 0; i < 30; i++ {
		for _, p := range flowPackets(i) {
			m.Process(p)
		}
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if m.History().Len() != 10 {
		t.Fatalf("expected history to hold 10 verdicts, got %d", m.History().Len())
	}
	if len(w.verdicts) != 30 {
		t.Errorf("expected all 30 verdicts persisted, got %d", len(w.verdicts))
	}
}

type signalWriter struct {
	memWriter
	wrote chan int
}

func (w *signalWriter) Write(v []model.Verdict) error {
	w.memWriter.Write(v)
	w.wrote <- len(v)
	return nil
}

func TestManager_EarlyFlushWhenWriterBufferFills(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.WriterBuffer = 8
	w := &signalWriter{wrote: make(chan int, 16)}
	m, err := NewManager(Options{Config: cfg, Extractor: features.NewExtractor(nil), Scorer: &bytesScorer{}, Writers: []model.Writer{w}})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.Start()
	defer m.Stop(context.Background())

	for i := 0; i < 4; i++ {
		for _, p := range flowPackets(i) {
			m.Process(p)
		}
	}
	select {
	case n := <-w.wrote:
		if n < 4 {
			t.Errorf("expected the flush to carry at least 4 verdicts, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("writer was not flushed before its interval")
	}
}

func TestVerdictSink_DropsOldestWhenFull(t *testing.T) {
	s := newVerdictSink(&memWriter{}, 3)
	for i := 1; i <= 5; i++ {
		s.add(model.Verdict{Seq: uint64(i)})
	}
	got, dropped := s.take()
	if dropped != 2 || len(got) != 3 {
		t.Fatalf("expected 3 pending and 2 dropped, got %d and %d", len(got), dropped)
	}
	if got[0].Seq != 3 || got[2].Seq != 5 {
		t.Errorf("expected verdicts 3..5, got %d..%d", got[0].Seq, got[2].Seq)
	}
	if got, dropped := s.take(); got != nil || dropped != 0 {
		t.Errorf("expected an empty sink after take, got %d (%d dropped)", len(got), dropped)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_SweeperClassifiesIdlePartialFlow(t *testing.T) {
	clk := clock.NewVirtual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := testConfig()
	cfg.Flow.SweepInterval = config.Duration(5 * time.Second)
	cfg.Flow.IdleTimeout = config.Duration(30 * time.Second)

	m, err := NewManager(Options{Config: cfg, Extractor: features.NewExtractor(nil), Scorer: &bytesScorer{}, Clock: clk})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.Start()
	defer m.Stop(context.Background())

	pkts := flowPackets(7)
	m.Process(pkts[0])
	m.Process(pkts[1])

	waitFor(t, "sweeper timer", func() bool { return clk.Waiters() == 1 })
	clk.Advance(31 * time.Second)
	waitFor(t, "idle verdict", func() bool { return m.History().Total() == 1 })

	// Later sweeps find nothing left to release.
	for i := 0; i < 3; i++ {
		waitFor(t, "sweeper timer", func() bool { return clk.Waiters() == 1 })
		clk.Advance(5 * time.Second)
	}
	waitFor(t, "sweeper timer", func() bool { return clk.Waiters() == 1 })

	if total := m.History().Total(); total != 1 {
		t.Fatalf("expected exactly one verdict, got %d", total)
	}
	recent := m.History().Recent(1)
	if !recent[0].Degraded || recent[0].Packets != 2 {
		t.Errorf("expected a degraded 2-packet verdict, got %+v", recent[0])
	}
	if m.Table().Len() != 0 {
		t.Errorf("expected the idle flow to leave the table, got %d live", m.Table().Len())
	}
}

func TestNewManager_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Alerter.Threshold = 1.5
	if _, err := NewManager(Options{Config: cfg, Extractor: features.NewExtractor(nil), Scorer: &bytesScorer{}}); err == nil {
		t.Fatal("expected an invalid threshold to be rejected")
	}
}
