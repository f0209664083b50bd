package track

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"

	"github.com/aler9/rtsptrack/internal/format"
	"github.com/aler9/rtsptrack/internal/loader"
	"github.com/aler9/rtsptrack/internal/logger"
	"github.com/aler9/rtsptrack/internal/rtcpdispatch"
	"github.com/aler9/rtsptrack/internal/samplequeue"
	"github.com/aler9/rtsptrack/internal/transport"
)

// pendingResetNone marks pendingResetPositionUs as unset. math.MinInt64
// rather than NoValue so that a (nonsensical but representable) seek to
// -1 still round-trips.
const pendingResetNone = math.MinInt64

// Coordinator is the WrapperCoordinator: it owns the loader, the live
// transport.Endpoint, every discovered SampleQueue and the track-group
// array, and runs every state transition on a single dedicated event
// loop goroutine so that listener callbacks and internal mutation never
// race each other.
type Coordinator struct {
	session  Session
	listener EventListener
	cfg      Config
	log      logger.Writer

	work        chan func()
	stop        chan struct{}
	closed      atomic.Bool
	releaseOnce sync.Once

	// gate mirrors the loadCondition: closed (false) pauses the
	// loadable's steady-state read loop; playback() opens it.
	gateMu   sync.Mutex
	gateCond *sync.Cond
	gateOpen bool

	ld *loader.Loader

	state       State
	prepared    bool
	playback    bool
	released    bool
	tracksEnded bool

	queueOrder  []int
	queues      map[int]*samplequeue.Queue
	trackGroups TrackGroupArray
	groupsBuilt bool

	enabledStates []bool
	streams       map[int]*Stream

	// pendingResetPositionUs is written by the event loop (SeekToUs) and
	// consumed by the loadable goroutine between extractor iterations, so
	// it lives in an atomic rather than behind the loop.
	pendingResetPositionUs atomic.Int64

	// discoveryDone flips once every discovered queue carries a format
	// and track discovery has closed; read by the loadable to leave its
	// discovery phase without a round-trip through the event loop.
	discoveryDone atomic.Bool

	lastErr error

	rtcpIn rtcpdispatch.In

	rtcpOutMu sync.Mutex
	rtcpOut   *rtcpdispatch.Out

	tcpMu     sync.Mutex
	activeTCP *transport.TCPInterleaved

	activeWriter transport.Writer
	localPort    int
}

// New constructs a Coordinator. The event loop goroutine starts
// immediately and runs until release() completes.
func New(session Session, listener EventListener, cfg Config, log logger.Writer) *Coordinator {
	c := &Coordinator{
		session:  session,
		listener: listener,
		cfg:      cfg,
		log:      log,
		work:     make(chan func(), 64),
		stop:     make(chan struct{}),
		queues:   make(map[int]*samplequeue.Queue),
		streams:  make(map[int]*Stream),
	}
	c.gateCond = sync.NewCond(&c.gateMu)
	c.pendingResetPositionUs.Store(pendingResetNone)
	go c.runLoop()
	return c
}

func (c *Coordinator) runLoop() {
	for {
		select {
		case fn := <-c.work:
			fn()
		case <-c.stop:
			return
		}
	}
}

// post enqueues fn on the event loop. A no-op after Release, so that
// late-arriving callbacks (e.g. a loader goroutine still unwinding)
// never block on a drained loop.
func (c *Coordinator) post(fn func()) {
	if c.closed.Load() {
		return
	}
	select {
	case c.work <- fn:
	case <-c.stop:
	}
}

// postSync enqueues fn and blocks until it has run. If the coordinator
// is released before fn gets a turn, postSync returns without running
// it: shutdown-time callers get zero values rather than a hang.
func (c *Coordinator) postSync(fn func()) {
	if c.closed.Load() {
		return
	}
	done := make(chan struct{})
	select {
	case c.work <- func() {
		fn()
		close(done)
	}:
	case <-c.stop:
		return
	}
	select {
	case <-done:
	case <-c.stop:
	}
}

// Prepare starts discovery: opens a loadable and begins reading until
// every discovered SampleQueue has announced a format. Idempotent; if
// already prepared and the loader is mid-load, Prepare cancels it
// (used as "re-prepare" after a configuration change).
func (c *Coordinator) Prepare() {
	c.postSync(func() {
		if c.released {
			return
		}
		if c.prepared && c.ld != nil && c.ld.IsLoading() {
			c.ld.CancelLoading()
			return
		}
		c.prepared = true
		c.state = StatePreparing
		c.listener.PrepareStarted()

		lt := transport.LowerUDP
		if c.session.IsInterleaved() {
			lt = transport.LowerTCPInterleaved
		}
		c.log.Log(logger.Debug, "preparing (lower transport: %v)", lt)
		c.startLoader(lt)
	})
}

func (c *Coordinator) startLoader(lt transport.LowerTransport) {
	lo := newMediaLoadable(c, lt)
	if c.ld == nil {
		c.ld = loader.New(c)
	}
	c.ld.StartLoading(lo)
}

// Playback transitions into playing: performs the NAT punch (if
// required) and opens the load gate so the loadable's steady-state read
// loop resumes.
func (c *Coordinator) Playback() {
	c.postSync(func() {
		if c.released || c.playback {
			return
		}
		c.playback = true
		c.state = StatePlaying
		c.maybePunchNAT()
		c.openGate()
	})
}

// maybePunchNAT fires the NAT punch if the session requires it, a
// server port is known, and a UDP writer is currently bound. Called
// both from Playback() and, if Playback() raced ahead of Open(), from
// the loadable right after it binds its socket pair. The destination
// host is derived from the negotiated Transport header's source and
// destination, falling back to the control URL's host.
func (c *Coordinator) maybePunchNAT() {
	if !c.session.IsNATRequired() || c.cfg.ServerRTPPort == 0 || c.activeWriter == nil {
		return
	}
	transport.Punch(c.activeWriter, c.serverHost(), c.cfg.ServerRTPPort, c.cfg.ServerRTCPPort,
		c.session.IsRTCPSupported(), c.session.IsRTCPMuxed())
}

// serverHost resolves the host outbound datagrams (NAT punches, RTCP
// reports) are sent to.
func (c *Coordinator) serverHost() string {
	return transport.DestinationCandidates(
		c.cfg.TransportSource, c.cfg.TransportDestination, c.cfg.URLHost)
}

// setActiveTransport registers the live endpoint's NAT-punch writer and
// local port, called by the loadable once its transport.Endpoint opens.
func (c *Coordinator) setActiveTransport(w transport.Writer, localPort int) {
	c.post(func() {
		c.activeWriter = w
		c.localPort = localPort
		if c.playback {
			c.maybePunchNAT()
		}
	})
}

func (c *Coordinator) openGate() {
	c.gateMu.Lock()
	c.gateOpen = true
	c.gateCond.Broadcast()
	c.gateMu.Unlock()
}

func (c *Coordinator) closeGate() {
	c.gateMu.Lock()
	c.gateOpen = false
	c.gateMu.Unlock()
}

// waitForContinue blocks the calling loadable goroutine until the gate
// opens or stop fires. A watcher goroutine translates stop firing into
// a Cond.Broadcast, since sync.Cond has no native way to wait on a
// channel.
func (c *Coordinator) waitForContinue(stop <-chan struct{}) bool {
	watcherDone := make(chan struct{})
	go func() {
		select {
		case <-stop:
			c.gateMu.Lock()
			c.gateCond.Broadcast()
			c.gateMu.Unlock()
		case <-watcherDone:
		}
	}()
	defer close(watcherDone)

	c.gateMu.Lock()
	defer c.gateMu.Unlock()

	for !c.gateOpen {
		select {
		case <-stop:
			return false
		default:
		}
		c.gateCond.Wait()
	}
	return true
}

// addQueue registers a newly discovered SampleQueue, called from the
// TrackSink adapter on the event loop. Returns the canonical queue for
// id: a failover loadable re-discovering a known track gets the
// retained queue back instead of replacing it, so already-buffered
// samples stay consumable.
func (c *Coordinator) addQueue(id int, _ format.Type, q *samplequeue.Queue) *samplequeue.Queue {
	if existing, ok := c.queues[id]; ok {
		return existing
	}
	c.queues[id] = q
	c.queueOrder = append(c.queueOrder, id)
	q.SetUpstreamFormatChangeListener(formatListener{c: c})
	c.maybeFinishPrepare()
	return q
}

func (c *Coordinator) onTracksEnded() {
	c.tracksEnded = true
	c.maybeFinishPrepare()
}

type formatListener struct{ c *Coordinator }

func (f formatListener) OnUpstreamFormatChanged(*format.Format) {
	f.c.post(f.c.maybeFinishPrepare)
}

// allQueuesFormatted reports whether every discovered queue has
// announced an upstream format.
func (c *Coordinator) allQueuesFormatted() bool {
	for _, q := range c.queues {
		if q.UpstreamFormat() == nil {
			return false
		}
	}
	return true
}

// maybeFinishPrepare implements the gating rule: prepared, not yet in
// playback, track discovery closed, and every queue carries a format.
// Runs on the event loop.
func (c *Coordinator) maybeFinishPrepare() {
	if c.tracksEnded && len(c.queues) > 0 && c.allQueuesFormatted() {
		c.discoveryDone.Store(true)
	}

	if c.groupsBuilt || !c.prepared || c.playback || !c.tracksEnded {
		return
	}
	if len(c.queues) == 0 || !c.allQueuesFormatted() {
		return
	}

	c.closeGate()

	groups := make(TrackGroupArray, 0, len(c.queueOrder))
	enabled := make([]bool, 0, len(c.queueOrder))
	for _, id := range c.queueOrder {
		groups = append(groups, TrackGroup{Format: c.queues[id].UpstreamFormat()})
		enabled = append(enabled, false)
	}
	c.trackGroups = groups
	c.enabledStates = enabled
	c.groupsBuilt = true
	c.state = StatePrepared

	c.log.Log(logger.Info, "prepared, %d track(s)", len(groups))
	c.listener.PrepareSuccess()
}

// failPrepare reports a prepare-time failure exactly once.
func (c *Coordinator) failPrepare(err error) {
	if c.groupsBuilt || c.released {
		return
	}
	c.lastErr = err
	c.log.Log(logger.Error, "prepare failed: %v", err)
	c.listener.PrepareFailure(err)
}

// SelectTracks applies a track selection, returning the Stream handles
// for the selected tracks. Deselected streams are disabled and their
// enabled counter decremented; newly selected tracks get fresh
// handles (or retained ones, when mayRetain allows).
func (c *Coordinator) SelectTracks(selections []Selection, mayRetain []bool) []*Stream {
	var out []*Stream
	c.postSync(func() {
		if !c.prepared {
			return
		}

		wanted := make(map[int]bool, len(selections))
		for _, s := range selections {
			wanted[s.TrackID] = true
		}

		for id, stream := range c.streams {
			if !wanted[id] {
				stream.enabled = false
				delete(c.streams, id)
				c.setEnabled(id, false)
			}
		}

		for _, s := range selections {
			if existing, ok := c.streams[s.TrackID]; ok && contains(mayRetain, true) {
				out = append(out, existing)
				continue
			}
			q, ok := c.queues[s.TrackID]
			if !ok {
				continue
			}
			stream := &Stream{id: s.TrackID, queue: q, enabled: true}
			c.streams[s.TrackID] = stream
			c.setEnabled(s.TrackID, true)
			out = append(out, stream)
		}

		types := make([]format.Type, 0, len(c.streams))
		for _, g := range c.trackGroups {
			if g.Format != nil {
				types = append(types, g.Format.Type)
			}
		}
		c.session.OnSelectTracks(types, len(c.streams) > 0)
	})
	return out
}

func contains(bs []bool, want bool) bool {
	for _, b := range bs {
		if b == want {
			return true
		}
	}
	return false
}

func (c *Coordinator) setEnabled(id int, enabled bool) {
	for i, qid := range c.queueOrder {
		if qid == id && i < len(c.enabledStates) {
			c.enabledStates[i] = enabled
			return
		}
	}
}

// EnabledSampleQueueCount returns the number of currently enabled track
// groups; exposed mainly for the invariant it must always satisfy.
func (c *Coordinator) EnabledSampleQueueCount() int {
	n := 0
	c.postSync(func() {
		for _, e := range c.enabledStates {
			if e {
				n++
			}
		}
	})
	return n
}

// SeekToUs attempts an in-buffer seek on every queue. If every queue can
// seek within its buffer, the cursors are repositioned and false is
// returned (no reset required). Otherwise every queue is discarded to
// end, pendingResetPositionUs is recorded, and true is returned: the
// extractor will be asked to seek on its next loader iteration.
func (c *Coordinator) SeekToUs(positionUs int64) bool {
	wasReset := false
	c.postSync(func() {
		allOK := true
		for _, id := range c.queueOrder {
			if !c.queues[id].SeekTo(positionUs, false) {
				allOK = false
				break
			}
		}
		if allOK {
			return
		}

		for _, id := range c.queueOrder {
			c.queues[id].DiscardToEnd()
		}
		c.pendingResetPositionUs.Store(positionUs)
		wasReset = true
	})
	return wasReset
}

// consumePendingReset is called by the loadable before each extractor
// iteration; it returns the pending seek target and clears it, exactly
// once per SeekToUs(out-of-buffer) call. Lock-free so the loadable
// never has to round-trip through the event loop per packet.
func (c *Coordinator) consumePendingReset() (int64, bool) {
	us := c.pendingResetPositionUs.Swap(pendingResetNone)
	if us == pendingResetNone {
		return 0, false
	}
	return us, true
}

// DiscardBuffer discards buffered samples up to positionUs on every
// queue, stopping at the read cursor for enabled tracks so unread,
// enabled data is never dropped.
func (c *Coordinator) DiscardBuffer(positionUs int64, toKeyframe bool) {
	c.postSync(func() {
		for i, id := range c.queueOrder {
			stopAtRead := i < len(c.enabledStates) && c.enabledStates[i]
			c.queues[id].DiscardTo(positionUs, toKeyframe, stopAtRead)
		}
	})
}

// DiscardBufferToEnd discards every queue's entire buffer. It touches
// no seek-position bookkeeping: this pipeline keeps none.
func (c *Coordinator) DiscardBufferToEnd() {
	c.postSync(func() {
		for _, id := range c.queueOrder {
			c.queues[id].DiscardToEnd()
		}
	})
}

// GetTrackGroups returns the track groups built at prepare completion,
// or nil before that.
func (c *Coordinator) GetTrackGroups() TrackGroupArray {
	var out TrackGroupArray
	c.postSync(func() { out = c.trackGroups })
	return out
}

// GetMediaTrack returns the single Format carried by the track group at
// groupIndex, or nil if the index is out of range or prepare has not
// completed. Every track group in this pipeline holds exactly one
// exchangeable Format, so this is a direct index into GetTrackGroups.
func (c *Coordinator) GetMediaTrack(groupIndex int) *format.Format {
	var out *format.Format
	c.postSync(func() {
		if groupIndex < 0 || groupIndex >= len(c.trackGroups) {
			return
		}
		out = c.trackGroups[groupIndex].Format
	})
	return out
}

// GetBufferedPositionUs returns the minimum largest-queued timestamp
// across enabled queues, or format.NoValue if none are enabled/queued.
func (c *Coordinator) GetBufferedPositionUs() int64 {
	var out int64 = format.NoValue
	c.postSync(func() {
		for i, id := range c.queueOrder {
			if i >= len(c.enabledStates) || !c.enabledStates[i] {
				continue
			}
			v := c.queues[id].LargestQueuedTimestampUs()
			if v == format.NoValue {
				continue
			}
			if out == format.NoValue || v < out {
				out = v
			}
		}
	})
	return out
}

// GetNextLoadPositionUs reports where loading will continue from,
// gated on loadingFinished (whether the loader has stopped issuing
// reads).
func (c *Coordinator) GetNextLoadPositionUs(loadingFinished bool) int64 {
	if loadingFinished {
		return format.NoValue
	}
	return c.GetBufferedPositionUs()
}

// IsLoading reports whether the loader currently has a load in flight.
func (c *Coordinator) IsLoading() bool {
	if c.ld == nil {
		return false
	}
	return c.ld.IsLoading()
}

// GetLocalPort returns the bound local UDP port of the live transport,
// or 0 before one has been opened or when TCP-interleaved.
func (c *Coordinator) GetLocalPort() int {
	var port int
	c.postSync(func() { port = c.localPort })
	return port
}

// MaybeThrowError synchronously returns the last recorded loader error,
// if any. The error is not cleared: every call returns it until a newer
// error replaces it.
func (c *Coordinator) MaybeThrowError() error {
	var err error
	c.postSync(func() { err = c.lastErr })
	return err
}

// Release idempotently tears down the loader, every queue and the event
// loop. Safe to call multiple times or concurrently with other calls.
//
// The blocking loader release happens off the event loop: the loadable
// goroutine synchronizes with the loop while unwinding (addQueue,
// onTracksEnded), so waiting for it from inside a loop callback would
// deadlock.
func (c *Coordinator) Release() {
	var ld *loader.Loader
	c.postSync(func() {
		if c.released {
			return
		}
		c.released = true
		c.state = StateReleased
		if c.playback {
			c.listener.PlaybackCancel()
		}
		ld = c.ld
		for _, q := range c.queues {
			q.Release()
		}
		c.openGate() // unblock anything still parked in waitForContinue
		c.log.Log(logger.Debug, "released")
	})

	if ld != nil {
		ld.Release()
	}

	c.releaseOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
	})
}

// --- loader.Callback ---

// OnLoadCompleted fires when a loadable's Load returns nil: either the
// stream ended normally (ResultEndOfInput) or, for a track that never
// reached playback, prepare never received all its formats.
func (c *Coordinator) OnLoadCompleted(_ loader.Loadable, _ time.Duration) {
	c.post(func() {
		if c.released {
			return
		}
		if !c.playback {
			c.failPrepare(ErrPrepareNotComplete)
			return
		}
		c.listener.PlaybackComplete()
	})
}

// OnLoadCanceled implements the UDP→TCP failover rule: a cancellation
// that is not a release re-enters load over TCP-interleaved when
// Config.SupportsTCPFailover is set and over UDP otherwise, keeping
// every discovered SampleQueue intact.
func (c *Coordinator) OnLoadCanceled(_ loader.Loadable, _ time.Duration, released bool) {
	if released {
		return
	}
	c.post(func() {
		if c.released {
			return
		}
		next := transport.LowerUDP
		if c.cfg.SupportsTCPFailover {
			next = transport.LowerTCPInterleaved
		}
		c.log.Log(logger.Warn, "load canceled, restarting with lower transport %v", next)
		c.startLoader(next)
	})
}

// OnLoadError classifies the failed load per the error taxonomy and
// decides retry vs terminal failure. Open-time errors (unsupported
// protocol/format) are never retried and surface as PrepareFailure.
// Steady-state read errors are reinterpreted as PlaybackComplete when
// the session's known duration has been exceeded; otherwise they
// surface as PlaybackFailure (if already playing) or PrepareFailure
// (if still discovering).
func (c *Coordinator) OnLoadError(_ loader.Loadable, _ time.Duration, err error, _ int) loader.RetryAction {
	switch {
	case isErr(err, ErrUnsupportedProtocol, ErrUnsupportedFormat):
		c.post(func() { c.failPrepare(err) })
		return loader.DontRetry

	case isErr(err, ErrReadTimeout, transport.ErrTimeout):
		if c.durationExceeded() {
			c.post(func() {
				if !c.released {
					c.listener.PlaybackComplete()
				}
			})
			return loader.DontRetry
		}
		return loader.Retry

	default:
		if c.durationExceeded() {
			c.post(func() {
				if !c.released {
					c.listener.PlaybackComplete()
				}
			})
			return loader.DontRetry
		}
		c.post(func() {
			if c.released {
				return
			}
			c.lastErr = err
			if !c.playback {
				c.failPrepare(err)
				return
			}
			c.listener.PlaybackFailure(err)
		})
		return loader.DontRetry
	}
}

func isErr(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// setActiveInterleaved registers the live TCP-interleaved endpoint so
// incoming frames from the signalling layer can be routed to it.
func (c *Coordinator) setActiveInterleaved(t *transport.TCPInterleaved) {
	c.tcpMu.Lock()
	c.activeTCP = t
	c.tcpMu.Unlock()
}

// OnInterleavedFrame delivers one demultiplexed frame from the RTSP
// signalling connection to the live TCP-interleaved endpoint. Frames
// arriving while no TCP loadable is open are dropped. Callable from any
// thread.
func (c *Coordinator) OnInterleavedFrame(channel int, data []byte) {
	c.tcpMu.Lock()
	t := c.activeTCP
	c.tcpMu.Unlock()
	if t != nil {
		t.OnInterleavedFrame(channel, data)
	}
}

// --- RTCP dispatch ---

// AddRTCPListener registers l to receive every RTCP packet parsed from
// the control channel, for the lifetime of the coordinator.
func (c *Coordinator) AddRTCPListener(l rtcpdispatch.Listener) {
	c.rtcpIn.AddListener(l)
}

// dispatchRTCP routes raw control-channel bytes (read by the loadable)
// through the inbound dispatcher.
func (c *Coordinator) dispatchRTCP(raw []byte) error {
	return c.rtcpIn.Dispatch(raw)
}

// setRTCPOut swaps in the outbound dispatcher bound to the currently
// open transport; called by the loadable once its endpoint opens, so
// SendRTCP always targets the live transport even across UDP→TCP
// failover.
func (c *Coordinator) setRTCPOut(out *rtcpdispatch.Out) {
	c.rtcpOutMu.Lock()
	c.rtcpOut = out
	c.rtcpOutMu.Unlock()
}

// SendRTCP marshals and emits locally generated reports (e.g. receiver
// reports built by an AddRTCPListener subscriber) through the live
// transport. Reports sent before a transport has opened are dropped.
func (c *Coordinator) SendRTCP(pkts []rtcp.Packet) error {
	c.rtcpOutMu.Lock()
	out := c.rtcpOut
	c.rtcpOutMu.Unlock()
	if out == nil {
		return nil
	}
	return out.Send(pkts)
}

// durationExceeded reports whether the session's known media duration
// has been surpassed by the furthest-buffered sample across every
// queue, the signal that reinterprets a steady-state read failure as a
// normal end of playback rather than an error.
func (c *Coordinator) durationExceeded() bool {
	dur := c.session.Duration()
	if dur <= 0 {
		return false
	}
	pos := c.GetBufferedPositionUs()
	if pos == format.NoValue {
		return false
	}
	return pos >= dur.Microseconds()
}
