package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulse-bot/backend/internal/dispatch"
)

// Sink receives decoded dispatch events. Push must not block; the
// dispatcher satisfies this with its bounded queue.
type Sink interface {
	Push(ev dispatch.Event) bool
}

type Options struct {
	Endpoint string
	Token    string

	// InitialBackoff and MaxBackoff bound the reconnect delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// StartupRetries is the connection budget before the very first
	// successful session; once connected, retries never give up.
	StartupRetries int

	// ResumeWithin is how long after a drop a session is still worth
	// resuming; beyond it a fresh identify is forced.
	ResumeWithin time.Duration
}

// Client drives the gateway session state machine. One goroutine (Run)
// owns the Session, the transport and the heartbeat timer; a reader
// goroutine per connection pumps frames into the drive loop.
type Client struct {
	opts  Options
	dial  Dialer
	sink  Sink
	retry *backoff

	state atomic.Int32

	// Owned by the Run goroutine.
	sess            *Session
	disconnectedAt  time.Time
	everConnected   bool
	startupFailures int

	// Test seams.
	now      func() time.Time
	hbJitter func(time.Duration) time.Duration

	// Snapshot of the session for read-only accessors.
	mu   sync.Mutex
	snap Session
}

func New(opts Options, dial Dialer, sink Sink) *Client {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.StartupRetries <= 0 {
		opts.StartupRetries = 3
	}
	if opts.ResumeWithin <= 0 {
		opts.ResumeWithin = 2 * time.Minute
	}
	if dial == nil {
		dial = WebsocketDialer()
	}
	return &Client{
		opts:  opts,
		dial:  dial,
		sink:  sink,
		retry: newBackoff(opts.InitialBackoff, opts.MaxBackoff),
		now:   time.Now,
		hbJitter: func(d time.Duration) time.Duration {
			return time.Duration(rand.Float64() * float64(d))
		},
	}
}

// State reports the current connection phase. Safe from any goroutine.
func (c *Client) State() State {
	return State(c.state.Load())
}

// SessionInfo returns a copy of the last known session identity.
func (c *Client) SessionInfo() (id string, seq int64, resumable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.ID, c.snap.Seq, c.snap.ResumeEligible
}

// Run connects and keeps the session alive until ctx is cancelled.
// It returns nil on shutdown, or an error if the very first connection
// fails more times than the startup budget allows.
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(Disconnected)

	for {
		err := c.runConnection(ctx)
		if ctx.Err() != nil {
			c.setSession(nil)
			return nil
		}
		if err != nil {
			log.Printf("gateway: connection ended: %v", err)
		}

		if !c.everConnected {
			c.startupFailures++
			if c.startupFailures >= c.opts.StartupRetries {
				return fmt.Errorf("gateway: giving up after %d startup attempts: %w", c.startupFailures, err)
			}
		}

		// The transport is gone; report Connecting for the whole
		// backoff wait rather than a connected state on a dead
		// connection.
		c.setState(Connecting)

		delay := c.retry.next()
		log.Printf("gateway: reconnecting in %s", delay.Round(time.Millisecond))
		select {
		case <-ctx.Done():
			c.setSession(nil)
			return nil
		case <-time.After(delay):
		}
	}
}

func (c *Client) runConnection(ctx context.Context) error {
	c.setState(Connecting)

	t, err := c.dial(ctx, c.opts.Endpoint)
	if err != nil {
		return err
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Closing the transport is what unblocks a pending ReadFrame, both
	// on process shutdown and when the drive loop abandons the
	// connection.
	go func() {
		<-connCtx.Done()
		t.Close()
	}()
	defer t.Close()

	frames := make(chan *Frame)
	readErrs := make(chan error, 1)
	go func() {
		for {
			f, rerr := t.ReadFrame()
			if rerr != nil {
				readErrs <- rerr
				return
			}
			select {
			case frames <- f:
			case <-connCtx.Done():
				return
			}
		}
	}()

	c.setState(AwaitingHello)
	interval, err := c.awaitHello(connCtx, frames, readErrs)
	if err != nil {
		return err
	}

	if c.shouldResume() {
		c.setState(Resuming)
		log.Printf("gateway: resuming session %s from seq %d", c.sess.ID, c.sess.Seq)
		if err := t.WriteFrame(newResume(c.opts.Token, c.sess.ID, c.sess.Seq)); err != nil {
			return fmt.Errorf("gateway: send resume: %w", err)
		}
	} else {
		c.setSession(nil)
		c.setState(Identifying)
		log.Println("gateway: identifying with fresh session")
		if err := t.WriteFrame(newIdentify(c.opts.Token)); err != nil {
			return fmt.Errorf("gateway: send identify: %w", err)
		}
	}

	wasConnected, err := c.drive(connCtx, t, frames, readErrs, interval)

	// Only a drop out of Connected marks the session's disconnect time;
	// failed reconnect attempts must not refresh the staleness window.
	if wasConnected && c.sess != nil {
		c.disconnectedAt = c.now()
	}
	return err
}

// awaitHello waits for the server's mandatory first frame carrying the
// heartbeat interval.
func (c *Client) awaitHello(ctx context.Context, frames <-chan *Frame, readErrs <-chan error) (time.Duration, error) {
	timer := time.NewTimer(handshakeTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-readErrs:
		return 0, err
	case <-timer.C:
		return 0, &ProtocolViolation{Reason: "no hello before deadline"}
	case f := <-frames:
		if f.Op != OpHello {
			return 0, &ProtocolViolation{Reason: "first frame was not hello", Op: f.Op}
		}
		var h helloData
		if err := json.Unmarshal(f.Data, &h); err != nil || h.HeartbeatInterval <= 0 {
			return 0, &ProtocolViolation{Reason: "hello carried no usable heartbeat interval", Op: f.Op}
		}
		return time.Duration(h.HeartbeatInterval) * time.Millisecond, nil
	}
}

// drive multiplexes inbound frames and the heartbeat timer on a single
// goroutine, so Session and heartbeatState have one owner. It reports
// whether the connection ever reached Connected.
func (c *Client) drive(ctx context.Context, t Transport, frames <-chan *Frame, readErrs <-chan error, interval time.Duration) (bool, error) {
	hb := heartbeatState{interval: interval}

	// Beating starts from hello, not from READY. The first beat lands
	// at a random fraction of the interval so a fleet reconnecting
	// together does not heartbeat in lockstep, and a server that goes
	// mute after hello still trips the liveness timeout.
	timer := time.NewTimer(c.hbJitter(interval))
	defer timer.Stop()

	connected := func() bool { return c.State() == Connected }

	for {
		select {
		case <-ctx.Done():
			return connected(), nil

		case err := <-readErrs:
			if errors.Is(err, ErrSessionDead) && c.sess != nil {
				c.sess.ResumeEligible = false
				c.publishSession()
			}
			return connected(), err

		case <-timer.C:
			if hb.tick(c.now()) {
				return connected(), errLivenessTimeout
			}
			if err := t.WriteFrame(newHeartbeat(c.seqPtr())); err != nil {
				return connected(), fmt.Errorf("gateway: send heartbeat: %w", err)
			}
			timer.Reset(hb.interval)

		case f := <-frames:
			switch f.Op {
			case OpHeartbeatAck:
				hb.ack()

			case OpHeartbeat:
				// Server demands an immediate beat.
				if err := t.WriteFrame(newHeartbeat(c.seqPtr())); err != nil {
					return connected(), fmt.Errorf("gateway: send heartbeat: %w", err)
				}

			case OpReconnect:
				return connected(), errReconnectRequested

			case OpInvalidSession:
				var resumable bool
				_ = json.Unmarshal(f.Data, &resumable)
				if !resumable && c.sess != nil {
					c.sess.ResumeEligible = false
					c.publishSession()
				}
				return connected(), errSessionInvalidated

			case OpDispatch:
				if err := c.handleDispatch(f); err != nil {
					return connected(), err
				}

			default:
				log.Printf("gateway: ignoring unexpected %s frame", f.Op)
			}
		}
	}
}

func (c *Client) handleDispatch(f *Frame) error {
	switch f.Type {
	case "READY":
		var rd readyData
		if err := json.Unmarshal(f.Data, &rd); err != nil || rd.SessionID == "" {
			log.Printf("gateway: dropping READY with unusable payload: %v", err)
			return nil
		}
		sess := &Session{ID: rd.SessionID, ResumeEligible: true}
		if f.Seq != nil {
			sess.Seq = *f.Seq
		}
		c.setSession(sess)
		c.becomeConnected()
		log.Printf("gateway: ready, session %s", sess.ID)
		c.forward(f)

	case "RESUMED":
		// RESUMED against a fresh identify means the server and the
		// client disagree about which session this is.
		if c.sess == nil {
			return &ProtocolViolation{Reason: "RESUMED dispatch with no session", Op: f.Op}
		}
		c.becomeConnected()
		log.Printf("gateway: resumed session %s", c.sess.ID)
		c.forward(f)

	default:
		if c.sess == nil {
			log.Printf("gateway: dropping %s dispatch before session establishment", f.Type)
			return nil
		}
		if f.Seq != nil {
			if *f.Seq <= c.sess.Seq {
				log.Printf("gateway: dropping duplicate %s (seq %d <= %d)", f.Type, *f.Seq, c.sess.Seq)
				return nil
			}
			c.sess.Seq = *f.Seq
			c.publishSession()
		}
		c.forward(f)
	}
	return nil
}

func (c *Client) becomeConnected() {
	c.setState(Connected)
	c.everConnected = true
	c.startupFailures = 0
	c.retry.reset()
}

func (c *Client) forward(f *Frame) {
	var seq int64
	if f.Seq != nil {
		seq = *f.Seq
	}
	c.sink.Push(dispatch.Event{Type: f.Type, Seq: seq, Data: f.Data})
}

func (c *Client) shouldResume() bool {
	return c.sess != nil && c.sess.ResumeEligible &&
		c.now().Sub(c.disconnectedAt) < c.opts.ResumeWithin
}

// seqPtr returns the sequence number heartbeats should carry, or nil
// before any dispatch frame has been processed.
func (c *Client) seqPtr() *int64 {
	if c.sess == nil || c.sess.Seq == 0 {
		return nil
	}
	seq := c.sess.Seq
	return &seq
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) != s {
		log.Printf("gateway: state -> %s", s)
	}
}

func (c *Client) setSession(sess *Session) {
	c.sess = sess
	c.publishSession()
}

func (c *Client) publishSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		c.snap = Session{}
		return
	}
	c.snap = *c.sess
}
