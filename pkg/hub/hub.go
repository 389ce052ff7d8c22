package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/chatrelay/internal/observability"
	"github.com/harun/chatrelay/internal/tracing"
	"github.com/harun/chatrelay/pkg/logstore"
	"github.com/harun/chatrelay/pkg/registry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "chatrelay.hub"

type opKind int

const (
	opJoin opKind = iota
	opPost
	opLeave
	opFail
)

type request struct {
	op     opKind
	ctx    context.Context
	handle string
	text   string
	sub    *Subscription
	err    error
	reply  chan response
}

type response struct {
	sub    *Subscription
	offset int64
	err    error
}

// Stats is a point-in-time view of a hub.
type Stats struct {
	Channel     string `json:"channel"`
	Subscribers int    `json:"subscribers"`
	LastOffset  int64  `json:"lastOffset"`
	Appended    uint64 `json:"appended"`
	Dead        bool   `json:"dead"`
	Error       string `json:"error,omitempty"`
}

// Hub serializes writes to one channel's log and fans new records out to the
// channel's live subscribers.
type Hub struct {
	channel          string
	store            logstore.Store
	registry         *registry.Registry
	logger           zerolog.Logger
	now              func() time.Time
	subscriberBuffer int

	requests  chan request
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by run.
	subs       map[uint64]*Subscription
	nextID     uint64
	lastOffset int64
	appended   uint64
	deadErr    *StorageError

	stats atomic.Pointer[Stats]
}

func newHub(channel string, store logstore.Store, reg *registry.Registry, opts Options, logger zerolog.Logger) *Hub {
	h := &Hub{
		channel:          channel,
		store:            store,
		registry:         reg,
		logger:           logger.With().Str("component", "hub").Str("channel", channel).Logger(),
		now:              opts.Now,
		subscriberBuffer: opts.SubscriberBuffer,
		requests:         make(chan request, opts.QueueSize),
		quit:             make(chan struct{}),
		done:             make(chan struct{}),
		subs:             make(map[uint64]*Subscription),
		lastOffset:       -1,
	}
	h.publishStats()

	go h.run()

	h.logger.Debug().Msg("Hub started")
	return h
}

// Channel returns the channel id this hub serves.
func (h *Hub) Channel() string {
	return h.channel
}

// Stats returns the latest snapshot published by the hub goroutine.
func (h *Hub) Stats() Stats {
	return *h.stats.Load()
}

// Join claims (handle, channel) in the registry, adds a live subscription and
// appends the "has joined" system record. The returned subscription has
// already been added to the live set; call Stream to bootstrap and follow it.
func (h *Hub) Join(ctx context.Context, handle string) (*Subscription, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "hub.join",
		attribute.String("channel", h.channel),
		attribute.String("handle", handle),
	)
	defer span.End()

	ok, err := h.registry.Claim(handle, h.channel)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrHubClosed, err)
	}
	if !ok {
		span.SetStatus(codes.Error, ErrDuplicateSession.Error())
		return nil, ErrDuplicateSession
	}
	observability.SetActiveSessions(h.registry.Len())

	resp := h.submit(ctx, request{op: opJoin, handle: handle})
	if resp.err != nil {
		h.registry.Unregister(handle, h.channel)
		observability.SetActiveSessions(h.registry.Len())
		span.RecordError(resp.err)
		span.SetStatus(codes.Error, resp.err.Error())
		return nil, resp.err
	}

	return resp.sub, nil
}

// Post appends a chat record from sub's handle and returns its offset.
func (h *Hub) Post(ctx context.Context, sub *Subscription, text string) (int64, error) {
	resp := h.submit(ctx, request{op: opPost, sub: sub, text: text})
	return resp.offset, resp.err
}

// Leave removes sub from the live set, appends the "has left" record and
// releases the registry key. It is safe to call more than once.
func (h *Hub) Leave(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}
	// Leave runs on teardown paths where ctx is usually already cancelled.
	resp := h.submit(context.WithoutCancel(ctx), request{op: opLeave, sub: sub})

	h.registry.Unregister(sub.Handle, h.channel)
	observability.SetActiveSessions(h.registry.Len())

	if errors.Is(resp.err, ErrHubClosed) {
		return nil
	}
	return resp.err
}

// Stream delivers the channel's existing log to deliver, then every live
// entry queued on sub, skipping entries already covered by the bootstrap
// read. It returns when deliver fails, the subscription closes, or ctx ends.
func (h *Hub) Stream(ctx context.Context, sub *Subscription, deliver func(logstore.Entry) error) error {
	last := int64(-1)

	for entry, err := range h.store.ReadFrom(ctx, h.channel, 0) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.fail(err)
			return &StorageError{Channel: h.channel, Err: err}
		}
		if err := deliver(entry); err != nil {
			return err
		}
		last = entry.Offset
	}

	for {
		entry, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if entry.Offset <= last {
			continue
		}
		if err := deliver(entry); err != nil {
			return err
		}
		last = entry.Offset
	}
}

// Close stops the hub goroutine and closes every subscription with
// ErrHubClosed.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.quit)
	})
	<-h.done
}

// fail reports a storage error observed outside the hub goroutine.
func (h *Hub) fail(err error) {
	h.submit(context.Background(), request{op: opFail, err: err})
}

func (h *Hub) submit(ctx context.Context, req request) response {
	if ctx == nil {
		ctx = context.Background()
	}
	req.ctx = ctx
	req.reply = make(chan response, 1)

	select {
	case h.requests <- req:
	case <-h.quit:
		return response{err: ErrHubClosed}
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}

	select {
	case resp := <-req.reply:
		return resp
	case <-h.done:
		return response{err: ErrHubClosed}
	}
}

func (h *Hub) run() {
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			h.shutdown()
			return
		case req := <-h.requests:
			req.reply <- h.handle(req)
			h.publishStats()
		}
	}
}

func (h *Hub) handle(req request) response {
	switch req.op {
	case opJoin:
		return h.handleJoin(req)
	case opPost:
		return h.handlePost(req)
	case opLeave:
		return h.handleLeave(req)
	case opFail:
		h.die(req.err)
		return response{}
	default:
		return response{err: fmt.Errorf("unknown hub operation %d", req.op)}
	}
}

func (h *Hub) handleJoin(req request) response {
	if h.deadErr != nil {
		return response{err: h.deadErr}
	}

	h.nextID++
	sub := newSubscription(h.nextID, req.handle, h.channel, h.subscriberBuffer)

	// Subscribe before anything is appended so the joiner sees its own
	// "has joined" record live as well as in the bootstrap read.
	h.subs[sub.ID] = sub

	if _, err := h.appendAndFanout(req.ctx, logstore.NewSystemRecord(h.now(), logstore.JoinedText(req.handle))); err != nil {
		delete(h.subs, sub.ID)
		return response{err: err}
	}

	h.logger.Info().Str("handle", req.handle).Uint64("subscription", sub.ID).Msg("Handle joined")
	return response{sub: sub}
}

func (h *Hub) handlePost(req request) response {
	if h.deadErr != nil {
		return response{err: h.deadErr}
	}
	if req.sub == nil || req.sub.left {
		return response{err: ErrNotJoined}
	}
	if _, ok := h.subs[req.sub.ID]; !ok {
		// Evicted subscriptions may not post until they leave.
		return response{err: ErrNotJoined}
	}

	offset, err := h.appendAndFanout(req.ctx, logstore.NewChatRecord(h.now(), req.sub.Handle, req.text))
	if err != nil {
		return response{err: err}
	}
	return response{offset: offset}
}

func (h *Hub) handleLeave(req request) response {
	sub := req.sub
	if sub == nil || sub.left {
		return response{}
	}
	sub.left = true

	if _, ok := h.subs[sub.ID]; ok {
		delete(h.subs, sub.ID)
		sub.close(ErrSubscriptionClosed)
	}

	if h.deadErr != nil {
		return response{}
	}

	if _, err := h.appendAndFanout(req.ctx, logstore.NewSystemRecord(h.now(), logstore.LeftText(sub.Handle))); err != nil {
		return response{err: err}
	}

	h.logger.Info().Str("handle", sub.Handle).Uint64("subscription", sub.ID).Msg("Handle left")
	return response{}
}

// appendAndFanout writes rec and queues it for every live subscriber. A
// write failure kills the hub.
func (h *Hub) appendAndFanout(ctx context.Context, rec logstore.Record) (int64, error) {
	// The requester going away must not abort a write the hub has committed to.
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracing.StartSpan(ctx, tracerName, "hub.append",
		attribute.String("channel", h.channel),
		attribute.String("kind", string(rec.Kind)),
	)
	defer span.End()

	start := time.Now()
	offset, err := h.store.Append(ctx, h.channel, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.die(err)
		return 0, h.deadErr
	}
	observability.RecordAppend(h.channel, string(rec.Kind), time.Since(start))

	h.lastOffset = offset
	h.appended++

	entry := logstore.Entry{Offset: offset, Record: rec, Line: logstore.FormatLine(rec)}
	h.fanout(entry)

	return offset, nil
}

func (h *Hub) fanout(entry logstore.Entry) {
	delivered := 0
	for id, sub := range h.subs {
		if sub.push(entry) {
			delivered++
			continue
		}
		delete(h.subs, id)
		sub.fail(ErrSlowSubscriber)
		observability.RecordSlowEviction(h.channel)
		h.logger.Warn().
			Str("handle", sub.Handle).
			Uint64("subscription", id).
			Int64("offset", entry.Offset).
			Msg("Evicted slow subscriber")
	}
	observability.RecordFanout(h.channel, delivered)
}

// die marks the hub dead and disconnects every live subscriber.
func (h *Hub) die(err error) {
	if h.deadErr != nil {
		return
	}
	h.deadErr = &StorageError{Channel: h.channel, Err: err}

	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.fail(h.deadErr)
	}

	observability.RecordHubFailure(h.channel)
	h.logger.Error().Err(err).Msg("Channel log failed, hub stopped")
}

func (h *Hub) shutdown() {
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.close(ErrHubClosed)
	}
	h.publishStats()
	h.logger.Debug().Msg("Hub stopped")
}

func (h *Hub) publishStats() {
	s := &Stats{
		Channel:     h.channel,
		Subscribers: len(h.subs),
		LastOffset:  h.lastOffset,
		Appended:    h.appended,
		Dead:        h.deadErr != nil,
	}
	if h.deadErr != nil {
		s.Error = h.deadErr.Err.Error()
	}
	h.stats.Store(s)
	observability.SetHubSubscribers(h.channel, s.Subscribers)
}
