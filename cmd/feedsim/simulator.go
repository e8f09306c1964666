package main

import (
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rickgao/tickvault/internal/model"
	"github.com/rickgao/tickvault/internal/protocol"
)

// simulator accepts feed clients and streams random-walk packets for the
// instruments each one subscribes to.
type simulator struct {
	interval time.Duration
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

func newSimulator(interval time.Duration, logger *zap.Logger) *simulator {
	return &simulator{
		interval: interval,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sessions: make(map[*session]struct{}),
	}
}

func (s *simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	sess := &session{
		conn:   conn,
		logger: s.logger.With(zap.String("remote", r.RemoteAddr)),
		subs:   make(map[model.InstrumentKey]*instrument),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	sess.logger.Info("client connected", zap.String("client_id", r.URL.Query().Get("clientId")))
	go sess.stream(s.interval)
	sess.readLoop()

	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	sess.logger.Info("client disconnected")
}

// Close sends a disconnect packet to every client and closes them.
func (s *simulator) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.write(protocol.EncodeDisconnect(model.DisconnectEvent{Reason: reasonServerShutdown}))
		sess.close()
	}
}

const reasonServerShutdown = 805

// instrument is the simulated state of one subscribed contract.
type instrument struct {
	mode   protocol.Mode
	quote  model.QuoteEvent
	oi     int32
	primed bool // side-channel packets sent
}

type session struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[model.InstrumentKey]*instrument

	closeOnce sync.Once
	done      chan struct{}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *session) write(packet []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(websocket.BinaryMessage, packet)
}

// readLoop applies control messages until the client leaves.
func (s *session) readLoop() {
	defer s.close()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		req, keys, err := protocol.ParseRequest(data)
		if err != nil {
			s.logger.Warn("bad request", zap.Error(err), zap.ByteString("data", data))
			continue
		}
		if req.RequestCode == protocol.RequestDisconnect {
			s.logger.Info("client requested disconnect")
			return
		}
		s.apply(req.RequestCode, keys)
	}
}

func (s *session) apply(code protocol.RequestCode, keys []model.InstrumentKey) {
	mode, subscribe, ok := decodeRequest(code)
	if !ok {
		s.logger.Warn("unknown request code", zap.Int("code", int(code)))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		if !subscribe {
			delete(s.subs, k)
			continue
		}
		if inst, ok := s.subs[k]; ok {
			inst.mode = mode
			continue
		}
		s.subs[k] = newInstrument(k, mode)
	}
	s.logger.Debug("subscriptions updated",
		zap.Int("code", int(code)),
		zap.Int("instruments", len(keys)),
		zap.Int("total", len(s.subs)),
	)
}

func decodeRequest(code protocol.RequestCode) (mode protocol.Mode, subscribe bool, ok bool) {
	switch code {
	case protocol.RequestSubscribeTicker:
		return protocol.ModeTicker, true, true
	case protocol.RequestSubscribeQuote:
		return protocol.ModeQuote, true, true
	case protocol.RequestSubscribeFull:
		return protocol.ModeFull, true, true
	case protocol.RequestUnsubscribeTicker:
		return protocol.ModeTicker, false, true
	case protocol.RequestUnsubscribeQuote:
		return protocol.ModeQuote, false, true
	case protocol.RequestUnsubscribeFull:
		return protocol.ModeFull, false, true
	}
	return "", false, false
}

func newInstrument(k model.InstrumentKey, mode protocol.Mode) *instrument {
	base := 100 + float64(k.SecurityID%5000)
	return &instrument{
		mode: mode,
		oi:   int32(1000 + k.SecurityID%100000),
		quote: model.QuoteEvent{
			Key:      k,
			LTP:      base,
			ATP:      base,
			DayOpen:  base,
			DayClose: base,
			DayHigh:  base,
			DayLow:   base,
		},
	}
}

// stream emits one packet per subscribed instrument every interval.
func (s *session) stream(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			for _, packet := range s.tick(now) {
				if err := s.write(packet); err != nil {
					s.logger.Debug("write failed", zap.Error(err))
					s.close()
					return
				}
			}
		}
	}
}

// tick advances every instrument and returns the packets to send.
func (s *session) tick(now time.Time) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var packets [][]byte
	for _, inst := range s.subs {
		if !inst.primed && inst.mode != protocol.ModeTicker {
			packets = append(packets,
				protocol.EncodePrevClose(model.PrevCloseUpdate{Key: inst.quote.Key, PrevClose: inst.quote.DayClose, PrevOI: inst.oi}),
				protocol.EncodeOpenInterest(model.OpenInterestUpdate{Key: inst.quote.Key, OpenInterest: inst.oi}),
			)
			inst.primed = true
		}

		inst.step(now)

		switch inst.mode {
		case protocol.ModeTicker:
			packets = append(packets, protocol.EncodeTicker(model.TickerEvent{Key: inst.quote.Key, LTP: inst.quote.LTP, LTT: inst.quote.LTT}))
		case protocol.ModeFull:
			packets = append(packets, protocol.EncodeFull(inst.depth()))
		default:
			packets = append(packets, protocol.EncodeQuote(inst.quote))
		}
	}
	return packets
}

func (inst *instrument) step(now time.Time) {
	q := &inst.quote
	move := q.LTP * 0.001 * (rand.Float64()*2 - 1)
	q.LTP = math.Max(0.05, math.Round((q.LTP+move)*20)/20)
	q.LTQ = uint16(1 + rand.IntN(50))
	q.LTT = uint32(now.Unix())
	q.Volume += uint32(q.LTQ)
	q.ATP = (q.ATP*9 + q.LTP) / 10
	q.TotalBuyQty = uint32(rand.IntN(10000))
	q.TotalSellQty = uint32(rand.IntN(10000))
	q.DayHigh = math.Max(q.DayHigh, q.LTP)
	q.DayLow = math.Min(q.DayLow, q.LTP)

	if rand.IntN(10) == 0 {
		inst.oi += int32(rand.IntN(200) - 100)
	}
}

func (inst *instrument) depth() model.DepthEvent {
	oi := inst.oi
	ev := model.DepthEvent{QuoteEvent: inst.quote, OIHigh: uint32(oi) + 500, OILow: uint32(max(oi-500, 0))}
	ev.OpenInterest = &oi

	for i := range ev.Depth {
		tick := 0.05 * float64(i+1)
		ev.Depth[i] = model.DepthLevel{
			BidQty:    uint32(100 * (i + 1)),
			AskQty:    uint32(120 * (i + 1)),
			BidOrders: uint16(i + 1),
			AskOrders: uint16(i + 2),
			BidPrice:  inst.quote.LTP - tick,
			AskPrice:  inst.quote.LTP + tick,
		}
	}
	return ev
}
