package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rickgao/tickvault/internal/model"
)

// MaxInstrumentsPerRequest is the most instruments one control message may name.
const MaxInstrumentsPerRequest = 100

// RequestCode identifies a client control message.
type RequestCode int

const (
	RequestDisconnect        RequestCode = 12
	RequestSubscribeTicker   RequestCode = 15
	RequestUnsubscribeTicker RequestCode = 16
	RequestSubscribeQuote    RequestCode = 17
	RequestUnsubscribeQuote  RequestCode = 18
	RequestSubscribeFull     RequestCode = 21
	RequestUnsubscribeFull   RequestCode = 22
)

// Mode is the subscription granularity.
type Mode string

const (
	ModeTicker Mode = "ticker"
	ModeQuote  Mode = "quote"
	ModeFull   Mode = "full"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeTicker, ModeQuote, ModeFull:
		return m, nil
	}
	return "", fmt.Errorf("unknown subscription mode %q", s)
}

// SubscribeCode returns the request code that subscribes in this mode.
func (m Mode) SubscribeCode() RequestCode {
	switch m {
	case ModeTicker:
		return RequestSubscribeTicker
	case ModeFull:
		return RequestSubscribeFull
	default:
		return RequestSubscribeQuote
	}
}

// UnsubscribeCode returns the request code that unsubscribes in this mode.
func (m Mode) UnsubscribeCode() RequestCode {
	switch m {
	case ModeTicker:
		return RequestUnsubscribeTicker
	case ModeFull:
		return RequestUnsubscribeFull
	default:
		return RequestUnsubscribeQuote
	}
}

// InstrumentRef is one entry of a request's instrument list.
type InstrumentRef struct {
	ExchangeSegment string `json:"ExchangeSegment"`
	SecurityID      string `json:"SecurityId"`
}

// Request is a subscribe/unsubscribe control message.
type Request struct {
	RequestCode     RequestCode     `json:"RequestCode"`
	InstrumentCount int             `json:"InstrumentCount"`
	InstrumentList  []InstrumentRef `json:"InstrumentList"`
}

// ChunkKeys splits keys into consecutive chunks of at most size elements.
func ChunkKeys(keys []model.InstrumentKey, size int) [][]model.InstrumentKey {
	if size < 1 {
		size = MaxInstrumentsPerRequest
	}
	chunks := make([][]model.InstrumentKey, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}

// SubscriptionRequests builds one encoded message per chunk of at most
// MaxInstrumentsPerRequest keys.
func SubscriptionRequests(code RequestCode, keys []model.InstrumentKey) ([][]byte, error) {
	chunks := ChunkKeys(keys, MaxInstrumentsPerRequest)
	msgs := make([][]byte, 0, len(chunks))

	for _, chunk := range chunks {
		req := Request{
			RequestCode:     code,
			InstrumentCount: len(chunk),
			InstrumentList:  make([]InstrumentRef, len(chunk)),
		}
		for i, k := range chunk {
			req.InstrumentList[i] = InstrumentRef{
				ExchangeSegment: k.Segment.String(),
				SecurityID:      strconv.FormatUint(uint64(k.SecurityID), 10),
			}
		}

		data, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		msgs = append(msgs, data)
	}

	return msgs, nil
}

// ParseRequest decodes a control message and resolves its instrument keys.
func ParseRequest(data []byte) (Request, []model.InstrumentKey, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, nil, err
	}

	keys := make([]model.InstrumentKey, 0, len(req.InstrumentList))
	for _, ref := range req.InstrumentList {
		seg, err := model.ParseExchangeSegment(ref.ExchangeSegment)
		if err != nil {
			return Request{}, nil, err
		}
		id, err := strconv.ParseUint(ref.SecurityID, 10, 32)
		if err != nil {
			return Request{}, nil, fmt.Errorf("security id %q: %w", ref.SecurityID, err)
		}
		keys = append(keys, model.InstrumentKey{Segment: seg, SecurityID: uint32(id)})
	}

	return req, keys, nil
}

// DisconnectRequest is sent before a client-initiated close.
func DisconnectRequest() []byte {
	return []byte(`{"RequestCode":12}`)
}
