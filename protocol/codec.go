package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxLineBytes bounds a single inbound message.
const MaxLineBytes = 4096

var (
	// ErrInvalidJSON marks a line that is not JSON at all.
	ErrInvalidJSON = errors.New("invalid json")
	// ErrInvalidMessage marks JSON that does not match the expected schema.
	ErrInvalidMessage = errors.New("invalid message")
)

// WriteLine encodes v as one JSON line.
func WriteLine(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// ReadLine reads up to the next newline. A final unterminated line is
// returned as is; an empty stream yields io.EOF.
func ReadLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) > 0 {
			return bytes.TrimSpace(line), nil
		}
		return nil, err
	}
	return bytes.TrimSpace(line), nil
}

// Request is an inbound line decoded into a generic document.
type Request struct {
	Action string
	raw    []byte
	doc    any
}

// Decode parses one request line. It fails with ErrInvalidJSON when the line
// is not JSON. A JSON value without a string "action" decodes with an empty
// Action, which callers answer as an unknown action.
func Decode(line []byte) (Request, error) {
	doc, err := decodeDocument(line)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	req := Request{raw: line, doc: doc}
	if envelopeSchema.Validate(doc) == nil {
		req.Action, _ = doc.(map[string]any)["action"].(string)
	}
	return req, nil
}

// Trade validates the request as a trade and converts it.
func (r Request) Trade() (TradeRequest, error) {
	var t TradeRequest
	if err := r.into(tradeSchema, &t); err != nil {
		return TradeRequest{}, err
	}
	return t, nil
}

// Join validates the request as a join and converts it.
func (r Request) Join() (JoinRequest, error) {
	var j JoinRequest
	if err := r.into(joinSchema, &j); err != nil {
		return JoinRequest{}, err
	}
	return j, nil
}

// DecodeTradeResponse parses and validates a peer's answer to a trade.
func DecodeTradeResponse(line []byte) (TradeResponse, error) {
	return decodeValidated[TradeResponse](line, tradeResponseSchema)
}

// DecodeJoinResponse parses and validates one allocator status line.
func DecodeJoinResponse(line []byte) (JoinResponse, error) {
	return decodeValidated[JoinResponse](line, joinResponseSchema)
}

func (r Request) into(s schema, v any) error {
	if err := s.Validate(r.doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := json.Unmarshal(r.raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func decodeValidated[T any](line []byte, s schema) (T, error) {
	var out T
	doc, err := decodeDocument(line)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := s.Validate(doc); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := json.Unmarshal(line, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return out, nil
}

// decodeDocument keeps numbers as json.Number so integer checks in the
// schemas are exact.
func decodeDocument(line []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after json value")
	}
	return doc, nil
}
