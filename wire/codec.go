package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MaxFrameSize bounds a single encoded envelope.
const MaxFrameSize = 16 << 20

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrMalformed     = errors.New("malformed envelope")
)

// Marshal encodes an envelope as a protobuf Struct. Content and Metadata must
// hold JSON-compatible values (the types accepted by structpb.NewValue).
func Marshal(env *Envelope) ([]byte, error) {
	st, err := toStruct(env)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

func toStruct(env *Envelope) (*structpb.Struct, error) {
	fields := map[string]any{
		"id":        env.ID,
		"parent_id": env.ParentID,
		"session":   env.SessionID,
		"msg_type":  string(env.Type),
		"channel":   env.Channel,
		"timestamp": env.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if env.Content != nil {
		fields["content"] = env.Content
	}
	if env.Metadata != nil {
		fields["metadata"] = env.Metadata
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", env.ID, err)
	}
	return st, nil
}

// Unmarshal decodes bytes produced by Marshal. Numbers come back as float64,
// matching JSON decoding.
func Unmarshal(data []byte) (*Envelope, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromStruct(&st)
}

func fromStruct(st *structpb.Struct) (*Envelope, error) {
	fields := st.AsMap()
	msgType, _ := fields["msg_type"].(string)
	if msgType == "" {
		return nil, fmt.Errorf("%w: missing msg_type", ErrMalformed)
	}

	env := &Envelope{Type: MessageType(msgType)}
	env.ID, _ = fields["id"].(string)
	env.ParentID, _ = fields["parent_id"].(string)
	env.SessionID, _ = fields["session"].(string)
	env.Channel, _ = fields["channel"].(string)
	env.Content, _ = fields["content"].(map[string]any)
	env.Metadata, _ = fields["metadata"].(map[string]any)

	if ts, ok := fields["timestamp"].(string); ok && ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
		}
		env.Timestamp = parsed
	}

	return env, nil
}

// Encoder writes varint size-delimited frames. Safe for concurrent use.
type Encoder struct {
	w  io.Writer
	mu sync.Mutex
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Encode(env *Envelope) error {
	st, err := toStruct(env)
	if err != nil {
		return err
	}
	if size := proto.Size(st); size > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = protodelim.MarshalTo(e.w, st)
	return err
}

// Decoder reads frames written by an Encoder. Not safe for concurrent use.
type Decoder struct {
	r    *bufio.Reader
	opts protodelim.UnmarshalOptions
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:    bufio.NewReader(r),
		opts: protodelim.UnmarshalOptions{MaxSize: MaxFrameSize},
	}
}

// Decode returns io.EOF when the stream ends cleanly between frames and
// io.ErrUnexpectedEOF when it ends inside one. Read errors are returned
// unchanged.
func (d *Decoder) Decode() (*Envelope, error) {
	var st structpb.Struct
	if err := d.opts.UnmarshalFrom(d.r, &st); err != nil {
		var tooLarge *protodelim.SizeTooLargeError
		switch {
		case errors.As(err, &tooLarge):
			return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, tooLarge.Size)
		case errors.Is(err, proto.Error):
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return nil, err
	}
	return fromStruct(&st)
}
