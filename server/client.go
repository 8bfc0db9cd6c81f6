package server

import (
	"context"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/t-kalinowski/positron/session"
)

// Client calls a SessionService over connect.
type Client struct {
	start    *connect.Client[structpb.Struct, structpb.Struct]
	shutdown *connect.Client[structpb.Struct, structpb.Struct]
	restart  *connect.Client[structpb.Struct, structpb.Struct]
	get      *connect.Client[structpb.Struct, structpb.Struct]
	list     *connect.Client[structpb.Struct, structpb.Struct]
}

// NewClient creates a Client for the service hosted at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	newProc := func(procedure string) *connect.Client[structpb.Struct, structpb.Struct] {
		return connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+procedure, opts...)
	}

	return &Client{
		start:    newProc(StartSessionProcedure),
		shutdown: newProc(ShutdownSessionProcedure),
		restart:  newProc(RestartSessionProcedure),
		get:      newProc(GetSessionProcedure),
		list:     newProc(ListSessionsProcedure),
	}
}

func (c *Client) StartSession(ctx context.Context, doc session.DocumentID, rt session.RuntimeID) (SessionInfo, error) {
	return c.callSession(ctx, c.start, doc, &rt)
}

func (c *Client) RestartSession(ctx context.Context, doc session.DocumentID, rt session.RuntimeID) (SessionInfo, error) {
	return c.callSession(ctx, c.restart, doc, &rt)
}

func (c *Client) ShutdownSession(ctx context.Context, doc session.DocumentID) error {
	msg, err := newDocumentRequest(doc, nil)
	if err != nil {
		return err
	}
	_, err = c.shutdown.CallUnary(ctx, connect.NewRequest(msg))
	return err
}

// GetSession reports the document's session, if it has one.
func (c *Client) GetSession(ctx context.Context, doc session.DocumentID) (SessionInfo, bool, error) {
	msg, err := newDocumentRequest(doc, nil)
	if err != nil {
		return SessionInfo{}, false, err
	}

	res, err := c.get.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return SessionInfo{}, false, err
	}

	fields := res.Msg.AsMap()
	if found, _ := fields["found"].(bool); !found {
		return SessionInfo{}, false, nil
	}
	info, err := sessionField(fields)
	if err != nil {
		return SessionInfo{}, false, err
	}
	return info, true, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	res, err := c.list.CallUnary(ctx, connect.NewRequest(&structpb.Struct{}))
	if err != nil {
		return nil, err
	}

	raw, _ := res.Msg.AsMap()["sessions"].([]any)
	infos := make([]SessionInfo, 0, len(raw))
	for _, item := range raw {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: session entry is %T", ErrMalformed, item)
		}
		info, err := parseSessionInfo(fields)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (c *Client) callSession(ctx context.Context, proc *connect.Client[structpb.Struct, structpb.Struct], doc session.DocumentID, rt *session.RuntimeID) (SessionInfo, error) {
	msg, err := newDocumentRequest(doc, rt)
	if err != nil {
		return SessionInfo{}, err
	}

	res, err := proc.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return SessionInfo{}, err
	}
	return sessionField(res.Msg.AsMap())
}

func sessionField(fields map[string]any) (SessionInfo, error) {
	raw, ok := fields["session"].(map[string]any)
	if !ok {
		return SessionInfo{}, fmt.Errorf("%w: missing session", ErrMalformed)
	}
	return parseSessionInfo(raw)
}
