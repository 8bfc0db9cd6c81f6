package server

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/t-kalinowski/positron/session"
)

// SessionInfo is the wire view of a session.
type SessionInfo struct {
	ID         string
	DocumentID session.DocumentID
	Runtime    session.RuntimeID
	State      string
}

func describe(s session.Session) SessionInfo {
	return SessionInfo{
		ID:         s.ID(),
		DocumentID: s.DocumentID(),
		Runtime:    s.Runtime(),
		State:      s.State().String(),
	}
}

func (i SessionInfo) fields() map[string]any {
	return map[string]any{
		"id":          i.ID,
		"document_id": string(i.DocumentID),
		"state":       i.State,
		"runtime":     runtimeFields(i.Runtime),
	}
}

func runtimeFields(rt session.RuntimeID) map[string]any {
	return map[string]any{
		"language": rt.Language,
		"version":  rt.Version,
		"name":     rt.Name,
	}
}

func parseSessionInfo(fields map[string]any) (SessionInfo, error) {
	id, _ := fields["id"].(string)
	if id == "" {
		return SessionInfo{}, fmt.Errorf("%w: session without id", ErrMalformed)
	}
	doc, _ := fields["document_id"].(string)
	state, _ := fields["state"].(string)
	rt, _ := fields["runtime"].(map[string]any)

	return SessionInfo{
		ID:         id,
		DocumentID: session.DocumentID(doc),
		Runtime:    parseRuntime(rt),
		State:      state,
	}, nil
}

func parseRuntime(fields map[string]any) session.RuntimeID {
	var rt session.RuntimeID
	rt.Language, _ = fields["language"].(string)
	rt.Version, _ = fields["version"].(string)
	rt.Name, _ = fields["name"].(string)
	return rt
}

type documentRequest struct {
	doc     session.DocumentID
	runtime session.RuntimeID
}

func parseDocumentRequest(msg *structpb.Struct, needRuntime bool) (documentRequest, error) {
	fields := msg.AsMap()

	doc, _ := fields["document_id"].(string)
	if doc == "" {
		return documentRequest{}, ErrMissingDocument
	}

	req := documentRequest{doc: session.DocumentID(doc)}
	if rt, ok := fields["runtime"].(map[string]any); ok {
		req.runtime = parseRuntime(rt)
	}
	if needRuntime && req.runtime.Language == "" {
		return documentRequest{}, ErrMissingRuntime
	}
	return req, nil
}

func newDocumentRequest(doc session.DocumentID, rt *session.RuntimeID) (*structpb.Struct, error) {
	fields := map[string]any{"document_id": string(doc)}
	if rt != nil {
		fields["runtime"] = runtimeFields(*rt)
	}
	return structpb.NewStruct(fields)
}

func sessionResponse(s session.Session) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"session": describe(s).fields()})
}
