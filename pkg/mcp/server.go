package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pario-ai/stagegate/pkg/engine"
	"github.com/pario-ai/stagegate/pkg/metrics"
)

const maxLine = 1 << 20

// Server answers MCP requests over line-delimited JSON-RPC. Tools route
// tasks, take feedback and maintain the cache through the engine.
type Server struct {
	engine  *engine.Engine
	log     metrics.Log
	version string
}

func New(eng *engine.Engine, log metrics.Log, version string) *Server {
	return &Server{engine: eng, log: log, version: version}
}

// Run serves requests from r until r is exhausted or ctx is done. Replies
// go to w, one JSON document per line. Logs go to logrus, never to w.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	in := bufio.NewScanner(r)
	in.Buffer(make([]byte, 0, 64*1024), maxLine)
	enc := json.NewEncoder(w)

	for in.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := in.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp *Response
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp = replyError(nil, CodeParseError, "parse error")
		} else {
			resp = s.handle(ctx, &req)
		}
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			logrus.WithError(err).Error("[MCP] write response")
		}
	}
	return in.Err()
}

// handle dispatches one request. It returns nil for notifications.
func (s *Server) handle(ctx context.Context, req *Request) (resp *Response) {
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		if req.isNotification() {
			return nil
		}
		return replyError(req.ID, CodeInvalidRequest, "invalid request")
	}
	if req.isNotification() {
		logrus.WithField("method", req.Method).Debug("[MCP] notification")
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			logrus.WithFields(logrus.Fields{"method": req.Method, "panic": p}).Error("[MCP] handler panicked")
			resp = replyError(req.ID, CodeInternalError, "internal error")
		}
	}()

	switch req.Method {
	case "initialize":
		return reply(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: serverName, Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "ping":
		return reply(req.ID, map[string]any{})
	case "tools/list":
		return reply(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.callTool(ctx, req)
	default:
		return replyError(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) callTool(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return replyError(req.ID, CodeInvalidParams, "invalid params")
	}

	h, ok := toolHandlers[params.Name]
	if !ok {
		return reply(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	start := time.Now()
	result := h(ctx, s, params.Arguments)
	logrus.WithFields(logrus.Fields{
		"tool":     params.Name,
		"is_error": result.IsError,
		"elapsed":  time.Since(start),
	}).Debug("[MCP] tool call")
	return reply(req.ID, result)
}
