// Package mcp – transport.go provides the StdioTransport that wires the
// Server to an MCP client via line-delimited JSON-RPC 2.0 over stdin and
// stdout.
//
// Protocol rules:
//   - Each request arrives as a single newline-terminated line on stdin.
//   - Each response is written as a single newline-terminated line to
//     stdout.
//   - ALL diagnostic output goes to stderr only. Any stray bytes on
//     stdout corrupt the protocol framing.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// StdioTransport reads line-delimited JSON-RPC 2.0 requests from an
// io.Reader and writes responses to an io.Writer.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	log    *zap.Logger
}

// NewStdioTransport constructs a transport that reads from in and writes
// to out. The logger must already be bound to stderr.
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer, log *zap.Logger) *StdioTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &StdioTransport{server: srv, in: in, out: out, log: log}
}

// Serve processes requests until stdin closes or ctx is cancelled.
// Requests are handled synchronously in arrival order; the MCP protocol
// does not require transport-level concurrency.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)

	// Large tool payloads (store_entities batches) need headroom.
	const maxBuf = 4 * 1024 * 1024
	scanner.Buffer(make([]byte, maxBuf), maxBuf)

	for {
		select {
		case <-ctx.Done():
			t.log.Info("context cancelled, shutting down")
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				t.log.Error("stdin scanner error", zap.Error(err))
				return fmt.Errorf("stdin scanner: %w", err)
			}
			t.log.Info("stdin closed, shutting down")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := t.server.HandleRequest(ctx, line)
		if err != nil {
			t.log.Error("handler error", zap.Error(err))
			resp = t.internalErrorResponse(line, err)
		}

		if err := t.writeResponse(resp); err != nil {
			t.log.Error("write error", zap.Error(err))
			return fmt.Errorf("write response: %w", err)
		}
	}
}

// writeResponse writes one newline-terminated response frame.
func (t *StdioTransport) writeResponse(resp []byte) error {
	_, err := fmt.Fprintf(t.out, "%s\n", resp)
	return err
}

// internalErrorResponse builds a best-effort JSON-RPC error frame when the
// server itself failed, recovering the request ID if possible.
func (t *StdioTransport) internalErrorResponse(rawRequest []byte, handlerErr error) []byte {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(rawRequest, &partial)

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      partial.ID,
		Error: &JSONRPCError{
			Code:    ErrCodeInternalError,
			Message: handlerErr.Error(),
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
