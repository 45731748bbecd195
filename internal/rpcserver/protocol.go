// Package rpcserver implements the Boundary Adapter: the agent's
// line-delimited JSON-RPC 2.0 dispatch surface, plus its companion UDP
// broadcast discovery responder. It is the only package that translates
// between the wire protocol and the internal job/transfer APIs; no method
// calls into the Plugin Registry.
package rpcserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// request is one line-delimited JSON-RPC 2.0 request: positional
// params only, no named-parameter support.
type request struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

// response is the single-line reply. Exactly one of Result/Error is set.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handlerFunc answers one RPC call given its positional params and the
// address the call arrived from (needed by StartJobWithNotification's
// empty-address substitution and by GetClientIP).
type handlerFunc func(s *Server, params []json.RawMessage, peer net.Addr) (interface{}, error)

var methods = map[string]handlerFunc{
	"StartJob":                 handleStartJob,
	"StartJobWithNotification": handleStartJobWithNotification,
	"StartJobWithProgress":     handleStartJobWithProgress,
	"IsJobComplete":            handleIsJobComplete,
	"StopJob":                  handleStopJob,
	"GetJobResult":             handleGetJobResult,
	"GetAllJobs":               handleGetAllJobs,
	"Run":                      handleRun,
	"RunWithResult":            handleRunWithResult,
	"KillProcess":              handleKillProcess,
	"Upload":                   handleUpload,
	"Download":                 handleDownload,
	"GetVersion":               handleGetVersion,
	"GetHeartbeat":             handleGetHeartbeat,
	"GetClientIP":              handleGetClientIP,
}

// serveConn handles exactly one JSON-RPC request/response cycle on conn
// and then closes it, : "a single-line JSON request ... followed
// by a single-line JSON response ... followed by connection close."
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, 64*1024)
	line, err := reader.ReadString('\n')
	if err != nil {
		s.logger.Debug("rpc connection closed before a request line arrived", zap.Error(err))
		return
	}

	var req request
	if err := json.Unmarshal([]byte(trimCRLF(line)), &req); err != nil {
		writeResponse(conn, response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}})
		return
	}

	fn, ok := methods[req.Method]
	if !ok {
		writeResponse(conn, response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "method not found"}})
		return
	}

	result, err := fn(s, req.Params, conn.RemoteAddr())
	if err != nil {
		kind := classify(err)
		writeResponse(conn, response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: kind.code, Message: kind.message}})
		return
	}

	writeResponse(conn, response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func writeResponse(conn net.Conn, resp response) {
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	fmt.Fprintf(conn, "%s\r\n", body)
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// param unmarshals the i'th positional parameter into dst. Missing
// parameters unmarshal as the zero value.
func param(params []json.RawMessage, i int, dst interface{}) error {
	if i >= len(params) {
		return nil
	}
	return json.Unmarshal(params[i], dst)
}
