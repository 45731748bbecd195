// Package client is the matching client library for labrig-agent: one
// synchronous request/response call per RPC, plus listeners for the two
// asynchronous wire formats (completion callback, progress stream). Each
// call dials a fresh TCP connection rather than reusing a persistent
// stream, with explicit timeouts on every round trip.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// DialTimeout bounds connecting to the agent's RPC port.
const DialTimeout = 5 * time.Second

// Client issues JSON-RPC calls against one agent's RPC address. It holds no
// persistent connection; Call dials fresh each time.
type Client struct {
	addr string
}

// New returns a Client targeting addr ("host:port").
func New(addr string) *Client {
	return &Client{addr: addr}
}

// RPCError is returned when the agent's JSON-RPC response carries an error
// object, surfaced over the wire as a code+message pair.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("client: rpc error %d: %s", e.Code, e.Message)
}

type wireRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type wireResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call performs one JSON-RPC 2.0 round trip: dial, write the request line,
// read the response line, close. result may be nil to discard the
// reply payload.
func (c *Client) Call(method string, params []interface{}, result interface{}) error {
	conn, err := net.DialTimeout("tcp", c.addr, DialTimeout)
	if err != nil {
		return fmt.Errorf("client: failed to connect to %q: %w", c.addr, err)
	}
	defer conn.Close()

	req := wireRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("client: failed to encode request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\r\n", body); err != nil {
		return fmt.Errorf("client: failed to write request: %w", err)
	}

	reader := bufio.NewReaderSize(conn, 64*1024)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("client: failed to read response: %w", err)
	}

	var resp wireResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return fmt.Errorf("client: failed to decode response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, result)
}

// StartJob.
func (c *Client) StartJob(programName string, args []string) (int64, error) {
	var id int64
	err := c.Call("StartJob", []interface{}{programName, args}, &id)
	return id, err
}

// StartJobWithNotification. An empty callbackAddress asks the
// agent to substitute the caller's own address from the RPC connection.
func (c *Client) StartJobWithNotification(callbackAddress string, callbackPort int, programName string, args []string) (int64, error) {
	var id int64
	err := c.Call("StartJobWithNotification", []interface{}{callbackAddress, callbackPort, programName, args}, &id)
	return id, err
}

// StartJobWithProgress.
func (c *Client) StartJobWithProgress(callbackAddress string, callbackPort, progressPort int, programName string, args []string) (int64, error) {
	var id int64
	err := c.Call("StartJobWithProgress", []interface{}{callbackAddress, callbackPort, progressPort, programName, args}, &id)
	return id, err
}

// IsJobComplete.
func (c *Client) IsJobComplete(jobID int64) (bool, error) {
	var done bool
	err := c.Call("IsJobComplete", []interface{}{jobID}, &done)
	return done, err
}

// StopJob.
func (c *Client) StopJob(jobID int64) error {
	return c.Call("StopJob", []interface{}{jobID}, nil)
}

// GetJobResult.
func (c *Client) GetJobResult(jobID int64) (string, error) {
	var result string
	err := c.Call("GetJobResult", []interface{}{jobID}, &result)
	return result, err
}

// GetAllJobs: returns the id->done snapshot.
func (c *Client) GetAllJobs() (map[string]bool, error) {
	var jobs map[string]bool
	err := c.Call("GetAllJobs", nil, &jobs)
	return jobs, err
}

// Run: fire-and-forget.
func (c *Client) Run(programName string, args []string) error {
	return c.Call("Run", []interface{}{programName, args}, nil)
}

// RunWithResult: blocks server-side until the child exits.
func (c *Client) RunWithResult(programName string, args []string) (string, error) {
	var result string
	err := c.Call("RunWithResult", []interface{}{programName, args}, &result)
	return result, err
}

// KillProcess: best-effort by image name.
func (c *Client) KillProcess(processName string) error {
	return c.Call("KillProcess", []interface{}{processName}, nil)
}

// Upload: returns the transfer port the caller must connect a tar
// stream to.
func (c *Client) Upload(path string, overwrite bool, port int) (int, error) {
	var assignedPort int
	err := c.Call("Upload", []interface{}{path, overwrite, port}, &assignedPort)
	return assignedPort, err
}

// DownloadResult is Download's [port, byte-total] reply.
type DownloadResult struct {
	Port      int
	ByteTotal int64
}

// Download.
func (c *Client) Download(path string, port int) (DownloadResult, error) {
	var raw [2]int64
	err := c.Call("Download", []interface{}{path, port}, &raw)
	return DownloadResult{Port: int(raw[0]), ByteTotal: raw[1]}, err
}

// GetVersion.
func (c *Client) GetVersion() (string, error) {
	var version string
	err := c.Call("GetVersion", nil, &version)
	return version, err
}

// GetHeartbeat.
func (c *Client) GetHeartbeat() (bool, error) {
	var ok bool
	err := c.Call("GetHeartbeat", nil, &ok)
	return ok, err
}

// GetClientIP.
func (c *Client) GetClientIP() (string, error) {
	var ip string
	err := c.Call("GetClientIP", nil, &ip)
	return ip, err
}
