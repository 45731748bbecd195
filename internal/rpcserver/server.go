package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/labrig/agent/internal/job"
	"github.com/labrig/agent/internal/plugin"
	"github.com/labrig/agent/internal/sink"
	"github.com/labrig/agent/internal/spawner"
	"github.com/labrig/agent/internal/transfer"
)

// pingPayload is the discovery request payload: an inbound
// datagram carrying exactly this text elicits the RPC server's port,
// encoded as a 4-byte little-endian integer.
const pingPayload = "SimpleJsonRpc Ping"

// Version is the agent's reported build version, returned by GetVersion.
var Version = "dev"

// Server is the Boundary Adapter: it owns no state of its own beyond
// the Job Registry and Plugin Registry it was constructed with, and is safe
// for concurrent RPC handling — every handler is stateless with respect to
// the transport.
type Server struct {
	registry *job.Registry
	plugins  *plugin.Registry
	logger   *zap.Logger

	rpcLn net.Listener
	udpPC net.PacketConn
}

// New constructs a Server. registry and plugins must outlive the Server.
func New(registry *job.Registry, plugins *plugin.Registry, logger *zap.Logger) *Server {
	return &Server{
		registry: registry,
		plugins:  plugins,
		logger:   logger.Named("rpcserver"),
	}
}

// Listen opens the JSON-RPC listener on rpcAddr and returns its bound port
// (needed by the caller to start the discovery responder before Serve
// blocks).
func (s *Server) Listen(rpcAddr string) (int, error) {
	ln, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		return 0, fmt.Errorf("rpcserver: failed to listen on %q: %w", rpcAddr, err)
	}
	s.rpcLn = ln
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Serve accepts JSON-RPC connections on the listener opened by Listen until
// ctx is cancelled. It blocks until the listener closes (either from ctx
// cancellation or a fatal accept error).
func (s *Server) Serve(ctx context.Context) error {
	ln := s.rpcLn

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info("rpc server listening", zap.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("rpcserver: accept failed: %w", err)
			}
		}
		go s.serveConn(conn)
	}
}

// ServeDiscovery runs the UDP broadcast discovery responder until
// ctx is cancelled. rpcPort is the port advertised in response to a ping.
func (s *Server) ServeDiscovery(ctx context.Context, udpAddr string, rpcPort int) error {
	pc, err := net.ListenPacket("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("rpcserver: failed to listen on %q: %w", udpAddr, err)
	}
	s.udpPC = pc

	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	s.logger.Info("discovery responder listening", zap.String("addr", pc.LocalAddr().String()))

	buf := make([]byte, 256)
	for {
		n, peer, err := pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("rpcserver: discovery read failed: %w", err)
			}
		}
		if string(buf[:n]) != pingPayload {
			continue
		}
		reply := []byte{
			byte(rpcPort), byte(rpcPort >> 8), byte(rpcPort >> 16), byte(rpcPort >> 24),
		}
		if _, err := pc.WriteTo(reply, peer); err != nil {
			s.logger.Warn("discovery reply failed", zap.Stringer("peer", peer), zap.Error(err))
		}
	}
}

// peerHost extracts the bare address (no port) from a RemoteAddr, used for
// StartJobWithNotification's empty-address substitution.
func peerHost(peer net.Addr) string {
	host, _, err := net.SplitHostPort(peer.String())
	if err != nil {
		return peer.String()
	}
	return host
}

// --- handlers -------------------------------------------------------------

type startJobParams struct {
	ProgramName string   `json:"programName"`
	Args        []string `json:"args"`
}

func parseStartJob(params []json.RawMessage) (startJobParams, error) {
	var p startJobParams
	if err := param(params, 0, &p.ProgramName); err != nil {
		return p, err
	}
	param(params, 1, &p.Args)
	return p, nil
}

func handleStartJob(s *Server, params []json.RawMessage, _ net.Addr) (interface{}, error) {
	p, err := parseStartJob(params)
	if err != nil {
		return nil, err
	}
	return s.createJob(p.ProgramName, p.Args, nil, nil)
}

func handleStartJobWithNotification(s *Server, params []json.RawMessage, peer net.Addr) (interface{}, error) {
	var callbackAddress string
	var callbackPort int
	var programName string
	var args []string

	param(params, 0, &callbackAddress)
	param(params, 1, &callbackPort)
	param(params, 2, &programName)
	param(params, 3, &args)

	if callbackAddress == "" {
		callbackAddress = peerHost(peer)
	}

	completion := &sink.Endpoint{Address: callbackAddress, Port: callbackPort}
	return s.createJob(programName, args, completion, nil)
}

func handleStartJobWithProgress(s *Server, params []json.RawMessage, peer net.Addr) (interface{}, error) {
	var callbackAddress string
	var callbackPort int
	var progressPort int
	var programName string
	var args []string

	param(params, 0, &callbackAddress)
	param(params, 1, &callbackPort)
	param(params, 2, &progressPort)
	param(params, 3, &programName)
	param(params, 4, &args)

	if callbackAddress == "" {
		callbackAddress = peerHost(peer)
	}

	completion := &sink.Endpoint{Address: callbackAddress, Port: callbackPort}
	progress := &sink.Endpoint{Address: callbackAddress, Port: progressPort}
	return s.createJob(programName, args, completion, progress)
}

func (s *Server) createJob(programName string, args []string, completion, progress *sink.Endpoint) (interface{}, error) {
	id := s.registry.NextID()
	j, err := job.Create(id, programName, args, completion, progress, s.logger)
	if err != nil {
		return nil, err
	}
	s.registry.Put(j)
	return id, nil
}

func handleIsJobComplete(s *Server, params []json.RawMessage, _ net.Addr) (interface{}, error) {
	var id int64
	param(params, 0, &id)
	j, err := s.registry.TryGet(id)
	if err != nil {
		return nil, err
	}
	return j.IsDone(), nil
}

func handleStopJob(s *Server, params []json.RawMessage, _ net.Addr) (interface{}, error) {
	var id int64
	param(params, 0, &id)
	if err := s.registry.StopJob(id); err != nil {
		return nil, err
	}
	return true, nil
}

func handleGetJobResult(s *Server, params []json.RawMessage, _ net.Addr) (interface{}, error) {
	var id int64
	param(params, 0, &id)

	j, err := s.registry.TryGet(id)
	if err != nil {
		return nil, err
	}

	result, err := j.GetResult(context.Background())
	if err != nil {
		return nil, err
	}

	s.registry.TryRemove(id)
	return result, nil
}

func handleGetAllJobs(s *Server, _ []json.RawMessage, _ net.Addr) (interface{}, error) {
	snaps := s.registry.Snapshot()
	out := make(map[string]bool, len(snaps))
	for _, snap := range snaps {
		out[fmt.Sprintf("%d", snap.ID)] = snap.IsDone
	}
	return out, nil
}

func handleRun(s *Server, params []json.RawMessage, _ net.Addr) (interface{}, error) {
	p, err := parseStartJob(params)
	if err != nil {
		return nil, err
	}
	id := s.registry.NextID()
	j, err := job.Create(id, p.ProgramName, p.Args, nil, nil, s.logger)
	if err != nil {
		return nil, err
	}
	s.registry.Put(j)
	return true, nil
}

func handleRunWithResult(s *Server, params []json.RawMessage, _ net.Addr) (interface{}, error) {
	p, err := parseStartJob(params)
	if err != nil {
		return nil, err
	}
	id := s.registry.NextID()
	j, err := job.Create(id, p.ProgramName, p.Args, nil, nil, s.logger)
	if err != nil {
		return nil, err
	}

	return j.WaitResult(context.Background())
}

func handleKillProcess(s *Server, params []json.RawMessage, _ net.Addr) (interface{}, error) {
	var processName string
	param(params, 0, &processName)
	if err := spawner.KillByName(processName); err != nil {
		s.logger.Warn("KillProcess best-effort attempt failed", zap.String("process", processName), zap.Error(err))
	}
	return true, nil
}

func handleUpload(s *Server, params []json.RawMessage, _ net.Addr) (interface{}, error) {
	var destPath string
	var overwrite bool
	var requestedPort int
	param(params, 0, &destPath)
	param(params, 1, &overwrite)
	param(params, 2, &requestedPort)

	ln, err := transfer.Listen(requestedPort, requestedPort != 0)
	if err != nil {
		return nil, err
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			s.logger.Warn("upload transfer timed out waiting for peer", zap.Error(err))
			return
		}
		n, err := transfer.Upload(conn, destPath, overwrite)
		if err != nil {
			s.logger.Warn("upload transfer failed", zap.Error(err))
			return
		}
		s.logger.Info("upload transfer complete", zap.Int64("bytes", n))
	}()

	return ln.Port(), nil
}

func handleDownload(s *Server, params []json.RawMessage, _ net.Addr) (interface{}, error) {
	var path string
	var requestedPort int
	param(params, 0, &path)
	param(params, 1, &requestedPort)

	size, err := transfer.ProbeSize(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	ln, err := transfer.Listen(requestedPort, requestedPort != 0)
	if err != nil {
		return nil, err
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			s.logger.Warn("download transfer timed out waiting for peer", zap.Error(err))
			return
		}
		n, err := transfer.Download(conn, path)
		if err != nil {
			s.logger.Warn("download transfer failed", zap.Error(err))
			return
		}
		s.logger.Info("download transfer complete", zap.Int64("bytes", n))
	}()

	return [2]int64{int64(ln.Port()), size}, nil
}

func handleGetVersion(s *Server, _ []json.RawMessage, _ net.Addr) (interface{}, error) {
	return Version, nil
}

func handleGetHeartbeat(s *Server, _ []json.RawMessage, _ net.Addr) (interface{}, error) {
	return true, nil
}

func handleGetClientIP(s *Server, _ []json.RawMessage, peer net.Addr) (interface{}, error) {
	return peerHost(peer), nil
}
