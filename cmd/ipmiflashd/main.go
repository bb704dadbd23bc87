// Command ipmiflashd is Core A's standalone firmware blob daemon. It owns a
// blob.Handler and exposes its open/write/commit/close/delete operations
// over a control socket, independent of the RMCP+ session daemon (cmd/netipmid)
// and of how a caller's transport actually reaches it: the original ties
// blob commands to IPMI OEM group commands dispatched through the same
// comm_module as every other IPMI request, but this module treats the blob
// state machine as its own process with its own entrypoint (SPEC_FULL.md
// §1), so it needs a wire protocol of its own. There is no teacher or pack
// precedent for that specific protocol; a newline-delimited JSON
// request/response exchange over a unix domain socket was chosen as the
// simplest thing that lets a local host-side tool (or a small bridge
// embedded in netipmid's own command dispatch) drive every Handler method
// without inventing a binary framing format for a single-host control
// plane. See DESIGN.md.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/openbmc-go/netipmid/blob"
	"github.com/openbmc-go/netipmid/config"
)

var Version = "1.0.0"

// request is one line of the control protocol: an operation name plus
// whichever of the optional fields that operation needs. Unused fields are
// simply omitted by the caller.
type request struct {
	Op      string `json:"op"`
	Session uint16 `json:"session,omitempty"`
	Flags   uint16 `json:"flags,omitempty"`
	Path    string `json:"path,omitempty"`
	Offset  uint32 `json:"offset,omitempty"`
	Data    []byte `json:"data,omitempty"` // base64 over the wire, per encoding/json's []byte handling
}

// response is the single reply line for a request. Ok reports whether the
// underlying Handler call succeeded; Error carries a protocol-level
// complaint (bad op, malformed request) that never reached the Handler at
// all.
type response struct {
	Ok      bool     `json:"ok"`
	Error   string   `json:"error,omitempty"`
	BlobIDs []string `json:"blob_ids,omitempty"`
	State   string   `json:"state,omitempty"`
	Meta    *metaOut `json:"meta,omitempty"`
	Data    []byte   `json:"data,omitempty"`
}

type metaOut struct {
	BlobState uint16 `json:"blob_state"`
	Size      int    `json:"size"`
	Metadata  []byte `json:"metadata,omitempty"`
}

func main() {
	configPath := flag.String("config", "netipmid.yaml", "Path to config file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	handler, err := blob.NewHandler(blob.LoadHandlerConfigs(cfg.Blob.ConfigDir), blob.DefaultTransports())
	if err != nil {
		log.Fatalf("ipmiflashd: no usable blob configuration in %s: %v", cfg.Blob.ConfigDir, err)
	}

	os.Remove(cfg.Blob.SocketPath)
	listener, err := net.Listen("unix", cfg.Blob.SocketPath)
	if err != nil {
		log.Fatalf("failed to bind control socket %s: %v", cfg.Blob.SocketPath, err)
	}
	defer listener.Close()
	defer os.Remove(cfg.Blob.SocketPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("ipmiflashd: shutting down")
		listener.Close()
	}()

	var closing atomic.Bool

	log.WithField("socket", cfg.Blob.SocketPath).Info("ipmiflashd started")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if closing.Load() {
				return
			}
			var opErr *net.OpError
			if errors.As(err, &opErr) && errors.Is(opErr.Err, net.ErrClosed) {
				return
			}
			log.WithError(err).Warn("ipmiflashd: accept error")
			continue
		}
		go serveConn(conn, handler)
	}
}

// serveConn handles every request on one connection in order: the protocol
// is request/response, not pipelined, so there is nothing to serialize
// beyond reading one line and writing one line back.
func serveConn(conn net.Conn, handler *blob.Handler) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 16*1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(response{Error: "malformed request: " + err.Error()})
			continue
		}
		resp := dispatch(handler, req)
		if err := enc.Encode(resp); err != nil {
			log.WithError(err).Warn("ipmiflashd: failed to write response")
			return
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		log.WithError(err).Debug("ipmiflashd: connection read error")
	}
}

// dispatch maps one request onto the corresponding blob.Handler method.
// Every branch is a direct, unmodified call into Handler: the daemon adds
// no business logic of its own, only wire marshaling.
func dispatch(h *blob.Handler, req request) response {
	switch req.Op {
	case "list":
		return response{Ok: true, BlobIDs: h.GetBlobIDs()}

	case "stat":
		meta, ok := h.Stat(req.Path)
		if !ok {
			return response{Ok: false, Error: "no such blob"}
		}
		return response{Ok: true, Meta: &metaOut{BlobState: meta.BlobState, Size: meta.Size, Metadata: meta.Metadata}}

	case "stat_session":
		meta, ok := h.StatSession(req.Session)
		if !ok {
			return response{Ok: false, Error: "no such session"}
		}
		return response{Ok: true, Meta: &metaOut{BlobState: meta.BlobState, Size: meta.Size, Metadata: meta.Metadata}}

	case "open":
		ok := h.Open(req.Session, req.Flags, req.Path)
		return response{Ok: ok}

	case "write":
		ok := h.Write(req.Session, req.Offset, req.Data)
		return response{Ok: ok}

	case "write_meta":
		ok := h.WriteMeta(req.Session, req.Data)
		return response{Ok: ok}

	case "commit":
		ok := h.Commit(req.Session)
		return response{Ok: ok}

	case "close":
		ok := h.Close(req.Session)
		return response{Ok: ok}

	case "delete":
		ok := h.DeleteBlob(req.Path)
		return response{Ok: ok}

	case "expire":
		ok := h.Expire(req.Session)
		return response{Ok: ok}

	case "state":
		return response{Ok: true, State: h.State().String()}

	default:
		return response{Error: "unknown op: " + req.Op}
	}
}
