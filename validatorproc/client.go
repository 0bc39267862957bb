// Package validatorproc implements the external block-validator wire
// protocol: a length-prefixed request/response framing over a Unix-domain
// socket to a child validation process. Only the parent side is implemented
// here -- the child binary itself is an opaque collaborator.
package validatorproc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
)

// shutdownTimeout is the grace period Close waits for a clean exit before
// escalating to SIGTERM.
const shutdownTimeout = 5 * time.Second

// state is the client's three-state lifecycle.
type state int

const (
	stateUninitialized state = iota
	stateRunning
	stateExiting
)

// Client is the parent-side handle to one external validation process.
type Client struct {
	binary    string
	socketDir string

	mu        sync.Mutex // serialises send/recv pairs
	st        state
	conn      net.Conn
	cmd       *exec.Cmd
	listener  net.Listener
	socketPath string
	restarted bool // whether the one allowed restart has already happened

	restartGroup singleflight.Group

	log log.Logger
}

// NewClient constructs a client for the validator binary at path, using dir
// as the socket directory. It does not spawn the child; the first
// Send does that lazily from stateUninitialized.
func NewClient(binary, socketDir string) *Client {
	return &Client{
		binary:    binary,
		socketDir: socketDir,
		log:       log.New("module", "validator-process"),
	}
}

// Send issues one request and decodes its Ok payload into out (a pointer),
// or returns the decoded RemoteError / a process failure. It is safe for
// concurrent callers: requests are serialised.
func (c *Client) Send(kind RequestKind, payload interface{}, out interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == stateExiting {
		return ErrCannotValidateWhileShuttingDown
	}

	if c.st == stateUninitialized {
		if err := c.start(); err != nil {
			return fmt.Errorf("starting validation process: %w", err)
		}
	}

	raw, err := encodeRequest(kind, payload)
	if err != nil {
		return err
	}

	resp, err := c.roundTrip(raw)
	if err != nil {
		if c.processExitedAbnormally() && !c.restarted {
			c.restarted = true
			_, startErr, _ := c.restartGroup.Do("restart", func() (interface{}, error) {
				c.log.Warn("Validation process exited abnormally, restarting", "err", err)
				c.teardownConn()
				return nil, c.start()
			})
			if startErr != nil {
				return fmt.Errorf("restarting validation process: %w", startErr)
			}
			resp, err = c.roundTrip(raw)
		}
		if err != nil {
			return &ErrValidationProcessFailed{Reason: err.Error()}
		}
	}

	if !resp.Ok {
		return &RemoteError{Trace: resp.Trace}
	}
	if out != nil && len(resp.Payload) > 0 {
		return rlp.DecodeBytes(resp.Payload, out)
	}
	return nil
}

func (c *Client) roundTrip(raw []byte) (*response, error) {
	if err := writeFrame(c.conn, raw); err != nil {
		return nil, err
	}
	payload, err := readFrame(c.conn)
	if err != nil {
		return nil, err
	}
	var resp response
	if err := rlp.DecodeBytes(payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) processExitedAbnormally() bool {
	return c.cmd != nil && c.cmd.ProcessState != nil && !c.cmd.ProcessState.Success()
}

// start spawns the child and performs the handshake; Parameters are sent
// separately by SendParameters. The caller must hold c.mu.
func (c *Client) start() error {
	socketPath := filepath.Join(c.socketDir, fmt.Sprintf("validation_process_%d.sock", os.Getpid()))
	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}

	cmd := exec.Command(c.binary, "--socket-dir", c.socketDir)
	// argv carries only the directory; the child discovers the exact
	// socket file itself (out of scope: its own discovery convention).
	cmd.Dir, _ = os.Getwd()
	if err := cmd.Start(); err != nil {
		ln.Close()
		os.Remove(socketPath)
		return fmt.Errorf("spawning validator subprocess: %w", err)
	}

	conn, err := ln.Accept()
	if err != nil {
		ln.Close()
		os.Remove(socketPath)
		return fmt.Errorf("accepting validator connection: %w", err)
	}
	ln.Close()
	os.Remove(socketPath) // the fd alone keeps the endpoint alive

	if err := writeFrame(conn, magic[:]); err != nil {
		conn.Close()
		return err
	}
	got, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return err
	}
	if len(got) != len(magic) || string(got) != string(magic[:]) {
		conn.Close()
		return &ErrInconsistentHandshake{Reason: "magic mismatch"}
	}

	c.socketPath = socketPath
	c.listener = nil
	c.conn = conn
	c.cmd = cmd
	c.st = stateRunning
	return nil
}

// SendParameters transmits the Parameters frame, which must be sent exactly
// once right after the handshake.
func (c *Client) SendParameters(p Parameters) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == stateUninitialized {
		if err := c.start(); err != nil {
			return err
		}
	}
	raw, err := rlp.EncodeToBytes(&p)
	if err != nil {
		return err
	}
	return writeFrame(c.conn, raw)
}

func (c *Client) teardownConn() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close sends Terminate, waits up to shutdownTimeout, else escalates to
// SIGTERM. Connection errors during close
// (ECONNREFUSED/EPIPE/ENOTCONN) are swallowed since the child may already be
// gone.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st != stateRunning {
		c.st = stateExiting
		return nil
	}
	c.st = stateExiting

	raw, _ := encodeRequest(KindTerminate, nil)
	if err := writeFrame(c.conn, raw); err != nil && !isSwallowedCloseError(err) {
		c.log.Warn("Error sending terminate to validation process", "err", err)
	}
	c.teardownConn()

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		c.log.Warn("Validation process did not exit in time, sending SIGTERM")
		if c.cmd.Process != nil {
			c.cmd.Process.Signal(syscall.SIGTERM)
		}
		<-done
	}
	if c.socketPath != "" {
		os.Remove(c.socketPath)
	}
	return nil
}

func isSwallowedCloseError(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ENOTCONN)
}
