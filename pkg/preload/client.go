package preload

import (
	"fmt"
	"net"
	"time"

	"github.com/sparv-lang/engine/internal/engineerr"
)

// Client is a short-lived connection to a preloader Server, mirroring the
// original implementation's connect_to_socket/send_data/receive_data helpers
// (sparv/core/preload.py) as one dial-request-close round trip per call.
type Client struct {
	SocketPath string
	Timeout    time.Duration
}

// NewClient builds a Client dialing socketPath, with a default 30s timeout.
func NewClient(socketPath string) *Client {
	return &Client{SocketPath: socketPath, Timeout: 30 * time.Second}
}

func (c *Client) roundTrip(req Request) (Response, error) {
	conn, err := net.DialTimeout("unix", c.SocketPath, 5*time.Second)
	if err != nil {
		return Response{}, fmt.Errorf("%w: dial %s: %v", engineerr.ErrSocketError, c.SocketPath, err)
	}
	defer conn.Close()

	if c.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.Timeout))
	}
	if err := WriteFrame(conn, req); err != nil {
		return Response{}, err
	}
	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", engineerr.ErrSocketError, err)
	}
	return resp, nil
}

// RunJob dispatches one job to the preloaded processor. A Refused response
// (pool exhausted, not forced) or a Stale response (config fingerprint
// mismatch) is not an error: the caller should fall back to a cold run of
// the same processor.
func (c *Client) RunJob(processorID, sourceFile string, bindings map[string]any, force bool, configFingerprint string) (Response, error) {
	return c.roundTrip(Request{
		ProcessorID:       processorID,
		SourceFile:        sourceFile,
		Bindings:          bindings,
		ForcePreloader:    force,
		ConfigFingerprint: configFingerprint,
	})
}

// Info returns the server's per-processor preload metadata.
func (c *Client) Info() (map[string]any, error) {
	resp, err := c.roundTrip(Request{Command: CommandInfo})
	if err != nil {
		return nil, err
	}
	return resp.Info, nil
}

// Status returns the server's per-processor pool occupancy.
func (c *Client) Status() (map[string]any, error) {
	resp, err := c.roundTrip(Request{Command: CommandStatus})
	if err != nil {
		return nil, err
	}
	return resp.Info, nil
}

// Ping checks that the server is alive and responsive.
func (c *Client) Ping() error {
	resp, err := c.roundTrip(Request{Command: CommandPing})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%w: ping refused: %s", engineerr.ErrSocketError, resp.Error)
	}
	return nil
}

// Stop asks the server to drain and shut down.
func (c *Client) Stop() error {
	resp, err := c.roundTrip(Request{Command: CommandStop})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%w: stop refused: %s", engineerr.ErrSocketError, resp.Error)
	}
	return nil
}
