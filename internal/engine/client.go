package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/swaplab/swapd/internal/config"
)

// Probe checks whether a daemon is running by attempting to connect to its
// control socket.
func Probe() bool {
	conn, err := net.DialTimeout("unix", config.SocketPath(), 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Command sends one request to the daemon and reads the response. Uses
// newline-delimited JSON over the Unix control socket.
func Command(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", config.SocketPath(), 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to swapd daemon: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(10 * time.Second))

	reqBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	reqBytes = append(reqBytes, '\n')
	if _, err := conn.Write(reqBytes); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	reader := bufio.NewReader(conn)
	respLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &resp, nil
}
