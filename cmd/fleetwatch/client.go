/*
 * Copyright 2025 VenueVision Labs.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/venuevision/fleetwatch/pkg/devices"
)

const dialTimeout = 10 * time.Second

// tcpClientFactory dials devices over their line-oriented TCP control port.
type tcpClientFactory struct{}

func (tcpClientFactory) NewClient(ctx context.Context, address string, port int) (devices.DeviceClient, error) {
	var dialer net.Dialer

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dial %s:%d: %w", address, port, err)
	}

	return &tcpClient{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// tcpClient speaks the device control protocol: one command line out, one
// response line back. Calls are serialized per connection.
type tcpClient struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

func (c *tcpClient) roundTrip(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(dialTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", err
	}

	if _, err := fmt.Fprintf(c.conn, "%s\n", command); err != nil {
		return "", fmt.Errorf("send %q: %w", command, err)
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read response to %q: %w", command, err)
	}

	return strings.TrimSpace(line), nil
}

func (c *tcpClient) ExecuteShellCommand(ctx context.Context, cmd string) (string, error) {
	return c.roundTrip(ctx, "shell "+cmd)
}

func (c *tcpClient) KeepAwake(ctx context.Context, enable bool) (bool, error) {
	state := "off"
	if enable {
		state = "on"
	}

	resp, err := c.roundTrip(ctx, "keep-awake "+state)
	if err != nil {
		return false, err
	}

	return resp == "ok", nil
}

func (c *tcpClient) GetScreenState(ctx context.Context) (devices.ScreenState, error) {
	resp, err := c.roundTrip(ctx, "screen-state")
	if err != nil {
		return devices.ScreenUnknown, err
	}

	switch resp {
	case "on":
		return devices.ScreenOn, nil
	case "off":
		return devices.ScreenOff, nil
	default:
		return devices.ScreenUnknown, nil
	}
}

func (c *tcpClient) AllowSleep(ctx context.Context) (bool, error) {
	resp, err := c.roundTrip(ctx, "allow-sleep")
	if err != nil {
		return false, err
	}

	return resp == "ok", nil
}

func (c *tcpClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn.Close()
}
