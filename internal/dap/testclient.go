/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/go-dap"
)

// TestClient is a DAP client for testing purposes.
// It plays the editor side of a DAP connection and provides helper methods for common requests.
type TestClient struct {
	transport Transport
	seq       *sequenceCounter

	// eventChan receives events from the server
	eventChan chan dap.Message

	// responseChans tracks pending requests waiting for responses
	responseChans map[int]chan dap.Message
	responseMu    sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks reader goroutine
	wg sync.WaitGroup
}

// NewTestClient creates a new DAP test client with the given transport.
func NewTestClient(transport Transport) *TestClient {
	ctx, cancel := context.WithCancel(context.Background())
	c := &TestClient{
		transport:     transport,
		seq:           newSequenceCounter(),
		eventChan:     make(chan dap.Message, 100),
		responseChans: make(map[int]chan dap.Message),
		ctx:           ctx,
		cancel:        cancel,
	}

	c.wg.Add(1)
	go c.readLoop()

	return c
}

// readLoop continuously reads messages from the transport and routes them.
func (c *TestClient) readLoop() {
	defer c.wg.Done()

	for {
		msg, readErr := c.transport.ReadMessage()
		if errors.Is(readErr, ErrMalformedMessage) {
			continue
		}
		if readErr != nil {
			return
		}

		switch m := msg.(type) {
		case dap.ResponseMessage:
			resp := m.GetResponse()
			c.responseMu.Lock()
			if ch, ok := c.responseChans[resp.RequestSeq]; ok {
				ch <- msg
				delete(c.responseChans, resp.RequestSeq)
			}
			c.responseMu.Unlock()

		case dap.EventMessage:
			select {
			case c.eventChan <- msg:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// Send sends a request and waits for the response, which may be an error response.
func (c *TestClient) Send(ctx context.Context, req dap.RequestMessage) (dap.Message, error) {
	request := req.GetRequest()
	seq := c.seq.Next()
	request.Seq = seq
	request.Type = "request"

	respChan := make(chan dap.Message, 1)
	c.responseMu.Lock()
	c.responseChans[seq] = respChan
	c.responseMu.Unlock()

	if writeErr := c.transport.WriteMessage(req); writeErr != nil {
		c.responseMu.Lock()
		delete(c.responseChans, seq)
		c.responseMu.Unlock()
		return nil, fmt.Errorf("failed to send request: %w", writeErr)
	}

	select {
	case resp := <-respChan:
		return resp, nil
	case <-ctx.Done():
		c.responseMu.Lock()
		delete(c.responseChans, seq)
		c.responseMu.Unlock()
		return nil, ctx.Err()
	}
}

// sendExpecting sends a request and checks that the response is successful and of type T.
func sendExpecting[T dap.ResponseMessage](ctx context.Context, c *TestClient, req dap.RequestMessage) (T, error) {
	var zero T

	resp, sendErr := c.Send(ctx, req)
	if sendErr != nil {
		return zero, sendErr
	}

	if errResp, isErr := resp.(*dap.ErrorResponse); isErr {
		format := ""
		if errResp.Body.Error != nil {
			format = errResp.Body.Error.Format
		}
		return zero, fmt.Errorf("%s failed: %s (%s)", req.GetRequest().Command, errResp.Message, format)
	}

	typed, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type: %T", resp)
	}

	if !typed.GetResponse().Success {
		return zero, fmt.Errorf("%s failed: %s", req.GetRequest().Command, typed.GetResponse().Message)
	}

	return typed, nil
}

func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

// Initialize sends an initialize request and returns the capabilities.
func (c *TestClient) Initialize(ctx context.Context) (*dap.InitializeResponse, error) {
	req := &dap.InitializeRequest{
		Request: newRequest("initialize"),
		Arguments: dap.InitializeRequestArguments{
			ClientID:        "test-client",
			ClientName:      "DAP Test Client",
			AdapterID:       "lldbdap",
			Locale:          "en-US",
			LinesStartAt1:   true,
			ColumnsStartAt1: true,
			PathFormat:      "path",
		},
	}

	return sendExpecting[*dap.InitializeResponse](ctx, c, req)
}

// Launch sends a launch request to debug the given program.
func (c *TestClient) Launch(ctx context.Context, program string, stopOnEntry bool) error {
	argsJSON, marshalErr := json.Marshal(launchArguments{Program: program, StopOnEntry: stopOnEntry})
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal launch arguments: %w", marshalErr)
	}

	req := &dap.LaunchRequest{
		Request:   newRequest("launch"),
		Arguments: argsJSON,
	}

	_, err := sendExpecting[*dap.LaunchResponse](ctx, c, req)
	return err
}

// Attach sends an attach request for the given program.
func (c *TestClient) Attach(ctx context.Context, program string) error {
	argsJSON, marshalErr := json.Marshal(attachArguments{Program: program})
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal attach arguments: %w", marshalErr)
	}

	req := &dap.AttachRequest{
		Request:   newRequest("attach"),
		Arguments: argsJSON,
	}

	_, err := sendExpecting[*dap.AttachResponse](ctx, c, req)
	return err
}

// SetBreakpoints sets breakpoints in the given file at the specified lines.
func (c *TestClient) SetBreakpoints(ctx context.Context, file string, lines []int) (*dap.SetBreakpointsResponse, error) {
	breakpoints := make([]dap.SourceBreakpoint, len(lines))
	for i, line := range lines {
		breakpoints[i] = dap.SourceBreakpoint{Line: line}
	}

	req := &dap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: file},
			Breakpoints: breakpoints,
		},
	}

	return sendExpecting[*dap.SetBreakpointsResponse](ctx, c, req)
}

// ConfigurationDone signals that configuration is complete.
func (c *TestClient) ConfigurationDone(ctx context.Context) error {
	req := &dap.ConfigurationDoneRequest{
		Request: newRequest("configurationDone"),
	}

	_, err := sendExpecting[*dap.ConfigurationDoneResponse](ctx, c, req)
	return err
}

// Evaluate sends an evaluate request and returns the result text.
func (c *TestClient) Evaluate(ctx context.Context, expression string) (string, error) {
	req := &dap.EvaluateRequest{
		Request: newRequest("evaluate"),
		Arguments: dap.EvaluateArguments{
			Expression: expression,
			Context:    "repl",
		},
	}

	resp, err := sendExpecting[*dap.EvaluateResponse](ctx, c, req)
	if err != nil {
		return "", err
	}
	return resp.Body.Result, nil
}

// Disconnect sends a disconnect request to terminate the debug session.
func (c *TestClient) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	req := &dap.DisconnectRequest{
		Request: newRequest("disconnect"),
		Arguments: &dap.DisconnectArguments{
			TerminateDebuggee: terminateDebuggee,
		},
	}

	_, err := sendExpecting[*dap.DisconnectResponse](ctx, c, req)
	return err
}

// WaitForEvent waits for an event of the specified type, discarding other events.
func (c *TestClient) WaitForEvent(eventType string, timeout time.Duration) (dap.Message, error) {
	deadline := time.After(timeout)

	for {
		select {
		case msg := <-c.eventChan:
			if event, ok := msg.(dap.EventMessage); ok && event.GetEvent().Event == eventType {
				return msg, nil
			}

		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event %q", eventType)

		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		}
	}
}

// CollectOutput gathers the text of output events of the given category until the text contains want
// or the timeout expires. Other events are discarded.
func (c *TestClient) CollectOutput(category string, want string, timeout time.Duration) (string, error) {
	deadline := time.After(timeout)
	collected := ""

	for {
		select {
		case msg := <-c.eventChan:
			if output, ok := msg.(*dap.OutputEvent); ok && output.Body.Category == category {
				collected += output.Body.Output
				if strings.Contains(collected, want) {
					return collected, nil
				}
			}

		case <-deadline:
			return collected, fmt.Errorf("timeout waiting for %q in %s output", want, category)

		case <-c.ctx.Done():
			return collected, c.ctx.Err()
		}
	}
}

// WaitForStoppedEvent waits for a stopped event.
func (c *TestClient) WaitForStoppedEvent(timeout time.Duration) (*dap.StoppedEvent, error) {
	msg, waitErr := c.WaitForEvent("stopped", timeout)
	if waitErr != nil {
		return nil, waitErr
	}

	stoppedEvent, ok := msg.(*dap.StoppedEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected event type: %T", msg)
	}

	return stoppedEvent, nil
}

// WaitForTerminatedEvent waits for a terminated event.
func (c *TestClient) WaitForTerminatedEvent(timeout time.Duration) error {
	_, waitErr := c.WaitForEvent("terminated", timeout)
	return waitErr
}

// Close closes the client and its transport.
func (c *TestClient) Close() error {
	c.cancel()
	closeErr := c.transport.Close()
	c.wg.Wait()
	return closeErr
}
