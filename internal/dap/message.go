/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"encoding/json"
	"sync"

	"github.com/google/go-dap"
)

// sequenceCounter provides thread-safe sequence number generation.
type sequenceCounter struct {
	mu  sync.Mutex
	seq int
}

func newSequenceCounter() *sequenceCounter {
	return &sequenceCounter{seq: 0}
}

// Next returns the next sequence number.
func (c *sequenceCounter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// setSeq stamps an outgoing message with a sequence number.
func setSeq(msg dap.Message, seq int) {
	switch m := msg.(type) {
	case dap.ResponseMessage:
		m.GetResponse().Seq = seq
	case dap.EventMessage:
		m.GetEvent().Seq = seq
	case dap.RequestMessage:
		m.GetRequest().Seq = seq
	}
}

// applyProtocolDefaults fills in request arguments that the protocol defaults to true.
// go-dap decodes absent boolean arguments as false.
func applyProtocolDefaults(msg dap.Message, content []byte) {
	req, isInitialize := msg.(*dap.InitializeRequest)
	if !isInitialize {
		return
	}

	var raw struct {
		Arguments struct {
			LinesStartAt1   *bool `json:"linesStartAt1"`
			ColumnsStartAt1 *bool `json:"columnsStartAt1"`
		} `json:"arguments"`
	}
	if err := json.Unmarshal(content, &raw); err != nil {
		return
	}

	if raw.Arguments.LinesStartAt1 == nil {
		req.Arguments.LinesStartAt1 = true
	}
	if raw.Arguments.ColumnsStartAt1 == nil {
		req.Arguments.ColumnsStartAt1 = true
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func newResponse(request *dap.Request) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    request.Command,
		RequestSeq: request.Seq,
		Success:    true,
	}
}

// newErrorResponse creates a failed response. message is the short machine-readable reason,
// format is the human-readable text shown by the editor.
func newErrorResponse(requestSeq int, command string, id int, message string, format string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(&dap.Request{Command: command, ProtocolMessage: dap.ProtocolMessage{Seq: requestSeq}})
	er.Success = false
	er.Message = message
	er.Body = dap.ErrorResponseBody{
		Error: &dap.ErrorMessage{
			Id:       id,
			Format:   format,
			ShowUser: true,
		},
	}
	return er
}

func newOutputEvent(category string, output string) *dap.OutputEvent {
	return &dap.OutputEvent{
		Event: *newEvent("output"),
		Body: dap.OutputEventBody{
			Category: category,
			Output:   output,
		},
	}
}
