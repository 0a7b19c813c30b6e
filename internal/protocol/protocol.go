// Package protocol defines the wire messages exchanged with browser clients
// over the consulting WebSocket endpoint: inbound frames decoded into typed
// commands, and outbound event envelopes.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound frame type tags.
const (
	TypeSubscribeProject   = "subscribe_project"
	TypeUnsubscribeProject = "unsubscribe_project"
	TypeSubscribeClient    = "subscribe_client"
	TypeGetProjectStatus   = "get_project_status"
)

var (
	ErrMissingProjectID = errors.New("projectId is required")
	ErrMissingClientID  = errors.New("clientId is required")
)

// UnknownTypeError reports an inbound frame whose type tag is not recognised.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// MalformedFrameError reports an inbound frame that is not valid JSON or is
// missing its type tag.
type MalformedFrameError struct {
	Cause error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed message: %v", e.Cause)
}

func (e *MalformedFrameError) Unwrap() error { return e.Cause }

// Command is the discriminated union of inbound client commands. New frame
// kinds are added here and handled exhaustively by the dispatcher.
type Command interface{ isCommand() }

type baseCommand struct{}

func (baseCommand) isCommand() {}

type SubscribeProject struct {
	baseCommand
	ProjectID string
	ClientID  string // optional; empty means no client subscription
}

type UnsubscribeProject struct {
	baseCommand
	ProjectID string
}

type SubscribeClient struct {
	baseCommand
	ClientID string
}

type GetProjectStatus struct {
	baseCommand
	ProjectID string
}

type rawFrame struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	ClientID  string `json:"clientId"`
}

// Parse decodes one inbound frame into a typed command. Validation failures
// (missing required identifier) and unknown types return an error without any
// command; callers report these back to the originating connection only.
func Parse(data []byte) (Command, error) {
	var frame rawFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, &MalformedFrameError{Cause: err}
	}
	if frame.Type == "" {
		return nil, &MalformedFrameError{Cause: errors.New("missing type field")}
	}

	switch frame.Type {
	case TypeSubscribeProject:
		if frame.ProjectID == "" {
			return nil, ErrMissingProjectID
		}
		return SubscribeProject{ProjectID: frame.ProjectID, ClientID: frame.ClientID}, nil
	case TypeUnsubscribeProject:
		if frame.ProjectID == "" {
			return nil, ErrMissingProjectID
		}
		return UnsubscribeProject{ProjectID: frame.ProjectID}, nil
	case TypeSubscribeClient:
		if frame.ClientID == "" {
			return nil, ErrMissingClientID
		}
		return SubscribeClient{ClientID: frame.ClientID}, nil
	case TypeGetProjectStatus:
		if frame.ProjectID == "" {
			return nil, ErrMissingProjectID
		}
		return GetProjectStatus{ProjectID: frame.ProjectID}, nil
	default:
		return nil, &UnknownTypeError{Type: frame.Type}
	}
}
