package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
}

// WELCOME (server -> client). Config is the current assets/config.json, or
// null before the first successful build.
type WelcomeMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	SessionID       string          `json:"session_id"`
	BuildID         string          `json:"build_id,omitempty"`
	Config          json.RawMessage `json:"config"`
}

// BUILD (server -> client) is broadcast after every rebuild attempt.
type BuildMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	BuildID         string          `json:"build_id,omitempty"`
	OK              bool            `json:"ok"`
	Error           string          `json:"error,omitempty"`
	Config          json.RawMessage `json:"config,omitempty"`
}

// ERROR (server -> client) precedes a close caused by a bad request.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
