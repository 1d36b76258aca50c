package main

import (
	"go.lsp.dev/protocol"

	"github.com/jward/arbor/internal/inspect"
	"github.com/jward/arbor/internal/querypack"
)

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLINode is one named node of a parse outline.
type CLINode struct {
	Type  string         `json:"type"`
	Field string         `json:"field,omitempty"`
	Depth int            `json:"depth"`
	Range protocol.Range `json:"range"`
}

// CLIParse describes a parsed document.
type CLIParse struct {
	File     string    `json:"file"`
	Language string    `json:"language"`
	HasError bool      `json:"has_error"`
	Tree     string    `json:"tree,omitempty"`
	Nodes    []CLINode `json:"nodes"`
}

// CLICapture is one query capture.
type CLICapture struct {
	Name    string         `json:"name"`
	Pattern int            `json:"pattern"`
	Match   int            `json:"match"`
	Type    string         `json:"type"`
	Text    string         `json:"text"`
	Range   protocol.Range `json:"range"`
}

// CLILanguage describes a supported language.
type CLILanguage struct {
	Language string   `json:"language"`
	Suffixes []string `json:"suffixes"`
	Loaded   bool     `json:"loaded"`
}

// CLIFetch reports a downloaded query pack.
type CLIFetch struct {
	URL   string `json:"url"`
	Dest  string `json:"dest"`
	Files int    `json:"files"`
}

// CLIEvent is one line of watch output.
type CLIEvent struct {
	Event    string               `json:"event"`
	URI      protocol.DocumentURI `json:"uri"`
	Version  int32                `json:"version,omitempty"`
	HasError bool                 `json:"has_error,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// CLIScope is the scope chain at a position.
type CLIScope = inspect.Result

// CLIManifest is a resolved query pack.
type CLIManifest = querypack.Manifest
