// Package mcp exposes the transcription pipeline as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/iaforte/cloud-transcript/pkg/app"
	"github.com/iaforte/cloud-transcript/pkg/logging"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/utils"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName = "cloud-transcript"

	ToolTranscribe  = "transcribe_audio"
	ToolCacheStatus = "cache_status"
	ToolInvalidate  = "invalidate_cache"
)

// Pipeline is the part of app.App the tools need.
type Pipeline interface {
	Transcribe(ctx context.Context, req app.TranscribeRequest) (*app.Report, error)
	CacheStatus(ctx context.Context, paths []string) ([]app.CacheStatus, error)
	Invalidate(ctx context.Context, paths []string) ([]string, error)
}

type handlers struct {
	pipeline Pipeline
}

func NewServer(pipeline Pipeline, version string) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	h := &handlers{pipeline: pipeline}
	s.AddTool(transcribeTool(), h.transcribe)
	s.AddTool(pathsTool(ToolCacheStatus, "Report whether each audio file already has a cached transcript."), h.cacheStatus)
	s.AddTool(pathsTool(ToolInvalidate, "Drop the cached transcripts of the given audio files so the next run transcribes them again."), h.invalidate)
	return s
}

// ServeStdio serves the tools on in/out until ctx is cancelled or in is closed.
func ServeStdio(ctx context.Context, pipeline Pipeline, version string, in io.Reader, out io.Writer) error {
	logging.NewLogger(ctx).Infof("mcp server listening on stdio")
	stdio := server.NewStdioServer(NewServer(pipeline, version))
	return utils.WrapIfNotNil(stdio.Listen(ctx, in, out))
}

func pathsProperty() mcp.ToolOption {
	return mcp.WithArray("paths",
		mcp.Required(),
		mcp.Description("Absolute paths of the voice messages, in upload order."),
		mcp.Items(map[string]any{"type": "string"}),
	)
}

func transcribeTool() mcp.Tool {
	return mcp.NewTool(ToolTranscribe,
		mcp.WithDescription("Transcribe WhatsApp voice messages and return the ordered conversation. "+
			"Cached transcripts are reused; failed items are reported with their error kind."),
		pathsProperty(),
		mcp.WithString("language", mcp.Description("Language hint such as pt or pt-BR. Defaults to the configured hint.")),
		mcp.WithString("order",
			mcp.Description("Ordering of the conversation."),
			mcp.Enum(app.OrderUpload, app.OrderRecorded, app.OrderName),
		),
		mcp.WithBoolean("skip_cache", mcp.Description("Transcribe again even when a cached transcript exists.")),
	)
}

func pathsTool(name string, description string) mcp.Tool {
	return mcp.NewTool(name, mcp.WithDescription(description), pathsProperty())
}

func (h *handlers) transcribe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths := req.GetStringSlice("paths", nil)
	if len(paths) == 0 {
		return mcp.NewToolResultError("paths is required"), nil
	}

	var opts []model.BatchOption
	if language := req.GetString("language", ""); language != "" {
		opts = append(opts, model.WithLanguageHint(language))
	}
	if req.GetBool("skip_cache", false) {
		opts = append(opts, model.WithSkipCache(true))
	}

	report, err := h.pipeline.Transcribe(ctx, app.TranscribeRequest{
		Paths:   paths,
		Order:   req.GetString("order", ""),
		Options: opts,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("transcription failed: %v", err)), nil
	}
	return jsonResult(report)
}

func (h *handlers) cacheStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths := req.GetStringSlice("paths", nil)
	if len(paths) == 0 {
		return mcp.NewToolResultError("paths is required"), nil
	}
	statuses, err := h.pipeline.CacheStatus(ctx, paths)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(statuses)
}

func (h *handlers) invalidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths := req.GetStringSlice("paths", nil)
	if len(paths) == 0 {
		return mcp.NewToolResultError("paths is required"), nil
	}
	fingerprints, err := h.pipeline.Invalidate(ctx, paths)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("invalidated %d cached transcript(s)", len(fingerprints))), nil
}

func jsonResult(value any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
