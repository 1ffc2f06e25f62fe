// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes record publication tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/publish"
	"github.com/starford/quill/internal/recordservice"
	"github.com/starford/quill/internal/sweep"
)

const formatURI = "quill://artifact-format"

// Sweeper runs the build-time sweep.
type Sweeper interface {
	Run(ctx context.Context, kinds ...models.Kind) sweep.Summary
}

// Server wraps the MCP server with quill tools.
type Server struct {
	mcp     *server.MCPServer
	svc     *recordservice.Service
	rc      *publish.Reconciler
	sweeper Sweeper
	logger  *slog.Logger
}

// New creates a new MCP server with all tools registered. sweeper may be nil
// when artifact writes are deferred; run_sweep then reports an error.
func New(svc *recordservice.Service, rc *publish.Reconciler, sweeper Sweeper, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, rc: rc, sweeper: sweeper, logger: logger}

	s.mcp = server.NewMCPServer(
		"Quill",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	kindArg := mcp.WithString("kind", mcp.Required(),
		mcp.Enum("note", "post"),
		mcp.Description("Record kind"))

	s.mcp.AddTool(mcp.NewTool("list_records",
		mcp.WithDescription("List records of a kind, most recently updated first."),
		kindArg,
		mcp.WithString("published", mcp.Enum("true", "false"),
			mcp.Description("Optional publication state filter")),
	), s.listRecords)

	s.mcp.AddTool(mcp.NewTool("get_record",
		mcp.WithDescription("Read a single record including its content."),
		kindArg,
		mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
	), s.getRecord)

	s.mcp.AddTool(mcp.NewTool("publish_record",
		mcp.WithDescription("Publish a record. A slug is derived from the title on first publish "+
			"and never changes afterwards. The artifact file is written now, or by the next "+
			"sweep when writes are deferred."),
		kindArg,
		mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
	), s.publishRecord)

	s.mcp.AddTool(mcp.NewTool("unpublish_record",
		mcp.WithDescription("Unpublish a previously published record. The artifact stays on disk "+
			"with published set to false."),
		kindArg,
		mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
	), s.unpublishRecord)

	s.mcp.AddTool(mcp.NewTool("run_sweep",
		mcp.WithDescription("Reconcile every artifact file with its record and return a summary."),
		mcp.WithString("kind", mcp.Enum("note", "post"),
			mcp.Description("Optional kind to restrict the sweep to")),
	), s.runSweep)

	s.mcp.AddTool(mcp.NewTool("get_artifact_format",
		mcp.WithDescription("Returns the artifact file format the static site generator reads."),
	), s.getArtifactFormat)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Artifact Format",
			mcp.WithResourceDescription("Layout of the frontmatter files written for published records."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readArtifactFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, errRes := requireKind(req)
	if errRes != nil {
		return errRes, nil
	}
	var f recordservice.ListFilter
	switch req.GetString("published", "") {
	case "true":
		v := true
		f.Published = &v
	case "false":
		v := false
		f.Published = &v
	}
	recs, err := s.svc.List(ctx, kind, f)
	if err != nil {
		return s.toolError("list_records", kind.KeyPrefix(), err), nil
	}

	type item struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Slug      string `json:"slug,omitempty"`
		Published bool   `json:"published"`
	}
	items := make([]item, len(recs))
	for i, r := range recs {
		items[i] = item{ID: r.ID, Title: r.Title, Slug: r.Slug, Published: r.Published}
	}
	return jsonResult(items), nil
}

func (s *Server) getRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, errRes := requireKind(req)
	if errRes != nil {
		return errRes, nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.Get(ctx, kind, id)
	if err != nil {
		return s.toolError("get_record", kind.Key(id), err), nil
	}
	return jsonResult(rec), nil
}

func (s *Server) publishRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.transition(ctx, req, "publish_record", s.rc.Publish)
}

func (s *Server) unpublishRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.transition(ctx, req, "unpublish_record", s.rc.Unpublish)
}

func (s *Server) transition(ctx context.Context, req mcp.CallToolRequest, tool string,
	fn func(context.Context, models.Kind, string) (*publish.Result, error)) (*mcp.CallToolResult, error) {
	kind, errRes := requireKind(req)
	if errRes != nil {
		return errRes, nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := fn(ctx, kind, id)
	if err != nil {
		return s.toolError(tool, kind.Key(id), err), nil
	}
	return jsonResult(map[string]any{
		"success":  true,
		"slug":     res.Slug,
		"deferred": res.Deferred(),
	}), nil
}

func (s *Server) runSweep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.sweeper == nil {
		return mcp.NewToolResultError("artifact writes are deferred; run the sweep at build time"), nil
	}
	var kinds []models.Kind
	if raw := req.GetString("kind", ""); raw != "" {
		kind, err := models.ParseKind(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		kinds = append(kinds, kind)
	}
	return jsonResult(s.sweeper.Run(ctx, kinds...)), nil
}

func (s *Server) getArtifactFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ArtifactFormat), nil
}

func (s *Server) readArtifactFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     ArtifactFormat,
		},
	}, nil
}

// toolError turns err into a tool error result. Caller mistakes are reported
// verbatim; anything else is logged and hidden.
func (s *Server) toolError(tool, key string, err error) *mcp.CallToolResult {
	if publish.IsClientError(err) {
		return mcp.NewToolResultError(err.Error())
	}
	s.logger.Error("mcp: tool failed",
		slog.String("tool", tool),
		slog.String("key", key),
		slog.String("error", err.Error()))
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: internal error", tool))
}

func requireKind(req mcp.CallToolRequest) (models.Kind, *mcp.CallToolResult) {
	raw, err := req.RequireString("kind")
	if err != nil {
		return "", mcp.NewToolResultError(err.Error())
	}
	kind, err := models.ParseKind(raw)
	if err != nil {
		return "", mcp.NewToolResultError(err.Error())
	}
	return kind, nil
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}
