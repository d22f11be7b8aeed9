package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/snatch/engine"
	"github.com/hazyhaar/snatch/export"
)

// NewMCPServer creates an MCP server with the snatch tools registered.
func (s *Server) NewMCPServer(version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "snatch", Version: version}, nil)
	s.RegisterMCP(srv)
	return srv
}

// RegisterMCP registers the snatch tools on srv.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.commandTool(srv, "snatch_start", "Start scanning the chat list, or resume a paused scan.", engine.ActionStart)
	s.commandTool(srv, "snatch_stop", "Stop the running scan and keep the collected contacts.", engine.ActionStop)
	s.commandTool(srv, "snatch_status", "Report whether a scan is running and how many contacts are held.", engine.ActionStatus)
	s.commandTool(srv, "snatch_ping", "Cheap liveness probe of the page context.", engine.ActionPing)

	tool(srv, &mcp.Tool{
		Name:        "snatch_contacts",
		Description: "List the collected contacts in discovery order.",
		InputSchema: inputSchema(nil, nil),
	}, func(ctx context.Context, _ json.RawMessage) (any, error) {
		recs, err := s.eng.Contacts(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"contacts": nonNil(recs), "count": len(recs)}, nil
	})

	tool(srv, &mcp.Tool{
		Name:        "snatch_export",
		Description: "Render the collected contacts as a file. Returns filename, mime type and content.",
		InputSchema: inputSchema(map[string]any{
			"format": map[string]any{
				"type":        "string",
				"enum":        []any{"csv", "xlsx", "json", "vcard", "markdown"},
				"description": "Output format (default csv)",
			},
		}, nil),
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var req struct {
			Format string `json:"format"`
		}
		if err := decode(args, &req); err != nil {
			return nil, err
		}
		format, err := export.ParseFormat(req.Format)
		if err != nil {
			return nil, err
		}
		f, name, err := s.export(ctx, format)
		if err != nil {
			return nil, err
		}
		return map[string]any{"filename": name, "mime_type": f.MimeType, "content": string(f.Content)}, nil
	})

	tool(srv, &mcp.Tool{
		Name:        "snatch_clear",
		Description: "Delete the collected contacts. Refused while a scan is running.",
		InputSchema: inputSchema(nil, nil),
	}, func(ctx context.Context, _ json.RawMessage) (any, error) {
		if err := s.eng.Clear(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"status": "cleared"}, nil
	})
}

func (s *Server) commandTool(srv *mcp.Server, name, desc string, a engine.Action) {
	tool(srv, &mcp.Tool{Name: name, Description: desc, InputSchema: inputSchema(nil, nil)},
		func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.command(ctx, a)
		})
}

// tool registers fn, encoding its result as JSON text and its error as
// a tool error result.
func tool(srv *mcp.Server, t *mcp.Tool, fn func(context.Context, json.RawMessage) (any, error)) {
	srv.AddTool(t, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := fn(ctx, req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil
	})
}

func decode(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	s := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
