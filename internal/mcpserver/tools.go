// Package mcpserver registers MCP tools that expose gallery operations.
// It adapts the gallery engine and client gallery service to the MCP
// SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/amaradri/gallery-admin/internal/auth"
	"github.com/amaradri/gallery-admin/internal/clientgallery"
	"github.com/amaradri/gallery-admin/internal/gallery"
	"github.com/amaradri/gallery-admin/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// History records completed saves. *state.State implements it.
type History interface {
	RecordSave(sum state.SaveSummary) error
}

// Deps holds what the tools operate on. History may be nil.
type Deps struct {
	Engine    *gallery.Engine
	Galleries *clientgallery.Service
	History   History
	Logger    *slog.Logger
}

// RegisterTools adds all gallery tools to the given MCP server.
func RegisterTools(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_state",
		Description: "Show the live gallery: status, the last loaded snapshot, the working copy with pending uploads, and whether there is anything to save.",
	}, stateHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_add",
		Description: "Add images to the end of the working copy as pending uploads. Content is base64. Non-image files are skipped. Nothing is uploaded until gallery_save.",
	}, addHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_remove",
		Description: "Remove an entry from the working copy by id. Persisted images are deleted from storage on the next gallery_save.",
	}, removeHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_reorder",
		Description: "Move the entry at position 'from' to position 'to' in the working copy. Positions are 0-indexed.",
	}, reorderHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_plan",
		Description: "Preview what gallery_save would do: deletions, the retained order, pending uploads, and a line diff of snapshot vs working copy.",
	}, planHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_save",
		Description: "Apply the working copy to storage: delete removed images, write the order, upload pending images, then reload. Fails if a load or save is already running.",
	}, saveHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_reload",
		Description: "Reload the gallery from storage, discarding unsaved edits.",
	}, reloadHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "client_gallery_list",
		Description: "List client galleries, newest first, with name, title, drive link, URL slug and status.",
	}, listGalleriesHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "client_gallery_create",
		Description: "Create a client gallery. The URL slug is derived from the name; a name whose slug already exists is rejected.",
	}, createGalleryHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "client_gallery_delete",
		Description: "Delete a client gallery by name or slug.",
	}, deleteGalleryHandler(d))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// StateInput has no parameters.
type StateInput struct{}

// FileInput is one file for gallery_add.
type FileInput struct {
	Name        string `json:"name" jsonschema:"file name, used in the storage key"`
	ContentType string `json:"content_type,omitempty" jsonschema:"media type, inferred from name and content when empty"`
	Data        string `json:"data" jsonschema:"base64-encoded file content"`
}

// AddInput holds parameters for gallery_add.
type AddInput struct {
	Files []FileInput `json:"files" jsonschema:"files to add, in order"`
}

// RemoveInput holds parameters for gallery_remove.
type RemoveInput struct {
	ID string `json:"id" jsonschema:"entry id from gallery_state"`
}

// ReorderInput holds parameters for gallery_reorder.
type ReorderInput struct {
	From int `json:"from" jsonschema:"current position (0-indexed)"`
	To   int `json:"to" jsonschema:"target position (0-indexed)"`
}

// PlanInput has no parameters.
type PlanInput struct{}

// SaveInput has no parameters.
type SaveInput struct{}

// ReloadInput has no parameters.
type ReloadInput struct{}

// ListGalleriesInput has no parameters.
type ListGalleriesInput struct{}

// CreateGalleryInput holds parameters for client_gallery_create.
type CreateGalleryInput struct {
	Name      string `json:"name" jsonschema:"client name"`
	Title     string `json:"title" jsonschema:"gallery title"`
	DriveLink string `json:"drive_link" jsonschema:"http(s) link to the shared drive folder"`
}

// DeleteGalleryInput holds parameters for client_gallery_delete.
type DeleteGalleryInput struct {
	Name string `json:"name" jsonschema:"gallery name or slug"`
}

// --- Results ---

// AddResult lists the entries gallery_add created.
type AddResult struct {
	Added   []gallery.Entry `json:"added"`
	Skipped int             `json:"skipped"`
}

// PlanResult is the gallery_plan output.
type PlanResult struct {
	Plan    gallery.Plan `json:"plan"`
	Diff    string       `json:"diff"`
	CanSave bool         `json:"can_save"`
}

// SaveResult is the gallery_save output.
type SaveResult struct {
	Saved   bool                `json:"saved"`
	Result  *gallery.SaveResult `json:"result,omitempty"`
	Summary *state.SaveSummary  `json:"summary,omitempty"`
}

// GalleriesResult is the client_gallery_list output.
type GalleriesResult struct {
	Galleries []clientgallery.Gallery `json:"galleries"`
}

// DeleteResult confirms a deletion.
type DeleteResult struct {
	Deleted string `json:"deleted"`
}

// --- Handlers ---

func stateHandler(d Deps) mcp.ToolHandlerFor[StateInput, *gallery.View] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StateInput) (*mcp.CallToolResult, *gallery.View, error) {
		view := d.Engine.State()
		return textResult(view), &view, nil
	}
}

func addHandler(d Deps) mcp.ToolHandlerFor[AddInput, *AddResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input AddInput) (*mcp.CallToolResult, *AddResult, error) {
		if len(input.Files) == 0 {
			return nil, nil, fmt.Errorf("files is required")
		}

		files := make([]gallery.File, 0, len(input.Files))

		for i, f := range input.Files {
			data, err := base64.StdEncoding.DecodeString(f.Data)
			if err != nil {
				return nil, nil, fmt.Errorf("file %d (%s): invalid base64: %w", i, f.Name, err)
			}

			files = append(files, gallery.File{Name: f.Name, ContentType: f.ContentType, Data: data})
		}

		added, err := d.Engine.AddFiles(files)
		if err != nil {
			return nil, nil, err
		}

		d.Logger.Info("files added via MCP",
			slog.String("user_id", auth.RequestUserID(ctx)),
			slog.Int("added", len(added)),
		)

		if added == nil {
			added = []gallery.Entry{}
		}

		result := &AddResult{Added: added, Skipped: len(files) - len(added)}

		return textResult(result), result, nil
	}
}

func removeHandler(d Deps) mcp.ToolHandlerFor[RemoveInput, *gallery.View] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input RemoveInput) (*mcp.CallToolResult, *gallery.View, error) {
		if err := d.Engine.RemoveEntry(input.ID); err != nil {
			return nil, nil, err
		}

		view := d.Engine.State()

		return textResult(view), &view, nil
	}
}

func reorderHandler(d Deps) mcp.ToolHandlerFor[ReorderInput, *gallery.View] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ReorderInput) (*mcp.CallToolResult, *gallery.View, error) {
		if err := d.Engine.Reorder(input.From, input.To); err != nil {
			return nil, nil, err
		}

		view := d.Engine.State()

		return textResult(view), &view, nil
	}
}

func planHandler(d Deps) mcp.ToolHandlerFor[PlanInput, *PlanResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ PlanInput) (*mcp.CallToolResult, *PlanResult, error) {
		plan := d.Engine.Plan()
		result := &PlanResult{Plan: plan, Diff: plan.Describe(), CanSave: !plan.Empty()}

		return textResult(result), result, nil
	}
}

func saveHandler(d Deps) mcp.ToolHandlerFor[SaveInput, *SaveResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ SaveInput) (*mcp.CallToolResult, *SaveResult, error) {
		res, err := d.Engine.SaveWithResult(ctx)
		if err != nil {
			return nil, nil, err
		}

		if !res.Applied() {
			result := &SaveResult{}
			return textResult(result), result, nil
		}

		sum := state.Summarize(res, auth.RequestUserID(ctx), time.Now())

		if d.History != nil {
			if err := d.History.RecordSave(sum); err != nil {
				d.Logger.Warn("recording save", slog.String("error", err.Error()))
			}
		}

		result := &SaveResult{Saved: true, Result: res, Summary: &sum}

		return textResult(result), result, nil
	}
}

func reloadHandler(d Deps) mcp.ToolHandlerFor[ReloadInput, *gallery.View] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ ReloadInput) (*mcp.CallToolResult, *gallery.View, error) {
		if err := d.Engine.Load(ctx); err != nil {
			return nil, nil, err
		}

		view := d.Engine.State()

		return textResult(view), &view, nil
	}
}

func listGalleriesHandler(d Deps) mcp.ToolHandlerFor[ListGalleriesInput, *GalleriesResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ ListGalleriesInput) (*mcp.CallToolResult, *GalleriesResult, error) {
		list, err := d.Galleries.List(ctx)
		if err != nil {
			return nil, nil, err
		}

		result := &GalleriesResult{Galleries: list}

		return textResult(result), result, nil
	}
}

func createGalleryHandler(d Deps) mcp.ToolHandlerFor[CreateGalleryInput, *clientgallery.Gallery] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CreateGalleryInput) (*mcp.CallToolResult, *clientgallery.Gallery, error) {
		g, err := d.Galleries.Create(ctx, clientgallery.Input{
			Name:      input.Name,
			Title:     input.Title,
			DriveLink: input.DriveLink,
		})
		if err != nil {
			return nil, nil, err
		}

		return textResult(g), g, nil
	}
}

func deleteGalleryHandler(d Deps) mcp.ToolHandlerFor[DeleteGalleryInput, *DeleteResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DeleteGalleryInput) (*mcp.CallToolResult, *DeleteResult, error) {
		if err := d.Galleries.Delete(ctx, input.Name); err != nil {
			return nil, nil, err
		}

		result := &DeleteResult{Deleted: clientgallery.Slug(input.Name)}

		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
