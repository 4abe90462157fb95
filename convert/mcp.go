package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/convbox/kit"
)

// RegisterMCP registers the conversion tools on an MCP server. Tools
// operate on file paths, which keeps large binaries out of the protocol.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerImagesToPDFTool(srv)
	s.registerPDFToImagesTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// --- images → pdf ---

type imagesToPDFReq struct {
	Paths []string `json:"paths"`
	Out   string   `json:"out"`
}

type imagesToPDFResp struct {
	Out   string `json:"out"`
	Pages int    `json:"pages"`
	Bytes int    `json:"bytes"`
}

func (s *Service) registerImagesToPDFTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "convert_images_to_pdf",
		Description: "Convert an ordered list of JPG/PNG files into a single PDF, one centered A4 page per image.",
		InputSchema: inputSchema(map[string]any{
			"paths": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Image file paths, in page order",
			},
			"out": map[string]any{"type": "string", "description": "Output PDF path"},
		}, []string{"paths", "out"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*imagesToPDFReq)
		files, err := readImageInputs(r.Paths)
		if err != nil {
			return nil, err
		}
		doc, err := s.ImagesToPDF(ctx, files)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(r.Out, doc, 0644); err != nil {
			return nil, fmt.Errorf("write %s: %w", r.Out, err)
		}
		return &imagesToPDFResp{Out: r.Out, Pages: len(files), Bytes: len(doc)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r imagesToPDFReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// readImageInputs loads each path and infers the content type from the
// extension. Anything that is not .png is declared JPEG, matching the
// engine's fallback policy.
func readImageInputs(paths []string) ([]InputFile, error) {
	files := make([]InputFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		mimeType := FallbackImageFormat
		if strings.EqualFold(filepath.Ext(p), ".png") {
			mimeType = "image/png"
		}
		files = append(files, InputFile{
			Name:     filepath.Base(p),
			MIMEType: mimeType,
			Data:     data,
		})
	}
	return files, nil
}

// --- pdf → images ---

type pdfToImagesReq struct {
	Path   string `json:"path"`
	OutDir string `json:"out_dir"`
}

type pdfToImagesResp struct {
	Files []string `json:"files"`
	Pages int      `json:"pages"`
}

func (s *Service) registerPDFToImagesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "convert_pdf_to_images",
		Description: "Render every page of a PDF to PNG files named page-NNN.png in the output directory.",
		InputSchema: inputSchema(map[string]any{
			"path":    map[string]any{"type": "string", "description": "PDF file path"},
			"out_dir": map[string]any{"type": "string", "description": "Directory for the page PNGs"},
		}, []string{"path", "out_dir"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*pdfToImagesReq)
		data, err := os.ReadFile(r.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", r.Path, err)
		}
		pages, err := s.PDFToImages(ctx, filepath.Base(r.Path), data)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(r.OutDir, 0755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", r.OutDir, err)
		}
		names := make([]string, 0, len(pages))
		for _, p := range pages {
			dst := filepath.Join(r.OutDir, p.Name)
			if err := os.WriteFile(dst, p.Data, 0644); err != nil {
				return nil, fmt.Errorf("write %s: %w", dst, err)
			}
			names = append(names, dst)
		}
		return &pdfToImagesResp{Files: names, Pages: len(pages)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r pdfToImagesReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
