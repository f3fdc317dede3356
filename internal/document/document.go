// Package document resolves the financial spreadsheet used by the
// document-backed analyses. Resolution never fails for lack of a document: a
// synthesized business-context file stands in when nothing was uploaded.
package document

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/venturelens/strategy-cli/internal/model"
)

// MIME types for the supported spreadsheet formats.
const (
	MIMEXLSX        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMEXLS         = "application/vnd.ms-excel"
	MIMECSV         = "text/csv"
	MIMEOctetStream = "application/octet-stream"
	MIMEPlainText   = "text/plain"
)

// FallbackFilename names the synthesized business-context file.
const FallbackFilename = "business_data.txt"

// File is an in-memory file ready for multipart upload.
type File struct {
	Name         string
	MIME         string
	Content      []byte
	LastModified time.Time
	// TemplateType carries the backend's template tag for uploaded documents;
	// empty for explicit uploads and fallback files.
	TemplateType string
}

// MIMEFromFilename infers the upload MIME type from the file extension.
func MIMEFromFilename(name string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "xlsx":
		return MIMEXLSX
	case "xls":
		return MIMEXLS
	case "csv":
		return MIMECSV
	default:
		return MIMEOctetStream
	}
}

// BuildFallbackFile synthesizes a plain-text business-context file from the
// prepared question/answer pairs so a document call can proceed without an
// uploaded spreadsheet.
func BuildFallbackFile(questions, answers []string) *File {
	var b strings.Builder
	b.WriteString("Business Context:\n")
	for i, q := range questions {
		answer := ""
		if i < len(answers) {
			answer = answers[i]
		}
		fmt.Fprintf(&b, "%s: %s\n", q, answer)
	}
	return &File{
		Name:    FallbackFilename,
		MIME:    MIMEPlainText,
		Content: []byte(b.String()),
	}
}

// ValidateSpreadsheet checks that an uploaded xlsx document opens and has at
// least one non-empty sheet. CSV and legacy xls uploads are passed through
// unchecked; the ML backend owns their parsing.
func ValidateSpreadsheet(f *File) error {
	if MIMEFromFilename(f.Name) != MIMEXLSX {
		return nil
	}
	wb, err := xlsx.OpenBinary(f.Content)
	if err != nil {
		return eris.Wrapf(err, "document: open %s", f.Name)
	}
	for _, sheet := range wb.Sheets {
		if len(sheet.Rows) > 0 {
			return nil
		}
	}
	return eris.Errorf("document: %s has no rows", f.Name)
}

// Fetcher retrieves the backend's saved financial document for a business.
type Fetcher interface {
	GetFinancialDocument(ctx context.Context, businessID string) (*model.DocumentInfo, error)
	DownloadFinancialDocument(ctx context.Context, businessID string) ([]byte, error)
}

// Resolver picks the file for a document-backed analysis call.
type Resolver struct {
	fetcher Fetcher
}

// NewResolver creates a Resolver backed by the given fetcher.
func NewResolver(fetcher Fetcher) *Resolver {
	return &Resolver{fetcher: fetcher}
}

// Resolve returns the file to upload, in fixed priority order: the explicit
// file if given, else the backend's saved document reconstructed with an
// extension-derived MIME type, else the synthesized fallback built from the
// question/answer pairs. Backend fetch problems degrade to the fallback.
func (r *Resolver) Resolve(ctx context.Context, businessID string, explicit *File, questions, answers []string) *File {
	if explicit != nil {
		return explicit
	}

	if r.fetcher != nil && businessID != "" {
		if f := r.fromBackend(ctx, businessID); f != nil {
			return f
		}
	}

	return BuildFallbackFile(questions, answers)
}

func (r *Resolver) fromBackend(ctx context.Context, businessID string) *File {
	info, err := r.fetcher.GetFinancialDocument(ctx, businessID)
	if err != nil {
		zap.L().Warn("document: fetch metadata failed",
			zap.String("business_id", businessID),
			zap.Error(err),
		)
		return nil
	}
	if info == nil || !info.HasDocument {
		return nil
	}

	data, err := r.fetcher.DownloadFinancialDocument(ctx, businessID)
	if err != nil {
		zap.L().Warn("document: download failed",
			zap.String("business_id", businessID),
			zap.Error(err),
		)
		return nil
	}

	return ReconstructFile(data, info)
}

// ReconstructFile builds an upload-ready File from downloaded bytes and the
// backend's document metadata.
func ReconstructFile(data []byte, info *model.DocumentInfo) *File {
	if len(data) == 0 || info == nil {
		return nil
	}
	return &File{
		Name:         info.Filename,
		MIME:         MIMEFromFilename(info.Filename),
		Content:      bytes.Clone(data),
		LastModified: info.UploadDate,
		TemplateType: info.TemplateType,
	}
}
