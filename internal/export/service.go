package export

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ViewSource yields aggregate views by name.
type ViewSource interface {
	GetConsolidatedView(ctx context.Context, workspaceID, orgID, view string) (any, error)
}

type renderFunc func(ctx context.Context, html, title string) (*Result, error)

// Service provides report export functionality
type Service struct {
	views  ViewSource
	logger *zap.Logger
	now    func() time.Time
	pdf    renderFunc
	docx   renderFunc
}

func NewService(views ViewSource, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		views:  views,
		logger: logger,
		now:    time.Now,
		pdf:    exportPDF,
		docx:   exportDOCX,
	}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	render, err := s.renderer(req.Format)
	if err != nil {
		return nil, err
	}

	data, err := s.views.GetConsolidatedView(ctx, req.WorkspaceID, req.OrgID, req.View)
	if err != nil {
		return nil, err
	}

	report, err := BuildReport(req.View, data, s.now())
	if err != nil {
		return nil, err
	}

	html, err := RenderReportHTML(report)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	start := time.Now()
	result, err := render(ctx, html, report.Title+" "+req.WorkspaceID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("exported view",
		zap.String("view", req.View),
		zap.String("workspace_id", req.WorkspaceID),
		zap.String("format", string(req.Format)),
		zap.Int("bytes", len(result.Data)),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (s *Service) renderer(format Format) (renderFunc, error) {
	switch format {
	case FormatPDF:
		return s.pdf, nil
	case FormatDOCX:
		return s.docx, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
