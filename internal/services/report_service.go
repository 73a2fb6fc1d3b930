package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"fixit/internal/authz"
	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
	"github.com/sirupsen/logrus"
)

type ReportService interface {
	RequestSummary(ctx context.Context, actor authz.Actor, propertyID uuid.UUID) (*models.RequestSummary, error)
	// WorkOrderPDF renders a request as a work order and returns the stored document.
	WorkOrderPDF(ctx context.Context, actor authz.Actor, requestID uuid.UUID) (*MediaHandle, error)
}

type reportService struct {
	store    repositories.Store
	authz    *authz.Resolver
	audit    AuditLogsService
	media    MediaRegistry
	location *time.Location
	appName  string
	logger   *logrus.Logger
	clock    func() time.Time
}

func NewReportService(store repositories.Store, resolver *authz.Resolver, audit AuditLogsService, media MediaRegistry,
	location *time.Location, appName string, logger *logrus.Logger, clock func() time.Time) ReportService {
	if clock == nil {
		clock = time.Now
	}
	if location == nil {
		location = time.UTC
	}
	if appName == "" {
		appName = "Fixit"
	}
	return &reportService{store: store, authz: resolver, audit: audit, media: media, location: location,
		appName: appName, logger: logger, clock: clock}
}

func (s *reportService) RequestSummary(ctx context.Context, actor authz.Actor, propertyID uuid.UUID) (*models.RequestSummary, error) {
	err := s.authz.Require(ctx, actor, authz.ActionExportReport, authz.Target{Kind: authz.TargetProperty, PropertyID: &propertyID})
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Repos().Properties.GetProperty(ctx, propertyID); err != nil {
		return nil, err
	}
	summary, err := s.store.Repos().Requests.Summary(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	entry := auditEntry(models.AuditReportExport, uuidPtr(actor.ID), models.ResourceProperty, propertyID, "Request summary exported")
	entry.Metadata["total"] = summary.Total
	s.audit.Record(ctx, nil, entry)
	return summary, nil
}

type workOrder struct {
	request  *models.Request
	property *models.Property
	unit     *models.Unit
	creator  string
	assignee string
}

func (s *reportService) load(ctx context.Context, requestID uuid.UUID) (*workOrder, error) {
	repos := s.store.Repos()
	req, err := repos.Requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	wo := &workOrder{request: req}
	if wo.property, err = repos.Properties.GetProperty(ctx, req.PropertyID); err != nil {
		return nil, err
	}
	if req.UnitID != nil {
		if wo.unit, err = repos.Properties.GetUnit(ctx, *req.UnitID); err != nil {
			return nil, err
		}
	}
	if creator, err := repos.Users.GetByID(ctx, req.CreatedBy); err == nil {
		wo.creator = creator.DisplayName()
	}
	if req.AssignedTo != nil {
		name, err := resolveAssignee(ctx, repos, req.AssignedTo, req.PropertyID)
		if err != nil {
			s.logger.WithError(err).WithField("request_id", req.ID).Warn("work order: assignee lookup failed")
		}
		wo.assignee = name
	}
	return wo, nil
}

func (s *reportService) WorkOrderPDF(ctx context.Context, actor authz.Actor, requestID uuid.UUID) (*MediaHandle, error) {
	wo, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, actor, authz.ActionGenerateDocument, requestTarget(wo.request)); err != nil {
		return nil, err
	}

	doc, err := s.render(wo)
	if err != nil {
		return nil, common.Internal("failed to render work order", err)
	}
	handle, err := s.media.Upload(ctx, FileInput{
		Filename: fmt.Sprintf("work-order-%s.pdf", wo.request.ID),
		Reader:   bytes.NewReader(doc),
	}, "work-orders")
	if err != nil {
		return nil, err
	}

	entry := auditEntry(models.AuditDocumentGenerate, uuidPtr(actor.ID), models.ResourceRequest, wo.request.ID, "Work order generated")
	entry.Metadata["document"] = handle.PublicID
	s.audit.Record(ctx, nil, entry)
	return handle, nil
}

func (s *reportService) render(wo *workOrder) ([]byte, error) {
	const margin = 15.0
	r := wo.request

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 16)
	pdf.SetTextColor(33, 37, 41)
	pdf.Cell(0, 10, tr(fmt.Sprintf("%s WORK ORDER", s.appName)))
	pdf.Ln(14)

	pdf.SetFont("Arial", "", 10)
	field := func(label, value string) {
		if value == "" {
			value = "-"
		}
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(45, 7, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 7, tr(value), "", "L", false)
	}
	location := wo.property.Name
	if wo.unit != nil {
		location += ", unit " + wo.unit.Name
	}
	field("Reference", r.ID.String())
	field("Issued", s.clock().In(s.location).Format("02-Jan-2006 15:04"))
	field("Title", r.Title)
	field("Category", r.Category)
	field("Priority", string(r.Priority))
	field("Status", string(r.Status))
	field("Location", location)
	field("Address", wo.property.Address)
	field("Reported by", wo.creator)
	field("Reported on", r.CreatedAt.In(s.location).Format("02-Jan-2006"))
	field("Assigned to", wo.assignee)
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(0, 8, "Description")
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 10)
	pdf.MultiCell(0, 6, tr(r.Description), "1", "L", false)
	pdf.Ln(6)

	if len(r.StatusHistory) > 0 {
		pdf.SetFont("Arial", "B", 10)
		pdf.SetFillColor(240, 240, 240)
		widths := []float64{40, 35, 45, 60}
		for i, header := range []string{"Date", "Status", "By", "Notes"} {
			pdf.CellFormat(widths[i], 8, header, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(8)
		pdf.SetFont("Arial", "", 9)
		for _, h := range r.StatusHistory {
			pdf.CellFormat(widths[0], 7, h.ChangedAt.In(s.location).Format("02-Jan-2006 15:04"), "1", 0, "L", false, 0, "")
			pdf.CellFormat(widths[1], 7, h.Status, "1", 0, "L", false, 0, "")
			pdf.CellFormat(widths[2], 7, tr(h.ChangedByName), "1", 0, "L", false, 0, "")
			pdf.CellFormat(widths[3], 7, tr(truncate(h.Notes, 40)), "1", 0, "L", false, 0, "")
			pdf.Ln(7)
		}
		pdf.Ln(6)
	}

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(90, 8, "Completed by: ____________________")
	pdf.Cell(0, 8, "Signature: ____________________")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
