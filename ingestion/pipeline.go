package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"golang.org/x/sync/errgroup"

	"github.com/printflow/printflow/conversion"
	"github.com/printflow/printflow/mailbox"
	"github.com/printflow/printflow/models"
	"github.com/printflow/printflow/ordertype"
)

// ErrOrderExists marks a message whose PO number already has an order. The
// message is skipped entirely; existing orders are never updated by a
// re-delivered notification.
var ErrOrderExists = errors.New("order already exists for PO number")

const defaultFetchConcurrency = 4

// OrderStore is the slice of the order repository the pipeline needs.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByPONumber(ctx context.Context, poNumber string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error
}

type PrintJobStore interface {
	CreatePrintJob(ctx context.Context, job *models.PrintJob) error
}

type AttachmentStore interface {
	CreateAttachment(ctx context.Context, att *models.Attachment) error
	UpdatePrintStatus(ctx context.Context, attachmentID string, status models.PrintStatus) error
}

// ActivityLog appends to the per-order processing trail.
type ActivityLog interface {
	Append(ctx context.Context, orderID, action, status, errorMessage string) error
}

// Notifier receives pipeline events. Implementations must not block.
type Notifier interface {
	OrderCreated(order *models.Order)
	OrderStatusChanged(orderID, poNumber string, status models.OrderStatus)
}

// FileFetcher retrieves one download link into destDir.
type FileFetcher interface {
	Fetch(ctx context.Context, rawURL, destDir, defaultBase string) (string, error)
}

// LabelMaker renders an image file onto a label PDF.
type LabelMaker interface {
	ImageToLabelPDF(imgPath, outPath string) error
}

// BodyWriter renders the order summary and email body as a PDF.
type BodyWriter interface {
	Write(order *models.Order, bodyText, outPath string) error
}

// AttachmentPrinter spools one attachment's document.
type AttachmentPrinter interface {
	PrintAttachment(ctx context.Context, attachment *models.Attachment) error
}

// FolderMaker resolves the exclusive on-disk folder for one order.
type FolderMaker interface {
	OrderFolder(poNumber, customerName string) (string, error)
}

// Pipeline turns one eligible email message into a persisted order with its
// print jobs, downloaded files, converted documents and attachment records.
type Pipeline struct {
	orders      OrderStore
	printJobs   PrintJobStore
	attachments AttachmentStore
	activity    ActivityLog
	notifier    Notifier
	folders     FolderMaker
	fetcher     FileFetcher
	labels      LabelMaker
	bodyWriter  BodyWriter
	printer     AttachmentPrinter

	parser      *OrderParser
	extractor   *LinkExtractor
	concurrency int
	now         func() time.Time
}

// PipelineConfig carries the pipeline's collaborators. Printer, Notifier,
// Labels and BodyWriter are optional; zero FetchConcurrency and
// AncestorDepth take defaults.
type PipelineConfig struct {
	Orders           OrderStore
	PrintJobs        PrintJobStore
	Attachments      AttachmentStore
	Activity         ActivityLog
	Notifier         Notifier
	Folders          FolderMaker
	Fetcher          FileFetcher
	Labels           LabelMaker
	BodyWriter       BodyWriter
	Printer          AttachmentPrinter
	FetchConcurrency int
	AncestorDepth    int
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	concurrency := cfg.FetchConcurrency
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}
	return &Pipeline{
		orders:      cfg.Orders,
		printJobs:   cfg.PrintJobs,
		attachments: cfg.Attachments,
		activity:    cfg.Activity,
		notifier:    cfg.Notifier,
		folders:     cfg.Folders,
		fetcher:     cfg.Fetcher,
		labels:      cfg.Labels,
		bodyWriter:  cfg.BodyWriter,
		printer:     cfg.Printer,
		parser:      NewOrderParser(),
		extractor:   NewLinkExtractor(cfg.AncestorDepth),
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Process handles one message end to end and returns the resulting order.
// A *ParseError means the message is not an order notification; ErrOrderExists
// means its PO number is already taken. Any other error leaves the order in
// its last committed status.
func (p *Pipeline) Process(ctx context.Context, msg mailbox.Message) (*models.Order, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(msg.Raw))
	if err != nil {
		return nil, &ParseError{Field: "mime", Msg: err.Error()}
	}

	bodyText, err := BodyText(env.Text, env.HTML)
	if err != nil {
		return nil, err
	}
	parsed, err := p.parser.Parse(bodyText)
	if err != nil {
		return nil, err
	}

	existing, err := p.orders.GetOrderByPONumber(ctx, parsed.PONumber)
	if err != nil {
		return nil, fmt.Errorf("check existing order for PO %s: %w", parsed.PONumber, err)
	}
	if existing != nil {
		log.Printf("INFO (Pipeline): Order with PO %s already exists, skipping message %s", parsed.PONumber, msg.MessageID)
		return nil, ErrOrderExists
	}

	folder, err := p.folders.OrderFolder(parsed.PONumber, parsed.CustomerName)
	if err != nil {
		return nil, fmt.Errorf("create folder for PO %s: %w", parsed.PONumber, err)
	}

	order, err := p.createOrder(ctx, msg, parsed, folder)
	if err != nil {
		return nil, err
	}

	if err := p.setStatus(ctx, order, models.OrderStatusProcessing); err != nil {
		return order, err
	}
	if err := p.createPrintJobs(ctx, order, parsed); err != nil {
		return order, err
	}

	if err := p.collectFiles(ctx, order, env, bodyText); err != nil {
		return order, err
	}

	if err := p.setStatus(ctx, order, models.OrderStatusCompleted); err != nil {
		return order, err
	}
	p.logActivity(ctx, order.ID, "Order Processing", models.LogStatusSuccess, "")
	log.Printf("INFO (Pipeline): Order %s (PO %s) completed", order.ID, order.PONumber)
	return order, nil
}

func (p *Pipeline) createOrder(ctx context.Context, msg mailbox.Message, parsed *ParsedOrder, folder string) (*models.Order, error) {
	order := &models.Order{
		ID:                    uuid.NewString(),
		PONumber:              parsed.PONumber,
		OrderType:             parsed.OrderType,
		RequiresQualityCheck:  parsed.RequiresQualityCheck,
		CustomerName:          parsed.CustomerName,
		DeliveryAddress:       parsed.DeliveryAddress,
		CommittedShippingDate: parsed.CommittedShippingDate,
		ProcessedTime:         p.now().UTC(),
		EmailID:               msg.MessageID,
		Status:                models.OrderStatusPending,
		FolderPath:            folder,
	}
	if err := p.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order for PO %s: %w", order.PONumber, err)
	}
	p.logActivity(ctx, order.ID, "Order Created", models.LogStatusSuccess, "")
	if p.notifier != nil {
		p.notifier.OrderCreated(order)
	}
	return order, nil
}

func (p *Pipeline) setStatus(ctx context.Context, order *models.Order, status models.OrderStatus) error {
	if err := p.orders.UpdateOrderStatus(ctx, order.ID, status); err != nil {
		return fmt.Errorf("set order %s status to %s: %w", order.ID, status, err)
	}
	order.Status = status
	if p.notifier != nil {
		p.notifier.OrderStatusChanged(order.ID, order.PONumber, status)
	}
	return nil
}

func (p *Pipeline) createPrintJobs(ctx context.Context, order *models.Order, parsed *ParsedOrder) error {
	for _, job := range parsed.PrintJobs {
		record := &models.PrintJob{
			ID:               uuid.NewString(),
			OrderID:          order.ID,
			JobType:          job.JobType,
			TotalPrintLength: job.TotalPrintLength,
			GangSheets:       job.GangSheets,
		}
		if err := p.printJobs.CreatePrintJob(ctx, record); err != nil {
			return fmt.Errorf("create %s print job for order %s: %w", job.JobType, order.ID, err)
		}
	}
	return nil
}

// collectFiles gathers every file belonging to the order: linked downloads,
// inline MIME attachments and the synthetic body document. Individual link
// and conversion failures are logged and absorbed; only persistence failures
// propagate.
func (p *Pipeline) collectFiles(ctx context.Context, order *models.Order, env *enmime.Envelope, bodyText string) error {
	links, err := p.extractor.Extract(env.HTML)
	if err != nil {
		log.Printf("WARN (Pipeline): Could not extract links for order %s: %v", order.PONumber, err)
	}

	results := p.fetchLinks(ctx, order, links)
	for _, result := range results {
		if result.err != nil {
			log.Printf("ERROR (Pipeline): Download failed for order %s: %v", order.PONumber, result.err)
			p.logActivity(ctx, order.ID, "URL Download", models.LogStatusFailed, result.err.Error())
			continue
		}
		label := ordertype.DisplayLabel(result.link.TypeCode)
		if err := p.saveFileAttachment(ctx, order, result.path, label+" Gang Sheet", result.link.SheetNumber); err != nil {
			return err
		}
	}

	if err := p.saveInlineAttachments(ctx, order, env); err != nil {
		return err
	}
	return p.saveBodyDocument(ctx, order, bodyText)
}

type linkResult struct {
	link DownloadLink
	path string
	err  error
}

// fetchLinks retrieves the classified links concurrently and returns one
// result per link, in the order the links appeared in the message. A failed
// fetch never cancels its siblings.
func (p *Pipeline) fetchLinks(ctx context.Context, order *models.Order, links []DownloadLink) []linkResult {
	results := make([]linkResult, 0, len(links))
	for _, link := range links {
		if !link.Resolved {
			log.Printf("WARN (Pipeline): Could not classify download link for order %s, skipping: %s", order.PONumber, link.URL)
			p.logActivity(ctx, order.ID, "URL Download", models.LogStatusSkipped, "unclassified link: "+link.URL)
			continue
		}
		results = append(results, linkResult{link: link})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range results {
		i := i
		g.Go(func() error {
			r := &results[i]
			base := fmt.Sprintf("%s_sheet_%d", r.link.TypeCode, r.link.SheetNumber)
			r.path, r.err = p.fetcher.Fetch(gctx, r.link.URL, order.FolderPath, base)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// saveFileAttachment converts the file when it is a raster image, persists
// the attachment record and spools it for printing.
func (p *Pipeline) saveFileAttachment(ctx context.Context, order *models.Order, filePath, sheetType string, sheetNumber int) error {
	fileName := filepath.Base(filePath)
	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")

	pdfPath := ""
	if fileType == "pdf" {
		pdfPath = filePath
	} else if p.labels != nil && conversion.IsConvertibleImage(fileType) {
		candidate := strings.TrimSuffix(filePath, filepath.Ext(fileName)) + "_label.pdf"
		if err := p.labels.ImageToLabelPDF(filePath, candidate); err != nil {
			log.Printf("ERROR (Pipeline): Label conversion failed for %s, keeping original: %v", filePath, err)
			p.logActivity(ctx, order.ID, "Label Conversion", models.LogStatusFailed, err.Error())
		} else {
			pdfPath = candidate
		}
	}

	att := &models.Attachment{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		FileName:    fileName,
		FilePath:    filePath,
		PDFPath:     pdfPath,
		FileType:    fileType,
		PrintStatus: models.PrintStatusPending,
		SheetType:   sheetType,
		SheetNumber: sheetNumber,
	}
	if err := p.attachments.CreateAttachment(ctx, att); err != nil {
		return fmt.Errorf("save attachment %s for order %s: %w", fileName, order.ID, err)
	}
	p.printAttachment(ctx, att)
	return nil
}

func (p *Pipeline) printAttachment(ctx context.Context, att *models.Attachment) {
	if p.printer == nil {
		return
	}
	status := models.PrintStatusPrinted
	if err := p.printer.PrintAttachment(ctx, att); err != nil {
		log.Printf("ERROR (Pipeline): Print failed for attachment %s: %v", att.ID, err)
		status = models.PrintStatusFailed
	}
	if err := p.attachments.UpdatePrintStatus(ctx, att.ID, status); err != nil {
		log.Printf("ERROR (Pipeline): Could not record print status for attachment %s: %v", att.ID, err)
	}
}

var attachmentSheetNumberRe = regexp.MustCompile(`#(\d+)`)

func (p *Pipeline) saveInlineAttachments(ctx context.Context, order *models.Order, env *enmime.Envelope) error {
	for _, part := range env.Attachments {
		if part.FileName == "" || len(part.Content) == 0 {
			continue
		}
		destPath, err := writeUniqueFile(order.FolderPath, part.FileName, part.Content)
		if err != nil {
			log.Printf("ERROR (Pipeline): Could not save attachment %s for order %s: %v", part.FileName, order.PONumber, err)
			p.logActivity(ctx, order.ID, "Attachment Save", models.LogStatusFailed, err.Error())
			continue
		}

		sheetType := "Email Attachment"
		if code, ok := ordertype.DetectInText(part.FileName); ok {
			sheetType = ordertype.DisplayLabel(code) + " Gang Sheet"
		}
		sheetNumber := 1
		if match := attachmentSheetNumberRe.FindStringSubmatch(part.FileName); match != nil {
			if n, err := strconv.Atoi(match[1]); err == nil {
				sheetNumber = n
			}
		}
		if err := p.saveFileAttachment(ctx, order, destPath, sheetType, sheetNumber); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) saveBodyDocument(ctx context.Context, order *models.Order, bodyText string) error {
	if p.bodyWriter == nil {
		return nil
	}
	pdfName := order.PONumber + "_email_body.pdf"
	pdfPath := filepath.Join(order.FolderPath, pdfName)
	if err := p.bodyWriter.Write(order, bodyText, pdfPath); err != nil {
		log.Printf("ERROR (Pipeline): Could not render body document for order %s: %v", order.PONumber, err)
		p.logActivity(ctx, order.ID, "Body Document", models.LogStatusFailed, err.Error())
		return nil
	}

	att := &models.Attachment{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		FileName:    pdfName,
		FilePath:    pdfPath,
		PDFPath:     pdfPath,
		FileType:    "pdf",
		PrintStatus: models.PrintStatusPending,
		SheetType:   "Email Body",
		SheetNumber: 1,
	}
	if err := p.attachments.CreateAttachment(ctx, att); err != nil {
		return fmt.Errorf("save body document for order %s: %w", order.ID, err)
	}
	p.printAttachment(ctx, att)
	return nil
}

func (p *Pipeline) logActivity(ctx context.Context, orderID, action, status, errorMessage string) {
	if p.activity == nil {
		return
	}
	if err := p.activity.Append(ctx, orderID, action, status, errorMessage); err != nil {
		log.Printf("ERROR (Pipeline): Could not append processing log for order %s: %v", orderID, err)
	}
}

// writeUniqueFile writes content under dir without clobbering an existing
// file of the same name. O_EXCL creation makes the name claim atomic under
// concurrent writers.
func writeUniqueFile(dir, fileName string, content []byte) (string, error) {
	ext := filepath.Ext(fileName)
	stem := strings.TrimSuffix(fileName, ext)
	destPath := filepath.Join(dir, fileName)
	for counter := 1; ; counter++ {
		f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			destPath = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(content); err != nil {
			f.Close()
			os.Remove(destPath)
			return "", err
		}
		return destPath, f.Close()
	}
}
