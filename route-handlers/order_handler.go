package routehandlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/printflow/printflow/datastore"
	"github.com/printflow/printflow/models"
	"github.com/printflow/printflow/webutil"
)

const (
	defaultOrderPageSize = 50
	maxOrderPageSize     = 200
)

// OrderHandler serves order records and their child resources.
type OrderHandler struct {
	Orders      *datastore.OrderRepository
	Attachments *datastore.AttachmentRepository
	PrintJobs   *datastore.PrintJobRepository
	Logs        *datastore.ProcessingLogRepository
}

func NewOrderHandler(
	orders *datastore.OrderRepository,
	attachments *datastore.AttachmentRepository,
	printJobs *datastore.PrintJobRepository,
	logs *datastore.ProcessingLogRepository,
) *OrderHandler {
	return &OrderHandler{
		Orders:      orders,
		Attachments: attachments,
		PrintJobs:   printJobs,
		Logs:        logs,
	}
}

func (h *OrderHandler) HandleGetOrders(w http.ResponseWriter, r *http.Request) error {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", defaultOrderPageSize)
	if limit <= 0 || limit > maxOrderPageSize {
		limit = defaultOrderPageSize
	}
	if offset < 0 {
		offset = 0
	}

	orders, err := h.Orders.GetOrders(r.Context(), offset, limit)
	if err != nil {
		return fmt.Errorf("failed to retrieve orders: %w", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	webutil.RespondWithJSON(w, http.StatusOK, orders)
	return nil
}

func (h *OrderHandler) HandleGetOrder(w http.ResponseWriter, r *http.Request) error {
	orderID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(orderID); err != nil {
		return webutil.ErrBadRequest("Invalid order ID format")
	}

	order, err := h.Orders.GetOrderByID(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Order not found")
		}
		return fmt.Errorf("failed to retrieve order %s: %w", orderID, err)
	}
	webutil.RespondWithJSON(w, http.StatusOK, order)
	return nil
}

func (h *OrderHandler) HandleGetLatestOrder(w http.ResponseWriter, r *http.Request) error {
	order, err := h.Orders.GetLatestOrder(r.Context())
	if err != nil {
		return fmt.Errorf("failed to retrieve latest order: %w", err)
	}
	if order == nil {
		return webutil.ErrNotFound("No orders exist yet")
	}
	webutil.RespondWithJSON(w, http.StatusOK, order)
	return nil
}

// HandleDeleteOrder removes an order and its dependent records. The files on
// disk are left in place for manual cleanup.
func (h *OrderHandler) HandleDeleteOrder(w http.ResponseWriter, r *http.Request) error {
	orderID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(orderID); err != nil {
		return webutil.ErrBadRequest("Invalid order ID format")
	}

	if err := h.Orders.DeleteOrder(r.Context(), orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Order not found")
		}
		return fmt.Errorf("failed to delete order %s: %w", orderID, err)
	}
	webutil.RespondWithJSON(w, http.StatusOK, map[string]string{"deleted": orderID})
	return nil
}

func (h *OrderHandler) HandleGetOrderAttachments(w http.ResponseWriter, r *http.Request) error {
	orderID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(orderID); err != nil {
		return webutil.ErrBadRequest("Invalid order ID format")
	}

	attachments, err := h.Attachments.GetAttachmentsByOrderID(r.Context(), orderID)
	if err != nil {
		return fmt.Errorf("failed to retrieve attachments for order %s: %w", orderID, err)
	}
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	webutil.RespondWithJSON(w, http.StatusOK, attachments)
	return nil
}

func (h *OrderHandler) HandleGetOrderPrintJobs(w http.ResponseWriter, r *http.Request) error {
	orderID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(orderID); err != nil {
		return webutil.ErrBadRequest("Invalid order ID format")
	}

	jobs, err := h.PrintJobs.GetPrintJobsByOrderID(r.Context(), orderID)
	if err != nil {
		return fmt.Errorf("failed to retrieve print jobs for order %s: %w", orderID, err)
	}
	if jobs == nil {
		jobs = []models.PrintJob{}
	}
	webutil.RespondWithJSON(w, http.StatusOK, jobs)
	return nil
}

func (h *OrderHandler) HandleGetOrderLogs(w http.ResponseWriter, r *http.Request) error {
	orderID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(orderID); err != nil {
		return webutil.ErrBadRequest("Invalid order ID format")
	}

	logs, err := h.Logs.GetLogsByOrderID(r.Context(), orderID)
	if err != nil {
		return fmt.Errorf("failed to retrieve logs for order %s: %w", orderID, err)
	}
	if logs == nil {
		logs = []models.ProcessingLog{}
	}
	webutil.RespondWithJSON(w, http.StatusOK, logs)
	return nil
}

func (h *OrderHandler) HandleGetAttachment(w http.ResponseWriter, r *http.Request) error {
	attachmentID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(attachmentID); err != nil {
		return webutil.ErrBadRequest("Invalid attachment ID format")
	}

	attachment, err := h.Attachments.GetAttachmentByID(r.Context(), attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Attachment not found")
		}
		return fmt.Errorf("failed to retrieve attachment %s: %w", attachmentID, err)
	}
	webutil.RespondWithJSON(w, http.StatusOK, attachment)
	return nil
}

// HandleDownloadAttachmentFile streams an attachment's file. The converted
// document is preferred; ?format=original serves the file as downloaded.
func (h *OrderHandler) HandleDownloadAttachmentFile(w http.ResponseWriter, r *http.Request) error {
	attachmentID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(attachmentID); err != nil {
		return webutil.ErrBadRequest("Invalid attachment ID format")
	}

	attachment, err := h.Attachments.GetAttachmentByID(r.Context(), attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Attachment not found")
		}
		return fmt.Errorf("failed to retrieve attachment %s: %w", attachmentID, err)
	}

	var path string
	switch format := r.URL.Query().Get("format"); format {
	case "", "pdf":
		path = attachment.PDFPath
		if path == "" {
			path = attachment.FilePath
		}
	case "original":
		path = attachment.FilePath
	default:
		return webutil.ErrBadRequest("Invalid format. Must be \"original\" or \"pdf\".")
	}
	if _, err := os.Stat(path); err != nil {
		return webutil.ErrNotFound("Attachment file is missing from storage")
	}
	http.ServeFile(w, r, path)
	return nil
}

func (h *OrderHandler) HandleUpdatePrintStatus(w http.ResponseWriter, r *http.Request) error {
	attachmentID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(attachmentID); err != nil {
		return webutil.ErrBadRequest("Invalid attachment ID format")
	}

	var req struct {
		PrintStatus models.PrintStatus `json:"print_status"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		return err
	}
	switch req.PrintStatus {
	case models.PrintStatusPending, models.PrintStatusPrinted, models.PrintStatusFailed:
	default:
		return webutil.ErrBadRequest(fmt.Sprintf("Invalid print status. Must be one of: %s, %s, %s.",
			models.PrintStatusPending, models.PrintStatusPrinted, models.PrintStatusFailed))
	}

	if err := h.Attachments.UpdatePrintStatus(r.Context(), attachmentID, req.PrintStatus); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Attachment not found")
		}
		return fmt.Errorf("failed to update print status for attachment %s: %w", attachmentID, err)
	}
	webutil.RespondWithJSON(w, http.StatusOK, map[string]string{"print_status": string(req.PrintStatus)})
	return nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
