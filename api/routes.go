package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	routehandlers "github.com/printflow/printflow/route-handlers"
	"github.com/printflow/printflow/webhooks"
	"github.com/printflow/printflow/webutil"
)

const (
	apiBasePath     = "/api"
	ordersPath      = "/orders"
	attachmentsPath = "/attachments"
	logsPath        = "/logs"
	processingPath  = "/processing"
	configPath      = "/config"
	websocketPath   = "/ws"
	idParam         = "id"
	requestLifetime = 60 * time.Second
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Orders     *routehandlers.OrderHandler
	Config     *routehandlers.ConfigHandler
	Processing *routehandlers.ProcessingHandler
	Inbound    *webhooks.InboundEmailHandler
	Events     http.Handler
}

// NewRouter builds the HTTP surface: the JSON API under /api, the event
// stream under /ws, and a health probe.
func NewRouter(h Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestLifetime))

	r.Route(apiBasePath, func(r chi.Router) {
		r.Route(ordersPath, func(r chi.Router) {
			r.Get("/", webutil.MakeHandler(h.Orders.HandleGetOrders))
			r.Get("/latest", webutil.MakeHandler(h.Orders.HandleGetLatestOrder))
			r.Get(pathWithParam(idParam), webutil.MakeHandler(h.Orders.HandleGetOrder))
			r.Delete(pathWithParam(idParam), webutil.MakeHandler(h.Orders.HandleDeleteOrder))
			r.Get(pathWithParam(idParam)+attachmentsPath, webutil.MakeHandler(h.Orders.HandleGetOrderAttachments))
			r.Get(pathWithParam(idParam)+"/print-jobs", webutil.MakeHandler(h.Orders.HandleGetOrderPrintJobs))
			r.Get(pathWithParam(idParam)+logsPath, webutil.MakeHandler(h.Orders.HandleGetOrderLogs))
		})

		r.Route(attachmentsPath, func(r chi.Router) {
			r.Get(pathWithParam(idParam), webutil.MakeHandler(h.Orders.HandleGetAttachment))
			r.Get(pathWithParam(idParam)+"/download", webutil.MakeHandler(h.Orders.HandleDownloadAttachmentFile))
			r.Put(pathWithParam(idParam)+"/print-status", webutil.MakeHandler(h.Orders.HandleUpdatePrintStatus))
		})

		r.Route(processingPath, func(r chi.Router) {
			r.Post("/start", webutil.MakeHandler(h.Processing.HandleStartProcessing))
			r.Post("/stop", webutil.MakeHandler(h.Processing.HandleStopProcessing))
			r.Get("/status", webutil.MakeHandler(h.Processing.HandleGetProcessingStatus))
		})

		r.Get(logsPath, webutil.MakeHandler(h.Processing.HandleGetRecentLogs))

		r.Route(configPath, func(r chi.Router) {
			r.Get("/mail", webutil.MakeHandler(h.Config.HandleGetMailSettings))
			r.Put("/mail", webutil.MakeHandler(h.Config.HandleSaveMailSettings))
		})
	})

	if h.Inbound != nil {
		r.Post("/webhooks/inbound-email", webutil.MakeHandler(h.Inbound.HandleInbound))
	}

	if h.Events != nil {
		r.Handle(websocketPath, h.Events)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(webutil.HeaderContentType, webutil.ContentTypeTextPlainUTF8)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return r
}

func pathWithParam(param string) string {
	return "/{" + param + "}"
}
