package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"regapi/internal/service"
)

// Deps are the collaborators RegisterRoutes wires into handlers.
type Deps struct {
	Health        Pinger
	Records       RepositorySource
	Registrations service.RegistrationService
	Payments      service.PaymentService
	// Exporter is nil unless the filesystem backend runs with object storage.
	Exporter CollectionExporter
	DataRoot string
	Metrics  prometheus.Gatherer
}

const docsPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>regapi docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`

// RegisterRoutes attaches every HTTP route to app. Fixed paths are registered before
// the generic /api/:domain/:entity routes so they are not shadowed.
func RegisterRoutes(app *fiber.App, d Deps) {
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.SendFile("openapi.yaml")
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		return c.Type("html").SendString(docsPage)
	})

	app.Get("/health", HealthCheck(d.Health))
	app.Get("/healthz", LivenessProbe())
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Metrics, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api")
	api.Post("/register", Register(d.Registrations))
	api.Get("/payments/report", DailyReport(d.Payments))
	api.Post("/payments/:orderNo/paid", MarkPaid(d.Payments))

	api.Get("/:domain/:entity", ListRecords(d.Records))
	api.Post("/:domain/:entity", CreateRecord(d.Records))
	api.Get("/:domain/:entity/stats", RecordStats(d.Records))
	api.Get("/:domain/:entity/range", RecordRange(d.Records))
	api.Get("/:domain/:entity/:id", GetRecord(d.Records))
	api.Patch("/:domain/:entity/:id", UpdateRecord(d.Records))
	api.Delete("/:domain/:entity/:id", DeleteRecord(d.Records))

	app.Post("/admin/export/:domain/:entity", ExportCollection(d.Records, d.Exporter, d.DataRoot))
}
