package tracing

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys. HTTP attributes follow the OpenTelemetry semantic
// conventions; export attributes use the "tabula." namespace.
const (
	AttrHTTPMethod = attribute.Key("http.request.method")
	AttrHTTPRoute  = attribute.Key("http.route")
	AttrHTTPStatus = attribute.Key("http.response.status_code")
	AttrURLPath    = attribute.Key("url.path")

	AttrMode    = attribute.Key("tabula.export.mode")
	AttrFormat  = attribute.Key("tabula.export.format")
	AttrName    = attribute.Key("tabula.export.name")
	AttrRows    = attribute.Key("tabula.export.rows")
	AttrBytes   = attribute.Key("tabula.export.bytes")
	AttrDisk    = attribute.Key("tabula.export.disk")
	AttrPath    = attribute.Key("tabula.export.path")
	AttrDataset = attribute.Key("tabula.dataset")

	AttrJobID       = attribute.Key("tabula.job.id")
	AttrJobExporter = attribute.Key("tabula.job.exporter")
	AttrJobState    = attribute.Key("tabula.job.state")
	AttrSchedule    = attribute.Key("tabula.schedule")
)
