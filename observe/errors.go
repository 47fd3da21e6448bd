package observe

import "errors"

var (
	ErrMissingServiceName     = errors.New("observe: service name is required")
	ErrInvalidSamplePct       = errors.New("observe: sample fraction outside [0, 1]")
	ErrInvalidTracingExporter = errors.New("observe: unsupported tracing exporter")
	ErrInvalidMetricsExporter = errors.New("observe: unsupported metrics exporter")
	ErrInvalidInterval        = errors.New("observe: negative metrics interval")
	ErrInvalidLogLevel        = errors.New("observe: unsupported log level")

	// ErrNilObserver is returned by constructors handed a nil Observer.
	ErrNilObserver = errors.New("observe: observer is nil")
)

// RedactedFields are log field keys whose values are replaced before
// encoding. Prompts carry user data; the rest are credentials.
var RedactedFields = []string{
	"prompt",
	"system_prompt",
	"password",
	"secret",
	"token",
	"api_key",
	"apiKey",
	"authorization",
	"credential",
}
