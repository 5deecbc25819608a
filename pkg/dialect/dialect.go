package dialect

import "mercator-hq/charon/pkg/models"

// Dialect identifies one concrete completion-API wire schema.
type Dialect string

// The closed dialect set. Azure, Deepseek, xAI, Cohere (compat mode), Qwen
// and Moonshot all speak the OpenAI dialect; AWS Bedrock and GCP Vertex
// front Anthropic models with the Anthropic dialect.
const (
	OpenAI    Dialect = "openai"
	Anthropic Dialect = "anthropic-chat"
	Google    Dialect = "google-ai"
	Mistral   Dialect = "mistral-ai"
)

// All lists every dialect, in stable order.
var All = []Dialect{OpenAI, Anthropic, Google, Mistral}

// ForService returns the dialect a service's upstream endpoint expects.
func ForService(svc models.Service) Dialect {
	switch svc {
	case models.ServiceAnthropic, models.ServiceAWS, models.ServiceGCP:
		return Anthropic
	case models.ServiceGoogleAI:
		return Google
	case models.ServiceMistralAI:
		return Mistral
	default:
		return OpenAI
	}
}

// SchemaError reports a request body that failed validation against its
// declared dialect. It surfaces to the client as a 400.
type SchemaError struct {
	Dialect Dialect
	Message string
}

func (e *SchemaError) Error() string {
	return "invalid " + string(e.Dialect) + " request: " + e.Message
}
