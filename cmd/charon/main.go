// Charon is a reverse-proxy gateway that multiplexes client applications
// onto a pool of upstream LLM provider APIs.
//
// It translates between API dialects, pools and health-checks provider
// credentials, queues requests per (service, model family) partition, and
// streams responses back in the dialect the client spoke.
//
// Usage:
//
//	# Start with credentials from the environment
//	OPENAI_KEY=sk-... ANTHROPIC_KEY=sk-ant-... charon run
//
//	# Start with a config file
//	charon run --config /etc/charon/config.yaml
//
//	# Show version information
//	charon version
package main

func main() {
	Execute()
}
