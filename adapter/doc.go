// Package adapter provides concrete backend.Backend implementations.
//
// OpenAI speaks the OpenAI chat completions API (and any compatible server)
// through go-openai. HTTP speaks a small JSON protocol for custom model
// endpoints: POST {base}/generate with a JSON body, newline-delimited JSON
// for streams and GET {base}/health for liveness. Both map every transport
// failure, non-2xx status and malformed payload to an error so the gateway
// can fail over.
package adapter
