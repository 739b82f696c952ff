// Package registration installs the built-in pocsync integration.
// Registration is explicit rather than init-based and is intended to
// be called from cmd/pocsync and tests before wiring executors.
package registration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pocsync/pocsync/internal/integration"
)

// BuiltinIntegration is the namespace of the stock actions.
const BuiltinIntegration = "pocsync.builtin"

// RegisterBuiltins installs the built-in integration into the default
// registry.
func RegisterBuiltins(logger *slog.Logger) {
	RegisterBuiltinsInto(integration.Default(), logger)
}

// RegisterBuiltinsInto installs the built-in integration into the
// given registry.
func RegisterBuiltinsInto(r *integration.Registry, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	r.Register(integration.Integration{
		Name:        BuiltinIntegration,
		Description: "Built-in HTTP, logging and transform actions",
		Actions: map[string]integration.ActionDefinition{
			"pocsync.core.webhook_trigger": {
				Name:        "pocsync.core.webhook_trigger",
				Description: "Passes the triggering event through as step output",
				Handler:     echoHandler,
			},
			"pocsync.core.echo": {
				Name:        "pocsync.core.echo",
				Description: "Returns its input unchanged",
				Handler:     echoHandler,
			},
			"pocsync.http.request": {
				Name:        "pocsync.http.request",
				Description: "Performs an HTTP request",
				Handler:     httpRequestHandler(httpClient),
				InputSchema: map[string]any{"required": []any{"url"}},
			},
			"pocsync.log.info": {
				Name:        "pocsync.log.info",
				Description: "Logs a message with the step data attached",
				Handler:     logHandler(logger),
			},
			"pocsync.transform.map_fields": {
				Name:        "pocsync.transform.map_fields",
				Description: "Renames fields according to a source-to-destination mapping",
				Handler:     mapFieldsHandler,
				InputSchema: map[string]any{"required": []any{"mapping"}},
			},
			"pocsync.transform.filter_fields": {
				Name:        "pocsync.transform.filter_fields",
				Description: "Keeps only the listed fields",
				Handler:     filterFieldsHandler,
				InputSchema: map[string]any{"required": []any{"fields"}},
			},
		},
	})
}

// dataKeys strips the executor-injected envelope keys, leaving the
// step's own data.
func dataKeys(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		if k == "pipeline_data" || k == "context" {
			continue
		}
		out[k] = v
	}
	return out
}

func echoHandler(ctx context.Context, input map[string]any) (map[string]any, error) {
	return dataKeys(input), nil
}

func httpRequestHandler(client *http.Client) integration.Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		rawURL, _ := input["url"].(string)
		u, err := url.Parse(rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("Invalid URL: %s", rawURL)
		}

		method, _ := input["method"].(string)
		if method == "" {
			method = http.MethodGet
		}
		method = strings.ToUpper(method)

		var body io.Reader
		if b, ok := input["body"].(string); ok && b != "" {
			body = strings.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if headers, ok := input["headers"].(map[string]any); ok {
			for k, v := range headers {
				req.Header.Set(k, fmt.Sprint(v))
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		respHeaders := make(map[string]any, len(resp.Header))
		for k := range resp.Header {
			respHeaders[k] = resp.Header.Get(k)
		}

		return map[string]any{
			"status":  resp.StatusCode,
			"body":    string(respBody),
			"headers": respHeaders,
		}, nil
	}
}

func logHandler(logger *slog.Logger) integration.Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		message, _ := input["message"].(string)
		if message == "" {
			message = "pipeline log"
		}
		data := dataKeys(input)
		logger.Info(message, slog.Any("data", data))
		return data, nil
	}
}

func mapFieldsHandler(ctx context.Context, input map[string]any) (map[string]any, error) {
	mapping, ok := input["mapping"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("map_fields: missing mapping")
	}

	out := make(map[string]any, len(mapping))
	for src, dst := range mapping {
		dstName, ok := dst.(string)
		if !ok {
			return nil, fmt.Errorf("map_fields: destination for %q is not a string", src)
		}
		if v, present := input[src]; present {
			out[dstName] = v
		}
	}
	return out, nil
}

func filterFieldsHandler(ctx context.Context, input map[string]any) (map[string]any, error) {
	fields, ok := input["fields"].([]any)
	if !ok {
		return nil, fmt.Errorf("filter_fields: missing fields list")
	}

	out := make(map[string]any, len(fields))
	for _, f := range fields {
		name := fmt.Sprint(f)
		if v, present := input[name]; present {
			out[name] = v
		}
	}
	return out, nil
}
