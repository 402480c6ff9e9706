package gqltest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kleberbaum/gqty/internal/transport"
	"google.golang.org/grpc/metadata"
)

// Handler serves a Server over HTTP. It accepts GET and POST requests and
// JSON arrays of operations.
type Handler struct {
	srv *Server
	opt HandlerOptions
}

type HandlerOptions struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses.
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// MetadataHeaders lists HTTP headers resolvers see as incoming metadata.
	// Header names are case-insensitive. Default is none.
	MetadataHeaders []string
}

type HandlerOption func(*HandlerOptions)

func WithTimeout(d time.Duration) HandlerOption { return func(o *HandlerOptions) { o.Timeout = d } }
func WithPretty() HandlerOption                 { return func(o *HandlerOptions) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) HandlerOption    { return func(o *HandlerOptions) { o.MaxBodyBytes = n } }
func WithMetadataHeaders(headers ...string) HandlerOption {
	return func(o *HandlerOptions) { o.MetadataHeaders = headers }
}

// Handler returns an http.Handler for s.
func (s *Server) Handler(opts ...HandlerOption) *Handler {
	op := HandlerOptions{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{srv: s, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse("method not allowed"), h.opt.Pretty)
		return
	}

	md := metadata.MD{}
	if len(h.opt.MetadataHeaders) > 0 {
		allowed := make(map[string]struct{}, len(h.opt.MetadataHeaders))
		for _, hdr := range h.opt.MetadataHeaders {
			allowed[strings.ToLower(hdr)] = struct{}{}
		}
		for k, v := range r.Header {
			if _, ok := allowed[strings.ToLower(k)]; ok {
				md[strings.ToLower(k)] = v
			}
		}
	}
	ctx = metadata.NewIncomingContext(ctx, md)

	req, batch, msg := parseRequest(r, h.opt.MaxBodyBytes)
	if msg != "" {
		status := http.StatusBadRequest
		if msg == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(msg), h.opt.Pretty)
		return
	}

	if batch != nil {
		out := make([]*transport.Response, len(batch))
		for i := range batch {
			out[i] = h.srv.Execute(incoming(ctx, batch[i]), batch[i])
		}
		writeJSON(w, http.StatusOK, out, h.opt.Pretty)
		return
	}
	writeJSON(w, http.StatusOK, h.srv.Execute(incoming(ctx, req), req), h.opt.Pretty)
}

func parseRequest(r *http.Request, maxBody int64) (transport.QueryPayload, []transport.QueryPayload, string) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return transport.QueryPayload{}, nil, "missing 'query'"
		}
		req := transport.QueryPayload{Query: q, OperationName: r.URL.Query().Get("operationName")}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				return transport.QueryPayload{}, nil, "invalid 'variables' JSON"
			}
		}
		if v := r.URL.Query().Get("extensions"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Extensions); err != nil {
				return transport.QueryPayload{}, nil, "invalid 'extensions' JSON"
			}
		}
		return req, nil, ""
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return transport.QueryPayload{}, nil, "unsupported Content-Type"
	}
	defer r.Body.Close()
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return transport.QueryPayload{}, nil, "failed to read body"
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return transport.QueryPayload{}, nil, errBodyTooLargeMessage
	}

	if len(body) > 0 && body[0] == '[' {
		var arr []transport.QueryPayload
		if err := json.Unmarshal(body, &arr); err != nil {
			return transport.QueryPayload{}, nil, "invalid JSON"
		}
		if len(arr) == 0 {
			return transport.QueryPayload{}, nil, "empty batch"
		}
		return transport.QueryPayload{}, arr, ""
	}
	var req transport.QueryPayload
	if err := json.Unmarshal(body, &req); err != nil {
		return transport.QueryPayload{}, nil, "invalid JSON"
	}
	if req.Query == "" {
		return transport.QueryPayload{}, nil, "missing 'query'"
	}
	return req, nil, ""
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"
