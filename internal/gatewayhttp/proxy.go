package gatewayhttp

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-gate/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-gate/internal/log"
	"github.com/keithlinneman/linnemanlabs-gate/internal/xerrors"
)

// Proxy forwards every request no other route matched to the upstream
// application. It is registered last so it only acts as the fallback.
type Proxy struct {
	upstream *url.URL
	rp       *httputil.ReverseProxy
}

type ProxyOptions struct {
	Upstream string
	Logger   log.Logger

	// OnError is called once per failed upstream round trip (metrics)
	OnError func()

	// Transport overrides http.DefaultTransport, used in tests
	Transport http.RoundTripper
}

func NewProxy(opts ProxyOptions) (*Proxy, error) {
	u, err := url.Parse(opts.Upstream)
	if err != nil {
		return nil, xerrors.Wrapf(err, "parse upstream url %q", opts.Upstream)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, xerrors.Newf("upstream url %q must be absolute http(s)", opts.Upstream)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	rp := &httputil.ReverseProxy{
		Transport: opts.Transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.SetXForwarded()
			if id := httpmw.RequestIDFromContext(pr.In.Context()); id != "" {
				pr.Out.Header.Set("X-Request-Id", id)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if opts.OnError != nil {
				opts.OnError()
			}
			ctx := r.Context()
			log.FromContext(ctx).Warn(ctx, "upstream request failed",
				"upstream", u.Host,
				"error", err.Error(),
			)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"Bad Gateway"}` + "\n"))
		},
	}
	return &Proxy{upstream: u, rp: rp}, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}

// RegisterRoutes makes the proxy the router's fallback
func (p *Proxy) RegisterRoutes(r chi.Router) {
	r.NotFound(p.ServeHTTP)
	r.MethodNotAllowed(p.ServeHTTP)
}
