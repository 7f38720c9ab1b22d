package proxy

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pixelvault/pixelvault/internal/logger"
	"github.com/pixelvault/pixelvault/pkg/assets"
	"github.com/pixelvault/pixelvault/pkg/bufpool"
	"github.com/pixelvault/pixelvault/pkg/fetch"
	"github.com/pixelvault/pixelvault/pkg/flight"
	"github.com/pixelvault/pixelvault/pkg/metrics"
	"github.com/pixelvault/pixelvault/pkg/store"
	"github.com/pixelvault/pixelvault/pkg/transform"
)

// HandlerConfig assembles the dispatcher's collaborators.
type HandlerConfig struct {
	Store    *store.Store
	Registry *flight.Registry[fetch.Result]
	Fetcher  *fetch.Fetcher
	Assets   *assets.Library
	Gate     *RefererGate

	// BypassHosts always skip the cache read, like an uncache request.
	BypassHosts []string

	Metrics *metrics.Metrics
}

// Handler is the request dispatcher: it normalizes the path, applies the
// referer gate, and routes the request to a cache hit, a subscription to an
// in-flight fetch, or a fresh upstream download.
type Handler struct {
	store    *store.Store
	registry *flight.Registry[fetch.Result]
	fetcher  *fetch.Fetcher
	assets   *assets.Library
	gate     *RefererGate
	bypass   map[string]struct{}
	metrics  *metrics.Metrics
}

// NewHandler builds the dispatcher.
func NewHandler(cfg HandlerConfig) *Handler {
	bypass := make(map[string]struct{}, len(cfg.BypassHosts))
	for _, h := range cfg.BypassHosts {
		bypass[strings.ToLower(h)] = struct{}{}
	}
	return &Handler{
		store:    cfg.Store,
		registry: cfg.Registry,
		fetcher:  cfg.Fetcher,
		assets:   cfg.Assets,
		gate:     cfg.Gate,
		bypass:   bypass,
		metrics:  cfg.Metrics,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/favicon.ico" {
		http.NotFound(w, r)
		return
	}

	raw := r.URL.Path
	if r.URL.RawQuery != "" {
		raw += "?" + r.URL.RawQuery
	}

	upstream, opts, ok := Normalize(raw)
	if !ok {
		h.metrics.RecordRequest(metrics.OutcomeRejected)
		http.NotFound(w, r)
		return
	}

	upstream, uncache := stripUncache(upstream)

	if !h.gate.Allow(r.Header.Get("Referer")) {
		h.metrics.RecordRequest(metrics.OutcomeRedirect)
		logger.DebugCtx(r.Context(), "referer denied",
			logger.KeyReferer, r.Header.Get("Referer"),
			logger.KeyURL, upstream)
		http.Redirect(w, r, upstream, http.StatusMovedPermanently)
		return
	}

	fp := store.NewFingerprint(upstream, opts)

	if !uncache && !h.hostBypassed(upstream) {
		if h.tryServeCached(w, r, fp) {
			return
		}
	}

	h.serveFetched(w, r, upstream, opts, fp)
}

// tryServeCached answers the request from the cache when possible and
// reports whether it did.
func (h *Handler) tryServeCached(w http.ResponseWriter, r *http.Request, fp store.Fingerprint) bool {
	meta, payloadExists, err := h.store.Lookup(fp)
	if err != nil {
		logger.WarnCtx(r.Context(), "cache lookup failed",
			logger.KeyFingerprint, fp.Short(), logger.KeyError, err)
		return false
	}
	if meta == nil {
		return false
	}

	if meta.ErrorTag != "" {
		h.metrics.RecordRequest(metrics.OutcomeSticky)
		logger.DebugCtx(r.Context(), "serving sticky error",
			logger.KeyFingerprint, fp.Short(),
			logger.KeyOutcome, string(meta.ErrorTag))
		h.assets.Write(w, meta.ErrorTag)
		return true
	}
	if !payloadExists {
		return false
	}

	if notModified(r, meta) {
		h.metrics.RecordRequest(metrics.OutcomeHit)
		h.metrics.RecordConditionalHit()
		writeNotModified(w, meta)
		return true
	}

	f, err := h.store.Open(fp)
	if err != nil {
		// Entry vanished between lookup and open; a fresh fetch recovers.
		return false
	}
	defer f.Close()

	h.metrics.RecordRequest(metrics.OutcomeHit)
	writeStored(w, meta, f)
	return true
}

// serveFetched joins the single-flight for fp, driving the fetch when this
// request is the leader, and answers with the fanned-out result.
func (h *Handler) serveFetched(w http.ResponseWriter, r *http.Request, upstream string, opts transform.Options, fp store.Fingerprint) {
	ticket, leader := h.registry.Join(fp.String())
	if leader {
		go h.fetcher.Fetch(upstream, opts, fp)
	} else {
		h.metrics.RecordCoalesced()
	}

	var res fetch.Result
	select {
	case res = <-ticket.C:
	case <-r.Context().Done():
		// The client is gone; drop our slot but let the fetch finish so
		// the payload still lands in the cache.
		h.registry.Leave(ticket)
		return
	}

	outcome := metrics.OutcomeFetched
	if !leader {
		outcome = metrics.OutcomeCoalesced
	}
	h.metrics.RecordRequest(outcome)

	switch {
	case res.OK():
		f, err := h.store.Open(fp)
		if err != nil {
			logger.ErrorCtx(r.Context(), "opening fetched payload failed",
				logger.KeyFingerprint, fp.Short(), logger.KeyError, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		writeStored(w, res.Meta, f)
	case res.Internal:
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		h.assets.Write(w, res.ErrTag)
	}
}

func (h *Handler) hostBypassed(upstream string) bool {
	if len(h.bypass) == 0 {
		return false
	}
	u, err := url.Parse(upstream)
	if err != nil {
		return false
	}
	_, ok := h.bypass[strings.ToLower(u.Hostname())]
	return ok
}

// notModified evaluates the request's conditional headers against the
// stored validators. Matching is exact string equality; clients replay the
// values we handed out.
func notModified(r *http.Request, meta *store.Metadata) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == meta.ETag {
		return true
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" && ims == meta.LastModified {
		return true
	}
	return false
}

func writeNotModified(w http.ResponseWriter, meta *store.Metadata) {
	if meta.ETag != "" {
		w.Header().Set("Etag", meta.ETag)
	}
	if meta.LastModified != "" {
		w.Header().Set("Last-Modified", meta.LastModified)
	}
	w.WriteHeader(http.StatusNotModified)
}

// writeStored replays the stored headers and streams the payload.
func writeStored(w http.ResponseWriter, meta *store.Metadata, body io.Reader) {
	for k, vs := range meta.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(http.StatusOK)
	buf := bufpool.Get()
	defer bufpool.Put(buf)
	_, _ = io.CopyBuffer(w, body, buf)
}

// stripUncache removes the cache-bypass marker from the upstream URL's
// query, reporting whether it was present. The marker steers our cache
// only; it is not forwarded upstream, and the fingerprint stays identical
// to the non-bypass form so the fresh payload overwrites the cached one.
func stripUncache(raw string) (string, bool) {
	q := strings.Index(raw, "?")
	if q < 0 {
		return raw, false
	}

	params := strings.Split(raw[q+1:], "&")
	kept := params[:0]
	found := false
	for _, p := range params {
		if p == "uncache=1" {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return raw, false
	}
	if len(kept) == 0 {
		return raw[:q], true
	}
	return raw[:q] + "?" + strings.Join(kept, "&"), true
}
