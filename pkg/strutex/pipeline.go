package strutex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Aquilesorei/strutex/internal/logger"
	"github.com/Aquilesorei/strutex/pkg/backend"
	"github.com/Aquilesorei/strutex/pkg/cache"
	"github.com/Aquilesorei/strutex/pkg/chain"
	"github.com/Aquilesorei/strutex/pkg/document"
	"github.com/Aquilesorei/strutex/pkg/extractor"
	"github.com/Aquilesorei/strutex/pkg/schema"
)

// run is the state of one request as it moves through the pipeline.
type run struct {
	p  *Processor
	cc callConfig

	doc       *document.Document
	prompt    string
	schema    *schema.Schema
	mediaType string

	pctx    *ProcessingContext
	id      string
	start   time.Time
	backend string // last backend involved, for error reports
}

// cachedValue is what the cache stores for a result.
type cachedValue struct {
	Data     map[string]any `json:"data"`
	Raw      string         `json:"raw,omitempty"`
	Backend  string         `json:"backend,omitempty"`
	Model    string         `json:"model,omitempty"`
	Verified bool           `json:"verified,omitempty"`
	Issues   []string       `json:"issues,omitempty"`
}

func (r *run) fail(stage Stage, err error) error {
	return &StageError{Stage: stage, Backend: r.backend, Elapsed: time.Since(r.start), Err: err}
}

func (r *run) execute(ctx context.Context, emit func(chain.Event) error) (*Result, error) {
	if err := r.checkDocument(); err != nil {
		return nil, r.fail(StageInput, err)
	}
	if err := r.preProcess(ctx); err != nil {
		return nil, r.fail(StagePreProcess, err)
	}
	if r.p.cfg.RequireSchema && r.schema == nil {
		return nil, r.fail(StageInput, &InputError{Reason: "schema is required"})
	}

	key := r.key()
	if res, ok := r.lookup(ctx, key); ok {
		return r.postProcess(ctx, res)
	}

	req, err := r.prepare(ctx)
	if err != nil {
		return nil, err
	}

	res, err := r.call(ctx, req, emit)
	if err != nil {
		return nil, err
	}
	if err := r.validate(res); err != nil {
		return nil, err
	}
	if r.cc.verify {
		if res, err = r.verify(ctx, req, res); err != nil {
			return nil, err
		}
		if err := r.validate(res); err != nil {
			return nil, err
		}
	}
	if err := r.checkOutput(res); err != nil {
		return nil, err
	}
	res.Duration = time.Since(r.start)

	// Encode before post-process hooks so they cannot alter the cached copy.
	value, encErr := json.Marshal(cachedValue{
		Data:     res.Data,
		Raw:      res.Raw,
		Backend:  res.Backend,
		Model:    res.Model,
		Verified: res.Verified,
		Issues:   res.Issues,
	})

	final, err := r.postProcess(ctx, res)
	if err != nil {
		return nil, err
	}
	if encErr != nil {
		r.p.cacheFailed(&cache.Error{Op: "encode", Err: encErr})
	} else {
		r.store(ctx, key, value)
	}
	return final, nil
}

// verifyOnly backs Processor.Verify.
func (r *run) verifyOnly(ctx context.Context, first *Result) (*Result, error) {
	if err := r.checkDocument(); err != nil {
		return nil, r.fail(StageInput, err)
	}
	if first == nil || first.Data == nil {
		return nil, r.fail(StageInput, &InputError{Reason: "no result to verify"})
	}
	req, err := r.prepare(ctx)
	if err != nil {
		return nil, err
	}
	res, err := r.verify(ctx, req, first)
	if err != nil {
		return nil, err
	}
	if err := r.validate(res); err != nil {
		return nil, err
	}
	if err := r.checkOutput(res); err != nil {
		return nil, err
	}
	res.Duration = time.Since(r.start)
	return res, nil
}

func (r *run) checkDocument() error {
	if r.doc == nil || len(r.doc.Data) == 0 {
		return &InputError{Reason: "document is empty"}
	}
	if limit := r.p.cfg.MaxDocumentSize; limit > 0 && r.doc.Size() > limit {
		return &InputError{Reason: fmt.Sprintf("document is %s, limit is %s",
			humanize.IBytes(uint64(r.doc.Size())), humanize.IBytes(uint64(limit)))}
	}
	return nil
}

func (r *run) preProcess(ctx context.Context) error {
	pre, _, _ := r.p.hooks()
	for _, h := range pre {
		ov, err := h(ctx, PreProcess{
			Document:  r.doc,
			Prompt:    r.prompt,
			Schema:    r.schema,
			MediaType: r.mediaType,
			Context:   r.pctx,
		})
		if err != nil {
			return err
		}
		if ov == nil {
			continue
		}
		if ov.Prompt != "" {
			r.prompt = ov.Prompt
		}
		if ov.Schema != nil {
			r.schema = ov.Schema
		}
		if ov.MediaType != "" {
			r.mediaType = ov.MediaType
		}
	}
	return nil
}

func (r *run) postProcess(ctx context.Context, res *Result) (*Result, error) {
	_, post, _ := r.p.hooks()
	for _, h := range post {
		out, err := h(ctx, res, r.pctx)
		if err != nil {
			return nil, r.fail(StagePost, err)
		}
		if out != nil {
			res = out
		}
	}
	return res, nil
}

// key covers the chain identity; a verified result is cached apart from an
// unverified one.
func (r *run) key() cache.Key {
	id := r.p.chain.ID()
	if r.cc.verify {
		id += "+verify"
	}
	return cache.Derive(r.doc.Data, r.prompt, r.schema, id, "")
}

func (r *run) lookup(ctx context.Context, key cache.Key) (*Result, bool) {
	if r.cc.skipCache {
		return nil, false
	}
	value, ok, err := r.p.cfg.Cache.Get(ctx, key)
	if err != nil {
		r.p.cacheFailed(err)
		return nil, false
	}
	if !ok {
		r.p.cfg.Recorder.ObserveCache("miss")
		return nil, false
	}
	var cv cachedValue
	if err := json.Unmarshal(value, &cv); err != nil {
		r.p.cacheFailed(&cache.Error{Op: "decode", Err: err})
		return nil, false
	}
	r.p.cfg.Recorder.ObserveCache("hit")
	logger.Debug("cache hit", "request", r.id, "backend", cv.Backend)
	return &Result{
		Data:      cv.Data,
		Raw:       cv.Raw,
		Backend:   cv.Backend,
		Model:     cv.Model,
		Verified:  cv.Verified,
		Issues:    cv.Issues,
		Cached:    true,
		RequestID: r.id,
		Duration:  time.Since(r.start),
	}, true
}

// store writes value unless the request was cancelled.
func (r *run) store(ctx context.Context, key cache.Key, value []byte) {
	if r.cc.skipCache || ctx.Err() != nil {
		return
	}
	if err := r.p.cfg.Cache.Set(ctx, key, value, r.p.cfg.CacheTTL); err != nil {
		r.p.cacheFailed(err)
	}
}

// prepare checks the prompt, extracts the document text and checks it too.
func (r *run) prepare(ctx context.Context) (backend.Request, error) {
	req := backend.Request{
		Document:  r.doc.Data,
		MediaType: r.mediaType,
		Prompt:    r.prompt,
		Schema:    r.schema,
	}
	sec := r.p.cfg.Security
	if sec != nil {
		prompt, err := sec.CheckInput(req.Prompt)
		if err != nil {
			return req, r.fail(StageSecurity, err)
		}
		req.Prompt = prompt
	}

	if ext := r.p.cfg.Extractor; ext != nil && ext.Supports(r.mediaType) {
		text, err := ext.Extract(ctx, r.doc.Data, r.mediaType)
		switch {
		case err == nil:
			req.Text = text
		case ctx.Err() != nil:
			return req, r.fail(StageExtract, err)
		case !errors.Is(err, extractor.ErrUnsupportedMediaType):
			// Backends can still read the raw document.
			logger.Warn("text extraction failed", "request", r.id, "media_type", r.mediaType, "error", err)
		}
	}

	if sec != nil && req.Text != "" {
		text, err := sec.CheckInput(req.Text)
		if err != nil {
			return req, r.fail(StageSecurity, err)
		}
		req.Text = text
	}
	return req, nil
}

func (r *run) call(ctx context.Context, req backend.Request, emit func(chain.Event) error) (*Result, error) {
	var (
		res *backend.Result
		b   backend.Backend
		err error
	)
	if emit != nil {
		res, b, err = r.p.chain.Stream(ctx, req, emit)
	} else {
		res, b, err = r.p.chain.Execute(ctx, req)
	}
	if err != nil {
		r.noteFailure(err)
		return nil, r.fail(StageProvider, err)
	}
	r.backend = b.Name()
	return r.fromBackend(res), nil
}

func (r *run) noteFailure(err error) {
	var ex *chain.ExhaustedError
	if errors.As(err, &ex) && len(ex.Failures) > 0 {
		r.backend = ex.Failures[len(ex.Failures)-1].Backend
	}
}

func (r *run) fromBackend(res *backend.Result) *Result {
	return &Result{
		Data:      res.Data,
		Raw:       res.Raw,
		Backend:   res.Backend,
		Model:     res.Model,
		Usage:     res.Usage,
		RequestID: r.id,
	}
}

// validate runs the validation chain and keeps its repaired data. Issues fail
// the request in strict mode or with FailOnIssues, and are recorded on the
// result otherwise.
func (r *run) validate(res *Result) error {
	v := r.p.cfg.Validation
	vr := v.Validate(res.Data, r.schema)
	r.p.cfg.Recorder.ObserveValidationIssues(len(vr.Issues))
	if vr.Data != nil {
		res.Data = vr.Data
	}
	res.Issues = vr.Issues
	if vr.Valid {
		return nil
	}
	if v.Strict() || r.p.cfg.FailOnIssues {
		return r.fail(StageValidate, vr.AsError())
	}
	logger.Debug("validation issues", "request", r.id, "count", len(vr.Issues))
	return nil
}

func (r *run) verify(ctx context.Context, req backend.Request, first *Result) (*Result, error) {
	prompt, err := verificationPrompt(req.Prompt, first.Data)
	if err != nil {
		return nil, r.fail(StageVerify, err)
	}
	vreq := req
	vreq.Prompt = prompt

	res, b, err := r.p.chain.Execute(ctx, vreq)
	if err != nil {
		r.noteFailure(err)
		return nil, r.fail(StageVerify, err)
	}
	r.backend = b.Name()

	out := r.fromBackend(res)
	out.Usage = first.Usage.Add(res.Usage)
	out.Verified = true
	logger.Debug("verification pass complete", "request", r.id, "backend", out.Backend)
	return out, nil
}

func (r *run) checkOutput(res *Result) error {
	sec := r.p.cfg.Security
	if sec == nil {
		return nil
	}
	data, err := sec.CheckOutput(res.Data)
	if err != nil {
		return r.fail(StagePostCheck, err)
	}
	res.Data = data
	return nil
}

func (r *run) record(res *Result, err error, elapsed time.Duration) {
	step := Step{
		ID:       r.id,
		Prompt:   r.prompt,
		Backend:  r.backend,
		Err:      err,
		Duration: elapsed,
		At:       r.start,
	}
	if r.doc != nil {
		step.Document = r.doc.Name
	}
	var usage backend.Usage
	if res != nil {
		step.Data = res.Data
		usage = res.Usage
		if res.Backend != "" {
			step.Backend = res.Backend
		}
	}
	r.pctx.record(step, usage)
}
