package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/topasig/PolicyBroker/internal/models"
	"github.com/topasig/PolicyBroker/internal/provider/rca"
	"github.com/topasig/PolicyBroker/internal/tasks"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// DefaultFetchConcurrency bounds part downloads across all retrievals.
const DefaultFetchConcurrency = 3

// retrieveTimeout bounds one shared assembly, independent of the callers waiting on it.
const retrieveTimeout = 2 * time.Minute

// PDFContentType is the MIME type of merged artifacts.
const PDFContentType = "application/pdf"

// ErrUnsupportedContract is returned for an unknown contract type.
var ErrUnsupportedContract = errors.New("documents: unsupported contract type")

// PartFetcher downloads one part of an RCA or Green Card package.
type PartFetcher interface {
	GetFile(ctx context.Context, documentID string, part rca.DocumentPart, contractType string) ([]byte, error)
}

// PrintFormFetcher downloads the printable forms of a medical contract.
type PrintFormFetcher interface {
	PrintForms(ctx context.Context, uin string) ([][]byte, error)
}

// Pipeline fetches, merges and stores policy documents. Results are memoized by external id.
type Pipeline struct {
	store   *Store
	parts   PartFetcher
	forms   PrintFormFetcher
	merger  Merger
	stamper Stamper
	fetches *semaphore.Weighted
	flight  singleflight.Group
}

// NewPipeline builds a pipeline. concurrency bounds simultaneous part fetches.
func NewPipeline(store *Store, parts PartFetcher, forms PrintFormFetcher, merger Merger, concurrency int64) *Pipeline {
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	return &Pipeline{
		store:   store,
		parts:   parts,
		forms:   forms,
		merger:  merger,
		fetches: semaphore.NewWeighted(concurrency),
	}
}

// WithStamper stamps RCA and Green Card documents before they are stored.
func (p *Pipeline) WithStamper(stamper Stamper) *Pipeline {
	p.stamper = stamper
	return p
}

// Store returns the artifact store.
func (p *Pipeline) Store() *Store { return p.store }

type retrieved struct {
	doc  *models.IssuedDocument
	data []byte
}

// Retrieve returns the stored artifact for externalID, assembling it first when missing.
func (p *Pipeline) Retrieve(ctx context.Context, externalID, contractType string) (*models.IssuedDocument, []byte, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, nil, fmt.Errorf("documents: empty document id")
	}
	// Callers share one assembly, so it must outlive any single caller's context.
	results := p.flight.DoChan(externalID, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), retrieveTimeout)
		defer cancel()
		return p.retrieve(flightCtx, externalID, contractType)
	})
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return nil, nil, res.Err
		}
		result := res.Val.(retrieved)
		return result.doc, result.data, nil
	}
}

func (p *Pipeline) retrieve(ctx context.Context, externalID, contractType string) (retrieved, error) {
	doc, errFind := p.store.Find(ctx, externalID)
	if errFind == nil {
		data, errOpen := p.store.Open(ctx, doc)
		if errOpen != nil {
			return retrieved{}, errOpen
		}
		return retrieved{doc: doc, data: data}, nil
	}
	if !errors.Is(errFind, ErrNotFound) {
		return retrieved{}, errFind
	}

	var parts [][]byte
	var errFetch error
	switch contractType {
	case models.ContractTypeRCAI, models.ContractTypeGreenCard:
		parts, errFetch = p.fetchParts(ctx, externalID, contractType)
	case models.ContractTypeMedical:
		parts, errFetch = p.fetchForms(ctx, externalID)
	default:
		return retrieved{}, fmt.Errorf("%w: %q", ErrUnsupportedContract, contractType)
	}
	if errFetch != nil {
		return retrieved{}, errFetch
	}

	merged, errMerge := p.merger.Merge(parts)
	if errMerge != nil {
		return retrieved{}, errMerge
	}
	stamped := false
	if p.stamper != nil && contractType != models.ContractTypeMedical {
		out, errStamp := p.stamper.Stamp(merged)
		if errStamp != nil {
			return retrieved{}, errStamp
		}
		merged, stamped = out, true
	}
	meta, _ := json.Marshal(map[string]any{"contract_type": contractType, "parts": len(parts), "stamped": stamped})
	doc, created, errSave := p.store.save(ctx, externalID, models.DocumentTypeForContract(contractType), externalID+".pdf", PDFContentType, merged, meta)
	if errSave != nil {
		return retrieved{}, errSave
	}
	if !created {
		// A concurrent writer stored its own copy first.
		data, errOpen := p.store.Open(ctx, doc)
		if errOpen != nil {
			return retrieved{}, errOpen
		}
		merged = data
	}
	log.Infof("documents: stored %s (%s, %d bytes)", externalID, contractType, len(merged))
	return retrieved{doc: doc, data: merged}, nil
}

// fetchParts downloads every part concurrently and returns them in merge order.
// Any failure cancels the rest.
func (p *Pipeline) fetchParts(ctx context.Context, documentID, contractType string) ([][]byte, error) {
	if p.parts == nil {
		return nil, fmt.Errorf("documents: no part fetcher configured")
	}
	results := make([][]byte, len(rca.Parts))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, part := range rca.Parts {
		group.Go(func() error {
			if errAcquire := p.fetches.Acquire(groupCtx, 1); errAcquire != nil {
				return errAcquire
			}
			defer p.fetches.Release(1)
			data, errGet := p.parts.GetFile(groupCtx, documentID, part, contractType)
			if errGet != nil {
				return fmt.Errorf("documents: fetch %s of %s: %w", part, documentID, errGet)
			}
			results[i] = data
			return nil
		})
	}
	if errWait := group.Wait(); errWait != nil {
		return nil, errWait
	}
	return results, nil
}

func (p *Pipeline) fetchForms(ctx context.Context, uin string) ([][]byte, error) {
	if p.forms == nil {
		return nil, fmt.Errorf("documents: no print form fetcher configured")
	}
	forms, errForms := p.forms.PrintForms(ctx, uin)
	if errForms != nil {
		return nil, errForms
	}
	if len(forms) == 0 {
		return nil, fmt.Errorf("documents: no print forms for %s", uin)
	}
	return forms, nil
}

// Open reads a stored artifact.
func (p *Pipeline) Open(ctx context.Context, doc *models.IssuedDocument) ([]byte, error) {
	return p.store.Open(ctx, doc)
}

// Delete removes the artifact for externalID.
func (p *Pipeline) Delete(ctx context.Context, externalID string) error {
	return p.store.Delete(ctx, externalID)
}

// RetrieveTask is the tasks.Handler for deferred retrieval.
func (p *Pipeline) RetrieveTask(ctx context.Context, task tasks.Task) error {
	var payload tasks.RetrievePayload
	if errDecode := task.Decode(&payload); errDecode != nil {
		return errDecode
	}
	_, _, errRetrieve := p.Retrieve(ctx, payload.ExternalID, payload.ContractType)
	return errRetrieve
}
