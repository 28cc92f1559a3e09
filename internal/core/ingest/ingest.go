package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/mnemo/internal/core/model"
	"github.com/agenthands/mnemo/internal/core/resolver"
	"github.com/agenthands/mnemo/internal/core/writer"
	"github.com/agenthands/mnemo/pkg/logger"
)

// Fact is one extracted statement, a triple or a quintuple. Object may be
// empty for action-only statements. Subject and Object names may carry a
// bracket annotation overriding the inferred kind: [..] Time, (..) Location,
// <..> Character.
type Fact struct {
	Subject     string   `json:"subject"`
	Predicate   string   `json:"predicate"`
	Object      string   `json:"object,omitempty"`
	Time        string   `json:"time,omitempty"`
	Location    string   `json:"location,omitempty"`
	Companions  []string `json:"companions,omitempty"`
	Directivity string   `json:"directivity,omitempty"`
	Importance  float64  `json:"importance"`
	Confidence  float64  `json:"confidence"`
	Context     string   `json:"context,omitempty"`
	Source      string   `json:"source,omitempty"`
	Evidence    string   `json:"evidence,omitempty"`
}

// Result reports what a single ingestion produced.
type Result struct {
	RelationshipID string `json:"relationship_id"`
	SubjectID      string `json:"subject_id"`
	ObjectID       string `json:"object_id"`
	SubjectCreated bool   `json:"subject_created"`
	ObjectCreated  bool   `json:"object_created"`
}

type nodeResolver interface {
	Resolve(ctx context.Context, q resolver.Query) (string, error)
}

type graphWriter interface {
	CreateNode(ctx context.Context, spec writer.NodeSpec) (string, error)
	CreateRelationship(ctx context.Context, spec writer.RelSpec) (string, error)
}

type timeBuilder interface {
	Build(ctx context.Context, expr string) (string, error)
}

// Pipeline turns extracted facts into graph state, resolving each entity to
// an existing node or creating a fresh one.
type Pipeline struct {
	Resolver       nodeResolver
	Writer         graphWriter
	TimeTree       timeBuilder
	DefaultContext string
	logger         *zap.Logger
}

func NewPipeline(r nodeResolver, w graphWriter, tt timeBuilder, defaultContext string) *Pipeline {
	if defaultContext == "" {
		defaultContext = "reality"
	}
	return &Pipeline{
		Resolver:       r,
		Writer:         w,
		TimeTree:       tt,
		DefaultContext: defaultContext,
		logger:         logger.Get(),
	}
}

// Ingest normalizes the fact, pins subject and object, links them, and
// enriches a newly created object with time, location and companion edges.
// Enrichment failures are logged and skipped; only subject or object failure
// fails the call.
func (p *Pipeline) Ingest(ctx context.Context, fact Fact) (Result, error) {
	fact, err := normalize(fact, p.DefaultContext)
	if err != nil {
		return Result{}, err
	}

	subjectName, subjectKind := splitAnnotation(fact.Subject)
	objectName, objectKind := splitAnnotation(fact.Object)

	subjectID, subjectCreated, err := p.resolveOrCreate(ctx, subjectName, subjectKind, fact, resolver.Query{
		Companion: objectName,
	})
	if err != nil {
		return Result{}, fmt.Errorf("subject %q: %w", subjectName, err)
	}

	objectID, objectCreated, err := p.resolveOrCreate(ctx, objectName, objectKind, fact, resolver.Query{
		Time:      fact.Time,
		Location:  fact.Location,
		Companion: subjectName,
	})
	if err != nil {
		return Result{}, fmt.Errorf("object %q: %w", objectName, err)
	}

	shape := model.ShapeTriple
	fallback := model.FallbackTriple
	if fact.Time != "" || fact.Location != "" {
		shape = model.ShapeQuintuple
		fallback = model.FallbackAction
	}
	relID, err := p.Writer.CreateRelationship(ctx, writer.RelSpec{
		StartID:     subjectID,
		EndID:       objectID,
		Predicate:   fact.Predicate,
		Directivity: fact.Directivity,
		Confidence:  fact.Confidence,
		Evidence:    fact.Evidence,
		Source:      fact.Source,
		Shape:       shape,
		Fallback:    fallback,
	})
	if err != nil {
		return Result{}, fmt.Errorf("linking %q to %q: %w", subjectName, objectName, err)
	}

	if objectCreated {
		p.attachTime(ctx, objectID, fact)
		p.attachLocation(ctx, objectID, fact)
		p.attachCompanions(ctx, subjectID, objectID, fact)
	}

	return Result{
		RelationshipID: relID,
		SubjectID:      subjectID,
		ObjectID:       objectID,
		SubjectCreated: subjectCreated,
		ObjectCreated:  objectCreated,
	}, nil
}

// normalize fills defaults and rewrites action-only statements into a
// pseudo-triple: the predicate becomes the object and HAS_ACTION links them,
// so time and location still have something to attach to.
func normalize(fact Fact, defaultContext string) (Fact, error) {
	fact.Subject = strings.TrimSpace(fact.Subject)
	fact.Predicate = strings.TrimSpace(fact.Predicate)
	fact.Object = strings.TrimSpace(fact.Object)
	fact.Time = strings.TrimSpace(fact.Time)
	fact.Location = strings.TrimSpace(fact.Location)

	if fact.Subject == "" {
		return fact, fmt.Errorf("%w: fact needs a subject", model.ErrValidation)
	}
	if fact.Predicate == "" {
		return fact, fmt.Errorf("%w: fact needs a predicate", model.ErrValidation)
	}
	if fact.Object == "" {
		fact.Object = fact.Predicate
		fact.Predicate = model.TypeHasAction
	}
	if fact.Context == "" {
		fact.Context = defaultContext
	}
	return fact, nil
}

// splitAnnotation strips a kind-override bracket from a name.
func splitAnnotation(name string) (string, model.NodeKind) {
	if len(name) >= 2 {
		first, last := name[0], name[len(name)-1]
		inner := strings.TrimSpace(name[1 : len(name)-1])
		if inner != "" {
			switch {
			case first == '[' && last == ']':
				return inner, model.KindTime
			case first == '(' && last == ')':
				return inner, model.KindLocation
			case first == '<' && last == '>':
				return inner, model.KindCharacter
			}
		}
	}
	return name, model.KindEntity
}

func (p *Pipeline) resolveOrCreate(ctx context.Context, name string, kind model.NodeKind, fact Fact, hints resolver.Query) (string, bool, error) {
	hints.Name = name
	hints.Kind = kind
	hints.Context = fact.Context

	id, err := p.Resolver.Resolve(ctx, hints)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return "", false, err
	}

	id, err = p.Writer.CreateNode(ctx, writer.NodeSpec{
		Kind:       kind,
		Name:       name,
		Context:    fact.Context,
		Importance: fact.Importance,
	})
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (p *Pipeline) attachTime(ctx context.Context, objectID string, fact Fact) {
	if fact.Time == "" {
		return
	}
	timeID, err := p.TimeTree.Build(ctx, fact.Time)
	if err != nil {
		p.logger.Warn("time attach skipped", zap.String("time", fact.Time), zap.Error(err))
		return
	}
	if timeID == "" {
		return
	}
	if _, err := p.Writer.CreateRelationship(ctx, writer.RelSpec{
		StartID:    objectID,
		EndID:      timeID,
		Predicate:  model.TypeHappenedAt,
		Confidence: fact.Confidence,
		Source:     fact.Source,
	}); err != nil {
		p.logger.Warn("time attach skipped", zap.String("time", fact.Time), zap.Error(err))
	}
}

func (p *Pipeline) attachLocation(ctx context.Context, objectID string, fact Fact) {
	if fact.Location == "" {
		return
	}
	locationID, _, err := p.resolveOrCreate(ctx, fact.Location, model.KindLocation, fact, resolver.Query{})
	if err != nil {
		p.logger.Warn("location attach skipped", zap.String("location", fact.Location), zap.Error(err))
		return
	}
	if _, err := p.Writer.CreateRelationship(ctx, writer.RelSpec{
		StartID:    objectID,
		EndID:      locationID,
		Predicate:  model.TypeHappenedIn,
		Confidence: fact.Confidence,
		Source:     fact.Source,
	}); err != nil {
		p.logger.Warn("location attach skipped", zap.String("location", fact.Location), zap.Error(err))
	}
}

// attachCompanions links co-occurring people to the new object. When the
// statement flows toward the subject the companion was acted upon, so the
// edge reads passively ("被" + predicate) from the companion to the object.
// Otherwise the companion co-acted and gets the same predicate the subject
// used.
func (p *Pipeline) attachCompanions(ctx context.Context, subjectID, objectID string, fact Fact) {
	for _, companion := range fact.Companions {
		companion = strings.TrimSpace(companion)
		if companion == "" {
			continue
		}
		companionID, _, err := p.resolveOrCreate(ctx, companion, model.KindCharacter, fact, resolver.Query{})
		if err != nil {
			p.logger.Warn("companion attach skipped", zap.String("companion", companion), zap.Error(err))
			continue
		}

		predicate := fact.Predicate
		if fact.Directivity == model.DirectivityToStart {
			predicate = "被" + fact.Predicate
		}
		if _, err := p.Writer.CreateRelationship(ctx, writer.RelSpec{
			StartID:    companionID,
			EndID:      objectID,
			Predicate:  predicate,
			Confidence: fact.Confidence,
			Source:     fact.Source,
			Shape:      model.ShapeQuintuple,
			Fallback:   model.FallbackAction,
		}); err != nil {
			p.logger.Warn("companion attach skipped", zap.String("companion", companion), zap.Error(err))
		}
	}
}
