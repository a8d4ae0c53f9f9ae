package viewstate

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/bucketworks/boardwalk/internal/observability"
	"github.com/bucketworks/boardwalk/model"
)

// Query parameter names recognized on board requests and reproduced in the
// canonical query string.
const (
	ParamProject = "project"
	ParamView    = "view"
	ParamTag     = "tag"
	ParamAction  = "action"
)

// Offer holds one source's contribution to the view state. A nil field means
// the source has no value for that slot.
type Offer struct {
	Mode         *model.PresentationMode
	Tag          *string
	OpenActionID *string
}

// Source contributes values for view-state slots. Sources are consulted in a
// fixed order and each slot takes its value from the first source offering
// one.
type Source interface {
	Offer(ctx context.Context) Offer
}

// QuerySource reads slots from request query parameters. It only applies
// when the query names this project; a query left over from another project
// offers nothing.
type QuerySource struct {
	ProjectID string
	Query     url.Values
}

// Offer reads mode, tag, and open action from the query.
func (s QuerySource) Offer(context.Context) Offer {
	if s.Query.Get(ParamProject) != s.ProjectID {
		return Offer{}
	}

	var o Offer
	if v := s.Query.Get(ParamView); v != "" {
		mode := model.PresentationMode(v)
		if mode.Valid() {
			o.Mode = &mode
		}
	}
	if s.Query.Has(ParamTag) {
		tag := s.Query.Get(ParamTag)
		o.Tag = &tag
	}
	if s.Query.Has(ParamAction) {
		id := s.Query.Get(ParamAction)
		o.OpenActionID = &id
	}
	return o
}

// StoreSource reads the durably persisted mode. It never offers a tag or an
// open action.
type StoreSource struct {
	Store     Store
	SubjectID string
	ProjectID string
	Logger    *zap.Logger
}

// Offer reads the stored mode. A store failure offers nothing so rendering
// falls through to the default rather than failing the request.
func (s StoreSource) Offer(ctx context.Context) Offer {
	mode, found, err := s.Store.GetMode(ctx, s.SubjectID, s.ProjectID)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("view-state store read failed",
				zap.String("project_id", s.ProjectID),
				zap.Error(err))
		}
		return Offer{}
	}
	if !found {
		return Offer{}
	}
	return Offer{Mode: &mode}
}

// DefaultSource terminates the chain with list mode and empty tag/action.
type DefaultSource struct{}

// Offer returns the built-in defaults for every slot.
func (DefaultSource) Offer(context.Context) Offer {
	mode := model.ModeList
	tag := ""
	action := ""
	return Offer{Mode: &mode, Tag: &tag, OpenActionID: &action}
}

// Resolver computes effective view states and persists mode changes.
type Resolver struct {
	store   Store
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewResolver creates a Resolver over the given durable store.
func NewResolver(store Store, logger *zap.Logger, metrics *observability.Metrics) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger, metrics: metrics}
}

// Resolve computes the effective view state for a subject's project from the
// ordered source list: query, then durable store, then default. Each slot
// resolves independently.
func (r *Resolver) Resolve(ctx context.Context, subjectID, projectID string, query url.Values) model.ViewState {
	sources := []Source{
		QuerySource{ProjectID: projectID, Query: query},
		StoreSource{Store: r.store, SubjectID: subjectID, ProjectID: projectID, Logger: r.logger},
		DefaultSource{},
	}

	var (
		state                      model.ViewState
		hasMode, hasTag, hasAction bool
	)
	for _, src := range sources {
		offer := src.Offer(ctx)
		if !hasMode && offer.Mode != nil {
			state.Mode, hasMode = *offer.Mode, true
		}
		if !hasTag && offer.Tag != nil {
			state.Tag, hasTag = *offer.Tag, true
		}
		if !hasAction && offer.OpenActionID != nil {
			state.OpenActionID, hasAction = *offer.OpenActionID, true
		}
		if hasMode && hasTag && hasAction {
			break
		}
	}
	return state
}

// Persist durably stores the presentation mode. Tag and open action are not
// persisted; the canonical query string is their only carrier.
func (r *Resolver) Persist(ctx context.Context, subjectID, projectID string, mode model.PresentationMode) error {
	if err := r.store.PutMode(ctx, subjectID, projectID, mode); err != nil {
		return fmt.Errorf("persist view mode for project %s: %w", projectID, err)
	}
	if r.metrics != nil {
		r.metrics.RecordViewStateWrite(r.store.Driver())
	}
	return nil
}

// CanonicalQuery serializes a resolved view state into the query string the
// client reflects in the address bar. Parameter order is fixed; empty tag
// and open action are omitted.
func CanonicalQuery(projectID string, state model.ViewState) string {
	var b strings.Builder
	b.WriteString(ParamProject + "=" + url.QueryEscape(projectID))
	b.WriteString("&" + ParamView + "=" + url.QueryEscape(string(state.Mode)))
	if state.Tag != "" {
		b.WriteString("&" + ParamTag + "=" + url.QueryEscape(state.Tag))
	}
	if state.OpenActionID != "" {
		b.WriteString("&" + ParamAction + "=" + url.QueryEscape(state.OpenActionID))
	}
	return b.String()
}
