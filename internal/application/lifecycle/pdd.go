package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"ogcr-registry/internal/application/access"
	"ogcr-registry/internal/application/conflicts"
	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/application/workflow"
	"ogcr-registry/internal/constants"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/infrastructure/locks"
	"ogcr-registry/internal/pkg/geometry"
	"ogcr-registry/internal/pkg/validation"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PDD actions.
const (
	ActionSubmit         = "submit"
	ActionAssignReviewer = "assign_reviewer"
	ActionApprove        = "approve"
	ActionReject         = "reject"
	ActionArchive        = "archive"
	ActionRevise         = "revise"
)

type pddRule struct {
	from       domain.PDDStatus
	to         domain.PDDStatus
	event      string
	permission string
	ownerOnly  bool
	spatial    bool
}

// pddTransitions is the PDD state machine:
// draft -> submitted -> under_review -> {approved | rejected}; rejected -> draft; approved -> archived.
var pddTransitions = map[string]pddRule{
	ActionSubmit:         {from: domain.PDDDraft, to: domain.PDDSubmitted, event: domain.EventPDDSubmitted, permission: constants.SubmitProject, ownerOnly: true, spatial: true},
	ActionAssignReviewer: {from: domain.PDDSubmitted, to: domain.PDDUnderReview, event: domain.EventPDDReviewAssigned, permission: constants.AssignReviewer},
	ActionApprove:        {from: domain.PDDUnderReview, to: domain.PDDApproved, event: domain.EventPDDApproved, permission: constants.ApproveProject, spatial: true},
	ActionReject:         {from: domain.PDDUnderReview, to: domain.PDDRejected, event: domain.EventPDDRejected, permission: constants.RejectProject},
	ActionArchive:        {from: domain.PDDApproved, to: domain.PDDArchived, event: domain.EventPDDArchived, permission: constants.ArchiveProject},
	ActionRevise:         {from: domain.PDDRejected, to: domain.PDDDraft, event: domain.EventPDDRevised, permission: constants.SubmitProject, ownerOnly: true},
}

// Payload carries action-specific input.
type Payload struct {
	Reason       string `json:"reason,omitempty"`
	ReviewerID   string `json:"reviewer_id,omitempty"`
	SupersededBy string `json:"superseded_by,omitempty"`
}

// SubmitPDD validates a new Project Design Document and stores it as a draft.
func (s *Service) SubmitPDD(ctx context.Context, actor domain.Actor, raw []byte) (*Result, error) {
	if err := access.Require(actor, constants.SubmitProject); err != nil {
		return nil, err
	}
	doc, mp, err := s.checkPDD(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !access.IsOwnerOrAdmin(actor, doc.Properties.ActorID) {
		return nil, domain.NewForbidden(actor.ID, constants.SubmitProject)
	}

	id := uuid.New()
	return s.run(ctx, workflow.Transition{
		Kind:  domain.KindPDD,
		ID:    id,
		Event: domain.EventPDDCreated,
		Actor: actor,
		Locks: []string{locks.DocumentLock(id.String())},
		Prepare: func(tx *gorm.DB) (*workflow.Outcome, error) {
			p, err := newProject(id, doc, mp)
			if err != nil {
				return nil, err
			}
			return &workflow.Outcome{
				Version:  1,
				Status:   string(domain.PDDDraft),
				Snapshot: projectSnapshot(p),
				Write: func(tx *gorm.DB, v *domain.DocumentVersion) error {
					p.ContentHash = v.ContentHash
					return tx.Create(p).Error
				},
			}, nil
		},
	})
}

// UpdatePDD replaces the content of a draft.
func (s *Service) UpdatePDD(ctx context.Context, actor domain.Actor, id uuid.UUID, raw []byte) (*Result, error) {
	doc, mp, err := s.checkPDD(ctx, raw)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, workflow.Transition{
		Kind:  domain.KindPDD,
		ID:    id,
		Event: domain.EventPDDUpdated,
		Actor: actor,
		Locks: []string{locks.DocumentLock(id.String())},
		Prepare: func(tx *gorm.DB) (*workflow.Outcome, error) {
			cur, err := loadProject(tx, id)
			if err != nil {
				return nil, err
			}
			if err := access.RequireOwner(actor, constants.SubmitProject, cur.ActorID); err != nil {
				return nil, err
			}
			if cur.Status != domain.PDDDraft {
				return nil, domain.NewInvalidTransition(domain.KindPDD, string(cur.Status), "update")
			}
			if doc.Properties.ActorID != cur.ActorID {
				return nil, domain.NewSchemaError([]domain.FieldError{{Field: "properties.actor_id", Message: "cannot change the project proponent"}})
			}
			next, err := newProject(id, doc, mp)
			if err != nil {
				return nil, err
			}
			next.Revision = cur.Revision
			if doc.Properties.Contact == nil {
				next.Contact = cur.Contact
			}
			return &workflow.Outcome{
				Version:  cur.Version + 1,
				Status:   string(domain.PDDDraft),
				Snapshot: projectSnapshot(next),
				Write: func(tx *gorm.DB, v *domain.DocumentVersion) error {
					up := workflow.VersionColumns(v)
					up["name"] = next.Name
					up["project_type"] = next.ProjectType
					up["methodology_id"] = next.MethodologyID
					up["methodology_version"] = next.MethodologyVersion
					up["ogcr_version"] = next.OGCRVersion
					up["geometry"] = next.Geometry
					up["min_lon"], up["min_lat"], up["max_lon"], up["max_lat"] = next.MinLon, next.MinLat, next.MaxLon, next.MaxLat
					up["document"] = next.Document
					up["contact"] = next.Contact
					return advanceProject(tx, cur, up)
				},
			}, nil
		},
	})
}

// UpdatePDDMetadata changes the registry-approved mutable metadata (contact). It is the
// only edit allowed after a project leaves draft; outside draft the change is anchored.
func (s *Service) UpdatePDDMetadata(ctx context.Context, actor domain.Actor, id uuid.UUID, contact map[string]interface{}) (*Result, error) {
	if contact == nil {
		return nil, domain.NewSchemaError([]domain.FieldError{{Field: "contact", Message: "is required"}})
	}
	body, err := json.Marshal(contact)
	if err != nil {
		return nil, domain.NewSchemaError([]domain.FieldError{{Field: "contact", Message: err.Error()}})
	}
	var statuses []domain.PDDStatus
	if err := s.DB.WithContext(ctx).Model(&domain.Project{}).Where("id = ?", id).Pluck("status", &statuses).Error; err != nil {
		return nil, err
	}
	var status domain.PDDStatus
	if len(statuses) > 0 {
		status = statuses[0]
	}
	return s.run(ctx, workflow.Transition{
		Kind:   domain.KindPDD,
		ID:     id,
		Event:  domain.EventPDDMetadata,
		Actor:  actor,
		Locks:  []string{locks.DocumentLock(id.String())},
		Anchor: status != "" && status != domain.PDDDraft,
		Prepare: func(tx *gorm.DB) (*workflow.Outcome, error) {
			cur, err := loadProject(tx, id)
			if err != nil {
				return nil, err
			}
			if err := access.RequireOwner(actor, constants.SubmitProject, cur.ActorID); err != nil {
				return nil, err
			}
			if cur.Status == domain.PDDArchived || cur.Status != status {
				return nil, domain.NewInvalidTransition(domain.KindPDD, string(cur.Status), "update_metadata")
			}
			next := *cur
			next.Contact = datatypes.JSON(body)
			return &workflow.Outcome{
				Version:  cur.Version + 1,
				Status:   string(cur.Status),
				Snapshot: projectSnapshot(&next),
				Write: func(tx *gorm.DB, v *domain.DocumentVersion) error {
					up := workflow.VersionColumns(v)
					up["contact"] = next.Contact
					return advanceProject(tx, cur, up)
				},
			}, nil
		},
	})
}

// TransitionPDD applies one action of the PDD state machine.
func (s *Service) TransitionPDD(ctx context.Context, actor domain.Actor, id uuid.UUID, action string, payload Payload) (*Result, error) {
	rule, ok := pddTransitions[action]
	if !ok {
		return nil, unknownAction(domain.KindPDD, action)
	}
	if err := access.Require(actor, rule.permission); err != nil {
		return nil, err
	}
	if action == ActionReject && strings.TrimSpace(payload.Reason) == "" {
		return nil, domain.NewSchemaError([]domain.FieldError{{Field: "reason", Message: "is required to reject a project"}})
	}

	// methodology lookups use their own connection, so they run before the transaction
	var planned *domain.Project
	if action == ActionSubmit {
		p, err := s.ProjectRow(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.resolveMethodology(ctx, p.MethodologyID, p.MethodologyVersion); err != nil {
			return nil, err
		}
		planned = p
	}

	lockNames := []string{locks.DocumentLock(id.String())}
	if rule.spatial {
		lockNames = append(lockNames, locks.SpatialLock)
	}
	return s.run(ctx, workflow.Transition{
		Kind:   domain.KindPDD,
		ID:     id,
		Event:  rule.event,
		Actor:  actor,
		Locks:  lockNames,
		Anchor: true,
		Prepare: func(tx *gorm.DB) (*workflow.Outcome, error) {
			cur, err := loadProject(tx, id)
			if err != nil {
				return nil, err
			}
			if cur.Status != rule.from {
				return nil, domain.NewInvalidTransition(domain.KindPDD, string(cur.Status), action)
			}
			if rule.ownerOnly && !access.IsOwnerOrAdmin(actor, cur.ActorID) {
				return nil, domain.NewForbidden(actor.ID, rule.permission)
			}
			if action == ActionSubmit {
				if err := recheckDraft(cur, planned); err != nil {
					return nil, err
				}
			}
			if rule.spatial {
				if err := s.checkSpatial(tx, cur); err != nil {
					return nil, err
				}
			}

			next := *cur
			next.Status = rule.to
			up := map[string]interface{}{"status": rule.to}
			meta := map[string]interface{}{"action": action}
			switch action {
			case ActionAssignReviewer:
				reviewer := payload.ReviewerID
				if reviewer == "" {
					reviewer = actor.ID
				}
				next.ReviewerID = &reviewer
				up["reviewer_id"] = reviewer
				meta["reviewer_id"] = reviewer
			case ActionApprove:
				next.ApprovedBy = &actor.ID
				up["approved_by"] = actor.ID
			case ActionReject:
				reason := strings.TrimSpace(payload.Reason)
				next.RejectionReason = &reason
				up["rejection_reason"] = reason
				meta["reason"] = reason
			case ActionRevise:
				next.Revision = cur.Revision + 1
				next.ReviewerID, next.RejectionReason = nil, nil
				up["revision"] = next.Revision
				up["reviewer_id"] = nil
				up["rejection_reason"] = nil
				meta["revision"] = next.Revision
			}
			return &workflow.Outcome{
				Version:  cur.Version + 1,
				Status:   string(rule.to),
				Snapshot: projectSnapshot(&next),
				Metadata: meta,
				Write: func(tx *gorm.DB, v *domain.DocumentVersion) error {
					for k, val := range workflow.VersionColumns(v) {
						up[k] = val
					}
					return advanceProject(tx, cur, up)
				},
			}, nil
		},
	})
}

// checkPDD runs the schema, geometry and methodology checks of a PDD body.
func (s *Service) checkPDD(ctx context.Context, raw []byte) (*domain.PDDDocument, geometry.MultiPolygon, error) {
	doc, err := validation.DecodePDD(raw)
	if err != nil {
		return nil, nil, err
	}
	mp, err := validation.ProjectGeometry(doc.Geometry)
	if err != nil {
		return nil, nil, err
	}
	if len(doc.BBox) == 4 {
		if !bboxMatches(doc.BBox, mp.BBox()) {
			return nil, nil, domain.NewSchemaError([]domain.FieldError{{Field: "bbox", Message: "does not match the geometry extent"}})
		}
	}
	if err := s.resolveMethodology(ctx, doc.Properties.Methodology.ID, doc.Properties.Methodology.Version); err != nil {
		return nil, nil, err
	}
	return doc, mp, nil
}

// recheckDraft repeats the schema and geometry checks against the stored draft. The
// methodology was resolved for planned; the draft must still reference it.
func recheckDraft(p, planned *domain.Project) error {
	if planned != nil && (p.MethodologyID != planned.MethodologyID || p.MethodologyVersion != planned.MethodologyVersion) {
		return domain.NewError(domain.ConflictError, "draft changed while it was being submitted", map[string]interface{}{
			"document_id": p.ID.String(),
		})
	}
	var doc domain.PDDDocument
	if err := json.Unmarshal(p.Document, &doc); err != nil {
		return domain.Wrap(domain.SerializationError, "stored document is unreadable", err)
	}
	if err := validation.ValidatePDD(&doc); err != nil {
		return err
	}
	_, err := validation.ProjectGeometry(doc.Geometry)
	return err
}

func (s *Service) resolveMethodology(ctx context.Context, id, version string) error {
	if s.Methodologies == nil {
		return nil
	}
	res, err := s.Methodologies.Resolve(ctx, id, version)
	if err != nil {
		return err
	}
	if !res.Valid {
		return domain.NewMethodologyError(id, version, res.Reason)
	}
	return nil
}

func (s *Service) checkSpatial(tx *gorm.DB, p *domain.Project) error {
	mp, err := conflicts.StoredGeometry(p.Geometry)
	if err != nil {
		return domain.Wrap(domain.SerializationError, "stored geometry is unreadable", err)
	}
	found, err := s.Conflicts.CheckSpatialOverlap(tx.Statement.Context, tx, mp, domain.ActivePDDStatuses, p.ID)
	if err != nil {
		return err
	}
	if len(found.ConflictingIDs) > 0 {
		s.Metrics.IncConflict("spatial")
		return domain.NewSpatialConflict(found.ConflictingIDs, found.Region)
	}
	return nil
}

func loadProject(tx *gorm.DB, id uuid.UUID) (*domain.Project, error) {
	var p domain.Project
	if err := tx.Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFound(domain.KindPDD, id.String())
		}
		return nil, err
	}
	return &p, nil
}

func advanceProject(tx *gorm.DB, cur *domain.Project, up map[string]interface{}) error {
	return documents.Advance(tx, &domain.Project{}, "id", cur.ID, cur.Version, up)
}

// newProject builds the stored form of a validated PDD.
func newProject(id uuid.UUID, doc *domain.PDDDocument, mp geometry.MultiPolygon) (*domain.Project, error) {
	bb := mp.BBox()
	stored := *doc
	stored.ID = id.String()
	stored.LedgerReference = nil
	stored.BBox = bb.Slice()
	stored.Properties.Status = ""
	stored.Properties.Contact = nil
	document, err := json.Marshal(stored)
	if err != nil {
		return nil, domain.Wrap(domain.SerializationError, "encode document", err)
	}
	geom, err := json.Marshal(doc.Geometry)
	if err != nil {
		return nil, domain.Wrap(domain.SerializationError, "encode geometry", err)
	}
	p := &domain.Project{
		ID:                 id,
		Name:               doc.Properties.Name,
		ProjectType:        doc.Properties.ProjectType,
		ActorID:            doc.Properties.ActorID,
		MethodologyID:      doc.Properties.Methodology.ID,
		MethodologyVersion: doc.Properties.Methodology.Version,
		Status:             domain.PDDDraft,
		OGCRVersion:        doc.OGCRVersion,
		Revision:           1,
		Version:            1,
		Geometry:           datatypes.JSON(geom),
		MinLon:             bb.MinLon,
		MinLat:             bb.MinLat,
		MaxLon:             bb.MaxLon,
		MaxLat:             bb.MaxLat,
		Document:           datatypes.JSON(document),
	}
	if doc.Properties.Contact != nil {
		b, err := json.Marshal(doc.Properties.Contact)
		if err != nil {
			return nil, domain.Wrap(domain.SerializationError, "encode contact", err)
		}
		p.Contact = datatypes.JSON(b)
	}
	return p, nil
}

// projectSnapshot is the hashed form of a project at a version: the stored feature with
// its current status, revision and contact metadata.
func projectSnapshot(p *domain.Project) map[string]interface{} {
	feature := map[string]interface{}{}
	_ = json.Unmarshal(p.Document, &feature)
	props, _ := feature["properties"].(map[string]interface{})
	if props == nil {
		props = map[string]interface{}{}
	}
	props["status"] = string(p.Status)
	props["revision"] = p.Revision
	if len(p.Contact) > 0 {
		var contact interface{}
		if json.Unmarshal(p.Contact, &contact) == nil {
			props["contact"] = contact
		}
	}
	if p.ReviewerID != nil {
		props["reviewer_id"] = *p.ReviewerID
	}
	if p.RejectionReason != nil {
		props["rejection_reason"] = *p.RejectionReason
	}
	feature["properties"] = props
	feature["id"] = p.ID.String()
	return feature
}

func bboxMatches(given []float64, computed geometry.BBox) bool {
	want := computed.Slice()
	for i := range want {
		if math.Abs(given[i]-want[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func unknownAction(kind domain.DocumentKind, action string) error {
	return domain.NewError(domain.InvalidTransitionError, fmt.Sprintf("unknown %s action %q", kind, action), map[string]interface{}{
		"action": action,
	})
}
