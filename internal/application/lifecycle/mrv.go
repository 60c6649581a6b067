package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"ogcr-registry/internal/application/access"
	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/application/events"
	"ogcr-registry/internal/application/workflow"
	"ogcr-registry/internal/constants"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/infrastructure/locks"
	"ogcr-registry/internal/infrastructure/methodology"
	"ogcr-registry/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MRV actions.
const (
	ActionRequestVerification = "request_verification"
	ActionArchiveMRV          = "archive"
)

// Verification outcomes.
const (
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
)

// reservedMRVStatuses are the statuses whose periods block a new submission. Archived
// reports were verified before they were superseded, so their periods stay reserved.
var reservedMRVStatuses = append(append([]domain.MRVStatus{}, domain.ActiveMRVStatuses...), domain.MRVArchived)

// VerifyInput is the verifier's decision on a report.
type VerifyInput struct {
	Outcome        string               `json:"outcome"`
	VerifiedAmount *decimal.Decimal     `json:"verified_amount,omitempty"`
	Comments       string               `json:"comments,omitempty"`
	VerifierInfo   *domain.VerifierInfo `json:"verifier_info,omitempty"`
}

// VerifyResult adds the domain event raised by a successful verification.
type VerifyResult struct {
	Result
	Event *events.Event `json:"-"`
}

// SubmitMRV validates a monitoring report for an approved project and stores it as
// submitted.
func (s *Service) SubmitMRV(ctx context.Context, actor domain.Actor, projectID uuid.UUID, raw []byte) (*Result, error) {
	return s.submitMRV(ctx, actor, projectID, raw, nil)
}

// ResubmitMRV files a corrected report for a rejected one. The corrected report gets a
// new id; the rejected report is left unchanged.
func (s *Service) ResubmitMRV(ctx context.Context, actor domain.Actor, rejectedID uuid.UUID, raw []byte) (*Result, error) {
	var prev domain.MonitoringReport
	if err := s.DB.WithContext(ctx).Where("id = ?", rejectedID).First(&prev).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFound(domain.KindMRV, rejectedID.String())
		}
		return nil, err
	}
	if prev.Status != domain.MRVRejected {
		return nil, domain.NewInvalidTransition(domain.KindMRV, string(prev.Status), "resubmit")
	}
	return s.submitMRV(ctx, actor, prev.ProjectID, raw, &prev.ID)
}

func (s *Service) submitMRV(ctx context.Context, actor domain.Actor, projectID uuid.UUID, raw []byte, resubmittedFrom *uuid.UUID) (*Result, error) {
	if err := access.Require(actor, constants.SubmitMRV); err != nil {
		return nil, err
	}
	doc, err := validation.DecodeMRV(raw)
	if err != nil {
		return nil, err
	}
	if doc.Properties.ProjectID != "" && doc.Properties.ProjectID != projectID.String() {
		return nil, domain.NewSchemaError([]domain.FieldError{{Field: "properties.project_id", Message: "does not match the target project"}})
	}
	if doc.Geometry != nil && (doc.Geometry.Type == "Polygon" || doc.Geometry.Type == "MultiPolygon") {
		if _, err := validation.ProjectGeometry(*doc.Geometry); err != nil {
			return nil, err
		}
	}
	start, end, err := validation.Period(doc.Properties.StartDate, doc.Properties.EndDate)
	if err != nil {
		return nil, domain.NewSchemaError([]domain.FieldError{{Field: "properties.start_date", Message: err.Error()}})
	}

	// parent and methodology checks run first outside the transaction because the
	// methodology registry reads on its own connection; prepare repeats the parent checks
	parent, err := s.ProjectRow(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := checkParent(actor, parent); err != nil {
		return nil, err
	}
	net, err := s.applyMethodology(ctx, parent, doc)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	return s.run(ctx, workflow.Transition{
		Kind:   domain.KindMRV,
		ID:     id,
		Event:  domain.EventMRVSubmitted,
		Actor:  actor,
		Locks:  []string{locks.DocumentLock(projectID.String()), locks.ProjectPeriodLock(projectID.String())},
		Anchor: true,
		Prepare: func(tx *gorm.DB) (*workflow.Outcome, error) {
			project, err := loadProject(tx, projectID)
			if err != nil {
				return nil, err
			}
			if err := checkParent(actor, project); err != nil {
				return nil, err
			}
			if project.MethodologyID != parent.MethodologyID || project.MethodologyVersion != parent.MethodologyVersion {
				return nil, domain.NewParentState(projectID.String(), project.Status)
			}
			if err := s.checkPeriod(tx, projectID, start, end, uuid.Nil, reservedMRVStatuses, domain.NewTemporalOverlap); err != nil {
				return nil, err
			}

			m, err := newReport(id, project, actor, doc, start, end, net)
			if err != nil {
				return nil, err
			}
			m.ResubmittedFrom = resubmittedFrom
			var meta map[string]interface{}
			if resubmittedFrom != nil {
				meta = map[string]interface{}{"resubmitted_from": resubmittedFrom.String()}
			}
			return &workflow.Outcome{
				Version:  1,
				Status:   string(domain.MRVSubmitted),
				Snapshot: reportSnapshot(m),
				Metadata: meta,
				Write: func(tx *gorm.DB, v *domain.DocumentVersion) error {
					m.ContentHash = v.ContentHash
					m.AnchorStatus = v.AnchorStatus
					return tx.Create(m).Error
				},
			}, nil
		},
	})
}

// TransitionMRV applies request_verification or archive. Verification outcomes go
// through VerifyMRV.
func (s *Service) TransitionMRV(ctx context.Context, actor domain.Actor, id uuid.UUID, action string, payload Payload) (*Result, error) {
	projectID, err := s.reportProject(ctx, id)
	if err != nil {
		return nil, err
	}
	switch action {
	case ActionRequestVerification:
		if err := access.Require(actor, constants.SubmitMRV); err != nil {
			return nil, err
		}
		return s.run(ctx, workflow.Transition{
			Kind:   domain.KindMRV,
			ID:     id,
			Event:  domain.EventMRVPending,
			Actor:  actor,
			Locks:  []string{locks.DocumentLock(id.String()), locks.DocumentLock(projectID.String()), locks.ProjectPeriodLock(projectID.String())},
			Anchor: true,
			Prepare: func(tx *gorm.DB) (*workflow.Outcome, error) {
				cur, err := loadReport(tx, id)
				if err != nil {
					return nil, err
				}
				if cur.Status != domain.MRVSubmitted {
					return nil, domain.NewInvalidTransition(domain.KindMRV, string(cur.Status), action)
				}
				if !access.IsOwnerOrAdmin(actor, cur.ActorID) {
					return nil, domain.NewForbidden(actor.ID, constants.SubmitMRV)
				}
				project, err := loadProject(tx, cur.ProjectID)
				if err != nil {
					return nil, err
				}
				if err := checkParent(actor, project); err != nil {
					return nil, err
				}
				if err := s.checkPeriod(tx, cur.ProjectID, cur.StartDate, cur.EndDate, cur.ID, reservedMRVStatuses, domain.NewTemporalConflict); err != nil {
					return nil, err
				}
				return s.reportOutcome(cur, domain.MRVPendingVerification, nil, map[string]interface{}{"action": action}), nil
			},
		})

	case ActionArchiveMRV:
		if err := access.Require(actor, constants.ArchiveMRV); err != nil {
			return nil, err
		}
		successor, err := uuid.Parse(payload.SupersededBy)
		if err != nil {
			return nil, domain.NewSchemaError([]domain.FieldError{{Field: "superseded_by", Message: "must be the id of the superseding report"}})
		}
		return s.run(ctx, workflow.Transition{
			Kind:   domain.KindMRV,
			ID:     id,
			Event:  domain.EventMRVArchived,
			Actor:  actor,
			Locks:  []string{locks.DocumentLock(id.String()), locks.ProjectPeriodLock(projectID.String())},
			Anchor: true,
			Prepare: func(tx *gorm.DB) (*workflow.Outcome, error) {
				cur, err := loadReport(tx, id)
				if err != nil {
					return nil, err
				}
				if cur.Status != domain.MRVVerified {
					return nil, domain.NewInvalidTransition(domain.KindMRV, string(cur.Status), action)
				}
				next, err := loadReport(tx, successor)
				if err != nil {
					return nil, err
				}
				if next.ProjectID != cur.ProjectID || next.Status != domain.MRVVerified || next.StartDate.Before(cur.EndDate) {
					return nil, domain.NewError(domain.InvalidTransitionError,
						"a verified report is archived only when a later verified report of the same project supersedes it",
						map[string]interface{}{"superseded_by": successor.String(), "from": string(cur.Status), "action": action})
				}
				return s.reportOutcome(cur, domain.MRVArchived, map[string]interface{}{"superseded_by": successor},
					map[string]interface{}{"action": action, "superseded_by": successor.String()}), nil
			},
		})
	}
	return nil, unknownAction(domain.KindMRV, action)
}

// VerifyMRV records the verifier's outcome. An approved verification returns an
// MRVVerified event for the issuance dispatcher.
func (s *Service) VerifyMRV(ctx context.Context, actor domain.Actor, id uuid.UUID, in VerifyInput) (*VerifyResult, error) {
	if err := access.Require(actor, constants.VerifyMRV); err != nil {
		return nil, err
	}
	var fields []domain.FieldError
	switch in.Outcome {
	case OutcomeApproved:
		if in.VerifiedAmount == nil {
			fields = append(fields, domain.FieldError{Field: "verified_amount", Message: "is required to approve a report"})
		} else if in.VerifiedAmount.IsNegative() {
			fields = append(fields, domain.FieldError{Field: "verified_amount", Message: "must be >= 0"})
		}
	case OutcomeRejected:
		if strings.TrimSpace(in.Comments) == "" {
			fields = append(fields, domain.FieldError{Field: "comments", Message: "are required to reject a report"})
		}
	default:
		fields = append(fields, domain.FieldError{Field: "outcome", Message: "must be one of: approved rejected"})
	}
	if len(fields) > 0 {
		return nil, domain.NewSchemaError(fields)
	}
	var info datatypes.JSON
	if in.VerifierInfo != nil {
		b, err := json.Marshal(in.VerifierInfo)
		if err != nil {
			return nil, domain.NewSchemaError([]domain.FieldError{{Field: "verifier_info", Message: err.Error()}})
		}
		info = datatypes.JSON(b)
	}

	to, event := domain.MRVRejected, domain.EventMRVRejected
	if in.Outcome == OutcomeApproved {
		to, event = domain.MRVVerified, domain.EventMRVVerified
	}
	var projectID uuid.UUID
	var verifiedAt time.Time
	res, err := s.run(ctx, workflow.Transition{
		Kind:   domain.KindMRV,
		ID:     id,
		Event:  event,
		Actor:  actor,
		Locks:  []string{locks.DocumentLock(id.String())},
		Anchor: true,
		Prepare: func(tx *gorm.DB) (*workflow.Outcome, error) {
			cur, err := loadReport(tx, id)
			if err != nil {
				return nil, err
			}
			if cur.Status != domain.MRVPendingVerification {
				return nil, domain.NewInvalidTransition(domain.KindMRV, string(cur.Status), "verify")
			}
			projectID = cur.ProjectID
			verifiedAt = s.now().Truncate(time.Second)
			up := map[string]interface{}{
				"verified_by":   actor.ID,
				"verified_at":   verifiedAt,
				"verifier_info": info,
			}
			meta := map[string]interface{}{"outcome": in.Outcome}
			next := *cur
			next.VerifiedBy = &actor.ID
			next.VerifierInfo = info
			if in.Outcome == OutcomeApproved {
				up["verified_removals"] = decimal.NewNullDecimal(*in.VerifiedAmount)
				next.VerifiedRemovals = decimal.NewNullDecimal(*in.VerifiedAmount)
				meta["verified_removals"] = in.VerifiedAmount.String()
			} else {
				comments := strings.TrimSpace(in.Comments)
				up["verifier_comments"] = comments
				next.VerifierComments = &comments
			}
			return s.reportOutcome(&next, to, up, meta), nil
		},
	})
	if err != nil {
		return nil, err
	}
	out := &VerifyResult{Result: *res}
	if in.Outcome == OutcomeApproved {
		out.Event = &events.Event{
			Type:       domain.EventMRVVerified,
			DocumentID: id,
			ProjectID:  projectID,
			ActorID:    actor.ID,
			OccurredAt: verifiedAt,
			Payload:    map[string]interface{}{"verified_removals": in.VerifiedAmount.String()},
		}
	}
	return out, nil
}

// checkParent requires an approved project owned by the actor (or an admin).
func checkParent(actor domain.Actor, project *domain.Project) error {
	if !access.IsOwnerOrAdmin(actor, project.ActorID) {
		return domain.NewForbidden(actor.ID, constants.SubmitMRV)
	}
	if project.Status != domain.PDDApproved {
		return domain.NewParentState(project.ID.String(), project.Status)
	}
	return nil
}

// reportOutcome builds the outcome of a status change with extra column updates.
func (s *Service) reportOutcome(cur *domain.MonitoringReport, to domain.MRVStatus, extra, meta map[string]interface{}) *workflow.Outcome {
	next := *cur
	next.Status = to
	if sb, ok := extra["superseded_by"].(uuid.UUID); ok {
		next.SupersededBy = &sb
	}
	return &workflow.Outcome{
		Version:  cur.Version + 1,
		Status:   string(to),
		Snapshot: reportSnapshot(&next),
		Metadata: meta,
		Write: func(tx *gorm.DB, v *domain.DocumentVersion) error {
			up := workflow.VersionColumns(v)
			for k, val := range extra {
				up[k] = val
			}
			up["status"] = to
			return documents.Advance(tx, &domain.MonitoringReport{}, "id", cur.ID, cur.Version, up)
		},
	}
}

// applyMethodology checks the report against its project's methodology and returns the
// net removal estimate in tonnes.
func (s *Service) applyMethodology(ctx context.Context, project *domain.Project, doc *domain.MRVDocument) (decimal.Decimal, error) {
	if doc.Properties.MethodologyID != project.MethodologyID {
		return decimal.Zero, domain.NewMethodologyError(doc.Properties.MethodologyID, project.MethodologyVersion,
			"monitoring report methodology does not match the project methodology "+project.MethodologyID)
	}
	var rules methodology.Rules
	if s.Methodologies != nil {
		res, err := s.Methodologies.Resolve(ctx, project.MethodologyID, project.MethodologyVersion)
		if err != nil {
			return decimal.Zero, err
		}
		if res.Methodology == nil {
			return decimal.Zero, domain.NewMethodologyError(project.MethodologyID, project.MethodologyVersion, res.Reason)
		}
		rules = res.Rules
	}
	engines := s.Engines
	if engines == nil {
		engines = methodology.NewEngines()
	}
	eng := engines.For(project.MethodologyID, project.MethodologyVersion)
	if fields := eng.Validate(doc, rules); len(fields) > 0 {
		e := domain.NewMethodologyError(project.MethodologyID, project.MethodologyVersion, fields[0].Field+": "+fields[0].Message)
		e.Details["fields"] = fields
		return decimal.Zero, e
	}
	net, err := eng.Calculate(doc)
	if err != nil {
		return decimal.Zero, domain.NewMethodologyError(project.MethodologyID, project.MethodologyVersion, err.Error())
	}
	return net, nil
}

// checkPeriod fails with the error built by conflict when [start, end) overlaps another
// report in statuses: OverlapError for submissions, ConflictError for transitions.
func (s *Service) checkPeriod(tx *gorm.DB, projectID uuid.UUID, start, end time.Time, exclude uuid.UUID, statuses []domain.MRVStatus,
	conflict func(ids []string, start, end string) *domain.Error) error {
	ids, err := s.Conflicts.CheckTemporalOverlap(tx.Statement.Context, tx, projectID, start, end, statuses, exclude)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		s.Metrics.IncConflict("temporal")
		return conflict(ids, start.Format(domain.DateLayout), end.Format(domain.DateLayout))
	}
	return nil
}

func (s *Service) reportProject(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var m domain.MonitoringReport
	if err := s.DB.WithContext(ctx).Select("id", "project_id").Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, domain.NewNotFound(domain.KindMRV, id.String())
		}
		return uuid.Nil, err
	}
	return m.ProjectID, nil
}

func loadReport(tx *gorm.DB, id uuid.UUID) (*domain.MonitoringReport, error) {
	var m domain.MonitoringReport
	if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFound(domain.KindMRV, id.String())
		}
		return nil, err
	}
	return &m, nil
}

func newReport(id uuid.UUID, project *domain.Project, actor domain.Actor, doc *domain.MRVDocument, start, end time.Time, net decimal.Decimal) (*domain.MonitoringReport, error) {
	stored := *doc
	stored.ID = id.String()
	stored.LedgerReference = nil
	stored.Properties.ProjectID = project.ID.String()
	stored.Properties.VerificationStatus = ""
	document, err := json.Marshal(stored)
	if err != nil {
		return nil, domain.Wrap(domain.SerializationError, "encode document", err)
	}
	return &domain.MonitoringReport{
		ID:              id,
		ProjectID:       project.ID,
		MethodologyID:   doc.Properties.MethodologyID,
		ActorID:         actor.ID,
		StartDate:       start,
		EndDate:         end,
		Status:          domain.MRVSubmitted,
		Version:         1,
		NetRemovalValue: net,
		NetRemovalUnit:  "tCO2e",
		Document:        datatypes.JSON(document),
	}, nil
}

// reportSnapshot is the hashed form of a report at a version.
func reportSnapshot(m *domain.MonitoringReport) map[string]interface{} {
	feature := map[string]interface{}{}
	_ = json.Unmarshal(m.Document, &feature)
	props, _ := feature["properties"].(map[string]interface{})
	if props == nil {
		props = map[string]interface{}{}
	}
	props["verification_status"] = string(m.Status)
	if m.VerifiedRemovals.Valid {
		props["verified_removals"] = json.Number(m.VerifiedRemovals.Decimal.String())
	}
	if m.VerifiedBy != nil {
		props["verified_by"] = *m.VerifiedBy
	}
	if m.VerifierComments != nil {
		props["verifier_comments"] = *m.VerifierComments
	}
	if len(m.VerifierInfo) > 0 {
		var info interface{}
		if json.Unmarshal(m.VerifierInfo, &info) == nil {
			props["verifier_info"] = info
		}
	}
	if m.SupersededBy != nil {
		props["superseded_by"] = m.SupersededBy.String()
	}
	if m.ResubmittedFrom != nil {
		props["resubmitted_from"] = m.ResubmittedFrom.String()
	}
	feature["properties"] = props
	feature["id"] = m.ID.String()
	return feature
}
