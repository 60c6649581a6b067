// Package issuance mints Carbon Removal Units from verified monitoring reports.
package issuance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ogcr-registry/internal/application/access"
	"ogcr-registry/internal/application/anchoring"
	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/application/events"
	"ogcr-registry/internal/application/workflow"
	"ogcr-registry/internal/constants"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/infrastructure/locks"
	"ogcr-registry/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const defaultMaxTokens = 100000

type Service struct {
	DB      *gorm.DB
	Locks   locks.Locker
	Anchors *anchoring.Service
	Metrics *metrics.Metrics

	BufferRate decimal.Decimal
	UnitSize   decimal.Decimal
	Precision  int32
	// MaxTokens caps the tokens of one batch; 0 means 100000.
	MaxTokens int
	Now       func() time.Time
}

// Batch is the result of one issuance.
type Batch struct {
	workflow.Result
	MRVID            uuid.UUID       `json:"mrv_id"`
	ProjectID        uuid.UUID       `json:"project_id"`
	VintageYear      int             `json:"vintage_year"`
	Owner            string          `json:"owner"`
	VerifiedRemovals decimal.Decimal `json:"verified_removals"`
	BufferAmount     decimal.Decimal `json:"buffer_amount"`
	IssuableAmount   decimal.Decimal `json:"issuable_amount"`
	TokenIDs         []uuid.UUID     `json:"token_ids"`
	FirstSerial      string          `json:"first_serial,omitempty"`
	LastSerial       string          `json:"last_serial,omitempty"`
}

// Register installs the receipt handler of issuance batches: the anchored batch
// activates its minted credits.
func (s *Service) Register() {
	if s.Anchors == nil {
		return
	}
	s.Anchors.OnConfirm(domain.KindIssuance, func(tx *gorm.DB, v *domain.DocumentVersion, ref domain.LedgerReference) error {
		if err := tx.Model(&domain.IssuanceBatch{}).Where("batch_id = ?", v.DocumentID).
			Updates(workflow.ReceiptColumns(ref)).Error; err != nil {
			return err
		}
		up := workflow.ReceiptColumns(ref)
		up["status"] = domain.CreditActive
		return tx.Model(&domain.CarbonRemovalUnit{}).
			Where("batch_id = ? AND status = ?", v.DocumentID, domain.CreditMinted).
			Updates(up).Error
	})
}

// Subscribe forwards MRV verifications to Issue. A repeated event is a no-op.
func (s *Service) Subscribe(d *events.Dispatcher) {
	d.Subscribe(domain.EventMRVVerified, s.Handle)
}

func (s *Service) Handle(ctx context.Context, ev events.Event) error {
	b, err := s.issue(ctx, domain.Actor{ID: ev.ActorID}, ev.DocumentID)
	if domain.IsKind(err, domain.IdempotencyError) {
		log.Info().Str("mrv_id", ev.DocumentID.String()).Msg("issuance already recorded")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().Str("mrv_id", ev.DocumentID.String()).Str("batch_id", b.ID.String()).
		Int("tokens", len(b.TokenIDs)).Msg("issuance triggered by verification")
	return nil
}

// Issue mints the credits of a verified MRV. It succeeds at most once per MRV; later
// calls fail with IdempotencyError and mint nothing.
func (s *Service) Issue(ctx context.Context, actor domain.Actor, mrvID uuid.UUID) (*Batch, error) {
	if err := access.Require(actor, constants.IssueCredits); err != nil {
		return nil, err
	}
	return s.issue(ctx, actor, mrvID)
}

func (s *Service) issue(ctx context.Context, actor domain.Actor, mrvID uuid.UUID) (*Batch, error) {
	var head domain.MonitoringReport
	err := s.DB.WithContext(ctx).Select("id", "project_id").Where("id = ?", mrvID).First(&head).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFound(domain.KindMRV, mrvID.String())
	}
	if err != nil {
		return nil, err
	}
	batchID := uuid.New()
	var out *Batch

	x := &workflow.Executor{DB: s.DB, Locks: s.Locks, Anchors: s.Anchors, Metrics: s.Metrics, Now: s.Now}
	res, err := x.Run(ctx, workflow.Transition{
		Kind:   domain.KindIssuance,
		ID:     batchID,
		Event:  domain.EventCRUMinted,
		Actor:  actor,
		Locks:  []string{locks.DocumentLock(mrvID.String()), locks.SerialLock(head.ProjectID.String())},
		Anchor: true,
		Prepare: func(tx *gorm.DB) (*workflow.Outcome, error) {
			m, err := s.verifiedReport(tx, mrvID)
			if err != nil {
				return nil, err
			}
			var project domain.Project
			if err := tx.Where("id = ?", m.ProjectID).First(&project).Error; err != nil {
				return nil, err
			}
			vintage := m.VintageYear()
			amounts, buffer, issuable, err := s.split(m.VerifiedRemovals.Decimal)
			if err != nil {
				return nil, err
			}
			next, err := nextSerial(tx, m.ProjectID, vintage)
			if err != nil {
				return nil, err
			}
			now := s.now()
			tokens := make([]domain.CarbonRemovalUnit, len(amounts))
			for i, amt := range amounts {
				tokens[i] = domain.CarbonRemovalUnit{
					ProjectID:    m.ProjectID,
					MRVID:        m.ID,
					BatchID:      batchID,
					VintageYear:  vintage,
					CarbonAmount: amt,
					Owner:        project.ActorID,
					Status:       domain.CreditMinted,
					SerialNumber: SerialNumber(m.ProjectID, vintage, next+int64(i)),
					IssuedAt:     now,
					Version:      1,
					AnchorStatus: domain.AnchorPending,
				}
			}
			batch := &domain.IssuanceBatch{
				BatchID:          batchID,
				MRVID:            m.ID,
				ProjectID:        m.ProjectID,
				VintageYear:      vintage,
				VerifiedRemovals: m.VerifiedRemovals.Decimal,
				BufferRate:       s.BufferRate,
				BufferAmount:     buffer,
				IssuableAmount:   issuable,
				TokenCount:       len(tokens),
				Owner:            project.ActorID,
				IssuedAt:         now,
			}
			return &workflow.Outcome{
				Version:  1,
				Status:   "issued",
				Snapshot: batchSnapshot(batch, tokens),
				Metadata: map[string]interface{}{
					"mrv_id":      m.ID.String(),
					"project_id":  m.ProjectID.String(),
					"token_count": len(tokens),
				},
				Write: func(tx *gorm.DB, v *domain.DocumentVersion) error {
					batch.ContentHash = v.ContentHash
					batch.AnchorStatus = v.AnchorStatus
					if err := tx.Create(batch).Error; err != nil {
						if documents.IsDuplicate(err) {
							return alreadyIssued(m.ID)
						}
						return err
					}
					if err := advanceSerial(tx, m.ProjectID, vintage, next, len(tokens)); err != nil {
						return err
					}
					for i := range tokens {
						tokens[i].TokenID = uuid.New()
					}
					if len(tokens) > 0 {
						if err := tx.CreateInBatches(tokens, 500).Error; err != nil {
							return err
						}
					}
					owner := project.ActorID
					projectID := m.ProjectID
					if err := tx.Create(&domain.CreditTransaction{
						Type:       domain.TxIssue,
						ProjectID:  &projectID,
						ToOwner:    &owner,
						TokenCount: len(tokens),
						Amount:     issuable,
					}).Error; err != nil {
						return err
					}
					out = newBatch(batch, tokens)
					return nil
				},
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	out.Result = *res
	s.Metrics.AddIssued(len(out.TokenIDs))
	log.Info().Str("mrv_id", mrvID.String()).Str("batch_id", batchID.String()).
		Int("tokens", len(out.TokenIDs)).Str("issuable", out.IssuableAmount.String()).
		Str("buffer", out.BufferAmount.String()).Msg("credits issued")
	return out, nil
}

func (s *Service) verifiedReport(tx *gorm.DB, id uuid.UUID) (*domain.MonitoringReport, error) {
	var m domain.MonitoringReport
	err := tx.Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFound(domain.KindMRV, id.String())
	}
	if err != nil {
		return nil, err
	}
	var n int64
	if err := tx.Model(&domain.IssuanceBatch{}).Where("mrv_id = ?", id).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, alreadyIssued(id)
	}
	// An archived report was verified before it was superseded and may still be issued.
	if m.Status != domain.MRVVerified && m.Status != domain.MRVArchived {
		return nil, domain.NewError(domain.InvalidTransitionError, "only verified reports can be issued", map[string]interface{}{
			"kind":   string(domain.KindMRV),
			"from":   string(m.Status),
			"action": "issue",
		})
	}
	if !m.VerifiedRemovals.Valid {
		return nil, domain.NewError(domain.InvalidTransitionError, "report has no verified removals", map[string]interface{}{
			"mrv_id": id.String(),
		})
	}
	return &m, nil
}

func alreadyIssued(mrvID uuid.UUID) error {
	return domain.NewError(domain.IdempotencyError, "credits were already issued for this report", map[string]interface{}{
		"mrv_id": mrvID.String(),
		"minted": 0,
	})
}

// split deducts the buffer and cuts the issuable amount into unit-sized tokens plus a
// fractional remainder token. The issuable amount is rounded down to Precision places,
// so the tokens never exceed verified*(1-bufferRate).
func (s *Service) split(verified decimal.Decimal) ([]decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	issuable := verified.Mul(decimal.NewFromInt(1).Sub(s.BufferRate)).RoundFloor(s.Precision)
	if issuable.IsNegative() {
		issuable = decimal.Zero
	}
	buffer := verified.Sub(issuable)
	unit := s.UnitSize
	if !unit.IsPositive() {
		unit = decimal.NewFromInt(1)
	}
	whole := issuable.Div(unit).Floor()
	remainder := issuable.Sub(whole.Mul(unit))
	n := whole.IntPart()
	count := n
	if remainder.IsPositive() {
		count++
	}
	max := int64(s.MaxTokens)
	if max <= 0 {
		max = defaultMaxTokens
	}
	if count > max {
		return nil, decimal.Zero, decimal.Zero, domain.NewError(domain.SchemaError, "issuance would exceed the per-batch token limit", map[string]interface{}{
			"tokens":    count,
			"max":       max,
			"unit_size": unit.String(),
		})
	}
	amounts := make([]decimal.Decimal, 0, count)
	for i := int64(0); i < n; i++ {
		amounts = append(amounts, unit)
	}
	if remainder.IsPositive() {
		amounts = append(amounts, remainder)
	}
	return amounts, buffer, issuable, nil
}

// SerialNumber is OGCR-<first 8 of project id>-<vintage>-<8 digit sequence>.
func SerialNumber(projectID uuid.UUID, vintage int, seq int64) string {
	return fmt.Sprintf("OGCR-%s-%d-%08d", strings.ToUpper(projectID.String()[:8]), vintage, seq)
}

func nextSerial(tx *gorm.DB, projectID uuid.UUID, vintage int) (int64, error) {
	var c domain.SerialCounter
	err := tx.Where("project_id = ? AND vintage_year = ?", projectID, vintage).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return c.Next, nil
}

func advanceSerial(tx *gorm.DB, projectID uuid.UUID, vintage int, from int64, n int) error {
	if from == 1 {
		return tx.Create(&domain.SerialCounter{ProjectID: projectID, VintageYear: vintage, Next: from + int64(n)}).Error
	}
	res := tx.Model(&domain.SerialCounter{}).
		Where("project_id = ? AND vintage_year = ? AND next = ?", projectID, vintage, from).
		Update("next", from+int64(n))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return documents.ErrStale
	}
	return nil
}

func batchSnapshot(b *domain.IssuanceBatch, tokens []domain.CarbonRemovalUnit) map[string]interface{} {
	list := make([]interface{}, len(tokens))
	for i, t := range tokens {
		list[i] = map[string]interface{}{
			"serial_number": t.SerialNumber,
			"carbon_amount": json.Number(t.CarbonAmount.String()),
		}
	}
	return map[string]interface{}{
		"batch_id":          b.BatchID.String(),
		"mrv_id":            b.MRVID.String(),
		"project_id":        b.ProjectID.String(),
		"vintage_year":      b.VintageYear,
		"owner":             b.Owner,
		"verified_removals": json.Number(b.VerifiedRemovals.String()),
		"buffer_rate":       json.Number(b.BufferRate.String()),
		"buffer_amount":     json.Number(b.BufferAmount.String()),
		"issuable_amount":   json.Number(b.IssuableAmount.String()),
		"tokens":            list,
	}
}

func newBatch(b *domain.IssuanceBatch, tokens []domain.CarbonRemovalUnit) *Batch {
	out := &Batch{
		MRVID:            b.MRVID,
		ProjectID:        b.ProjectID,
		VintageYear:      b.VintageYear,
		Owner:            b.Owner,
		VerifiedRemovals: b.VerifiedRemovals,
		BufferAmount:     b.BufferAmount,
		IssuableAmount:   b.IssuableAmount,
		TokenIDs:         make([]uuid.UUID, len(tokens)),
	}
	for i := range tokens {
		out.TokenIDs[i] = tokens[i].TokenID
	}
	if len(tokens) > 0 {
		out.FirstSerial = tokens[0].SerialNumber
		out.LastSerial = tokens[len(tokens)-1].SerialNumber
	}
	return out
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// BatchFor returns the issuance batch of a report.
func (s *Service) BatchFor(ctx context.Context, mrvID uuid.UUID) (*domain.IssuanceBatch, error) {
	var b domain.IssuanceBatch
	err := s.DB.WithContext(ctx).Where("mrv_id = ?", mrvID).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFound(domain.KindIssuance, mrvID.String())
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
