package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/internal/repository"
	appErrors "github.com/noah-isme/scan-attendance/pkg/errors"
)

type reconcileRepository interface {
	Transact(ctx context.Context, fn func(store repository.StudentStore) error) error
}

// ReconcileService merges an external roster snapshot into the store.
type ReconcileService struct {
	repo       reconcileRepository
	clock      *SessionClock
	codeLength int
	cache      *CacheService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewReconcileService constructs the reconciler.
func NewReconcileService(repo reconcileRepository, clock *SessionClock, codeLength int, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ReconcileService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = FixedSessionClock(nil, nil)
	}
	return &ReconcileService{repo: repo, clock: clock, codeLength: codeLength, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

type snapshotEntry struct {
	key string
	row models.RosterSnapshotRow
}

// Reconcile applies the snapshot in one transaction. Rows are matched to
// active students by external id, or by lower-cased email when the row has
// no external id. Active students lacking an external id are also matched
// by email and adopt the row's external id. Unmatched rows are added,
// matched rows have name, grad year and email updated, and active students
// missing from the snapshot are deactivated. Scan codes of existing
// students are never changed.
func (s *ReconcileService) Reconcile(ctx context.Context, snapshot models.RosterSnapshot) (*models.DiffReport, error) {
	entries, err := s.prepare(snapshot)
	if err != nil {
		return nil, err
	}

	diff := &models.DiffReport{Added: []models.Student{}, Updated: []models.Student{}, Deactivated: []models.Student{}}
	err = s.repo.Transact(ctx, func(store repository.StudentStore) error {
		active, err := store.ListActive(ctx)
		if err != nil {
			return wrapStorage(err, "failed to load roster")
		}

		byExternal := make(map[string]*models.Student)
		byEmail := make(map[string]*models.Student)
		for i := range active {
			st := &active[i]
			if st.ExternalID != nil && *st.ExternalID != "" {
				byExternal[*st.ExternalID] = st
				continue
			}
			if email := strings.ToLower(strings.TrimSpace(st.Email)); email != "" {
				byEmail[email] = st
			}
		}

		matched := make(map[string]*models.Student, len(entries))
		var pending []snapshotEntry
		for _, e := range entries {
			st := byExternal[e.row.ExternalID]
			email := strings.ToLower(e.row.Email)
			if st == nil && email != "" {
				st = byEmail[email]
				if st != nil {
					delete(byEmail, email)
				}
			}
			if st == nil {
				pending = append(pending, e)
				continue
			}
			if _, dup := matched[st.ID]; dup {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("snapshot rows %q and another row both match student %s", e.key, st.ID))
			}
			matched[st.ID] = st
			if changed := applySnapshotRow(st, e.row); changed {
				if err := store.Update(ctx, st); err != nil {
					return mapRosterWriteError(err, "failed to update student")
				}
				diff.Updated = append(diff.Updated, *st)
			}
		}

		// Deactivate first so codes held by departing students are free for
		// the rows added below.
		now := s.clock.Now()
		for i := range active {
			st := active[i]
			if _, ok := matched[st.ID]; ok {
				continue
			}
			if err := store.Deactivate(ctx, st.ID, now); err != nil {
				return wrapStorage(err, "failed to deactivate student")
			}
			at := now.UTC()
			st.Active = false
			st.DeactivatedAt = &at
			diff.Deactivated = append(diff.Deactivated, st)
		}

		for _, e := range pending {
			student, replaced, err := s.add(ctx, store, e.row)
			if err != nil {
				return err
			}
			if replaced != nil {
				diff.ReplacedCodes = append(diff.ReplacedCodes, *replaced)
			}
			diff.Added = append(diff.Added, *student)
		}
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "failed to reconcile roster")
	}

	if !diff.Empty() {
		s.cache.Bump(ctx)
	}
	s.metrics.RecordReconcile(*diff)
	s.logger.Info("roster reconciled",
		zap.Int("rows", len(entries)),
		zap.Int("added", len(diff.Added)),
		zap.Int("updated", len(diff.Updated)),
		zap.Int("deactivated", len(diff.Deactivated)),
		zap.Int("codes_replaced", len(diff.ReplacedCodes)))
	return diff, nil
}

func (s *ReconcileService) prepare(snapshot models.RosterSnapshot) ([]snapshotEntry, error) {
	entries := make([]snapshotEntry, 0, len(snapshot.Rows))
	seen := make(map[string]int, len(snapshot.Rows))
	for i, row := range snapshot.Rows {
		row.ExternalID = strings.TrimSpace(row.ExternalID)
		row.Email = strings.TrimSpace(row.Email)
		row.FirstName = strings.TrimSpace(row.FirstName)
		row.LastName = strings.TrimSpace(row.LastName)
		row.ScanCode = normalizeCode(row.ScanCode)
		if err := s.validator.Struct(row); err != nil {
			return nil, validationError(err, fmt.Sprintf("invalid roster row %d", i+1))
		}
		key := row.ExternalID
		if key == "" {
			key = strings.ToLower(row.Email)
		}
		if prev, dup := seen[key]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("roster rows %d and %d share key %q", prev+1, i+1, key))
		}
		seen[key] = i
		entries = append(entries, snapshotEntry{key: key, row: row})
	}
	return entries, nil
}

func (s *ReconcileService) add(ctx context.Context, store repository.StudentStore, row models.RosterSnapshotRow) (*models.Student, *models.CodeReplacement, error) {
	id, err := uniqueStudentID(ctx, store, row.FirstName, row.LastName, row.GradYear)
	if err != nil {
		return nil, nil, err
	}

	var replaced *models.CodeReplacement
	code := row.ScanCode
	if code != "" {
		if err := ensureCodeFree(ctx, store, code, id); err != nil {
			if !errors.Is(err, appErrors.ErrDuplicateCode) {
				return nil, nil, err
			}
			code = ""
		}
	}
	if code == "" {
		fresh, err := freshScanCode(ctx, store, s.codeLength)
		if err != nil {
			return nil, nil, err
		}
		if row.ScanCode != "" {
			replaced = &models.CodeReplacement{StudentID: id, RequestedCode: row.ScanCode, AssignedCode: fresh}
		}
		code = fresh
	}

	student := &models.Student{
		ID:        id,
		ScanCode:  code,
		FirstName: row.FirstName,
		LastName:  row.LastName,
		GradYear:  row.GradYear,
		Email:     row.Email,
		CreatedAt: s.clock.Now().UTC(),
	}
	if row.ExternalID != "" {
		ext := row.ExternalID
		student.ExternalID = &ext
	}
	if err := store.Insert(ctx, student); err != nil {
		return nil, nil, mapRosterWriteError(err, "failed to add student")
	}
	return student, replaced, nil
}

// applySnapshotRow copies the syncable fields onto st and reports whether
// anything changed.
func applySnapshotRow(st *models.Student, row models.RosterSnapshotRow) bool {
	changed := false
	if row.ExternalID != "" && (st.ExternalID == nil || *st.ExternalID != row.ExternalID) {
		ext := row.ExternalID
		st.ExternalID = &ext
		changed = true
	}
	if st.FirstName != row.FirstName {
		st.FirstName = row.FirstName
		changed = true
	}
	if st.LastName != row.LastName {
		st.LastName = row.LastName
		changed = true
	}
	if st.GradYear != row.GradYear {
		st.GradYear = row.GradYear
		changed = true
	}
	if st.Email != row.Email {
		st.Email = row.Email
		changed = true
	}
	return changed
}
