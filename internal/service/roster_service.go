package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/internal/repository"
	"github.com/noah-isme/scan-attendance/pkg/database"
	appErrors "github.com/noah-isme/scan-attendance/pkg/errors"
)

const maxGenerateAttempts = 10

type rosterRepository interface {
	Transact(ctx context.Context, fn func(store repository.StudentStore) error) error
	Get(ctx context.Context, id string) (*models.Student, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	ListActive(ctx context.Context) ([]models.Student, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Student, error)
}

// RosterService owns student records: create, edit, deactivate and the
// explicit scan code reissue.
type RosterService struct {
	repo       rosterRepository
	clock      *SessionClock
	codeLength int
	cache      *CacheService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewRosterService constructs the roster service.
func NewRosterService(repo rosterRepository, clock *SessionClock, codeLength int, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *RosterService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = FixedSessionClock(nil, nil)
	}
	return &RosterService{repo: repo, clock: clock, codeLength: codeLength, cache: cache, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *RosterService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, wrapStorage(err, "failed to list students")
	}
	page, size := normalizePage(filter.Page, filter.PageSize, 50)
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one student, active or not.
func (s *RosterService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, wrapStorage(err, "failed to load student")
	}
	return student, nil
}

// Upsert inserts the student when StudentID is empty or unknown and updates
// its mutable fields otherwise. It fails with DuplicateCode when the scan
// code is active on a different student.
func (s *RosterService) Upsert(ctx context.Context, req models.UpsertStudentRequest) (*models.Student, bool, error) {
	req.StudentID = strings.TrimSpace(req.StudentID)
	req.ScanCode = normalizeCode(req.ScanCode)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.TrimSpace(req.Email)
	if req.ExternalID != nil {
		ext := strings.TrimSpace(*req.ExternalID)
		req.ExternalID = &ext
		if ext == "" {
			req.ExternalID = nil
		}
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, false, validationError(err, "invalid student payload")
	}

	var (
		result  *models.Student
		created bool
	)
	err := s.repo.Transact(ctx, func(store repository.StudentStore) error {
		var existing *models.Student
		if req.StudentID != "" {
			found, err := store.Get(ctx, req.StudentID)
			switch {
			case err == nil:
				existing = found
			case !errors.Is(err, sql.ErrNoRows):
				return wrapStorage(err, "failed to load student")
			}
		}

		if err := s.ensureExternalIDFree(ctx, store, req.ExternalID, req.StudentID); err != nil {
			return err
		}

		if existing == nil {
			student, err := s.insert(ctx, store, req)
			if err != nil {
				return err
			}
			result, created = student, true
			return nil
		}

		if req.ScanCode != "" && req.ScanCode != existing.ScanCode {
			if err := ensureCodeFree(ctx, store, req.ScanCode, existing.ID); err != nil {
				return err
			}
			existing.ScanCode = req.ScanCode
		}
		existing.ExternalID = req.ExternalID
		existing.FirstName = req.FirstName
		existing.LastName = req.LastName
		existing.GradYear = req.GradYear
		existing.Email = req.Email
		if err := store.Update(ctx, existing); err != nil {
			return mapRosterWriteError(err, "failed to update student")
		}
		result = existing
		return nil
	})
	if err != nil {
		return nil, false, passThrough(err, "failed to save student")
	}

	s.cache.Bump(ctx)
	s.logger.Info("student saved", zap.String("student_id", result.ID), zap.Bool("created", created))
	return result, created, nil
}

func (s *RosterService) insert(ctx context.Context, store repository.StudentStore, req models.UpsertStudentRequest) (*models.Student, error) {
	id := req.StudentID
	if id == "" {
		generated, err := uniqueStudentID(ctx, store, req.FirstName, req.LastName, req.GradYear)
		if err != nil {
			return nil, err
		}
		id = generated
	}

	code := req.ScanCode
	if code == "" {
		fresh, err := freshScanCode(ctx, store, s.codeLength)
		if err != nil {
			return nil, err
		}
		code = fresh
	} else if err := ensureCodeFree(ctx, store, code, id); err != nil {
		return nil, err
	}

	student := &models.Student{
		ID:         id,
		ExternalID: req.ExternalID,
		ScanCode:   code,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		GradYear:   req.GradYear,
		Email:      req.Email,
		CreatedAt:  s.clock.Now().UTC(),
	}
	if err := store.Insert(ctx, student); err != nil {
		return nil, mapRosterWriteError(err, "failed to create student")
	}
	return student, nil
}

func (s *RosterService) ensureExternalIDFree(ctx context.Context, store repository.StudentStore, externalID *string, ownerID string) error {
	if externalID == nil {
		return nil
	}
	holder, err := store.FindActiveByExternalID(ctx, *externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return wrapStorage(err, "failed to check external id")
	}
	if holder.ID != ownerID {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("external id already used by %s", holder.ID))
	}
	return nil
}

// Deactivate marks the student inactive. Ledger rows are left alone.
func (s *RosterService) Deactivate(ctx context.Context, id string) (*models.Student, error) {
	var student *models.Student
	err := s.repo.Transact(ctx, func(store repository.StudentStore) error {
		if err := store.Deactivate(ctx, id, s.clock.Now()); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return wrapStorage(err, "failed to deactivate student")
		}
		got, err := store.Get(ctx, id)
		if err != nil {
			return wrapStorage(err, "failed to load student")
		}
		student = got
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "failed to deactivate student")
	}
	s.cache.Bump(ctx)
	s.logger.Info("student deactivated", zap.String("student_id", id))
	return student, nil
}

// ReissueCode assigns a fresh random code, retiring the previous one in the
// same transaction.
func (s *RosterService) ReissueCode(ctx context.Context, id string) (*models.Student, error) {
	var student *models.Student
	err := s.repo.Transact(ctx, func(store repository.StudentStore) error {
		current, err := store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return wrapStorage(err, "failed to load student")
		}
		if !current.Active {
			return appErrors.Clone(appErrors.ErrValidation, "cannot reissue a code for an inactive student")
		}
		code, err := freshScanCode(ctx, store, s.codeLength)
		if err != nil {
			return err
		}
		current.ScanCode = code
		if err := store.Update(ctx, current); err != nil {
			return mapRosterWriteError(err, "failed to reissue code")
		}
		student = current
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "failed to reissue code")
	}
	s.cache.Bump(ctx)
	s.logger.Info("scan code reissued", zap.String("student_id", id))
	return student, nil
}

// ExportCodes lists name, email and code for the requested students, or for
// every active student when ids is empty. Inactive students are skipped
// since their codes no longer resolve.
func (s *RosterService) ExportCodes(ctx context.Context, ids []string) ([]models.ScanCodeEntry, error) {
	var (
		students []models.Student
		err      error
	)
	if len(ids) == 0 {
		students, err = s.repo.ListActive(ctx)
	} else {
		students, err = s.repo.ListByIDs(ctx, dedupeStrings(ids))
	}
	if err != nil {
		return nil, wrapStorage(err, "failed to load students")
	}

	if len(ids) > 0 {
		found := make(map[string]struct{}, len(students))
		for _, st := range students {
			found[st.ID] = struct{}{}
		}
		var missing []string
		for _, id := range dedupeStrings(ids) {
			if _, ok := found[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return nil, appErrors.Clone(appErrors.ErrNotFound, "unknown students: "+strings.Join(missing, ", "))
		}
	}

	entries := make([]models.ScanCodeEntry, 0, len(students))
	for _, st := range students {
		if !st.Active {
			continue
		}
		entries = append(entries, models.ScanCodeEntry{
			StudentID: st.ID,
			Name:      st.FullName(),
			Email:     st.Email,
			ScanCode:  st.ScanCode,
		})
	}
	return entries, nil
}

func ensureCodeFree(ctx context.Context, store repository.StudentStore, code, ownerID string) error {
	holder, err := store.FindByScanCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return wrapStorage(err, "failed to check scan code")
	}
	if holder.ID != ownerID {
		return appErrors.Clone(appErrors.ErrDuplicateCode, fmt.Sprintf("scan code already assigned to %s", holder.ID))
	}
	return nil
}

func freshScanCode(ctx context.Context, store repository.StudentStore, length int) (string, error) {
	for i := 0; i < maxGenerateAttempts; i++ {
		code, err := GenerateScanCode(length)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate scan code")
		}
		if _, err := store.FindByScanCode(ctx, code); errors.Is(err, sql.ErrNoRows) {
			return code, nil
		} else if err != nil {
			return "", wrapStorage(err, "failed to check scan code")
		}
	}
	return "", appErrors.Clone(appErrors.ErrInternal, "could not generate an unused scan code")
}

func uniqueStudentID(ctx context.Context, store repository.StudentStore, first, last string, gradYear int) (string, error) {
	for i := 0; i < maxGenerateAttempts; i++ {
		id, err := GenerateStudentID(first, last, gradYear)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate student id")
		}
		if _, err := store.Get(ctx, id); errors.Is(err, sql.ErrNoRows) {
			return id, nil
		} else if err != nil {
			return "", wrapStorage(err, "failed to check student id")
		}
	}
	return "", appErrors.Clone(appErrors.ErrConflict, "could not generate an unused student id")
}

// mapRosterWriteError turns a uniqueness failure that slipped past the
// pre-checks (a concurrent writer) into the matching domain error.
func mapRosterWriteError(err error, message string) error {
	switch {
	case database.IsUniqueOn(err, "scan_code"):
		return appErrors.WrapAs(err, appErrors.ErrDuplicateCode, "")
	case database.IsUniqueOn(err, "external_id"):
		return appErrors.WrapAs(err, appErrors.ErrConflict, "external id already used by an active student")
	case errors.Is(err, appErrors.ErrConstraintViolation):
		return appErrors.WrapAs(err, appErrors.ErrConflict, "student id already exists")
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	return wrapStorage(err, message)
}

// passThrough returns domain errors raised inside a transaction unchanged.
func passThrough(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return wrapStorage(err, message)
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
